package timeline

import (
	"errors"
	"testing"
	"time"
)

var testDay = time.Date(2017, time.September, 1, 0, 0, 0, 0, time.UTC)

func key(hour int) BucketKey {
	return BucketKey{ProviderID: "p-1", Date: testDay, Hour: hour}
}

func eventRow(hour, minute int, status Status) Row {
	return Row{Key: key(hour), At: testDay.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute), Status: status}
}

func absentRow(hour int) Row {
	return Row{Key: key(hour), Status: StatusAbsent}
}

func TestStep_StateMachine(t *testing.T) {
	cases := []struct {
		name      string
		reg       State
		row       Row
		wantReg   State
		wantLabel Label
	}{
		{"absent keeps offline", StateOffline, absentRow(5), StateOffline, LabelOffline},
		{"absent keeps online", StateOnline, absentRow(5), StateOnline, LabelOnline},
		{"online while online", StateOnline, eventRow(5, 1, StatusOnline), StateOnline, LabelOnline},
		{"offline while offline", StateOffline, eventRow(5, 1, StatusOffline), StateOffline, LabelOffline},
		{"comes online", StateOffline, eventRow(5, 1, StatusOnline), StateOnline, LabelOfflineOnline},
		{"goes offline", StateOnline, eventRow(5, 1, StatusOffline), StateOffline, LabelOnlineOffline},
		{"hour zero resets carried online", StateOnline, absentRow(0), StateOffline, LabelOffline},
		{"hour zero reset then online", StateOnline, eventRow(0, 30, StatusOnline), StateOnline, LabelOfflineOnline},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			reg, label, err := Step(tc.reg, tc.row)
			if err != nil {
				t.Fatalf("step: %v", err)
			}
			if reg != tc.wantReg || label != tc.wantLabel {
				t.Fatalf("expected %s/%s, got %s/%s", tc.wantReg, tc.wantLabel, reg, label)
			}
		})
	}
}

func TestStep_MalformedStatus(t *testing.T) {
	row := eventRow(7, 0, Status("maybe"))
	_, _, err := Step(StateOffline, row)
	var contract *ContractError
	if !errors.As(err, &contract) {
		t.Fatalf("expected contract error, got %v", err)
	}
	if contract.Rule != RuleRawStatus || contract.Hour != 7 || contract.ProviderID != "p-1" {
		t.Fatalf("unexpected contract error: %+v", contract)
	}
	if !errors.Is(err, ErrContractViolation) {
		t.Fatalf("expected ErrContractViolation")
	}
}

func TestStep_StatusWithoutTimestamp(t *testing.T) {
	row := Row{Key: key(3), Status: StatusOnline}
	if _, _, err := Step(StateOffline, row); !errors.Is(err, ErrContractViolation) {
		t.Fatalf("expected contract violation, got %v", err)
	}
}

func TestResolveProvider_ResetsAtNewDate(t *testing.T) {
	next := testDay.AddDate(0, 0, 1)
	rows := []Row{
		eventRow(22, 0, StatusOnline),
		absentRow(23),
		{Key: BucketKey{ProviderID: "p-1", Date: next, Hour: 5}, Status: StatusAbsent},
	}
	labeled, err := ResolveProvider(rows)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	want := []Label{LabelOfflineOnline, LabelOnline, LabelOffline}
	for i, l := range want {
		if labeled[i].Label != l {
			t.Fatalf("row %d: expected %s, got %s", i, l, labeled[i].Label)
		}
	}
}

func TestResolveProvider_RejectsOutOfOrderRows(t *testing.T) {
	rows := []Row{absentRow(5), absentRow(4)}
	_, err := ResolveProvider(rows)
	var contract *ContractError
	if !errors.As(err, &contract) || contract.Rule != RuleRowOrder {
		t.Fatalf("expected row order violation, got %v", err)
	}
}

func TestResolveProvider_NeverFlipsWithoutOpposingStatus(t *testing.T) {
	rows := []Row{
		absentRow(0),
		eventRow(1, 10, StatusOffline),
		absentRow(2),
		eventRow(3, 5, StatusOnline),
		eventRow(3, 6, StatusOnline),
		absentRow(4),
		eventRow(5, 0, StatusOffline),
		absentRow(6),
	}
	labeled, err := ResolveProvider(rows)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	carried := StateOffline
	for i, lr := range labeled {
		if lr.Label.OnlineAfter() || lr.Label == LabelOnlineOffline {
			if lr.Status != StatusOnline && carried != StateOnline {
				t.Fatalf("row %d labeled %s without online status or carried online", i, lr.Label)
			}
		}
		if lr.Label.OnlineAfter() {
			carried = StateOnline
		} else {
			carried = StateOffline
		}
	}
}
