package timeline

import (
	"errors"
	"testing"
	"time"
)

func TestBuildGrid_Completeness(t *testing.T) {
	dates := []time.Time{testDay.AddDate(0, 0, 1), testDay}
	events := []Event{
		newEvent("p-2", at(4, 0, 0), StatusOnline),
		newEvent("p-1", at(4, 30, 0), StatusOffline),
		newEvent("p-1", at(4, 10, 0), StatusOnline),
	}
	grid, err := BuildGrid(events, dates, AllHours())
	if err != nil {
		t.Fatalf("build grid: %v", err)
	}
	if grid.Len() != 2*2*24 {
		t.Fatalf("expected 96 cells, got %d", grid.Len())
	}
	if grid.Providers[0] != "p-1" || !grid.Dates[0].Equal(testDay) {
		t.Fatalf("expected sorted providers and dates, got %v %v", grid.Providers, grid.Dates)
	}

	seen := make(map[string]int)
	for _, cell := range grid.Cells() {
		seen[cell.Key.ProviderID+cell.Key.Date.Format(dateLayout)+string(rune('a'+cell.Key.Hour))]++
	}
	for k, n := range seen {
		if n != 1 {
			t.Fatalf("cell %q appears %d times", k, n)
		}
	}

	cell := grid.ProviderCells(0)[4]
	if len(cell.Events) != 2 || !cell.Events[0].At.Equal(at(4, 10, 0)) {
		t.Fatalf("expected events ordered by time, got %+v", cell.Events)
	}

	rows := grid.ProviderRows(0)
	if len(rows) != 2*24+1 {
		t.Fatalf("expected 49 rows for p-1, got %d", len(rows))
	}
}

func TestBuildGrid_ContractViolations(t *testing.T) {
	dup := newEvent("p-1", at(3, 0, 0), StatusOnline)
	cases := []struct {
		name   string
		events []Event
		rule   string
	}{
		{"absent status in input", []Event{{ProviderID: "p-1", At: at(1, 0, 0), Date: testDay, Hour: 1, Status: StatusAbsent}}, RuleRawStatus},
		{"unknown status", []Event{{ProviderID: "p-1", At: at(1, 0, 0), Date: testDay, Hour: 1, Status: "ONLINE"}}, RuleRawStatus},
		{"missing time", []Event{{ProviderID: "p-1", Date: testDay, Hour: 1, Status: StatusOnline}}, RuleEventPresence},
		{"wrong date", []Event{{ProviderID: "p-1", At: at(1, 0, 0), Date: testDay.AddDate(0, 0, 1), Hour: 1, Status: StatusOnline}}, RuleEventInBucket},
		{"duplicate", []Event{dup, dup}, RuleDuplicateEvent},
		{"offset clock", []Event{newEvent("p-1", time.Date(2017, time.September, 1, 10, 15, 0, 0, time.FixedZone("IST", 19800)), StatusOnline)}, RuleEventInBucket},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := BuildGrid(tc.events, []time.Time{testDay}, AllHours())
			var contract *ContractError
			if !errors.As(err, &contract) {
				t.Fatalf("expected contract error, got %v", err)
			}
			if contract.Rule != tc.rule {
				t.Fatalf("expected rule %s, got %s", tc.rule, contract.Rule)
			}
		})
	}
}

func TestDateRange(t *testing.T) {
	got := DateRange(testDay.Add(5*time.Hour), testDay.AddDate(0, 0, 2))
	if len(got) != 3 || !got[0].Equal(testDay) {
		t.Fatalf("unexpected range %v", got)
	}
}
