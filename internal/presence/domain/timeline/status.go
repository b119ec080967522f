package timeline

import "fmt"

// Status is the resolved per-event label supplied by the loader.
// StatusAbsent marks grid rows synthesized without a source event.
type Status string

const (
	StatusAbsent  Status = ""
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// ParseStatus converts a loader label into a Status. The empty string maps to
// StatusAbsent.
func ParseStatus(value string) (Status, error) {
	switch Status(value) {
	case StatusAbsent, StatusOnline, StatusOffline:
		return Status(value), nil
	default:
		return "", fmt.Errorf("%w: unknown status %q", ErrContractViolation, value)
	}
}

// IsValid reports whether s is one of the three known values.
func (s Status) IsValid() bool {
	switch s {
	case StatusAbsent, StatusOnline, StatusOffline:
		return true
	default:
		return false
	}
}

func (s Status) String() string {
	if s == StatusAbsent {
		return "absent"
	}
	return string(s)
}

// State is the value held by the resolver's register.
type State uint8

const (
	StateOffline State = iota
	StateOnline
)

func (s State) String() string {
	if s == StateOnline {
		return "online"
	}
	return "offline"
}

// Label describes a row's state after its event. The two transition labels
// mark a state change inside the row.
type Label uint8

const (
	LabelOffline Label = iota
	LabelOnline
	LabelOfflineOnline
	LabelOnlineOffline
)

func (l Label) String() string {
	switch l {
	case LabelOffline:
		return "offline"
	case LabelOnline:
		return "online"
	case LabelOfflineOnline:
		return "offline_online"
	case LabelOnlineOffline:
		return "online_offline"
	default:
		return fmt.Sprintf("label(%d)", uint8(l))
	}
}

// OnlineBefore reports whether the provider was online just before the row's
// event instant.
func (l Label) OnlineBefore() bool {
	return l == LabelOnline || l == LabelOnlineOffline
}

// OnlineAfter reports whether the provider is online from the row's event
// instant onwards.
func (l Label) OnlineAfter() bool {
	return l == LabelOnline || l == LabelOfflineOnline
}

// steady returns the steady label for a register value.
func steady(s State) Label {
	if s == StateOnline {
		return LabelOnline
	}
	return LabelOffline
}
