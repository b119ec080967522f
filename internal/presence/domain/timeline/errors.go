package timeline

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrContractViolation marks input that breaks the event table contract.
	ErrContractViolation = errors.New("timeline: contract violation")
	// ErrInvariantViolation marks a computed value outside its allowed range.
	ErrInvariantViolation = errors.New("timeline: invariant violation")
	// ErrInvalidHour is returned when a configured hour is outside 0-23.
	ErrInvalidHour = errors.New("timeline: invalid hour")
	// ErrDuplicateDate is returned when a date is configured twice.
	ErrDuplicateDate = errors.New("timeline: duplicate date")
	// ErrDuplicateHour is returned when an hour is configured twice.
	ErrDuplicateHour = errors.New("timeline: duplicate hour")
	// ErrNoDates is returned when the engine is configured without dates.
	ErrNoDates = errors.New("timeline: no dates configured")
	// ErrNoHours is returned when the engine is configured without hours.
	ErrNoHours = errors.New("timeline: no hours configured")
)

// Rule names reported by ContractError and InvariantError.
const (
	RuleRawStatus      = "raw_status"
	RuleEventPresence  = "event_presence"
	RuleEventInBucket  = "event_in_bucket"
	RuleDuplicateEvent = "duplicate_event"
	RuleRowOrder       = "row_order"
	RuleDescriptorTime = "descriptor_time"
	RuleEmptyBucket    = "empty_bucket"
	RuleSecondsRange   = "seconds_range"
)

// ContractError reports an input row that violates the event table contract.
type ContractError struct {
	ProviderID string
	Date       time.Time
	Hour       int
	Rule       string
	Detail     string
}

func (e *ContractError) Error() string {
	return fmt.Sprintf("timeline: contract violation: provider=%s date=%s hour=%d rule=%s: %s",
		e.ProviderID, formatDate(e.Date), e.Hour, e.Rule, e.Detail)
}

// Unwrap lets callers match ErrContractViolation.
func (e *ContractError) Unwrap() error { return ErrContractViolation }

// InvariantError reports a bucket whose computed aggregate is impossible.
type InvariantError struct {
	ProviderID string
	Date       time.Time
	Hour       int
	Rule       string
	Detail     string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("timeline: invariant violation: provider=%s date=%s hour=%d rule=%s: %s",
		e.ProviderID, formatDate(e.Date), e.Hour, e.Rule, e.Detail)
}

// Unwrap lets callers match ErrInvariantViolation.
func (e *InvariantError) Unwrap() error { return ErrInvariantViolation }

func contractErr(key BucketKey, rule, format string, args ...any) error {
	return &ContractError{
		ProviderID: key.ProviderID,
		Date:       key.Date,
		Hour:       key.Hour,
		Rule:       rule,
		Detail:     fmt.Sprintf(format, args...),
	}
}

func invariantErr(key BucketKey, rule, format string, args ...any) error {
	return &InvariantError{
		ProviderID: key.ProviderID,
		Date:       key.Date,
		Hour:       key.Hour,
		Rule:       rule,
		Detail:     fmt.Sprintf(format, args...),
	}
}
