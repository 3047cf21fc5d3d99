package routing

import (
	"errors"
	"fmt"
)

// Route errors. Duplicate is not an error; see OutcomeDuplicate.
var (
	// ErrInvalidPriority is returned before any side effect for an unrecognized priority.
	ErrInvalidPriority = errors.New("invalid priority")

	// ErrPreferenceNotFound means the contact has no preference record.
	ErrPreferenceNotFound = errors.New("preference not found")

	// ErrChannelMisconfigured means the selected channel has no destination
	// or no adapter is deployed for it.
	ErrChannelMisconfigured = errors.New("channel misconfigured")

	// ErrDispatchFailed means the provider rejected the send or timed out.
	// The claim stays consumed.
	ErrDispatchFailed = errors.New("dispatch failed")

	// ErrStoreUnavailable is a transient preference store or guard failure.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrIndeterminate means a claim timed out or was cancelled and its
	// result is unknown. It is also an ErrStoreUnavailable.
	ErrIndeterminate = fmt.Errorf("claim outcome indeterminate: %w", ErrStoreUnavailable)
)

// Terminal reports whether err is a request-level failure that no retry
// will fix without correcting data first.
func Terminal(err error) bool {
	return errors.Is(err, ErrInvalidPriority) ||
		errors.Is(err, ErrPreferenceNotFound) ||
		errors.Is(err, ErrChannelMisconfigured)
}

// OutcomeOf maps an error returned by Route to its Outcome.
func OutcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeDispatched
	case errors.Is(err, ErrInvalidPriority):
		return OutcomeInvalidPriority
	case errors.Is(err, ErrPreferenceNotFound):
		return OutcomePreferenceNotFound
	case errors.Is(err, ErrChannelMisconfigured):
		return OutcomeChannelMisconfigured
	case errors.Is(err, ErrDispatchFailed):
		return OutcomeDispatchFailed
	default:
		return OutcomeStoreUnavailable
	}
}
