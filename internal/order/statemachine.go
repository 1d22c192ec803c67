package order

import "fmt"

var transitions = map[Status][]Status{
	StatusPending:    {StatusPending, StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusShipped, StatusRefunded, StatusDisputed},
	StatusShipped:    {StatusDelivered, StatusRefunded, StatusDisputed},
	// Disputes can arrive after fulfillment.
	StatusDelivered: {StatusDisputed},
	StatusCancelled: {},
	StatusRefunded:  {},
	StatusDisputed:  {},
}

func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether s is a final state of the happy path or of a
// reversal. Terminal orders only accept the transitions listed above.
func (s Status) Terminal() bool {
	switch s {
	case StatusDelivered, StatusCancelled, StatusRefunded:
		return true
	}
	return false
}

func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CheckTransition returns an error wrapping ErrIllegalTransition when the
// move from -> to is not in the transition table.
func CheckTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	return nil
}

func AllowedTransitions(from Status) []Status {
	allowed := transitions[from]
	result := make([]Status, len(allowed))
	copy(result, allowed)
	return result
}

func AllStatuses() []Status {
	return []Status{
		StatusPending,
		StatusProcessing,
		StatusShipped,
		StatusDelivered,
		StatusCancelled,
		StatusRefunded,
		StatusDisputed,
	}
}
