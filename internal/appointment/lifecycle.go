package appointment

import (
	"fmt"
	"strings"
)

// Action is a lifecycle event applied to an appointment.
type Action string

const (
	ActionComplete   Action = "complete"
	ActionFinish     Action = "finish"
	ActionCancel     Action = "cancel"
	ActionMarkNoShow Action = "no_show"
)

var AllActions = []Action{ActionComplete, ActionFinish, ActionCancel, ActionMarkNoShow}

type transitionKey struct {
	from   Status
	action Action
}

// transitions is the complete lifecycle. Anything not listed is rejected.
var transitions = map[transitionKey]Status{
	{StatusScheduled, ActionComplete}:   StatusCompleted,
	{StatusCompleted, ActionFinish}:     StatusDone,
	{StatusScheduled, ActionCancel}:     StatusCancelled,
	{StatusScheduled, ActionMarkNoShow}: StatusNoShow,
}

// Next returns the status reached by applying action to from.
func Next(from Status, action Action) (Status, error) {
	to, ok := transitions[transitionKey{from, action}]
	if !ok {
		return "", fmt.Errorf("%w: cannot %s an appointment that is %s", ErrInvalidStatusTransition, action, from)
	}
	return to, nil
}

// IsTerminal reports whether no action leads out of s.
func IsTerminal(s Status) bool {
	for k := range transitions {
		if k.from == s {
			return false
		}
	}
	return true
}

// Transition describes an applied lifecycle step.
type Transition struct {
	From   Status
	To     Status
	Action Action
}

// Lifecycle applies actions with the documentation guard.
type Lifecycle struct{}

// Apply validates action against a. hasDocumentation must reflect the current
// clinical records of the appointment; a transition into Cancelled is refused
// while any exist.
func (Lifecycle) Apply(a Appointment, action Action, hasDocumentation bool) (Transition, error) {
	to, err := Next(a.Status, action)
	if err != nil {
		return Transition{}, err
	}
	if to == StatusCancelled && hasDocumentation {
		return Transition{}, ErrDocumentedAppointment
	}
	return Transition{From: a.Status, To: to, Action: action}, nil
}

// CanReschedule reports whether the time or practitioner of a may still change.
func (Lifecycle) CanReschedule(a Appointment) error {
	if a.Status != StatusScheduled {
		return fmt.Errorf("%w: cannot reschedule an appointment that is %s", ErrInvalidStatusTransition, a.Status)
	}
	return nil
}

// CanDelete reports whether a may be physically removed.
func (Lifecycle) CanDelete(a Appointment, hasDocumentation bool) error {
	if hasDocumentation {
		return ErrDocumentedAppointment
	}
	if a.Status != StatusScheduled {
		return fmt.Errorf("%w: cannot delete an appointment that is %s", ErrInvalidStatusTransition, a.Status)
	}
	return nil
}

func ParseAction(s string) (Action, error) {
	a := Action(strings.ToLower(strings.TrimSpace(s)))
	for _, v := range AllActions {
		if v == a {
			return a, nil
		}
	}
	return "", fmt.Errorf("%w: unknown action %q", ErrInvalidRequest, s)
}
