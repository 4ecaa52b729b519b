package domain

type transitionKey struct {
	from  Status
	event Event
}

var transitions = map[transitionKey]Status{
	{StatusPending, EventApprove}:    StatusApproved,
	{StatusPending, EventReject}:     StatusRejected,
	{StatusRejected, EventResubmit}:  StatusPending,
	{StatusApproved, EventUnpublish}: StatusRejected,
}

// Transition returns the state reached by applying event in from. Creation is
// not a transition and always fails here.
func Transition(from Status, event Event) (Status, error) {
	to, ok := transitions[transitionKey{from: from, event: event}]
	if !ok {
		return "", ErrInvalidTransition
	}
	return to, nil
}
