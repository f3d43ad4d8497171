package order

import "fmt"

// Status is the closed set of order lifecycle states. Only transitions in
// the adjacency table below are accepted; everything else is rejected with
// *IllegalTransitionError before any write happens.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusPaid      Status = "PAID"
	StatusShipped   Status = "SHIPPED"
	StatusDelivered Status = "DELIVERED"
	StatusCancelled Status = "CANCELLED"
)

// validNext maps each state to the set of states reachable from it.
// DELIVERED and CANCELLED are terminal. Cancellation is allowed up to and
// including PAID; once stock has shipped the order can no longer be
// cancelled, only delivered.
var validNext = map[Status]map[Status]bool{
	StatusPending:   {StatusConfirmed: true, StatusCancelled: true},
	StatusConfirmed: {StatusPaid: true, StatusCancelled: true},
	StatusPaid:      {StatusShipped: true, StatusCancelled: true},
	StatusShipped:   {StatusDelivered: true},
	StatusDelivered: {},
	StatusCancelled: {},
}

// Valid reports whether s is a member of the status enumeration.
func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

// Terminal reports whether no further transitions are possible from s.
func (s Status) Terminal() bool {
	return len(validNext[s]) == 0
}

// CanTransition reports whether the edge from→to is in the adjacency table.
func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

// IllegalTransitionError names the rejected edge of a status transition.
type IllegalTransitionError struct {
	From Status
	To   Status
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal order transition from %s to %s", e.From, e.To)
}
