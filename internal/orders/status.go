package orders

type Status string

const (
	StatusPending         Status = "pending"
	StatusConfirmed       Status = "confirmed"
	StatusPreparing       Status = "preparing"
	StatusReadyToShip     Status = "ready_to_ship"
	StatusShipped         Status = "shipped"
	StatusInTransit       Status = "in_transit"
	StatusOutForDelivery  Status = "out_for_delivery"
	StatusDelivered       Status = "delivered"
	StatusFailedDelivery  Status = "failed_delivery"
	StatusCancelled       Status = "cancelled"
	StatusReturnRequested Status = "return_requested"
	StatusReturnApproved  Status = "return_approved"
	StatusReturnPickedUp  Status = "return_picked_up"
	StatusReturnInTransit Status = "return_in_transit"
	StatusReturnDelivered Status = "return_delivered"
	StatusRefunded        Status = "refunded"
	StatusException       Status = "exception"
	StatusResolved        Status = "resolved"
)

// InitialStatus is the status every order is created with.
const InitialStatus = StatusPending

// validNext is the single source of truth for legal status changes.
var validNext = map[Status][]Status{
	StatusPending:         {StatusConfirmed, StatusCancelled, StatusException},
	StatusConfirmed:       {StatusPreparing, StatusCancelled, StatusException},
	StatusPreparing:       {StatusReadyToShip, StatusCancelled, StatusException},
	StatusReadyToShip:     {StatusShipped, StatusCancelled, StatusException},
	StatusShipped:         {StatusInTransit, StatusDelivered, StatusFailedDelivery, StatusException},
	StatusInTransit:       {StatusOutForDelivery, StatusDelivered, StatusFailedDelivery, StatusException},
	StatusOutForDelivery:  {StatusDelivered, StatusFailedDelivery, StatusException},
	StatusFailedDelivery:  {StatusOutForDelivery, StatusReturnInTransit, StatusException},
	StatusDelivered:       {StatusReturnRequested},
	StatusCancelled:       {StatusRefunded},
	StatusReturnRequested: {StatusReturnApproved, StatusResolved, StatusException},
	StatusReturnApproved:  {StatusReturnPickedUp, StatusException},
	StatusReturnPickedUp:  {StatusReturnInTransit, StatusException},
	StatusReturnInTransit: {StatusReturnDelivered, StatusException},
	StatusReturnDelivered: {StatusRefunded, StatusException},
	StatusRefunded:        {},
	StatusException:       {StatusResolved, StatusCancelled},
	StatusResolved:        {},
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

func CanTransition(from, to Status) bool {
	for _, s := range validNext[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Next lists the statuses reachable from s in one step.
func Next(s Status) []Status {
	return append([]Status(nil), validNext[s]...)
}

// IsTerminal reports whether no transition leaves s.
func IsTerminal(s Status) bool {
	return len(validNext[s]) == 0
}

// Statuses returns every known status.
func Statuses() []Status {
	out := make([]Status, 0, len(validNext))
	for s := range validNext {
		out = append(out, s)
	}
	return out
}

// itemStatusFor is the status every line takes on entering s. Returned lines are
// marked individually by the return_delivered effect.
func itemStatusFor(s Status) (ItemStatus, bool) {
	switch s {
	case StatusConfirmed:
		return ItemConfirmed, true
	case StatusShipped:
		return ItemShipped, true
	case StatusDelivered:
		return ItemDelivered, true
	case StatusCancelled:
		return ItemCancelled, true
	}
	return "", false
}
