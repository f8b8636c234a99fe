package order

var allowedTransitions = map[OrderStatus]map[OrderStatus]bool{
	StatusPendingPayment: {
		StatusPaid:      true,
		StatusCancelled: true,
	},
	StatusPaid: {
		StatusProcessing: true,
		StatusCancelled:  true,
	},
	StatusProcessing: {
		StatusShipped:   true,
		StatusCancelled: true,
	},
	StatusShipped: {
		StatusDelivered: true,
	},
	StatusDelivered: {
		StatusRefunded: true,
	},
	StatusCancelled: {},
	StatusRefunded:  {},
}

// revenueStatuses are counted as earned money in order statistics.
var revenueStatuses = map[OrderStatus]bool{
	StatusPaid:       true,
	StatusProcessing: true,
	StatusShipped:    true,
	StatusDelivered:  true,
}

func (os OrderStatus) IsValid() bool {
	_, ok := allowedTransitions[os]
	return ok
}

func (os OrderStatus) IsTerminal() bool {
	return os.IsValid() && len(allowedTransitions[os]) == 0
}

// CanTransition reports whether from -> to is an edge of the transition table.
func CanTransition(from, to OrderStatus) bool {
	return allowedTransitions[from][to]
}

// IsCancellable reports whether the explicit cancel action accepts s.
func IsCancellable(s OrderStatus) bool {
	return CanTransition(s, StatusCancelled)
}

// AllStatuses lists every status in lifecycle order.
func AllStatuses() []OrderStatus {
	return []OrderStatus{
		StatusPendingPayment,
		StatusPaid,
		StatusProcessing,
		StatusShipped,
		StatusDelivered,
		StatusCancelled,
		StatusRefunded,
	}
}
