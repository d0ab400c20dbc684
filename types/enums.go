package types

const (
	PaymentStatusInit      string = "INIT"
	PaymentStatusConfirmed string = "CONFIRMED"
	PaymentStatusRejected  string = "REJECTED"
)

const (
	PromoTypeExtension string = "extension"
)

// ExtendOnTransition is the settlement state machine. The gateway may
// report any status string; only the edge into CONFIRMED taken from a
// non-CONFIRMED source carries the subscription side effect:
//
//	INIT      -> CONFIRMED  extend
//	REJECTED  -> CONFIRMED  extend
//	other     -> CONFIRMED  extend
//	CONFIRMED -> CONFIRMED  no-op (duplicate delivery)
//	*         -> other      no-op
func ExtendOnTransition(prev, next string) bool {
	return next == PaymentStatusConfirmed && prev != PaymentStatusConfirmed
}

// TerminalStatus reports whether the gateway will not move this payment
// again. Checkout state keyed on the payment is dead once a terminal
// status arrives, paid or not.
func TerminalStatus(status string) bool {
	return status == PaymentStatusConfirmed || status == PaymentStatusRejected
}
