package email

// Message is one outgoing notification. Tag and RefID end up in X-Carebook-*
// headers so bounces can be traced back to the appointment or payout.
type Message struct {
	To       []string
	Subject  string
	TextBody string
	HTMLBody string

	Tag   string
	RefID string
}

const (
	TagAppointmentStatus = "appointment-status"
	TagBalanceRefund     = "balance-refund"
	TagPayout            = "payout"
)
