package model

// VerificationStatus is the reconciled payment outcome.
type VerificationStatus string

const (
	VerificationPaid    VerificationStatus = "paid"
	VerificationPending VerificationStatus = "pending"
	VerificationFailed  VerificationStatus = "failed"
	VerificationNone    VerificationStatus = "none"
	VerificationError   VerificationStatus = "error"
)

// PaymentSource names the funding source that decided a PaymentState.
type PaymentSource string

const (
	SourceBalance         PaymentSource = "balance"
	SourceManual          PaymentSource = "manual"
	SourceCheckoutSession PaymentSource = "checkout_session"
	SourcePaymentIntent   PaymentSource = "payment_intent"
	SourceSubscription    PaymentSource = "subscription"
	SourceNone            PaymentSource = "none"
)

// PaymentState is derived on read and never persisted.
type PaymentState struct {
	IsPaid             bool               `json:"isPaid"`
	PaymentStatus      VerificationStatus `json:"paymentStatus"`
	SubscriptionStatus string             `json:"subscriptionStatus,omitempty"`
	IsActive           bool               `json:"isActive"`
	Source             PaymentSource      `json:"verificationSource"`
	Err                error              `json:"-"`
}

// Verified fails closed: an error outcome is never verified.
func (p PaymentState) Verified() bool {
	return p.IsPaid && p.PaymentStatus == VerificationPaid
}

func (p PaymentState) Unknown() bool {
	return p.PaymentStatus == VerificationError
}
