package model

import "time"

// PaymentStatus is the stored per-appointment payment flag.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

type PaymentMethod string

const (
	MethodStripe  PaymentMethod = "stripe"
	MethodBalance PaymentMethod = "balance"
	MethodMixed   PaymentMethod = "mixed"
	MethodManual  PaymentMethod = "manual"
)

// PaymentInfo holds the amounts captured at booking time.
type PaymentInfo struct {
	UnitPrice   float64 `bson:"unitPrice,omitempty" json:"unitPrice,omitempty"`
	AmountPaid  float64 `bson:"amountPaid,omitempty" json:"amountPaid,omitempty"`
	BalanceUsed float64 `bson:"balanceUsed,omitempty" json:"balanceUsed,omitempty"`
}

type OldTherapy struct {
	TherapistID string    `bson:"therapistId" json:"therapistId"`
	Reason      string    `bson:"reason,omitempty" json:"reason,omitempty"`
	At          time.Time `bson:"at" json:"at"`
}

type StatusChange struct {
	From    Status    `bson:"from" json:"from"`
	To      Status    `bson:"to" json:"to"`
	ActorID string    `bson:"actorId" json:"actorId"`
	Role    Role      `bson:"role" json:"role"`
	Reason  string    `bson:"reason,omitempty" json:"reason,omitempty"`
	At      time.Time `bson:"at" json:"at"`
}

type Appointment struct {
	ID          string `bson:"_id" json:"id"`
	PatientID   string `bson:"patientId" json:"patientId"`
	TherapistID string `bson:"therapistId,omitempty" json:"therapistId,omitempty"`

	Status Status    `bson:"status" json:"status"`
	Date   time.Time `bson:"date" json:"date"`

	PaymentStatus     PaymentStatus `bson:"paymentStatus,omitempty" json:"paymentStatus,omitempty"`
	PaymentMethod     PaymentMethod `bson:"paymentMethod,omitempty" json:"paymentMethod,omitempty"`
	IsStripeVerified  bool          `bson:"isStripeVerified" json:"isStripeVerified"`
	IsBalance         bool          `bson:"isBalance" json:"isBalance"`
	CheckoutSessionID string        `bson:"checkoutSessionId,omitempty" json:"checkoutSessionId,omitempty"`
	PaymentIntentID   string        `bson:"paymentIntentId,omitempty" json:"paymentIntentId,omitempty"`
	SubscriptionID    string        `bson:"subscriptionId,omitempty" json:"subscriptionId,omitempty"`
	Payment           PaymentInfo   `bson:"payment" json:"payment"`

	Plan              string  `bson:"plan,omitempty" json:"plan,omitempty"`
	PlanType          string  `bson:"planType,omitempty" json:"planType,omitempty"`
	Price             float64 `bson:"price" json:"price"`
	TotalSessions     int     `bson:"totalSessions" json:"totalSessions"`
	CompletedSessions int     `bson:"completedSessions" json:"completedSessions"`

	Recurring []RecurringEntry `bson:"recurring,omitempty" json:"-"`
	// Sessions is the normalized view of Recurring, filled on read.
	Sessions []Session `bson:"-" json:"recurring,omitempty"`

	IsSameDayBooking bool    `bson:"isSameDayBooking" json:"isSameDayBooking"`
	SameDaySurcharge float64 `bson:"sameDaySurcharge,omitempty" json:"sameDaySurcharge,omitempty"`
	IsRescheduled    bool    `bson:"isRescheduled" json:"isRescheduled"`

	TherapistPaid      bool   `bson:"therapistPaid" json:"therapistPaid"`
	TherapistPaymentID string `bson:"therapistPaymentId,omitempty" json:"therapistPaymentId,omitempty"`

	OldTherapies  []OldTherapy   `bson:"oldTherapies,omitempty" json:"oldTherapies,omitempty"`
	StatusHistory []StatusChange `bson:"statusHistory,omitempty" json:"statusHistory,omitempty"`

	Version   int64     `bson:"version" json:"version"`
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updatedAt"`
}

// IsSubscription reports whether the plan is funded by a recurring subscription.
func (a *Appointment) IsSubscription() bool {
	return a.SubscriptionID != ""
}

// HasStripeRefs reports whether any card-payment identifier is stored.
func (a *Appointment) HasStripeRefs() bool {
	return a.CheckoutSessionID != "" || a.PaymentIntentID != ""
}

// Method returns the stored payment method, inferring it for legacy records.
func (a *Appointment) Method() PaymentMethod {
	if a.PaymentMethod != "" {
		return a.PaymentMethod
	}
	switch {
	case a.IsBalance && a.HasStripeRefs():
		return MethodMixed
	case a.IsBalance:
		return MethodBalance
	default:
		return MethodStripe
	}
}

// UnitPrice is the per-session price used by refunds and payouts.
func (a *Appointment) UnitPrice() float64 {
	if a.Payment.UnitPrice > 0 {
		return a.Payment.UnitPrice
	}
	if a.TotalSessions <= 1 {
		return a.Price
	}
	return a.Price / float64(a.TotalSessions)
}

// RemainingSessions never goes below zero. Records without a session count
// are single-session plans.
func (a *Appointment) RemainingSessions() int {
	n := max(a.TotalSessions, 1) - a.CompletedSessions
	if n < 0 {
		return 0
	}
	return n
}
