package model

import "time"

// AppointmentPatch is a partial update applied under a version check. Nil
// fields are left untouched.
type AppointmentPatch struct {
	Status            *Status
	PaymentStatus     *PaymentStatus
	PaymentMethod     *PaymentMethod
	Date              *time.Time
	TherapistID       *string
	UnsetTherapist    bool
	Sessions          []Session
	CompletedSessions *int
	IsRescheduled     *bool
	IsSameDayBooking  *bool
	SameDaySurcharge  *float64
	IsStripeVerified  *bool
	CheckoutSessionID *string
	PaymentIntentID   *string
	SubscriptionID    *string

	PushHistory    *StatusChange
	PushOldTherapy *OldTherapy
}

// Apply mutates a in memory the same way the store applies the patch.
func (p AppointmentPatch) Apply(a *Appointment, now time.Time) {
	if p.Status != nil {
		a.Status = *p.Status
	}
	if p.PaymentStatus != nil {
		a.PaymentStatus = *p.PaymentStatus
	}
	if p.PaymentMethod != nil {
		a.PaymentMethod = *p.PaymentMethod
	}
	if p.Date != nil {
		a.Date = *p.Date
	}
	if p.TherapistID != nil {
		a.TherapistID = *p.TherapistID
	}
	if p.UnsetTherapist {
		a.TherapistID = ""
	}
	if p.Sessions != nil {
		a.Sessions = append([]Session(nil), p.Sessions...)
		a.Recurring = Entries(p.Sessions)
	}
	if p.CompletedSessions != nil {
		a.CompletedSessions = *p.CompletedSessions
	}
	if p.IsRescheduled != nil {
		a.IsRescheduled = *p.IsRescheduled
	}
	if p.IsSameDayBooking != nil {
		a.IsSameDayBooking = *p.IsSameDayBooking
	}
	if p.SameDaySurcharge != nil {
		a.SameDaySurcharge = *p.SameDaySurcharge
	}
	if p.IsStripeVerified != nil {
		a.IsStripeVerified = *p.IsStripeVerified
	}
	if p.CheckoutSessionID != nil {
		a.CheckoutSessionID = *p.CheckoutSessionID
	}
	if p.PaymentIntentID != nil {
		a.PaymentIntentID = *p.PaymentIntentID
	}
	if p.SubscriptionID != nil {
		a.SubscriptionID = *p.SubscriptionID
	}
	if p.PushHistory != nil {
		a.StatusHistory = append(a.StatusHistory, *p.PushHistory)
	}
	if p.PushOldTherapy != nil {
		a.OldTherapies = append(a.OldTherapies, *p.PushOldTherapy)
	}
	a.Version++
	a.UpdatedAt = now
}

func Ptr[T any](v T) *T { return &v }
