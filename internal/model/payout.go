package model

import "time"

type PayoutStatus string

const (
	PayoutProcessing PayoutStatus = "processing"
	PayoutCompleted  PayoutStatus = "completed"
	PayoutFailed     PayoutStatus = "failed"
)

// MainSessionIndex marks the appointment's own session in a payout snapshot.
const MainSessionIndex = -1

// SettledSession is one session snapshot inside a TherapistPayment.
type SettledSession struct {
	AppointmentID string        `json:"appointmentId"`
	Index         int           `json:"index"`
	Price         float64       `json:"price"`
	Date          time.Time     `json:"date"`
	Status        SessionStatus `json:"status"`
}

// TherapistPayment is immutable after creation except for Status and PaidAt.
type TherapistPayment struct {
	ID               string           `json:"id"`
	TherapistID      string           `json:"therapistId"`
	Amount           float64          `json:"amount"`
	Currency         string           `json:"currency"`
	PaymentMethod    string           `json:"paymentMethod"`
	Status           PayoutStatus     `json:"status"`
	PayoutPercentage float64          `json:"payoutPercentage"`
	Sessions         []SettledSession `json:"sessions"`
	Appointments     []string         `json:"appointments"`
	CreatedBy        string           `json:"createdBy"`
	PaidAt           *time.Time       `json:"paidAt,omitempty"`
	CreatedAt        time.Time        `json:"createdAt"`
	UpdatedAt        time.Time        `json:"updatedAt"`
}

// SeniorLevel earns the tier payout rate on every appointment.
const SeniorLevel = 2

// Therapist carries the counters the lifecycle updates on completion.
type Therapist struct {
	ID                string    `bson:"_id" json:"id"`
	CompletedSessions int       `bson:"completedSessions" json:"completedSessions"`
	Level             int       `bson:"level" json:"level"`
	UpdatedAt         time.Time `bson:"updatedAt" json:"updatedAt"`
}

// User is the read-only contact directory entry.
type User struct {
	ID    string `bson:"_id" json:"id"`
	Name  string `bson:"name" json:"name"`
	Email string `bson:"email" json:"email"`
	Phone string `bson:"phone" json:"phone"`
	Role  Role   `bson:"role" json:"role"`
}
