package model

import "time"

type LedgerAction string

const (
	ActionAdded   LedgerAction = "added"
	ActionRemoved LedgerAction = "removed"
	ActionUsed    LedgerAction = "used"
)

// HistoryEntry is append-only and never rewritten after insert.
type HistoryEntry struct {
	Action        LedgerAction `bson:"action" json:"action"`
	Amount        float64      `bson:"amount" json:"amount"`
	Reason        string       `bson:"reason,omitempty" json:"reason,omitempty"`
	Admin         string       `bson:"admin,omitempty" json:"admin,omitempty"`
	AppointmentID string       `bson:"appointmentId,omitempty" json:"appointmentId,omitempty"`
	Surcharge     bool         `bson:"surcharge,omitempty" json:"surcharge,omitempty"`
	CreatedAt     time.Time    `bson:"createdAt" json:"createdAt"`
}

// PaymentRecord is keyed by PaymentID; at most one per external payment.
type PaymentRecord struct {
	PaymentID     string    `bson:"paymentId" json:"paymentId"`
	Amount        float64   `bson:"amount" json:"amount"`
	Currency      string    `bson:"currency" json:"currency"`
	Date          time.Time `bson:"date" json:"date"`
	SessionsAdded int       `bson:"sessionsAdded" json:"sessionsAdded"`
	PaymentType   string    `bson:"paymentType" json:"paymentType"`
}

type Balance struct {
	ID            string          `bson:"_id" json:"id"`
	UserID        string          `bson:"userId" json:"userId"`
	BalanceAmount float64         `bson:"balanceAmount" json:"balanceAmount"`
	TotalSessions int             `bson:"totalSessions" json:"totalSessions"`
	SpentSessions int             `bson:"spentSessions" json:"spentSessions"`
	History       []HistoryEntry  `bson:"history,omitempty" json:"history,omitempty"`
	Payments      []PaymentRecord `bson:"payments,omitempty" json:"payments,omitempty"`
	CreatedAt     time.Time       `bson:"createdAt" json:"createdAt"`
	UpdatedAt     time.Time       `bson:"updatedAt" json:"updatedAt"`
}

// RemainingSessions is clamped at zero for legacy documents where spent exceeds total.
func (b *Balance) RemainingSessions() int {
	n := b.TotalSessions - b.SpentSessions
	if n < 0 {
		return 0
	}
	return n
}

func (b *Balance) HasPayment(id string) bool {
	for _, p := range b.Payments {
		if p.PaymentID == id {
			return true
		}
	}
	return false
}
