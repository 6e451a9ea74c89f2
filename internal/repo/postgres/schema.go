// Package postgres stores therapist payouts and their settled appointment refs.
package postgres

import (
	"entgo.io/ent/dialect/sql/schema"
	"entgo.io/ent/schema/field"
)

const (
	tablePayments = "therapist_payments"
	tableRefs     = "therapist_payment_appointments"
)

var (
	paymentColumns = []*schema.Column{
		{Name: "id", Type: field.TypeString, Size: 64},
		{Name: "therapist_id", Type: field.TypeString, Size: 64},
		{Name: "amount", Type: field.TypeFloat64},
		{Name: "currency", Type: field.TypeString, Size: 8},
		{Name: "payment_method", Type: field.TypeString, Size: 32},
		{Name: "status", Type: field.TypeString, Size: 16},
		{Name: "payout_percentage", Type: field.TypeFloat64},
		{Name: "sessions", Type: field.TypeJSON},
		{Name: "created_by", Type: field.TypeString, Size: 64},
		{Name: "paid_at", Type: field.TypeTime, Nullable: true},
		{Name: "created_at", Type: field.TypeTime},
		{Name: "updated_at", Type: field.TypeTime},
	}
	PaymentsTable = &schema.Table{
		Name:       tablePayments,
		Columns:    paymentColumns,
		PrimaryKey: []*schema.Column{paymentColumns[0]},
		Indexes: []*schema.Index{
			{Name: "therapistpayment_therapist_id_created_at", Columns: []*schema.Column{paymentColumns[1], paymentColumns[10]}},
			{Name: "therapistpayment_status_created_at", Columns: []*schema.Column{paymentColumns[5], paymentColumns[10]}},
		},
	}

	// appointment_id is the primary key, so an appointment settles at most once.
	refColumns = []*schema.Column{
		{Name: "appointment_id", Type: field.TypeString, Size: 64},
		{Name: "payment_id", Type: field.TypeString, Size: 64},
	}
	RefsTable = &schema.Table{
		Name:       tableRefs,
		Columns:    refColumns,
		PrimaryKey: []*schema.Column{refColumns[0]},
		ForeignKeys: []*schema.ForeignKey{
			{
				Symbol:     "therapist_payment_appointments_payment",
				Columns:    []*schema.Column{refColumns[1]},
				RefColumns: []*schema.Column{paymentColumns[0]},
				OnDelete:   schema.Cascade,
			},
		},
		Indexes: []*schema.Index{
			{Name: "therapistpaymentappointment_payment_id", Columns: []*schema.Column{refColumns[1]}},
		},
	}

	Tables = []*schema.Table{PaymentsTable, RefsTable}
)

func init() {
	RefsTable.ForeignKeys[0].RefTable = PaymentsTable
}
