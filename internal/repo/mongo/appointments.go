package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Alijeyrad/carebook_backend/internal/model"
	"github.com/Alijeyrad/carebook_backend/internal/repo"
	mongodb "github.com/Alijeyrad/carebook_backend/pkg/mongo"
)

type AppointmentRepo struct {
	col *mongo.Collection
	now func() time.Time
}

func NewAppointmentRepo(db *mongo.Database) *AppointmentRepo {
	return &AppointmentRepo{col: db.Collection(mongodb.CollectionAppointments), now: time.Now}
}

func (r *AppointmentRepo) Get(ctx context.Context, id string) (*model.Appointment, error) {
	var a model.Appointment
	if err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&a); err != nil {
		return nil, notFound(err, "appointment", id)
	}
	return &a, nil
}

// Update applies patch under an optimistic version check and returns the
// stored document after the write.
func (r *AppointmentRepo) Update(ctx context.Context, id string, version int64, patch model.AppointmentPatch) (*model.Appointment, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var a model.Appointment
	err := r.col.FindOneAndUpdate(ctx, versionFilter(id, version), appointmentUpdate(patch, r.now().UTC()), opts).Decode(&a)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, r.missOrConflict(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("update appointment %s: %w", id, err)
	}
	return &a, nil
}

func (r *AppointmentRepo) ListExpired(ctx context.Context, before time.Time, limit int) ([]*model.Appointment, error) {
	filter := bson.M{
		"status": bson.M{"$in": model.StoredForms(model.StatusConfirmed)},
		"date":   bson.M{"$lt": before},
	}
	opts := options.Find().SetSort(bson.D{{Key: "date", Value: 1}}).SetLimit(int64(limit))

	out, err := find[model.Appointment](ctx, r.col, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("list expired appointments: %w", err)
	}
	return out, nil
}

// ListWithRecurring pages by _id so a long repair run never revisits a document.
func (r *AppointmentRepo) ListWithRecurring(ctx context.Context, afterID string, limit int) ([]*model.Appointment, error) {
	filter := bson.M{"recurring.0": bson.M{"$exists": true}}
	if afterID != "" {
		filter["_id"] = bson.M{"$gt": afterID}
	}
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}).SetLimit(int64(limit))

	out, err := find[model.Appointment](ctx, r.col, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("list recurring appointments: %w", err)
	}
	return out, nil
}

func (r *AppointmentRepo) ReplaceRecurring(ctx context.Context, id string, version int64, sessions []model.Session) error {
	update := bson.M{
		"$set": bson.M{"recurring": model.Entries(sessions), "updatedAt": r.now().UTC()},
		"$inc": bson.M{"version": 1},
	}
	res, err := r.col.UpdateOne(ctx, versionFilter(id, version), update)
	if err != nil {
		return fmt.Errorf("replace recurring %s: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return r.missOrConflict(ctx, id)
	}
	return nil
}

func payableFilter() bson.M {
	return bson.M{
		"status":        bson.M{"$in": model.StoredForms(model.StatusCompleted)},
		"therapistPaid": bson.M{"$ne": true},
		"therapistId":   bson.M{"$nin": bson.A{nil, ""}},
	}
}

func (r *AppointmentRepo) ListPayable(ctx context.Context, therapistID string) ([]*model.Appointment, error) {
	filter := payableFilter()
	filter["therapistId"] = therapistID
	opts := options.Find().SetSort(bson.D{{Key: "date", Value: 1}})

	out, err := find[model.Appointment](ctx, r.col, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("list payable appointments: %w", err)
	}
	return out, nil
}

func (r *AppointmentRepo) PayableTherapists(ctx context.Context) ([]string, error) {
	raw, err := r.col.Distinct(ctx, "therapistId", payableFilter())
	if err != nil {
		return nil, fmt.Errorf("list payable therapists: %w", err)
	}
	ids := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok && s != "" {
			ids = append(ids, s)
		}
	}
	return ids, nil
}

// MarkTherapistPaid flags the appointments and their completed sessions.
// Appointments already flagged are skipped, so repeating the call is a no-op.
func (r *AppointmentRepo) MarkTherapistPaid(ctx context.Context, appointmentIDs []string, paymentID string) (int64, error) {
	if len(appointmentIDs) == 0 {
		return 0, nil
	}
	filter := bson.M{
		"_id":           bson.M{"$in": appointmentIDs},
		"therapistPaid": bson.M{"$ne": true},
	}
	update := bson.M{
		"$set": bson.M{
			"therapistPaid":             true,
			"therapistPaymentId":        paymentID,
			"recurring.$[done].payment": model.SessionPaid,
			"updatedAt":                 r.now().UTC(),
		},
		"$inc": bson.M{"version": 1},
	}
	opts := options.Update().SetArrayFilters(options.ArrayFilters{
		Filters: []any{bson.M{"done.status": model.SessionCompleted}},
	})

	res, err := r.col.UpdateMany(ctx, filter, update, opts)
	if err != nil {
		return 0, fmt.Errorf("mark therapist paid: %w", err)
	}
	return res.ModifiedCount, nil
}

func (r *AppointmentRepo) missOrConflict(ctx context.Context, id string) error {
	n, err := r.col.CountDocuments(ctx, bson.M{"_id": id}, options.Count().SetLimit(1))
	if err != nil {
		return fmt.Errorf("check appointment %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("appointment %s: %w", id, repo.ErrNotFound)
	}
	return fmt.Errorf("appointment %s: %w", id, repo.ErrConflict)
}

// versionFilter also matches legacy documents that predate the version field.
func versionFilter(id string, version int64) bson.M {
	if version == 0 {
		return bson.M{
			"_id": id,
			"$or": bson.A{bson.M{"version": 0}, bson.M{"version": bson.M{"$exists": false}}},
		}
	}
	return bson.M{"_id": id, "version": version}
}

// appointmentUpdate translates a patch into one atomic update document.
func appointmentUpdate(p model.AppointmentPatch, now time.Time) bson.M {
	set := bson.M{"updatedAt": now}

	if p.Status != nil {
		set["status"] = *p.Status
	}
	if p.PaymentStatus != nil {
		set["paymentStatus"] = *p.PaymentStatus
	}
	if p.PaymentMethod != nil {
		set["paymentMethod"] = *p.PaymentMethod
	}
	if p.Date != nil {
		set["date"] = p.Date.UTC()
	}
	if p.TherapistID != nil && !p.UnsetTherapist {
		set["therapistId"] = *p.TherapistID
	}
	if p.Sessions != nil {
		set["recurring"] = model.Entries(p.Sessions)
	}
	if p.CompletedSessions != nil {
		set["completedSessions"] = *p.CompletedSessions
	}
	if p.IsRescheduled != nil {
		set["isRescheduled"] = *p.IsRescheduled
	}
	if p.IsSameDayBooking != nil {
		set["isSameDayBooking"] = *p.IsSameDayBooking
	}
	if p.SameDaySurcharge != nil {
		set["sameDaySurcharge"] = *p.SameDaySurcharge
	}
	if p.IsStripeVerified != nil {
		set["isStripeVerified"] = *p.IsStripeVerified
	}
	if p.CheckoutSessionID != nil {
		set["checkoutSessionId"] = *p.CheckoutSessionID
	}
	if p.PaymentIntentID != nil {
		set["paymentIntentId"] = *p.PaymentIntentID
	}
	if p.SubscriptionID != nil {
		set["subscriptionId"] = *p.SubscriptionID
	}

	update := bson.M{
		"$set": set,
		"$inc": bson.M{"version": 1},
	}
	if p.UnsetTherapist {
		update["$unset"] = bson.M{"therapistId": ""}
	}

	push := bson.M{}
	if p.PushHistory != nil {
		push["statusHistory"] = *p.PushHistory
	}
	if p.PushOldTherapy != nil {
		push["oldTherapies"] = *p.PushOldTherapy
	}
	if len(push) > 0 {
		update["$push"] = push
	}
	return update
}
