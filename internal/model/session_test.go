package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

type recurringDoc struct {
	Recurring []RecurringEntry `bson:"recurring"`
}

func decodeRecurring(t *testing.T, items bson.A) []RecurringEntry {
	t.Helper()
	raw, err := bson.Marshal(bson.D{{Key: "recurring", Value: items}})
	require.NoError(t, err)
	var doc recurringDoc
	require.NoError(t, bson.Unmarshal(raw, &doc))
	return doc.Recurring
}

func TestRecurringEntryDecodeShapes(t *testing.T) {
	when := time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)

	entries := decodeRecurring(t, bson.A{
		bson.D{{Key: "date", Value: when}, {Key: "status", Value: "completed"}, {Key: "payment", Value: "paid"}, {Key: "index", Value: int32(0)}},
		"2025-03-17T14:00:00+00:00",
		bson.D{{Key: "0", Value: "2"}, {Key: "1", Value: "0"}, {Key: "2", Value: "2"}, {Key: "3", Value: "5"}},
		bson.D{{Key: "foo", Value: "bar"}},
		int32(7),
	})
	require.Len(t, entries, 5)

	assert.Equal(t, EntryCanonical, entries[0].Kind)
	assert.True(t, entries[0].Session.Date.Equal(when))
	assert.Equal(t, SessionCompleted, entries[0].Session.Status)
	assert.Equal(t, SessionPaid, entries[0].Session.Payment)
	assert.True(t, entries[0].HasIndex)

	assert.Equal(t, EntryDateString, entries[1].Kind)
	assert.Equal(t, "2025-03-17T14:00:00+00:00", entries[1].RawDate)

	assert.Equal(t, EntryCharMap, entries[2].Kind)
	assert.Equal(t, "2025", entries[2].JoinedChars())

	assert.Equal(t, EntryInvalid, entries[3].Kind)
	assert.Equal(t, EntryInvalid, entries[4].Kind)
}

func TestRecurringEntryCanonicalStringDate(t *testing.T) {
	entries := decodeRecurring(t, bson.A{
		bson.D{{Key: "date", Value: "2025-03-10"}, {Key: "status", Value: "in_progress"}},
	})
	require.Len(t, entries, 1)
	assert.Equal(t, EntryCanonical, entries[0].Kind)
	assert.Equal(t, "2025-03-10", entries[0].RawDate)
	assert.True(t, entries[0].Session.Date.IsZero())
	assert.False(t, entries[0].HasIndex)
}

func TestRecurringEntryRoundTrip(t *testing.T) {
	when := time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)
	price := 80.0
	in := recurringDoc{Recurring: Entries([]Session{
		{Date: when, Status: SessionInProgress, Payment: SessionNotPaid, Index: 0},
		{Date: when.AddDate(0, 0, 7), Status: SessionCompleted, Payment: SessionPaid, Index: 1, Price: &price},
	})}

	raw, err := bson.Marshal(in)
	require.NoError(t, err)
	var out recurringDoc
	require.NoError(t, bson.Unmarshal(raw, &out))

	require.Len(t, out.Recurring, 2)
	for i := range in.Recurring {
		assert.Equal(t, EntryCanonical, out.Recurring[i].Kind)
		assert.True(t, out.Recurring[i].Session.Date.Equal(in.Recurring[i].Session.Date))
		assert.Equal(t, in.Recurring[i].Session.Status, out.Recurring[i].Session.Status)
		assert.Equal(t, in.Recurring[i].Session.Index, out.Recurring[i].Session.Index)
	}
	require.NotNil(t, out.Recurring[1].Session.Price)
	assert.Equal(t, 80.0, *out.Recurring[1].Session.Price)
}
