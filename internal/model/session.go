package model

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

type SessionStatus string

const (
	SessionInProgress SessionStatus = "in_progress"
	SessionCompleted  SessionStatus = "completed"
)

type SessionPayment string

const (
	SessionNotPaid SessionPayment = "not_paid"
	SessionPaid    SessionPayment = "paid"
)

// Session is one occurrence of a multi-session plan in canonical form.
type Session struct {
	Date    time.Time      `bson:"date" json:"date"`
	Status  SessionStatus  `bson:"status" json:"status"`
	Payment SessionPayment `bson:"payment" json:"payment"`
	Index   int            `bson:"index" json:"index"`
	Price   *float64       `bson:"price,omitempty" json:"price,omitempty"`
}

// EntryKind tags the stored shape of a recurring element.
type EntryKind uint8

const (
	EntryInvalid EntryKind = iota
	EntryCanonical
	EntryDateString
	EntryCharMap
)

func (k EntryKind) String() string {
	switch k {
	case EntryCanonical:
		return "canonical"
	case EntryDateString:
		return "date-string"
	case EntryCharMap:
		return "char-map"
	default:
		return "invalid"
	}
}

// RecurringEntry is a recurring element exactly as found in the store.
//
// For EntryCanonical, Session holds the decoded fields. A canonical element
// whose date was stored as a string keeps it in RawDate with a zero
// Session.Date. EntryDateString keeps the string in RawDate and EntryCharMap
// keeps the numeric-key fragments in Chars.
type RecurringEntry struct {
	Kind     EntryKind
	Session  Session
	HasIndex bool
	RawDate  string
	Chars    map[int]string
	Detail   string
}

func CanonicalEntry(s Session) RecurringEntry {
	return RecurringEntry{Kind: EntryCanonical, Session: s, HasIndex: true}
}

func DateEntry(raw string) RecurringEntry {
	return RecurringEntry{Kind: EntryDateString, RawDate: raw}
}

func CharMapEntry(chars map[int]string) RecurringEntry {
	return RecurringEntry{Kind: EntryCharMap, Chars: chars}
}

// Entries wraps canonical sessions for persistence.
func Entries(sessions []Session) []RecurringEntry {
	out := make([]RecurringEntry, len(sessions))
	for i, s := range sessions {
		out[i] = CanonicalEntry(s)
	}
	return out
}

// JoinedChars concatenates char-map fragments in ascending key order.
func (e RecurringEntry) JoinedChars() string {
	keys := make([]int, 0, len(e.Chars))
	for k := range e.Chars {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	var b []byte
	for _, k := range keys {
		b = append(b, e.Chars[k]...)
	}
	return string(b)
}

var canonicalKeys = map[string]bool{"date": true, "status": true, "payment": true, "index": true, "price": true}

// UnmarshalBSONValue classifies a stored element without failing the parent decode.
func (e *RecurringEntry) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	*e = RecurringEntry{}
	rv := bson.RawValue{Type: t, Value: data}

	switch t {
	case bsontype.String:
		e.Kind = EntryDateString
		e.RawDate = rv.StringValue()
		return nil
	case bsontype.DateTime:
		e.Kind = EntryCanonical
		e.Session.Date = time.UnixMilli(rv.DateTime()).UTC()
		return nil
	case bsontype.EmbeddedDocument:
		return e.decodeDocument(rv.Document())
	default:
		e.Kind = EntryInvalid
		e.Detail = fmt.Sprintf("unsupported element type %s", t)
		return nil
	}
}

func (e *RecurringEntry) decodeDocument(doc bson.Raw) error {
	elems, err := doc.Elements()
	if err != nil {
		e.Kind = EntryInvalid
		e.Detail = "malformed document"
		return nil
	}

	var canonical bool
	for _, el := range elems {
		if canonicalKeys[el.Key()] {
			canonical = true
			break
		}
	}

	chars := make(map[int]string, len(elems))
	for _, el := range elems {
		if canonical {
			break
		}
		key := el.Key()
		n, err := strconv.Atoi(key)
		if err != nil || n < 0 {
			e.Kind = EntryInvalid
			e.Detail = fmt.Sprintf("unexpected key %q", key)
			return nil
		}
		ch, ok := charValue(el.Value())
		if !ok {
			e.Kind = EntryInvalid
			e.Detail = fmt.Sprintf("non-character value at key %q", key)
			return nil
		}
		chars[n] = ch
	}

	if !canonical {
		if len(chars) == 0 {
			e.Kind = EntryInvalid
			e.Detail = "empty document"
			return nil
		}
		e.Kind = EntryCharMap
		e.Chars = chars
		return nil
	}

	e.Kind = EntryCanonical
	for _, el := range elems {
		v := el.Value()
		switch el.Key() {
		case "date":
			switch v.Type {
			case bsontype.DateTime:
				e.Session.Date = time.UnixMilli(v.DateTime()).UTC()
			case bsontype.String:
				e.RawDate = v.StringValue()
			}
		case "status":
			if s, ok := v.StringValueOK(); ok {
				e.Session.Status = SessionStatus(s)
			}
		case "payment":
			if s, ok := v.StringValueOK(); ok {
				e.Session.Payment = SessionPayment(s)
			}
		case "index":
			if n, ok := numberValue(v); ok {
				e.Session.Index = int(n)
				e.HasIndex = true
			}
		case "price":
			if n, ok := numberValue(v); ok {
				p := n
				e.Session.Price = &p
			}
		}
	}
	return nil
}

// MarshalBSONValue writes the entry back in the shape it was read in.
func (e RecurringEntry) MarshalBSONValue() (bsontype.Type, []byte, error) {
	switch e.Kind {
	case EntryCanonical:
		doc := bson.D{}
		if e.Session.Date.IsZero() && e.RawDate != "" {
			doc = append(doc, bson.E{Key: "date", Value: e.RawDate})
		} else {
			doc = append(doc, bson.E{Key: "date", Value: e.Session.Date})
		}
		doc = append(doc,
			bson.E{Key: "status", Value: e.Session.Status},
			bson.E{Key: "payment", Value: e.Session.Payment},
		)
		if e.HasIndex {
			doc = append(doc, bson.E{Key: "index", Value: e.Session.Index})
		}
		if e.Session.Price != nil {
			doc = append(doc, bson.E{Key: "price", Value: *e.Session.Price})
		}
		return bson.MarshalValue(doc)
	case EntryDateString:
		return bson.MarshalValue(e.RawDate)
	case EntryCharMap:
		keys := make([]int, 0, len(e.Chars))
		for k := range e.Chars {
			keys = append(keys, k)
		}
		sort.Ints(keys)
		doc := make(bson.D, 0, len(keys))
		for _, k := range keys {
			doc = append(doc, bson.E{Key: strconv.Itoa(k), Value: e.Chars[k]})
		}
		return bson.MarshalValue(doc)
	default:
		return bsontype.Null, nil, nil
	}
}

func charValue(v bson.RawValue) (string, bool) {
	switch v.Type {
	case bsontype.String:
		return v.StringValue(), true
	case bsontype.Int32:
		return strconv.Itoa(int(v.Int32())), true
	case bsontype.Int64:
		return strconv.FormatInt(v.Int64(), 10), true
	}
	return "", false
}

func numberValue(v bson.RawValue) (float64, bool) {
	if n, ok := v.Int32OK(); ok {
		return float64(n), true
	}
	if n, ok := v.Int64OK(); ok {
		return float64(n), true
	}
	if n, ok := v.DoubleOK(); ok {
		return n, true
	}
	return 0, false
}
