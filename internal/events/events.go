// Package events publishes promotion lifecycle notifications.
package events

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
)

// Type names an event.
type Type string

const (
	TypePromotionRedeemed  Type = "promotion.redeemed"
	TypePromotionReleased  Type = "promotion.released"
	TypePromotionExpired   Type = "promotion.expired"
	TypeProductSaleExpired Type = "product_sale.expired"
	TypeBundleRepriced     Type = "bundle.repriced"
	TypeBundleDeactivated  Type = "bundle.deactivated"
)

// Event is a flat envelope. Subject is the ID of the aggregate the event is
// about and doubles as the partition key.
type Event struct {
	ID         string
	Type       Type
	Subject    string
	OrderID    string
	UserID     string
	Amount     *decimal.Decimal
	Count      int64
	OccurredAt time.Time
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, ...Event) error { return nil }

// Encode writes the event as a JSON object, omitting empty fields.
func (e Event) Encode(enc *jx.Encoder) {
	enc.ObjStart()
	enc.FieldStart("id")
	enc.Str(e.ID)
	enc.FieldStart("type")
	enc.Str(string(e.Type))
	enc.FieldStart("subject")
	enc.Str(e.Subject)
	if e.OrderID != "" {
		enc.FieldStart("order_id")
		enc.Str(e.OrderID)
	}
	if e.UserID != "" {
		enc.FieldStart("user_id")
		enc.Str(e.UserID)
	}
	if e.Amount != nil {
		enc.FieldStart("amount")
		enc.Str(e.Amount.StringFixed(2))
	}
	if e.Count != 0 {
		enc.FieldStart("count")
		enc.Int64(e.Count)
	}
	enc.FieldStart("occurred_at")
	enc.Str(e.OccurredAt.UTC().Format(time.RFC3339Nano))
	enc.ObjEnd()
}

// MarshalJSON implements json.Marshaler.
func (e Event) MarshalJSON() ([]byte, error) {
	var enc jx.Encoder
	e.Encode(&enc)
	return enc.Bytes(), nil
}

// Decode reads an event written by Encode. Unknown fields are skipped.
func (e *Event) Decode(d *jx.Decoder) error {
	return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "id":
			e.ID, err = d.Str()
		case "type":
			var s string
			s, err = d.Str()
			e.Type = Type(s)
		case "subject":
			e.Subject, err = d.Str()
		case "order_id":
			e.OrderID, err = d.Str()
		case "user_id":
			e.UserID, err = d.Str()
		case "amount":
			var s string
			if s, err = d.Str(); err != nil {
				break
			}
			amount, perr := decimal.NewFromString(s)
			if perr != nil {
				return errors.Wrap(perr, "parse amount")
			}
			e.Amount = &amount
		case "count":
			e.Count, err = d.Int64()
		case "occurred_at":
			var s string
			if s, err = d.Str(); err != nil {
				break
			}
			t, perr := time.Parse(time.RFC3339Nano, s)
			if perr != nil {
				return errors.Wrap(perr, "parse occurred_at")
			}
			e.OccurredAt = t
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrapf(err, "decode %q", key)
		}
		return nil
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Event) UnmarshalJSON(data []byte) error {
	return e.Decode(jx.DecodeBytes(data))
}
