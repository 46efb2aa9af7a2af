package promotion

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
)

// EncodeBenefits writes b as a JSON object. A nil b is written as null.
func EncodeBenefits(e *jx.Encoder, b Benefits) {
	if b == nil {
		e.Null()
		return
	}
	e.ObjStart()
	switch b := b.(type) {
	case PercentageOff:
		encodeDecimal(e, "percentage", b.Percentage)
		if b.MaxDiscount != nil {
			encodeDecimal(e, "max_discount", *b.MaxDiscount)
		}
	case FixedAmountOff:
		encodeDecimal(e, "amount", b.Amount)
	case FlashSale:
		encodeDecimal(e, "percentage", b.Percentage)
	case BundleOffer:
		e.FieldStart("items")
		e.ArrStart()
		for _, it := range b.Items {
			e.ObjStart()
			e.FieldStart("product_id")
			e.Str(it.ProductID)
			e.FieldStart("quantity")
			e.Int(it.Quantity)
			e.FieldStart("required")
			e.Bool(it.Required)
			e.ObjEnd()
		}
		e.ArrEnd()
		encodeDecimal(e, "bundle_price", b.BundlePrice)
	case BuyXGetY:
		e.FieldStart("buy_quantity")
		e.Int(b.BuyQuantity)
		e.FieldStart("get_quantity")
		e.Int(b.GetQuantity)
		if len(b.GetProductIDs) > 0 {
			e.FieldStart("get_product_ids")
			e.ArrStart()
			for _, id := range b.GetProductIDs {
				e.Str(id)
			}
			e.ArrEnd()
		}
	case SpendXGetY:
		encodeDecimal(e, "discount", b.Discount)
	case FreeShipping:
		e.FieldStart("enabled")
		e.Bool(b.Enabled)
	case GiftWithPurchase:
		encodeGifts(e, "gifts", b.Gifts)
	case PointsMultiplier:
		encodeDecimal(e, "multiplier", b.Multiplier)
	case FreeSample:
		encodeGifts(e, "samples", b.Samples)
		e.FieldStart("max_samples_per_order")
		e.Int(b.MaxSamplesPerOrder)
	}
	e.ObjEnd()
}

// MarshalBenefits returns the JSON form of b.
func MarshalBenefits(b Benefits) []byte {
	var e jx.Encoder
	EncodeBenefits(&e, b)
	return e.Bytes()
}

// DecodeBenefits reads the benefits object of a promotion of type t.
// Unknown fields are skipped; null yields nil benefits.
func DecodeBenefits(t Type, d *jx.Decoder) (Benefits, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}

	var (
		percentage, maxDiscount, amount, bundlePrice, discount, multiplier *decimal.Decimal
		items                                                              []BundleOfferItem
		buyQty, getQty, maxSamples                                         int
		getIDs                                                             []string
		enabled                                                            bool
		gifts, samples                                                     []Gift
	)
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "percentage":
			percentage, err = decodeDecimal(d)
		case "max_discount":
			maxDiscount, err = decodeDecimal(d)
		case "amount":
			amount, err = decodeDecimal(d)
		case "bundle_price":
			bundlePrice, err = decodeDecimal(d)
		case "discount":
			discount, err = decodeDecimal(d)
		case "multiplier":
			multiplier, err = decodeDecimal(d)
		case "items":
			err = d.Arr(func(d *jx.Decoder) error {
				var it BundleOfferItem
				if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
					var err error
					switch string(key) {
					case "product_id":
						it.ProductID, err = d.Str()
					case "quantity":
						it.Quantity, err = d.Int()
					case "required":
						it.Required, err = d.Bool()
					default:
						err = d.Skip()
					}
					return err
				}); err != nil {
					return err
				}
				items = append(items, it)
				return nil
			})
		case "buy_quantity":
			buyQty, err = d.Int()
		case "get_quantity":
			getQty, err = d.Int()
		case "get_product_ids":
			getIDs, err = decodeStrings(d)
		case "enabled":
			enabled, err = d.Bool()
		case "gifts":
			gifts, err = decodeGifts(d)
		case "samples":
			samples, err = decodeGifts(d)
		case "max_samples_per_order":
			maxSamples, err = d.Int()
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrapf(err, "field %q", key)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode benefits")
	}

	switch t {
	case TypePercentageOff:
		return PercentageOff{Percentage: orZero(percentage), MaxDiscount: maxDiscount}, nil
	case TypeFixedAmountOff:
		return FixedAmountOff{Amount: orZero(amount)}, nil
	case TypeFlashSale:
		return FlashSale{Percentage: orZero(percentage)}, nil
	case TypeBundleOffer:
		return BundleOffer{Items: items, BundlePrice: orZero(bundlePrice)}, nil
	case TypeBuyXGetY:
		return BuyXGetY{BuyQuantity: buyQty, GetQuantity: getQty, GetProductIDs: getIDs}, nil
	case TypeSpendXGetY:
		return SpendXGetY{Discount: orZero(discount)}, nil
	case TypeFreeShipping:
		return FreeShipping{Enabled: enabled}, nil
	case TypeGiftWithPurchase:
		return GiftWithPurchase{Gifts: gifts}, nil
	case TypePointsMultiplier:
		return PointsMultiplier{Multiplier: orZero(multiplier)}, nil
	case TypeFreeSample:
		return FreeSample{Samples: samples, MaxSamplesPerOrder: maxSamples}, nil
	default:
		return nil, errors.Errorf("unknown promotion type %q", t)
	}
}

// UnmarshalBenefits parses the JSON form of benefits for type t.
func UnmarshalBenefits(t Type, data []byte) (Benefits, error) {
	return DecodeBenefits(t, jx.DecodeBytes(data))
}

// DecodeDocument reads a promotion authored as a single JSON object, the
// format used by bulk imports. Dates are RFC 3339; conditions use their json
// field tags.
func DecodeDocument(d *jx.Decoder) (*Promotion, error) {
	p := &Promotion{Status: StatusActive, IsActive: true}
	var benefits, conditions []byte

	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "id":
			p.ID, err = d.Str()
		case "title":
			p.Title, err = d.Str()
		case "slug":
			p.Slug, err = d.Str()
		case "type":
			var s string
			s, err = d.Str()
			p.Type = Type(s)
		case "status":
			var s string
			s, err = d.Str()
			p.Status = Status(s)
		case "is_active":
			p.IsActive, err = d.Bool()
		case "stacking":
			p.Stacking, err = d.Bool()
		case "priority":
			p.Priority, err = d.Int()
		case "max_usage":
			var n int
			if n, err = d.Int(); err == nil {
				p.MaxUsage = &n
			}
		case "exclusive_with":
			p.ExclusiveWith, err = decodeStrings(d)
		case "start_date":
			p.StartDate, err = decodeTime(d)
		case "end_date":
			var end time.Time
			if end, err = decodeTime(d); err == nil {
				p.EndDate = &end
			}
		case "benefits":
			benefits, err = rawCopy(d)
		case "conditions":
			conditions, err = rawCopy(d)
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrapf(err, "field %q", key)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode promotion")
	}

	if len(conditions) > 0 {
		if err := json.Unmarshal(conditions, &p.Conditions); err != nil {
			return nil, errors.Wrap(err, "decode conditions")
		}
	}
	if len(benefits) > 0 {
		if p.Benefits, err = UnmarshalBenefits(p.Type, benefits); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func encodeDecimal(e *jx.Encoder, field string, v decimal.Decimal) {
	e.FieldStart(field)
	e.Str(v.String())
}

func encodeGifts(e *jx.Encoder, field string, gifts []Gift) {
	e.FieldStart(field)
	e.ArrStart()
	for _, g := range gifts {
		e.ObjStart()
		e.FieldStart("product_id")
		e.Str(g.ProductID)
		e.FieldStart("quantity")
		e.Int(g.Quantity)
		e.ObjEnd()
	}
	e.ArrEnd()
}

// decodeDecimal accepts both quoted and bare numbers.
func decodeDecimal(d *jx.Decoder) (*decimal.Decimal, error) {
	var s string
	switch d.Next() {
	case jx.String:
		v, err := d.Str()
		if err != nil {
			return nil, err
		}
		s = v
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return nil, err
		}
		s = n.String()
	case jx.Null:
		return nil, d.Null()
	default:
		return nil, errors.Errorf("unexpected %s for decimal", d.Next())
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func decodeStrings(d *jx.Decoder) ([]string, error) {
	var out []string
	err := d.Arr(func(d *jx.Decoder) error {
		s, err := d.Str()
		out = append(out, s)
		return err
	})
	return out, err
}

func decodeGifts(d *jx.Decoder) ([]Gift, error) {
	var out []Gift
	err := d.Arr(func(d *jx.Decoder) error {
		var g Gift
		if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
			var err error
			switch string(key) {
			case "product_id":
				g.ProductID, err = d.Str()
			case "quantity":
				g.Quantity, err = d.Int()
			default:
				err = d.Skip()
			}
			return err
		}); err != nil {
			return err
		}
		out = append(out, g)
		return nil
	})
	return out, err
}

func decodeTime(d *jx.Decoder) (time.Time, error) {
	s, err := d.Str()
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339, s)
}

// rawCopy captures the next value. Raw output aliases the decoder buffer, which
// a streaming decoder reuses.
func rawCopy(d *jx.Decoder) ([]byte, error) {
	raw, err := d.Raw()
	if err != nil {
		return nil, err
	}
	return slices.Clone([]byte(raw)), nil
}

func orZero(v *decimal.Decimal) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return *v
}
