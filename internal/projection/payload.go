package projection

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/alphagov/pay-ledger-sub002/internal/models"
)

// payloadReader extracts typed fields from a merged digest payload and
// collects coercion failures.
type payloadReader struct {
	payload map[string]any
	errs    []*MalformedPayloadError
}

func newPayloadReader(payload map[string]any) *payloadReader {
	if payload == nil {
		payload = map[string]any{}
	}
	return &payloadReader{payload: payload}
}

func (r *payloadReader) malformed(field string, value any, reason string) {
	r.errs = append(r.errs, &MalformedPayloadError{Field: field, Value: value, Reason: reason})
}

func (r *payloadReader) lookup(key string) (any, bool) {
	v, ok := r.payload[key]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// String returns the value at key as a string. Numbers and booleans are formatted.
func (r *payloadReader) String(key string) *string {
	v, ok := r.lookup(key)
	if !ok {
		return nil
	}
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case float64:
		s = strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		s = t.String()
	case bool:
		s = strconv.FormatBool(t)
	default:
		r.malformed(key, v, fmt.Sprintf("expected string, got %T", v))
		return nil
	}
	return &s
}

// maxExactInt is the largest magnitude a JSON number holds without losing
// integer precision.
const maxExactInt = 1 << 53

// Int64 returns the value at key as an integer, accepting JSON numbers
// without a fractional part and numeric strings.
func (r *payloadReader) Int64(key string) *int64 {
	v, ok := r.lookup(key)
	if !ok {
		return nil
	}
	var n int64
	switch t := v.(type) {
	case float64:
		if t != math.Trunc(t) || math.IsInf(t, 0) || math.IsNaN(t) {
			r.malformed(key, v, "not an integer")
			return nil
		}
		if math.Abs(t) > maxExactInt {
			r.malformed(key, v, "out of range")
			return nil
		}
		n = int64(t)
	case int:
		n = int64(t)
	case int64:
		n = t
	case json.Number:
		i, err := t.Int64()
		if err != nil {
			r.malformed(key, v, "not an integer")
			return nil
		}
		n = i
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			r.malformed(key, v, "not a numeric string")
			return nil
		}
		n = i
	default:
		r.malformed(key, v, fmt.Sprintf("expected integer, got %T", v))
		return nil
	}
	return &n
}

// Bool returns the value at key as a boolean, accepting "true"/"false" strings.
func (r *payloadReader) Bool(key string) *bool {
	v, ok := r.lookup(key)
	if !ok {
		return nil
	}
	switch t := v.(type) {
	case bool:
		return &t
	case string:
		b, err := strconv.ParseBool(t)
		if err != nil {
			r.malformed(key, v, "not a boolean")
			return nil
		}
		return &b
	}
	r.malformed(key, v, fmt.Sprintf("expected boolean, got %T", v))
	return nil
}

// Time returns the value at key parsed as an ISO-8601 timestamp.
func (r *payloadReader) Time(key string) *time.Time {
	v, ok := r.lookup(key)
	if !ok {
		return nil
	}
	s, isString := v.(string)
	if !isString {
		r.malformed(key, v, fmt.Sprintf("expected timestamp string, got %T", v))
		return nil
	}
	t, err := models.ParseTimestamp(s)
	if err != nil {
		r.malformed(key, v, "not an ISO-8601 timestamp")
		return nil
	}
	return &t
}

// Object returns the value at key when it is a JSON object.
func (r *payloadReader) Object(key string) map[string]any {
	v, ok := r.lookup(key)
	if !ok {
		return nil
	}
	m, isMap := v.(map[string]any)
	if !isMap {
		r.malformed(key, v, fmt.Sprintf("expected object, got %T", v))
		return nil
	}
	return m
}

// CardDetails is assembled from the flat card_* payload keys.
type CardDetails struct {
	CardholderName        *string  `json:"cardholder_name,omitempty"`
	CardBrand             *string  `json:"card_brand,omitempty"`
	CardType              *string  `json:"card_type,omitempty"`
	LastDigitsCardNumber  *string  `json:"last_digits_card_number,omitempty"`
	FirstDigitsCardNumber *string  `json:"first_digits_card_number,omitempty"`
	ExpiryDate            *string  `json:"expiry_date,omitempty"`
	BillingAddress        *Address `json:"billing_address,omitempty"`
}

// Address is a billing address assembled from the flat address_* payload keys.
type Address struct {
	Line1    *string `json:"line1,omitempty"`
	Line2    *string `json:"line2,omitempty"`
	Postcode *string `json:"postcode,omitempty"`
	City     *string `json:"city,omitempty"`
	County   *string `json:"county,omitempty"`
	Country  *string `json:"country,omitempty"`
}

// Address returns the billing address, or nil when no address key is present.
func (r *payloadReader) Address() *Address {
	a := &Address{
		Line1:    r.String("address_line1"),
		Line2:    r.String("address_line2"),
		Postcode: r.String("address_postcode"),
		City:     r.String("address_city"),
		County:   r.String("address_county"),
		Country:  r.String("address_country"),
	}
	if *a == (Address{}) {
		return nil
	}
	return a
}

// CardDetails returns the card details, or nil when no card key is present.
func (r *payloadReader) CardDetails() *CardDetails {
	c := &CardDetails{
		CardholderName:        r.String("cardholder_name"),
		CardBrand:             r.String("card_brand"),
		CardType:              r.String("card_type"),
		LastDigitsCardNumber:  r.String("last_digits_card_number"),
		FirstDigitsCardNumber: r.String("first_digits_card_number"),
		ExpiryDate:            r.String("expiry_date"),
		BillingAddress:        r.Address(),
	}
	if *c == (CardDetails{}) {
		return nil
	}
	return c
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
