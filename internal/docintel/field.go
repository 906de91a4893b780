package docintel

import (
	"encoding/json"
	"time"
)

// FieldKind discriminates the value variants a provider field can carry.
type FieldKind int

const (
	FieldAbsent FieldKind = iota
	FieldString
	FieldNumber
	FieldDate
	FieldCurrency
	FieldList
	FieldObject
)

func (k FieldKind) String() string {
	switch k {
	case FieldString:
		return "string"
	case FieldNumber:
		return "number"
	case FieldDate:
		return "date"
	case FieldCurrency:
		return "currency"
	case FieldList:
		return "array"
	case FieldObject:
		return "object"
	}
	return "absent"
}

// Field is a single extracted value with an optional confidence score.
// The zero value is an absent field, so indexing a FieldBag for a name the
// provider never returned is always safe.
type Field struct {
	Kind         FieldKind
	Str          string
	Number       float64
	Date         time.Time
	Amount       float64
	CurrencyCode string
	List         []Field
	Object       FieldBag
	Confidence   *float64
}

// Present reports whether the provider returned a value for this field.
func (f Field) Present() bool {
	return f.Kind != FieldAbsent
}

// WithConfidence returns a copy of the field carrying a confidence score.
func (f Field) WithConfidence(c float64) Field {
	f.Confidence = &c
	return f
}

func StringField(s string) Field {
	return Field{Kind: FieldString, Str: s}
}

func NumberField(n float64) Field {
	return Field{Kind: FieldNumber, Number: n}
}

func DateField(t time.Time) Field {
	return Field{Kind: FieldDate, Date: t}
}

func CurrencyField(amount float64, code string) Field {
	return Field{Kind: FieldCurrency, Amount: amount, CurrencyCode: code}
}

func ListField(items ...Field) Field {
	return Field{Kind: FieldList, List: items}
}

func ObjectField(bag FieldBag) Field {
	return Field{Kind: FieldObject, Object: bag}
}

// MarshalJSON renders the field as {type, value, confidence} so the raw
// debug endpoint exposes provider output in a stable shape.
func (f Field) MarshalJSON() ([]byte, error) {
	var value any
	switch f.Kind {
	case FieldString:
		value = f.Str
	case FieldNumber:
		value = f.Number
	case FieldDate:
		value = f.Date.Format("2006-01-02")
	case FieldCurrency:
		value = map[string]any{"amount": f.Amount, "currency_code": f.CurrencyCode}
	case FieldList:
		value = f.List
	case FieldObject:
		value = f.Object
	}
	return json.Marshal(struct {
		Type       string   `json:"type"`
		Value      any      `json:"value,omitempty"`
		Confidence *float64 `json:"confidence,omitempty"`
	}{
		Type:       f.Kind.String(),
		Value:      value,
		Confidence: f.Confidence,
	})
}

// FieldBag maps provider field names (e.g. "MerchantName", "Total") to
// their extracted values. Missing names yield the absent Field.
type FieldBag map[string]Field

// Result is the outcome of one document analysis call.
type Result struct {
	// Content is the full-text transcript of the document, used as a
	// fallback search corpus for values the field bag misses.
	Content string `json:"content"`
	// Documents holds one field bag per receipt the provider detected.
	Documents []FieldBag `json:"documents"`
}
