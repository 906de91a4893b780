package docintel

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Wire shapes for the LLM's field JSON. Values are pointers so an omitted
// field and a present-but-zero field stay distinguishable.
type llmString struct {
	Value      string   `json:"value"`
	Confidence *float64 `json:"confidence"`
}

type llmNumber struct {
	Value      *float64 `json:"value"`
	Confidence *float64 `json:"confidence"`
}

type llmItem struct {
	Description string   `json:"description"`
	Quantity    *float64 `json:"quantity"`
	Price       *float64 `json:"price"`
	TotalPrice  *float64 `json:"total_price"`
	Tax         *float64 `json:"tax"`
}

type llmReceipt struct {
	Content         string     `json:"content"`
	MerchantName    *llmString `json:"merchant_name"`
	Total           *llmNumber `json:"total"`
	TransactionDate *llmString `json:"transaction_date"`
	Tax             *llmNumber `json:"tax"`
	PaymentMethod   *llmString `json:"payment_method"`
	ReceiptNumber   *llmString `json:"receipt_number"`
	Items           []llmItem  `json:"items"`
}

// parseFieldJSON parses the model's JSON response into an analysis result
// with the same field names the Azure receipt model uses.
func parseFieldJSON(text string) (*Result, error) {
	// Remove markdown code blocks if present
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSpace(text)

	// Find the JSON object boundaries - look for first { and last }
	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return nil, fmt.Errorf("no JSON object found in response")
	}
	endIdx := strings.LastIndex(text, "}")
	if endIdx == -1 || endIdx < startIdx {
		return nil, fmt.Errorf("invalid JSON object in response")
	}
	text = text[startIdx : endIdx+1]

	var wire llmReceipt
	if err := json.Unmarshal([]byte(text), &wire); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}

	bag := FieldBag{}

	if s := stringFieldOf(wire.MerchantName); s.Present() {
		bag["MerchantName"] = s
	}
	if n := currencyFieldOf(wire.Total); n.Present() {
		bag["Total"] = n
	}
	if d := dateFieldOf(wire.TransactionDate); d.Present() {
		bag["TransactionDate"] = d
	}
	if n := currencyFieldOf(wire.Tax); n.Present() {
		bag["TotalTax"] = n
	}
	if s := stringFieldOf(wire.PaymentMethod); s.Present() {
		bag["PaymentMethod"] = s
	}
	if s := stringFieldOf(wire.ReceiptNumber); s.Present() {
		bag["ReceiptNumber"] = s
	}

	if len(wire.Items) > 0 {
		items := make([]Field, 0, len(wire.Items))
		for _, item := range wire.Items {
			entry := FieldBag{}
			if item.Description != "" {
				entry["Description"] = StringField(item.Description)
			}
			if item.Quantity != nil {
				entry["Quantity"] = NumberField(*item.Quantity)
			}
			if item.Price != nil {
				entry["Price"] = CurrencyField(*item.Price, "")
			}
			if item.TotalPrice != nil {
				entry["TotalPrice"] = CurrencyField(*item.TotalPrice, "")
			}
			if item.Tax != nil {
				entry["Tax"] = CurrencyField(*item.Tax, "")
			}
			items = append(items, ObjectField(entry))
		}
		bag["Items"] = ListField(items...)
	}

	return &Result{
		Content:   wire.Content,
		Documents: []FieldBag{bag},
	}, nil
}

func stringFieldOf(w *llmString) Field {
	if w == nil || strings.TrimSpace(w.Value) == "" {
		return Field{}
	}
	return Field{Kind: FieldString, Str: strings.TrimSpace(w.Value), Confidence: w.Confidence}
}

func currencyFieldOf(w *llmNumber) Field {
	if w == nil || w.Value == nil {
		return Field{}
	}
	return Field{Kind: FieldCurrency, Amount: *w.Value, Confidence: w.Confidence}
}

func dateFieldOf(w *llmString) Field {
	if w == nil || strings.TrimSpace(w.Value) == "" {
		return Field{}
	}
	raw := strings.TrimSpace(w.Value)
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return Field{Kind: FieldDate, Date: t, Confidence: w.Confidence}
	}
	// The engine decides what to do with unparseable dates
	return Field{Kind: FieldString, Str: raw, Confidence: w.Confidence}
}
