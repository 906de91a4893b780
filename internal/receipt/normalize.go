package receipt

import (
	"log/slog"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/expensehq/receipt-ocr/internal/docintel"
)

// itemsTotalTolerance absorbs per-line rounding on printed receipts.
const itemsTotalTolerance = 0.05

// lowConfidenceThreshold is the aggregate score below which a low-OCR
// warning is attached.
const lowConfidenceThreshold = 0.8

var (
	// Pattern: # followed by 5-10 digits
	hashNumberPattern = regexp.MustCompile(`#(\d{5,10})`)
	// Pattern: Receipt: 12345, Rcpt No 12345, TXN#12345, ...
	labeledNumberPattern = regexp.MustCompile(`(?i)(?:receipt|rcpt|trans|txn)[\s:#-]*(\d{5,10})`)
)

// dateLayouts are tried in order when the provider returns the transaction
// date as free text.
var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"02-01-2006",
}

// Normalize projects one detected receipt document into the canonical
// record, its warning list and a raw-debug view of the provider fields.
// It is total: anomalies degrade into defaults and warnings, never errors.
func Normalize(fields docintel.FieldBag, content string) (*ReceiptRecord, []Warning, *RawDebug) {
	merchant := fields["MerchantName"]
	total := fields["Total"]
	date := fields["TransactionDate"]
	tax := fields["TotalTax"]
	if !tax.Present() {
		tax = fields["Tax"]
	}

	receiptNumber := receiptNumberOf(fields, content)
	paymentRaw := stringOf(fields["PaymentMethod"])
	payment := paymentMethodOf(paymentRaw)

	transactionTotal := 0.0
	if amt := amountOf(total); amt != nil {
		transactionTotal = *amt
	}

	items := reconcileItems(fields["Items"], merchant, transactionTotal, amountOf(tax))

	itemsTotal := 0.0
	for _, item := range items {
		itemsTotal += item.LineAmount
	}
	matches := math.Abs(itemsTotal-transactionTotal) < itemsTotalTolerance

	record := &ReceiptRecord{
		MerchantName:      merchantNameOf(merchant),
		TransactionAmount: transactionTotal,
		TransactionDate:   normalizeDate(date),
		ReceiptNumber:     receiptNumber,
		TaxAmount:         amountOf(tax),
		PaymentMethod:     payment,
		Items:             items,
		Confidence:        aggregateConfidence(merchant, total, date),
		StatusCode:        StatusMachineProcessed,
		ManuallyEntered:   false,
		ItemsTotalMatches: matches,
	}
	if !matches {
		// Banker's rounding, matching how the consuming expense database
		// rounds money.
		diff, _ := decimal.NewFromFloat(transactionTotal).
			Sub(decimal.NewFromFloat(itemsTotal)).
			RoundBank(2).
			Float64()
		record.ItemsTotalDifference = &diff
	}

	warnings := buildWarnings(record, itemsTotal, transactionTotal)
	raw := buildRawDebug(fields, transactionTotal, paymentRaw, record, itemsTotal)

	return record, warnings, raw
}

// amountOf returns the numeric amount carried by a field, whether the
// provider typed it as a currency value, a bare number, or numeric text.
// It is total over optional fields: absent or non-numeric yields nil.
func amountOf(f docintel.Field) *float64 {
	switch f.Kind {
	case docintel.FieldCurrency:
		v := f.Amount
		return &v
	case docintel.FieldNumber:
		v := f.Number
		return &v
	case docintel.FieldString:
		if v, err := strconv.ParseFloat(strings.TrimSpace(f.Str), 64); err == nil {
			return &v
		}
	}
	return nil
}

// stringOf returns a field's value as text, or "" when absent.
func stringOf(f docintel.Field) string {
	switch f.Kind {
	case docintel.FieldString:
		return strings.TrimSpace(f.Str)
	case docintel.FieldNumber:
		return strconv.FormatFloat(f.Number, 'f', -1, 64)
	}
	return ""
}

// cardKeywords cover generic descriptors and common brand names.
var cardKeywords = []string{"card", "credit", "debit", "visa", "mastercard", "amex"}

// paymentMethodOf canonicalizes a free-text payment descriptor to card or
// cash. EFTPOS always maps to card; the cash check runs after the card
// checks; anything unrecognized, including empty input, defaults to card.
// The card-favoring default is a business rule, not a heuristic.
func paymentMethodOf(raw string) string {
	if raw == "" {
		return PaymentCard
	}

	lower := strings.ToLower(strings.TrimSpace(raw))

	if strings.Contains(lower, "eftpos") {
		return PaymentCard
	}
	for _, keyword := range cardKeywords {
		if strings.Contains(lower, keyword) {
			return PaymentCard
		}
	}
	if strings.Contains(lower, "cash") {
		return PaymentCash
	}

	return PaymentCard
}

// receiptNumberOf resolves a receipt identifier via an ordered strategy
// chain; first match wins. Returns "" when every strategy misses.
func receiptNumberOf(fields docintel.FieldBag, content string) string {
	for _, name := range []string{"ReceiptNumber", "TransactionId", "InvoiceNumber"} {
		if s := stringOf(fields[name]); s != "" {
			return s
		}
	}

	if m := hashNumberPattern.FindStringSubmatch(content); m != nil {
		return m[1]
	}
	if m := labeledNumberPattern.FindStringSubmatch(content); m != nil {
		return m[1]
	}

	return ""
}

// merchantNameOf returns the detected merchant name or the sentinel.
func merchantNameOf(f docintel.Field) string {
	if s := stringOf(f); s != "" {
		return s
	}
	return UnknownMerchant
}

// normalizeDate best-effort formats the transaction date as YYYY-MM-DD.
// Unparseable strings pass through unchanged: downstream consumers treat
// non-ISO dates as degraded but present.
func normalizeDate(f docintel.Field) string {
	switch f.Kind {
	case docintel.FieldDate:
		return f.Date.Format("2006-01-02")
	case docintel.FieldString:
		raw := strings.TrimSpace(f.Str)
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, raw); err == nil {
				return t.Format("2006-01-02")
			}
		}
		return raw
	}
	return ""
}

// reconcileItems extracts canonical line items from the provider's item
// collection. Entries with neither a description nor an amount are
// skipped; malformed entries are logged and skipped, never fatal. When
// nothing survives, exactly one synthetic item is fabricated from the
// top-level fields so the record always has at least one line.
func reconcileItems(itemsField, merchant docintel.Field, transactionTotal float64, taxAmount *float64) []LineItem {
	items := make([]LineItem, 0)

	if itemsField.Kind == docintel.FieldList {
		for _, entry := range itemsField.List {
			if entry.Kind != docintel.FieldObject {
				slog.Warn("Skipping malformed line item", "kind", entry.Kind.String())
				continue
			}

			bag := entry.Object
			description := stringOf(bag["Description"])
			lineAmount := amountOf(bag["TotalPrice"])

			// Sole exclusion rule: an item must carry a description or
			// an amount to be emitted.
			if description == "" && lineAmount == nil {
				continue
			}
			if description == "" {
				description = "Item"
			}

			amount := 0.0
			if lineAmount != nil {
				amount = *lineAmount
			}

			items = append(items, LineItem{
				LineNumber:  len(items) + 1,
				Description: description,
				Quantity:    amountOf(bag["Quantity"]),
				UnitPrice:   amountOf(bag["Price"]),
				LineAmount:  amount,
				TaxAmount:   amountOf(bag["Tax"]),
			})
		}
	}

	if len(items) == 0 {
		description := stringOf(merchant)
		if description == "" {
			description = unknownItem
		}
		quantity := 1.0
		unitPrice := transactionTotal
		items = append(items, LineItem{
			LineNumber:  1,
			Description: description,
			Quantity:    &quantity,
			UnitPrice:   &unitPrice,
			LineAmount:  transactionTotal,
			TaxAmount:   taxAmount,
			Notes:       syntheticItemNote,
		})
	}

	return items
}

// aggregateConfidence averages the confidence scores of the fields that
// carry one; absent scores are ignored, not zero-filled. Returns 0 when
// none carry a score.
func aggregateConfidence(fields ...docintel.Field) float64 {
	var sum float64
	var count int
	for _, f := range fields {
		if f.Present() && f.Confidence != nil {
			sum += *f.Confidence
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

// buildWarnings emits data-quality warnings in a fixed order: total
// mismatch, low confidence, missing receipt number, synthetic fallback.
// The order is part of the contract.
func buildWarnings(record *ReceiptRecord, itemsTotal, transactionTotal float64) []Warning {
	var warnings []Warning

	if !record.ItemsTotalMatches {
		warnings = append(warnings, Warning{
			Kind:          WarnTotalMismatch,
			ItemsTotal:    itemsTotal,
			DeclaredTotal: transactionTotal,
		})
	}
	if record.Confidence < lowConfidenceThreshold {
		warnings = append(warnings, Warning{Kind: WarnLowConfidence, Confidence: record.Confidence})
	}
	if record.ReceiptNumber == "" {
		warnings = append(warnings, Warning{Kind: WarnMissingReceiptNumber})
	}
	if len(record.Items) == 1 && record.Items[0].Notes == syntheticItemNote {
		warnings = append(warnings, Warning{Kind: WarnSyntheticLineItem})
	}

	return warnings
}

// buildRawDebug projects the original provider fields for audit.
func buildRawDebug(fields docintel.FieldBag, transactionTotal float64, paymentRaw string, record *ReceiptRecord, itemsTotal float64) *RawDebug {
	merchant := fields["MerchantName"]
	total := fields["Total"]
	date := fields["TransactionDate"]
	tax := fields["TotalTax"]
	if !tax.Present() {
		tax = fields["Tax"]
	}

	receiptNumberSource := "Not found"
	if record.ReceiptNumber != "" {
		receiptNumberSource = "Extracted from OCR"
	}

	allFields := make([]string, 0, len(fields))
	for name := range fields {
		allFields = append(allFields, name)
	}
	sort.Strings(allFields)

	return &RawDebug{
		MerchantName:        RawValue{Value: fieldValue(merchant), Confidence: merchant.Confidence},
		Total:               RawValue{Value: transactionTotal, Confidence: total.Confidence},
		TransactionDate:     RawValue{Value: fieldValue(date), Confidence: date.Confidence},
		Tax:                 RawValue{Value: anyAmount(tax), Confidence: tax.Confidence},
		PaymentMethodRaw:    paymentRaw,
		PaymentMethodMapped: record.PaymentMethod,
		ReceiptNumberSource: receiptNumberSource,
		ItemsCount:          len(record.Items),
		ItemsTotal:          itemsTotal,
		ItemsMatchTotal:     record.ItemsTotalMatches,
		AllFields:           allFields,
	}
}

func fieldValue(f docintel.Field) any {
	switch f.Kind {
	case docintel.FieldString:
		return f.Str
	case docintel.FieldNumber:
		return f.Number
	case docintel.FieldDate:
		return f.Date.Format("2006-01-02")
	case docintel.FieldCurrency:
		return f.Amount
	}
	return nil
}

func anyAmount(f docintel.Field) any {
	if amt := amountOf(f); amt != nil {
		return *amt
	}
	return nil
}
