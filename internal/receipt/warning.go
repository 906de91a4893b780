package receipt

import (
	"encoding/json"
	"fmt"
)

// WarningKind discriminates data-quality findings so tests and callers can
// match on the kind instead of message wording.
type WarningKind int

const (
	// WarnTotalMismatch: line-item amounts disagree with the declared
	// total beyond tolerance.
	WarnTotalMismatch WarningKind = iota
	// WarnLowConfidence: aggregate provider confidence is below 0.8.
	WarnLowConfidence
	// WarnMissingReceiptNumber: no strategy resolved a receipt number.
	WarnMissingReceiptNumber
	// WarnSyntheticLineItem: the single fallback line item was fabricated.
	WarnSyntheticLineItem
)

// Warning is one data-quality finding attached to a successful extraction.
type Warning struct {
	Kind          WarningKind
	ItemsTotal    float64
	DeclaredTotal float64
	Confidence    float64
}

// String renders the human-readable message consumers see.
func (w Warning) String() string {
	switch w.Kind {
	case WarnTotalMismatch:
		return fmt.Sprintf("Line items total ($%.2f) does not match transaction amount ($%.2f)",
			w.ItemsTotal, w.DeclaredTotal)
	case WarnLowConfidence:
		return fmt.Sprintf("Low OCR confidence: %.1f%%", w.Confidence*100)
	case WarnMissingReceiptNumber:
		return "Receipt number not found"
	case WarnSyntheticLineItem:
		return "No line items detected - created default item"
	}
	return ""
}

// MarshalJSON renders warnings as plain strings on the wire.
func (w Warning) MarshalJSON() ([]byte, error) {
	return json.Marshal(w.String())
}

// renderWarnings converts warnings to their wire strings for storage.
func renderWarnings(warnings []Warning) []string {
	if len(warnings) == 0 {
		return nil
	}
	rendered := make([]string, len(warnings))
	for i, w := range warnings {
		rendered[i] = w.String()
	}
	return rendered
}
