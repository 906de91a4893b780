package receipt

import (
	"time"

	"github.com/expensehq/receipt-ocr/internal/docintel"
)

const (
	// UnknownMerchant is the sentinel merchant name when the provider
	// detects none.
	UnknownMerchant = "Unknown Merchant"

	// unknownItem is the description for the synthetic line item when the
	// merchant name is also missing.
	unknownItem = "Unknown Item"

	// syntheticItemNote marks the fabricated line item emitted when the
	// provider detects no line-level detail. The warning generator keys
	// off this exact string.
	syntheticItemNote = "Auto-generated: No line items detected"
)

// Payment methods the expense database accepts.
const (
	PaymentCard = "card"
	PaymentCash = "cash"
)

// StatusMachineProcessed is the receipt status for records produced by
// this service rather than manual entry.
const StatusMachineProcessed = 2

// LineItem is one canonical receipt line. Line numbers are dense and
// 1-based in emission order.
type LineItem struct {
	LineNumber  int      `json:"line_number"`
	Description string   `json:"description"`
	Quantity    *float64 `json:"quantity,omitempty"`
	UnitPrice   *float64 `json:"unit_price,omitempty"`
	LineAmount  float64  `json:"line_amount"`
	TaxAmount   *float64 `json:"tax_amount,omitempty"`
	Category    string   `json:"category,omitempty"`
	Notes       string   `json:"notes,omitempty"`
}

// ReceiptRecord is the canonical, schema-conformant receipt produced by
// normalization. Items is never empty.
type ReceiptRecord struct {
	MerchantName         string     `json:"merchant_name"`
	TransactionAmount    float64    `json:"transaction_amount"`
	TransactionDate      string     `json:"transaction_date"`
	ReceiptNumber        string     `json:"receipt_number,omitempty"`
	TaxAmount            *float64   `json:"tax_amount,omitempty"`
	PaymentMethod        string     `json:"payment_method"`
	Items                []LineItem `json:"items"`
	Confidence           float64    `json:"confidence"`
	StatusCode           int        `json:"status_code"`
	ManuallyEntered      bool       `json:"manually_entered"`
	ItemsTotalMatches    bool       `json:"items_total_matches"`
	ItemsTotalDifference *float64   `json:"items_total_difference,omitempty"`
}

// RawValue is one provider field in the raw-debug projection.
type RawValue struct {
	Value      any      `json:"value"`
	Confidence *float64 `json:"confidence"`
}

// RawDebug is an audit projection of the provider fields that fed the
// record, independent of the engine's policy decisions.
type RawDebug struct {
	MerchantName        RawValue `json:"merchant_name"`
	Total               RawValue `json:"total"`
	TransactionDate     RawValue `json:"transaction_date"`
	Tax                 RawValue `json:"tax"`
	PaymentMethodRaw    string   `json:"payment_method_raw,omitempty"`
	PaymentMethodMapped string   `json:"payment_method_mapped"`
	ReceiptNumberSource string   `json:"receipt_number_source"`
	ItemsCount          int      `json:"items_count"`
	ItemsTotal          float64  `json:"items_total"`
	ItemsMatchTotal     bool     `json:"items_match_total"`
	AllFields           []string `json:"all_fields"`
}

// ExtractionResult is the outcome of one extraction request. Exactly one
// of (Record, Success=true) or (Error, Success=false) holds.
type ExtractionResult struct {
	Success  bool           `json:"success"`
	Record   *ReceiptRecord `json:"record,omitempty"`
	Warnings []Warning      `json:"warnings,omitempty"`
	RawDebug *RawDebug      `json:"raw_debug,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// RawExtractionResult is the debug-only outcome carrying the unmodified
// provider response.
type RawExtractionResult struct {
	Success  bool             `json:"success"`
	Response *docintel.Result `json:"raw_response,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// Extraction is one archived extraction: the stored upload plus the
// normalized record, kept for audit.
type Extraction struct {
	ID          string         `json:"id"`
	Filename    string         `json:"filename"`
	StoredPath  string         `json:"stored_path,omitempty"`
	ContentType string         `json:"content_type"`
	CreatedAt   time.Time      `json:"created_at"`
	Record      *ReceiptRecord `json:"record"`
	Warnings    []string       `json:"warnings,omitempty"`
}
