package receipt

import (
	"encoding/json"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/expensehq/receipt-ocr/internal/docintel"
)

var _ = Describe("paymentMethodOf", func() {
	DescribeTable("canonicalizing payment descriptors",
		func(raw, expected string) {
			Expect(paymentMethodOf(raw)).To(Equal(expected))
		},
		Entry("EFTPOS maps to card", "EFTPOS", PaymentCard),
		Entry("EFTPOS in a longer descriptor maps to card", "Paid by EFTPOS savings", PaymentCard),
		Entry("credit card maps to card", "VISA CREDIT", PaymentCard),
		Entry("debit maps to card", "debit", PaymentCard),
		Entry("mastercard maps to card", "Mastercard ****1234", PaymentCard),
		Entry("amex maps to card", "AMEX", PaymentCard),
		Entry("cash maps to cash", "cash", PaymentCash),
		Entry("cash tendered maps to cash", "Cash tendered", PaymentCash),
		Entry("card mention wins over cash mention", "cash out on card", PaymentCard),
		Entry("empty input defaults to card", "", PaymentCard),
		Entry("unrecognized input defaults to card", "cheque", PaymentCard),
	)
})

var _ = Describe("amountOf", func() {
	It("returns nil for an absent field", func() {
		Expect(amountOf(docintel.Field{})).To(BeNil())
	})

	It("returns the amount of a currency value", func() {
		amt := amountOf(docintel.CurrencyField(45.67, "AUD"))
		Expect(amt).NotTo(BeNil())
		Expect(*amt).To(Equal(45.67))
	})

	It("returns a bare number", func() {
		amt := amountOf(docintel.NumberField(12.5))
		Expect(amt).NotTo(BeNil())
		Expect(*amt).To(Equal(12.5))
	})

	It("parses numeric text", func() {
		amt := amountOf(docintel.StringField("45.67"))
		Expect(amt).NotTo(BeNil())
		Expect(*amt).To(Equal(45.67))
	})

	It("returns nil for non-numeric text", func() {
		Expect(amountOf(docintel.StringField("forty five"))).To(BeNil())
	})
})

var _ = Describe("receiptNumberOf", func() {
	It("prefers a direct receipt number field over the transcript", func() {
		bag := docintel.FieldBag{
			"ReceiptNumber": docintel.StringField("R-9001"),
		}
		Expect(receiptNumberOf(bag, "see #123456")).To(Equal("R-9001"))
	})

	It("falls back to the transaction id field", func() {
		bag := docintel.FieldBag{
			"TransactionId": docintel.NumberField(778899),
		}
		Expect(receiptNumberOf(bag, "")).To(Equal("778899"))
	})

	It("falls back to the invoice number field", func() {
		bag := docintel.FieldBag{
			"InvoiceNumber": docintel.StringField("INV-42"),
		}
		Expect(receiptNumberOf(bag, "")).To(Equal("INV-42"))
	})

	It("finds a hash-prefixed token in the transcript", func() {
		Expect(receiptNumberOf(docintel.FieldBag{}, "STORE 42\n#796850\nTOTAL")).To(Equal("796850"))
	})

	It("finds a labeled token in the transcript", func() {
		Expect(receiptNumberOf(docintel.FieldBag{}, "Receipt: 88213")).To(Equal("88213"))
	})

	It("matches labels case-insensitively with separators", func() {
		Expect(receiptNumberOf(docintel.FieldBag{}, "TXN#-1234567 approved")).To(Equal("1234567"))
	})

	It("ignores tokens with too few digits", func() {
		Expect(receiptNumberOf(docintel.FieldBag{}, "#1234")).To(BeEmpty())
	})

	It("returns empty when nothing matches", func() {
		Expect(receiptNumberOf(docintel.FieldBag{}, "no identifiers here")).To(BeEmpty())
	})
})

var _ = Describe("normalizeDate", func() {
	It("formats a structured date", func() {
		f := docintel.DateField(time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC))
		Expect(normalizeDate(f)).To(Equal("2024-03-15"))
	})

	DescribeTable("reformatting date strings",
		func(raw, expected string) {
			Expect(normalizeDate(docintel.StringField(raw))).To(Equal(expected))
		},
		Entry("ISO passes through", "2024-03-15", "2024-03-15"),
		Entry("slash-separated ISO", "2024/03/15", "2024-03-15"),
		Entry("US style", "03/15/2024", "2024-03-15"),
		Entry("day-first style", "15-03-2024", "2024-03-15"),
		Entry("unparseable strings pass through unchanged", "15th of March", "15th of March"),
	)

	It("returns empty for an absent field", func() {
		Expect(normalizeDate(docintel.Field{})).To(BeEmpty())
	})
})

var _ = Describe("aggregateConfidence", func() {
	It("averages the present scores", func() {
		c := aggregateConfidence(
			docintel.StringField("a").WithConfidence(0.9),
			docintel.NumberField(1).WithConfidence(0.7),
		)
		Expect(c).To(BeNumerically("~", 0.8, 1e-9))
	})

	It("ignores fields without a score instead of zero-filling", func() {
		c := aggregateConfidence(
			docintel.StringField("a"),
			docintel.NumberField(1).WithConfidence(0.95),
			docintel.StringField("b").WithConfidence(0.91),
		)
		Expect(c).To(BeNumerically("~", 0.93, 1e-9))
	})

	It("returns 0 when no field carries a score", func() {
		Expect(aggregateConfidence(docintel.StringField("a"), docintel.Field{})).To(BeZero())
	})
})

var _ = Describe("Normalize", func() {
	var (
		fields   docintel.FieldBag
		content  string
		record   *ReceiptRecord
		warnings []Warning
		raw      *RawDebug
	)

	BeforeEach(func() {
		content = ""
	})

	JustBeforeEach(func() {
		record, warnings, raw = Normalize(fields, content)
	})

	// Merchant and date carry scores; two items sum exactly to the total.
	woolworthsBag := func() docintel.FieldBag {
		return docintel.FieldBag{
			"MerchantName": docintel.StringField("Woolworths"),
			"Total":        docintel.CurrencyField(45.67, "AUD").WithConfidence(0.95),
			"TransactionDate": docintel.DateField(
				time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)).WithConfidence(0.91),
			"TotalTax": docintel.CurrencyField(4.15, "AUD"),
			"Items": docintel.ListField(
				docintel.ObjectField(docintel.FieldBag{
					"Description": docintel.StringField("Milk 2L"),
					"Quantity":    docintel.NumberField(2),
					"Price":       docintel.CurrencyField(3.10, "AUD"),
					"TotalPrice":  docintel.CurrencyField(6.20, "AUD"),
				}),
				docintel.ObjectField(docintel.FieldBag{
					"Description": docintel.StringField("Groceries"),
					"TotalPrice":  docintel.CurrencyField(39.47, "AUD"),
				}),
			),
		}
	}

	When("normalizing a well-detected receipt", func() {
		BeforeEach(func() {
			fields = woolworthsBag()
			content = "WOOLWORTHS\nReceipt: 88213\nTOTAL $45.67"
		})

		It("carries the merchant and total through", func() {
			Expect(record.MerchantName).To(Equal("Woolworths"))
			Expect(record.TransactionAmount).To(Equal(45.67))
			Expect(record.TransactionDate).To(Equal("2024-03-15"))
		})

		It("resolves the receipt number from the transcript", func() {
			Expect(record.ReceiptNumber).To(Equal("88213"))
		})

		It("numbers the line items densely from 1", func() {
			Expect(record.Items).To(HaveLen(2))
			Expect(record.Items[0].LineNumber).To(Equal(1))
			Expect(record.Items[1].LineNumber).To(Equal(2))
		})

		It("extracts line item detail", func() {
			Expect(record.Items[0].Description).To(Equal("Milk 2L"))
			Expect(*record.Items[0].Quantity).To(Equal(2.0))
			Expect(*record.Items[0].UnitPrice).To(Equal(3.10))
			Expect(record.Items[0].LineAmount).To(Equal(6.20))
		})

		It("matches the items total within tolerance", func() {
			Expect(record.ItemsTotalMatches).To(BeTrue())
			Expect(record.ItemsTotalDifference).To(BeNil())
		})

		It("averages the confidences that are present", func() {
			Expect(record.Confidence).To(BeNumerically("~", 0.93, 1e-9))
		})

		It("defaults the payment method to card", func() {
			Expect(record.PaymentMethod).To(Equal(PaymentCard))
		})

		It("sets the machine-processed metadata", func() {
			Expect(record.StatusCode).To(Equal(StatusMachineProcessed))
			Expect(record.ManuallyEntered).To(BeFalse())
		})

		It("emits no warnings", func() {
			Expect(warnings).To(BeEmpty())
		})

		It("projects the raw fields for audit", func() {
			Expect(raw.ReceiptNumberSource).To(Equal("Extracted from OCR"))
			Expect(raw.ItemsCount).To(Equal(2))
			Expect(raw.ItemsMatchTotal).To(BeTrue())
			Expect(raw.AllFields).To(Equal([]string{"Items", "MerchantName", "Total", "TotalTax", "TransactionDate"}))
		})
	})

	When("the line items disagree with the declared total", func() {
		BeforeEach(func() {
			fields = woolworthsBag()
			fields["Items"] = docintel.ListField(
				docintel.ObjectField(docintel.FieldBag{
					"Description": docintel.StringField("Groceries"),
					"TotalPrice":  docintel.CurrencyField(40.00, "AUD"),
				}),
			)
			content = "Receipt: 88213"
		})

		It("reports the mismatch", func() {
			Expect(record.ItemsTotalMatches).To(BeFalse())
			Expect(record.ItemsTotalDifference).NotTo(BeNil())
			Expect(*record.ItemsTotalDifference).To(Equal(5.67))
		})

		It("rounds a half-cent difference to the nearest even cent", func() {
			fields["Items"] = docintel.ListField(
				docintel.ObjectField(docintel.FieldBag{
					"Description": docintel.StringField("Groceries"),
					"TotalPrice":  docintel.CurrencyField(40.005, "AUD"),
				}),
			)
			record, _, _ := Normalize(fields, content)

			Expect(record.ItemsTotalDifference).NotTo(BeNil())
			Expect(*record.ItemsTotalDifference).To(Equal(5.66))
		})

		It("emits a mismatch warning with both formatted amounts", func() {
			Expect(warnings).To(HaveLen(1))
			Expect(warnings[0].Kind).To(Equal(WarnTotalMismatch))
			Expect(warnings[0].String()).To(ContainSubstring("$40.00"))
			Expect(warnings[0].String()).To(ContainSubstring("$45.67"))
		})
	})

	When("the field bag is entirely empty", func() {
		BeforeEach(func() {
			fields = docintel.FieldBag{}
		})

		It("falls back to the merchant sentinel", func() {
			Expect(record.MerchantName).To(Equal(UnknownMerchant))
		})

		It("defaults the amount and date", func() {
			Expect(record.TransactionAmount).To(BeZero())
			Expect(record.TransactionDate).To(BeEmpty())
		})

		It("synthesizes exactly one line item with amount 0", func() {
			Expect(record.Items).To(HaveLen(1))
			Expect(record.Items[0].Description).To(Equal("Unknown Item"))
			Expect(record.Items[0].LineAmount).To(BeZero())
			Expect(record.Items[0].Notes).To(Equal("Auto-generated: No line items detected"))
		})

		It("reports zero confidence", func() {
			Expect(record.Confidence).To(BeZero())
		})

		It("stays within tolerance since both totals are zero", func() {
			Expect(record.ItemsTotalMatches).To(BeTrue())
		})

		It("emits low-confidence, missing-number and synthetic warnings in order", func() {
			Expect(warnings).To(HaveLen(3))
			Expect(warnings[0].Kind).To(Equal(WarnLowConfidence))
			Expect(warnings[1].Kind).To(Equal(WarnMissingReceiptNumber))
			Expect(warnings[2].Kind).To(Equal(WarnSyntheticLineItem))
		})

		It("renders the low-confidence percentage", func() {
			Expect(warnings[0].String()).To(Equal("Low OCR confidence: 0.0%"))
		})
	})

	When("the provider detects a total but no line items", func() {
		BeforeEach(func() {
			fields = docintel.FieldBag{
				"MerchantName": docintel.StringField("Shell").WithConfidence(0.97),
				"Total":        docintel.CurrencyField(80.10, "AUD").WithConfidence(0.96),
				"Tax":          docintel.CurrencyField(7.28, "AUD"),
			}
			content = "#796850"
		})

		It("synthesizes one item carrying the declared total", func() {
			Expect(record.Items).To(HaveLen(1))
			Expect(record.Items[0].Description).To(Equal("Shell"))
			Expect(*record.Items[0].Quantity).To(Equal(1.0))
			Expect(*record.Items[0].UnitPrice).To(Equal(80.10))
			Expect(record.Items[0].LineAmount).To(Equal(80.10))
		})

		It("carries the top-level tax onto the synthetic item", func() {
			Expect(record.Items[0].TaxAmount).NotTo(BeNil())
			Expect(*record.Items[0].TaxAmount).To(Equal(7.28))
		})

		It("matches the total by construction", func() {
			Expect(record.ItemsTotalMatches).To(BeTrue())
		})

		It("emits only the synthetic warning", func() {
			Expect(warnings).To(HaveLen(1))
			Expect(warnings[0].Kind).To(Equal(WarnSyntheticLineItem))
		})

		It("reads the tax from the alternate field name", func() {
			Expect(record.TaxAmount).NotTo(BeNil())
			Expect(*record.TaxAmount).To(Equal(7.28))
		})
	})

	When("an item has neither description nor amount", func() {
		BeforeEach(func() {
			fields = woolworthsBag()
			fields["Items"] = docintel.ListField(
				docintel.ObjectField(docintel.FieldBag{
					"Quantity": docintel.NumberField(3),
				}),
				docintel.ObjectField(docintel.FieldBag{
					"TotalPrice": docintel.CurrencyField(45.67, "AUD"),
				}),
			)
		})

		It("skips it without consuming a line number", func() {
			Expect(record.Items).To(HaveLen(1))
			Expect(record.Items[0].LineNumber).To(Equal(1))
		})

		It("defaults the surviving item's description", func() {
			Expect(record.Items[0].Description).To(Equal("Item"))
		})
	})

	When("the item collection contains a malformed entry", func() {
		BeforeEach(func() {
			fields = woolworthsBag()
			fields["Items"] = docintel.ListField(
				docintel.StringField("not an item"),
				docintel.ObjectField(docintel.FieldBag{
					"Description": docintel.StringField("Groceries"),
					"TotalPrice":  docintel.CurrencyField(45.67, "AUD"),
				}),
			)
		})

		It("drops the entry and continues", func() {
			Expect(record.Items).To(HaveLen(1))
			Expect(record.Items[0].Description).To(Equal("Groceries"))
		})
	})

	When("the provider reports a payment method", func() {
		BeforeEach(func() {
			fields = woolworthsBag()
			fields["PaymentMethod"] = docintel.StringField("EFTPOS")
		})

		It("maps it and exposes both values in the raw debug", func() {
			Expect(record.PaymentMethod).To(Equal(PaymentCard))
			Expect(raw.PaymentMethodRaw).To(Equal("EFTPOS"))
			Expect(raw.PaymentMethodMapped).To(Equal(PaymentCard))
		})
	})
})

var _ = Describe("Warning", func() {
	It("marshals as its rendered message", func() {
		data, err := json.Marshal(Warning{
			Kind:          WarnTotalMismatch,
			ItemsTotal:    40.0,
			DeclaredTotal: 45.67,
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(Equal(`"Line items total ($40.00) does not match transaction amount ($45.67)"`))
	})
})
