package docintel

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// receiptFieldPrompt asks the model for the same field bag shape the Azure
// prebuilt receipt model produces, so both providers feed one engine.
const receiptFieldPrompt = `You are analyzing a retail receipt. Carefully read all text in the image and extract structured fields.

Return ONLY valid JSON in this exact format:
{
  "content": "the complete text of the receipt, line by line",
  "merchant_name": {"value": "Store Name", "confidence": 0.95},
  "total": {"value": 45.67, "confidence": 0.95},
  "transaction_date": {"value": "YYYY-MM-DD", "confidence": 0.9},
  "tax": {"value": 4.15, "confidence": 0.9},
  "payment_method": {"value": "EFTPOS"},
  "receipt_number": {"value": "88213"},
  "items": [
    {"description": "Item name", "quantity": 1, "price": 2.50, "total_price": 2.50, "tax": 0.25}
  ]
}

Important:
- confidence is your certainty in that field, between 0 and 1
- Omit any field you cannot find (use null or leave it out); never invent values
- total, tax, price, total_price and quantity must be numbers, not strings
- transaction_date must be in YYYY-MM-DD format when the receipt date is readable
- Do not include any text before or after the JSON
- Do not use markdown code blocks`

// Gemini implements the Analyzer interface using Google Gemini as the
// document-understanding provider.
type Gemini struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewGemini creates a new Gemini Analyzer instance.
func NewGemini(apiKey string, modelName string) (*Gemini, error) {
	if apiKey == "" {
		return nil, &ConfigurationError{Reason: "gemini api key not configured"}
	}
	if modelName == "" {
		modelName = "gemini-2.5-pro"
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	return &Gemini{
		client: client,
		model:  client.GenerativeModel(modelName),
	}, nil
}

// Name identifies the provider.
func (g *Gemini) Name() string {
	return "gemini"
}

// AnalyzeReceipt analyzes a receipt and returns the extracted field bag.
func (g *Gemini) AnalyzeReceipt(ctx context.Context, data []byte, contentType string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	// Gemini only takes images, so PDFs are rendered first.
	pngData, err := preparePNG(data, contentType)
	if err != nil {
		return nil, err
	}

	parts := []genai.Part{
		genai.ImageData("png", pngData),
		genai.Text(receiptFieldPrompt),
	}

	resp, err := g.model.GenerateContent(ctx, parts...)
	if err != nil {
		return nil, &ProviderError{Provider: g.Name(), Err: err}
	}

	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, &ProviderError{Provider: g.Name(), Err: fmt.Errorf("no response from model")}
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			responseText.WriteString(string(text))
		}
	}

	result, err := parseFieldJSON(responseText.String())
	if err != nil {
		return nil, &ProviderError{Provider: g.Name(), Err: err}
	}

	return result, nil
}

// Close closes the Gemini client.
func (g *Gemini) Close() error {
	return g.client.Close()
}
