package docintel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	azureAPIVersion = "2023-07-31"
	azureModelID    = "prebuilt-receipt"
)

// Azure implements the Analyzer interface against Azure Document
// Intelligence's prebuilt receipt model. Analysis is asynchronous on the
// provider side: one submit call returns an operation URL which is polled
// until the job settles.
type Azure struct {
	endpoint     string
	key          string
	client       *http.Client
	pollInterval time.Duration
}

// NewAzure creates a new Azure Analyzer. Both the endpoint URL and the
// access key are required; missing either is a ConfigurationError and no
// network call is ever attempted.
func NewAzure(endpoint, key string) (*Azure, error) {
	if endpoint == "" || key == "" {
		return nil, &ConfigurationError{
			Reason: "azure document intelligence credentials not configured",
		}
	}

	return &Azure{
		endpoint:     strings.TrimSuffix(endpoint, "/"),
		key:          key,
		client:       &http.Client{Timeout: 60 * time.Second},
		pollInterval: time.Second,
	}, nil
}

// Name identifies the provider.
func (a *Azure) Name() string {
	return "azure"
}

// azureOperation is the polling response for an analysis job.
type azureOperation struct {
	Status        string              `json:"status"`
	Error         *azureOperationErr  `json:"error,omitempty"`
	AnalyzeResult *azureAnalyzeResult `json:"analyzeResult,omitempty"`
}

type azureOperationErr struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type azureAnalyzeResult struct {
	Content   string          `json:"content"`
	Documents []azureDocument `json:"documents"`
}

type azureDocument struct {
	DocType string                `json:"docType,omitempty"`
	Fields  map[string]azureField `json:"fields"`
}

type azureField struct {
	Type          string                `json:"type"`
	ValueString   string                `json:"valueString,omitempty"`
	ValueNumber   *float64              `json:"valueNumber,omitempty"`
	ValueInteger  *int64                `json:"valueInteger,omitempty"`
	ValueDate     string                `json:"valueDate,omitempty"`
	ValueCurrency *azureCurrency        `json:"valueCurrency,omitempty"`
	ValueArray    []azureField          `json:"valueArray,omitempty"`
	ValueObject   map[string]azureField `json:"valueObject,omitempty"`
	Content       string                `json:"content,omitempty"`
	Confidence    *float64              `json:"confidence,omitempty"`
}

type azureCurrency struct {
	Amount       float64 `json:"amount"`
	CurrencyCode string  `json:"currencyCode,omitempty"`
}

// AnalyzeReceipt submits a receipt and blocks until Azure finishes
// analyzing it.
func (a *Azure) AnalyzeReceipt(ctx context.Context, data []byte, contentType string) (*Result, error) {
	body, mimeType, err := normalizeUpload(data, contentType)
	if err != nil {
		return nil, err
	}

	operationURL, err := a.submit(ctx, body, mimeType)
	if err != nil {
		return nil, &ProviderError{Provider: a.Name(), Err: err}
	}

	analyzed, err := a.poll(ctx, operationURL)
	if err != nil {
		return nil, &ProviderError{Provider: a.Name(), Err: err}
	}

	result := &Result{
		Content:   analyzed.Content,
		Documents: make([]FieldBag, 0, len(analyzed.Documents)),
	}
	for _, doc := range analyzed.Documents {
		result.Documents = append(result.Documents, convertAzureFields(doc.Fields))
	}
	return result, nil
}

// submit posts the document and returns the operation URL to poll.
func (a *Azure) submit(ctx context.Context, body []byte, mimeType string) (string, error) {
	url := fmt.Sprintf("%s/formrecognizer/documentModels/%s:analyze?api-version=%s",
		a.endpoint, azureModelID, azureAPIVersion)

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", mimeType)
	req.Header.Set("Ocp-Apim-Subscription-Key", a.key)

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("submitting document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("submitting document (status %d): %s", resp.StatusCode, string(respBody))
	}

	operationURL := resp.Header.Get("Operation-Location")
	if operationURL == "" {
		return "", errors.New("no Operation-Location header in submit response")
	}
	return operationURL, nil
}

// poll waits for the analysis job to settle and returns its result.
func (a *Azure) poll(ctx context.Context, operationURL string) (*azureAnalyzeResult, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(a.pollInterval):
		}

		req, err := http.NewRequestWithContext(ctx, "GET", operationURL, nil)
		if err != nil {
			return nil, fmt.Errorf("creating poll request: %w", err)
		}
		req.Header.Set("Ocp-Apim-Subscription-Key", a.key)

		resp, err := a.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("polling analysis: %w", err)
		}

		// A non-OK poll response is terminal: the operation endpoint has
		// rejected the key or forgotten the job, so its body never settles
		// into a status worth waiting for.
		if resp.StatusCode != http.StatusOK {
			respBody, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return nil, fmt.Errorf("polling analysis (status %d): %s", resp.StatusCode, string(respBody))
		}

		var op azureOperation
		err = json.NewDecoder(resp.Body).Decode(&op)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("decoding poll response: %w", err)
		}

		switch op.Status {
		case "succeeded":
			if op.AnalyzeResult == nil {
				return nil, errors.New("analysis succeeded with no result")
			}
			return op.AnalyzeResult, nil
		case "failed":
			if op.Error != nil {
				return nil, fmt.Errorf("%s: %s", op.Error.Code, op.Error.Message)
			}
			return nil, errors.New("analysis failed")
		}
		// notStarted or running, keep polling
	}
}

// convertAzureFields maps the wire-level field objects into the Field
// variant type, recursing through arrays and objects.
func convertAzureFields(fields map[string]azureField) FieldBag {
	bag := make(FieldBag, len(fields))
	for name, f := range fields {
		bag[name] = convertAzureField(f)
	}
	return bag
}

func convertAzureField(f azureField) Field {
	out := Field{Confidence: f.Confidence}

	switch f.Type {
	case "string":
		out.Kind = FieldString
		out.Str = f.ValueString
		if out.Str == "" {
			out.Str = f.Content
		}
	case "number":
		out.Kind = FieldNumber
		if f.ValueNumber != nil {
			out.Number = *f.ValueNumber
		}
	case "integer":
		out.Kind = FieldNumber
		if f.ValueInteger != nil {
			out.Number = float64(*f.ValueInteger)
		}
	case "date":
		if t, err := time.Parse("2006-01-02", f.ValueDate); err == nil {
			out.Kind = FieldDate
			out.Date = t
		} else {
			// Keep whatever the provider sent; the engine passes
			// unparseable dates through.
			out.Kind = FieldString
			out.Str = f.ValueDate
			if out.Str == "" {
				out.Str = f.Content
			}
		}
	case "currency":
		out.Kind = FieldCurrency
		if f.ValueCurrency != nil {
			out.Amount = f.ValueCurrency.Amount
			out.CurrencyCode = f.ValueCurrency.CurrencyCode
		}
	case "array":
		out.Kind = FieldList
		out.List = make([]Field, 0, len(f.ValueArray))
		for _, entry := range f.ValueArray {
			out.List = append(out.List, convertAzureField(entry))
		}
	case "object":
		out.Kind = FieldObject
		out.Object = convertAzureFields(f.ValueObject)
	default:
		if f.Content != "" {
			out.Kind = FieldString
			out.Str = f.Content
		}
	}

	return out
}

// Close closes the Azure client (no-op for HTTP client).
func (a *Azure) Close() error {
	return nil
}
