package receipt

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/expensehq/receipt-ocr/internal/docintel"
)

// noReceiptDetected is the error text when the provider analyzes the
// document but finds no receipt in it.
const noReceiptDetected = "No receipt detected in image"

// IDGenerator generates unique IDs for extractions
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// defaultIDGenerator generates IDs using UnixNano timestamp
type defaultIDGenerator struct{}

func (g *defaultIDGenerator) Generate() string {
	return fmt.Sprintf("%d", time.Now().UnixNano())
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Service orchestrates extraction: provider analysis, normalization, and
// best-effort archival. It holds no cross-request state and is safe for
// concurrent use.
type Service struct {
	analyzer    docintel.Analyzer
	db          DB
	storage     Storage
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a new Service with default ID generator and time source
func NewService(analyzer docintel.Analyzer, db DB, storage Storage) *Service {
	return &Service{
		analyzer:    analyzer,
		db:          db,
		storage:     storage,
		idGenerator: &defaultIDGenerator{},
		timeSource:  &defaultTimeSource{},
	}
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(analyzer docintel.Analyzer, db DB, storage Storage, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		analyzer:    analyzer,
		db:          db,
		storage:     storage,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// Provider names the configured analysis provider.
func (s *Service) Provider() string {
	return s.analyzer.Name()
}

// sanitizeFilename cleans up a filename by removing special characters and truncating length
func sanitizeFilename(filename string) string {
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)

	reg := regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	base = reg.ReplaceAllString(base, "")

	reg = regexp.MustCompile(`\s+`)
	base = reg.ReplaceAllString(base, " ")

	base = strings.TrimSpace(base)

	maxLen := 50
	if len(base) > maxLen {
		base = base[:maxLen]
	}

	if base == "" {
		base = "receipt"
	}

	return base + ext
}

// Extract runs one receipt through provider analysis and normalization.
// Configuration and provider failures surface as Success=false results;
// normalization itself cannot fail a request.
func (s *Service) Extract(ctx context.Context, filename string, data []byte, contentType string) *ExtractionResult {
	res, err := s.analyzer.AnalyzeReceipt(ctx, data, contentType)
	if err != nil {
		slog.Error("Receipt analysis failed",
			"filename", filename,
			"content_type", contentType,
			"file_size", len(data),
			"error", err,
		)
		return &ExtractionResult{Error: err.Error()}
	}

	if len(res.Documents) == 0 {
		slog.Warn("Analysis returned no documents", "filename", filename)
		return &ExtractionResult{Error: noReceiptDetected}
	}

	record, warnings, raw := Normalize(res.Documents[0], res.Content)

	slog.Info("Receipt extracted",
		"merchant", record.MerchantName,
		"amount", record.TransactionAmount,
		"items", len(record.Items),
		"warnings", len(warnings),
	)

	s.archive(filename, data, contentType, record, warnings)

	return &ExtractionResult{
		Success:  true,
		Record:   record,
		Warnings: warnings,
		RawDebug: raw,
	}
}

// ExtractRaw returns the provider's unmodified response, bypassing
// normalization. Used for diagnosing provider behavior. Never archived.
func (s *Service) ExtractRaw(ctx context.Context, filename string, data []byte, contentType string) *RawExtractionResult {
	res, err := s.analyzer.AnalyzeReceipt(ctx, data, contentType)
	if err != nil {
		slog.Error("Raw receipt analysis failed", "filename", filename, "error", err)
		return &RawExtractionResult{Error: err.Error()}
	}
	return &RawExtractionResult{Success: true, Response: res}
}

// archive stores the original upload and record for audit. Archival is
// best-effort: the extraction result is the product, so failures here are
// logged but never returned.
func (s *Service) archive(filename string, data []byte, contentType string, record *ReceiptRecord, warnings []Warning) {
	id := s.idGenerator.Generate()
	now := s.timeSource.Now()

	storedPath, err := s.storage.Save(fmt.Sprintf("%s_%s", id, sanitizeFilename(filename)), data)
	if err != nil {
		slog.Warn("Failed to store uploaded receipt", "filename", filename, "error", err)
		storedPath = ""
	}

	extraction := &Extraction{
		ID:          id,
		Filename:    filename,
		StoredPath:  storedPath,
		ContentType: contentType,
		CreatedAt:   now,
		Record:      record,
		Warnings:    renderWarnings(warnings),
	}

	if err := s.db.SaveExtraction(extraction); err != nil {
		slog.Warn("Failed to save extraction history", "id", id, "error", err)
		if storedPath != "" {
			s.storage.Delete(storedPath)
		}
	}
}

// GetExtraction retrieves an archived extraction by ID
func (s *Service) GetExtraction(id string) (*Extraction, error) {
	extraction, err := s.db.GetExtraction(id)
	if err != nil {
		return nil, fmt.Errorf("getting extraction: %w", err)
	}
	return extraction, nil
}

// ListExtractions returns all archived extractions
func (s *Service) ListExtractions() ([]*Extraction, error) {
	extractions, err := s.db.ListExtractions()
	if err != nil {
		return nil, fmt.Errorf("listing extractions: %w", err)
	}
	return extractions, nil
}

// DeleteExtraction removes an archived extraction and its stored file
func (s *Service) DeleteExtraction(id string) error {
	extraction, err := s.db.GetExtraction(id)
	if err != nil {
		return fmt.Errorf("getting extraction for deletion: %w", err)
	}

	if extraction.StoredPath != "" {
		if err := s.storage.Delete(extraction.StoredPath); err != nil {
			slog.Warn("Failed to delete stored file", "path", extraction.StoredPath, "error", err)
		}
	}

	if err := s.db.DeleteExtraction(id); err != nil {
		return fmt.Errorf("deleting extraction: %w", err)
	}
	return nil
}

// GetExtractionFile retrieves the stored upload for an extraction
func (s *Service) GetExtractionFile(id string) ([]byte, string, error) {
	extraction, err := s.db.GetExtraction(id)
	if err != nil {
		return nil, "", fmt.Errorf("getting extraction: %w", err)
	}
	if extraction.StoredPath == "" {
		return nil, "", fmt.Errorf("no stored file for extraction %s", id)
	}

	data, err := s.storage.Get(extraction.StoredPath)
	if err != nil {
		return nil, "", fmt.Errorf("getting extraction file: %w", err)
	}

	return data, extraction.ContentType, nil
}
