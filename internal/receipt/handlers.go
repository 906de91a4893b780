package receipt

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// maxUploadSize caps uploads at 50MB to handle high-resolution phone photos.
const maxUploadSize = int64(50 << 20)

// allowedContentTypes lists the upload formats the providers can analyze.
var allowedContentTypes = map[string]bool{
	"image/jpeg":      true,
	"image/jpg":       true,
	"image/png":       true,
	"application/pdf": true,
	"image/heic":      true,
	"image/heif":      true,
}

// corsError writes an error response with CORS headers set
func corsError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	http.Error(w, message, code)
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// jsonError writes a JSON error body with the given status
func jsonError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeJSON encodes a response body as JSON
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// handleHealth reports service status and the configured provider
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)
	writeJSON(w, map[string]any{
		"status":   "running",
		"service":  "receipt-ocr",
		"provider": s.service.Provider(),
	})
}

// readUpload pulls the multipart file out of the request and resolves its
// content type, sniffing the bytes when the client sent none. The body is
// capped before parsing so oversized uploads fail without being buffered.
func readUpload(w http.ResponseWriter, r *http.Request) (filename string, data []byte, contentType string, errMsg string) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return "", nil, "", "File is too large. Maximum size is 50MB."
		}
		return "", nil, "", "Error parsing form"
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		slog.Error("Error getting file from form", "error", err)
		return "", nil, "", "No file provided"
	}
	defer f.Close()

	if header.Size > maxUploadSize {
		return "", nil, "", "File is too large. Maximum size is 50MB."
	}

	data, err = io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		return "", nil, "", "Error reading file. Please try again."
	}

	contentType = strings.ToLower(strings.TrimSpace(header.Header.Get("Content-Type")))
	if contentType == "" || contentType == "application/octet-stream" {
		// Fall back to the extension, then to sniffing the bytes
		switch strings.ToLower(filepath.Ext(header.Filename)) {
		case ".jpg", ".jpeg":
			contentType = "image/jpeg"
		case ".png":
			contentType = "image/png"
		case ".pdf":
			contentType = "application/pdf"
		case ".heic":
			contentType = "image/heic"
		case ".heif":
			contentType = "image/heif"
		default:
			contentType = mimetype.Detect(data).String()
		}
	}

	return header.Filename, data, contentType, ""
}

// handleExtract runs a receipt through analysis and normalization
func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	filename, data, contentType, errMsg := readUpload(w, r)
	if errMsg != "" {
		jsonError(w, errMsg, http.StatusBadRequest)
		return
	}

	if !allowedContentTypes[contentType] {
		jsonError(w, "Unsupported file type: "+contentType+". Allowed: JPEG, PNG, PDF, HEIC", http.StatusBadRequest)
		return
	}

	slog.Info("Processing receipt", "filename", filename, "content_type", contentType)

	result := s.service.Extract(r.Context(), filename, data, contentType)

	// Provider failures are part of the result contract, not HTTP errors
	writeJSON(w, result)
}

// handleExtractRaw returns the unmodified provider response for debugging
func (s *Server) handleExtractRaw(w http.ResponseWriter, r *http.Request) {
	filename, data, contentType, errMsg := readUpload(w, r)
	if errMsg != "" {
		jsonError(w, errMsg, http.StatusBadRequest)
		return
	}

	if !allowedContentTypes[contentType] {
		jsonError(w, "Unsupported file type: "+contentType+". Allowed: JPEG, PNG, PDF, HEIC", http.StatusBadRequest)
		return
	}

	result := s.service.ExtractRaw(r.Context(), filename, data, contentType)
	writeJSON(w, result)
}

// handleListExtractions returns all archived extractions
func (s *Server) handleListExtractions(w http.ResponseWriter, r *http.Request) {
	extractions, err := s.service.ListExtractions()
	if err != nil {
		slog.Error("Error listing extractions", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, extractions)
}

// handleGetExtraction returns a single archived extraction
func (s *Server) handleGetExtraction(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		corsError(w, "Extraction ID required", http.StatusBadRequest)
		return
	}
	extraction, err := s.service.GetExtraction(id)
	if err != nil {
		corsError(w, "Extraction not found", http.StatusNotFound)
		return
	}

	writeJSON(w, extraction)
}

// handleGetExtractionFile returns the stored upload for an extraction
func (s *Server) handleGetExtractionFile(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		corsError(w, "Extraction ID required", http.StatusBadRequest)
		return
	}
	data, contentType, err := s.service.GetExtractionFile(id)
	if err != nil {
		corsError(w, "File not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

// handleDeleteExtraction deletes an archived extraction
func (s *Server) handleDeleteExtraction(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		corsError(w, "Extraction ID required", http.StatusBadRequest)
		return
	}
	if err := s.service.DeleteExtraction(id); err != nil {
		corsError(w, "Error deleting extraction", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
