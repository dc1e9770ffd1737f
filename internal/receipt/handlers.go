package receipt

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/zombor/snapspend/internal/scanning"
)

// high-resolution phone photos are large, and a batch carries several of them
const maxUploadSize = int64(50 << 20)

// uploadFields are the multipart fields that may carry receipt images, in order of preference
var uploadFields = []string{"file", "files", "files[]"}

// UploadError reports a file of a batch that could not be processed
type UploadError struct {
	File  string `json:"file"`
	Error string `json:"error"`
}

type uploadResponse struct {
	Receipts []*Receipt   `json:"receipts"`
	Errors   []UploadError `json:"errors,omitempty"`
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

func writeError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, map[string]string{"detail": message})
}

// writeServiceError maps service errors to status codes
func writeServiceError(w http.ResponseWriter, err error, action string) {
	switch {
	case errors.Is(err, ErrNotFound):
		writeError(w, "Not found", http.StatusNotFound)
	case errors.Is(err, ErrInvalidInput):
		writeError(w, err.Error(), http.StatusBadRequest)
	default:
		slog.Error("Error "+action, "error", err)
		writeError(w, "Internal server error", http.StatusInternalServerError)
	}
}

// handleUploadReceipts processes one or more uploaded receipt images
func (s *Server) handleUploadReceipts(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, "Upload is too large. Maximum size is 50MB. Please compress or resize your images.", http.StatusBadRequest)
			return
		}
		writeError(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	headers := uploadedFiles(r.MultipartForm)
	if len(headers) == 0 {
		writeError(w, "No file(s) provided", http.StatusBadRequest)
		return
	}

	response := uploadResponse{Receipts: make([]*Receipt, 0, len(headers))}
	uploads := make([]Upload, 0, len(headers))
	for _, header := range headers {
		data, err := readUpload(header)
		if err != nil {
			slog.Error("Error reading file data", "error", err, "filename", header.Filename)
			response.Errors = append(response.Errors, UploadError{File: header.Filename, Error: "Error reading file"})
			continue
		}
		uploads = append(uploads, Upload{
			Filename:    header.Filename,
			ContentType: uploadContentType(header),
			Data:        data,
		})
	}

	for _, result := range s.service.ProcessReceipts(r.Context(), uploads) {
		if result.Err != nil {
			slog.Warn("Receipt upload failed", "filename", result.Filename, "error", result.Err)
			response.Errors = append(response.Errors, UploadError{File: result.Filename, Error: uploadErrorMessage(result.Err)})
			continue
		}
		response.Receipts = append(response.Receipts, result.Receipt)
	}

	code := http.StatusCreated
	if len(response.Receipts) == 0 {
		code = http.StatusUnprocessableEntity
	}
	writeJSON(w, code, response)
}

// uploadErrorMessage is what a client sees for a failed file. Provider responses stay in the log.
func uploadErrorMessage(err error) string {
	var extErr *scanning.ExtractionError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "extraction timed out"
	case errors.As(err, &extErr):
		return extErr.Provider + " extraction failed"
	default:
		return "processing failed"
	}
}

// uploadedFiles returns the files of the first upload field that has any
func uploadedFiles(form *multipart.Form) []*multipart.FileHeader {
	if form == nil {
		return nil
	}
	for _, field := range uploadFields {
		if files := form.File[field]; len(files) > 0 {
			return files
		}
	}
	return nil
}

func readUpload(header *multipart.FileHeader) ([]byte, error) {
	f, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// uploadContentType uses the declared part type, falling back to the file extension
func uploadContentType(header *multipart.FileHeader) string {
	contentType := strings.ToLower(strings.TrimSpace(header.Header.Get("Content-Type")))
	if contentType != "" && contentType != "application/octet-stream" {
		return contentType
	}

	switch strings.ToLower(filepath.Ext(header.Filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		return "application/octet-stream"
	}
}

// handleCreateReceipt stores a manually entered receipt
func (s *Server) handleCreateReceipt(w http.ResponseWriter, r *http.Request) {
	var raw scanning.RawExtraction
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	receipt, err := s.service.CreateReceipt(&raw)
	if err != nil {
		writeServiceError(w, err, "creating receipt")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]*Receipt{"receipt": receipt})
}

// handleListReceipts returns a list of all receipts
func (s *Server) handleListReceipts(w http.ResponseWriter, r *http.Request) {
	receipts, err := s.service.ListReceipts()
	if err != nil {
		writeServiceError(w, err, "listing receipts")
		return
	}
	writeJSON(w, http.StatusOK, map[string][]*Receipt{"receipts": receipts})
}

// handleGetReceipt returns a single receipt
func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	receipt, err := s.service.GetReceipt(r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err, "getting receipt")
		return
	}
	writeJSON(w, http.StatusOK, map[string]*Receipt{"receipt": receipt})
}

// handleUpdateReceipt applies a corrective edit to a receipt
func (s *Server) handleUpdateReceipt(w http.ResponseWriter, r *http.Request) {
	var update ReceiptUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	receipt, err := s.service.UpdateReceipt(r.PathValue("id"), update)
	if err != nil {
		writeServiceError(w, err, "updating receipt")
		return
	}
	writeJSON(w, http.StatusOK, map[string]*Receipt{"receipt": receipt})
}

// handleDeleteReceipt deletes a receipt
func (s *Server) handleDeleteReceipt(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteReceipt(r.Context(), r.PathValue("id")); err != nil {
		writeServiceError(w, err, "deleting receipt")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGetReceiptFile returns the file for a receipt
func (s *Server) handleGetReceiptFile(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := s.service.GetReceiptFile(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err, "getting receipt file")
		return
	}

	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

// handleGetLineItem returns a single line item
func (s *Server) handleGetLineItem(w http.ResponseWriter, r *http.Request) {
	item, err := s.service.GetLineItem(r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err, "getting line item")
		return
	}
	writeJSON(w, http.StatusOK, map[string]*LineItem{"item": item})
}

// handleUpdateLineItem applies a corrective edit to a line item
func (s *Server) handleUpdateLineItem(w http.ResponseWriter, r *http.Request) {
	var update LineItemUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	item, err := s.service.UpdateLineItem(r.PathValue("id"), update)
	if err != nil {
		writeServiceError(w, err, "updating line item")
		return
	}
	writeJSON(w, http.StatusOK, map[string]*LineItem{"item": item})
}

// handleDeleteLineItem deletes a line item
func (s *Server) handleDeleteLineItem(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteLineItem(r.PathValue("id")); err != nil {
		writeServiceError(w, err, "deleting line item")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
