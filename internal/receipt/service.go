package receipt

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/zombor/snapspend/internal/scanning"
)

const (
	defaultExtractTimeout   = 60 * time.Second
	defaultBatchConcurrency = 4
)

// IDGenerator generates unique IDs for receipts and line items
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now().UTC()
}

// Config tunes receipt processing
type Config struct {
	// ExtractTimeout bounds the model call for a single receipt
	ExtractTimeout time.Duration
	// BatchConcurrency is how many receipts of one batch are processed at once
	BatchConcurrency int
}

// Upload is one image submitted for processing. Filename is used for diagnostics only.
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Result is the outcome of processing one upload: a stored receipt or an error
type Result struct {
	Filename string
	Receipt  *Receipt
	Err      error
}

// Service handles receipt operations
type Service struct {
	db          DB
	extractor   scanning.Extractor
	storage     Storage
	idGenerator IDGenerator
	timeSource  TimeSource
	cfg         Config
}

// NewService creates a new Service with UUID ids and the wall clock
func NewService(db DB, extractor scanning.Extractor, storage Storage, cfg Config) *Service {
	return NewServiceWithDeps(db, extractor, storage, cfg, &uuidGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, extractor scanning.Extractor, storage Storage, cfg Config, idGen IDGenerator, timeSrc TimeSource) *Service {
	if cfg.ExtractTimeout <= 0 {
		cfg.ExtractTimeout = defaultExtractTimeout
	}
	if cfg.BatchConcurrency <= 0 {
		cfg.BatchConcurrency = defaultBatchConcurrency
	}
	return &Service{
		db:          db,
		extractor:   extractor,
		storage:     storage,
		idGenerator: idGen,
		timeSource:  timeSrc,
		cfg:         cfg,
	}
}

// ProcessReceipts processes a batch of uploads concurrently. There is one result per
// upload, in upload order; a failed upload never affects its siblings.
func (s *Service) ProcessReceipts(ctx context.Context, uploads []Upload) []Result {
	results := make([]Result, len(uploads))

	var g errgroup.Group
	g.SetLimit(s.cfg.BatchConcurrency)
	for i, upload := range uploads {
		g.Go(func() error {
			receipt, err := s.ProcessReceipt(ctx, upload)
			results[i] = Result{Filename: upload.Filename, Receipt: receipt, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// ProcessReceipt stores an uploaded image, extracts it, normalizes the result and saves it.
// On failure nothing is kept.
func (s *Service) ProcessReceipt(ctx context.Context, upload Upload) (*Receipt, error) {
	id := s.idGenerator.Generate()
	now := s.timeSource.Now()

	savedPath, err := s.storage.Save(ctx, fmt.Sprintf("%s_%s", id, sanitizeFilename(upload.Filename)), upload.Data)
	if err != nil {
		return nil, fmt.Errorf("saving file: %w", err)
	}

	extractCtx, cancel := context.WithTimeout(ctx, s.cfg.ExtractTimeout)
	raw, err := s.extractor.Extract(extractCtx, upload.Data, upload.ContentType)
	cancel()
	if err != nil {
		slog.Error("Failed to extract receipt",
			"filename", upload.Filename,
			"content_type", upload.ContentType,
			"file_size", len(upload.Data),
			"error", err,
		)
		s.removeFile(ctx, savedPath)
		return nil, fmt.Errorf("extracting receipt: %w", err)
	}

	receipt := Normalize(raw)
	receipt.ID = id
	receipt.Filename = savedPath
	receipt.ContentType = upload.ContentType
	receipt.CreatedAt = now
	receipt.UpdatedAt = now
	s.assignItemIDs(receipt)

	if err := s.db.SaveReceipt(receipt); err != nil {
		s.removeFile(ctx, savedPath)
		return nil, fmt.Errorf("saving receipt to database: %w", err)
	}

	slog.Info("Receipt processed",
		"id", receipt.ID,
		"filename", upload.Filename,
		"items", len(receipt.Items),
		"currency", receipt.Currency,
	)
	return withFileURL(receipt), nil
}

// CreateReceipt stores a manually entered receipt. The input goes through the same
// normalization as a model extraction.
func (s *Service) CreateReceipt(raw *scanning.RawExtraction) (*Receipt, error) {
	now := s.timeSource.Now()

	receipt := Normalize(raw)
	receipt.ID = s.idGenerator.Generate()
	receipt.CreatedAt = now
	receipt.UpdatedAt = now
	s.assignItemIDs(receipt)

	if err := s.db.SaveReceipt(receipt); err != nil {
		return nil, fmt.Errorf("saving receipt to database: %w", err)
	}
	return receipt, nil
}

// GetReceipt retrieves a receipt by ID
func (s *Service) GetReceipt(id string) (*Receipt, error) {
	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return nil, fmt.Errorf("getting receipt: %w", err)
	}
	return withFileURL(receipt), nil
}

// ListReceipts returns all receipts, newest first
func (s *Service) ListReceipts() ([]*Receipt, error) {
	receipts, err := s.db.ListReceipts()
	if err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}
	for _, r := range receipts {
		withFileURL(r)
	}
	return receipts, nil
}

// UpdateReceipt applies a corrective edit. Extraction and normalization are not re-run.
// Line items are untouched, so concurrent item edits are not overwritten.
func (s *Service) UpdateReceipt(id string, update ReceiptUpdate) (*Receipt, error) {
	var currency *Currency
	if update.Currency != nil {
		c, err := ParseCurrency(*update.Currency)
		if err != nil {
			return nil, err
		}
		currency = &c
	}
	if update.Date.Value != nil && !update.Date.Value.IsValid() {
		return nil, fmt.Errorf("%w: invalid date %s", ErrInvalidInput, update.Date.Value)
	}

	now := s.timeSource.Now()
	receipt, err := s.db.UpdateReceipt(id, func(receipt *Receipt) error {
		if currency != nil {
			receipt.Currency = *currency
		}
		if update.StoreName.Set {
			receipt.StoreName = update.StoreName.Value
		}
		if update.PaymentMethod.Set {
			receipt.PaymentMethod = update.PaymentMethod.Value
		}
		if update.Date.Set {
			receipt.Date = update.Date.Value
		}
		if update.Category != nil {
			receipt.Category = *update.Category
		}
		if update.TotalAmount.Set {
			receipt.TotalAmount = decimal.NullDecimal{}
			if update.TotalAmount.Value != nil {
				receipt.TotalAmount = decimal.NewNullDecimal(update.TotalAmount.Value.Round(amountPlaces))
			}
		}
		if update.TaxAmount != nil {
			receipt.TaxAmount = update.TaxAmount.Round(amountPlaces)
		}
		receipt.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("updating receipt: %w", err)
	}
	return withFileURL(receipt), nil
}

// DeleteReceipt removes a receipt, its line items and its file
func (s *Service) DeleteReceipt(ctx context.Context, id string) error {
	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return fmt.Errorf("getting receipt for deletion: %w", err)
	}

	if receipt.Filename != "" {
		if err := s.storage.Delete(ctx, receipt.Filename); err != nil {
			// Log error but continue with database deletion
			slog.Warn("Failed to delete file", "filename", receipt.Filename, "error", err)
		}
	}

	if err := s.db.DeleteReceipt(id); err != nil {
		return fmt.Errorf("deleting receipt from database: %w", err)
	}
	return nil
}

// GetReceiptFile retrieves the uploaded image of a receipt
func (s *Service) GetReceiptFile(ctx context.Context, id string) ([]byte, string, error) {
	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt: %w", err)
	}
	if receipt.Filename == "" {
		return nil, "", fmt.Errorf("receipt %s has no file: %w", id, ErrNotFound)
	}

	data, err := s.storage.Get(ctx, receipt.Filename)
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt file: %w", err)
	}

	return data, receipt.ContentType, nil
}

// GetLineItem retrieves a line item by ID
func (s *Service) GetLineItem(id string) (*LineItem, error) {
	item, err := s.db.GetLineItem(id)
	if err != nil {
		return nil, fmt.Errorf("getting line item: %w", err)
	}
	return item, nil
}

// UpdateLineItem applies a corrective edit to a line item
func (s *Service) UpdateLineItem(id string, update LineItemUpdate) (*LineItem, error) {
	if update.Description != nil && strings.TrimSpace(*update.Description) == "" {
		return nil, fmt.Errorf("%w: description must not be empty", ErrInvalidInput)
	}

	item, err := s.db.UpdateLineItem(id, func(item *LineItem) error {
		if update.Description != nil {
			item.Description = *update.Description
		}
		if update.Quantity != nil {
			item.Quantity = update.Quantity.Round(amountPlaces)
		}
		if update.UnitPrice != nil {
			item.UnitPrice = update.UnitPrice.Round(amountPlaces)
		}
		if update.LineTotal != nil {
			item.LineTotal = update.LineTotal.Round(amountPlaces)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("updating line item: %w", err)
	}
	return item, nil
}

// DeleteLineItem removes a line item
func (s *Service) DeleteLineItem(id string) error {
	if err := s.db.DeleteLineItem(id); err != nil {
		return fmt.Errorf("deleting line item: %w", err)
	}
	return nil
}

func (s *Service) assignItemIDs(receipt *Receipt) {
	for _, item := range receipt.Items {
		item.ID = s.idGenerator.Generate()
		item.ReceiptID = receipt.ID
	}
}

// removeFile cleans up after a failed upload, even if the request was cancelled
func (s *Service) removeFile(ctx context.Context, path string) {
	if err := s.storage.Delete(context.WithoutCancel(ctx), path); err != nil {
		slog.Warn("Failed to clean up file", "filename", path, "error", err)
	}
}

func withFileURL(receipt *Receipt) *Receipt {
	if receipt.Filename != "" {
		receipt.FileURL = fmt.Sprintf("/api/receipts/%s/file", receipt.ID)
	}
	return receipt
}
