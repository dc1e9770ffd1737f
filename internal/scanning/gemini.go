package scanning

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Gemini implements the Extractor interface using Google Gemini
type Gemini struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewGemini creates a new Gemini Extractor instance
func NewGemini(ctx context.Context, apiKey string, modelName string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = "gemini-2.5-pro"
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.SetTemperature(0)

	return &Gemini{
		client: client,
		model:  model,
	}, nil
}

// Extract analyzes a receipt image and returns the raw extraction
func (g *Gemini) Extract(ctx context.Context, imageData []byte, contentType string) (*RawExtraction, error) {
	start := time.Now()

	pngData, err := prepareImageData(imageData, contentType)
	if err != nil {
		return nil, extractionFailed("gemini", err)
	}

	// genai.ImageData expects the format suffix ("png"), not the MIME type
	parts := []genai.Part{
		genai.Text(receiptPrompt),
		genai.ImageData("png", pngData),
		genai.Text(userInstruction),
	}

	resp, err := g.model.GenerateContent(ctx, parts...)
	if err != nil {
		slog.Error("Gemini extraction failed", "elapsed_ms", time.Since(start).Milliseconds(), "error", err)
		return nil, extractionFailed("gemini", fmt.Errorf("generating content: %w", err))
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, extractionFailed("gemini", fmt.Errorf("no response from gemini"))
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			responseText.WriteString(string(text))
		}
	}

	data, err := parseRawExtraction(responseText.String())
	if err != nil {
		return nil, extractionFailed("gemini", fmt.Errorf("parsing receipt data: %w", err))
	}

	slog.Debug("Gemini extraction finished", "items", len(data.Items), "elapsed_ms", time.Since(start).Milliseconds())
	return data, nil
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}
