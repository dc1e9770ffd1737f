package scanning

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Ollama implements the Extractor interface using a local Ollama server
type Ollama struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewOllama creates a new Ollama Extractor instance.
// Vision models that read receipts reasonably well:
//   - llava:1.6
//   - qwen2-vl:7b (good OCR)
//   - bakllava
//   - llava-phi3 (smaller, faster, less accurate)
func NewOllama(baseURL string, modelName string) (*Ollama, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if modelName == "" {
		modelName = "llava"
	}

	return &Ollama{
		baseURL: baseURL,
		model:   modelName,
		client: &http.Client{
			Timeout: 120 * time.Second, // vision models are slow on local hardware
		},
	}, nil
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   string          `json:"format,omitempty"`
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}

// Extract analyzes a receipt image and returns the raw extraction
func (o *Ollama) Extract(ctx context.Context, imageData []byte, contentType string) (*RawExtraction, error) {
	start := time.Now()

	pngData, err := prepareImageData(imageData, contentType)
	if err != nil {
		return nil, extractionFailed("ollama", err)
	}

	reqBody := ollamaChatRequest{
		Model:  o.model,
		Stream: false,
		Format: "json",
		Messages: []ollamaMessage{
			{Role: "system", Content: receiptPrompt},
			{
				Role:    "user",
				Content: userInstruction,
				Images:  []string{base64.StdEncoding.EncodeToString(pngData)},
			},
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, extractionFailed("ollama", fmt.Errorf("marshaling request: %w", err))
	}

	url := fmt.Sprintf("%s/api/chat", o.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, extractionFailed("ollama", fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		slog.Error("Ollama extraction failed", "model", o.model, "elapsed_ms", time.Since(start).Milliseconds(), "error", err)
		return nil, extractionFailed("ollama", fmt.Errorf("calling ollama API: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, extractionFailed("ollama", fmt.Errorf("ollama API error (status %d): %s", resp.StatusCode, string(body)))
	}

	var chatResp ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, extractionFailed("ollama", fmt.Errorf("decoding response: %w", err))
	}

	data, err := parseRawExtraction(chatResp.Message.Content)
	if err != nil {
		return nil, extractionFailed("ollama", fmt.Errorf("parsing receipt data: %w", err))
	}

	slog.Debug("Ollama extraction finished", "model", o.model, "items", len(data.Items), "elapsed_ms", time.Since(start).Milliseconds())
	return data, nil
}

// Close closes the Ollama client (no-op for HTTP client)
func (o *Ollama) Close() error {
	return nil
}
