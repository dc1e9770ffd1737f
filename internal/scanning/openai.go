package scanning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultOpenAIModel   = "gpt-4o-mini"
)

// OpenAIConfig configures the OpenAI extractor
type OpenAIConfig struct {
	APIKey  string
	BaseURL string        // default https://api.openai.com/v1
	Model   string        // default gpt-4o-mini
	Timeout time.Duration // http client timeout, default 60s
}

// OpenAI implements the Extractor interface using OpenAI chat completions with image input
type OpenAI struct {
	cfg    OpenAIConfig
	client *http.Client
}

// NewOpenAI creates a new OpenAI Extractor
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOpenAIBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultOpenAIModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	return &OpenAI{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type openAIContentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openAIImageURL `json:"image_url,omitempty"`
}

type openAIImageURL struct {
	URL string `json:"url"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type openAIChatRequest struct {
	Model          string            `json:"model"`
	Messages       []openAIMessage   `json:"messages"`
	ResponseFormat map[string]string `json:"response_format"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Extract sends the receipt image to OpenAI and parses the JSON answer
func (o *OpenAI) Extract(ctx context.Context, imageData []byte, contentType string) (*RawExtraction, error) {
	start := time.Now()

	pngData, err := prepareImageData(imageData, contentType)
	if err != nil {
		return nil, extractionFailed("openai", err)
	}

	reqBody := openAIChatRequest{
		Model: o.cfg.Model,
		Messages: []openAIMessage{
			{Role: "system", Content: receiptPrompt},
			{Role: "user", Content: []openAIContentPart{
				{Type: "text", Text: userInstruction},
				{Type: "image_url", ImageURL: &openAIImageURL{URL: pngDataURL(pngData)}},
			}},
		},
		ResponseFormat: map[string]string{"type": "json_object"},
	}

	content, err := o.chat(ctx, reqBody)
	if err != nil {
		slog.Error("OpenAI extraction failed",
			"model", o.cfg.Model,
			"elapsed_ms", time.Since(start).Milliseconds(),
			"error", err,
		)
		return nil, extractionFailed("openai", err)
	}

	data, err := parseRawExtraction(content)
	if err != nil {
		return nil, extractionFailed("openai", fmt.Errorf("parsing receipt data: %w", err))
	}

	slog.Debug("OpenAI extraction finished",
		"model", o.cfg.Model,
		"items", len(data.Items),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return data, nil
}

func (o *OpenAI) chat(ctx context.Context, reqBody openAIChatRequest) (string, error) {
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	url := strings.TrimRight(o.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling openai API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("openai API error (status %d): %s", resp.StatusCode, string(body))
	}

	var chatResp openAIChatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("no response from openai")
	}

	return chatResp.Choices[0].Message.Content, nil
}

// Close is a no-op for the HTTP client
func (o *OpenAI) Close() error {
	return nil
}
