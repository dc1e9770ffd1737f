package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/snapspend/internal/receipt"
	"github.com/zombor/snapspend/internal/scanning"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	// A missing .env file is fine
	_ = godotenv.Load()

	fs := ff.NewFlagSet("snapspend")
	var (
		port             = fs.IntLong("port", 8080, "HTTP server port")
		dbPath           = fs.StringLong("db", "snapspend.db", "Database file path")
		storageBackend   = fs.StringLong("storage-backend", "local", "Image storage: 'local' or 's3'")
		storagePath      = fs.StringLong("storage", "./receipts", "Storage directory path for local storage")
		s3Bucket         = fs.StringLong("s3-bucket", "", "S3 bucket for receipt images")
		s3Prefix         = fs.StringLong("s3-prefix", "receipts", "Key prefix inside the S3 bucket")
		s3Region         = fs.StringLong("s3-region", "", "AWS region (defaults to the AWS config chain)")
		s3Endpoint       = fs.StringLong("s3-endpoint", "", "Custom S3-compatible endpoint URL (optional)")
		extractorType    = fs.StringLong("extractor", "openai", "Extractor type: 'openai', 'gemini' or 'ollama'")
		openaiKey        = fs.StringLong("openai-key", "", "OpenAI API key (or set OPENAI_API_KEY env var)")
		openaiModel      = fs.StringLong("openai-model", "gpt-4o-mini", "OpenAI model name")
		openaiURL        = fs.StringLong("openai-url", "https://api.openai.com/v1", "OpenAI-compatible API base URL")
		geminiKey        = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel      = fs.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model name")
		ollamaURL        = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel      = fs.StringLong("ollama-model", "llava", "Ollama model name (e.g., llava, llava-phi3, bakllava, qwen2-vl)")
		extractTimeout   = fs.Duration(0, "extract-timeout", 60*time.Second, "Timeout for one extraction call")
		batchConcurrency = fs.IntLong("batch-concurrency", 4, "Receipts of one upload processed at once")
		cacheTTL         = fs.Duration(0, "cache-ttl", 24*time.Hour, "How long identical uploads reuse an extraction (0 disables)")
		extractRPM       = fs.IntLong("extract-rpm", 0, "Maximum extraction calls per minute (0 disables)")
		extractBurst     = fs.IntLong("extract-burst", 1, "Extraction calls allowed in a burst")
		authUser         = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass         = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		logLevel         = fs.StringLong("log-level", "info", "Log level: debug, info, warn or error")
		logFormat        = fs.StringLong("log-format", "text", "Log format: 'text' or 'json'")
		_                = fs.StringLong("config", "", "Config file (optional)")
		showVersion      = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("SNAPSPEND"),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	slog.SetDefault(newLogger(os.Stdout, *logLevel, *logFormat))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database
	slog.Info("Initializing database...", "path", *dbPath)
	db, err := receipt.NewBoltDB(*dbPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Initialize extractor based on type
	var extractor scanning.Extractor
	switch *extractorType {
	case "openai":
		apiKey := *openaiKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		if apiKey == "" {
			slog.Error("OpenAI API key is required. Set --openai-key flag or OPENAI_API_KEY environment variable")
			os.Exit(1)
		}
		slog.Info("Initializing OpenAI extractor...", "model", *openaiModel, "url", *openaiURL)
		extractor, err = scanning.NewOpenAI(scanning.OpenAIConfig{
			APIKey:  apiKey,
			BaseURL: *openaiURL,
			Model:   *openaiModel,
			Timeout: *extractTimeout,
		})
		if err != nil {
			slog.Error("Failed to initialize OpenAI", "error", err)
			os.Exit(1)
		}
	case "gemini":
		// Get Gemini API key from flag or environment
		apiKey := *geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			slog.Error("Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
			os.Exit(1)
		}
		slog.Info("Initializing Gemini extractor...", "model", *geminiModel)
		extractor, err = scanning.NewGemini(ctx, apiKey, *geminiModel)
		if err != nil {
			slog.Error("Failed to initialize Gemini", "error", err)
			os.Exit(1)
		}
	case "ollama":
		slog.Info("Initializing Ollama extractor...", "url", *ollamaURL, "model", *ollamaModel)
		extractor, err = scanning.NewOllama(*ollamaURL, *ollamaModel)
		if err != nil {
			slog.Error("Failed to initialize Ollama", "error", err)
			os.Exit(1)
		}
	default:
		slog.Error("Invalid extractor type", "type", *extractorType, "valid", "openai, gemini or ollama")
		os.Exit(1)
	}

	if *extractRPM > 0 {
		slog.Info("Rate limiting extraction", "per_minute", *extractRPM, "burst", *extractBurst)
		extractor = scanning.NewRateLimitedExtractor(extractor, float64(*extractRPM)/60, *extractBurst)
	}
	if *cacheTTL > 0 {
		extractor = scanning.NewCachingExtractor(extractor, *cacheTTL)
	}
	defer extractor.Close()

	// Initialize storage
	slog.Info("Initializing storage...", "backend", *storageBackend)
	var store receipt.Storage
	switch *storageBackend {
	case "local":
		store, err = receipt.NewLocalStorage(*storagePath)
	case "s3":
		store, err = newS3Storage(ctx, *s3Bucket, *s3Prefix, *s3Region, *s3Endpoint)
	default:
		err = fmt.Errorf("unknown storage backend %q", *storageBackend)
	}
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	// Initialize service
	receiptService := receipt.NewService(db, extractor, store, receipt.Config{
		ExtractTimeout:   *extractTimeout,
		BatchConcurrency: *batchConcurrency,
	})

	// Initialize server
	basicAuth := receipt.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	server := receipt.NewServer(receiptService, basicAuth)

	// Start server in goroutine
	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := server.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "version", version)
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	<-ctx.Done()
	slog.Info("Shutting down...")
}

func newS3Storage(ctx context.Context, bucket, prefix, region, endpoint string) (*receipt.S3Storage, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return receipt.NewS3Storage(client, bucket, prefix)
}
