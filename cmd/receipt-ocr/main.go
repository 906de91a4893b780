package main

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/expensehq/receipt-ocr/internal/docintel"
	"github.com/expensehq/receipt-ocr/internal/receipt"
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

	fs := ff.NewFlagSet("receipt-ocr")
	var (
		port          = fs.IntLong("port", 8080, "HTTP server port")
		dbPath        = fs.StringLong("db", "receipt-ocr.db", "Extraction history database path")
		storagePath   = fs.StringLong("storage", "./uploads", "Directory for archived uploads")
		providerType  = fs.StringLong("provider", "azure", "Analysis provider: 'azure' or 'gemini'")
		azureEndpoint = fs.StringLong("azure-endpoint", "", "Azure Document Intelligence endpoint URL (or set AZURE_DOC_INTEL_ENDPOINT)")
		azureKey      = fs.StringLong("azure-key", "", "Azure Document Intelligence access key (or set AZURE_DOC_INTEL_KEY)")
		geminiKey     = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel   = fs.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model name")
		authUser      = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass      = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		showVersion   = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("RECEIPT_OCR"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	// Initialize extraction history database
	slog.Info("Initializing database...")
	db, err := receipt.NewBoltDB(*dbPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Initialize analysis provider. Missing credentials fail here, before
	// the server ever takes a request.
	var analyzer docintel.Analyzer
	switch *providerType {
	case "azure":
		endpoint := *azureEndpoint
		if endpoint == "" {
			endpoint = os.Getenv("AZURE_DOC_INTEL_ENDPOINT")
		}
		key := *azureKey
		if key == "" {
			key = os.Getenv("AZURE_DOC_INTEL_KEY")
		}
		slog.Info("Initializing Azure Document Intelligence provider...", "endpoint", endpoint)
		analyzer, err = docintel.NewAzure(endpoint, key)
		if err != nil {
			slog.Error("Failed to initialize Azure provider", "error", err)
			os.Exit(1)
		}
	case "gemini":
		apiKey := *geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		slog.Info("Initializing Gemini provider...", "model", *geminiModel)
		analyzer, err = docintel.NewGemini(apiKey, *geminiModel)
		if err != nil {
			slog.Error("Failed to initialize Gemini provider", "error", err)
			os.Exit(1)
		}
	default:
		slog.Error("Invalid provider type", "type", *providerType, "valid", "azure or gemini")
		os.Exit(1)
	}
	defer analyzer.Close()

	// Initialize upload storage
	slog.Info("Initializing storage...")
	store, err := receipt.NewLocalStorage(*storagePath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	// Initialize service and server
	service := receipt.NewService(analyzer, db, store)
	basicAuth := receipt.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	server := receipt.NewServer(service, basicAuth)

	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := server.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "provider", analyzer.Name())
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
}
