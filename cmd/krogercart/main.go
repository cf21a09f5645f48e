// Command krogercart fills a Kroger cart from the command line: authorize
// once in the browser, then add groceries by search term or UPC. The serve
// mode exposes the same operations over HTTP and MCP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"kroger-cart/internal/auth"
	"kroger-cart/internal/cart"
	"kroger-cart/internal/config"
	"kroger-cart/internal/handler"
	"kroger-cart/internal/httpx"
	"kroger-cart/internal/kroger"
	"kroger-cart/internal/middleware"
	"kroger-cart/internal/model"
)

const usage = `krogercart - add groceries to your Kroger cart

Usage:
  krogercart add [flags] <item> [item ...]   resolve items and add them to the cart
  krogercart auth [flags]                    run the browser authorization flow
  krogercart serve                           serve the HTTP and MCP API

Items are free-text search terms; prefix with upc: for an exact product,
e.g. "milk" or upc:0001111041700. Use "qty*term" for quantities, e.g. 2*milk.

Run "krogercart add -h" for the add flags.
`

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Missing .env is fine; the environment may be set another way.
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		return errors.New("a command is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	switch os.Args[1] {
	case "add":
		return cmdAdd(ctx, cfg, logger, os.Args[2:])
	case "auth":
		return cmdAuth(ctx, cfg, logger, os.Args[2:])
	case "serve":
		return cmdServe(ctx, cfg, logger)
	case "help", "-h", "--help":
		fmt.Print(usage)
		return nil
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", os.Args[1])
	}
}

// newLogger builds the process logger: text in development, JSON in
// production.
func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if cfg.Environment == "production" {
		h = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(h)
}

// services wires the token manager, request layer, API client, and
// orchestrator from config.
type services struct {
	manager *auth.Manager
	catalog *kroger.Client
	cart    *cart.Service
}

func buildServices(cfg *config.Config, logger *slog.Logger) (*services, error) {
	store, err := auth.OpenStore(cfg.TokenStorage, cfg.TokenFile)
	if err != nil {
		return nil, err
	}
	manager, err := auth.NewManager(auth.Options{
		ClientID:     cfg.Credentials.ClientID,
		ClientSecret: cfg.Credentials.ClientSecret,
		AuthURL:      cfg.AuthURL(),
		TokenURL:     cfg.TokenURL(),
		RedirectURI:  cfg.RedirectURI,
		Scopes:       cfg.Scopes,
		Store:        store,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}

	httpClient := httpx.New(httpx.Config{
		Tokens:  manager,
		Logger:  logger,
		Timeout: cfg.RequestTimeout,
	})
	catalog := kroger.New(httpClient, cfg.APIBase(), logger)
	cartSvc := cart.New(catalog, cartURL(cfg.Chain), logger)

	return &services{
		manager: manager,
		catalog: catalog,
		cart:    cartSvc,
	}, nil
}

// cartURL points the user at the right storefront for review. Smith's has
// its own domain; everything else lives under kroger.com.
func cartURL(chain string) string {
	if chain == "Smiths" {
		return "https://www.smithsfoodanddrug.com/cart"
	}
	return "https://www.kroger.com/cart"
}

func cmdAuth(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("auth", flag.ContinueOnError)
	storage := fs.String("token-storage", cfg.TokenStorage, "token storage backend: auto, file, or keyring")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg.TokenStorage = *storage

	svc, err := buildServices(cfg, logger)
	if err != nil {
		return err
	}

	fmt.Println("Opening your browser for Kroger authorization...")
	err = svc.manager.Authorize(ctx, func(url string) error {
		fmt.Printf("If the browser does not open, visit:\n\n  %s\n\n", url)
		openBrowser(url)
		return nil
	})
	if err != nil {
		return err
	}
	fmt.Println("Authorized. Tokens saved.")
	return nil
}

// openBrowser makes a best-effort attempt to launch the default browser.
// The URL is already printed, so failures are silent.
func openBrowser(url string) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	_ = cmd.Start()
}

func cmdServe(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	svc, err := buildServices(cfg, logger)
	if err != nil {
		return err
	}

	h := handler.New(svc.cart, svc.catalog, handler.Defaults{
		Zip:      cfg.Zip,
		Chain:    cfg.Chain,
		Modality: model.ModalityPickup,
	}, logger)

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	httpHandler := middleware.Chain(
		middleware.Recovery(logger),
		middleware.Logging(logger),
	)(mux)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      httpHandler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			slog.String("port", cfg.Port),
			slog.String("addr", server.Addr),
		)
		serverErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("shutting down")

		// Give outstanding requests time to complete
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			server.Close()
			return fmt.Errorf("shutdown error: %w", err)
		}
	}
	return nil
}
