// Package handler exposes cart runs and product search over HTTP and MCP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"kroger-cart/internal/cart"
	"kroger-cart/internal/model"
)

// CartRunner is the orchestrator surface the handlers drive.
type CartRunner interface {
	Run(ctx context.Context, requests []model.GroceryRequest, opts cart.Options) (*model.CartReport, error)
}

// Defaults fill in request fields the caller omits.
type Defaults struct {
	Zip      string
	Chain    string
	Modality model.Modality
}

// Handler holds dependencies for the HTTP and MCP handlers.
type Handler struct {
	runner   CartRunner
	catalog  cart.Catalog
	defaults Defaults
	logger   *slog.Logger
}

// New creates a Handler.
func New(runner CartRunner, catalog cart.Catalog, defaults Defaults, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{
		runner:   runner,
		catalog:  catalog,
		defaults: defaults,
		logger:   logger,
	}
}

// RegisterRoutes registers all HTTP routes with the given ServeMux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /cart-runs", h.handleCartRun)
	mux.HandleFunc("POST /searches", h.handleSearch)

	// MCP transport - JSON-RPC endpoint using the official MCP SDK
	mux.Handle("/mcp", h.NewMCPHandler())

	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /healthz", h.handleHealth)
}

// cartRunRequest is the REST body for POST /cart-runs.
type cartRunRequest struct {
	Items    []model.GroceryRequest `json:"items"`
	Modality string                 `json:"modality,omitempty"`
	Zip      string                 `json:"zip,omitempty"`
	DryRun   bool                   `json:"dry_run,omitempty"`
}

func (h *Handler) handleCartRun(w http.ResponseWriter, r *http.Request) {
	var req cartRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, model.NewValidationError("body", "invalid JSON"))
		return
	}

	opts, err := h.runOptions(req.Modality, req.Zip, req.DryRun)
	if err != nil {
		h.writeError(w, err)
		return
	}

	report, err := h.runner.Run(r.Context(), req.Items, opts)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, report)
}

// searchRequest is the REST body for POST /searches.
type searchRequest struct {
	Query string `json:"query,omitempty"`
	UPC   string `json:"upc,omitempty"`
	Zip   string `json:"zip,omitempty"`
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, model.NewValidationError("body", "invalid JSON"))
		return
	}

	product, err := h.search(r.Context(), req.Query, req.UPC, req.Zip)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, product)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// runOptions merges caller overrides with the configured defaults.
func (h *Handler) runOptions(modality, zip string, dryRun bool) (cart.Options, error) {
	opts := cart.Options{
		Modality: h.defaults.Modality,
		Zip:      h.defaults.Zip,
		Chain:    h.defaults.Chain,
		DryRun:   dryRun,
	}
	if modality != "" {
		m, err := model.ParseModality(modality)
		if err != nil {
			return cart.Options{}, err
		}
		opts.Modality = m
	}
	if zip != "" {
		opts.Zip = zip
	}
	return opts, nil
}

// search resolves a single query or UPC against the store for zip.
func (h *Handler) search(ctx context.Context, query, upc, zip string) (*model.ResolvedProduct, error) {
	req := model.GroceryRequest{Query: query, UPC: upc}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if zip == "" {
		zip = h.defaults.Zip
	}
	loc, err := h.catalog.FindLocation(ctx, zip, h.defaults.Chain)
	if err != nil {
		return nil, err
	}
	return h.catalog.Search(ctx, &req, loc.ID)
}

// writeJSON sends a JSON response with the given status code.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// writeError sends an error response, extracting status/code from APIError
// when present in the chain.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		h.logger.Error("internal error", slog.String("error", err.Error()))
		apiErr = &model.APIError{
			Code:       "INTERNAL_ERROR",
			Message:    "an internal error occurred",
			StatusCode: http.StatusInternalServerError,
		}
	}

	status := httpStatus(apiErr)
	h.writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    apiErr.Code,
			"message": apiErr.Message,
		},
	})
}

// httpStatus maps taxonomy errors to response codes. Upstream status codes
// are not forwarded verbatim; a Kroger 500 is this service's 502.
func httpStatus(apiErr *model.APIError) int {
	switch {
	case errors.Is(apiErr, model.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(apiErr, model.ErrAuth):
		return http.StatusUnauthorized
	case errors.Is(apiErr, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(apiErr, model.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(apiErr, model.ErrConfig):
		return http.StatusInternalServerError
	default:
		return http.StatusBadGateway
	}
}
