// Package cart drives a full cart run: resolve the store, search each
// requested item in order, batch-add everything found, and assemble the
// report.
package cart

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"kroger-cart/internal/model"
)

// Catalog is the slice of the Kroger client the orchestrator needs.
type Catalog interface {
	FindLocation(ctx context.Context, zip, chain string) (*model.Location, error)
	Search(ctx context.Context, req *model.GroceryRequest, locationID string) (*model.ResolvedProduct, error)
	AddToCart(ctx context.Context, items []model.CartLineItem) error
}

// Options are the per-run parameters.
type Options struct {
	Modality model.Modality
	Zip      string
	Chain    string
	DryRun   bool
}

// Service orchestrates cart runs against a catalog.
type Service struct {
	catalog Catalog
	cartURL string
	logger  *slog.Logger
}

// New creates an orchestrator. cartURL is the storefront cart page put in
// the report for the user to review.
func New(catalog Catalog, cartURL string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{
		catalog: catalog,
		cartURL: cartURL,
		logger:  logger,
	}
}

// Run processes the requests in order and returns the report. Location
// lookup, authentication, and the batch add are fatal when they fail;
// a single item that cannot be resolved only lands in the not-found list.
func (s *Service) Run(ctx context.Context, requests []model.GroceryRequest, opts Options) (*model.CartReport, error) {
	if len(requests) == 0 {
		return nil, model.NewValidationError("requests", "at least one item is required")
	}
	for i, req := range requests {
		if err := req.Validate(); err != nil {
			return nil, fmt.Errorf("item %d: %w", i+1, err)
		}
	}

	loc, err := s.catalog.FindLocation(ctx, opts.Zip, opts.Chain)
	if err != nil {
		return nil, err
	}
	s.logger.Info("using store",
		slog.String("location_id", loc.ID),
		slog.String("name", loc.Name),
	)

	report := &model.CartReport{
		DryRun:   opts.DryRun,
		Modality: opts.Modality,
		CartURL:  s.cartURL,
		Added:    []model.AddedItem{},
		NotFound: []string{},
	}
	var lines []model.CartLineItem

	for i := range requests {
		req := &requests[i]
		product, err := s.catalog.Search(ctx, req, loc.ID)
		if err != nil {
			if fatal(err) {
				return nil, err
			}
			// Not found, or an upstream error on this one item.
			// The run continues; the report says what was skipped.
			if !errors.Is(err, model.ErrNotFound) {
				s.logger.Warn("search failed, skipping item",
					slog.String("term", req.Term()),
					slog.Any("error", err),
				)
			}
			report.NotFound = append(report.NotFound, req.Term())
			continue
		}

		qty := req.EffectiveQuantity()
		report.Added = append(report.Added, model.AddedItem{
			Query:      req.Term(),
			UPC:        product.UPC,
			Name:       product.Name,
			Quantity:   qty,
			Price:      product.Price,
			PromoPrice: product.PromoPrice,
			InStock:    product.InStock,
		})
		lines = append(lines, model.CartLineItem{
			UPC:      product.UPC,
			Quantity: qty,
			Modality: opts.Modality,
		})
	}

	if !opts.DryRun && len(lines) > 0 {
		if err := s.catalog.AddToCart(ctx, lines); err != nil {
			return nil, err
		}
	}

	report.Success = true
	report.AddedCount = len(report.Added)
	report.NotFoundCount = len(report.NotFound)
	return report, nil
}

// fatal reports whether an item-level search error must abort the run.
// Auth and config problems affect every subsequent call; anything else
// is contained to the one item.
func fatal(err error) bool {
	return errors.Is(err, model.ErrAuth) ||
		errors.Is(err, model.ErrConfig) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
