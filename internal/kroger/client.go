package kroger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"kroger-cart/internal/httpx"
	"kroger-cart/internal/model"
)

// searchLimit is how many candidates a term search requests. Resolution
// always takes the first result, but a wider window keeps the response
// useful for diagnostics.
const searchLimit = 5

// Client calls the Kroger API through the retrying request layer.
type Client struct {
	http    *httpx.Client
	baseURL string
	logger  *slog.Logger
}

// New creates a Kroger API client. baseURL is the environment root,
// for example https://api.kroger.com/v1.
func New(httpClient *httpx.Client, baseURL string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Client{
		http:    httpClient,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}
}

// FindLocation resolves the nearest store of the given chain to a zip
// code. First match wins.
func (c *Client) FindLocation(ctx context.Context, zip, chain string) (*model.Location, error) {
	q := url.Values{}
	q.Set("filter.zipCode.near", zip)
	q.Set("filter.chain", chain)
	q.Set("filter.limit", "1")

	resp, err := c.http.Do(ctx, &httpx.Request{
		Method:        http.MethodGet,
		URL:           c.baseURL + "/locations",
		Query:         q,
		Authenticated: true,
	})
	if err != nil {
		return nil, err
	}

	var lr locationsResponse
	if err := json.Unmarshal(resp.Body, &lr); err != nil {
		return nil, fmt.Errorf("parsing locations response: %w", err)
	}
	if len(lr.Data) == 0 {
		return nil, model.NewNotFoundError(fmt.Sprintf("%s store near %s", chain, zip))
	}

	loc := lr.Data[0]
	c.logger.Debug("resolved store location",
		slog.String("location_id", loc.LocationID),
		slog.String("name", loc.Name),
	)
	return &model.Location{
		ID:   loc.LocationID,
		Name: loc.Name,
		Address: strings.TrimSpace(fmt.Sprintf("%s, %s, %s %s",
			loc.Address.AddressLine1, loc.Address.City, loc.Address.State, loc.Address.ZipCode)),
	}, nil
}

// Search resolves a grocery request to a product at the given store.
// A UPC request looks the product up directly; a term request searches
// and takes the first result. No match is a not-found error, which the
// orchestrator treats as a skip rather than a failure.
func (c *Client) Search(ctx context.Context, req *model.GroceryRequest, locationID string) (*model.ResolvedProduct, error) {
	if req.UPC != "" {
		return c.byUPC(ctx, req.UPC, locationID)
	}
	return c.byTerm(ctx, req.Query, locationID)
}

func (c *Client) byUPC(ctx context.Context, upc, locationID string) (*model.ResolvedProduct, error) {
	q := url.Values{}
	q.Set("filter.locationId", locationID)

	resp, err := c.http.Do(ctx, &httpx.Request{
		Method:        http.MethodGet,
		URL:           c.baseURL + "/products/" + url.PathEscape(upc),
		Query:         q,
		Authenticated: true,
	})
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, model.NewNotFoundError(upc)
		}
		return nil, err
	}

	var pr productResponse
	if err := json.Unmarshal(resp.Body, &pr); err != nil {
		return nil, fmt.Errorf("parsing product response: %w", err)
	}
	if pr.Data.UPC == "" && pr.Data.ProductID == "" {
		return nil, model.NewNotFoundError(upc)
	}
	return resolved(pr.Data), nil
}

func (c *Client) byTerm(ctx context.Context, term, locationID string) (*model.ResolvedProduct, error) {
	q := url.Values{}
	q.Set("filter.term", term)
	q.Set("filter.locationId", locationID)
	q.Set("filter.limit", fmt.Sprint(searchLimit))

	resp, err := c.http.Do(ctx, &httpx.Request{
		Method:        http.MethodGet,
		URL:           c.baseURL + "/products",
		Query:         q,
		Authenticated: true,
		SanitizeParam: "filter.term",
	})
	if err != nil {
		return nil, err
	}

	var pr productsResponse
	if err := json.Unmarshal(resp.Body, &pr); err != nil {
		return nil, fmt.Errorf("parsing products response: %w", err)
	}
	if len(pr.Data) == 0 {
		return nil, model.NewNotFoundError(term)
	}

	product := pr.Data[0]
	c.logger.Debug("resolved product",
		slog.String("term", term),
		slog.String("upc", product.UPC),
		slog.String("description", product.Description),
	)
	return resolved(product), nil
}

// AddToCart adds all line items in one batched call. Callers must not
// split a batch into per-item calls; the endpoint accepts the whole list.
// An empty batch is a no-op.
func (c *Client) AddToCart(ctx context.Context, items []model.CartLineItem) error {
	if len(items) == 0 {
		return nil
	}

	payload := cartAddRequest{Items: make([]cartAddItem, 0, len(items))}
	for _, item := range items {
		payload.Items = append(payload.Items, cartAddItem{
			UPC:      item.UPC,
			Quantity: item.Quantity,
			Modality: string(item.Modality),
		})
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding cart request: %w", err)
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json")

	_, err = c.http.Do(ctx, &httpx.Request{
		Method:        http.MethodPut,
		URL:           c.baseURL + "/cart/add",
		Header:        header,
		Body:          body,
		Authenticated: true,
	})
	if err != nil {
		return err
	}

	c.logger.Info("added items to cart", slog.Int("count", len(items)))
	return nil
}

func resolved(p wireProduct) *model.ResolvedProduct {
	out := &model.ResolvedProduct{
		UPC:  p.UPC,
		Name: p.Description,
	}
	if out.UPC == "" {
		out.UPC = p.ProductID
	}
	if len(p.Items) > 0 {
		item := p.Items[0]
		if item.Price != nil {
			price := item.Price.Regular
			out.Price = &price
			if item.Price.Promo > 0 {
				promo := item.Price.Promo
				out.PromoPrice = &promo
			}
		}
		if item.Inventory != nil {
			inStock := item.Inventory.StockLevel != "TEMPORARILY_OUT_OF_STOCK"
			out.InStock = &inStock
		}
	}
	return out
}
