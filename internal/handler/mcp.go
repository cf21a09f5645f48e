// MCP transport handler using the official MCP Go SDK. Exposes cart runs
// and product search as MCP tools so an agent can fill a cart.
package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"kroger-cart/internal/model"
)

// AddItemsInput is the input schema for the add_items tool.
type AddItemsInput struct {
	Items    []ItemInput `json:"items" jsonschema:"grocery items to add,required"`
	Modality string      `json:"modality,omitempty" jsonschema:"DELIVERY or PICKUP, defaults to the configured modality"`
	Zip      string      `json:"zip,omitempty" jsonschema:"store zip code, defaults to the configured zip"`
	DryRun   bool        `json:"dry_run,omitempty" jsonschema:"resolve items without adding them to the cart"`
}

// ItemInput is one requested item: a search query or an exact UPC.
type ItemInput struct {
	Query    string `json:"query,omitempty" jsonschema:"free-text search, mutually exclusive with upc"`
	UPC      string `json:"upc,omitempty" jsonschema:"exact product UPC, mutually exclusive with query"`
	Quantity int    `json:"quantity,omitempty" jsonschema:"how many to add, defaults to 1"`
}

// SearchProductsInput is the input schema for the search_products tool.
type SearchProductsInput struct {
	Query string `json:"query,omitempty" jsonschema:"free-text search, mutually exclusive with upc"`
	UPC   string `json:"upc,omitempty" jsonschema:"exact product UPC, mutually exclusive with query"`
	Zip   string `json:"zip,omitempty" jsonschema:"store zip code, defaults to the configured zip"`
}

// NewMCPServer creates an MCP server with the cart tools registered.
func (h *Handler) NewMCPServer() *mcp.Server {
	server := mcp.NewServer(
		&mcp.Implementation{
			Name:    "kroger-cart",
			Version: "1.0.0",
		},
		&mcp.ServerOptions{
			Instructions: "Kroger grocery cart automation. Use add_items to resolve and " +
				"cart a list of groceries in one batch, and search_products to preview " +
				"what a query resolves to.",
		},
	)

	mcp.AddTool(server, &mcp.Tool{
		Name: "add_items",
		Description: "Resolve each grocery item and add everything found to the cart " +
			"in a single batched call. Returns the run report with added and not-found items.",
	}, h.mcpAddItems)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "search_products",
		Description: "Resolve one query or UPC to a product at the nearest store without touching the cart.",
	}, h.mcpSearchProducts)

	return server
}

// NewMCPHandler returns an HTTP handler for the MCP endpoint.
// Mount this at /mcp on your mux.
func (h *Handler) NewMCPHandler() http.Handler {
	server := h.NewMCPServer()
	return mcp.NewStreamableHTTPHandler(
		func(r *http.Request) *mcp.Server { return server },
		nil,
	)
}

func (h *Handler) mcpAddItems(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input AddItemsInput,
) (*mcp.CallToolResult, *model.CartReport, error) {
	requests := make([]model.GroceryRequest, len(input.Items))
	for i, item := range input.Items {
		requests[i] = model.GroceryRequest{
			Query:    item.Query,
			UPC:      item.UPC,
			Quantity: item.Quantity,
		}
	}

	opts, err := h.runOptions(input.Modality, input.Zip, input.DryRun)
	if err != nil {
		return nil, nil, h.mcpError(err)
	}

	report, err := h.runner.Run(ctx, requests, opts)
	if err != nil {
		return nil, nil, h.mcpError(err)
	}
	return nil, report, nil
}

func (h *Handler) mcpSearchProducts(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input SearchProductsInput,
) (*mcp.CallToolResult, *model.ResolvedProduct, error) {
	product, err := h.search(ctx, input.Query, input.UPC, input.Zip)
	if err != nil {
		return nil, nil, h.mcpError(err)
	}
	return nil, product, nil
}

// mcpError converts taxonomy errors to MCP-friendly errors.
func (h *Handler) mcpError(err error) error {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s: %s", apiErr.Code, apiErr.Message)
	}
	// Don't leak internal error details
	h.logger.Error("mcp internal error", "error", err.Error())
	return fmt.Errorf("internal error")
}
