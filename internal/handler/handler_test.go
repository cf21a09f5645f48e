package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"kroger-cart/internal/cart"
	"kroger-cart/internal/model"
)

// mockRunner scripts the orchestrator.
type mockRunner struct {
	RunFunc  func(ctx context.Context, requests []model.GroceryRequest, opts cart.Options) (*model.CartReport, error)
	lastOpts cart.Options
}

func (m *mockRunner) Run(ctx context.Context, requests []model.GroceryRequest, opts cart.Options) (*model.CartReport, error) {
	m.lastOpts = opts
	if m.RunFunc != nil {
		return m.RunFunc(ctx, requests, opts)
	}
	return &model.CartReport{Success: true}, nil
}

// mockCatalog scripts the catalog surface for search handlers.
type mockCatalog struct {
	SearchFunc func(ctx context.Context, req *model.GroceryRequest, locationID string) (*model.ResolvedProduct, error)
}

func (m *mockCatalog) FindLocation(ctx context.Context, zip, chain string) (*model.Location, error) {
	return &model.Location{ID: "70100135", Name: "Test Store"}, nil
}

func (m *mockCatalog) Search(ctx context.Context, req *model.GroceryRequest, locationID string) (*model.ResolvedProduct, error) {
	if m.SearchFunc != nil {
		return m.SearchFunc(ctx, req, locationID)
	}
	return &model.ResolvedProduct{UPC: "0001", Name: "Test Product"}, nil
}

func (m *mockCatalog) AddToCart(ctx context.Context, items []model.CartLineItem) error {
	return nil
}

func testHandler(runner *mockRunner, catalog *mockCatalog) (*Handler, *http.ServeMux) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := New(runner, catalog, Defaults{
		Zip:      "84045",
		Chain:    "Smiths",
		Modality: model.ModalityPickup,
	}, logger)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return h, mux
}

func TestHandleHealth(t *testing.T) {
	_, mux := testHandler(&mockRunner{}, &mockCatalog{})

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestHandleCartRun(t *testing.T) {
	runner := &mockRunner{
		RunFunc: func(ctx context.Context, requests []model.GroceryRequest, opts cart.Options) (*model.CartReport, error) {
			if len(requests) != 2 {
				t.Errorf("requests = %d, want 2", len(requests))
			}
			return &model.CartReport{
				Success:    true,
				AddedCount: 2,
				Modality:   opts.Modality,
			}, nil
		},
	}
	_, mux := testHandler(runner, &mockCatalog{})

	body, _ := json.Marshal(cartRunRequest{
		Items: []model.GroceryRequest{
			{Query: "milk", Quantity: 2},
			{Query: "eggs"},
		},
	})
	req := httptest.NewRequest("POST", "/cart-runs", bytes.NewReader(body))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, body %s", w.Code, w.Body.String())
	}
	var report model.CartReport
	json.NewDecoder(w.Body).Decode(&report)
	if !report.Success || report.AddedCount != 2 {
		t.Errorf("report = %+v", report)
	}
	if report.Modality != model.ModalityPickup {
		t.Errorf("Modality = %q, want configured default PICKUP", report.Modality)
	}
}

func TestHandleCartRunOverrides(t *testing.T) {
	runner := &mockRunner{}
	_, mux := testHandler(runner, &mockCatalog{})

	body, _ := json.Marshal(cartRunRequest{
		Items:    []model.GroceryRequest{{Query: "milk"}},
		Modality: "delivery",
		Zip:      "84601",
		DryRun:   true,
	})
	req := httptest.NewRequest("POST", "/cart-runs", bytes.NewReader(body))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, body %s", w.Code, w.Body.String())
	}
	if runner.lastOpts.Modality != model.ModalityDelivery {
		t.Errorf("Modality = %q, want DELIVERY", runner.lastOpts.Modality)
	}
	if runner.lastOpts.Zip != "84601" || !runner.lastOpts.DryRun {
		t.Errorf("opts = %+v", runner.lastOpts)
	}
}

func TestHandleCartRunBadModality(t *testing.T) {
	_, mux := testHandler(&mockRunner{}, &mockCatalog{})

	body, _ := json.Marshal(cartRunRequest{
		Items:    []model.GroceryRequest{{Query: "milk"}},
		Modality: "SHIPPING",
	})
	req := httptest.NewRequest("POST", "/cart-runs", bytes.NewReader(body))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Status = %d, want 400", w.Code)
	}
}

func TestHandleCartRunErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"validation", model.NewValidationError("query", "required"), http.StatusBadRequest},
		{"auth", model.NewAuthError("refresh failed"), http.StatusUnauthorized},
		{"not found", model.NewNotFoundError("store"), http.StatusNotFound},
		{"rate limited", model.NewRateLimitError(), http.StatusTooManyRequests},
		{"upstream", model.NewStatusError(500, []byte("down")), http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &mockRunner{
				RunFunc: func(ctx context.Context, requests []model.GroceryRequest, opts cart.Options) (*model.CartReport, error) {
					return nil, tt.err
				},
			}
			_, mux := testHandler(runner, &mockCatalog{})

			body, _ := json.Marshal(cartRunRequest{Items: []model.GroceryRequest{{Query: "milk"}}})
			req := httptest.NewRequest("POST", "/cart-runs", bytes.NewReader(body))
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("Status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestHandleSearch(t *testing.T) {
	catalog := &mockCatalog{
		SearchFunc: func(ctx context.Context, req *model.GroceryRequest, locationID string) (*model.ResolvedProduct, error) {
			if req.Query != "milk" {
				t.Errorf("query = %q, want milk", req.Query)
			}
			if locationID != "70100135" {
				t.Errorf("locationID = %q", locationID)
			}
			return &model.ResolvedProduct{UPC: "0001111041700", Name: "Kroger 2% Milk"}, nil
		},
	}
	_, mux := testHandler(&mockRunner{}, catalog)

	body, _ := json.Marshal(searchRequest{Query: "milk"})
	req := httptest.NewRequest("POST", "/searches", bytes.NewReader(body))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, body %s", w.Code, w.Body.String())
	}
	var product model.ResolvedProduct
	json.NewDecoder(w.Body).Decode(&product)
	if product.UPC != "0001111041700" {
		t.Errorf("UPC = %q", product.UPC)
	}
}

func TestHandleSearchRequiresQueryOrUPC(t *testing.T) {
	_, mux := testHandler(&mockRunner{}, &mockCatalog{})

	body, _ := json.Marshal(searchRequest{})
	req := httptest.NewRequest("POST", "/searches", bytes.NewReader(body))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Status = %d, want 400", w.Code)
	}
}
