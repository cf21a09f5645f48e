//go:build integration
// +build integration

// Integration tests for the Kroger API client.
// Run with: go test -tags=integration ./internal/kroger/... -v
//
// Required environment variables:
//
//	KROGER_CLIENT_ID     - API client id
//	KROGER_CLIENT_SECRET - API client secret
//
// Optional:
//
//	KROGER_API_BASE - API base URL (defaults to the certification environment)
//	KROGER_ZIP      - zip code for the location lookup (defaults to 84045)
//
// These tests use the client_credentials grant, which only covers the
// product APIs. Cart writes need a user-authorized token and are exercised
// manually through the CLI instead.
package kroger

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"kroger-cart/internal/httpx"
	"kroger-cart/internal/model"
)

const certAPIBase = "https://api-ce.kroger.com/v1"

type integrationConfig struct {
	ClientID     string
	ClientSecret string
	APIBase      string
	Zip          string
}

func loadIntegrationConfig(t *testing.T) *integrationConfig {
	t.Helper()

	clientID := os.Getenv("KROGER_CLIENT_ID")
	clientSecret := os.Getenv("KROGER_CLIENT_SECRET")
	if clientID == "" || clientSecret == "" {
		t.Skip("Skipping integration test: KROGER_CLIENT_ID / KROGER_CLIENT_SECRET not set")
		return nil
	}

	cfg := &integrationConfig{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		APIBase:      os.Getenv("KROGER_API_BASE"),
		Zip:          os.Getenv("KROGER_ZIP"),
	}
	if cfg.APIBase == "" {
		cfg.APIBase = certAPIBase
	}
	if cfg.Zip == "" {
		cfg.Zip = "84045"
	}
	return cfg
}

// clientCredentialsTokens fetches app-level tokens with the
// client_credentials grant. No refresh token is involved; ForceRefresh
// just fetches a new one.
type clientCredentialsTokens struct {
	cfg   *integrationConfig
	token string
}

func (s *clientCredentialsTokens) Token(ctx context.Context) (string, error) {
	if s.token != "" {
		return s.token, nil
	}
	return s.ForceRefresh(ctx)
}

func (s *clientCredentialsTokens) ForceRefresh(ctx context.Context) (string, error) {
	tokenURL := strings.TrimSuffix(s.cfg.APIBase, "/v1") + "/v1/connect/oauth2/token"
	form := url.Values{
		"grant_type": {"client_credentials"},
		"scope":      {"product.compact"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(s.cfg.ClientID, s.cfg.ClientSecret)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned %d", resp.StatusCode)
	}

	var body struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	if body.AccessToken == "" {
		return "", fmt.Errorf("token endpoint returned no access_token")
	}
	s.token = body.AccessToken
	return s.token, nil
}

func newIntegrationClient(t *testing.T, cfg *integrationConfig) *Client {
	t.Helper()

	httpClient := httpx.New(httpx.Config{
		Tokens:  &clientCredentialsTokens{cfg: cfg},
		Timeout: 30 * time.Second,
	})
	return New(httpClient, cfg.APIBase, nil)
}

func TestIntegrationFindLocation(t *testing.T) {
	cfg := loadIntegrationConfig(t)
	client := newIntegrationClient(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	loc, err := client.FindLocation(ctx, cfg.Zip, "")
	if err != nil {
		t.Fatalf("FindLocation() error = %v", err)
	}
	if loc.ID == "" {
		t.Error("FindLocation() returned a location without an id")
	}
	t.Logf("location: %s (%s)", loc.Name, loc.ID)
}

func TestIntegrationSearchByTerm(t *testing.T) {
	cfg := loadIntegrationConfig(t)
	client := newIntegrationClient(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	loc, err := client.FindLocation(ctx, cfg.Zip, "")
	if err != nil {
		t.Fatalf("FindLocation() error = %v", err)
	}

	product, err := client.Search(ctx, &model.GroceryRequest{Query: "milk"}, loc.ID)
	if err != nil {
		t.Fatalf("Search(milk) error = %v", err)
	}
	if product.UPC == "" {
		t.Error("Search() returned a product without a UPC")
	}
	t.Logf("product: %s (%s)", product.Name, product.UPC)

	// The resolved UPC must also be fetchable directly.
	byUPC, err := client.Search(ctx, &model.GroceryRequest{UPC: product.UPC}, loc.ID)
	if err != nil {
		t.Fatalf("Search(upc %s) error = %v", product.UPC, err)
	}
	if byUPC.UPC != product.UPC {
		t.Errorf("UPC lookup = %s, want %s", byUPC.UPC, product.UPC)
	}
}
