package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"kroger-cart/internal/model"
)

func TestCallbackServerDeliversCode(t *testing.T) {
	port := freePort(t)
	cs, err := NewCallbackServer(port)
	if err != nil {
		t.Fatalf("NewCallbackServer() error = %v", err)
	}
	defer cs.Close()

	go func() {
		resp, err := http.Get(fmt.Sprintf("http://localhost:%d/?code=abc&state=xyz", port))
		if err == nil {
			resp.Body.Close()
		}
	}()

	code, state, err := cs.Wait(context.Background(), 5*time.Second)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if code != "abc" || state != "xyz" {
		t.Errorf("Wait() = (%q, %q), want (abc, xyz)", code, state)
	}
}

func TestCallbackServerProviderDenial(t *testing.T) {
	port := freePort(t)
	cs, err := NewCallbackServer(port)
	if err != nil {
		t.Fatalf("NewCallbackServer() error = %v", err)
	}
	defer cs.Close()

	go func() {
		resp, err := http.Get(fmt.Sprintf(
			"http://localhost:%d/?error=access_denied&error_description=user+said+no", port))
		if err == nil {
			resp.Body.Close()
		}
	}()

	_, _, err = cs.Wait(context.Background(), 5*time.Second)
	if !errors.Is(err, model.ErrAuth) {
		t.Errorf("Wait() error = %v, want ErrAuth", err)
	}
}

func TestCallbackServerTimeout(t *testing.T) {
	port := freePort(t)
	cs, err := NewCallbackServer(port)
	if err != nil {
		t.Fatalf("NewCallbackServer() error = %v", err)
	}
	defer cs.Close()

	_, _, err = cs.Wait(context.Background(), 50*time.Millisecond)
	if !errors.Is(err, model.ErrAuth) {
		t.Errorf("Wait() error = %v, want ErrAuth", err)
	}
}

func TestCallbackServerContextCancel(t *testing.T) {
	port := freePort(t)
	cs, err := NewCallbackServer(port)
	if err != nil {
		t.Fatalf("NewCallbackServer() error = %v", err)
	}
	defer cs.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err = cs.Wait(ctx, time.Minute)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Wait() error = %v, want context.Canceled", err)
	}
}
