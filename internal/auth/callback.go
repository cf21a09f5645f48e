package auth

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"kroger-cart/internal/model"
)

// callbackResult is delivered once per authorization attempt: either the
// code from the provider redirect or the provider's error parameter.
type callbackResult struct {
	code  string
	state string
	err   error
}

// CallbackServer listens on the loopback redirect port for the single
// OAuth redirect. The listener is bound eagerly in NewCallbackServer so
// the browser is only opened once the port is actually held.
type CallbackServer struct {
	listener net.Listener
	server   *http.Server
	results  chan callbackResult
}

// NewCallbackServer binds the loopback port. Callers must always call
// Close, whether or not a redirect arrives.
func NewCallbackServer(port int) (*CallbackServer, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf("localhost:%d", port))
	if err != nil {
		return nil, model.NewConfigError(fmt.Sprintf("binding callback port %d: %v", port, err))
	}

	cs := &CallbackServer{
		listener: listener,
		results:  make(chan callbackResult, 1),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", cs.handleRedirect)
	cs.server = &http.Server{
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
	}

	go func() {
		if err := cs.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			select {
			case cs.results <- callbackResult{err: fmt.Errorf("callback server: %w", err)}:
			default:
			}
		}
	}()

	return cs, nil
}

// Wait blocks until the provider redirects back, the context is canceled,
// or the timeout elapses.
func (cs *CallbackServer) Wait(ctx context.Context, timeout time.Duration) (code, state string, err error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-cs.results:
		return res.code, res.state, res.err
	case <-timer.C:
		return "", "", model.NewAuthError("timed out waiting for the authorization redirect")
	case <-ctx.Done():
		return "", "", ctx.Err()
	}
}

// Close releases the port. Safe to call more than once.
func (cs *CallbackServer) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return cs.server.Shutdown(ctx)
}

func (cs *CallbackServer) handleRedirect(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if errCode := q.Get("error"); errCode != "" {
		desc := q.Get("error_description")
		cs.deliver(callbackResult{
			err: model.NewAuthError(fmt.Sprintf("authorization denied: %s %s", errCode, desc)),
		})
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, failurePage)
		return
	}

	code := q.Get("code")
	if code == "" {
		// Browsers probe for favicons and the like; ignore anything
		// that is not the redirect.
		http.NotFound(w, r)
		return
	}

	cs.deliver(callbackResult{code: code, state: q.Get("state")})
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, successPage)
}

// deliver publishes at most one result; later redirects are dropped.
func (cs *CallbackServer) deliver(res callbackResult) {
	select {
	case cs.results <- res:
	default:
	}
}

const successPage = `<!DOCTYPE html>
<html>
<head><title>Authorization complete</title></head>
<body style="font-family: sans-serif; text-align: center; padding-top: 4em;">
<h1>Authorization complete</h1>
<p>You can close this tab and return to the terminal.</p>
</body>
</html>`

const failurePage = `<!DOCTYPE html>
<html>
<head><title>Authorization failed</title></head>
<body style="font-family: sans-serif; text-align: center; padding-top: 4em;">
<h1>Authorization failed</h1>
<p>The authorization was denied. Close this tab and try again.</p>
</body>
</html>`
