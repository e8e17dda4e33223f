package oauth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const callbackPath = "/callback"

type callbackResult struct {
	code string
	err  error
}

// callbackServer receives the single authorization redirect of a flow.
type callbackServer struct {
	state   string
	results chan callbackResult
	srv     *http.Server
	ln      net.Listener
}

func newCallbackServer(addr, state string) (*callbackServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen for oauth callback on %s: %w", addr, err)
	}
	cs := &callbackServer{
		state:   state,
		results: make(chan callbackResult, 1),
		ln:      ln,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get(callbackPath, cs.handle)
	cs.srv = &http.Server{Handler: r, ReadHeaderTimeout: 10 * time.Second}
	return cs, nil
}

func (cs *callbackServer) redirectURL() string {
	port := cs.ln.Addr().(*net.TCPAddr).Port
	return fmt.Sprintf("http://localhost:%d%s", port, callbackPath)
}

func (cs *callbackServer) serve() {
	go func() {
		if err := cs.srv.Serve(cs.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			cs.deliver(callbackResult{err: fmt.Errorf("callback server: %w", err)})
		}
	}()
}

func (cs *callbackServer) handle(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("state") != cs.state {
		http.Error(w, "state mismatch", http.StatusBadRequest)
		cs.deliver(callbackResult{err: errors.New("oauth state mismatch")})
		return
	}
	if e := q.Get("error"); e != "" {
		http.Error(w, "authorization failed: "+e, http.StatusBadRequest)
		cs.deliver(callbackResult{err: fmt.Errorf("authorization denied: %s", e)})
		return
	}
	code := q.Get("code")
	if code == "" {
		http.Error(w, "missing code", http.StatusBadRequest)
		cs.deliver(callbackResult{err: errors.New("authorization code missing")})
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, "<html><body><h3>termpal is authorized. You can close this window.</h3></body></html>")
	cs.deliver(callbackResult{code: code})
}

// deliver keeps only the first outcome.
func (cs *callbackServer) deliver(res callbackResult) {
	select {
	case cs.results <- res:
	default:
	}
}

func (cs *callbackServer) wait(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-cs.results:
		return res.code, res.err
	}
}

func (cs *callbackServer) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = cs.srv.Shutdown(ctx)
}
