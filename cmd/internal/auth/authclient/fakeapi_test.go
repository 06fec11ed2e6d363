package authclient

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

const testPassword = "correct horse battery"

// fakeAPI is a minimal stand-in for the panel auth endpoints.
type fakeAPI struct {
	mu           sync.Mutex
	seq          int
	sessionID    string
	refresh      string
	refreshHits  int
	logoutHits   int
	meStatus     int
	refreshGate  chan struct{}
	accessTTL    time.Duration
	refreshTTL   time.Duration
	rejectStatus int
}

func newFakeAPI(t *testing.T) (*fakeAPI, *Client) {
	t.Helper()
	f := &fakeAPI{
		sessionID:  "01J0SESSION",
		meStatus:   http.StatusOK,
		accessTTL:  time.Hour,
		refreshTTL: 7 * 24 * time.Hour,
	}
	srv := httptest.NewServer(f.routes())
	t.Cleanup(srv.Close)
	return f, NewClient(srv.URL, WithHTTPClient(srv.Client()))
}

func (f *fakeAPI) tokensLocked() Tokens {
	f.seq++
	f.refresh = fmt.Sprintf("refresh-%d", f.seq)
	now := time.Now().UTC()
	return Tokens{
		SessionID:        f.sessionID,
		AccessToken:      fmt.Sprintf("access-%d", f.seq),
		AccessExpiresAt:  now.Add(f.accessTTL),
		RefreshToken:     f.refresh,
		RefreshExpiresAt: now.Add(f.refreshTTL),
	}
}

func (f *fakeAPI) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Password != testPassword {
			writeTestError(w, http.StatusUnauthorized, "invalid_credentials")
			return
		}
		f.mu.Lock()
		tokens := f.tokensLocked()
		f.mu.Unlock()
		writeTestJSON(w, loginResponse{
			User:    User{ID: "01J0USER", Username: req.Username, Role: "admin"},
			Session: tokens,
		})
	})

	mux.HandleFunc("POST /auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		var req refreshRequest
		_ = json.NewDecoder(r.Body).Decode(&req)

		f.mu.Lock()
		f.refreshHits++
		gate := f.refreshGate
		reject := f.rejectStatus
		f.mu.Unlock()

		if gate != nil {
			<-gate
		}
		if reject != 0 {
			if reject == http.StatusTooManyRequests {
				w.Header().Set("Retry-After", "3")
			}
			writeTestError(w, reject, "refresh_failed")
			return
		}

		f.mu.Lock()
		defer f.mu.Unlock()
		if req.RefreshToken != f.refresh {
			writeTestError(w, http.StatusUnauthorized, "session_not_active")
			return
		}
		writeTestJSON(w, refreshResponse{Session: f.tokensLocked()})
	})

	mux.HandleFunc("POST /auth/logout", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.logoutHits++
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("GET /auth/me", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		status := f.meStatus
		f.mu.Unlock()
		if status != http.StatusOK {
			writeTestError(w, status, "unauthorized")
			return
		}
		writeTestJSON(w, meResponse{User: User{ID: "01J0USER", Username: "ops"}, SessionID: f.sessionID})
	})

	return mux
}

func (f *fakeAPI) hits() (refresh, logout int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshHits, f.logoutHits
}

func writeTestJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeTestError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = fmt.Fprintf(w, `{"error":{"code":%q,"message":"test"}}`, code)
}
