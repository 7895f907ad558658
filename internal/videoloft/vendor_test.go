package videoloft

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vzahanych/videoloft-bridge/internal/config"
	"github.com/vzahanych/videoloft-bridge/internal/logger"
	"github.com/vzahanych/videoloft-bridge/internal/retry"
)

// fakeVendor emulates the auth, regional and logger hosts on one server
type fakeVendor struct {
	server *httptest.Server
	mux    *http.ServeMux

	logins    atomic.Int32
	refreshes atomic.Int32
	token     atomic.Value
}

func newFakeVendor(t *testing.T) *fakeVendor {
	t.Helper()
	v := &fakeVendor{mux: http.NewServeMux()}
	v.token.Store("tok-1")

	v.mux.HandleFunc("POST /login", func(w http.ResponseWriter, r *http.Request) {
		v.logins.Add(1)
		var req loginRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Password != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, map[string]interface{}{
			"result": map[string]interface{}{
				"authToken": v.token.Load().(string),
				"webLogin":  map[string]interface{}{"id": "wl-1"},
				"region":    "eu",
			},
		})
	})

	v.mux.HandleFunc("POST /region/eu/login/refresh", func(w http.ResponseWriter, r *http.Request) {
		v.refreshes.Add(1)
		time.Sleep(20 * time.Millisecond)
		writeJSON(w, map[string]interface{}{
			"result": map[string]interface{}{
				"authToken": "tok-refreshed",
				"webLogin":  map[string]interface{}{"id": "wl-2"},
			},
		})
	})

	v.server = httptest.NewServer(v.mux)
	t.Cleanup(v.server.Close)
	return v
}

func (v *fakeVendor) host() string {
	return strings.TrimPrefix(v.server.URL, "http://")
}

func (v *fakeVendor) config() config.VideoloftConfig {
	cfg := config.Default().Videoloft
	cfg.Email = "user@example.com"
	cfg.Password = "secret"
	cfg.AuthServer = v.server.URL
	cfg.RegionAuthURL = v.server.URL + "/region/{region}"
	cfg.Scheme = "http"
	return cfg
}

func (v *fakeVendor) tokenManager(cfg config.VideoloftConfig) *TokenManager {
	tm := NewTokenManager(cfg, logger.NewNopLogger())
	tm.policy.Backoff = retry.Constant(0)
	return tm
}

func (v *fakeVendor) client(t *testing.T) *Client {
	t.Helper()
	cfg := v.config()
	return NewClient(cfg, v.tokenManager(cfg), logger.NewNopLogger())
}

func writeJSON(w http.ResponseWriter, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}
