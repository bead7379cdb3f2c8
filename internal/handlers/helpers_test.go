package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/arunpravin125/Eduvance-api/internal/auth"
	"github.com/arunpravin125/Eduvance-api/internal/service"
	"github.com/arunpravin125/Eduvance-api/internal/store"
	"github.com/arunpravin125/Eduvance-api/internal/ws"
	"github.com/rs/zerolog"
)

type testServer struct {
	router   http.Handler
	store    store.Store
	hub      *ws.Hub
	identity *auth.Identity
}

func newTestServer(t *testing.T, st store.Store) *testServer {
	t.Helper()
	hub := ws.NewHub(zerolog.Nop(), 64)
	t.Cleanup(hub.Shutdown)
	identity := &auth.Identity{
		Tokens:  auth.NewTokenIssuer("test-jwt", time.Hour),
		Cookies: auth.NewCookieSigner("test-cookie"),
	}
	chat := service.New(st, st, st, hub, zerolog.Nop())
	router := NewRouter(RouterConfig{
		Accounts:       st,
		Chat:           chat,
		Hub:            hub,
		Identity:       identity,
		SendBuffer:     16,
		AllowedOrigins: []string{"https://app.example.com"},
		Log:            zerolog.Nop(),
	})
	return &testServer{router: router, store: st, hub: hub, identity: identity}
}

// do sends a request as userID. An empty userID sends it unauthenticated.
func (ts *testServer) do(t *testing.T, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if userID != "" {
		token, err := ts.identity.Tokens.Issue(userID)
		if err != nil {
			t.Fatal(err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	ts.router.ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return v
}
