package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/arunpravin125/Eduvance-api/internal/auth"
	"github.com/arunpravin125/Eduvance-api/internal/chaterr"
	"github.com/arunpravin125/Eduvance-api/internal/middleware"
	"github.com/arunpravin125/Eduvance-api/internal/service"
	"github.com/arunpravin125/Eduvance-api/internal/store"
	"github.com/arunpravin125/Eduvance-api/internal/ws"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const maxBodyBytes = 1 << 20

type RouterConfig struct {
	Accounts       store.Accounts
	Chat           *service.ChatService
	Hub            *ws.Hub
	Identity       *auth.Identity
	Limiter        *middleware.RateLimiter
	SendBuffer     int
	// AllowedOrigins limits browser websocket upgrades; it mirrors the CORS list.
	AllowedOrigins []string
	Log            zerolog.Logger
}

func NewRouter(cfg RouterConfig) *mux.Router {
	validate := validator.New()
	authHandler := &AuthHandler{Accounts: cfg.Accounts, Identity: cfg.Identity, validate: validate, log: cfg.Log}
	chatHandler := &ChatHandler{
		Chat:       cfg.Chat,
		Hub:        cfg.Hub,
		SendBuffer: cfg.SendBuffer,
		upgrader:   ws.NewUpgrader(cfg.AllowedOrigins),
		validate:   validate,
		log:        cfg.Log,
	}

	r := mux.NewRouter()
	r.Use(middleware.LoggingMiddleware(cfg.Log))
	if cfg.Limiter != nil {
		r.Use(cfg.Limiter.Middleware)
	}

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	r.HandleFunc("/signup", authHandler.Signup).Methods("POST")
	r.HandleFunc("/login", authHandler.Login).Methods("POST")

	api := r.NewRoute().Subrouter()
	api.Use(middleware.AuthMiddleware(cfg.Identity))
	api.HandleFunc("/communities/{communityId}/rooms", chatHandler.CreateGroupRoom).Methods("POST")
	api.HandleFunc("/communities/{communityId}/rooms", chatHandler.ListCommunityRooms).Methods("GET")
	api.HandleFunc("/conversations", chatHandler.ListConversations).Methods("GET")
	api.HandleFunc("/conversations/{recipientId}/messages", chatHandler.SendPrivateMessage).Methods("POST")
	api.HandleFunc("/rooms/{roomId}", chatHandler.DeleteRoom).Methods("DELETE")
	api.HandleFunc("/rooms/{roomId}/messages", chatHandler.SendMessage).Methods("POST")
	api.HandleFunc("/rooms/{roomId}/messages", chatHandler.ListMessages).Methods("GET")
	api.HandleFunc("/rooms/{roomId}/messages/{messageId}", chatHandler.DeleteMessage).Methods("DELETE")
	api.HandleFunc("/rooms/{roomId}/messages/{messageId}/replies", chatHandler.Reply).Methods("POST")
	api.HandleFunc("/rooms/{roomId}/messages/{messageId}/reactions", chatHandler.ToggleReaction).Methods("POST")
	api.HandleFunc("/rooms/{roomId}/messages/{messageId}/reactions", chatHandler.GetReactions).Methods("GET")
	api.HandleFunc("/rooms/{roomId}/messages/{messageId}/seen", chatHandler.MarkSeen).Methods("POST")
	api.HandleFunc("/rooms/{roomId}/messages/{messageId}/seen", chatHandler.GetSeenBy).Methods("GET")
	api.HandleFunc("/ws", chatHandler.ServeWs).Methods("GET")
	return r
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors to statuses. Internal details stay in the log.
func writeError(w http.ResponseWriter, log zerolog.Logger, err error) {
	status := chaterr.HTTPStatus(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Msg("request failed")
		if status == http.StatusInternalServerError {
			msg = "internal error"
		}
	}
	writeJSON(w, status, errorResponse{Error: msg, Kind: chaterr.Kind(err)})
}

// decode reads an optional JSON body and runs struct validation on it.
func decode(w http.ResponseWriter, r *http.Request, validate *validator.Validate, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: malformed body: %v", chaterr.ErrInvalidInput, err)
	}
	if err := validate.Struct(dst); err != nil {
		var invalid *validator.InvalidValidationError
		if errors.As(err, &invalid) {
			return nil
		}
		return fmt.Errorf("%w: %v", chaterr.ErrInvalidInput, err)
	}
	return nil
}
