package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/monitor111/pwa-chat/internal/auth"
	"github.com/monitor111/pwa-chat/internal/config"
	"github.com/monitor111/pwa-chat/internal/crypto"
	"github.com/monitor111/pwa-chat/internal/directory"
	"github.com/monitor111/pwa-chat/internal/hub"
	"github.com/monitor111/pwa-chat/internal/model"
)

var presenceWrites = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "directory_presence_writes_total",
	Help: "Presence upserts by transition.",
}, []string{"online"})

// EventSink receives directory events for fan-out. It is the Redis roster
// when Redis is configured, otherwise the in-process hub.
type EventSink interface {
	Publish(ctx context.Context, event directory.Event) error
}

type Server struct {
	cfg    config.Config
	store  *directory.Store
	roster *directory.Roster
	events EventSink
	hub    *hub.Hub

	upgrader websocket.Upgrader
}

// NewServer wires the directory API. roster may be nil when Redis is not
// configured; events and hub must not be.
func NewServer(cfg config.Config, store *directory.Store, roster *directory.Roster, events EventSink, h *hub.Hub) *Server {
	return &Server{
		cfg:    cfg,
		store:  store,
		roster: roster,
		events: events,
		hub:    h,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/v1/sessions", s.handleCreateSession)

	r.With(s.authMiddleware).Put("/v1/presence/{userID}", s.handlePutPresence)
	r.With(s.authMiddleware).Get("/v1/users", s.handleListUsers)
	r.With(s.authMiddleware).Get("/v1/users/{userID}", s.handleGetUser)
	r.With(s.authMiddleware).Patch("/v1/users/{userID}/name", s.handleRename)
	r.With(s.authMiddleware).Delete("/v1/users/{userID}", s.handleDeleteUser)

	r.With(s.authMiddleware).Post("/v1/chats/{chatID}/messages", s.handlePostMessage)
	r.With(s.authMiddleware).Get("/v1/chats/{chatID}/messages", s.handleListMessages)

	r.Get("/v1/events", s.handleEvents)

	return r
}

type sessionRequest struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Online *bool  `json:"online"`
}

type sessionResponse struct {
	Token string               `json:"token"`
	User  model.PresenceRecord `json:"user"`
}

// Identity ids double as document-path segments, so the charset is strict.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{4,64}$`)

// handleCreateSession is the anonymous sign-in analog: the client presents
// its resolved id (or asks the server to assign one) and gets back a device
// token plus its presence record, marked online unless the request says
// otherwise. Clients that only want to authenticate pass online=false.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	req.ID = strings.TrimSpace(req.ID)
	if req.ID == "" {
		minted, err := crypto.NewIdentityToken()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "server_error")
			return
		}
		req.ID = minted
	}
	if !idPattern.MatchString(req.ID) {
		writeError(w, http.StatusBadRequest, "invalid_id")
		return
	}

	online := true
	if req.Online != nil {
		online = *req.Online
	}
	update := directory.PresenceUpdate{Online: &online}
	if name := strings.TrimSpace(req.Name); name != "" {
		update.Name = &name
	}
	record, err := s.writePresence(r.Context(), req.ID, update)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	token, err := auth.NewDeviceToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, req.ID, record.DisplayName, s.cfg.DeviceTokenTTL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token_error")
		return
	}

	// Bearer tokens never land in logs raw; the hash is enough to correlate
	// a session with later requests.
	log.Printf("session opened for %s token=%s", record.ID, crypto.HashToken(token))

	writeJSON(w, http.StatusOK, sessionResponse{Token: token, User: record})
}

type presenceRequest struct {
	Online bool    `json:"online"`
	Name   *string `json:"name,omitempty"`
}

func (s *Server) handlePutPresence(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if !s.requireSelf(w, r, userID) {
		return
	}

	var req presenceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	update := directory.PresenceUpdate{Online: &req.Online}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			writeError(w, http.StatusBadRequest, "invalid_name")
			return
		}
		update.Name = &name
	}

	record, err := s.writePresence(r.Context(), userID, update)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, record)
}

type renameRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleRename(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if !s.requireSelf(w, r, userID) {
		return
	}

	var req renameRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeError(w, http.StatusBadRequest, "invalid_name")
		return
	}

	record, err := s.writePresence(r.Context(), userID, directory.PresenceUpdate{Name: &name})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.ListPresence(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"users": records})
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	record, err := s.store.GetPresence(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusNotFound, "user_not_found")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// handleDeleteUser is the full sign-out variant: the presence record is
// destroyed instead of being flipped offline.
func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if !s.requireSelf(w, r, userID) {
		return
	}

	if err := s.store.DeletePresence(r.Context(), userID); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if s.roster != nil {
		if err := s.roster.ClearLive(r.Context(), userID); err != nil {
			log.Printf("roster clear for %s failed: %v", userID, err)
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type messageRequest struct {
	To    string `json:"to"`
	Text  string `json:"text"`
	Image string `json:"image"`
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	chatID := chi.URLParam(r, "chatID")

	var req messageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	req.Text = strings.TrimSpace(req.Text)
	req.Image = strings.TrimSpace(req.Image)
	if req.Text == "" && req.Image == "" {
		writeError(w, http.StatusBadRequest, "empty_message")
		return
	}
	if req.To == "" || ChatID(claims.Subject, req.To) != chatID {
		writeError(w, http.StatusForbidden, "not_a_participant")
		return
	}

	msg, err := s.store.InsertMessage(r.Context(), chatID, claims.Subject, req.To, req.Text, req.Image)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	s.publish(r.Context(), directory.MessageEvent(msg))

	writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	chatID := chi.URLParam(r, "chatID")

	// Ids may contain underscores, so the chat id cannot be split to recover
	// the participants. The reader names its peer and the id is rebuilt
	// exactly, mirroring the write path.
	peer := r.URL.Query().Get("peer")
	if peer == "" {
		writeError(w, http.StatusBadRequest, "missing_peer")
		return
	}
	if ChatID(claims.Subject, peer) != chatID {
		writeError(w, http.StatusForbidden, "not_a_participant")
		return
	}

	after := time.Time{}
	if raw := r.URL.Query().Get("after"); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_after")
			return
		}
		after = parsed
	}

	limit := s.cfg.MessagePageLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > s.cfg.MessagePageLimit {
			writeError(w, http.StatusBadRequest, "invalid_limit")
			return
		}
		limit = parsed
	}

	messages, err := s.store.ListMessages(r.Context(), chatID, after, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": messages})
}

// handleEvents upgrades to WebSocket and streams directory events. Browsers
// cannot set headers on WebSocket requests, so the token rides in the query.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = bearerToken(r.Header.Get("Authorization"))
	}
	if _, err := auth.ParseToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, token); err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_token")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.hub.Serve(conn)
}

// writePresence is the single path every presence mutation goes through:
// durable upsert, liveness mirror, event publish.
func (s *Server) writePresence(ctx context.Context, id string, update directory.PresenceUpdate) (model.PresenceRecord, error) {
	record, err := s.store.UpsertPresence(ctx, id, update)
	if err != nil {
		return model.PresenceRecord{}, err
	}

	if update.Online != nil {
		presenceWrites.WithLabelValues(strconv.FormatBool(*update.Online)).Inc()
	}
	if s.roster != nil && update.Online != nil {
		if *update.Online {
			err = s.roster.MarkLive(ctx, id)
		} else {
			err = s.roster.ClearLive(ctx, id)
		}
		if err != nil {
			log.Printf("roster update for %s failed: %v", id, err)
		}
	}

	s.publish(ctx, directory.PresenceEvent(record))
	return record, nil
}

func (s *Server) publish(ctx context.Context, event directory.Event) {
	if err := s.events.Publish(ctx, event); err != nil {
		log.Printf("event publish failed: %v", err)
	}
}

type claimsKey struct{}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing_token")
			return
		}

		claims, err := auth.ParseToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid_token")
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireSelf ensures the token subject matches the id being written.
// Presence records are never mutated by peers.
func (s *Server) requireSelf(w http.ResponseWriter, r *http.Request, userID string) bool {
	claims := claimsFromContext(r.Context())
	if claims == nil || claims.Subject != userID {
		writeError(w, http.StatusForbidden, "not_your_record")
		return false
	}
	return true
}

func claimsFromContext(ctx context.Context) *auth.Claims {
	value := ctx.Value(claimsKey{})
	claims, _ := value.(*auth.Claims)
	return claims
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// ChatID is the canonical id for a 1:1 conversation: both participant ids,
// sorted, joined with an underscore.
func ChatID(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return pair[0] + "_" + pair[1]
}

func decodeJSON(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

