package httpserver

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"hotel_channel/internal/adapters/observability"
	"hotel_channel/internal/adapters/otagw"
	"hotel_channel/internal/app"
	"hotel_channel/internal/domain"
)

type ConnectionDirectory interface {
	ResolveByProperty(ctx context.Context, provider, propertyID string) (domain.ChannelConnection, error)
	ListForHotel(ctx context.Context, hotelID int64) ([]domain.ChannelConnection, error)
}

type ReconcileTrigger interface {
	Trigger(ctx context.Context, connID int64) (app.PollResult, error)
}

type ChangeNotifier interface {
	Notify(req domain.ChangeRequest) bool
}

type Handlers struct {
	Conns      ConnectionDirectory
	Reconciler ReconcileTrigger
	Notifier   ChangeNotifier
	Logs       domain.ChannelLogStore

	// TriggerTimeout bounds a webhook-started reconcile pass.
	TriggerTimeout time.Duration

	wg sync.WaitGroup
}

type problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

func (s *Server) MountHandlers(h *Handlers) {
	s.mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); _, _ = w.Write([]byte("ok")) })
	s.mux.Post("/webhooks/{provider}/reservations", h.reservationPush)
	s.mux.Post("/webhooks/{provider}/errors", h.errorReport)
	s.mux.Post("/v1/hotels/{hotelID}/sync-requests", h.syncRequest)
	s.mux.Get("/v1/hotels/{hotelID}/connections", h.listConnections)
}

// Wait blocks until webhook-started passes are done.
func (h *Handlers) Wait() { h.wg.Wait() }

func writeProblem(w http.ResponseWriter, status int, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(problem{Type: "about:blank", Title: title, Status: status, Detail: detail}); err != nil {
		log.Error().Err(err).Msg("write JSON problem response failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("write JSON response failed")
	}
}

// calcETagAndBody marshals once and hashes once, returning both ETag and body.
func calcETagAndBody(v any) (string, []byte) {
	body, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal object for ETag/body")
		return "", nil
	}
	sum := sha1.Sum(body)
	etag := `W/"` + hex.EncodeToString(sum[:]) + `"`
	return etag, body
}

// resolve maps the webhook's provider and hotel_id onto a live connection.
// It writes the problem response itself when it fails.
func (h *Handlers) resolve(w http.ResponseWriter, r *http.Request) (domain.ChannelConnection, bool) {
	provider := chi.URLParam(r, "provider")
	property := strings.TrimSpace(r.URL.Query().Get("hotel_id"))
	if property == "" {
		writeProblem(w, http.StatusBadRequest, "Missing hotel_id", "hotel_id query parameter is required")
		return domain.ChannelConnection{}, false
	}
	c, err := h.Conns.ResolveByProperty(r.Context(), provider, property)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeProblem(w, http.StatusNotFound, "Not Found", "no active connection for this hotel_id")
		return domain.ChannelConnection{}, false
	case err != nil:
		log.Error().Err(err).Str("provider", provider).Msg("resolve connection failed")
		writeProblem(w, http.StatusInternalServerError, "Internal Error", "could not resolve connection")
		return domain.ChannelConnection{}, false
	}
	return c, true
}

func (h *Handlers) reservationPush(w http.ResponseWriter, r *http.Request) {
	c, ok := h.resolve(w, r)
	if !ok {
		return
	}
	// drain the body; the pass refetches the list itself
	_, _ = io.Copy(io.Discard, r.Body)

	timeout := h.TriggerTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	ctx := context.WithoutCancel(r.Context())
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		res, err := h.Reconciler.Trigger(ctx, c.ID)
		if err != nil {
			log.Error().Err(err).Int64("connection_id", c.ID).Msg("webhook reconcile failed")
			return
		}
		log.Info().Int64("connection_id", c.ID).Int("fetched", res.Fetched).Msg("webhook reconcile done")
	}()
	writeJSON(w, http.StatusAccepted, map[string]any{"connectionId": c.ID, "status": "accepted"})
}

func (h *Handlers) errorReport(w http.ResponseWriter, r *http.Request) {
	c, ok := h.resolve(w, r)
	if !ok {
		return
	}
	start := time.Now()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeProblem(w, http.StatusRequestEntityTooLarge, "Body Too Large", err.Error())
		return
	}
	rep, err := otagw.ParseErrorReport(body)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Malformed Report", err.Error())
		return
	}

	observability.ObserveRejections("webhook", len(rep.Errors))
	summary := summarize(rep.Errors)
	entry := domain.ChannelLogEntry{
		ID:           uuid.NewString(),
		ConnectionID: c.ID,
		Operation:    string(otagw.OpErrorReport),
		Direction:    domain.DirectionInbound,
		Outcome:      domain.OutcomeFailure,
		RequestBody:  domain.Truncate(string(body)),
		Error:        &summary,
		Duration:     time.Since(start),
		CreatedAt:    time.Now().UTC(),
	}
	if rep.RQID != "" {
		entry.CorrelationID = &rep.RQID
	} else if id := chimw.GetReqID(r.Context()); id != "" {
		entry.CorrelationID = &id
	}
	if err := h.Logs.InsertLog(r.Context(), entry); err != nil {
		log.Error().Err(err).Int64("connection_id", c.ID).Msg("store error report failed")
		writeProblem(w, http.StatusInternalServerError, "Internal Error", "could not store report")
		return
	}
	log.Warn().
		Int64("connection_id", c.ID).
		Str("rqid", rep.RQID).
		Int("rejections", len(rep.Errors)).
		Str("detail", summary).
		Msg("gateway reported rejected inventory")
	writeJSON(w, http.StatusAccepted, map[string]any{"logId": entry.ID, "rejections": len(rep.Errors)})
}

func summarize(rej []domain.ItemRejection) string {
	if len(rej) == 0 {
		return "error report without items"
	}
	parts := make([]string, 0, len(rej))
	for _, e := range rej {
		s := e.Type + " " + e.ID
		if e.Date != nil {
			s += " " + e.Date.Format(time.DateOnly)
		}
		parts = append(parts, strings.TrimSpace(s)+": "+e.Description)
	}
	return strings.Join(parts, "; ")
}

func hotelID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "hotelID"), 10, 64)
	if err != nil || id <= 0 {
		writeProblem(w, http.StatusBadRequest, "Invalid ID", "hotelID must be a positive number")
		return 0, false
	}
	return id, true
}

func (h *Handlers) syncRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := hotelID(w, r)
	if !ok {
		return
	}
	var req domain.ChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	req.HotelID = id
	if req.RoomTypeID <= 0 || req.From.IsZero() {
		writeProblem(w, http.StatusBadRequest, "Invalid Body", "roomTypeId and from are required")
		return
	}
	if n := len(req.Dates()); n > app.MaxEnqueueDays {
		writeProblem(w, http.StatusBadRequest, "Invalid Body", fmt.Sprintf("range of %d days exceeds %d", n, app.MaxEnqueueDays))
		return
	}
	if !h.Notifier.Notify(req) {
		w.Header().Set("Retry-After", "5")
		writeProblem(w, http.StatusServiceUnavailable, "Busy", "sync request buffer is full")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "accepted"})
}

// connectionView is what operators see of a connection. Credentials never leave the registry.
type connectionView struct {
	ID           int64                `json:"id"`
	Provider     string               `json:"provider"`
	Mode         string               `json:"mode"`
	Status       string               `json:"status"`
	LastError    *domain.SyncError    `json:"lastError,omitempty"`
	LastSync     map[string]string    `json:"lastSync,omitempty"`
	RoomMappings []domain.RoomMapping `json:"roomMappings"`
}

func viewOf(c domain.ChannelConnection) connectionView {
	v := connectionView{
		ID:           c.ID,
		Provider:     c.Provider,
		Mode:         string(c.Mode),
		Status:       string(c.Status),
		LastError:    c.LastError,
		RoomMappings: c.RoomMappings,
	}
	for name, t := range map[domain.SyncCategory]*time.Time{
		domain.SyncReservations: c.LastSync.Reservations,
		domain.SyncInventory:    c.LastSync.Inventory,
		domain.SyncProducts:     c.LastSync.Products,
	} {
		if t == nil {
			continue
		}
		if v.LastSync == nil {
			v.LastSync = map[string]string{}
		}
		v.LastSync[string(name)] = t.UTC().Format(time.RFC3339)
	}
	return v
}

func (h *Handlers) listConnections(w http.ResponseWriter, r *http.Request) {
	id, ok := hotelID(w, r)
	if !ok {
		return
	}
	cs, err := h.Conns.ListForHotel(r.Context(), id)
	if err != nil {
		log.Error().Err(err).Int64("hotel_id", id).Msg("list connections failed")
		writeProblem(w, http.StatusInternalServerError, "Internal Error", "could not list connections")
		return
	}
	out := make([]connectionView, 0, len(cs))
	for _, c := range cs {
		out = append(out, viewOf(c))
	}

	etag, body := calcETagAndBody(map[string]any{"items": out})
	if inm := r.Header.Get("If-None-Match"); inm != "" && inm == etag {
		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("ETag", etag)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		log.Error().Err(err).Msg("failed to write listConnections body")
	}
}
