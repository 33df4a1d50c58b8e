package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"
	"github.com/go-chi/jwtauth"
	log "github.com/sirupsen/logrus"

	"github.com/avvvet/gameview-services/internal/gamesvc/broker"
	"github.com/avvvet/gameview-services/internal/gamesvc/models"
	"github.com/avvvet/gameview-services/internal/gamesvc/service"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type HistoryReader interface {
	History(ctx context.Context, gameID int64, limit int64) ([]models.AuditEntry, error)
}

type Handler struct {
	tokenAuth *jwtauth.JWTAuth
	service   string
	store     Pinger
	games     *service.GameService
	ledger    *service.ParticipationService
	history   HistoryReader
}

func NewHandler(serviceName string, store Pinger, games *service.GameService, ledger *service.ParticipationService, history HistoryReader) *Handler {
	return &Handler{
		service: serviceName,
		store:   store,
		games:   games,
		ledger:  ledger,
		history: history,
	}
}

type Response struct {
	Message string      `json:"message"`
	Code    int         `json:"code"`
	Data    interface{} `json:"data"`
	Error   string      `json:"error,omitempty"`
}

func (h *Handler) CreateResponse(w http.ResponseWriter, rsp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(rsp.Code)

	if err := json.NewEncoder(w).Encode(rsp); err != nil {
		log.Errorf("Error encoding response: %s", err)
	}
}

func (h *Handler) errorResponse(w http.ResponseWriter, err error) {
	code := broker.StatusFor(err)
	msg := err.Error()
	if code >= http.StatusInternalServerError {
		log.Errorf("Error handling request: %s", err)
		msg = "internal error"
	}
	h.CreateResponse(w, Response{Message: http.StatusText(code), Code: code, Error: msg})
}

func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		h.CreateResponse(w, Response{Message: h.service + " service store unavailable", Code: http.StatusServiceUnavailable, Error: err.Error()})
		return
	}
	h.CreateResponse(w, Response{Message: h.service + " service is running", Code: http.StatusOK})
}

func (h *Handler) ListGamesHandler(w http.ResponseWriter, r *http.Request) {
	games, err := h.games.List(r.Context())
	if err != nil {
		h.errorResponse(w, err)
		return
	}
	h.CreateResponse(w, Response{Message: "games", Code: http.StatusOK, Data: games})
}

func (h *Handler) GetGameHandler(w http.ResponseWriter, r *http.Request) {
	id, err := gameID(r)
	if err != nil {
		h.errorResponse(w, err)
		return
	}
	game, err := h.games.Get(r.Context(), id)
	if err != nil {
		h.errorResponse(w, err)
		return
	}
	m, err := h.ledger.Metrics(r.Context(), id)
	if err != nil {
		h.errorResponse(w, err)
		return
	}
	h.CreateResponse(w, Response{Message: "game", Code: http.StatusOK, Data: service.NewGameProjection(game, m)})
}

// MetricsHandler accepts ?includeActive=false to average closed sessions only.
func (h *Handler) MetricsHandler(w http.ResponseWriter, r *http.Request) {
	id, err := gameID(r)
	if err != nil {
		h.errorResponse(w, err)
		return
	}

	var m *models.GameMetrics
	if v := r.URL.Query().Get("includeActive"); v != "" {
		includeActive, perr := strconv.ParseBool(v)
		if perr != nil {
			h.errorResponse(w, &models.ValidationError{Field: "includeActive", Reason: perr.Error()})
			return
		}
		m, err = h.ledger.MetricsWith(r.Context(), id, includeActive)
	} else {
		m, err = h.ledger.Metrics(r.Context(), id)
	}
	if err != nil {
		h.errorResponse(w, err)
		return
	}
	h.CreateResponse(w, Response{Message: "game metrics", Code: http.StatusOK, Data: m})
}

func (h *Handler) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	id, err := gameID(r)
	if err != nil {
		h.errorResponse(w, err)
		return
	}
	if _, err := h.games.Get(r.Context(), id); err != nil {
		h.errorResponse(w, err)
		return
	}
	entries, err := h.history.History(r.Context(), id, 200)
	if err != nil {
		h.errorResponse(w, err)
		return
	}
	if entries == nil {
		entries = []models.AuditEntry{}
	}
	h.CreateResponse(w, Response{Message: "game history", Code: http.StatusOK, Data: entries})
}

func gameID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, &models.ValidationError{Field: "id", Reason: "must be a positive integer"}
	}
	return id, nil
}
