package web

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Varun-Patkar/RebirthRealm/internal/engine"
	"github.com/Varun-Patkar/RebirthRealm/internal/interfaces"
	"github.com/Varun-Patkar/RebirthRealm/internal/llm"
	"github.com/Varun-Patkar/RebirthRealm/internal/logging"
	"github.com/Varun-Patkar/RebirthRealm/internal/models"
)

// UserHeader carries the caller's user id. Authentication happens upstream.
const UserHeader = "X-User-ID"

type userKey struct{}

// Response is the envelope of every JSON reply.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

type Handlers struct {
	engine *engine.StoryEngine
	hub    *ProgressHub
	logger *slog.Logger
}

func NewHandlers(storyEngine *engine.StoryEngine, hub *ProgressHub, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Handlers{
		engine: storyEngine,
		hub:    hub,
		logger: logger.With("component", "http"),
	}
}

func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":  "ok",
		"service": "rebirthrealm",
		"model":   h.engine.ModelStatus(),
	}
	if h.hub != nil {
		status["clients"] = h.hub.ClientCount()
	}
	writeJSON(w, http.StatusOK, status)
}

// Subscribe streams the progress of one saga to its owner. Browsers cannot set
// headers on a websocket handshake, so the user id may also come as ?user_id=.
func (h *Handlers) Subscribe(w http.ResponseWriter, r *http.Request) {
	user := strings.TrimSpace(r.Header.Get(UserHeader))
	if user == "" {
		user = strings.TrimSpace(r.URL.Query().Get("user_id"))
	}
	if user == "" {
		writeError(w, http.StatusUnauthorized, UserHeader+" header or user_id is required")
		return
	}
	sagaID := strings.TrimSpace(r.URL.Query().Get("saga_id"))
	if sagaID == "" {
		writeError(w, http.StatusBadRequest, "saga_id is required")
		return
	}
	if _, err := h.engine.GetSaga(r.Context(), user, sagaID); err != nil {
		h.fail(w, err)
		return
	}
	h.hub.ServeWS(w, r)
}

// CORS middleware
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		w.Header().Set("Access-Control-Max-Age", "300")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades pass through the request logger.
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	conn, rw, err := hj.Hijack()
	if err == nil {
		s.status = http.StatusSwitchingProtocols
	}
	return conn, rw, err
}

func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			logger.Debug("request", "method", r.Method, "path", r.URL.Path,
				"status", rec.status, "elapsed", time.Since(start).Round(time.Millisecond))
		})
	}
}

// requireUser rejects requests without a user id header.
func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(UserHeader))
		if userID == "" {
			writeError(w, http.StatusUnauthorized, UserHeader+" header is required")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, userID)))
	})
}

func userID(r *http.Request) string {
	id, _ := r.Context().Value(userKey{}).(string)
	return id
}

func NewRouter(storyEngine *engine.StoryEngine, hub *ProgressHub, logger *slog.Logger) *chi.Mux {
	handlers := NewHandlers(storyEngine, hub, logger)

	r := chi.NewRouter()
	r.Use(requestLogger(handlers.logger))
	r.Use(corsMiddleware)

	r.Get("/health", handlers.HealthCheck)
	if hub != nil {
		r.Get("/ws", handlers.Subscribe)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/model", func(r chi.Router) {
			r.Post("/initialize", handlers.InitializeModel)
			r.Post("/reload", handlers.ReloadModel)
			r.Get("/status", handlers.ModelStatus)
		})

		r.Route("/sagas", func(r chi.Router) {
			r.Use(requireUser)
			r.Get("/", handlers.ListSagas)
			r.Post("/", handlers.CreateSaga)

			r.Route("/{sagaID}", func(r chi.Router) {
				r.Get("/", handlers.GetSaga)
				r.Put("/", handlers.UpdateSaga)
				r.Delete("/", handlers.DeleteSaga)
				r.Put("/mode", handlers.SetStoryMode)

				r.Route("/story", func(r chi.Router) {
					r.Post("/start", handlers.StartStory)
					r.Post("/decision", handlers.SubmitDecision)
					r.Post("/direction", handlers.SubmitDirection)
					r.Post("/navigate", handlers.Navigate)
					r.Post("/back", handlers.GoBack)
					r.Get("/current", handlers.Current)
				})

				r.Get("/timeline", handlers.Timeline)
				r.Get("/search", handlers.SearchChapters)
				r.Get("/nodes", handlers.ListNodes)
				r.Delete("/nodes", handlers.DeleteAllNodes)
				r.Route("/nodes/{nodeID}", func(r chi.Router) {
					r.Get("/", handlers.GetNode)
					r.Delete("/", handlers.DeleteNode)
					r.Get("/branch", handlers.Branch)
					r.Post("/regenerate", handlers.Regenerate)
					r.Get("/export.pdf", handlers.ExportBranch)
				})
			})
		})
	})

	return r
}

// Model endpoints

func (h *Handlers) InitializeModel(w http.ResponseWriter, r *http.Request) {
	h.loadModel(w, r, h.engine.InitializeModel)
}

func (h *Handlers) ReloadModel(w http.ResponseWriter, r *http.Request) {
	h.loadModel(w, r, h.engine.ReloadModel)
}

func (h *Handlers) loadModel(w http.ResponseWriter, r *http.Request, load func(context.Context, func(interfaces.InitProgress)) (bool, error)) {
	ok, err := load(r.Context(), func(p interfaces.InitProgress) {
		h.logger.Info("model loading", "progress", p.Progress, "text", p.Text)
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	if !ok {
		writeError(w, http.StatusConflict, "model is already loading")
		return
	}
	writeJSON(w, http.StatusOK, h.engine.ModelStatus())
}

func (h *Handlers) ModelStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.ModelStatus())
}

// Saga endpoints

// SagaRequest is the body of saga create and update calls. On update, absent
// fields are left unchanged.
type SagaRequest struct {
	Title            *string           `json:"title"`
	WorldName        *string           `json:"worldName"`
	WorldDescription *string           `json:"worldDescription"`
	MoodAndTropes    *string           `json:"moodAndTropes"`
	Premise          *string           `json:"premise"`
	AdvancedOptions  *string           `json:"advancedOptions"`
	TotalChapters    *int              `json:"totalChapters"`
	StoryMode        *models.StoryMode `json:"storyMode"`
}

func (req SagaRequest) patch() models.SagaPatch {
	return models.SagaPatch{
		Title:            req.Title,
		WorldName:        req.WorldName,
		WorldDescription: req.WorldDescription,
		MoodAndTropes:    req.MoodAndTropes,
		Premise:          req.Premise,
		AdvancedOptions:  req.AdvancedOptions,
		TotalChapters:    req.TotalChapters,
		StoryMode:        req.StoryMode,
	}
}

func (h *Handlers) CreateSaga(w http.ResponseWriter, r *http.Request) {
	var req SagaRequest
	if !decode(w, r, &req) {
		return
	}
	saga := &models.Saga{UserID: userID(r)}
	req.patch().Apply(saga)

	created, err := h.engine.CreateSaga(r.Context(), saga)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handlers) ListSagas(w http.ResponseWriter, r *http.Request) {
	sagas, err := h.engine.ListSagas(r.Context(), userID(r))
	if err != nil {
		h.fail(w, err)
		return
	}
	if sagas == nil {
		sagas = []*models.Saga{}
	}
	writeJSON(w, http.StatusOK, sagas)
}

func (h *Handlers) GetSaga(w http.ResponseWriter, r *http.Request) {
	saga, err := h.engine.GetSaga(r.Context(), userID(r), chi.URLParam(r, "sagaID"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, saga)
}

func (h *Handlers) UpdateSaga(w http.ResponseWriter, r *http.Request) {
	var req SagaRequest
	if !decode(w, r, &req) {
		return
	}
	saga, err := h.engine.UpdateSaga(r.Context(), userID(r), chi.URLParam(r, "sagaID"), req.patch())
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, saga)
}

func (h *Handlers) DeleteSaga(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.DeleteSaga(r.Context(), userID(r), chi.URLParam(r, "sagaID")); err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "saga deleted"})
}

func (h *Handlers) SetStoryMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode models.StoryMode `json:"mode"`
	}
	if !decode(w, r, &req) {
		return
	}
	saga, err := h.engine.SetStoryMode(r.Context(), scopeOf(r), req.Mode)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, saga)
}

func scopeOf(r *http.Request) models.Scope {
	return models.Scope{SagaID: chi.URLParam(r, "sagaID"), UserID: userID(r)}
}

// decode reads a JSON body. An empty body decodes to the zero value.
func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.Body == nil {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Response{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Response{Success: false, Error: message})
}

// StatusFor maps an engine error to its HTTP status.
func StatusFor(err error) int {
	switch {
	case models.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrTerminalNode),
		errors.Is(err, models.ErrGenerationInProgress),
		errors.Is(err, models.ErrStoryModeLocked),
		errors.Is(err, models.ErrWrongMode):
		return http.StatusConflict
	case errors.Is(err, llm.ErrNotInitialized):
		return http.StatusServiceUnavailable
	case errors.Is(err, llm.ErrGenerationFailed):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (h *Handlers) fail(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "status", status, "error", err)
	}
	writeError(w, status, err.Error())
}
