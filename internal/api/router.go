package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"c2pastreamd/internal/extract"
	"c2pastreamd/internal/gate"
	"c2pastreamd/internal/logger"
	"c2pastreamd/internal/menu"
	"c2pastreamd/internal/models"
	"c2pastreamd/internal/player"
	"c2pastreamd/internal/session"
)

// DefaultMaxBodyBytes bounds uploaded segments and files.
const DefaultMaxBodyBytes = 256 << 20

// Options configures the HTTP surface.
type Options struct {
	// RateLimit is the number of requests allowed per window, counted per
	// client IP for session creation and per client IP and session for
	// the session routes. Zero disables rate limiting.
	RateLimit       int
	RateLimitWindow time.Duration
	MaxBodyBytes    int64
	// AllowedOrigins enables CORS for browser players on these origins.
	AllowedOrigins []string
}

type API struct {
	sessionMgr *session.SessionManager
	logger     logger.Logger
	opts       Options
}

// New builds the router.
func New(sessionMgr *session.SessionManager, log *logger.ZeroLogger, opts Options) http.Handler {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	api := &API{
		sessionMgr: sessionMgr,
		logger:     log.WithComponent("api"),
		opts:       opts,
	}

	r := chi.NewRouter()
	if len(opts.AllowedOrigins) > 0 {
		r.Use(corsHandler(opts.AllowedOrigins))
	}
	r.Use(requestID)
	r.Use(middleware.Recoverer)
	r.Use(accessLog(log.WithComponent("http").Zerolog()))

	r.Get("/healthz", api.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	limited := opts.RateLimit > 0 && opts.RateLimitWindow > 0
	r.Route("/sessions", func(r chi.Router) {
		create := r
		if limited {
			create = r.With(rateLimit(opts.RateLimit, opts.RateLimitWindow, httprate.KeyByIP))
		}
		create.Post("/", api.handleCreateSession)
		r.Route("/{sessionId}", func(r chi.Router) {
			if limited {
				r.Use(rateLimit(opts.RateLimit, opts.RateLimitWindow, httprate.KeyByIP, keyBySession))
			}
			r.Get("/", api.handleGetSession)
			r.Delete("/", api.handleDeleteSession)
			r.Post("/segments", api.handleSegment)
			r.Post("/events", api.handleEvent)
			r.Post("/monolithic", api.handleMonolithic)
			r.Get("/menu", api.handleMenu)
		})
	})

	return r
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "sessions": a.sessionMgr.Len()})
}

// session resolves the session of the request or writes the error.
func (a *API) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := a.sessionMgr.Get(chi.URLParam(r, "sessionId"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return nil, false
	}
	return sess, true
}

// playerError maps player errors to responses.
func (a *API) playerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, player.ErrClosed):
		writeError(w, http.StatusGone, err.Error())
	default:
		a.logger.Warnf("Player request failed: %v", err)
		writeError(w, http.StatusServiceUnavailable, err.Error())
	}
}

type createResponse struct {
	ID string `json:"id"`
}

func (a *API) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	sess := a.sessionMgr.Create()
	w.Header().Set("Location", "/sessions/"+sess.ID)
	writeJSON(w, http.StatusCreated, createResponse{ID: sess.ID})
}

func (a *API) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.session(w, r)
	if !ok {
		return
	}
	snap, err := sess.Player.Snapshot(r.Context())
	if err != nil {
		a.playerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a *API) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := a.sessionMgr.Delete(chi.URLParam(r, "sessionId")); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// parseSegment builds a descriptor from the query string and the raw body.
func parseSegment(r *http.Request, body []byte) (models.SegmentDescriptor, error) {
	q := r.URL.Query()
	mt, err := models.ParseMediaType(q.Get("mediaType"))
	if err != nil {
		return models.SegmentDescriptor{}, err
	}
	kind, err := models.ParseSegmentKind(q.Get("kind"))
	if err != nil {
		return models.SegmentDescriptor{}, err
	}
	desc := models.SegmentDescriptor{
		StreamID:         q.Get("streamId"),
		MediaType:        mt,
		RepresentationID: q.Get("representationId"),
		Kind:             kind,
		Payload:          body,
	}
	if kind == models.KindMedia {
		if desc.Start, err = strconv.ParseFloat(q.Get("start"), 64); err != nil {
			return models.SegmentDescriptor{}, fmt.Errorf("invalid start: %w", err)
		}
		if desc.End, err = strconv.ParseFloat(q.Get("end"), 64); err != nil {
			return models.SegmentDescriptor{}, fmt.Errorf("invalid end: %w", err)
		}
	}
	return desc, desc.Validate()
}

func (a *API) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, a.opts.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		} else {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("read body: %v", err))
		}
		return nil, false
	}
	return body, true
}

// handleSegment feeds one fetched segment to the session's player. With
// wait=1 the response is sent once the segment has been indexed.
func (a *API) handleSegment(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.session(w, r)
	if !ok {
		return
	}
	body, ok := a.readBody(w, r)
	if !ok {
		return
	}
	desc, err := parseSegment(r, body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sess.Events.Emit(player.EventSegmentResponse, player.SegmentResponse{Segment: desc})
	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		if err := sess.Player.Sync(r.Context()); err != nil {
			a.playerError(w, err)
			return
		}
	}
	w.WriteHeader(http.StatusAccepted)
}

type eventRequest struct {
	Type             string   `json:"type"`
	Time             *float64 `json:"time,omitempty"`
	StreamID         string   `json:"streamId,omitempty"`
	MediaType        string   `json:"mediaType,omitempty"`
	RepresentationID string   `json:"representationId,omitempty"`
	Duration         float64  `json:"duration,omitempty"`
}

type eventResponse struct {
	Verified models.Status `json:"verified"`
	Gate     gate.State    `json:"gate"`
	Commands []string      `json:"commands"`
}

// payload converts the request into the player's event payload.
func (e eventRequest) payload(ev player.Event) (any, error) {
	needTime := func() (float64, error) {
		if e.Time == nil {
			return 0, fmt.Errorf("%s requires time", ev)
		}
		return *e.Time, nil
	}

	switch ev {
	case player.EventPlaybackTimeUpdated:
		t, err := needTime()
		return player.TimeUpdate{Time: t, StreamID: e.StreamID}, err
	case player.EventSeeking, player.EventSeeked:
		t, err := needTime()
		return player.SeekEvent{Time: t}, err
	case player.EventQualityChangeRendered:
		mt, err := models.ParseMediaType(e.MediaType)
		if err != nil {
			return nil, err
		}
		if e.RepresentationID == "" {
			return nil, errors.New("qualityChangeRendered requires representationId")
		}
		return player.QualityChange{MediaType: mt, RepresentationID: e.RepresentationID}, nil
	case player.EventDurationChange:
		return player.DurationChange{Duration: e.Duration}, nil
	case player.EventSegmentResponse:
		return nil, errors.New("segments are posted to the segments endpoint")
	}
	return nil, nil
}

func (a *API) handleEvent(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.session(w, r)
	if !ok {
		return
	}

	var req eventRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid event: %v", err))
		return
	}
	ev, err := player.ParseEvent(req.Type)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	payload, err := req.payload(ev)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sess.Events.Emit(ev, payload)
	snap, err := sess.Player.Snapshot(r.Context())
	if err != nil {
		a.playerError(w, err)
		return
	}
	commands := sess.Commands.Drain()
	if commands == nil {
		commands = []string{}
	}
	writeJSON(w, http.StatusOK, eventResponse{Verified: snap.Status, Gate: snap.Gate, Commands: commands})
}

func (a *API) handleMonolithic(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.session(w, r)
	if !ok {
		return
	}
	body, ok := a.readBody(w, r)
	if !ok {
		return
	}
	if len(body) == 0 {
		writeError(w, http.StatusBadRequest, "empty body")
		return
	}

	res, err := sess.Player.SetMonolithic(r.Context(), body)
	if err != nil {
		a.playerError(w, err)
		return
	}
	sess.Logger.Infof("Monolithic file verified: %s", monolithicOutcome(res))
	writeJSON(w, http.StatusOK, res)
}

func monolithicOutcome(res extract.Result) string {
	switch {
	case res.Err != "":
		return res.Err
	case res.Manifest.Valid():
		return "valid"
	default:
		return "invalid"
	}
}

type menuResponse struct {
	Menu  menu.Menu   `json:"menu"`
	Items []menu.Item `json:"items"`
}

func (a *API) handleMenu(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.session(w, r)
	if !ok {
		return
	}
	m, err := sess.Player.Menu(r.Context())
	if err != nil {
		a.playerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, menuResponse{Menu: m, Items: m.Items()})
}
