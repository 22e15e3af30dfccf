package shipments_api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/BearBump/ShipTrack/internal/auth"
	"github.com/BearBump/ShipTrack/internal/metrics"
	"github.com/BearBump/ShipTrack/internal/models"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
)

const (
	DefaultTrackLimit  = 60
	DefaultTrackWindow = time.Minute

	maxBodyBytes = 1 << 20
)

type Service interface {
	Create(ctx context.Context, in models.ShipmentCreateInput) (*models.Shipment, error)
	GetByID(ctx context.Context, id uint64) (*models.Shipment, error)
	Track(ctx context.Context, trackingNumber string) (*models.Shipment, error)
	List(ctx context.Context, req models.PageRequest) (models.Page[*models.Shipment], error)
	ListByStatus(ctx context.Context, status models.Status) ([]*models.Shipment, error)
	ListOverdue(ctx context.Context) ([]*models.Shipment, error)
	UpdateStatus(ctx context.Context, id uint64, next models.Status) (*models.Shipment, error)
	Delete(ctx context.Context, id uint64) error
	ListEvents(ctx context.Context, id uint64, limit, offset int) ([]*models.ShipmentEvent, error)
	Now() time.Time
}

type Authenticator interface {
	Login(ctx context.Context, username, password string) (auth.Token, error)
	Validate(token string) (string, error)
}

// RateLimiter counts hits per key in fixed windows.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

type ShipmentsAPI struct {
	svc     Service
	auth    Authenticator
	limiter RateLimiter
	metrics *metrics.Metrics
	log     *slog.Logger

	trackLimit  int64
	trackWindow time.Duration
}

// New builds the REST gateway. limiter may be nil, which disables throttling of public lookups.
func New(svc Service, a Authenticator, limiter RateLimiter) *ShipmentsAPI {
	return &ShipmentsAPI{
		svc:         svc,
		auth:        a,
		limiter:     limiter,
		log:         slog.Default(),
		trackLimit:  DefaultTrackLimit,
		trackWindow: DefaultTrackWindow,
	}
}

func (a *ShipmentsAPI) WithMetrics(m *metrics.Metrics) *ShipmentsAPI {
	a.metrics = m
	return a
}

func (a *ShipmentsAPI) WithLogger(l *slog.Logger) *ShipmentsAPI {
	if l != nil {
		a.log = l
	}
	return a
}

// WithTrackLimit sets how many public lookups one client may do per window. limit <= 0 disables it.
func (a *ShipmentsAPI) WithTrackLimit(limit int64, window time.Duration) *ShipmentsAPI {
	a.trackLimit = limit
	if window > 0 {
		a.trackWindow = window
	}
	return a
}

// Routes returns the /api/v1 subtree.
func (a *ShipmentsAPI) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(a.observe)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", a.login)
		r.Get("/validate", a.validate)
	})

	r.Route("/shipments", func(r chi.Router) {
		r.With(a.rateLimit).Get("/track/{trackingNumber}", a.track)

		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth)
			r.Post("/", a.create)
			r.Get("/", a.list)
			r.Get("/overdue", a.listOverdue)
			r.Get("/status/{status}", a.listByStatus)
			r.Get("/{id}", a.get)
			r.Get("/{id}/events", a.listEvents)
			r.Put("/{id}/status", a.updateStatus)
			r.Delete("/{id}", a.delete)
		})
	})
	return r
}

func (a *ShipmentsAPI) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	switch {
	case strings.TrimSpace(req.Username) == "":
		a.writeError(w, r, models.NewValidationError("username", "is required"))
		return
	case req.Password == "":
		a.writeError(w, r, models.NewValidationError("password", "is required"))
		return
	}

	tok, err := a.auth.Login(r.Context(), req.Username, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		writeErrorBody(w, http.StatusBadRequest, codeUnauthorized, "Invalid credentials", nil)
		return
	}
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLoginResponse(tok))
}

func (a *ShipmentsAPI) validate(w http.ResponseWriter, r *http.Request) {
	username, err := a.authenticate(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, validateResponse{Valid: true, Username: username})
}

func (a *ShipmentsAPI) create(w http.ResponseWriter, r *http.Request) {
	var req createShipmentRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	in, err := req.toInput()
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	sh, err := a.svc.Create(r.Context(), in)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/shipments/"+strconv.FormatUint(sh.ID, 10))
	writeJSON(w, http.StatusCreated, toShipmentResponse(sh, a.svc.Now()))
}

func (a *ShipmentsAPI) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var req models.PageRequest
	var err error
	if req.Page, err = queryInt(q.Get("page"), "page", 0); err != nil {
		a.writeError(w, r, err)
		return
	}
	if req.Size, err = queryInt(q.Get("size"), "size", models.DefaultPageSize); err != nil {
		a.writeError(w, r, err)
		return
	}
	if req.Sort, err = models.ParseSort(q.Get("sort")); err != nil {
		a.writeError(w, r, err)
		return
	}

	page, err := a.svc.List(r.Context(), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	now := a.svc.Now()
	writeJSON(w, http.StatusOK, models.MapPage(page, func(sh *models.Shipment) shipmentResponse {
		return toShipmentResponse(sh, now)
	}))
}

func (a *ShipmentsAPI) listOverdue(w http.ResponseWriter, r *http.Request) {
	items, err := a.svc.ListOverdue(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toShipmentResponses(items, a.svc.Now()))
}

func (a *ShipmentsAPI) listByStatus(w http.ResponseWriter, r *http.Request) {
	st, err := models.ParseStatus(chi.URLParam(r, "status"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	items, err := a.svc.ListByStatus(r.Context(), st)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toShipmentResponses(items, a.svc.Now()))
}

func (a *ShipmentsAPI) track(w http.ResponseWriter, r *http.Request) {
	tn := strings.ToUpper(strings.TrimSpace(chi.URLParam(r, "trackingNumber")))
	if tn == "" {
		a.writeError(w, r, models.NewValidationError("trackingNumber", "is required"))
		return
	}
	sh, err := a.svc.Track(r.Context(), tn)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPublicShipment(sh, a.svc.Now()))
}

func (a *ShipmentsAPI) get(w http.ResponseWriter, r *http.Request) {
	id, err := ParseID(chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	sh, err := a.svc.GetByID(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toShipmentResponse(sh, a.svc.Now()))
}

func (a *ShipmentsAPI) listEvents(w http.ResponseWriter, r *http.Request) {
	id, err := ParseID(chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	limit, err := queryInt(q.Get("limit"), "limit", 100)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	offset, err := queryInt(q.Get("offset"), "offset", 0)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	evs, err := a.svc.ListEvents(r.Context(), id, limit, offset)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEventResponses(evs))
}

func (a *ShipmentsAPI) updateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := ParseID(chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	var req updateStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Status) == "" {
		a.writeError(w, r, models.NewValidationError("status", "is required"))
		return
	}
	next, err := models.ParseStatus(req.Status)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	sh, err := a.svc.UpdateStatus(r.Context(), id, next)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toShipmentResponse(sh, a.svc.Now()))
}

func (a *ShipmentsAPI) delete(w http.ResponseWriter, r *http.Request) {
	id, err := ParseID(chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := a.svc.Delete(r.Context(), id); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ParseID reads a positive decimal shipment id.
func ParseID(raw string) (uint64, error) {
	id, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil || id == 0 {
		return 0, models.NewValidationError("id", "must be a positive integer")
	}
	return id, nil
}

func queryInt(raw, field string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, models.NewValidationError(field, "must be an integer")
	}
	return v, nil
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return models.NewValidationError("body", "request body is required")
		}
		return models.NewValidationError("body", "malformed JSON")
	}
	return nil
}
