package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eugenenazirov/expconf/internal/catalog"
	"github.com/eugenenazirov/expconf/internal/compose"
	"github.com/eugenenazirov/expconf/internal/interpolate"
	"github.com/eugenenazirov/expconf/internal/query"
	"github.com/eugenenazirov/expconf/internal/validate"
)

type contextKey string

const requestIDContextKey contextKey = "requestID"

// Catalog is the part of the configuration catalog the handlers read.
type Catalog interface {
	Families() []string
	Groups(family string) (map[string][]string, error)
	Reload() error
}

// Composer builds and resolves configurations.
type Composer interface {
	Build(ctx context.Context, req compose.Request) (*compose.Result, error)
	Resolve(res *compose.Result) error
}

// Validator checks composed configurations.
type Validator interface {
	Validate(res *compose.Result, resolveErr error) validate.Report
}

// Handler wires catalog, composer and validator dependencies into HTTP handlers.
type Handler struct {
	catalog   Catalog
	composer  Composer
	validator Validator
	logger    *zap.Logger

	clock func() time.Time

	mu         sync.RWMutex
	reloadedAt time.Time
}

// HandlerOption configures Handler behaviour.
type HandlerOption func(*Handler)

// WithClock overrides the time source, primarily for tests.
func WithClock(clock func() time.Time) HandlerOption {
	return func(h *Handler) {
		h.clock = clock
	}
}

// WithHandlerLogger attaches a logger for handler diagnostics.
func WithHandlerLogger(logger *zap.Logger) HandlerOption {
	return func(h *Handler) {
		h.logger = logger
	}
}

// NewHandler constructs a Handler with the provided dependencies.
func NewHandler(cat Catalog, composer Composer, validator Validator, opts ...HandlerOption) *Handler {
	h := &Handler{
		catalog:   cat,
		composer:  composer,
		validator: validator,
		logger:    zap.NewNop(),
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	h.reloadedAt = h.clock()
	return h
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	_ = r
	resp := healthResponse{
		Status:    "ok",
		Timestamp: h.clock(),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleFamilies(w http.ResponseWriter, r *http.Request) {
	_ = r
	families, err := h.describeFamilies()
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, familiesResponse{
		Families:   families,
		ReloadedAt: h.currentReloadedAt(),
	})
}

func (h *Handler) handleCompose(w http.ResponseWriter, r *http.Request) {
	var req composeRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	res, err := h.composer.Build(r.Context(), req.compose())
	if err != nil {
		writeComposeError(w, err)
		return
	}
	if req.Resolve == nil || *req.Resolve {
		if err := h.composer.Resolve(res); err != nil {
			writeComposeError(w, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, composeResponse{
		Family:     res.Family,
		Config:     res.Config,
		Resolved:   res.Resolved,
		Choices:    res.Choices,
		Overrides:  res.Overrides,
		ComposedAt: res.Time,
	})
}

func (h *Handler) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req composeRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	res, err := h.composer.Build(r.Context(), req.compose())
	if err != nil {
		writeComposeError(w, err)
		return
	}
	resolveErr := h.composer.Resolve(res)
	report := h.validator.Validate(res, resolveErr)

	issues := report.Issues
	if issues == nil {
		issues = []validate.Issue{}
	}
	resp := validateResponse{
		Family:  res.Family,
		Valid:   report.Valid(),
		Issues:  issues,
		Choices: res.Choices,
	}
	status := http.StatusOK
	if !report.Valid() {
		status = http.StatusUnprocessableEntity
		h.logger.Info("configuration rejected",
			zap.String("family", res.Family),
			zap.Int("issues", len(issues)),
			zap.String("request_id", requestIDFromContext(r.Context())),
		)
	}
	writeJSON(w, status, resp)
}

func (h *Handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Path) == "" {
		writeError(w, http.StatusBadRequest, "Invalid request", "path is required")
		return
	}

	res, err := h.composer.Build(r.Context(), req.compose())
	if err != nil {
		writeComposeError(w, err)
		return
	}
	if err := h.composer.Resolve(res); err != nil {
		writeComposeError(w, err)
		return
	}

	matches, err := query.Find(res.Resolved, req.Path)
	if err != nil {
		writeComposeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, queryResponse{
		Family:  res.Family,
		Path:    req.Path,
		Matches: matches,
	})
}

func (h *Handler) handleReload(w http.ResponseWriter, r *http.Request) {
	_ = r
	if err := h.catalog.Reload(); err != nil {
		if errors.Is(err, catalog.ErrNoRoot) {
			writeError(w, http.StatusConflict, "Reload unavailable", err.Error())
			return
		}
		h.logger.Warn("catalog reload failed", zap.Error(err))
		writeError(w, http.StatusUnprocessableEntity, "Reload failed", err.Error(),
			"The previous configuration is still being served; fix the files and retry")
		return
	}
	h.markReloaded()

	families, err := h.describeFamilies()
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, familiesResponse{
		Families:   families,
		ReloadedAt: h.currentReloadedAt(),
		Message:    "Configuration reloaded successfully",
	})
}

func (h *Handler) describeFamilies() ([]familyInfo, error) {
	names := h.catalog.Families()
	families := make([]familyInfo, 0, len(names))
	for _, name := range names {
		groups, err := h.catalog.Groups(name)
		if err != nil {
			// Removed by a concurrent reload.
			if errors.Is(err, catalog.ErrFamilyNotFound) {
				continue
			}
			return nil, err
		}
		families = append(families, familyInfo{Name: name, Groups: groups})
	}
	return families, nil
}

func (h *Handler) currentReloadedAt() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.reloadedAt
}

func (h *Handler) markReloaded() {
	h.mu.Lock()
	h.reloadedAt = h.clock()
	h.mu.Unlock()
}

func requestIDFromContext(ctx context.Context) string {
	if v := ctx.Value(requestIDContextKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

func decodeRequest(w http.ResponseWriter, r *http.Request, req familyRequest) bool {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Invalid request",
				fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
			return false
		}
		writeError(w, http.StatusBadRequest, "Invalid request", "unable to parse JSON payload")
		return false
	}
	if strings.TrimSpace(req.familyName()) == "" {
		writeError(w, http.StatusBadRequest, "Invalid request", "family is required")
		return false
	}
	return true
}

// writeComposeError maps composition failures onto HTTP statuses.
func writeComposeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, catalog.ErrFamilyNotFound), errors.Is(err, catalog.ErrOptionNotFound):
		writeError(w, http.StatusNotFound, "Not found", err.Error(), "GET /api/families lists the available families and options")
	case errors.Is(err, compose.ErrInvalidOverride),
		errors.Is(err, compose.ErrKeyNotInConfig),
		errors.Is(err, compose.ErrKeyExists):
		writeError(w, http.StatusBadRequest, "Invalid override", err.Error(), overrideSuggestion(err))
	case errors.Is(err, query.ErrInvalidPath):
		writeError(w, http.StatusBadRequest, "Invalid path", err.Error())
	case errors.Is(err, compose.ErrInvalidDefaults),
		errors.Is(err, compose.ErrNestedDefaults),
		errors.Is(err, catalog.ErrInvalidFamily):
		writeError(w, http.StatusUnprocessableEntity, "Invalid configuration", err.Error())
	case errors.Is(err, interpolate.ErrMissingKey),
		errors.Is(err, interpolate.ErrCycle),
		errors.Is(err, interpolate.ErrSyntax),
		errors.Is(err, interpolate.ErrUnknownResolver),
		errors.Is(err, interpolate.ErrEnvNotSet),
		errors.Is(err, interpolate.ErrNotScalar):
		writeError(w, http.StatusUnprocessableEntity, "Interpolation failed", err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "Request cancelled", err.Error())
	default:
		writeInternalError(w, err)
	}
}

func overrideSuggestion(err error) string {
	switch {
	case errors.Is(err, compose.ErrKeyNotInConfig):
		return "Prefix the override with '+' to add a new key"
	case errors.Is(err, compose.ErrKeyExists):
		return "Drop the '+' prefix to change an existing key, or use '++' to force"
	default:
		return "Overrides use key=value, +key=value, ++key=value or ~key"
	}
}

type familyRequest interface {
	familyName() string
}

type composeRequest struct {
	Family    string   `json:"family"`
	Overrides []string `json:"overrides"`
	Resolve   *bool    `json:"resolve,omitempty"`
}

func (r *composeRequest) familyName() string { return r.Family }

func (r *composeRequest) compose() compose.Request {
	return compose.Request{Family: r.Family, Overrides: r.Overrides}
}

type queryRequest struct {
	composeRequest
	Path string `json:"path"`
}

type familyInfo struct {
	Name   string              `json:"name"`
	Groups map[string][]string `json:"groups"`
}

type familiesResponse struct {
	Families   []familyInfo `json:"families"`
	ReloadedAt time.Time    `json:"reloadedAt"`
	Message    string       `json:"message,omitempty"`
}

type composeResponse struct {
	Family     string            `json:"family"`
	Config     map[string]any    `json:"config"`
	Resolved   map[string]any    `json:"resolved,omitempty"`
	Choices    map[string]string `json:"choices"`
	Overrides  []string          `json:"overrides"`
	ComposedAt time.Time         `json:"composedAt"`
}

type validateResponse struct {
	Family  string            `json:"family"`
	Valid   bool              `json:"valid"`
	Issues  []validate.Issue  `json:"issues"`
	Choices map[string]string `json:"choices"`
}

type queryResponse struct {
	Family  string `json:"family"`
	Path    string `json:"path"`
	Matches []any  `json:"matches"`
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

type errorResponse struct {
	Error      string `json:"error"`
	Details    string `json:"details,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message, details string, suggestion ...string) {
	resp := errorResponse{
		Error:   message,
		Details: details,
	}
	if len(suggestion) > 0 {
		resp.Suggestion = suggestion[0]
	}
	writeJSON(w, status, resp)
}

func writeInternalError(w http.ResponseWriter, err error) {
	writeError(w, http.StatusInternalServerError, "Internal error", err.Error())
}
