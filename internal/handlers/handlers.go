// Package handlers provides HTTP request handlers for the ledger read API.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alphagov/pay-ledger-sub002/common/httputil"
	"github.com/alphagov/pay-ledger-sub002/common/logging"
	"github.com/alphagov/pay-ledger-sub002/common/messaging"
	"github.com/alphagov/pay-ledger-sub002/internal/auth"
	"github.com/alphagov/pay-ledger-sub002/internal/consumer"
	"github.com/alphagov/pay-ledger-sub002/internal/models"
	"github.com/alphagov/pay-ledger-sub002/internal/projection"
	"github.com/alphagov/pay-ledger-sub002/internal/repository"
	"github.com/alphagov/pay-ledger-sub002/internal/service"
)

// HeaderConsistent selects the read-repair path when set to "true".
const HeaderConsistent = "X-Consistent"

// Reader serves projection and event reads.
type Reader interface {
	Read(ctx context.Context, kind projection.Kind, externalID string, consistent bool, opts ...service.ReadOption) (service.ReadResult, error)
	List(ctx context.Context, params repository.Filterable) ([]projection.Projection, int, error)
	Events(ctx context.Context, externalID string) ([]*models.Event, error)
}

// Pinger checks a backing store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// WorkerStatus exposes the consumer worker pool.
type WorkerStatus interface {
	States() []consumer.WorkerState
}

// Handler provides HTTP handlers for the ledger service
type Handler struct {
	reader  Reader
	store   Pinger
	workers WorkerStatus
	broker  messaging.HealthChecker
	logger  *slog.Logger
}

// NewHandler creates a new Handler instance. store and workers may be nil.
func NewHandler(reader Reader, store Pinger, workers WorkerStatus, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		reader:  reader,
		store:   store,
		workers: workers,
		logger:  logger.With(slog.String(logging.FieldComponent, "handlers")),
	}
}

// WithBroker adds the queue connection to the readiness report
func (h *Handler) WithBroker(checker messaging.HealthChecker) *Handler {
	h.broker = checker
	return h
}

// ListResponse is the body of a list request.
type ListResponse struct {
	Total   int                     `json:"total"`
	Count   int                     `json:"count"`
	Page    int                     `json:"page"`
	Results []projection.Projection `json:"results"`
}

// EventsResponse is the body of an event history request.
type EventsResponse struct {
	ResourceExternalID string          `json:"resource_external_id"`
	Events             []*models.Event `json:"events"`
}

// HealthResponse is the body of the health endpoints.
type HealthResponse struct {
	Status  string            `json:"status"`
	Service string            `json:"service"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// GetProjection handles GET /v1/api/{kind}/{id}
func (h *Handler) GetProjection(w http.ResponseWriter, r *http.Request) {
	kind, err := projection.ParseKind(r.PathValue("kind"))
	if err != nil {
		httputil.WriteNotFound(w, "resource kind", r.PathValue("kind"))
		return
	}
	id := r.PathValue("id")
	if id == "" {
		httputil.WriteValidationError(w, "external id required")
		return
	}

	consistent, err := httputil.ParseBoolParam(r.Header.Get(HeaderConsistent))
	if err != nil {
		httputil.WriteValidationError(w, HeaderConsistent+" must be true or false")
		return
	}

	claims, _ := auth.ClaimsFromContext(r.Context())
	account := r.URL.Query().Get("account_id")
	if claims != nil && account != "" && !claims.AllowsAccount(account) {
		httputil.WriteForbidden(w, "token does not grant access to account "+account)
		return
	}

	var opts []service.ReadOption
	if account != "" {
		opts = append(opts, service.ForGatewayAccount(account))
	}

	res, err := h.reader.Read(r.Context(), kind, id, consistent != nil && *consistent, opts...)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	if res.Outcome == service.NotFound || !h.visible(claims, res.Projection) {
		httputil.WriteNotFound(w, kind.String(), id)
		return
	}

	w.Header().Set("X-Projection-Source", res.Source.String())
	httputil.WriteJSON(w, http.StatusOK, res.Projection)
}

// ListProjections handles GET /v1/api/{kind}
func (h *Handler) ListProjections(w http.ResponseWriter, r *http.Request) {
	kind, err := projection.ParseKind(r.PathValue("kind"))
	if err != nil {
		httputil.WriteNotFound(w, "resource kind", r.PathValue("kind"))
		return
	}

	common, err := parseCommonParams(r)
	if err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}

	if claims, ok := auth.ClaimsFromContext(r.Context()); ok && claims.Restricted() {
		if len(common.GatewayAccountIDs) == 0 {
			common.GatewayAccountIDs = claims.GatewayAccountIDs
		}
		for _, id := range common.GatewayAccountIDs {
			if !claims.AllowsAccount(id) {
				httputil.WriteForbidden(w, "token does not grant access to account "+id)
				return
			}
		}
	}

	q := r.URL.Query()
	var params repository.Filterable
	switch kind {
	case projection.KindAgreement:
		params = repository.AgreementSearchParams{
			CommonSearchParams: common,
			State:              strings.ToUpper(q.Get("state")),
			Reference:          q.Get("reference"),
		}
	case projection.KindPayout:
		params = repository.PayoutSearchParams{
			CommonSearchParams: common,
			State:              strings.ToUpper(q.Get("state")),
		}
	default:
		params = repository.TransactionSearchParams{
			CommonSearchParams: common,
			State:              strings.ToUpper(q.Get("state")),
			Reference:          q.Get("reference"),
			TransactionType:    strings.ToUpper(q.Get("transaction_type")),
			ParentExternalID:   q.Get("parent_external_id"),
		}
	}

	results, total, err := h.reader.List(r.Context(), params)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	if results == nil {
		results = []projection.Projection{}
	}

	httputil.WriteJSON(w, http.StatusOK, ListResponse{
		Total:   total,
		Count:   len(results),
		Page:    max(common.Page, 1),
		Results: results,
	})
}

// GetEvents handles GET /v1/api/event/{id}
func (h *Handler) GetEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	events, err := h.reader.Events(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}

	claims, _ := auth.ClaimsFromContext(r.Context())
	if len(events) == 0 || !eventsVisible(claims, events) {
		httputil.WriteNotFound(w, "resource", id)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, EventsResponse{ResourceExternalID: id, Events: events})
}

// HealthCheck handles GET /healthz
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, HealthResponse{Status: "ok", Service: "ledger"})
}

// ReadyCheck handles GET /readyz
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ready", Service: "ledger", Checks: map[string]string{}}
	status := http.StatusOK

	if h.store != nil {
		if err := h.store.Ping(r.Context()); err != nil {
			resp.Checks["database"] = err.Error()
			status = http.StatusServiceUnavailable
		} else {
			resp.Checks["database"] = "ok"
		}
	}

	if h.workers != nil {
		states := h.workers.States()
		counts := make(map[consumer.WorkerState]int)
		for _, s := range states {
			counts[s]++
		}
		resp.Checks["consumer"] = fmt.Sprintf("%d/%d workers running", len(states)-counts[consumer.Stopped], len(states))
		if len(states) > 0 && counts[consumer.Stopped] == len(states) {
			status = http.StatusServiceUnavailable
		}
	}

	if h.broker != nil {
		health := messaging.CheckHealth(r.Context(), h.broker)
		if health.Connected {
			resp.Checks["broker"] = "ok"
		} else {
			resp.Checks["broker"] = health.Error
			status = http.StatusServiceUnavailable
		}
	}

	if status != http.StatusOK {
		resp.Status = "not_ready"
	}
	httputil.WriteJSON(w, status, resp)
}

func (h *Handler) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, repository.ErrStoreUnavailable) || errors.Is(err, context.DeadlineExceeded) {
		h.logger.WarnContext(r.Context(), "store unavailable", logging.Path(r.URL.Path), logging.Error(err))
		httputil.WriteUnavailable(w, "the ledger store is temporarily unavailable")
		return
	}
	h.logger.ErrorContext(r.Context(), "read failed", logging.Path(r.URL.Path), logging.Error(err))
	httputil.WriteInternalError(w, "read failed")
}

func (h *Handler) visible(claims *auth.Claims, p projection.Projection) bool {
	if claims == nil || !claims.Restricted() {
		return true
	}
	rec, err := p.Record()
	if err != nil {
		return false
	}
	return claims.AllowsAccount(rec.GatewayAccountID)
}

func eventsVisible(claims *auth.Claims, events []*models.Event) bool {
	if claims == nil || !claims.Restricted() {
		return true
	}
	for _, e := range events {
		if v, ok := e.EventData["gateway_account_id"]; ok && claims.AllowsAccount(fmt.Sprint(v)) {
			return true
		}
	}
	return false
}

func parseCommonParams(r *http.Request) (repository.CommonSearchParams, error) {
	q := r.URL.Query()
	page := httputil.ParsePagination(r, repository.DefaultDisplaySize, repository.MaxDisplaySize)
	if page.Page > repository.MaxPage {
		return repository.CommonSearchParams{}, fmt.Errorf("page must not exceed %d", repository.MaxPage)
	}

	live, err := httputil.ParseBoolParam(q.Get("live"))
	if err != nil {
		return repository.CommonSearchParams{}, errors.New("live must be true or false")
	}
	from, err := httputil.ParseTimeParam(q.Get("from_date"))
	if err != nil {
		return repository.CommonSearchParams{}, errors.New("from_date must be an RFC 3339 timestamp")
	}
	to, err := httputil.ParseTimeParam(q.Get("to_date"))
	if err != nil {
		return repository.CommonSearchParams{}, errors.New("to_date must be an RFC 3339 timestamp")
	}

	return repository.CommonSearchParams{
		GatewayAccountIDs: httputil.ParseCSVParam(q.Get("account_id")),
		Live:              live,
		FromDate:          from,
		ToDate:            to,
		Page:              page.Page,
		DisplaySize:       page.DisplaySize,
	}, nil
}
