// internal/api/http/reservation_handler.go
package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"library-reservation/internal/domain"
	"library-reservation/internal/metrics"
	"library-reservation/internal/usecase"

	"github.com/go-playground/validator/v10"
	jsoniter "github.com/json-iterator/go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ReservationHandler serves the reservation routes on top of the ledger.
type ReservationHandler struct {
	service  *usecase.ReservationService
	logger   *slog.Logger
	validate *validator.Validate
	tracer   trace.Tracer
	retry    []usecase.RetryOption
}

// NewReservationHandler creates a handler. Reads and single-step writes that fail
// with an unavailable store are retried with retryOpts before the request fails.
// Transfers are never retried.
func NewReservationHandler(service *usecase.ReservationService, logger *slog.Logger, retryOpts ...usecase.RetryOption) *ReservationHandler {
	return &ReservationHandler{
		service:  service,
		logger:   logger.With("component", "reservation-handler"),
		validate: validator.New(),
		tracer:   otel.Tracer("library-reservation-api"),
		retry:    retryOpts,
	}
}

// A helper struct to capture the status code
type instrumentedResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *instrumentedResponseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// RegisterRoutes registers the reservation routes to the http.ServeMux.
func (h *ReservationHandler) RegisterRoutes(mux *http.ServeMux) {
	h.handle(mux, http.MethodPost, "/reservations/{$}", h.handleCreate)
	h.handle(mux, http.MethodPut, "/reservations/update/{$}", h.handleUpdate)
	h.handle(mux, http.MethodDelete, "/reservations/{book_id}", h.handleDelete)
	h.handle(mux, http.MethodGet, "/api/reservations", h.handleList)
	h.handle(mux, http.MethodGet, "/api/reservations/{book_id}", h.handleDetails)
}

// handle wraps a route with a request span and the request counter, labelled by route pattern.
func (h *ReservationHandler) handle(mux *http.ServeMux, method, path string, fn http.HandlerFunc) {
	mux.Handle(method+" "+path, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := h.tracer.Start(r.Context(), "HTTP "+method+" "+path, trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.target", r.URL.Path),
		))
		defer span.End()

		iw := &instrumentedResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		fn(iw, r.WithContext(ctx))

		metrics.HttpRequestsTotal.WithLabelValues(path, method, strconv.Itoa(iw.statusCode)).Inc()
		span.SetAttributes(attribute.Int("http.status_code", iw.statusCode))
		if iw.statusCode >= 500 {
			span.SetStatus(codes.Error, "Server Error")
		}
	}))
}

// handleCreate handles POST /reservations/
func (h *ReservationHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateReservationRequest
	if !h.decode(w, r, &req) {
		return
	}

	var claim *domain.Claim
	err := h.mutate(r.Context(), func(ctx context.Context) error {
		var err error
		claim, err = h.service.CreateClaim(ctx, req.UserID, req.BookID)
		return err
	}, domain.ErrAlreadyClaimed)
	if err != nil {
		h.writeError(w, r, "create reservation", err)
		return
	}

	h.writeJSON(w, http.StatusCreated, toReservationResponse(claim))
}

// handleUpdate handles PUT /reservations/update/
func (h *ReservationHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req UpdateReservationRequest
	if !h.decode(w, r, &req) {
		return
	}

	// A transfer spans several writes; rerunning it after an undetermined step
	// would read its own partial work.
	claim, err := h.service.TransferClaim(r.Context(), req.OldBookID, req.UserID, req.BookID)
	if err != nil {
		h.writeError(w, r, "update reservation", err)
		return
	}

	h.writeJSON(w, http.StatusOK, toReservationResponse(claim))
}

// handleDelete handles DELETE /reservations/{book_id}
func (h *ReservationHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	bookID, ok := h.bookID(w, r)
	if !ok {
		return
	}

	err := h.mutate(r.Context(), func(ctx context.Context) error {
		return h.service.ReleaseClaim(ctx, bookID)
	}, domain.ErrClaimNotFound)
	if err != nil {
		h.writeError(w, r, "delete reservation", err)
		return
	}

	h.writeJSON(w, http.StatusOK, DetailResponse{Detail: "Reservation deleted"})
}

// handleList handles GET /api/reservations?paging_state=<hex>
func (h *ReservationHandler) handleList(w http.ResponseWriter, r *http.Request) {
	cursor := r.URL.Query().Get("paging_state")

	var page *usecase.ReservationPage
	err := usecase.RetryOnUnavailable(r.Context(), func(ctx context.Context) error {
		var err error
		page, err = h.service.List(ctx, cursor)
		return err
	}, h.retry...)
	if err != nil {
		h.writeError(w, r, "list reservations", err)
		return
	}

	h.writeJSON(w, http.StatusOK, toListResponse(page))
}

// handleDetails handles GET /api/reservations/{book_id}
func (h *ReservationHandler) handleDetails(w http.ResponseWriter, r *http.Request) {
	bookID, ok := h.bookID(w, r)
	if !ok {
		return
	}

	var details *domain.ClaimDetails
	err := usecase.RetryOnUnavailable(r.Context(), func(ctx context.Context) error {
		var err error
		details, err = h.service.GetDetails(ctx, bookID)
		return err
	}, h.retry...)
	if err != nil {
		h.writeError(w, r, "get reservation details", err)
		return
	}

	h.writeJSON(w, http.StatusOK, toDetailsResponse(details))
}

// mutate retries a single conditional write while the store is unavailable.
// An earlier attempt may have been applied, so a later rejection matching one
// of ambiguous could be caused by that attempt. The unavailable error is
// reported in that case.
func (h *ReservationHandler) mutate(ctx context.Context, fn func(context.Context) error, ambiguous ...error) error {
	var undetermined error
	err := usecase.RetryOnUnavailable(ctx, func(ctx context.Context) error {
		err := fn(ctx)
		if domain.IsRetryable(err) {
			undetermined = err
		}
		return err
	}, h.retry...)
	if err == nil || undetermined == nil {
		return err
	}
	for _, target := range ambiguous {
		if errors.Is(err, target) {
			h.logger.Warn("write outcome undetermined after retry", "error", err, "undetermined", undetermined)
			return undetermined
		}
	}
	return err
}

func (h *ReservationHandler) bookID(w http.ResponseWriter, r *http.Request) (string, bool) {
	bookID := r.PathValue("book_id")
	if err := h.validate.Var(bookID, "required,uuid"); err != nil {
		h.writeJSON(w, http.StatusBadRequest, DetailResponse{Detail: "book_id must be a UUID"})
		return "", false
	}
	return bookID, true
}

// decode reads and validates a JSON body. It writes the 400 response itself.
func (h *ReservationHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	span := trace.SpanFromContext(r.Context())

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		span.SetStatus(codes.Error, "Failed to decode request body")
		span.RecordError(err)
		h.writeJSON(w, http.StatusBadRequest, DetailResponse{Detail: "Invalid request body"})
		return false
	}

	if err := h.validate.Struct(dst); err != nil {
		span.SetStatus(codes.Error, "Validation failed")
		span.RecordError(err)
		var validationErrors []string
		var fieldErrors validator.ValidationErrors
		if errors.As(err, &fieldErrors) {
			for _, fe := range fieldErrors {
				validationErrors = append(validationErrors,
					"Field '"+fe.Field()+"' failed on the '"+fe.Tag()+"' tag.",
				)
			}
		}
		h.writeJSON(w, http.StatusBadRequest, ValidationErrorResponse{
			Detail:  "Validation failed",
			Details: validationErrors,
		})
		return false
	}
	return true
}

// statusFor maps ledger errors to HTTP status codes and client-facing messages.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrAlreadyClaimed):
		return http.StatusConflict, "This book is already reserved"
	case errors.Is(err, domain.ErrClaimNotFound):
		return http.StatusNotFound, "Reservation not found"
	case errors.Is(err, domain.ErrResourceNotFound):
		return http.StatusNotFound, "Book not found"
	case errors.Is(err, domain.ErrInvalidCursor):
		return http.StatusBadRequest, "Invalid paging_state"
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest, "Invalid request"
	case errors.Is(err, domain.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "Reservation store unavailable, try again"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

func (h *ReservationHandler) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, detail := statusFor(err)

	span := trace.SpanFromContext(r.Context())
	span.RecordError(err)
	span.SetStatus(codes.Error, "Failed to "+op)

	if status >= http.StatusInternalServerError {
		h.logger.Error("error handling request", "op", op, "error", err)
	} else {
		h.logger.Warn("request rejected", "op", op, "error", err, "status", status)
	}
	h.writeJSON(w, status, DetailResponse{Detail: detail})
}

func (h *ReservationHandler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Warn("failed to write response", "error", err)
	}
}
