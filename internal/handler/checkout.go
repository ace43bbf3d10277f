package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/barberhub/totem-api/internal/accounting/ledger"
	"github.com/barberhub/totem-api/internal/enum"
	"github.com/barberhub/totem-api/internal/metrics"
	"github.com/barberhub/totem-api/internal/service"
)

// LedgerFailureMessage is shown when payment went through but the books
// could not be completed.
const LedgerFailureMessage = "Payment was recorded but the financial records could not be completed. Please contact back-office support."

// CheckoutServicer defines the service methods needed by the checkout handler.
// Satisfied by *service.CheckoutCoordinator; narrow interface for testability.
type CheckoutServicer interface {
	Start(ctx context.Context, in service.StartInput) (*service.SaleSummary, error)
	Finish(ctx context.Context, in service.FinishInput) (*service.FinishResult, error)
}

// CheckoutHandler serves the kiosk's checkout endpoint.
type CheckoutHandler struct {
	svc    CheckoutServicer
	logger logrus.FieldLogger
}

func NewCheckoutHandler(svc CheckoutServicer, logger logrus.FieldLogger) *CheckoutHandler {
	return &CheckoutHandler{svc: svc, logger: logger}
}

func (h *CheckoutHandler) RegisterRoutes(r chi.Router) {
	r.Post("/totem-checkout", h.Handle)
}

// --- Request / Response types ---

type actionEnvelope struct {
	Action string `json:"action"`
}

type productQuantityRequest struct {
	ID       string `json:"id" validate:"required,uuid"`
	Quantity int32  `json:"quantity" validate:"gt=0"`
}

type startRequest struct {
	Action        string                   `json:"action"`
	AppointmentID string                   `json:"appointmentId" validate:"required,uuid"`
	SessionID     string                   `json:"sessionId" validate:"omitempty,uuid"`
	Extras        []string                 `json:"extras" validate:"dive,uuid"`
	Products      []productQuantityRequest `json:"products" validate:"dive"`
}

type startResponse struct {
	Success   bool                 `json:"success"`
	SaleID    uuid.UUID            `json:"saleId"`
	SessionID *uuid.UUID           `json:"sessionId"`
	Summary   *service.SaleSummary `json:"summary"`
}

type transactionDataRequest struct {
	NSU               string `json:"nsu"`
	AuthorizationCode string `json:"authorizationCode"`
	CardBrand         string `json:"cardBrand"`
	ConfirmationToken string `json:"confirmationToken"`
}

type snapshotItemRequest struct {
	ID       string          `json:"id" validate:"required,uuid"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Quantity int32           `json:"quantity" validate:"gte=0"`
}

type finishRequest struct {
	Action          string                 `json:"action"`
	SaleID          string                 `json:"saleId" validate:"required,uuid"`
	AppointmentID   string                 `json:"appointmentId" validate:"omitempty,uuid"`
	SessionID       string                 `json:"sessionId" validate:"omitempty,uuid"`
	TransactionData transactionDataRequest `json:"transactionData"`
	PaymentMethod   string                 `json:"paymentMethod" validate:"required,oneof=credit_card debit_card pix cash"`
	TipAmount       decimal.Decimal        `json:"tipAmount"`
	Extras          []snapshotItemRequest  `json:"extras" validate:"dive"`
	Products        []snapshotItemRequest  `json:"products" validate:"dive"`
}

type finishResponse struct {
	Success bool `json:"success"`
	*service.FinishResult
}

// --- Handlers ---

// Handle dispatches POST /totem-checkout on the action field.
func (h *CheckoutHandler) Handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var env actionEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		metrics.CheckoutRequests.WithLabelValues("unknown", "invalid").Inc()
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	switch env.Action {
	case "start":
		h.start(w, r, body)
	case "finish":
		h.finish(w, r, body)
	default:
		metrics.CheckoutRequests.WithLabelValues("unknown", "invalid").Inc()
		writeError(w, http.StatusBadRequest, "unknown action")
	}
}

func (h *CheckoutHandler) start(w http.ResponseWriter, r *http.Request, body []byte) {
	var req startRequest
	if fields, err := decodeStrict(body, &req); err != nil {
		metrics.CheckoutRequests.WithLabelValues("start", "invalid").Inc()
		if fields == nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		writeValidation(w, fields, err)
		return
	}

	in := service.StartInput{
		AppointmentID: uuid.MustParse(req.AppointmentID),
		SessionID:     parseOptionalUUID(req.SessionID),
	}
	for _, id := range req.Extras {
		in.Extras = append(in.Extras, uuid.MustParse(id))
	}
	for _, p := range req.Products {
		in.Products = append(in.Products, service.ProductQuantity{ID: uuid.MustParse(p.ID), Quantity: p.Quantity})
	}

	summary, err := h.svc.Start(r.Context(), in)
	if err != nil {
		h.writeServiceError(w, "start", err, nil)
		return
	}

	metrics.CheckoutRequests.WithLabelValues("start", "success").Inc()
	writeJSON(w, http.StatusOK, startResponse{
		Success:   true,
		SaleID:    summary.SaleID,
		SessionID: summary.SessionID,
		Summary:   summary,
	})
}

func (h *CheckoutHandler) finish(w http.ResponseWriter, r *http.Request, body []byte) {
	var req finishRequest
	if fields, err := decodeStrict(body, &req); err != nil {
		metrics.CheckoutRequests.WithLabelValues("finish", "invalid").Inc()
		if fields == nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		writeValidation(w, fields, err)
		return
	}

	in := service.FinishInput{
		SaleID:        uuid.MustParse(req.SaleID),
		AppointmentID: parseOptionalUUIDPtr(req.AppointmentID),
		SessionID:     parseOptionalUUIDPtr(req.SessionID),
		Transaction: service.TransactionData{
			NSU:               req.TransactionData.NSU,
			AuthorizationCode: req.TransactionData.AuthorizationCode,
			CardBrand:         req.TransactionData.CardBrand,
			ConfirmationToken: req.TransactionData.ConfirmationToken,
		},
		PaymentMethod: enum.PaymentMethod(req.PaymentMethod),
		TipAmount:     req.TipAmount,
		Extras:        toSnapshot(req.Extras),
		Products:      toSnapshot(req.Products),
	}

	result, err := h.svc.Finish(r.Context(), in)
	if err != nil {
		h.writeServiceError(w, "finish", err, result)
		return
	}

	metrics.CheckoutRequests.WithLabelValues("finish", "success").Inc()
	writeJSON(w, http.StatusOK, finishResponse{Success: true, FinishResult: result})
}

// writeServiceError maps service errors to status codes. A ledger failure
// after a recorded payment still reports the sale it belongs to.
func (h *CheckoutHandler) writeServiceError(w http.ResponseWriter, action string, err error, result *service.FinishResult) {
	var ve *service.ValidationError
	switch {
	case errors.As(err, &ve):
		metrics.CheckoutRequests.WithLabelValues(action, "invalid").Inc()
		writeError(w, http.StatusBadRequest, ve.Error())
	case errors.Is(err, service.ErrNotFound):
		metrics.CheckoutRequests.WithLabelValues(action, "not_found").Inc()
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrAppointmentClosed):
		metrics.CheckoutRequests.WithLabelValues(action, "conflict").Inc()
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ledger.ErrLedgerWrite):
		metrics.CheckoutRequests.WithLabelValues(action, "ledger_error").Inc()
		h.logger.WithFields(logrus.Fields{"module": "handler", "action": action}).Error("ledger fan-out failed: " + err.Error())
		body := map[string]interface{}{"success": false, "error": LedgerFailureMessage}
		if result != nil {
			body["saleId"] = result.SaleID
		}
		writeJSON(w, http.StatusInternalServerError, body)
	default:
		metrics.CheckoutRequests.WithLabelValues(action, "error").Inc()
		h.logger.WithFields(logrus.Fields{"module": "handler", "action": action}).Error(err.Error())
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func toSnapshot(items []snapshotItemRequest) []service.SnapshotItem {
	if len(items) == 0 {
		return nil
	}
	out := make([]service.SnapshotItem, len(items))
	for i, it := range items {
		out[i] = service.SnapshotItem{
			ID:       uuid.MustParse(it.ID),
			Name:     it.Name,
			Price:    it.Price,
			Quantity: it.Quantity,
		}
	}
	return out
}

// parseOptionalUUID returns uuid.Nil for an empty string. Inputs are
// validated before reaching it.
func parseOptionalUUID(s string) uuid.UUID {
	if s == "" {
		return uuid.Nil
	}
	return uuid.MustParse(s)
}

func parseOptionalUUIDPtr(s string) *uuid.UUID {
	if s == "" {
		return nil
	}
	id := uuid.MustParse(s)
	return &id
}
