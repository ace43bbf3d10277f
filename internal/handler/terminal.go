package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/barberhub/totem-api/internal/accounting/ledger"
	"github.com/barberhub/totem-api/internal/enum"
	"github.com/barberhub/totem-api/internal/middleware"
	"github.com/barberhub/totem-api/internal/service"
	"github.com/barberhub/totem-api/internal/terminal"
)

const maxStatusWait = 30 * time.Second

// TerminalServicer defines the orchestrator methods needed by the terminal
// handler. Satisfied by *terminal.Orchestrator.
type TerminalServicer interface {
	Info(ctx context.Context) terminal.Info
	Begin(ctx context.Context, req terminal.PaymentRequest) (*terminal.Status, error)
	Status(orderID string) (*terminal.Status, error)
	Await(ctx context.Context, orderID string) (*terminal.Status, error)
	Cancel(ctx context.Context) (*terminal.Status, error)
	ResolveReceipt(ctx context.Context, orderID string, choice terminal.ReceiptChoice) (*service.FinishResult, error)
	Deliver(res terminal.Result) bool
}

// TerminalHandler exposes the pinpad to the kiosk and receives bridge
// callbacks.
type TerminalHandler struct {
	svc          TerminalServicer
	bridgeSecret string
	logger       logrus.FieldLogger
}

func NewTerminalHandler(svc TerminalServicer, bridgeSecret string, logger logrus.FieldLogger) *TerminalHandler {
	return &TerminalHandler{svc: svc, bridgeSecret: bridgeSecret, logger: logger}
}

func (h *TerminalHandler) RegisterRoutes(r chi.Router) {
	r.Get("/status", h.Info)
	r.Post("/payments", h.Begin)
	r.Get("/payments/{orderId}", h.Status)
	r.Post("/payments/{orderId}/receipt", h.Receipt)
	r.Post("/cancel", h.Cancel)
	r.With(middleware.RequireBridgeToken(h.bridgeSecret)).Post("/callback", h.Callback)
}

// --- Request / Response types ---

type beginPaymentRequest struct {
	SaleID        string                `json:"saleId" validate:"required,uuid"`
	AppointmentID string                `json:"appointmentId" validate:"omitempty,uuid"`
	SessionID     string                `json:"sessionId" validate:"omitempty,uuid"`
	Amount        decimal.Decimal       `json:"amount"`
	TipAmount     decimal.Decimal       `json:"tipAmount"`
	Mode          string                `json:"mode" validate:"required,oneof=credit debit pix"`
	Installments  int                   `json:"installments" validate:"gte=0,lte=12"`
	Extras        []snapshotItemRequest `json:"extras" validate:"dive"`
	Products      []snapshotItemRequest `json:"products" validate:"dive"`
}

type receiptRequest struct {
	Email string `json:"email" validate:"omitempty,email"`
}

type paymentResponse struct {
	Success bool             `json:"success"`
	Payment *terminal.Status `json:"payment"`
}

// --- Handlers ---

// Info handles GET /terminal/status.
func (h *TerminalHandler) Info(w http.ResponseWriter, r *http.Request) {
	info := h.svc.Info(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "terminal": info})
}

// Begin handles POST /terminal/payments.
func (h *TerminalHandler) Begin(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	var req beginPaymentRequest
	if fields, err := decodeStrict(body, &req); err != nil {
		if fields == nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		writeValidation(w, fields, err)
		return
	}

	st, err := h.svc.Begin(r.Context(), terminal.PaymentRequest{
		SaleID:        uuid.MustParse(req.SaleID),
		AppointmentID: parseOptionalUUIDPtr(req.AppointmentID),
		SessionID:     parseOptionalUUIDPtr(req.SessionID),
		Amount:        req.Amount,
		TipAmount:     req.TipAmount,
		Mode:          enum.CardMode(req.Mode),
		Installments:  req.Installments,
		Extras:        toSnapshot(req.Extras),
		Products:      toSnapshot(req.Products),
	})
	if err != nil {
		h.writeTerminalError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, paymentResponse{Success: true, Payment: st})
}

// Status handles GET /terminal/payments/{orderId}. With ?wait=<seconds> it
// holds the request until the attempt settles.
func (h *TerminalHandler) Status(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")

	var (
		st  *terminal.Status
		err error
	)
	if wait := r.URL.Query().Get("wait"); wait != "" {
		secs, perr := strconv.Atoi(wait)
		if perr != nil || secs < 0 {
			writeError(w, http.StatusBadRequest, "invalid wait")
			return
		}
		d := time.Duration(secs) * time.Second
		if d > maxStatusWait {
			d = maxStatusWait
		}
		ctx, cancel := context.WithTimeout(r.Context(), d)
		defer cancel()
		st, err = h.svc.Await(ctx, orderID)
	} else {
		st, err = h.svc.Status(orderID)
	}

	if errors.Is(err, terminal.ErrAttemptNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	// Terminal outcomes are reported through the payment state.
	var re *terminal.RetryError
	if errors.As(err, &re) {
		setRetryAfter(w, re.RetryAfter)
	}
	writeJSON(w, http.StatusOK, paymentResponse{Success: true, Payment: st})
}

// Receipt handles POST /terminal/payments/{orderId}/receipt.
func (h *TerminalHandler) Receipt(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	var req receiptRequest
	if len(body) > 0 {
		if fields, err := decodeStrict(body, &req); err != nil {
			if fields == nil {
				writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
			writeValidation(w, fields, err)
			return
		}
	}

	result, err := h.svc.ResolveReceipt(r.Context(), orderID, terminal.ReceiptChoice{Email: req.Email})
	if err != nil {
		if errors.Is(err, ledger.ErrLedgerWrite) && result != nil {
			h.logger.WithFields(logrus.Fields{"module": "handler", "order_id": orderID}).Error("ledger fan-out failed: " + err.Error())
			writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
				"success": false,
				"error":   LedgerFailureMessage,
				"saleId":  result.SaleID,
			})
			return
		}
		h.writeTerminalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, finishResponse{Success: true, FinishResult: result})
}

// Cancel handles POST /terminal/cancel.
func (h *TerminalHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Cancel(r.Context())
	if err != nil {
		h.writeTerminalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, paymentResponse{Success: true, Payment: st})
}

// Callback handles POST /terminal/callback pushed by the bridge.
func (h *TerminalHandler) Callback(w http.ResponseWriter, r *http.Request) {
	var res terminal.Result
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&res); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if res.OrderID == "" || res.Status == "" {
		writeError(w, http.StatusBadRequest, "orderId and status are required")
		return
	}

	accepted := h.svc.Deliver(res)
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "accepted": accepted})
}

func (h *TerminalHandler) writeTerminalError(w http.ResponseWriter, err error) {
	var (
		ve *service.ValidationError
		re *terminal.RetryError
	)
	switch {
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, ve.Error())
	case errors.As(err, &re):
		setRetryAfter(w, re.RetryAfter)
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"success":      false,
			"error":        re.Error(),
			"retryAfterMs": re.RetryAfter.Milliseconds(),
		})
	case errors.Is(err, terminal.ErrTerminalUnavailable):
		writeError(w, http.StatusServiceUnavailable, "payment terminal unavailable")
	case errors.Is(err, terminal.ErrAttemptNotFound), errors.Is(err, service.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, terminal.ErrTerminalBusy),
		errors.Is(err, terminal.ErrAlreadyApproved),
		errors.Is(err, terminal.ErrNotApproved),
		errors.Is(err, service.ErrAppointmentClosed):
		writeError(w, http.StatusConflict, err.Error())
	default:
		h.logger.WithField("module", "handler").Error("terminal: " + err.Error())
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func setRetryAfter(w http.ResponseWriter, d time.Duration) {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
}
