package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/barberhub/totem-api/internal/accounting/ledger"
	"github.com/barberhub/totem-api/internal/database"
)

const maxBodyBytes = 1 << 20

// --- Service interface ---

// LedgerServicer defines the ledger engine methods needed by LedgerHandler.
// Satisfied by *ledger.Engine.
type LedgerServicer interface {
	RecordSale(ctx context.Context, in ledger.SaleInput) (*ledger.Result, error)
	List(ctx context.Context, referenceID uuid.UUID, referenceType string) ([]database.FinancialRecord, error)
}

// --- LedgerHandler ---

// LedgerHandler exposes the financial fan-out to internal callers.
type LedgerHandler struct {
	svc      LedgerServicer
	validate *validator.Validate
	logger   logrus.FieldLogger
}

// NewLedgerHandler creates a new LedgerHandler.
func NewLedgerHandler(svc LedgerServicer, logger logrus.FieldLogger) *LedgerHandler {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &LedgerHandler{svc: svc, validate: v, logger: logger}
}

// RegisterRoutes registers ledger endpoints.
func (h *LedgerHandler) RegisterRoutes(r chi.Router) {
	r.Post("/create-financial-transaction", h.CreateFinancialTransaction)
	r.Get("/financial-records", h.ListFinancialRecords)
}

// --- Request / Response types ---

type ledgerItemRequest struct {
	Type     string          `json:"type" validate:"required,oneof=service product"`
	ID       string          `json:"id" validate:"required,uuid"`
	Name     string          `json:"name" validate:"required"`
	Quantity int32           `json:"quantity" validate:"gt=0"`
	Price    decimal.Decimal `json:"price"`
	Discount decimal.Decimal `json:"discount"`
	IsExtra  bool            `json:"isExtra"`
	StaffID  string          `json:"staffId" validate:"omitempty,uuid"`
}

type createFinancialTransactionRequest struct {
	AppointmentID   string              `json:"appointmentId" validate:"omitempty,uuid"`
	ClientID        string              `json:"clientId" validate:"omitempty,uuid"`
	StaffID         string              `json:"staffId" validate:"omitempty,uuid"`
	ReferenceID     string              `json:"referenceId" validate:"required,uuid"`
	ReferenceType   string              `json:"referenceType" validate:"required"`
	Items           []ledgerItemRequest `json:"items" validate:"dive"`
	PaymentMethod   string              `json:"paymentMethod" validate:"required"`
	TipAmount       decimal.Decimal     `json:"tipAmount"`
	TransactionID   string              `json:"transactionId"`
	TransactionDate string              `json:"transactionDate" validate:"omitempty,datetime=2006-01-02"`
}

type createFinancialTransactionResponse struct {
	Success bool           `json:"success"`
	Error   string         `json:"error,omitempty"`
	Created []ledger.Entry `json:"created"`
}

type financialRecordResponse struct {
	ID              uuid.UUID  `json:"id"`
	TransactionType string     `json:"transactionType"`
	Category        string     `json:"category"`
	Subcategory     string     `json:"subcategory"`
	Description     string     `json:"description"`
	GrossAmount     string     `json:"grossAmount"`
	NetAmount       string     `json:"netAmount"`
	Status          string     `json:"status"`
	TransactionDate string     `json:"transactionDate"`
	DueDate         *string    `json:"dueDate"`
	PaymentDate     *time.Time `json:"paymentDate"`
	StaffID         *string    `json:"staffId"`
	ReferenceID     uuid.UUID  `json:"referenceId"`
	ReferenceType   string     `json:"referenceType"`
	Notes           string     `json:"notes"`
	CreatedAt       time.Time  `json:"createdAt"`
}

func toFinancialRecordResponse(rec database.FinancialRecord) financialRecordResponse {
	resp := financialRecordResponse{
		ID:              rec.ID,
		TransactionType: rec.TransactionType,
		Category:        rec.Category,
		Subcategory:     rec.Subcategory,
		Description:     rec.Description,
		GrossAmount:     numericToString(rec.GrossAmount),
		NetAmount:       numericToString(rec.NetAmount),
		Status:          rec.Status,
		TransactionDate: dateToString(rec.TransactionDate),
		ReferenceID:     rec.ReferenceID,
		ReferenceType:   rec.ReferenceType,
		Notes:           rec.Notes,
		CreatedAt:       rec.CreatedAt,
	}
	if rec.DueDate.Valid {
		s := dateToString(rec.DueDate)
		resp.DueDate = &s
	}
	if rec.PaymentDate.Valid {
		t := rec.PaymentDate.Time
		resp.PaymentDate = &t
	}
	if rec.StaffID.Valid {
		s := uuid.UUID(rec.StaffID.Bytes).String()
		resp.StaffID = &s
	}
	return resp
}

// --- Handlers ---

// CreateFinancialTransaction records a paid sale in the ledger. Repeating the
// call with the same reference creates nothing new.
func (h *LedgerHandler) CreateFinancialTransaction(w http.ResponseWriter, r *http.Request) {
	var req createFinancialTransactionRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"success": false,
			"error":   "validation failed",
			"fields":  processValidationErrors(err),
		})
		return
	}

	in := ledger.SaleInput{
		ReferenceID:   uuid.MustParse(req.ReferenceID),
		ReferenceType: req.ReferenceType,
		AppointmentID: optionalUUID(req.AppointmentID),
		ClientID:      optionalUUID(req.ClientID),
		StaffID:       optionalUUID(req.StaffID),
		PaymentMethod: req.PaymentMethod,
		TipAmount:     req.TipAmount,
		TransactionID: req.TransactionID,
	}
	if req.TransactionDate != "" {
		in.TransactionDate, _ = time.Parse("2006-01-02", req.TransactionDate)
	}
	for _, it := range req.Items {
		in.Items = append(in.Items, ledger.Item{
			Type:     ledger.ItemType(it.Type),
			ID:       uuid.MustParse(it.ID),
			Name:     it.Name,
			Quantity: it.Quantity,
			Price:    it.Price,
			Discount: it.Discount,
			IsExtra:  it.IsExtra,
			StaffID:  optionalUUID(it.StaffID),
		})
	}

	res, err := h.svc.RecordSale(r.Context(), in)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, ledger.ErrLedgerWrite) && res != nil:
			h.logger.WithFields(logrus.Fields{"module": "accounting", "reference_id": in.ReferenceID}).
				Error("partial ledger fan-out: " + err.Error())
			writeJSON(w, http.StatusInternalServerError, createFinancialTransactionResponse{
				Error:   "some financial records could not be written",
				Created: res.Entries,
			})
		default:
			h.logger.WithFields(logrus.Fields{"module": "accounting", "reference_id": in.ReferenceID}).
				Error("ledger fan-out: " + err.Error())
			writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	writeJSON(w, http.StatusOK, createFinancialTransactionResponse{Success: true, Created: res.Entries})
}

// ListFinancialRecords returns the ledger rows written for one reference.
func (h *LedgerHandler) ListFinancialRecords(w http.ResponseWriter, r *http.Request) {
	refID, err := uuid.Parse(r.URL.Query().Get("reference_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid reference_id")
		return
	}

	records, err := h.svc.List(r.Context(), refID, r.URL.Query().Get("reference_type"))
	if err != nil {
		h.logger.WithFields(logrus.Fields{"module": "accounting", "reference_id": refID}).Error(err.Error())
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]financialRecordResponse, len(records))
	for i, rec := range records {
		resp[i] = toFinancialRecordResponse(rec)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "records": resp})
}

// --- Helper functions ---

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithField("module", "accounting").Error("failed to encode JSON response: " + err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{"success": false, "error": msg})
}

func processValidationErrors(err error) map[string]string {
	out := make(map[string]string)
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) {
		return out
	}
	for _, ve := range ves {
		field := ve.Namespace()
		if i := strings.Index(field, "."); i >= 0 {
			field = field[i+1:]
		}
		out[field] = ve.Tag()
	}
	return out
}

// numericToString converts pgtype.Numeric to string with 2 decimal places.
func numericToString(n pgtype.Numeric) string {
	if !n.Valid {
		return "0.00"
	}
	val, err := n.Value()
	if err != nil || val == nil {
		return "0.00"
	}
	s, ok := val.(string)
	if !ok {
		return "0.00"
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return "0.00"
	}
	return d.StringFixed(2)
}

func dateToString(d pgtype.Date) string {
	if !d.Valid {
		return ""
	}
	return d.Time.Format("2006-01-02")
}

func optionalUUID(s string) *uuid.UUID {
	if s == "" {
		return nil
	}
	id := uuid.MustParse(s)
	return &id
}
