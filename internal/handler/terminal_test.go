package handler_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/barberhub/totem-api/internal/accounting/ledger"
	"github.com/barberhub/totem-api/internal/auth"
	"github.com/barberhub/totem-api/internal/enum"
	"github.com/barberhub/totem-api/internal/handler"
	"github.com/barberhub/totem-api/internal/middleware"
	"github.com/barberhub/totem-api/internal/service"
	"github.com/barberhub/totem-api/internal/terminal"
)

const bridgeSecret = "bridge-secret"

// --- Mock TerminalServicer ---

type mockTerminal struct {
	beginFn   func(ctx context.Context, req terminal.PaymentRequest) (*terminal.Status, error)
	statusFn  func(orderID string) (*terminal.Status, error)
	awaitFn   func(ctx context.Context, orderID string) (*terminal.Status, error)
	cancelFn  func(ctx context.Context) (*terminal.Status, error)
	receiptFn func(ctx context.Context, orderID string, choice terminal.ReceiptChoice) (*service.FinishResult, error)
	delivered []terminal.Result
}

func (m *mockTerminal) Info(ctx context.Context) terminal.Info {
	return terminal.Info{Connected: true, State: enum.TerminalStateIdle}
}

func (m *mockTerminal) Begin(ctx context.Context, req terminal.PaymentRequest) (*terminal.Status, error) {
	return m.beginFn(ctx, req)
}

func (m *mockTerminal) Status(orderID string) (*terminal.Status, error) {
	return m.statusFn(orderID)
}

func (m *mockTerminal) Await(ctx context.Context, orderID string) (*terminal.Status, error) {
	return m.awaitFn(ctx, orderID)
}

func (m *mockTerminal) Cancel(ctx context.Context) (*terminal.Status, error) {
	return m.cancelFn(ctx)
}

func (m *mockTerminal) ResolveReceipt(ctx context.Context, orderID string, choice terminal.ReceiptChoice) (*service.FinishResult, error) {
	return m.receiptFn(ctx, orderID, choice)
}

func (m *mockTerminal) Deliver(res terminal.Result) bool {
	m.delivered = append(m.delivered, res)
	return len(m.delivered) == 1
}

// --- Helper functions ---

func setupTerminalRouter(svc handler.TerminalServicer) *chi.Mux {
	logger, _ := test.NewNullLogger()
	h := handler.NewTerminalHandler(svc, bridgeSecret, logger)
	r := chi.NewRouter()
	r.Route("/terminal", h.RegisterRoutes)
	return r
}

// --- Tests ---

func TestTerminal_Info(t *testing.T) {
	router := setupTerminalRouter(&mockTerminal{})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest("GET", "/terminal/status", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d", rr.Code)
	}
	body := decodeBody(t, rr)
	info := body["terminal"].(map[string]interface{})
	if info["connected"] != true || info["state"] != "idle" {
		t.Errorf("terminal: got %v", info)
	}
}

func TestTerminal_Begin(t *testing.T) {
	saleID := uuid.New()
	var got terminal.PaymentRequest
	svc := &mockTerminal{
		beginFn: func(ctx context.Context, req terminal.PaymentRequest) (*terminal.Status, error) {
			got = req
			return &terminal.Status{OrderID: req.SaleID.String(), State: enum.TerminalStateAwaitingResult, Amount: req.Amount, Mode: req.Mode}, nil
		},
	}

	rr := postJSON(t, setupTerminalRouter(svc), "/terminal/payments", map[string]interface{}{
		"saleId":       saleID.String(),
		"amount":       "130.00",
		"tipAmount":    "10",
		"mode":         "credit",
		"installments": 1,
	})

	if rr.Code != http.StatusAccepted {
		t.Fatalf("status: got %d; body: %s", rr.Code, rr.Body.String())
	}
	if got.SaleID != saleID || got.Mode != enum.CardModeCredit || !got.Amount.Equal(decimal.NewFromInt(130)) || got.Installments != 1 {
		t.Errorf("request: got %+v", got)
	}
	payment := decodeBody(t, rr)["payment"].(map[string]interface{})
	if payment["state"] != "awaiting_result" || payment["orderId"] != saleID.String() {
		t.Errorf("payment: got %v", payment)
	}
}

func TestTerminal_BeginErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		retryAfter string
	}{
		{name: "unavailable", err: fmt.Errorf("%w: pinpad not connected", terminal.ErrTerminalUnavailable), wantStatus: http.StatusServiceUnavailable},
		{name: "pending recovery", err: &terminal.RetryError{Err: terminal.ErrTerminalPendingRecovery, RetryAfter: 3 * time.Second}, wantStatus: http.StatusConflict, retryAfter: "3"},
		{name: "busy", err: terminal.ErrTerminalBusy, wantStatus: http.StatusConflict},
		{name: "validation", err: &service.ValidationError{Field: "amount", Message: "must be greater than zero"}, wantStatus: http.StatusBadRequest},
		{name: "unexpected", err: fmt.Errorf("boom"), wantStatus: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockTerminal{
				beginFn: func(ctx context.Context, req terminal.PaymentRequest) (*terminal.Status, error) {
					return nil, tt.err
				},
			}
			rr := postJSON(t, setupTerminalRouter(svc), "/terminal/payments", map[string]interface{}{
				"saleId": uuid.NewString(),
				"amount": "10",
				"mode":   "debit",
			})
			if rr.Code != tt.wantStatus {
				t.Fatalf("status: got %d, want %d", rr.Code, tt.wantStatus)
			}
			if got := rr.Header().Get("Retry-After"); got != tt.retryAfter {
				t.Errorf("Retry-After: got %q, want %q", got, tt.retryAfter)
			}
			if decodeBody(t, rr)["success"] != false {
				t.Error("success should be false")
			}
		})
	}
}

func TestTerminal_BeginValidation(t *testing.T) {
	svc := &mockTerminal{
		beginFn: func(ctx context.Context, req terminal.PaymentRequest) (*terminal.Status, error) {
			t.Fatal("service should not be called")
			return nil, nil
		},
	}
	rr := postJSON(t, setupTerminalRouter(svc), "/terminal/payments", map[string]interface{}{
		"saleId": uuid.NewString(),
		"amount": "10",
		"mode":   "cash",
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d", rr.Code)
	}
	fields := decodeBody(t, rr)["fields"].(map[string]interface{})
	if fields["mode"] != "oneof" {
		t.Errorf("fields: got %v", fields)
	}
}

func TestTerminal_Status(t *testing.T) {
	orderID := uuid.NewString()
	svc := &mockTerminal{
		statusFn: func(id string) (*terminal.Status, error) {
			if id != orderID {
				return nil, terminal.ErrAttemptNotFound
			}
			return &terminal.Status{OrderID: id, State: enum.TerminalStateDeclined, Message: "Insufficient funds"}, terminal.ErrTerminalDeclined
		},
		awaitFn: func(ctx context.Context, id string) (*terminal.Status, error) {
			if _, ok := ctx.Deadline(); !ok {
				t.Error("await should be bounded")
			}
			return &terminal.Status{OrderID: id, State: enum.TerminalStatePendingRecovery},
				&terminal.RetryError{Err: terminal.ErrTerminalPendingRecovery, RetryAfter: 3 * time.Second}
		},
	}
	router := setupTerminalRouter(svc)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest("GET", "/terminal/payments/"+orderID, nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d", rr.Code)
	}
	payment := decodeBody(t, rr)["payment"].(map[string]interface{})
	if payment["state"] != "declined" || payment["message"] != "Insufficient funds" {
		t.Errorf("payment: got %v", payment)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest("GET", "/terminal/payments/"+orderID+"?wait=5", nil))
	if rr.Code != http.StatusOK || rr.Header().Get("Retry-After") != "3" {
		t.Fatalf("await: got %d, Retry-After %q", rr.Code, rr.Header().Get("Retry-After"))
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest("GET", "/terminal/payments/unknown", nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("unknown order: got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest("GET", "/terminal/payments/"+orderID+"?wait=soon", nil))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("bad wait: got %d", rr.Code)
	}
}

func TestTerminal_Receipt(t *testing.T) {
	saleID := uuid.New()
	orderID := saleID.String()

	t.Run("success", func(t *testing.T) {
		var choice terminal.ReceiptChoice
		svc := &mockTerminal{
			receiptFn: func(ctx context.Context, id string, c terminal.ReceiptChoice) (*service.FinishResult, error) {
				choice = c
				return &service.FinishResult{SaleID: saleID, Total: decimal.NewFromInt(130), Tip: decimal.NewFromInt(10)}, nil
			},
		}
		rr := postJSON(t, setupTerminalRouter(svc), "/terminal/payments/"+orderID+"/receipt", map[string]string{"email": "client@example.com"})
		if rr.Code != http.StatusOK {
			t.Fatalf("status: got %d; body: %s", rr.Code, rr.Body.String())
		}
		if choice.Email != "client@example.com" {
			t.Errorf("choice: got %+v", choice)
		}
		body := decodeBody(t, rr)
		if body["saleId"] != orderID || body["total"] != "130" {
			t.Errorf("body: got %v", body)
		}
	})

	t.Run("no receipt with empty body", func(t *testing.T) {
		svc := &mockTerminal{
			receiptFn: func(ctx context.Context, id string, c terminal.ReceiptChoice) (*service.FinishResult, error) {
				if c.Email != "" {
					t.Errorf("expected no email, got %q", c.Email)
				}
				return &service.FinishResult{SaleID: saleID}, nil
			},
		}
		router := setupTerminalRouter(svc)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest("POST", "/terminal/payments/"+orderID+"/receipt", nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("status: got %d", rr.Code)
		}
	})

	t.Run("invalid email", func(t *testing.T) {
		rr := postJSON(t, setupTerminalRouter(&mockTerminal{}), "/terminal/payments/"+orderID+"/receipt", map[string]string{"email": "not-an-email"})
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("status: got %d", rr.Code)
		}
	})

	t.Run("not approved", func(t *testing.T) {
		svc := &mockTerminal{
			receiptFn: func(ctx context.Context, id string, c terminal.ReceiptChoice) (*service.FinishResult, error) {
				return nil, terminal.ErrNotApproved
			},
		}
		rr := postJSON(t, setupTerminalRouter(svc), "/terminal/payments/"+orderID+"/receipt", map[string]string{})
		if rr.Code != http.StatusConflict {
			t.Fatalf("status: got %d", rr.Code)
		}
	})

	t.Run("ledger failure", func(t *testing.T) {
		svc := &mockTerminal{
			receiptFn: func(ctx context.Context, id string, c terminal.ReceiptChoice) (*service.FinishResult, error) {
				return &service.FinishResult{SaleID: saleID}, fmt.Errorf("%w: partial", ledger.ErrLedgerWrite)
			},
		}
		rr := postJSON(t, setupTerminalRouter(svc), "/terminal/payments/"+orderID+"/receipt", map[string]string{})
		if rr.Code != http.StatusInternalServerError {
			t.Fatalf("status: got %d", rr.Code)
		}
		body := decodeBody(t, rr)
		if body["error"] != handler.LedgerFailureMessage || body["saleId"] != orderID {
			t.Errorf("body: got %v", body)
		}
	})
}

func TestTerminal_Cancel(t *testing.T) {
	svc := &mockTerminal{
		cancelFn: func(ctx context.Context) (*terminal.Status, error) {
			return &terminal.Status{State: enum.TerminalStateCancelled}, nil
		},
	}
	rr := postJSON(t, setupTerminalRouter(svc), "/terminal/cancel", map[string]string{})
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d", rr.Code)
	}

	svc.cancelFn = func(ctx context.Context) (*terminal.Status, error) { return nil, terminal.ErrAlreadyApproved }
	rr = postJSON(t, setupTerminalRouter(svc), "/terminal/cancel", map[string]string{})
	if rr.Code != http.StatusConflict {
		t.Fatalf("approved cancel: got %d", rr.Code)
	}
}

func TestTerminal_Callback(t *testing.T) {
	svc := &mockTerminal{}
	router := setupTerminalRouter(svc)
	token, _ := auth.GenerateBridgeToken(bridgeSecret, "totem-01")
	payload := `{"orderId":"o-1","status":"approved","nsu":"000123","confirmationToken":"tok"}`

	send := func(tok string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("POST", "/terminal/callback", strings.NewReader(payload))
		if tok != "" {
			req.Header.Set(middleware.BridgeTokenHeader, tok)
		}
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr
	}

	if rr := send(""); rr.Code != http.StatusUnauthorized {
		t.Fatalf("unsigned callback: got %d", rr.Code)
	}

	rr := send(token)
	if rr.Code != http.StatusOK || decodeBody(t, rr)["accepted"] != true {
		t.Fatalf("first callback: got %d %s", rr.Code, rr.Body.String())
	}
	rr = send(token)
	if rr.Code != http.StatusOK || decodeBody(t, rr)["accepted"] != false {
		t.Fatalf("duplicate callback: got %d %s", rr.Code, rr.Body.String())
	}

	if len(svc.delivered) != 2 || svc.delivered[0].Status != terminal.ResultApproved || svc.delivered[0].NSU != "000123" {
		t.Errorf("delivered: got %+v", svc.delivered)
	}
}
