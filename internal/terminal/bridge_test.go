package terminal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/barberhub/totem-api/internal/enum"
)

func TestHTTPBridge_Absent(t *testing.T) {
	b := NewHTTPBridge("")
	if _, err := b.QueryConnection(context.Background()); !errors.Is(err, ErrBridgeAbsent) {
		t.Fatalf("expected ErrBridgeAbsent, got %v", err)
	}
}

func TestHTTPBridge_RoundTrip(t *testing.T) {
	var confirmed map[string]string
	mux := chi.NewRouter()
	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"connected":true,"model":"PPC930"}`))
	})
	mux.HandleFunc("POST /payments", func(w http.ResponseWriter, r *http.Request) {
		var req SubmitRequest
		json.NewDecoder(r.Body).Decode(&req) //nolint:errcheck
		if req.OrderID == "pending" {
			w.Write([]byte(`{"accepted":false,"errorCode":"PENDING_TRANSACTION","message":"pending transaction"}`))
			return
		}
		w.Write([]byte(`{"accepted":true}`))
	})
	mux.HandleFunc("GET /payments/{id}/result", func(w http.ResponseWriter, r *http.Request) {
		if chi.URLParam(r, "id") == "waiting" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Write([]byte(`{"status":"approved","nsu":"000123","confirmationToken":"tok"}`))
	})
	mux.HandleFunc("POST /confirm", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&confirmed) //nolint:errcheck
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /pending", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"pending":true}`))
	})
	mux.HandleFunc("POST /cancel", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no transaction", http.StatusConflict)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx := context.Background()
	b := NewHTTPBridge(srv.URL + "/")

	conn, err := b.QueryConnection(ctx)
	if err != nil || !conn.Connected || conn.Model != "PPC930" {
		t.Fatalf("QueryConnection: %+v, %v", conn, err)
	}

	ok, err := b.Submit(ctx, SubmitRequest{OrderID: "o1", Amount: decimal.NewFromInt(130), Mode: enum.CardModeCredit})
	if err != nil || !ok {
		t.Fatalf("Submit: %v, %v", ok, err)
	}
	_, err = b.Submit(ctx, SubmitRequest{OrderID: "pending", Amount: decimal.NewFromInt(1), Mode: enum.CardModeDebit})
	if !pendingError(err) {
		t.Fatalf("expected pending bridge error, got %v", err)
	}

	res, err := b.FetchResult(ctx, "waiting")
	if err != nil || res != nil {
		t.Fatalf("FetchResult waiting: %+v, %v", res, err)
	}
	res, err = b.FetchResult(ctx, "o1")
	if err != nil || res == nil || res.OrderID != "o1" || res.Status != ResultApproved {
		t.Fatalf("FetchResult: %+v, %v", res, err)
	}

	if err := b.Confirm(ctx, "tok", ConfirmConfirmed); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if confirmed["confirmationToken"] != "tok" || confirmed["outcome"] != "confirmed" {
		t.Errorf("confirm body: got %v", confirmed)
	}

	pending, err := b.PendingStatus(ctx)
	if err != nil || !pending {
		t.Errorf("PendingStatus: %v, %v", pending, err)
	}

	if err := b.Cancel(ctx); err == nil {
		t.Error("expected error on 409")
	}
}

func TestIsPendingTransaction(t *testing.T) {
	tests := []struct {
		code, msg string
		want      bool
	}{
		{code: PendingErrorCode, want: true},
		{msg: "Existe transação pendente", want: true},
		{msg: "Pending transaction must be resolved", want: true},
		{code: "E12", msg: "Card read failure"},
	}
	for _, tt := range tests {
		if got := isPendingTransaction(tt.code, tt.msg); got != tt.want {
			t.Errorf("isPendingTransaction(%q, %q) = %v", tt.code, tt.msg, got)
		}
	}
}
