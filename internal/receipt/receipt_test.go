package receipt

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
)

func TestHTTPSender_Success(t *testing.T) {
	var got Receipt
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/receipts" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	logger, _ := test.NewNullLogger()
	s := NewHTTPSender(srv.URL+"/", logger)

	r := Receipt{SaleID: uuid.New(), Email: "client@example.com", Amount: decimal.NewFromInt(130)}
	if !s.SendReceipt(context.Background(), r) {
		t.Fatal("expected success")
	}
	if got.Email != "client@example.com" || !got.Amount.Equal(decimal.NewFromInt(130)) {
		t.Errorf("payload: got %+v", got)
	}
}

func TestHTTPSender_Failures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		baseURL string
		email   string
	}{
		{name: "server error", status: http.StatusInternalServerError, body: `boom`, email: "a@b.c"},
		{name: "rejected", status: http.StatusOK, body: `{"success":false}`, email: "a@b.c"},
		{name: "missing email", status: http.StatusOK, body: `{"success":true}`},
		{name: "not configured", baseURL: "-", email: "a@b.c"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			base := srv.URL
			if tt.baseURL == "-" {
				base = ""
			}
			logger, hook := test.NewNullLogger()
			s := NewHTTPSender(base, logger)
			if s.SendReceipt(context.Background(), Receipt{SaleID: uuid.New(), Email: tt.email}) {
				t.Fatal("expected failure")
			}
			if hook.LastEntry() == nil {
				t.Error("failure should be logged")
			}
		})
	}
}
