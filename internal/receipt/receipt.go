// Package receipt sends payment receipts through the external receipt
// service. Delivery is best effort: callers only learn whether it worked.
package receipt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Receipt is the payload of a receipt email.
type Receipt struct {
	SaleID            uuid.UUID       `json:"saleId"`
	Email             string          `json:"email"`
	Amount            decimal.Decimal `json:"amount"`
	PaymentMethod     string          `json:"paymentMethod"`
	NSU               string          `json:"nsu,omitempty"`
	AuthorizationCode string          `json:"authorizationCode,omitempty"`
	CardBrand         string          `json:"cardBrand,omitempty"`
	PaidAt            time.Time       `json:"paidAt"`
}

// Sender reports whether a receipt was accepted for delivery.
type Sender interface {
	SendReceipt(ctx context.Context, r Receipt) bool
}

// HTTPSender posts receipts to the receipt service.
type HTTPSender struct {
	httpClient *http.Client
	baseURL    string
	logger     logrus.FieldLogger
}

// NewHTTPSender creates a sender for baseURL. An empty baseURL yields a
// sender that always reports failure.
func NewHTTPSender(baseURL string, logger logrus.FieldLogger) *HTTPSender {
	return &HTTPSender{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		logger:     logger,
	}
}

func (s *HTTPSender) SendReceipt(ctx context.Context, r Receipt) bool {
	if err := s.send(ctx, r); err != nil {
		s.logger.WithFields(logrus.Fields{
			"module":  "receipt",
			"sale_id": r.SaleID,
		}).Warn("send receipt: " + err.Error())
		return false
	}
	return true
}

func (s *HTTPSender) send(ctx context.Context, r Receipt) error {
	if s.baseURL == "" {
		return fmt.Errorf("receipt service not configured")
	}
	if r.Email == "" {
		return fmt.Errorf("email is required")
	}

	jsonData, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("error marshalling request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/receipts", bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("error calling receipt service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("receipt service returned status %d: %s", resp.StatusCode, string(body))
	}

	var out struct {
		Success bool `json:"success"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("error decoding response: %w", err)
	}
	if !out.Success {
		return fmt.Errorf("receipt service rejected the receipt")
	}
	return nil
}
