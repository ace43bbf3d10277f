package terminal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/barberhub/totem-api/internal/enum"
)

var ErrBridgeAbsent = errors.New("terminal bridge not configured")

// ResultStatus is the outcome the bridge reports for a transaction.
type ResultStatus string

const (
	ResultApproved  ResultStatus = "approved"
	ResultDeclined  ResultStatus = "declined"
	ResultCancelled ResultStatus = "cancelled"
	ResultError     ResultStatus = "error"
)

// ConfirmOutcome tells the bridge whether to commit or undo a transaction.
type ConfirmOutcome string

const (
	ConfirmConfirmed ConfirmOutcome = "confirmed"
	ConfirmUndone    ConfirmOutcome = "undone"
)

// PendingErrorCode is the code the bridge uses for an orphaned transaction
// left unconfirmed by a previous session.
const PendingErrorCode = "PENDING_TRANSACTION"

type ConnectionStatus struct {
	Connected bool   `json:"connected"`
	Model     string `json:"model,omitempty"`
}

type SubmitRequest struct {
	OrderID      string          `json:"orderId"`
	Amount       decimal.Decimal `json:"amount"`
	Mode         enum.CardMode   `json:"mode"`
	Installments int             `json:"installments"`
}

// Result is a transaction outcome, whether polled or pushed by the bridge.
type Result struct {
	OrderID           string       `json:"orderId"`
	Status            ResultStatus `json:"status"`
	NSU               string       `json:"nsu,omitempty"`
	AuthorizationCode string       `json:"authorizationCode,omitempty"`
	CardBrand         string       `json:"cardBrand,omitempty"`
	MerchantID        string       `json:"merchantId,omitempty"`
	ConfirmationToken string       `json:"confirmationToken,omitempty"`
	ErrorCode         string       `json:"errorCode,omitempty"`
	Message           string       `json:"message,omitempty"`
}

// BridgeError is a refusal reported by the bridge itself.
type BridgeError struct {
	Code    string
	Message string
}

func (e *BridgeError) Error() string {
	return fmt.Sprintf("bridge error %s: %s", e.Code, e.Message)
}

// isPendingTransaction recognises the bridge's orphaned-transaction report,
// either by code or by its message text.
func isPendingTransaction(code, message string) bool {
	if code == PendingErrorCode {
		return true
	}
	m := strings.ToLower(message)
	return strings.Contains(m, "pending transaction") || strings.Contains(m, "transação pendente")
}

func pendingError(err error) bool {
	var be *BridgeError
	return errors.As(err, &be) && isPendingTransaction(be.Code, be.Message)
}

// Bridge drives the local TEF bridge attached to the pinpad.
type Bridge interface {
	QueryConnection(ctx context.Context) (ConnectionStatus, error)
	// Submit returns false when the bridge did not accept the request.
	Submit(ctx context.Context, req SubmitRequest) (bool, error)
	Cancel(ctx context.Context) error
	// FetchResult returns nil while no result is available.
	FetchResult(ctx context.Context, orderID string) (*Result, error)
	Confirm(ctx context.Context, token string, outcome ConfirmOutcome) error
	ResolvePending(ctx context.Context, marker PendingMarker) error
	PendingStatus(ctx context.Context) (bool, error)
}

// HTTPBridge talks JSON to the bridge's local HTTP API.
type HTTPBridge struct {
	httpClient *http.Client
	baseURL    string
}

func NewHTTPBridge(baseURL string) *HTTPBridge {
	return &HTTPBridge{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

func (b *HTTPBridge) QueryConnection(ctx context.Context) (ConnectionStatus, error) {
	var out ConnectionStatus
	if _, err := b.do(ctx, http.MethodGet, "/status", nil, &out); err != nil {
		return ConnectionStatus{}, err
	}
	return out, nil
}

func (b *HTTPBridge) Submit(ctx context.Context, req SubmitRequest) (bool, error) {
	var out struct {
		Accepted  bool   `json:"accepted"`
		ErrorCode string `json:"errorCode"`
		Message   string `json:"message"`
	}
	if _, err := b.do(ctx, http.MethodPost, "/payments", req, &out); err != nil {
		return false, err
	}
	if !out.Accepted && out.ErrorCode != "" {
		return false, &BridgeError{Code: out.ErrorCode, Message: out.Message}
	}
	return out.Accepted, nil
}

func (b *HTTPBridge) Cancel(ctx context.Context) error {
	_, err := b.do(ctx, http.MethodPost, "/cancel", nil, nil)
	return err
}

func (b *HTTPBridge) FetchResult(ctx context.Context, orderID string) (*Result, error) {
	var out Result
	status, err := b.do(ctx, http.MethodGet, "/payments/"+url.PathEscape(orderID)+"/result", nil, &out)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNoContent {
		return nil, nil
	}
	if out.OrderID == "" {
		out.OrderID = orderID
	}
	return &out, nil
}

func (b *HTTPBridge) Confirm(ctx context.Context, token string, outcome ConfirmOutcome) error {
	body := map[string]string{"confirmationToken": token, "outcome": string(outcome)}
	_, err := b.do(ctx, http.MethodPost, "/confirm", body, nil)
	return err
}

func (b *HTTPBridge) ResolvePending(ctx context.Context, marker PendingMarker) error {
	_, err := b.do(ctx, http.MethodPost, "/pending/resolve", marker, nil)
	return err
}

func (b *HTTPBridge) PendingStatus(ctx context.Context) (bool, error) {
	var out struct {
		Pending bool `json:"pending"`
	}
	if _, err := b.do(ctx, http.MethodGet, "/pending", nil, &out); err != nil {
		return false, err
	}
	return out.Pending, nil
}

// do sends one request and decodes a 2xx body into out. It returns the
// HTTP status so callers can tell an empty 204 apart.
func (b *HTTPBridge) do(ctx context.Context, method, path string, in, out any) (int, error) {
	if b.baseURL == "" {
		return 0, ErrBridgeAbsent
	}

	var body io.Reader
	if in != nil {
		jsonData, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("error marshalling request: %w", err)
		}
		body = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, body)
	if err != nil {
		return 0, fmt.Errorf("error creating request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("error calling terminal bridge: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("error reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("terminal bridge returned status %d: %s", resp.StatusCode, string(respBody))
	}
	if out == nil || resp.StatusCode == http.StatusNoContent || len(respBody) == 0 {
		return resp.StatusCode, nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return resp.StatusCode, fmt.Errorf("error unmarshalling response: %w", err)
	}
	return resp.StatusCode, nil
}
