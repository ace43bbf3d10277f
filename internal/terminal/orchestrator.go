// Package terminal drives the kiosk's card pinpad through the TEF bridge:
// submitting a charge, collecting its single result, confirming or undoing
// it exactly once, and recovering transactions orphaned by a crash.
package terminal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/barberhub/totem-api/internal/enum"
	"github.com/barberhub/totem-api/internal/logging"
	"github.com/barberhub/totem-api/internal/metrics"
	"github.com/barberhub/totem-api/internal/receipt"
	"github.com/barberhub/totem-api/internal/service"
)

var (
	ErrTerminalUnavailable     = errors.New("payment terminal unavailable")
	ErrTerminalPendingRecovery = errors.New("a pending terminal transaction was recovered, retry the payment")
	ErrTerminalBusy            = errors.New("payment terminal busy with another payment")
	ErrTerminalDeclined        = errors.New("payment declined")
	ErrTerminalCancelled       = errors.New("payment cancelled")
	ErrTerminalFailed          = errors.New("payment terminal failure")
	ErrAttemptNotFound         = errors.New("payment attempt not found")
	ErrNotApproved             = errors.New("payment is not awaiting a receipt choice")
	ErrAlreadyApproved         = errors.New("payment already approved")
)

// RetryError asks the caller to try again after RetryAfter.
type RetryError struct {
	Err        error
	RetryAfter time.Duration
}

func (e *RetryError) Error() string { return e.Err.Error() }
func (e *RetryError) Unwrap() error { return e.Err }

// Finalizer prices the sale before a charge and closes it once the payment
// is approved and the receipt choice is made. *service.CheckoutCoordinator
// satisfies it.
type Finalizer interface {
	Quote(ctx context.Context, saleID uuid.UUID) (*service.PaymentQuote, error)
	Finish(ctx context.Context, in service.FinishInput) (*service.FinishResult, error)
}

// PaymentRequest starts a charge for a sale. Attempts are looked up by the
// sale id; each one reaches the bridge under its own terminal reference.
type PaymentRequest struct {
	SaleID        uuid.UUID
	AppointmentID *uuid.UUID
	SessionID     *uuid.UUID
	Amount        decimal.Decimal
	TipAmount     decimal.Decimal
	Mode          enum.CardMode
	Installments  int
	Extras        []service.SnapshotItem
	Products      []service.SnapshotItem
}

// ReceiptChoice is the client's receipt preference. An empty Email means no
// receipt.
type ReceiptChoice struct {
	Email string
}

// Status is the client-facing view of a payment attempt.
type Status struct {
	OrderID           string             `json:"orderId"`
	TerminalRef       string             `json:"terminalRef"`
	State             enum.TerminalState `json:"state"`
	Amount            decimal.Decimal    `json:"amount"`
	Mode              enum.CardMode      `json:"mode"`
	NSU               string             `json:"nsu,omitempty"`
	AuthorizationCode string             `json:"authorizationCode,omitempty"`
	CardBrand         string             `json:"cardBrand,omitempty"`
	Message           string             `json:"message,omitempty"`
	ReceiptPending    bool               `json:"receiptPending"`
}

// Info describes the pinpad as a whole.
type Info struct {
	Connected bool               `json:"connected"`
	State     enum.TerminalState `json:"state"`
	OrderID   string             `json:"orderId,omitempty"`
}

type Options struct {
	Timeout      time.Duration
	PollInterval time.Duration
	RetryAfter   time.Duration
	RecheckDelay time.Duration
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = 3 * time.Minute
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.RetryAfter <= 0 {
		o.RetryAfter = 3 * time.Second
	}
	if o.RecheckDelay <= 0 {
		o.RecheckDelay = 2 * time.Second
	}
	return o
}

const (
	attemptRetention  = time.Hour
	bridgeCallTimeout = 30 * time.Second
)

type attempt struct {
	req PaymentRequest

	// orderID is the sale id; ref is the order id the bridge sees and echoes
	// back on every result for this attempt.
	orderID    string
	ref        string
	state      enum.TerminalState
	result     Result
	message    string
	retryAfter time.Duration
	startedAt  time.Time

	box      *mailbox
	stop     context.CancelFunc
	done     chan struct{}
	doneOnce sync.Once

	// finalized: no further results are accepted.
	finalized   bool
	gateOpen    bool
	settled     bool
	receiptSent bool
}

func (a *attempt) closeDone() {
	a.doneOnce.Do(func() { close(a.done) })
}

func (a *attempt) status() Status {
	return Status{
		OrderID:           a.orderID,
		TerminalRef:       a.ref,
		State:             a.state,
		Amount:            a.req.Amount,
		Mode:              a.req.Mode,
		NSU:               a.result.NSU,
		AuthorizationCode: a.result.AuthorizationCode,
		CardBrand:         a.result.CardBrand,
		Message:           a.message,
		ReceiptPending:    a.state == enum.TerminalStateApproved && a.gateOpen && !a.settled,
	}
}

func (a *attempt) err(retryAfter time.Duration) error {
	switch a.state {
	case enum.TerminalStateDeclined:
		return ErrTerminalDeclined
	case enum.TerminalStateCancelled:
		return ErrTerminalCancelled
	case enum.TerminalStateError:
		return ErrTerminalFailed
	case enum.TerminalStatePendingRecovery:
		if a.retryAfter > 0 {
			retryAfter = a.retryAfter
		}
		return &RetryError{Err: ErrTerminalPendingRecovery, RetryAfter: retryAfter}
	}
	return nil
}

// Orchestrator owns the single pinpad. At most one attempt is in flight; an
// approved attempt gives the pinpad back once confirmed and keeps only its
// receipt gate.
type Orchestrator struct {
	bridge    Bridge
	pending   PendingStore
	receipts  receipt.Sender
	finalizer Finalizer
	logger    logrus.FieldLogger
	opts      Options
	now       func() time.Time

	// ops serializes Begin, Cancel and ResolveReceipt.
	ops sync.Mutex

	mu        sync.Mutex
	state     enum.TerminalState
	current   *attempt
	attempts  map[string]*attempt
	byRef     map[string]*attempt
	confirmed map[string]struct{}

	wg sync.WaitGroup
}

func NewOrchestrator(bridge Bridge, pending PendingStore, receipts receipt.Sender, finalizer Finalizer, logger logrus.FieldLogger, opts Options) *Orchestrator {
	if pending == nil {
		pending = NewMemoryPendingStore()
	}
	return &Orchestrator{
		bridge:    bridge,
		pending:   pending,
		receipts:  receipts,
		finalizer: finalizer,
		logger:    logger,
		opts:      opts.withDefaults(),
		now:       time.Now,
		state:     enum.TerminalStateIdle,
		attempts:  make(map[string]*attempt),
		byRef:     make(map[string]*attempt),
		confirmed: make(map[string]struct{}),
	}
}

// Wait blocks until background polling, recovery checks and receipt sends
// have finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func validateRequest(req PaymentRequest) error {
	if req.SaleID == uuid.Nil {
		return &service.ValidationError{Field: "saleId", Message: "is required"}
	}
	if !req.Amount.IsPositive() {
		return &service.ValidationError{Field: "amount", Message: "must be greater than zero"}
	}
	if !req.Mode.Valid() {
		return &service.ValidationError{Field: "mode", Message: "must be credit, debit or pix"}
	}
	if req.Installments < 0 {
		return &service.ValidationError{Field: "installments", Message: "must not be negative"}
	}
	if req.TipAmount.IsNegative() {
		return &service.ValidationError{Field: "tipAmount", Message: "must not be negative"}
	}
	return nil
}

// Begin submits a charge to the pinpad and starts waiting for its result.
// Calling it again for the order already in flight returns its status. The
// amount must match the sale total plus tip.
func (o *Orchestrator) Begin(ctx context.Context, req PaymentRequest) (*Status, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	orderID := req.SaleID.String()

	o.ops.Lock()
	defer o.ops.Unlock()

	o.mu.Lock()
	if cur := o.current; cur != nil {
		defer o.mu.Unlock()
		if cur.orderID == orderID {
			st := cur.status()
			return &st, nil
		}
		return nil, ErrTerminalBusy
	}
	if prev, ok := o.attempts[orderID]; ok && prev.state == enum.TerminalStateApproved {
		o.mu.Unlock()
		return nil, ErrAlreadyApproved
	}
	o.mu.Unlock()

	conn, err := o.bridge.QueryConnection(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTerminalUnavailable, err)
	}
	if !conn.Connected {
		return nil, fmt.Errorf("%w: pinpad not connected", ErrTerminalUnavailable)
	}

	if err := o.checkAmount(ctx, req); err != nil {
		return nil, err
	}

	ref := newTerminalRef(orderID)
	accepted, err := o.bridge.Submit(ctx, SubmitRequest{
		OrderID:      ref,
		Amount:       req.Amount,
		Mode:         req.Mode,
		Installments: req.Installments,
	})
	if err != nil {
		if pendingError(err) {
			o.mu.Lock()
			o.setStateLocked(enum.TerminalStatePendingRecovery)
			o.mu.Unlock()

			retry := o.recoverPending(ctx)

			o.mu.Lock()
			o.setStateLocked(enum.TerminalStateIdle)
			o.mu.Unlock()
			return nil, retry
		}
		return nil, fmt.Errorf("%w: %w", ErrTerminalUnavailable, err)
	}
	if !accepted {
		return nil, fmt.Errorf("%w: payment request not accepted", ErrTerminalUnavailable)
	}

	waitCtx, stop := context.WithTimeout(context.Background(), o.opts.Timeout)
	att := &attempt{
		req:       req,
		orderID:   orderID,
		ref:       ref,
		state:     enum.TerminalStateAwaitingResult,
		startedAt: o.now(),
		box:       newMailbox(),
		stop:      stop,
		done:      make(chan struct{}),
	}

	o.mu.Lock()
	o.pruneLocked()
	o.current = att
	o.attempts[orderID] = att
	o.byRef[ref] = att
	o.setStateLocked(enum.TerminalStateAwaitingResult)
	st := att.status()
	o.mu.Unlock()

	o.logger.WithFields(logrus.Fields{
		"module":       "terminal",
		"order_id":     orderID,
		"terminal_ref": ref,
		"amount":       req.Amount.String(),
		"mode":         req.Mode,
	}).Info("payment submitted to terminal")

	o.wg.Add(2)
	go o.poll(waitCtx, att)
	go o.await(waitCtx, att)
	return &st, nil
}

// Deliver hands a pushed result to the attempt whose terminal reference it
// carries. It reports false when the result was discarded.
func (o *Orchestrator) Deliver(res Result) bool {
	o.mu.Lock()
	att, ok := o.byRef[res.OrderID]
	o.mu.Unlock()

	log := o.logger.WithFields(logrus.Fields{"module": "terminal", "terminal_ref": res.OrderID, "status": res.Status})
	if !ok {
		log.Warn("discarding terminal result for unknown attempt")
		return false
	}
	if !att.box.offer(res) {
		log.Info("discarding duplicate or late terminal result")
		return false
	}
	return true
}

// Status returns the current view of an attempt.
func (o *Orchestrator) Status(orderID string) (*Status, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	att, ok := o.attempts[orderID]
	if !ok {
		return nil, ErrAttemptNotFound
	}
	st := att.status()
	return &st, nil
}

// Await blocks until the attempt leaves AwaitingResult or ctx ends. When
// ctx ends first the current status is returned with a nil error.
func (o *Orchestrator) Await(ctx context.Context, orderID string) (*Status, error) {
	o.mu.Lock()
	att, ok := o.attempts[orderID]
	o.mu.Unlock()
	if !ok {
		return nil, ErrAttemptNotFound
	}

	select {
	case <-att.done:
	case <-ctx.Done():
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	st := att.status()
	if st.State == enum.TerminalStateAwaitingResult {
		return &st, nil
	}
	return &st, att.err(o.opts.RetryAfter)
}

// Info reports the pinpad connection and the orchestrator state.
func (o *Orchestrator) Info(ctx context.Context) Info {
	conn, err := o.bridge.QueryConnection(ctx)
	if err != nil {
		o.logger.WithField("module", "terminal").Debug("query connection: " + err.Error())
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	info := Info{Connected: err == nil && conn.Connected, State: o.state}
	if o.current != nil {
		info.OrderID = o.current.orderID
	}
	return info
}

// Cancel stops the attempt in flight and returns the pinpad to Idle even
// when the bridge cannot be reached. An attempt that is being approved
// cannot be cancelled; once confirmed it no longer holds the pinpad.
func (o *Orchestrator) Cancel(ctx context.Context) (*Status, error) {
	o.ops.Lock()
	defer o.ops.Unlock()

	o.mu.Lock()
	att := o.current
	if att != nil && att.state == enum.TerminalStateApproved {
		o.mu.Unlock()
		return nil, ErrAlreadyApproved
	}
	var st *Status
	if att != nil {
		att.box.seal()
		att.stop()
		if !att.finalized {
			att.finalized = true
			att.state = enum.TerminalStateCancelled
			att.message = "Payment cancelled"
			o.setStateLocked(enum.TerminalStateCancelled)
		}
		o.releaseLocked(att)
		s := att.status()
		st = &s
	}
	o.mu.Unlock()

	if err := o.bridge.Cancel(ctx); err != nil {
		o.logger.WithField("module", "terminal").Warn("cancel on terminal bridge: " + err.Error())
	}
	return st, nil
}

// ResolveReceipt records the receipt choice for an approved attempt and
// finalizes the sale. A failed finalization leaves the gate open so it can
// be retried; the terminal confirmation is never undone.
func (o *Orchestrator) ResolveReceipt(ctx context.Context, orderID string, choice ReceiptChoice) (*service.FinishResult, error) {
	o.ops.Lock()
	defer o.ops.Unlock()

	o.mu.Lock()
	att, ok := o.attempts[orderID]
	if !ok {
		o.mu.Unlock()
		return nil, ErrAttemptNotFound
	}
	if att.state != enum.TerminalStateApproved || !att.gateOpen || att.settled {
		o.mu.Unlock()
		return nil, ErrNotApproved
	}
	req, res := att.req, att.result
	sendEmail := choice.Email != "" && !att.receiptSent && o.receipts != nil
	if sendEmail {
		att.receiptSent = true
	}
	o.mu.Unlock()

	if sendEmail {
		o.sendReceipt(ctx, receipt.Receipt{
			SaleID:            req.SaleID,
			Email:             choice.Email,
			Amount:            req.Amount,
			PaymentMethod:     string(req.Mode.PaymentMethod()),
			NSU:               res.NSU,
			AuthorizationCode: res.AuthorizationCode,
			CardBrand:         res.CardBrand,
			PaidAt:            o.now(),
		})
	}

	out, err := o.finalizer.Finish(ctx, service.FinishInput{
		SaleID:        req.SaleID,
		AppointmentID: req.AppointmentID,
		SessionID:     req.SessionID,
		Transaction: service.TransactionData{
			NSU:               res.NSU,
			AuthorizationCode: res.AuthorizationCode,
			CardBrand:         res.CardBrand,
			ConfirmationToken: res.ConfirmationToken,
		},
		PaymentMethod: req.Mode.PaymentMethod(),
		TipAmount:     req.TipAmount,
		Extras:        req.Extras,
		Products:      req.Products,
	})
	if out == nil {
		logging.LogError(o.logger, "terminal", "ResolveReceipt", "finish sale", orderID, err)
		return nil, err
	}

	o.mu.Lock()
	att.settled = true
	o.releaseLocked(att)
	o.mu.Unlock()
	return out, err
}

// checkAmount refuses a charge that does not match what the sale will record.
func (o *Orchestrator) checkAmount(ctx context.Context, req PaymentRequest) error {
	quote, err := o.finalizer.Quote(ctx, req.SaleID)
	if err != nil {
		return err
	}
	if quote.Paid {
		return ErrAlreadyApproved
	}
	due := quote.Charge(req.TipAmount)
	if !req.Amount.Equal(due) {
		return &service.ValidationError{
			Field:   "amount",
			Message: fmt.Sprintf("must equal the sale total %s", due.StringFixed(2)),
		}
	}
	return nil
}

func newTerminalRef(orderID string) string {
	return orderID + ":" + uuid.NewString()[:8]
}

func (o *Orchestrator) sendReceipt(ctx context.Context, r receipt.Receipt) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bridgeCallTimeout)
		defer cancel()
		if !o.receipts.SendReceipt(sctx, r) {
			o.logger.WithFields(logrus.Fields{
				"module":  "terminal",
				"sale_id": r.SaleID,
			}).Warn("receipt email not sent")
		}
	}()
}

func (o *Orchestrator) poll(ctx context.Context, att *attempt) {
	defer o.wg.Done()
	limiter := rate.NewLimiter(rate.Every(o.opts.PollInterval), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		res, err := o.bridge.FetchResult(ctx, att.ref)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			o.logger.WithFields(logrus.Fields{"module": "terminal", "terminal_ref": att.ref}).Debug("fetch result: " + err.Error())
			continue
		}
		if res == nil {
			continue
		}
		if res.OrderID != att.ref {
			o.logger.WithFields(logrus.Fields{"module": "terminal", "terminal_ref": att.ref}).Warn("ignoring polled result for " + res.OrderID)
			continue
		}
		att.box.offer(*res)
		return
	}
}

func (o *Orchestrator) await(ctx context.Context, att *attempt) {
	defer o.wg.Done()
	defer att.stop()

	select {
	case res := <-att.box.results():
		att.stop()
		o.process(att, res)
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			o.expire(att)
		}
	}
}

func (o *Orchestrator) process(att *attempt, res Result) {
	ctx, cancel := context.WithTimeout(context.Background(), bridgeCallTimeout)
	defer cancel()
	log := o.logger.WithFields(logrus.Fields{"module": "terminal", "order_id": att.orderID, "status": res.Status})

	o.mu.Lock()
	if att.finalized || o.current != att {
		o.mu.Unlock()
		log.Info("discarding terminal result for finalized attempt")
		return
	}
	att.finalized = true
	att.result = res

	switch {
	case res.Status == ResultApproved:
		att.state = enum.TerminalStateApproved
		o.setStateLocked(enum.TerminalStateApproved)
		o.mu.Unlock()
		o.approve(ctx, att, res)
		log.Info("payment approved")

	case res.Status == ResultDeclined:
		att.state = enum.TerminalStateDeclined
		att.message = messageOr(res.Message, "Payment declined")
		o.setStateLocked(enum.TerminalStateDeclined)
		o.releaseLocked(att)
		o.mu.Unlock()
		if err := o.confirmOnce(ctx, res.ConfirmationToken, ConfirmUndone); err != nil {
			logging.LogError(o.logger, "terminal", "process", "undo declined transaction", att.orderID, err)
		}
		log.Info("payment declined")

	case res.Status == ResultCancelled:
		att.state = enum.TerminalStateCancelled
		att.message = messageOr(res.Message, "Payment cancelled at the terminal")
		o.setStateLocked(enum.TerminalStateCancelled)
		o.releaseLocked(att)
		o.mu.Unlock()

	case isPendingTransaction(res.ErrorCode, res.Message):
		att.state = enum.TerminalStatePendingRecovery
		att.message = "A previous transaction was pending and has been resolved. Please try again."
		o.setStateLocked(enum.TerminalStatePendingRecovery)
		o.mu.Unlock()

		retry := o.recoverPending(ctx)

		o.mu.Lock()
		att.retryAfter = retry.RetryAfter
		o.releaseLocked(att)
		o.mu.Unlock()

	default:
		att.state = enum.TerminalStateError
		att.message = messageOr(res.Message, "Terminal error")
		o.setStateLocked(enum.TerminalStateError)
		o.releaseLocked(att)
		o.mu.Unlock()
		log.Warn("terminal reported an error: " + att.message)
	}
}

// approve confirms an approved transaction. The marker is written first so
// a crash before confirmation can be replayed; it is cleared only once the
// confirmation went through. The pinpad is then released while the receipt
// gate stays open on the attempt.
func (o *Orchestrator) approve(ctx context.Context, att *attempt, res Result) {
	marker := PendingMarker{
		OrderID:           att.ref,
		NSU:               res.NSU,
		MerchantID:        res.MerchantID,
		AuthorizationCode: res.AuthorizationCode,
		ConfirmationToken: res.ConfirmationToken,
		CreatedAt:         o.now(),
	}
	if err := o.pending.Save(ctx, marker); err != nil {
		logging.LogError(o.logger, "terminal", "approve", "save pending marker", att.orderID, err)
	}

	if res.ConfirmationToken == "" {
		o.logger.WithFields(logrus.Fields{"module": "terminal", "order_id": att.orderID}).Warn("approved result without confirmation token")
	} else if err := o.confirmOnce(ctx, res.ConfirmationToken, ConfirmConfirmed); err != nil {
		logging.LogError(o.logger, "terminal", "approve", "confirm transaction", att.orderID, err)
	} else if err := o.pending.Clear(ctx); err != nil {
		logging.LogError(o.logger, "terminal", "approve", "clear pending marker", att.orderID, err)
	}

	o.mu.Lock()
	att.gateOpen = true
	o.releaseLocked(att)
	o.mu.Unlock()
}

func (o *Orchestrator) expire(att *attempt) {
	o.mu.Lock()
	if att.finalized || o.current != att {
		o.mu.Unlock()
		return
	}
	att.finalized = true
	att.box.seal()
	att.state = enum.TerminalStateError
	att.message = "Timed out waiting for the terminal"
	o.setStateLocked(enum.TerminalStateError)
	o.releaseLocked(att)
	o.mu.Unlock()

	o.logger.WithFields(logrus.Fields{"module": "terminal", "order_id": att.orderID}).Warn("payment attempt timed out")

	ctx, cancel := context.WithTimeout(context.Background(), bridgeCallTimeout)
	defer cancel()
	if err := o.bridge.Cancel(ctx); err != nil {
		o.logger.WithField("module", "terminal").Warn("cancel after timeout: " + err.Error())
	}
}

// recoverPending replays the stored marker, falling back to an empty
// confirmed ack, then clears the marker and schedules a status recheck.
func (o *Orchestrator) recoverPending(ctx context.Context) *RetryError {
	log := o.logger.WithField("module", "terminal")
	log.Warn("terminal reported a pending transaction, recovering")

	marker, err := o.pending.Load(ctx)
	if err != nil {
		logging.LogError(o.logger, "terminal", "recoverPending", "load pending marker", nil, err)
	}

	replayed := false
	if marker != nil {
		if err := o.bridge.ResolvePending(ctx, *marker); err != nil {
			logging.LogError(o.logger, "terminal", "recoverPending", "resolve pending", marker.OrderID, err)
		} else {
			replayed = true
			if marker.ConfirmationToken != "" {
				o.mu.Lock()
				o.confirmed[marker.ConfirmationToken] = struct{}{}
				o.mu.Unlock()
			}
		}
	}
	if !replayed {
		if err := o.bridge.Confirm(ctx, "", ConfirmConfirmed); err != nil {
			logging.LogError(o.logger, "terminal", "recoverPending", "empty confirmation", nil, err)
		}
	}

	if err := o.pending.Clear(ctx); err != nil {
		logging.LogError(o.logger, "terminal", "recoverPending", "clear pending marker", nil, err)
	}

	o.wg.Add(1)
	time.AfterFunc(o.opts.RecheckDelay, func() {
		defer o.wg.Done()
		cctx, cancel := context.WithTimeout(context.Background(), bridgeCallTimeout)
		defer cancel()
		pending, err := o.bridge.PendingStatus(cctx)
		if err != nil {
			log.Warn("pending status recheck: " + err.Error())
			return
		}
		if pending {
			log.Warn("terminal still reports a pending transaction after recovery")
		}
	})

	return &RetryError{Err: ErrTerminalPendingRecovery, RetryAfter: o.opts.RetryAfter}
}

// confirmOnce sends a confirmation at most once per token. A failed send
// still counts; recovery replays it from the pending marker.
func (o *Orchestrator) confirmOnce(ctx context.Context, token string, outcome ConfirmOutcome) error {
	if token == "" {
		return nil
	}
	o.mu.Lock()
	if _, sent := o.confirmed[token]; sent {
		o.mu.Unlock()
		return nil
	}
	o.confirmed[token] = struct{}{}
	o.mu.Unlock()

	return o.bridge.Confirm(ctx, token, outcome)
}

func (o *Orchestrator) setStateLocked(next enum.TerminalState) {
	if o.state == next {
		return
	}
	if !o.state.CanTransitionTo(next) {
		o.logger.WithField("module", "terminal").Warnf("unexpected terminal transition %s -> %s", o.state, next)
	}
	o.state = next
	metrics.TerminalTransitions.WithLabelValues(string(next)).Inc()
}

// releaseLocked frees the pinpad if att still holds it.
func (o *Orchestrator) releaseLocked(att *attempt) {
	if o.current == att {
		o.current = nil
		o.setStateLocked(enum.TerminalStateIdle)
	}
	att.closeDone()
}

func (o *Orchestrator) pruneLocked() {
	cutoff := o.now().Add(-attemptRetention)
	for ref, att := range o.byRef {
		if att != o.current && att.startedAt.Before(cutoff) {
			delete(o.byRef, ref)
			if o.attempts[att.orderID] == att {
				delete(o.attempts, att.orderID)
			}
		}
	}
}

func messageOr(msg, fallback string) string {
	if msg != "" {
		return msg
	}
	return fallback
}
