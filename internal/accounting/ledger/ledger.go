// Package ledger fans a paid sale out into financial records and their
// receivable, payable and staff commission mirrors. Every write is keyed by a
// deterministic sub-reference so the fan-out can be repeated safely.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/barberhub/totem-api/internal/database"
	"github.com/barberhub/totem-api/internal/enum"
	"github.com/barberhub/totem-api/internal/logging"
	"github.com/barberhub/totem-api/internal/metrics"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	moduleName = "ledger"
	lockTTL    = 30 * time.Second
)

// Errors returned by the engine.
var (
	ErrLedgerWrite           = errors.New("ledger write failed")
	ErrCommissionRateMissing = errors.New("staff commission rate not configured")
	ErrInvalidInput          = errors.New("invalid ledger input")
)

// ItemType is the catalog type of a sold line.
type ItemType string

const (
	ItemTypeService ItemType = "service"
	ItemTypeProduct ItemType = "product"
)

// Item is one sold line.
type Item struct {
	Type     ItemType
	ID       uuid.UUID
	Name     string
	Quantity int32
	Price    decimal.Decimal
	Discount decimal.Decimal
	IsExtra  bool
	StaffID  *uuid.UUID
}

// SaleInput describes a paid sale to record.
type SaleInput struct {
	ReferenceID     uuid.UUID
	ReferenceType   string
	AppointmentID   *uuid.UUID
	ClientID        *uuid.UUID
	StaffID         *uuid.UUID
	Items           []Item
	PaymentMethod   string
	TipAmount       decimal.Decimal
	TransactionID   string
	TransactionDate time.Time
}

// Entry is one financial record produced or confirmed by a fan-out.
type Entry struct {
	RecordID        uuid.UUID            `json:"id"`
	SubReference    string               `json:"subReference"`
	TransactionType enum.TransactionType `json:"transactionType"`
	Amount          decimal.Decimal      `json:"amount"`
	Existing        bool                 `json:"existing"`
}

// Result lists every record the fan-out created or found already present.
type Result struct {
	Entries []Entry `json:"entries"`
}

// IDs returns the record ids in fan-out order.
func (r *Result) IDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(r.Entries))
	for _, e := range r.Entries {
		ids = append(ids, e.RecordID)
	}
	return ids
}

// Created counts the records inserted by this call.
func (r *Result) Created() int {
	n := 0
	for _, e := range r.Entries {
		if !e.Existing {
			n++
		}
	}
	return n
}

// DB is the pool the engine reads rules from and opens transactions on.
// Satisfied by *pgxpool.Pool.
type DB interface {
	database.DBTX
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store defines the DB methods used by the fan-out.
// Satisfied by *database.Queries (and its WithTx variant).
type Store interface {
	GetStaff(ctx context.Context, id uuid.UUID) (database.Staff, error)
	GetProduct(ctx context.Context, id uuid.UUID) (database.Product, error)
	LockLedgerEntry(ctx context.Context, key string) error
	FindFinancialRecordByMarker(ctx context.Context, arg database.FindFinancialRecordByMarkerParams) (database.FinancialRecord, error)
	CreateFinancialRecord(ctx context.Context, arg database.CreateFinancialRecordParams) (database.FinancialRecord, error)
	ListFinancialRecordsByReference(ctx context.Context, arg database.ListFinancialRecordsByReferenceParams) ([]database.FinancialRecord, error)
	FindReceivableByObservation(ctx context.Context, marker string) (database.AccountsReceivable, error)
	CreateReceivable(ctx context.Context, arg database.CreateReceivableParams) (database.AccountsReceivable, error)
	FindPayableByObservation(ctx context.Context, marker string) (database.AccountsPayable, error)
	CreatePayable(ctx context.Context, arg database.CreatePayableParams) (database.AccountsPayable, error)
	FindStaffCommissionByKey(ctx context.Context, referenceKey string) (database.StaffCommission, error)
	CreateStaffCommission(ctx context.Context, arg database.CreateStaffCommissionParams) (database.StaffCommission, error)
}

// NewStore creates a Store from a DBTX (pool or tx).
type NewStore func(db database.DBTX) Store

// Options configures commission fallbacks.
type Options struct {
	DefaultCommissionRate decimal.Decimal
	RequireCommissionRate bool
}

// Engine records paid sales into the ledger.
type Engine struct {
	db       DB
	newStore NewStore
	locker   Locker
	opts     Options
	logger   logrus.FieldLogger
	now      func() time.Time
}

// NewEngine creates a new Engine. A nil locker falls back to a process-local
// one.
func NewEngine(db DB, newStore NewStore, locker Locker, opts Options, logger logrus.FieldLogger) *Engine {
	if locker == nil {
		locker = NewLocalLocker()
	}
	return &Engine{
		db:       db,
		newStore: newStore,
		locker:   locker,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
	}
}

// RecordSale writes the revenue, commission and tip records for a sale. Each
// record and its mirrors commit in their own transaction. Records that already
// exist are reported as Existing and their mirrors are recreated if missing.
// A failed entry does not stop the others; the returned error then wraps
// ErrLedgerWrite and the result still lists what was written.
func (e *Engine) RecordSale(ctx context.Context, in SaleInput) (*Result, error) {
	const funcName = "RecordSale"

	if err := validateInput(in); err != nil {
		return nil, err
	}
	if in.TransactionDate.IsZero() {
		in.TransactionDate = e.now()
	}

	lock, err := e.locker.Obtain(ctx, lockKey(in), lockTTL)
	if err != nil {
		logging.LogError(e.logger, moduleName, funcName, "obtain ledger lock", in.ReferenceID, err)
		return nil, fmt.Errorf("%w: lock %s: %w", ErrLedgerWrite, in.ReferenceID, err)
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			e.logger.WithFields(logrus.Fields{"module": moduleName, "reference_id": in.ReferenceID}).
				Warn("release ledger lock: " + err.Error())
		}
	}()

	entries, planErrs := e.plan(ctx, in)

	res := &Result{Entries: make([]Entry, 0, len(entries))}
	errs := planErrs
	for _, p := range entries {
		entry, err := e.writeEntry(ctx, in, p)
		if err != nil {
			metrics.LedgerRecords.WithLabelValues(string(p.transactionType), "failed").Inc()
			logging.LogError(e.logger, moduleName, funcName, "write "+p.subRef, map[string]any{
				"reference_id": in.ReferenceID,
				"amount":       p.amount.StringFixed(2),
			}, err)
			errs = append(errs, fmt.Errorf("%s: %w", p.subRef, err))
			continue
		}
		outcome := "created"
		if entry.Existing {
			outcome = "existing"
		}
		metrics.LedgerRecords.WithLabelValues(string(p.transactionType), outcome).Inc()
		res.Entries = append(res.Entries, entry)
	}

	e.logger.WithFields(logrus.Fields{
		"module":       moduleName,
		"reference_id": in.ReferenceID,
		"created":      res.Created(),
		"total":        len(res.Entries),
		"failed":       len(errs),
	}).Info("ledger fan-out finished")

	if len(errs) > 0 {
		return res, fmt.Errorf("%w: %w", ErrLedgerWrite, errors.Join(errs...))
	}
	return res, nil
}

// List returns the records written for a reference.
func (e *Engine) List(ctx context.Context, referenceID uuid.UUID, referenceType string) ([]database.FinancialRecord, error) {
	if referenceType == "" {
		referenceType = enum.ReferenceTypeTotemSale
	}
	records, err := e.newStore(e.db).ListFinancialRecordsByReference(ctx, database.ListFinancialRecordsByReferenceParams{
		ReferenceID:   referenceID,
		ReferenceType: referenceType,
	})
	if err != nil {
		return nil, fmt.Errorf("list financial records: %w", err)
	}
	return records, nil
}

func validateInput(in SaleInput) error {
	if in.ReferenceID == uuid.Nil {
		return fmt.Errorf("%w: referenceId is required", ErrInvalidInput)
	}
	if in.ReferenceType == "" {
		return fmt.Errorf("%w: referenceType is required", ErrInvalidInput)
	}
	if in.TipAmount.IsNegative() {
		return fmt.Errorf("%w: tipAmount must be >= 0", ErrInvalidInput)
	}
	for i, it := range in.Items {
		if it.Type != ItemTypeService && it.Type != ItemTypeProduct {
			return fmt.Errorf("%w: items[%d].type %q", ErrInvalidInput, i, it.Type)
		}
		if it.ID == uuid.Nil {
			return fmt.Errorf("%w: items[%d].id is required", ErrInvalidInput, i)
		}
		if it.Quantity <= 0 {
			return fmt.Errorf("%w: items[%d].quantity must be > 0", ErrInvalidInput, i)
		}
		if it.Price.IsNegative() || it.Discount.IsNegative() {
			return fmt.Errorf("%w: items[%d] amounts must be >= 0", ErrInvalidInput, i)
		}
	}
	return nil
}

func lockKey(in SaleInput) string {
	return fmt.Sprintf("lock:ledger:%s:%s", in.ReferenceType, in.ReferenceID)
}

// writeEntry inserts one financial record unless its marker is already
// present, then makes sure each mirror exists. The lookup and insert run under
// an advisory lock on the sub-reference, held until commit.
func (e *Engine) writeEntry(ctx context.Context, in SaleInput, p plannedEntry) (Entry, error) {
	tx, err := e.db.Begin(ctx)
	if err != nil {
		return Entry{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := e.newStore(tx)

	if err := store.LockLedgerEntry(ctx, entryLockKey(in, p.subRef)); err != nil {
		return Entry{}, fmt.Errorf("lock ledger entry: %w", err)
	}

	existing := true
	rec, err := store.FindFinancialRecordByMarker(ctx, database.FindFinancialRecordByMarkerParams{
		ReferenceID:   in.ReferenceID,
		ReferenceType: in.ReferenceType,
		Marker:        refMarker(p.subRef),
	})
	if errors.Is(err, pgx.ErrNoRows) {
		existing = false
		rec, err = store.CreateFinancialRecord(ctx, p.record)
		if err != nil {
			return Entry{}, fmt.Errorf("create financial record: %w", err)
		}
	} else if err != nil {
		return Entry{}, fmt.Errorf("find financial record: %w", err)
	}

	switch p.transactionType {
	case enum.TransactionTypeRevenue:
		if err := ensureReceivable(ctx, store, rec, p); err != nil {
			return Entry{}, err
		}
	case enum.TransactionTypeCommission:
		if err := ensurePayable(ctx, store, rec, p); err != nil {
			return Entry{}, err
		}
		if p.commission != nil && in.ReferenceType == enum.ReferenceTypeTotemSale {
			if err := ensureStaffCommission(ctx, store, in, p); err != nil {
				return Entry{}, err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Entry{}, fmt.Errorf("commit tx: %w", err)
	}

	return Entry{
		RecordID:        rec.ID,
		SubReference:    p.subRef,
		TransactionType: p.transactionType,
		Amount:          numericToDecimal(rec.NetAmount),
		Existing:        existing,
	}, nil
}

func ensureReceivable(ctx context.Context, store Store, rec database.FinancialRecord, p plannedEntry) error {
	marker := mirrorMarker(rec.ID)
	_, err := store.FindReceivableByObservation(ctx, marker)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("find receivable: %w", err)
	}
	_, err = store.CreateReceivable(ctx, database.CreateReceivableParams{
		Description:  rec.Description,
		ClientID:     rec.ClientID,
		Amount:       rec.NetAmount,
		DueDate:      rec.TransactionDate,
		ReceivedDate: rec.TransactionDate,
		Status:       receivableReceived,
		Category:     rec.Category,
		Observations: marker + " " + refMarker(p.subRef),
	})
	if err != nil {
		return fmt.Errorf("create receivable: %w", err)
	}
	return nil
}

func ensurePayable(ctx context.Context, store Store, rec database.FinancialRecord, p plannedEntry) error {
	marker := mirrorMarker(rec.ID)
	_, err := store.FindPayableByObservation(ctx, marker)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("find payable: %w", err)
	}
	_, err = store.CreatePayable(ctx, database.CreatePayableParams{
		Description:  rec.Description,
		StaffID:      rec.StaffID,
		Amount:       rec.NetAmount,
		DueDate:      rec.TransactionDate,
		Status:       payablePending,
		Category:     rec.Category,
		Observations: marker + " " + refMarker(p.subRef),
	})
	if err != nil {
		return fmt.Errorf("create payable: %w", err)
	}
	return nil
}

func ensureStaffCommission(ctx context.Context, store Store, in SaleInput, p plannedEntry) error {
	c := p.commission
	key := commissionKey(in.ReferenceID, c.kind, c.itemID)
	_, err := store.FindStaffCommissionByKey(ctx, key)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("find staff commission: %w", err)
	}
	_, err = store.CreateStaffCommission(ctx, database.CreateStaffCommissionParams{
		StaffID:        c.staffID,
		SaleID:         in.ReferenceID,
		AppointmentID:  pgUUIDPtr(in.AppointmentID),
		CommissionType: p.record.Subcategory,
		Amount:         decimalToNumeric(p.amount),
		CommissionRate: decimalToNumeric(c.rate),
		Status:         string(enum.RecordStatusPending),
		ReferenceKey:   key,
	})
	if err != nil {
		return fmt.Errorf("create staff commission: %w", err)
	}
	return nil
}

func entryLockKey(in SaleInput, subRef string) string {
	return fmt.Sprintf("ledger:%s:%s:%s", in.ReferenceType, in.ReferenceID, subRef)
}

func refMarker(subRef string) string { return "[ref:" + subRef + "]" }

func mirrorMarker(recordID uuid.UUID) string { return "financial_record:" + recordID.String() }

func commissionKey(saleID uuid.UUID, kind, itemID string) string {
	return fmt.Sprintf("sale:%s:%s:%s", saleID, kind, itemID)
}
