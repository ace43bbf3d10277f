package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/barberhub/totem-api/internal/accounting/ledger"
	"github.com/barberhub/totem-api/internal/database"
	"github.com/barberhub/totem-api/internal/enum"
	"github.com/barberhub/totem-api/internal/events"
	"github.com/barberhub/totem-api/internal/logging"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const checkoutModule = "checkout"

// CheckoutStore adds the finish-time methods to SaleStore.
// Satisfied by *database.Queries (and its WithTx variant).
type CheckoutStore interface {
	SaleStore
	GetSaleForUpdate(ctx context.Context, id uuid.UUID) (database.Sale, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (database.Appointment, error)
	RelinkSaleAppointment(ctx context.Context, arg database.RelinkSaleAppointmentParams) (database.Sale, error)
	MarkSalePaid(ctx context.Context, arg database.MarkSalePaidParams) (database.Sale, error)
	UpdateAppointmentStatus(ctx context.Context, arg database.UpdateAppointmentStatusParams) (database.Appointment, error)
	CompleteTotemSession(ctx context.Context, id uuid.UUID) (database.TotemSession, error)
}

// NewCheckoutStore creates a CheckoutStore from a DBTX (pool or tx).
type NewCheckoutStore func(db database.DBTX) CheckoutStore

// LedgerRecorder writes a paid sale to the books. Satisfied by *ledger.Engine.
type LedgerRecorder interface {
	RecordSale(ctx context.Context, in ledger.SaleInput) (*ledger.Result, error)
}

// TransactionData is what the payment terminal reported for the sale.
type TransactionData struct {
	NSU               string
	AuthorizationCode string
	CardBrand         string
	ConfirmationToken string
}

// SnapshotItem is a kiosk-side copy of an extra or product, used to rebuild a
// sale whose line items were never persisted.
type SnapshotItem struct {
	ID       uuid.UUID
	Name     string
	Price    decimal.Decimal
	Quantity int32
}

// FinishInput is a request to close a paid sale.
type FinishInput struct {
	SaleID        uuid.UUID
	AppointmentID *uuid.UUID
	SessionID     *uuid.UUID
	Transaction   TransactionData
	PaymentMethod enum.PaymentMethod
	TipAmount     decimal.Decimal
	Extras        []SnapshotItem
	Products      []SnapshotItem
}

// FinishResult confirms a finished sale.
type FinishResult struct {
	SaleID        uuid.UUID       `json:"saleId"`
	AppointmentID uuid.UUID       `json:"appointmentId"`
	Total         decimal.Decimal `json:"total"`
	Tip           decimal.Decimal `json:"tip"`
}

// CheckoutCoordinator ties a kiosk session and appointment to a sale.
type CheckoutCoordinator struct {
	pool       TxBeginner
	newStore   NewCheckoutStore
	reconciler *SaleReconciler
	ledger     LedgerRecorder
	publisher  events.Publisher
	logger     logrus.FieldLogger
	now        func() time.Time
}

// NewCheckoutCoordinator creates a new CheckoutCoordinator.
func NewCheckoutCoordinator(pool TxBeginner, newStore NewCheckoutStore, rec LedgerRecorder, pub events.Publisher, logger logrus.FieldLogger) *CheckoutCoordinator {
	if pub == nil {
		pub = events.Discard{}
	}
	return &CheckoutCoordinator{
		pool:     pool,
		newStore: newStore,
		reconciler: NewSaleReconciler(pool, func(db database.DBTX) SaleStore {
			return newStore(db)
		}),
		ledger:    rec,
		publisher: pub,
		logger:    logger,
		now:       time.Now,
	}
}

// Start reconciles the sale for an appointment. See SaleReconciler.Start.
func (c *CheckoutCoordinator) Start(ctx context.Context, in StartInput) (*SaleSummary, error) {
	sum, err := c.reconciler.Start(ctx, in)
	if err != nil {
		var verr *ValidationError
		if !errors.As(err, &verr) && !errors.Is(err, ErrNotFound) {
			logging.LogError(c.logger, checkoutModule, "Start", "reconcile sale", map[string]any{
				"appointment_id": in.AppointmentID,
				"session_id":     in.SessionID,
			}, err)
		}
		return nil, err
	}
	return sum, nil
}

// settled is the committed state of a finished sale.
type settled struct {
	sale  database.Sale
	appt  database.Appointment
	items []database.SaleItem
}

// Finish marks the sale paid and its appointment and session completed, then
// runs the ledger fan-out and publishes sale.completed. An already paid sale
// is left untouched but the fan-out still runs, so a retry completes any
// missing ledger rows. A ledger failure is returned wrapped in
// ledger.ErrLedgerWrite together with the result; the payment stands.
func (c *CheckoutCoordinator) Finish(ctx context.Context, in FinishInput) (*FinishResult, error) {
	const funcName = "Finish"

	if in.SaleID == uuid.Nil {
		return nil, invalid("saleId", "is required")
	}
	if !in.PaymentMethod.Valid() {
		return nil, invalid("paymentMethod", fmt.Sprintf("unknown method %q", in.PaymentMethod))
	}
	if in.TipAmount.IsNegative() {
		return nil, invalid("tipAmount", "must be >= 0")
	}

	st, err := c.settle(ctx, in)
	if err != nil {
		var verr *ValidationError
		if !errors.As(err, &verr) && !errors.Is(err, ErrNotFound) {
			logging.LogError(c.logger, checkoutModule, funcName, "settle sale", map[string]any{
				"sale_id": in.SaleID,
				"tip":     in.TipAmount.StringFixed(2),
			}, err)
		}
		return nil, err
	}

	res := &FinishResult{
		SaleID:        st.sale.ID,
		AppointmentID: st.appt.ID,
		Total:         numericToDecimal(st.sale.Total),
		Tip:           numericToDecimal(st.sale.TipAmount),
	}

	_, ledgerErr := c.ledger.RecordSale(ctx, c.ledgerInput(st, in))
	if ledgerErr != nil {
		logging.LogError(c.logger, checkoutModule, funcName, "ledger fan-out after payment", map[string]any{
			"sale_id":        res.SaleID,
			"appointment_id": res.AppointmentID,
			"total":          res.Total.StringFixed(2),
		}, ledgerErr)
	}

	ev := events.NewSaleCompleted(events.SaleCompleted{
		SaleID:        res.SaleID,
		AppointmentID: res.AppointmentID,
		StaffID:       optUUID(st.sale.StaffID),
		Total:         res.Total,
		Tip:           res.Tip,
	}, c.now())
	if err := c.publisher.Publish(ctx, ev); err != nil {
		c.logger.WithFields(logrus.Fields{"module": checkoutModule, "sale_id": res.SaleID}).
			Warn("publish sale.completed: " + err.Error())
	}

	if ledgerErr != nil {
		if !errors.Is(ledgerErr, ledger.ErrLedgerWrite) {
			ledgerErr = fmt.Errorf("%w: %w", ledger.ErrLedgerWrite, ledgerErr)
		}
		return res, fmt.Errorf("sale %s paid: %w", res.SaleID, ledgerErr)
	}
	return res, nil
}

// settle applies every sale, appointment and session change in one
// transaction.
func (c *CheckoutCoordinator) settle(ctx context.Context, in FinishInput) (*settled, error) {
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := c.newStore(tx)

	sale, err := store.GetSaleForUpdate(ctx, in.SaleID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound("sale", in.SaleID)
		}
		return nil, fmt.Errorf("get sale: %w", err)
	}

	sale, appt, err := resolveAppointment(ctx, store, sale, in.AppointmentID)
	if err != nil {
		return nil, err
	}

	items, err := store.ListSaleItems(ctx, sale.ID)
	if err != nil {
		return nil, fmt.Errorf("list sale items: %w", err)
	}
	if len(items) == 0 {
		c.logger.WithFields(logrus.Fields{"module": checkoutModule, "sale_id": sale.ID}).
			Warn("sale has no line items at finish; rebuilding from catalog and snapshot")
		if items, err = rebuildItems(ctx, store, sale, appt, in); err != nil {
			return nil, err
		}
	}

	if enum.SaleStatus(sale.Status) != enum.SaleStatusPaid {
		if !enum.SaleStatus(sale.Status).CanTransitionTo(enum.SaleStatusPaid) {
			return nil, fmt.Errorf("sale %s in status %q cannot be paid", sale.ID, sale.Status)
		}
		if sale, err = updateTotals(ctx, store, sale, items); err != nil {
			return nil, err
		}
		total := saleTotal(itemsSubtotal(items), in.TipAmount, numericToDecimal(sale.Discount))
		sale, err = store.MarkSalePaid(ctx, database.MarkSalePaidParams{
			ID:                sale.ID,
			TipAmount:         decimalToNumeric(in.TipAmount),
			Total:             decimalToNumeric(total),
			PaymentMethod:     pgText(string(in.PaymentMethod)),
			Nsu:               pgText(in.Transaction.NSU),
			AuthorizationCode: pgText(in.Transaction.AuthorizationCode),
			CardBrand:         pgText(in.Transaction.CardBrand),
		})
		if err != nil {
			return nil, fmt.Errorf("mark sale paid: %w", err)
		}
	}

	if appt, err = c.completeAppointment(ctx, store, appt); err != nil {
		return nil, err
	}

	sessionID := optUUID(sale.SessionID)
	if in.SessionID != nil && *in.SessionID != uuid.Nil {
		sessionID = in.SessionID
	}
	if sessionID != nil {
		if _, err := store.CompleteTotemSession(ctx, *sessionID); err != nil {
			if !errors.Is(err, pgx.ErrNoRows) {
				return nil, fmt.Errorf("complete session: %w", err)
			}
			c.logger.WithFields(logrus.Fields{"module": checkoutModule, "session_id": *sessionID}).
				Warn("totem session not found at finish")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return &settled{sale: sale, appt: appt, items: items}, nil
}

// resolveAppointment finds the sale's appointment through its own link and
// falls back to the caller-supplied id, re-linking the sale when found.
func resolveAppointment(ctx context.Context, store CheckoutStore, sale database.Sale, fallback *uuid.UUID) (database.Sale, database.Appointment, error) {
	if sale.AppointmentID.Valid {
		appt, err := store.GetAppointment(ctx, sale.AppointmentID.Bytes)
		if err == nil {
			return sale, appt, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return sale, database.Appointment{}, fmt.Errorf("get appointment: %w", err)
		}
	}

	if fallback == nil || *fallback == uuid.Nil {
		return sale, database.Appointment{}, fmt.Errorf("appointment for sale %s: %w", sale.ID, ErrNotFound)
	}
	appt, err := store.GetAppointment(ctx, *fallback)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return sale, database.Appointment{}, notFound("appointment", *fallback)
		}
		return sale, database.Appointment{}, fmt.Errorf("get appointment: %w", err)
	}

	sale, err = store.RelinkSaleAppointment(ctx, database.RelinkSaleAppointmentParams{
		ID:            sale.ID,
		AppointmentID: pgUUID(appt.ID),
	})
	if err != nil {
		return sale, database.Appointment{}, fmt.Errorf("relink sale: %w", err)
	}
	if !appt.SaleID.Valid || appt.SaleID.Bytes != sale.ID {
		if appt, err = store.LinkAppointmentSale(ctx, database.LinkAppointmentSaleParams{
			ID:     appt.ID,
			SaleID: pgUUID(sale.ID),
		}); err != nil {
			return sale, database.Appointment{}, fmt.Errorf("link appointment: %w", err)
		}
	}
	return sale, appt, nil
}

// rebuildItems recreates the line items of a sale that reached payment
// without a completed start. Catalog prices win; the kiosk snapshot fills in
// items the catalog no longer has.
func rebuildItems(ctx context.Context, store CheckoutStore, sale database.Sale, appt database.Appointment, in FinishInput) ([]database.SaleItem, error) {
	principal, err := servicePrice(ctx, store, appt.ServiceID)
	if err != nil {
		return nil, err
	}
	lines := []desiredLine{{
		kind:      enum.LineItemKindPrincipalService,
		itemID:    principal.ID,
		name:      principal.Name,
		quantity:  1,
		unitPrice: numericToDecimal(principal.Price),
		staffID:   appt.StaffID,
	}}

	for _, ex := range in.Extras {
		line := desiredLine{
			kind:      enum.LineItemKindExtraService,
			itemID:    ex.ID,
			name:      ex.Name,
			quantity:  1,
			unitPrice: ex.Price,
			staffID:   appt.StaffID,
		}
		if svc, err := store.GetService(ctx, ex.ID); err == nil {
			line.name, line.unitPrice = svc.Name, numericToDecimal(svc.Price)
		} else if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get service: %w", err)
		}
		lines = append(lines, line)
	}

	for _, p := range in.Products {
		qty := p.Quantity
		if qty <= 0 {
			qty = 1
		}
		line := desiredLine{
			kind:      enum.LineItemKindProduct,
			itemID:    p.ID,
			name:      p.Name,
			quantity:  qty,
			unitPrice: p.Price,
			staffID:   appt.StaffID,
		}
		if prod, err := store.GetProduct(ctx, p.ID); err == nil {
			line.name, line.unitPrice = prod.Name, numericToDecimal(prod.Price)
		} else if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get product: %w", err)
		}
		lines = append(lines, line)
	}

	items := make([]database.SaleItem, 0, len(lines))
	for _, l := range lines {
		item, err := store.UpsertSaleItem(ctx, l.params(sale.ID))
		if err != nil {
			return nil, fmt.Errorf("rebuild %s %s: %w", l.kind, l.itemID, err)
		}
		items = append(items, item)
	}
	return items, nil
}

// completeAppointment moves the appointment to completed. A cancelled
// appointment is left as is and logged: the payment already happened.
func (c *CheckoutCoordinator) completeAppointment(ctx context.Context, store CheckoutStore, appt database.Appointment) (database.Appointment, error) {
	cur := enum.AppointmentStatus(appt.Status)
	if cur == enum.AppointmentStatusCompleted {
		return appt, nil
	}
	if !cur.CanTransitionTo(enum.AppointmentStatusCompleted) {
		c.logger.WithFields(logrus.Fields{
			"module":         checkoutModule,
			"appointment_id": appt.ID,
			"status":         appt.Status,
		}).Warn("paid sale linked to an appointment that cannot be completed")
		return appt, nil
	}
	updated, err := store.UpdateAppointmentStatus(ctx, database.UpdateAppointmentStatusParams{
		ID:     appt.ID,
		Status: string(enum.AppointmentStatusCompleted),
	})
	if err != nil {
		return appt, fmt.Errorf("complete appointment: %w", err)
	}
	return updated, nil
}

func (c *CheckoutCoordinator) ledgerInput(st *settled, in FinishInput) ledger.SaleInput {
	items := make([]ledger.Item, 0, len(st.items))
	for _, it := range st.items {
		typ := ledger.ItemTypeService
		if enum.LineItemKind(it.Kind) == enum.LineItemKindProduct {
			typ = ledger.ItemTypeProduct
		}
		items = append(items, ledger.Item{
			Type:     typ,
			ID:       it.ItemID,
			Name:     it.Name,
			Quantity: it.Quantity,
			Price:    numericToDecimal(it.UnitPrice),
			Discount: numericToDecimal(it.Discount),
			IsExtra:  enum.LineItemKind(it.Kind) == enum.LineItemKindExtraService,
			StaffID:  optUUID(it.StaffID),
		})
	}

	method := string(in.PaymentMethod)
	if st.sale.PaymentMethod.Valid {
		method = st.sale.PaymentMethod.String
	}
	txID := in.Transaction.NSU
	if st.sale.Nsu.Valid {
		txID = st.sale.Nsu.String
	}
	date := c.now()
	if st.sale.PaidAt.Valid {
		date = st.sale.PaidAt.Time
	}

	apptID := st.appt.ID
	return ledger.SaleInput{
		ReferenceID:     st.sale.ID,
		ReferenceType:   enum.ReferenceTypeTotemSale,
		AppointmentID:   &apptID,
		ClientID:        optUUID(st.sale.ClientID),
		StaffID:         optUUID(st.sale.StaffID),
		Items:           items,
		PaymentMethod:   method,
		TipAmount:       numericToDecimal(st.sale.TipAmount),
		TransactionID:   txID,
		TransactionDate: date,
	}
}

// PaymentQuote is what the pinpad should charge for a sale.
type PaymentQuote struct {
	SaleID   uuid.UUID
	Subtotal decimal.Decimal
	Discount decimal.Decimal
	Paid     bool
}

// Charge is the amount due with the given tip added.
func (q PaymentQuote) Charge(tip decimal.Decimal) decimal.Decimal {
	return saleTotal(q.Subtotal, tip, q.Discount)
}

// Quote reads the sale's current totals so a card charge can be checked
// against them.
func (c *CheckoutCoordinator) Quote(ctx context.Context, saleID uuid.UUID) (*PaymentQuote, error) {
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	sale, err := c.newStore(tx).GetSale(ctx, saleID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound("sale", saleID)
		}
		return nil, fmt.Errorf("get sale: %w", err)
	}
	return &PaymentQuote{
		SaleID:   sale.ID,
		Subtotal: numericToDecimal(sale.Subtotal),
		Discount: numericToDecimal(sale.Discount),
		Paid:     enum.SaleStatus(sale.Status) == enum.SaleStatusPaid,
	}, nil
}
