package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/barberhub/totem-api/internal/database"
	"github.com/barberhub/totem-api/internal/enum"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// TxBeginner starts a new database transaction.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// SaleStore defines the DB methods needed to reconcile a sale.
// Satisfied by *database.Queries (and its WithTx variant).
type SaleStore interface {
	GetAppointmentForUpdate(ctx context.Context, id uuid.UUID) (database.Appointment, error)
	LinkAppointmentSale(ctx context.Context, arg database.LinkAppointmentSaleParams) (database.Appointment, error)
	GetSale(ctx context.Context, id uuid.UUID) (database.Sale, error)
	FindSaleByAppointmentSession(ctx context.Context, arg database.FindSaleByAppointmentSessionParams) (database.Sale, error)
	CreateSale(ctx context.Context, arg database.CreateSaleParams) (database.Sale, error)
	UpdateSaleTotals(ctx context.Context, arg database.UpdateSaleTotalsParams) (database.Sale, error)
	ListSaleItems(ctx context.Context, saleID uuid.UUID) ([]database.SaleItem, error)
	UpsertSaleItem(ctx context.Context, arg database.UpsertSaleItemParams) (database.SaleItem, error)
	DeleteSaleItem(ctx context.Context, arg database.DeleteSaleItemParams) error
	GetService(ctx context.Context, id uuid.UUID) (database.Service, error)
	GetProduct(ctx context.Context, id uuid.UUID) (database.Product, error)
}

// NewSaleStore creates a SaleStore from a DBTX (pool or tx).
type NewSaleStore func(db database.DBTX) SaleStore

// ProductQuantity is one requested product line.
type ProductQuantity struct {
	ID       uuid.UUID
	Quantity int32
}

// StartInput is the desired state of a sale in progress.
type StartInput struct {
	AppointmentID uuid.UUID
	SessionID     uuid.UUID
	Extras        []uuid.UUID
	Products      []ProductQuantity
}

// LineSummary is one line item as shown on the kiosk.
type LineSummary struct {
	ID        uuid.UUID       `json:"id"`
	Name      string          `json:"name"`
	Quantity  int32           `json:"quantity"`
	UnitPrice decimal.Decimal `json:"price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

// SaleSummary is the reconciled sale returned to the kiosk.
type SaleSummary struct {
	SaleID           uuid.UUID       `json:"-"`
	SessionID        *uuid.UUID      `json:"-"`
	Status           enum.SaleStatus `json:"-"`
	PrincipalService *LineSummary    `json:"principalService"`
	ExtraServices    []LineSummary   `json:"extraServices"`
	Products         []LineSummary   `json:"products"`
	Subtotal         decimal.Decimal `json:"subtotal"`
	Discount         decimal.Decimal `json:"discount"`
	Tip              decimal.Decimal `json:"-"`
	Total            decimal.Decimal `json:"total"`
}

// SaleReconciler keeps a sale's line items equal to the desired state sent by
// the kiosk.
type SaleReconciler struct {
	pool     TxBeginner
	newStore NewSaleStore
}

// NewSaleReconciler creates a new SaleReconciler.
func NewSaleReconciler(pool TxBeginner, newStore NewSaleStore) *SaleReconciler {
	return &SaleReconciler{pool: pool, newStore: newStore}
}

type lineKey struct {
	kind   enum.LineItemKind
	itemID uuid.UUID
}

// desiredLine is a line item priced from the catalog at call time.
type desiredLine struct {
	kind      enum.LineItemKind
	itemID    uuid.UUID
	name      string
	quantity  int32
	unitPrice decimal.Decimal
	staffID   pgtype.UUID
}

func (d desiredLine) key() lineKey { return lineKey{kind: d.kind, itemID: d.itemID} }

func (d desiredLine) subtotal() decimal.Decimal {
	return d.unitPrice.Mul(decimal.NewFromInt32(d.quantity))
}

func (d desiredLine) params(saleID uuid.UUID) database.UpsertSaleItemParams {
	return database.UpsertSaleItemParams{
		SaleID:    saleID,
		Kind:      string(d.kind),
		ItemID:    d.itemID,
		Name:      d.name,
		Quantity:  d.quantity,
		UnitPrice: decimalToNumeric(d.unitPrice),
		Discount:  decimalToNumeric(decimal.Zero),
		Subtotal:  decimalToNumeric(d.subtotal()),
		StaffID:   d.staffID,
	}
}

// Start looks up or creates the sale for an appointment and reconciles its
// line items against the desired extras and products. Repeating a call with
// the same input writes nothing. A paid sale is returned as is.
func (r *SaleReconciler) Start(ctx context.Context, in StartInput) (*SaleSummary, error) {
	if in.AppointmentID == uuid.Nil {
		return nil, invalid("appointmentId", "is required")
	}
	for i, p := range in.Products {
		if p.Quantity <= 0 {
			return nil, invalid(fmt.Sprintf("products[%d].quantity", i), "must be > 0")
		}
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := r.newStore(tx)

	appt, err := store.GetAppointmentForUpdate(ctx, in.AppointmentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound("appointment", in.AppointmentID)
		}
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	if enum.AppointmentStatus(appt.Status) == enum.AppointmentStatusCancelled {
		return nil, ErrAppointmentClosed
	}

	sale, err := findOrCreateSale(ctx, store, appt, in.SessionID)
	if err != nil {
		return nil, err
	}

	if enum.SaleStatus(sale.Status) == enum.SaleStatusPaid {
		items, err := store.ListSaleItems(ctx, sale.ID)
		if err != nil {
			return nil, fmt.Errorf("list sale items: %w", err)
		}
		return summarize(sale, items), nil
	}

	if !appt.SaleID.Valid || appt.SaleID.Bytes != sale.ID {
		if _, err := store.LinkAppointmentSale(ctx, database.LinkAppointmentSaleParams{
			ID:     appt.ID,
			SaleID: pgUUID(sale.ID),
		}); err != nil {
			return nil, fmt.Errorf("link appointment: %w", err)
		}
	}

	desired, err := desiredLines(ctx, store, appt, in.Extras, in.Products)
	if err != nil {
		return nil, err
	}

	items, err := reconcileItems(ctx, store, sale.ID, desired)
	if err != nil {
		return nil, err
	}

	sale, err = updateTotals(ctx, store, sale, items)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return summarize(sale, items), nil
}

// findOrCreateSale resolves the sale for an appointment: its linked sale
// first, then the sale opened for the same (appointment, session) pair, and
// finally a new open sale.
func findOrCreateSale(ctx context.Context, store SaleStore, appt database.Appointment, sessionID uuid.UUID) (database.Sale, error) {
	if appt.SaleID.Valid {
		sale, err := store.GetSale(ctx, appt.SaleID.Bytes)
		if err == nil {
			return sale, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return database.Sale{}, fmt.Errorf("get linked sale: %w", err)
		}
	}

	sale, err := store.FindSaleByAppointmentSession(ctx, database.FindSaleByAppointmentSessionParams{
		AppointmentID: pgUUID(appt.ID),
		SessionID:     pgUUID(sessionID),
	})
	if err == nil {
		return sale, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return database.Sale{}, fmt.Errorf("find sale: %w", err)
	}

	sale, err = store.CreateSale(ctx, database.CreateSaleParams{
		AppointmentID: pgUUID(appt.ID),
		SessionID:     pgUUID(sessionID),
		ClientID:      appt.ClientID,
		StaffID:       appt.StaffID,
		Status:        string(enum.SaleStatusOpen),
	})
	if err != nil {
		return database.Sale{}, fmt.Errorf("create sale: %w", err)
	}
	return sale, nil
}

// desiredLines prices the principal service, each distinct extra and each
// product from the catalog.
func desiredLines(ctx context.Context, store SaleStore, appt database.Appointment, extras []uuid.UUID, products []ProductQuantity) ([]desiredLine, error) {
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

	seen := make(map[lineKey]int)
	for _, id := range extras {
		k := lineKey{kind: enum.LineItemKindExtraService, itemID: id}
		if _, dup := seen[k]; dup {
			continue
		}
		svc, err := servicePrice(ctx, store, id)
		if err != nil {
			return nil, err
		}
		seen[k] = len(lines)
		lines = append(lines, desiredLine{
			kind:      enum.LineItemKindExtraService,
			itemID:    svc.ID,
			name:      svc.Name,
			quantity:  1,
			unitPrice: numericToDecimal(svc.Price),
			staffID:   appt.StaffID,
		})
	}

	for _, p := range products {
		k := lineKey{kind: enum.LineItemKindProduct, itemID: p.ID}
		if idx, dup := seen[k]; dup {
			lines[idx].quantity += p.Quantity
			continue
		}
		prod, err := store.GetProduct(ctx, p.ID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, notFound("product", p.ID)
			}
			return nil, fmt.Errorf("get product: %w", err)
		}
		seen[k] = len(lines)
		lines = append(lines, desiredLine{
			kind:      enum.LineItemKindProduct,
			itemID:    prod.ID,
			name:      prod.Name,
			quantity:  p.Quantity,
			unitPrice: numericToDecimal(prod.Price),
			staffID:   appt.StaffID,
		})
	}
	return lines, nil
}

func servicePrice(ctx context.Context, store SaleStore, id uuid.UUID) (database.Service, error) {
	svc, err := store.GetService(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return database.Service{}, notFound("service", id)
		}
		return database.Service{}, fmt.Errorf("get service: %w", err)
	}
	return svc, nil
}

// reconcileItems diffs the desired lines against the stored ones. Unchanged
// lines are left alone, changed or missing ones are upserted, and extra or
// product lines that are no longer wanted are deleted. Principal service
// lines are never deleted. It returns the resulting item set.
func reconcileItems(ctx context.Context, store SaleStore, saleID uuid.UUID, desired []desiredLine) ([]database.SaleItem, error) {
	existing, err := store.ListSaleItems(ctx, saleID)
	if err != nil {
		return nil, fmt.Errorf("list sale items: %w", err)
	}
	current := make(map[lineKey]database.SaleItem, len(existing))
	for _, it := range existing {
		current[lineKey{kind: enum.LineItemKind(it.Kind), itemID: it.ItemID}] = it
	}

	wanted := make(map[lineKey]bool, len(desired))
	items := make([]database.SaleItem, 0, len(desired))
	for _, d := range desired {
		wanted[d.key()] = true
		if cur, ok := current[d.key()]; ok && lineMatches(cur, d) {
			items = append(items, cur)
			continue
		}
		item, err := store.UpsertSaleItem(ctx, d.params(saleID))
		if err != nil {
			return nil, fmt.Errorf("upsert %s %s: %w", d.kind, d.itemID, err)
		}
		items = append(items, item)
	}

	for _, it := range existing {
		k := lineKey{kind: enum.LineItemKind(it.Kind), itemID: it.ItemID}
		if wanted[k] {
			continue
		}
		if !k.kind.Removable() {
			items = append(items, it)
			continue
		}
		if err := store.DeleteSaleItem(ctx, database.DeleteSaleItemParams{ID: it.ID, SaleID: saleID}); err != nil {
			return nil, fmt.Errorf("delete %s %s: %w", it.Kind, it.ItemID, err)
		}
	}
	return items, nil
}

func lineMatches(cur database.SaleItem, d desiredLine) bool {
	return cur.Name == d.name &&
		cur.Quantity == d.quantity &&
		numericToDecimal(cur.UnitPrice).Equal(d.unitPrice) &&
		numericToDecimal(cur.Subtotal).Equal(d.subtotal()) &&
		cur.StaffID == d.staffID
}

// saleTotal applies total = subtotal + tip - discount, floored at zero.
func saleTotal(subtotal, tip, discount decimal.Decimal) decimal.Decimal {
	total := subtotal.Add(tip).Sub(discount)
	if total.IsNegative() {
		return decimal.Zero
	}
	return total
}

func itemsSubtotal(items []database.SaleItem) decimal.Decimal {
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(numericToDecimal(it.Subtotal))
	}
	return sum
}

// updateTotals persists subtotal and total when they drifted from the items.
func updateTotals(ctx context.Context, store SaleStore, sale database.Sale, items []database.SaleItem) (database.Sale, error) {
	subtotal := itemsSubtotal(items)
	total := saleTotal(subtotal, numericToDecimal(sale.TipAmount), numericToDecimal(sale.Discount))
	if sale.Subtotal.Valid && numericToDecimal(sale.Subtotal).Equal(subtotal) &&
		sale.Total.Valid && numericToDecimal(sale.Total).Equal(total) {
		return sale, nil
	}
	updated, err := store.UpdateSaleTotals(ctx, database.UpdateSaleTotalsParams{
		ID:       sale.ID,
		Subtotal: decimalToNumeric(subtotal),
		Total:    decimalToNumeric(total),
	})
	if err != nil {
		return database.Sale{}, fmt.Errorf("update sale totals: %w", err)
	}
	return updated, nil
}

func summarize(sale database.Sale, items []database.SaleItem) *SaleSummary {
	sum := &SaleSummary{
		SaleID:        sale.ID,
		SessionID:     optUUID(sale.SessionID),
		Status:        enum.SaleStatus(sale.Status),
		ExtraServices: []LineSummary{},
		Products:      []LineSummary{},
		Subtotal:      itemsSubtotal(items),
		Discount:      numericToDecimal(sale.Discount),
		Tip:           numericToDecimal(sale.TipAmount),
	}
	sum.Total = saleTotal(sum.Subtotal, sum.Tip, sum.Discount)

	for _, it := range items {
		line := LineSummary{
			ID:        it.ItemID,
			Name:      it.Name,
			Quantity:  it.Quantity,
			UnitPrice: numericToDecimal(it.UnitPrice),
			Subtotal:  numericToDecimal(it.Subtotal),
		}
		switch enum.LineItemKind(it.Kind) {
		case enum.LineItemKindPrincipalService:
			if sum.PrincipalService == nil {
				sum.PrincipalService = &line
			}
		case enum.LineItemKindExtraService:
			sum.ExtraServices = append(sum.ExtraServices, line)
		case enum.LineItemKindProduct:
			sum.Products = append(sum.Products, line)
		}
	}
	return sum
}
