package ledger

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

const (
	categoryServices    = "services"
	categoryProducts    = "products"
	categoryTips        = "tips"
	categoryCommissions = "commissions"

	receivableReceived = "received"
	payablePending     = "pending"
)

var hundred = decimal.NewFromInt(100)

// plannedEntry is a financial record to write, keyed by its sub-reference.
type plannedEntry struct {
	subRef          string
	transactionType enum.TransactionType
	amount          decimal.Decimal
	record          database.CreateFinancialRecordParams
	commission      *commissionMirror
}

// commissionMirror carries what the staff-facing commission row needs.
type commissionMirror struct {
	staffID uuid.UUID
	kind    string
	itemID  string
	rate    decimal.Decimal
}

// plan derives every entry of the fan-out. Rule lookups that fail are
// returned as errors next to the entries that could still be planned.
func (e *Engine) plan(ctx context.Context, in SaleInput) ([]plannedEntry, []error) {
	store := e.newStore(e.db)
	var (
		entries []plannedEntry
		errs    []error
	)

	for _, it := range in.Items {
		entries = append(entries, e.revenueEntry(in, it))

		c, err := e.itemCommission(ctx, store, in, it)
		if err != nil {
			errs = append(errs, fmt.Errorf("commission %s %s: %w", it.Type, it.ID, err))
			continue
		}
		if c != nil {
			entries = append(entries, *c)
		}
	}

	if in.TipAmount.IsPositive() {
		entries = append(entries, e.tipRevenueEntry(in))
		if in.StaffID != nil && *in.StaffID != uuid.Nil {
			entries = append(entries, e.tipCommissionEntry(in))
		}
	}
	return entries, errs
}

func itemNet(it Item) (gross, net decimal.Decimal) {
	gross = it.Price.Mul(decimal.NewFromInt32(it.Quantity))
	net = gross.Sub(it.Discount)
	if net.IsNegative() {
		net = decimal.Zero
	}
	return gross, net
}

func itemSubcategory(it Item) string {
	switch {
	case it.Type == ItemTypeProduct:
		return string(enum.LineItemKindProduct)
	case it.IsExtra:
		return string(enum.LineItemKindExtraService)
	default:
		return "service"
	}
}

// lineKind is the sale line kind used in staff commission keys.
func lineKind(it Item) string {
	switch {
	case it.Type == ItemTypeProduct:
		return string(enum.LineItemKindProduct)
	case it.IsExtra:
		return string(enum.LineItemKindExtraService)
	default:
		return string(enum.LineItemKindPrincipalService)
	}
}

func (e *Engine) itemStaff(in SaleInput, it Item) *uuid.UUID {
	if it.StaffID != nil && *it.StaffID != uuid.Nil {
		return it.StaffID
	}
	if in.StaffID != nil && *in.StaffID != uuid.Nil {
		return in.StaffID
	}
	return nil
}

func (e *Engine) baseRecord(in SaleInput) database.CreateFinancialRecordParams {
	return database.CreateFinancialRecordParams{
		TransactionDate: pgDate(in.TransactionDate),
		ClientID:        pgUUIDPtr(in.ClientID),
		PaymentMethod:   pgtype.Text{String: in.PaymentMethod, Valid: in.PaymentMethod != ""},
		ReferenceID:     in.ReferenceID,
		ReferenceType:   in.ReferenceType,
	}
}

func (e *Engine) notes(in SaleInput, subRef string) string {
	if in.TransactionID == "" {
		return refMarker(subRef)
	}
	return fmt.Sprintf("transaction %s %s", in.TransactionID, refMarker(subRef))
}

func (e *Engine) revenueEntry(in SaleInput, it Item) plannedEntry {
	sub := itemSubcategory(it)
	subRef := fmt.Sprintf("revenue:%s:%s:%s", it.Type, it.ID, sub)
	gross, net := itemNet(it)

	category := categoryServices
	if it.Type == ItemTypeProduct {
		category = categoryProducts
	}

	rec := e.baseRecord(in)
	rec.TransactionType = string(enum.TransactionTypeRevenue)
	rec.Category = category
	rec.Subcategory = sub
	rec.Description = revenueDescription(it)
	rec.GrossAmount = decimalToNumeric(gross)
	rec.NetAmount = decimalToNumeric(net)
	rec.Status = string(enum.RecordStatusCompleted)
	rec.PaymentDate = pgtype.Timestamptz{Time: e.now(), Valid: true}
	rec.StaffID = pgUUIDPtr(e.itemStaff(in, it))
	rec.Notes = e.notes(in, subRef)

	return plannedEntry{
		subRef:          subRef,
		transactionType: enum.TransactionTypeRevenue,
		amount:          net,
		record:          rec,
	}
}

func revenueDescription(it Item) string {
	if it.Quantity > 1 {
		return fmt.Sprintf("%s x%d", it.Name, it.Quantity)
	}
	return it.Name
}

// itemCommission applies the commission rule for one line. It returns nil
// when the line carries no commission.
func (e *Engine) itemCommission(ctx context.Context, store Store, in SaleInput, it Item) (*plannedEntry, error) {
	staff := e.itemStaff(in, it)
	if staff == nil {
		return nil, nil
	}
	_, net := itemNet(it)

	var amount, rate decimal.Decimal
	var sub string
	switch it.Type {
	case ItemTypeService:
		r, err := e.staffRate(ctx, store, *staff)
		if err != nil {
			return nil, err
		}
		rate = r
		amount = net.Mul(rate).Div(hundred).Round(2)
		sub = "service_commission"
		if it.IsExtra {
			sub = "extra_service_commission"
		}
	case ItemTypeProduct:
		a, r, err := productCommission(ctx, store, it, net)
		if err != nil {
			return nil, err
		}
		amount, rate = a, r
		sub = "product_commission"
	}
	if !amount.IsPositive() {
		return nil, nil
	}

	subRef := fmt.Sprintf("commission:%s:%s:%s", it.Type, it.ID, sub)
	rec := e.commissionRecord(in, *staff, amount, sub, fmt.Sprintf("Commission %s (%s%%)", it.Name, rate.StringFixed(2)), subRef)
	return &plannedEntry{
		subRef:          subRef,
		transactionType: enum.TransactionTypeCommission,
		amount:          amount,
		record:          rec,
		commission: &commissionMirror{
			staffID: *staff,
			kind:    lineKind(it),
			itemID:  it.ID.String(),
			rate:    rate,
		},
	}, nil
}

// staffRate returns the staff commission percentage, or the configured
// default when the staff row has none.
func (e *Engine) staffRate(ctx context.Context, store Store, staffID uuid.UUID) (decimal.Decimal, error) {
	staff, err := store.GetStaff(ctx, staffID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, fmt.Errorf("staff %s not found", staffID)
		}
		return decimal.Zero, fmt.Errorf("get staff: %w", err)
	}
	if staff.CommissionRate.Valid {
		return numericToDecimal(staff.CommissionRate), nil
	}
	if e.opts.RequireCommissionRate {
		return decimal.Zero, fmt.Errorf("staff %s: %w", staffID, ErrCommissionRateMissing)
	}
	return e.opts.DefaultCommissionRate, nil
}

// productCommission prefers the flat per-unit value and falls back to a
// percentage of the net amount. The returned rate is the effective percentage.
func productCommission(ctx context.Context, store Store, it Item, net decimal.Decimal) (amount, rate decimal.Decimal, err error) {
	prod, err := store.GetProduct(ctx, it.ID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, decimal.Zero, nil
		}
		return decimal.Zero, decimal.Zero, fmt.Errorf("get product: %w", err)
	}

	if flat := numericToDecimal(prod.CommissionValue); flat.IsPositive() {
		amount = flat.Mul(decimal.NewFromInt32(it.Quantity))
		if net.IsPositive() {
			rate = amount.Div(net).Mul(hundred).Round(2)
		}
		return amount, rate, nil
	}
	if pct := numericToDecimal(prod.CommissionPercentage); pct.IsPositive() {
		return net.Mul(pct).Div(hundred).Round(2), pct, nil
	}
	return decimal.Zero, decimal.Zero, nil
}

func (e *Engine) commissionRecord(in SaleInput, staffID uuid.UUID, amount decimal.Decimal, sub, description, subRef string) database.CreateFinancialRecordParams {
	rec := e.baseRecord(in)
	rec.TransactionType = string(enum.TransactionTypeCommission)
	rec.Category = categoryCommissions
	rec.Subcategory = sub
	rec.Description = description
	rec.GrossAmount = decimalToNumeric(amount)
	rec.NetAmount = decimalToNumeric(amount)
	rec.Status = string(enum.RecordStatusPending)
	rec.DueDate = pgDate(in.TransactionDate)
	rec.StaffID = pgtype.UUID{Bytes: staffID, Valid: true}
	rec.Notes = e.notes(in, subRef)
	return rec
}

func (e *Engine) tipRevenueEntry(in SaleInput) plannedEntry {
	const subRef = "revenue:tip:received"
	rec := e.baseRecord(in)
	rec.TransactionType = string(enum.TransactionTypeRevenue)
	rec.Category = categoryTips
	rec.Subcategory = "tip"
	rec.Description = "Tip"
	rec.GrossAmount = decimalToNumeric(in.TipAmount)
	rec.NetAmount = decimalToNumeric(in.TipAmount)
	rec.Status = string(enum.RecordStatusCompleted)
	rec.PaymentDate = pgtype.Timestamptz{Time: e.now(), Valid: true}
	rec.StaffID = pgUUIDPtr(in.StaffID)
	rec.Notes = e.notes(in, subRef)
	return plannedEntry{
		subRef:          subRef,
		transactionType: enum.TransactionTypeRevenue,
		amount:          in.TipAmount,
		record:          rec,
	}
}

// tipCommissionEntry pays the whole tip to the attending staff member.
func (e *Engine) tipCommissionEntry(in SaleInput) plannedEntry {
	staffID := *in.StaffID
	subRef := fmt.Sprintf("commission:tip:%s:tip_commission", staffID)
	return plannedEntry{
		subRef:          subRef,
		transactionType: enum.TransactionTypeCommission,
		amount:          in.TipAmount,
		record:          e.commissionRecord(in, staffID, in.TipAmount, "tip_commission", "Tip payout (100%)", subRef),
		commission: &commissionMirror{
			staffID: staffID,
			kind:    "tip",
			itemID:  staffID.String(),
			rate:    hundred,
		},
	}
}
