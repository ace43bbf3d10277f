package service

import (
	"context"
	"errors"
	"testing"

	"github.com/barberhub/totem-api/internal/database"
	"github.com/barberhub/totem-api/internal/enum"
	"github.com/google/uuid"
)

func linesByKind(items []database.SaleItem) map[string][]string {
	out := map[string][]string{}
	for _, it := range items {
		out[it.Kind] = append(out[it.Kind], it.Name)
	}
	return out
}

// =====================
// Happy path
// =====================

func TestStart_WorkedExample(t *testing.T) {
	s := newShop()
	r, tx := s.reconciler()

	sum, err := r.Start(context.Background(), s.startInput(
		[]uuid.UUID{s.beardTrim},
		ProductQuantity{ID: s.pomade, Quantity: 2},
	))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !sum.Subtotal.Equal(dec("120")) || !sum.Total.Equal(dec("120")) {
		t.Errorf("summary: got subtotal=%s total=%s, want 120/120", sum.Subtotal, sum.Total)
	}
	if sum.PrincipalService == nil || sum.PrincipalService.Name != "Haircut" || !sum.PrincipalService.UnitPrice.Equal(dec("50")) {
		t.Errorf("principal: got %+v", sum.PrincipalService)
	}
	if len(sum.ExtraServices) != 1 || sum.ExtraServices[0].Name != "Beard Trim" {
		t.Errorf("extras: got %+v", sum.ExtraServices)
	}
	if len(sum.Products) != 1 || sum.Products[0].Quantity != 2 || !sum.Products[0].Subtotal.Equal(dec("40")) {
		t.Errorf("products: got %+v", sum.Products)
	}
	if sum.Status != enum.SaleStatusOpen {
		t.Errorf("status: got %s, want open", sum.Status)
	}
	if tx.committed != 1 {
		t.Errorf("commits: got %d, want 1", tx.committed)
	}

	sale := s.store.sales[sum.SaleID]
	if !numericEquals(sale.Subtotal, "120") || !numericEquals(sale.Total, "120") {
		t.Errorf("persisted totals: subtotal=%v total=%v", sale.Subtotal, sale.Total)
	}
	appt := s.store.appointments[s.appointmentID]
	if !appt.SaleID.Valid || appt.SaleID.Bytes != sum.SaleID {
		t.Error("appointment not linked to the sale")
	}
}

func TestStart_Idempotent(t *testing.T) {
	s := newShop()
	r, _ := s.reconciler()
	in := s.startInput([]uuid.UUID{s.beardTrim}, ProductQuantity{ID: s.pomade, Quantity: 2})

	first, err := r.Start(context.Background(), in)
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	upserts := s.store.upsertCalls

	second, err := r.Start(context.Background(), in)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}

	if second.SaleID != first.SaleID {
		t.Error("second call opened a different sale")
	}
	if s.store.createSaleCalls != 1 {
		t.Errorf("sales created: got %d, want 1", s.store.createSaleCalls)
	}
	if s.store.upsertCalls != upserts {
		t.Errorf("second call wrote %d unchanged lines", s.store.upsertCalls-upserts)
	}
	if s.store.deleteCalls != 0 {
		t.Errorf("deletes: got %d, want 0", s.store.deleteCalls)
	}
	if !second.Total.Equal(first.Total) {
		t.Errorf("total changed: %s -> %s", first.Total, second.Total)
	}
	if n := len(s.store.saleItems(first.SaleID)); n != 3 {
		t.Errorf("line items: got %d, want 3", n)
	}
}

func TestStart_DuplicateExtrasCollapse(t *testing.T) {
	s := newShop()
	r, _ := s.reconciler()

	sum, err := r.Start(context.Background(), s.startInput([]uuid.UUID{s.beardTrim, s.beardTrim}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sum.ExtraServices) != 1 {
		t.Errorf("extras: got %d, want 1", len(sum.ExtraServices))
	}
	if !sum.Total.Equal(dec("80")) {
		t.Errorf("total: got %s, want 80", sum.Total)
	}
}

// =====================
// Reconciliation diff
// =====================

func TestStart_ReplacesExtraKeepsProduct(t *testing.T) {
	s := newShop()
	r, _ := s.reconciler()

	first, err := r.Start(context.Background(), s.startInput(
		[]uuid.UUID{s.beardTrim},
		ProductQuantity{ID: s.pomade, Quantity: 1},
	))
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	var pomadeLine uuid.UUID
	for _, it := range s.store.saleItems(first.SaleID) {
		if it.Kind == string(enum.LineItemKindProduct) {
			pomadeLine = it.ID
		}
	}
	upserts := s.store.upsertCalls

	sum, err := r.Start(context.Background(), s.startInput(
		[]uuid.UUID{s.mustacheWax},
		ProductQuantity{ID: s.pomade, Quantity: 1},
	))
	if err != nil {
		t.Fatalf("second call: %v", err)
	}

	got := linesByKind(s.store.saleItems(first.SaleID))
	if len(got["principal_service"]) != 1 || got["principal_service"][0] != "Haircut" {
		t.Errorf("principal: got %v", got["principal_service"])
	}
	if len(got["extra_service"]) != 1 || got["extra_service"][0] != "Mustache Wax" {
		t.Errorf("extras: got %v, want [Mustache Wax]", got["extra_service"])
	}
	if len(got["product"]) != 1 {
		t.Errorf("products: got %v", got["product"])
	}
	for _, it := range s.store.saleItems(first.SaleID) {
		if it.Kind == string(enum.LineItemKindProduct) && it.ID != pomadeLine {
			t.Error("unchanged product line was re-inserted")
		}
	}
	if s.store.upsertCalls-upserts != 1 {
		t.Errorf("upserts: got %d, want 1 (the new extra)", s.store.upsertCalls-upserts)
	}
	if s.store.deleteCalls != 1 {
		t.Errorf("deletes: got %d, want 1", s.store.deleteCalls)
	}
	if !sum.Total.Equal(dec("85")) {
		t.Errorf("total: got %s, want 85", sum.Total)
	}
}

func TestStart_QuantityChangeUpdatesLine(t *testing.T) {
	s := newShop()
	r, _ := s.reconciler()

	if _, err := r.Start(context.Background(), s.startInput(nil, ProductQuantity{ID: s.pomade, Quantity: 1})); err != nil {
		t.Fatalf("first call: %v", err)
	}
	sum, err := r.Start(context.Background(), s.startInput(nil, ProductQuantity{ID: s.pomade, Quantity: 3}))
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if len(sum.Products) != 1 || sum.Products[0].Quantity != 3 || !sum.Products[0].Subtotal.Equal(dec("60")) {
		t.Errorf("products: got %+v", sum.Products)
	}
	if !sum.Total.Equal(dec("110")) {
		t.Errorf("total: got %s, want 110", sum.Total)
	}
}

func TestStart_RemovingEverythingKeepsPrincipal(t *testing.T) {
	s := newShop()
	r, _ := s.reconciler()

	first, err := r.Start(context.Background(), s.startInput([]uuid.UUID{s.beardTrim}, ProductQuantity{ID: s.pomade, Quantity: 2}))
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	sum, err := r.Start(context.Background(), s.startInput(nil))
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	items := s.store.saleItems(first.SaleID)
	if len(items) != 1 || items[0].Kind != string(enum.LineItemKindPrincipalService) {
		t.Errorf("items: got %v, want principal only", linesByKind(items))
	}
	if !sum.Total.Equal(dec("50")) {
		t.Errorf("total: got %s, want 50", sum.Total)
	}
}

func TestStart_TotalAppliesDiscount(t *testing.T) {
	s := newShop()
	r, _ := s.reconciler()

	first, err := r.Start(context.Background(), s.startInput(nil))
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	sale := s.store.sales[first.SaleID]
	sale.Discount = makeNumeric("10")
	s.store.sales[first.SaleID] = sale

	sum, err := r.Start(context.Background(), s.startInput([]uuid.UUID{s.beardTrim}))
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if !sum.Subtotal.Equal(dec("80")) || !sum.Discount.Equal(dec("10")) || !sum.Total.Equal(dec("70")) {
		t.Errorf("summary: subtotal=%s discount=%s total=%s, want 80/10/70", sum.Subtotal, sum.Discount, sum.Total)
	}
	if !numericEquals(s.store.sales[first.SaleID].Total, "70") {
		t.Errorf("persisted total: %v", s.store.sales[first.SaleID].Total)
	}
}

// =====================
// Paid sales
// =====================

func TestStart_PaidSaleIsNoOp(t *testing.T) {
	s := newShop()
	r, tx := s.reconciler()

	first, err := r.Start(context.Background(), s.startInput([]uuid.UUID{s.beardTrim}))
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	sale := s.store.sales[first.SaleID]
	sale.Status = string(enum.SaleStatusPaid)
	s.store.sales[first.SaleID] = sale
	upserts, commits := s.store.upsertCalls, tx.committed

	sum, err := r.Start(context.Background(), s.startInput([]uuid.UUID{s.mustacheWax}, ProductQuantity{ID: s.pomade, Quantity: 1}))
	if err != nil {
		t.Fatalf("paid call: %v", err)
	}
	if sum.Status != enum.SaleStatusPaid {
		t.Errorf("status: got %s, want paid", sum.Status)
	}
	if s.store.upsertCalls != upserts || s.store.deleteCalls != 0 {
		t.Error("paid sale was mutated")
	}
	if tx.committed != commits {
		t.Error("paid short-circuit should not commit")
	}
	if len(sum.ExtraServices) != 1 || sum.ExtraServices[0].Name != "Beard Trim" {
		t.Errorf("extras: got %+v, want the stored Beard Trim", sum.ExtraServices)
	}
}

// =====================
// Errors
// =====================

func TestStart_AppointmentNotFound(t *testing.T) {
	s := newShop()
	r, _ := s.reconciler()

	in := s.startInput(nil)
	in.AppointmentID = uuid.New()
	_, err := r.Start(context.Background(), in)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStart_UnknownProduct(t *testing.T) {
	s := newShop()
	r, _ := s.reconciler()

	_, err := r.Start(context.Background(), s.startInput(nil, ProductQuantity{ID: uuid.New(), Quantity: 1}))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStart_UnknownExtra(t *testing.T) {
	s := newShop()
	r, _ := s.reconciler()

	_, err := r.Start(context.Background(), s.startInput([]uuid.UUID{uuid.New()}))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStart_InvalidQuantity(t *testing.T) {
	s := newShop()
	r, _ := s.reconciler()

	_, err := r.Start(context.Background(), s.startInput(nil, ProductQuantity{ID: s.pomade, Quantity: 0}))
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if verr.Field != "products[0].quantity" {
		t.Errorf("field: got %s", verr.Field)
	}
}

func TestStart_CancelledAppointment(t *testing.T) {
	s := newShop()
	appt := s.store.appointments[s.appointmentID]
	appt.Status = string(enum.AppointmentStatusCancelled)
	s.store.appointments[s.appointmentID] = appt
	r, _ := s.reconciler()

	_, err := r.Start(context.Background(), s.startInput(nil))
	if !errors.Is(err, ErrAppointmentClosed) {
		t.Errorf("expected ErrAppointmentClosed, got %v", err)
	}
}

func TestStart_BeginError(t *testing.T) {
	s := newShop()
	r := NewSaleReconciler(&mockTxBeginner{err: errBoom}, func(db database.DBTX) SaleStore { return s.store })

	_, err := r.Start(context.Background(), s.startInput(nil))
	if !errors.Is(err, errBoom) {
		t.Errorf("expected begin error, got %v", err)
	}
}

func TestStart_CatalogError(t *testing.T) {
	s := newShop()
	s.store.getServiceErr = errBoom
	r, _ := s.reconciler()

	_, err := r.Start(context.Background(), s.startInput(nil))
	if !errors.Is(err, errBoom) || errors.Is(err, ErrNotFound) {
		t.Errorf("expected wrapped catalog error, got %v", err)
	}
}
