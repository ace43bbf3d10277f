package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/barberhub/totem-api/internal/accounting/ledger"
	"github.com/barberhub/totem-api/internal/database"
	"github.com/barberhub/totem-api/internal/events"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// --- Mock implementations ---

// mockTx implements pgx.Tx with only the methods we need.
// The unused methods panic so we catch accidental calls.
type mockTx struct {
	commitErr error
	committed int
}

func (m *mockTx) Begin(ctx context.Context) (pgx.Tx, error) { panic("not implemented") }
func (m *mockTx) Commit(ctx context.Context) error {
	if m.commitErr == nil {
		m.committed++
	}
	return m.commitErr
}
func (m *mockTx) Rollback(ctx context.Context) error { return nil }
func (m *mockTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}
func (m *mockTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}
func (m *mockTx) LargeObjects() pgx.LargeObjects { panic("not implemented") }
func (m *mockTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}
func (m *mockTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}
func (m *mockTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	panic("not implemented")
}
func (m *mockTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	panic("not implemented")
}
func (m *mockTx) Conn() *pgx.Conn { panic("not implemented") }

// mockTxBeginner implements TxBeginner.
type mockTxBeginner struct {
	tx  pgx.Tx
	err error
}

func (m *mockTxBeginner) Begin(ctx context.Context) (pgx.Tx, error) {
	return m.tx, m.err
}

// fakeStore is an in-memory CheckoutStore. Writes are not rolled back, which
// is fine for these tests because failures are injected before any write.
type fakeStore struct {
	mu           sync.Mutex
	appointments map[uuid.UUID]database.Appointment
	sales        map[uuid.UUID]database.Sale
	items        map[uuid.UUID][]database.SaleItem
	services     map[uuid.UUID]database.Service
	products     map[uuid.UUID]database.Product
	sessions     map[uuid.UUID]database.TotemSession

	createSaleCalls int
	upsertCalls     int
	deleteCalls     int
	markPaidCalls   int

	getServiceErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		appointments: map[uuid.UUID]database.Appointment{},
		sales:        map[uuid.UUID]database.Sale{},
		items:        map[uuid.UUID][]database.SaleItem{},
		services:     map[uuid.UUID]database.Service{},
		products:     map[uuid.UUID]database.Product{},
		sessions:     map[uuid.UUID]database.TotemSession{},
	}
}

func (f *fakeStore) GetAppointmentForUpdate(ctx context.Context, id uuid.UUID) (database.Appointment, error) {
	return f.GetAppointment(ctx, id)
}

func (f *fakeStore) GetAppointment(ctx context.Context, id uuid.UUID) (database.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.appointments[id]
	if !ok {
		return database.Appointment{}, pgx.ErrNoRows
	}
	return a, nil
}

func (f *fakeStore) LinkAppointmentSale(ctx context.Context, arg database.LinkAppointmentSaleParams) (database.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.appointments[arg.ID]
	if !ok {
		return database.Appointment{}, pgx.ErrNoRows
	}
	a.SaleID = arg.SaleID
	f.appointments[arg.ID] = a
	return a, nil
}

func (f *fakeStore) UpdateAppointmentStatus(ctx context.Context, arg database.UpdateAppointmentStatusParams) (database.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.appointments[arg.ID]
	if !ok {
		return database.Appointment{}, pgx.ErrNoRows
	}
	a.Status = arg.Status
	f.appointments[arg.ID] = a
	return a, nil
}

func (f *fakeStore) GetSale(ctx context.Context, id uuid.UUID) (database.Sale, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sales[id]
	if !ok {
		return database.Sale{}, pgx.ErrNoRows
	}
	return s, nil
}

func (f *fakeStore) GetSaleForUpdate(ctx context.Context, id uuid.UUID) (database.Sale, error) {
	return f.GetSale(ctx, id)
}

func (f *fakeStore) FindSaleByAppointmentSession(ctx context.Context, arg database.FindSaleByAppointmentSessionParams) (database.Sale, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sales {
		if s.AppointmentID == arg.AppointmentID && s.SessionID == arg.SessionID {
			return s, nil
		}
	}
	return database.Sale{}, pgx.ErrNoRows
}

func (f *fakeStore) CreateSale(ctx context.Context, arg database.CreateSaleParams) (database.Sale, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createSaleCalls++
	s := database.Sale{
		ID:            uuid.New(),
		AppointmentID: arg.AppointmentID,
		SessionID:     arg.SessionID,
		ClientID:      arg.ClientID,
		StaffID:       arg.StaffID,
		Status:        arg.Status,
		Subtotal:      makeNumeric("0"),
		Discount:      makeNumeric("0"),
		TipAmount:     makeNumeric("0"),
		Total:         makeNumeric("0"),
	}
	f.sales[s.ID] = s
	return s, nil
}

func (f *fakeStore) UpdateSaleTotals(ctx context.Context, arg database.UpdateSaleTotalsParams) (database.Sale, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sales[arg.ID]
	if !ok || s.Status == "paid" {
		return database.Sale{}, pgx.ErrNoRows
	}
	s.Subtotal, s.Total = arg.Subtotal, arg.Total
	f.sales[arg.ID] = s
	return s, nil
}

func (f *fakeStore) MarkSalePaid(ctx context.Context, arg database.MarkSalePaidParams) (database.Sale, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markPaidCalls++
	s, ok := f.sales[arg.ID]
	if !ok || s.Status == "paid" {
		return database.Sale{}, pgx.ErrNoRows
	}
	s.Status = "paid"
	s.TipAmount = arg.TipAmount
	s.Total = arg.Total
	s.PaymentMethod = arg.PaymentMethod
	s.Nsu = arg.Nsu
	s.AuthorizationCode = arg.AuthorizationCode
	s.CardBrand = arg.CardBrand
	s.PaidAt = pgtype.Timestamptz{Time: time.Now(), Valid: true}
	f.sales[arg.ID] = s
	return s, nil
}

func (f *fakeStore) RelinkSaleAppointment(ctx context.Context, arg database.RelinkSaleAppointmentParams) (database.Sale, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sales[arg.ID]
	if !ok {
		return database.Sale{}, pgx.ErrNoRows
	}
	s.AppointmentID = arg.AppointmentID
	f.sales[arg.ID] = s
	return s, nil
}

func (f *fakeStore) ListSaleItems(ctx context.Context, saleID uuid.UUID) ([]database.SaleItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]database.SaleItem{}, f.items[saleID]...), nil
}

func (f *fakeStore) UpsertSaleItem(ctx context.Context, arg database.UpsertSaleItemParams) (database.SaleItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upsertCalls++
	items := f.items[arg.SaleID]
	for i, it := range items {
		if it.Kind == arg.Kind && it.ItemID == arg.ItemID {
			it.Name, it.Quantity, it.UnitPrice, it.Discount, it.Subtotal, it.StaffID =
				arg.Name, arg.Quantity, arg.UnitPrice, arg.Discount, arg.Subtotal, arg.StaffID
			items[i] = it
			return it, nil
		}
	}
	it := database.SaleItem{
		ID:        uuid.New(),
		SaleID:    arg.SaleID,
		Kind:      arg.Kind,
		ItemID:    arg.ItemID,
		Name:      arg.Name,
		Quantity:  arg.Quantity,
		UnitPrice: arg.UnitPrice,
		Discount:  arg.Discount,
		Subtotal:  arg.Subtotal,
		StaffID:   arg.StaffID,
	}
	f.items[arg.SaleID] = append(items, it)
	return it, nil
}

func (f *fakeStore) DeleteSaleItem(ctx context.Context, arg database.DeleteSaleItemParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls++
	items := f.items[arg.SaleID]
	for i, it := range items {
		if it.ID == arg.ID && it.Kind != "principal_service" {
			f.items[arg.SaleID] = append(items[:i:i], items[i+1:]...)
			return nil
		}
	}
	return nil
}

func (f *fakeStore) GetService(ctx context.Context, id uuid.UUID) (database.Service, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getServiceErr != nil {
		return database.Service{}, f.getServiceErr
	}
	s, ok := f.services[id]
	if !ok {
		return database.Service{}, pgx.ErrNoRows
	}
	return s, nil
}

func (f *fakeStore) GetProduct(ctx context.Context, id uuid.UUID) (database.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.products[id]
	if !ok {
		return database.Product{}, pgx.ErrNoRows
	}
	return p, nil
}

func (f *fakeStore) CompleteTotemSession(ctx context.Context, id uuid.UUID) (database.TotemSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return database.TotemSession{}, pgx.ErrNoRows
	}
	s.Status = "completed"
	f.sessions[id] = s
	return s, nil
}

func (f *fakeStore) saleItems(saleID uuid.UUID) []database.SaleItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]database.SaleItem{}, f.items[saleID]...)
}

// recordingLedger implements LedgerRecorder.
type recordingLedger struct {
	calls []ledger.SaleInput
	err   error
}

func (r *recordingLedger) RecordSale(ctx context.Context, in ledger.SaleInput) (*ledger.Result, error) {
	r.calls = append(r.calls, in)
	if r.err != nil {
		return &ledger.Result{}, r.err
	}
	return &ledger.Result{}, nil
}

// recordingPublisher implements events.Publisher.
type recordingPublisher struct {
	events []events.Event
}

func (r *recordingPublisher) Publish(ctx context.Context, e events.Event) error {
	r.events = append(r.events, e)
	return nil
}

// --- Test helpers ---

func makeNumeric(val string) pgtype.Numeric {
	var n pgtype.Numeric
	_ = n.Scan(val)
	return n
}

func numericEquals(n pgtype.Numeric, expected string) bool {
	d := numericToDecimal(n)
	exp, _ := decimal.NewFromString(expected)
	return d.Equal(exp)
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// shop is the catalog of the worked example: Haircut 50, Beard Trim 30,
// Mustache Wax 15, Pomade 20, staff Carlos.
type shop struct {
	store                                       *fakeStore
	haircut, beardTrim, mustacheWax             uuid.UUID
	pomade                                      uuid.UUID
	staffID, clientID, appointmentID, sessionID uuid.UUID
}

func newShop() *shop {
	s := &shop{
		store:         newFakeStore(),
		haircut:       uuid.New(),
		beardTrim:     uuid.New(),
		mustacheWax:   uuid.New(),
		pomade:        uuid.New(),
		staffID:       uuid.New(),
		clientID:      uuid.New(),
		appointmentID: uuid.New(),
		sessionID:     uuid.New(),
	}
	s.store.services[s.haircut] = database.Service{ID: s.haircut, Name: "Haircut", Price: makeNumeric("50.00"), IsActive: true}
	s.store.services[s.beardTrim] = database.Service{ID: s.beardTrim, Name: "Beard Trim", Price: makeNumeric("30.00"), IsActive: true}
	s.store.services[s.mustacheWax] = database.Service{ID: s.mustacheWax, Name: "Mustache Wax", Price: makeNumeric("15.00"), IsActive: true}
	s.store.products[s.pomade] = database.Product{ID: s.pomade, Name: "Pomade", Price: makeNumeric("20.00"), IsActive: true}
	s.store.appointments[s.appointmentID] = database.Appointment{
		ID:        s.appointmentID,
		ClientID:  pgtype.UUID{Bytes: s.clientID, Valid: true},
		StaffID:   pgtype.UUID{Bytes: s.staffID, Valid: true},
		ServiceID: s.haircut,
		Status:    "scheduled",
	}
	s.store.sessions[s.sessionID] = database.TotemSession{
		ID:            s.sessionID,
		AppointmentID: pgtype.UUID{Bytes: s.appointmentID, Valid: true},
		Status:        "checkout",
	}
	return s
}

func (s *shop) startInput(extras []uuid.UUID, products ...ProductQuantity) StartInput {
	return StartInput{
		AppointmentID: s.appointmentID,
		SessionID:     s.sessionID,
		Extras:        extras,
		Products:      products,
	}
}

func (s *shop) reconciler() (*SaleReconciler, *mockTx) {
	tx := &mockTx{}
	pool := &mockTxBeginner{tx: tx}
	return NewSaleReconciler(pool, func(db database.DBTX) SaleStore { return s.store }), tx
}

var errBoom = errors.New("boom")
