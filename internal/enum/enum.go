package enum

// ── Group A: State machines (CHECK constrained in DB) ──

type AppointmentStatus string

const (
	AppointmentStatusScheduled AppointmentStatus = "scheduled"
	AppointmentStatusCompleted AppointmentStatus = "completed"
	AppointmentStatusCancelled AppointmentStatus = "cancelled"
)

var appointmentTransitions = map[AppointmentStatus][]AppointmentStatus{
	AppointmentStatusScheduled: {AppointmentStatusCompleted, AppointmentStatusCancelled},
}

func (s AppointmentStatus) Valid() bool {
	switch s {
	case AppointmentStatusScheduled, AppointmentStatusCompleted, AppointmentStatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether s may move to next. Staying put is allowed.
func (s AppointmentStatus) CanTransitionTo(next AppointmentStatus) bool {
	return canTransition(appointmentTransitions, s, next)
}

type SaleStatus string

const (
	SaleStatusOpen    SaleStatus = "open"
	SaleStatusPending SaleStatus = "pending"
	SaleStatusPaid    SaleStatus = "paid"
)

// Paid is final.
var saleTransitions = map[SaleStatus][]SaleStatus{
	SaleStatusOpen:    {SaleStatusPending, SaleStatusPaid},
	SaleStatusPending: {SaleStatusOpen, SaleStatusPaid},
}

func (s SaleStatus) Valid() bool {
	switch s {
	case SaleStatusOpen, SaleStatusPending, SaleStatusPaid:
		return true
	}
	return false
}

func (s SaleStatus) CanTransitionTo(next SaleStatus) bool {
	return canTransition(saleTransitions, s, next)
}

type SessionStatus string

const (
	SessionStatusCheckIn   SessionStatus = "check_in"
	SessionStatusCheckout  SessionStatus = "checkout"
	SessionStatusCompleted SessionStatus = "completed"
)

var sessionTransitions = map[SessionStatus][]SessionStatus{
	SessionStatusCheckIn:  {SessionStatusCheckout, SessionStatusCompleted},
	SessionStatusCheckout: {SessionStatusCompleted},
}

func (s SessionStatus) Valid() bool {
	switch s {
	case SessionStatusCheckIn, SessionStatusCheckout, SessionStatusCompleted:
		return true
	}
	return false
}

func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	return canTransition(sessionTransitions, s, next)
}

// TerminalState is the lifecycle of one payment attempt on the pinpad.
type TerminalState string

const (
	TerminalStateIdle            TerminalState = "idle"
	TerminalStateAwaitingResult  TerminalState = "awaiting_result"
	TerminalStateApproved        TerminalState = "approved"
	TerminalStateDeclined        TerminalState = "declined"
	TerminalStateCancelled       TerminalState = "cancelled"
	TerminalStateError           TerminalState = "error"
	TerminalStatePendingRecovery TerminalState = "pending_recovery"
)

var terminalTransitions = map[TerminalState][]TerminalState{
	TerminalStateIdle: {TerminalStateAwaitingResult, TerminalStatePendingRecovery},
	TerminalStateAwaitingResult: {
		TerminalStateApproved,
		TerminalStateDeclined,
		TerminalStateCancelled,
		TerminalStateError,
		TerminalStatePendingRecovery,
		TerminalStateIdle,
	},
	TerminalStateApproved:        {TerminalStateIdle},
	TerminalStateDeclined:        {TerminalStateIdle},
	TerminalStateCancelled:       {TerminalStateIdle},
	TerminalStateError:           {TerminalStateIdle},
	TerminalStatePendingRecovery: {TerminalStateIdle},
}

func (s TerminalState) Valid() bool {
	_, ok := terminalTransitions[s]
	return ok
}

func (s TerminalState) CanTransitionTo(next TerminalState) bool {
	return canTransition(terminalTransitions, s, next)
}

// Final reports whether the attempt has reached an outcome.
func (s TerminalState) Final() bool {
	switch s {
	case TerminalStateApproved, TerminalStateDeclined, TerminalStateCancelled, TerminalStateError:
		return true
	}
	return false
}

// ── Group B: Classifiers (CHECK constrained in DB) ──

type LineItemKind string

const (
	LineItemKindPrincipalService LineItemKind = "principal_service"
	LineItemKindExtraService     LineItemKind = "extra_service"
	LineItemKindProduct          LineItemKind = "product"
)

func (k LineItemKind) Valid() bool {
	switch k {
	case LineItemKindPrincipalService, LineItemKindExtraService, LineItemKindProduct:
		return true
	}
	return false
}

// Removable reports whether reconciliation may delete a line of this kind.
func (k LineItemKind) Removable() bool {
	return k == LineItemKindExtraService || k == LineItemKindProduct
}

type TransactionType string

const (
	TransactionTypeRevenue    TransactionType = "revenue"
	TransactionTypeCommission TransactionType = "commission"
)

type RecordStatus string

const (
	RecordStatusCompleted RecordStatus = "completed"
	RecordStatusPending   RecordStatus = "pending"
)

// ── Group C: Configurable labels (no DB constraint) ──

type CardMode string

const (
	CardModeCredit CardMode = "credit"
	CardModeDebit  CardMode = "debit"
	CardModePix    CardMode = "pix"
)

func (m CardMode) Valid() bool {
	switch m {
	case CardModeCredit, CardModeDebit, CardModePix:
		return true
	}
	return false
}

// PaymentMethod maps the pinpad mode to the method recorded on the sale.
func (m CardMode) PaymentMethod() PaymentMethod {
	switch m {
	case CardModeCredit:
		return PaymentMethodCreditCard
	case CardModeDebit:
		return PaymentMethodDebitCard
	case CardModePix:
		return PaymentMethodPix
	}
	return ""
}

type PaymentMethod string

const (
	PaymentMethodCreditCard PaymentMethod = "credit_card"
	PaymentMethodDebitCard  PaymentMethod = "debit_card"
	PaymentMethodPix        PaymentMethod = "pix"
	PaymentMethodCash       PaymentMethod = "cash"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCreditCard, PaymentMethodDebitCard, PaymentMethodPix, PaymentMethodCash:
		return true
	}
	return false
}

const ReferenceTypeTotemSale = "totem_sale"

func canTransition[S comparable](table map[S][]S, from, to S) bool {
	if from == to {
		return true
	}
	for _, s := range table[from] {
		if s == to {
			return true
		}
	}
	return false
}
