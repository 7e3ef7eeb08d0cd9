package valueobject

import "github.com/ignatzorin/freight-escrow/internal/pkg/apperror"

type EscrowState string

const (
	EscrowStatePending   EscrowState = "pending"
	EscrowStateInTransit EscrowState = "in_transit"
	EscrowStateCompleted EscrowState = "completed"
	EscrowStateDisputed  EscrowState = "disputed"
	EscrowStateReleased  EscrowState = "released"
	EscrowStateRefunded  EscrowState = "refunded"
	EscrowStateCancelled EscrowState = "cancelled"
)

// AllEscrowStates перечисляет состояния в порядке жизненного цикла.
var AllEscrowStates = []EscrowState{
	EscrowStatePending,
	EscrowStateInTransit,
	EscrowStateCompleted,
	EscrowStateDisputed,
	EscrowStateCancelled,
	EscrowStateReleased,
	EscrowStateRefunded,
}

// NonTerminalEscrowStates блокируют создание второго эскроу по той же отправке или платежу.
var NonTerminalEscrowStates = []EscrowState{
	EscrowStatePending,
	EscrowStateInTransit,
	EscrowStateCompleted,
	EscrowStateDisputed,
}

func (s EscrowState) IsValid() bool {
	switch s {
	case EscrowStatePending, EscrowStateInTransit, EscrowStateCompleted, EscrowStateDisputed,
		EscrowStateReleased, EscrowStateRefunded, EscrowStateCancelled:
		return true
	}
	return false
}

// IsTerminal возвращает true для состояний, из которых переходов нет.
func (s EscrowState) IsTerminal() bool {
	return s == EscrowStateReleased || s == EscrowStateRefunded
}

// IsNonTerminal возвращает true для активных состояний.
// cancelled сюда не входит: это промежуточное состояние перед возвратом.
func (s EscrowState) IsNonTerminal() bool {
	switch s {
	case EscrowStatePending, EscrowStateInTransit, EscrowStateCompleted, EscrowStateDisputed:
		return true
	}
	return false
}

func NewEscrowState(state string) (EscrowState, error) {
	s := EscrowState(state)
	if !s.IsValid() {
		return "", apperror.New(apperror.ErrCodeValidation, "некорректное состояние эскроу")
	}
	return s, nil
}

type MatchStatus string

const (
	MatchStatusPending  MatchStatus = "pending"
	MatchStatusAccepted MatchStatus = "accepted"
	MatchStatusRejected MatchStatus = "rejected"
	MatchStatusExpired  MatchStatus = "expired"
)

func (s MatchStatus) IsValid() bool {
	switch s {
	case MatchStatusPending, MatchStatusAccepted, MatchStatusRejected, MatchStatusExpired:
		return true
	}
	return false
}

// CanTransitionTo разрешает только выход из pending, обратных переходов нет.
func (s MatchStatus) CanTransitionTo(newStatus MatchStatus) bool {
	if s != MatchStatusPending {
		return false
	}
	switch newStatus {
	case MatchStatusAccepted, MatchStatusRejected, MatchStatusExpired:
		return true
	}
	return false
}

func NewMatchStatus(status string) (MatchStatus, error) {
	s := MatchStatus(status)
	if !s.IsValid() {
		return "", apperror.New(apperror.ErrCodeValidation, "некорректный статус предложения перевозки")
	}
	return s, nil
}

type DisputeStatus string

const (
	DisputeStatusOpen     DisputeStatus = "open"
	DisputeStatusResolved DisputeStatus = "resolved"
)

type DisputeOutcome string

const (
	DisputeOutcomeForShipper     DisputeOutcome = "for_shipper"
	DisputeOutcomeForTransporter DisputeOutcome = "for_transporter"
)

func (o DisputeOutcome) IsValid() bool {
	return o == DisputeOutcomeForShipper || o == DisputeOutcomeForTransporter
}

// Action возвращает действие перехода, закрывающее спор с этим исходом.
func (o DisputeOutcome) Action() EscrowAction {
	if o == DisputeOutcomeForTransporter {
		return ActionResolveForTransporter
	}
	return ActionResolveForShipper
}
