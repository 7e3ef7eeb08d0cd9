package valueobject

type EscrowAction string

const (
	ActionTransporterAccepts    EscrowAction = "transporter_accepts"
	ActionShipperCancels        EscrowAction = "shipper_cancels"
	ActionConfirmDelivery       EscrowAction = "shipper_confirms_delivery"
	ActionRaiseDispute          EscrowAction = "raise_dispute"
	ActionReleaseFunds          EscrowAction = "release_funds"
	ActionResolveForTransporter EscrowAction = "resolve_for_transporter"
	ActionResolveForShipper     EscrowAction = "resolve_for_shipper"
	ActionProcessRefund         EscrowAction = "process_refund"
)

// Служебные действия для истории и аудита, в таблицу переходов не входят.
const (
	ActionCreate            EscrowAction = "create"
	ActionAssignTransporter EscrowAction = "assign_transporter"
	ActionSettlementFailed  EscrowAction = "settlement_failed"
)

// EscrowTransition одна строка таблицы переходов.
type EscrowTransition struct {
	From   EscrowState
	To     EscrowState
	Action EscrowAction
	Roles  []Role
}

var escrowTransitions = []EscrowTransition{
	{EscrowStatePending, EscrowStateInTransit, ActionTransporterAccepts, []Role{RoleTransporter}},
	{EscrowStatePending, EscrowStateCancelled, ActionShipperCancels, []Role{RoleShipper, RoleAdmin}},
	{EscrowStateInTransit, EscrowStateCompleted, ActionConfirmDelivery, []Role{RoleShipper}},
	{EscrowStateInTransit, EscrowStateDisputed, ActionRaiseDispute, []Role{RoleShipper, RoleTransporter}},
	{EscrowStateCompleted, EscrowStateReleased, ActionReleaseFunds, []Role{RoleSystem, RoleAdmin}},
	{EscrowStateDisputed, EscrowStateReleased, ActionResolveForTransporter, []Role{RoleAdmin}},
	{EscrowStateDisputed, EscrowStateRefunded, ActionResolveForShipper, []Role{RoleAdmin}},
	{EscrowStateCancelled, EscrowStateRefunded, ActionProcessRefund, []Role{RoleSystem, RoleAdmin}},
}

// EscrowTransitions возвращает копию таблицы переходов.
func EscrowTransitions() []EscrowTransition {
	out := make([]EscrowTransition, len(escrowTransitions))
	copy(out, escrowTransitions)
	return out
}

// IsTransitionAction проверяет, что действие есть в таблице переходов.
func (a EscrowAction) IsTransitionAction() bool {
	for _, t := range escrowTransitions {
		if t.Action == a {
			return true
		}
	}
	return false
}

// IsDisputeResolution true для действий, закрывающих спор.
func (a EscrowAction) IsDisputeResolution() bool {
	return a == ActionResolveForTransporter || a == ActionResolveForShipper
}

// LookupTransition ищет переход для пары (состояние, действие).
func LookupTransition(from EscrowState, action EscrowAction) (EscrowTransition, bool) {
	for _, t := range escrowTransitions {
		if t.From == from && t.Action == action {
			return t, true
		}
	}
	return EscrowTransition{}, false
}

// Allows проверяет, может ли роль выполнить переход.
func (t EscrowTransition) Allows(role Role) bool {
	for _, r := range t.Roles {
		if r == role {
			return true
		}
	}
	return false
}
