package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/freight-escrow/internal/domain/entity"
	"github.com/ignatzorin/freight-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/freight-escrow/internal/http/handlers/common"
	"github.com/ignatzorin/freight-escrow/internal/interface/http/dto"
	"github.com/ignatzorin/freight-escrow/internal/interface/http/response"
	"github.com/ignatzorin/freight-escrow/internal/pkg/apperror"
	"github.com/ignatzorin/freight-escrow/internal/usecase/escrow"
)

// EscrowHandler обслуживает реестр эскроу.
type EscrowHandler struct {
	ledger *escrow.Ledger
}

func NewEscrowHandler(ledger *escrow.Ledger) *EscrowHandler {
	return &EscrowHandler{ledger: ledger}
}

// Create обрабатывает POST /api/v1/escrows.
// Повтор того же платежа отвечает 200 с существующей записью.
func (h *EscrowHandler) Create(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.RespondError(c, err)
		return
	}

	var req dto.CreateEscrowRequest
	if err := common.BindJSON(c, &req); err != nil {
		common.RespondError(c, err)
		return
	}

	shipperID := actor.ID
	if actor.IsAdmin() {
		if req.ShipperID == nil {
			common.RespondError(c, apperror.New(apperror.ErrCodeBadRequest, "shipper_id обязателен для администратора"))
			return
		}
		shipperID = *req.ShipperID
	}

	res, err := h.ledger.Create(c.Request.Context(), escrow.CreateInput{
		ShipmentID: req.ShipmentID,
		PaymentID:  req.PaymentID,
		ShipperID:  shipperID,
		Amount:     req.Amount,
		FeeRate:    req.FeeRate,
	})
	if err != nil {
		common.RespondError(c, err)
		return
	}

	if res.Duplicate {
		response.Success(c, dto.NewEscrowResponse(res.Escrow))
		return
	}
	response.Created(c, dto.NewEscrowResponse(res.Escrow))
}

// Get обрабатывает GET /api/v1/escrows/:id.
func (h *EscrowHandler) Get(c *gin.Context) {
	e, ok := h.loadVisible(c)
	if !ok {
		return
	}
	response.Success(c, dto.NewEscrowResponse(e))
}

// AssignTransporter обрабатывает POST /api/v1/escrows/:id/transporter.
func (h *EscrowHandler) AssignTransporter(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.RespondError(c, err)
		return
	}
	id, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondError(c, err)
		return
	}

	var req dto.AssignTransporterRequest
	if err := common.BindJSON(c, &req); err != nil {
		common.RespondError(c, err)
		return
	}

	e, err := h.ledger.AssignTransporter(c.Request.Context(), escrow.AssignInput{
		EscrowID:      id,
		TransporterID: req.TransporterID,
		ActorID:       actor.ID,
		Role:          actor.Role,
	})
	if err != nil {
		common.RespondError(c, err)
		return
	}
	response.Success(c, dto.NewEscrowResponse(e))
}

// Transition обрабатывает POST /api/v1/escrows/:id/transitions.
// Право на действие проверяет таблица переходов.
func (h *EscrowHandler) Transition(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.RespondError(c, err)
		return
	}
	id, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondError(c, err)
		return
	}

	var req dto.TransitionRequest
	if err := common.BindJSON(c, &req); err != nil {
		common.RespondError(c, err)
		return
	}

	e, err := h.ledger.Transition(c.Request.Context(), escrow.TransitionInput{
		EscrowID: id,
		Action:   valueobject.EscrowAction(req.Action),
		UserID:   actor.ID,
		Role:     actor.Role,
		Metadata: req.ToMetadata(),
	})
	if err != nil {
		common.RespondError(c, err)
		return
	}
	response.Success(c, dto.NewEscrowResponse(e))
}

// ResolveDispute обрабатывает POST /api/v1/escrows/:id/dispute/resolve.
func (h *EscrowHandler) ResolveDispute(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.RespondError(c, err)
		return
	}
	id, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondError(c, err)
		return
	}

	var req dto.ResolveDisputeRequest
	if err := common.BindJSON(c, &req); err != nil {
		common.RespondError(c, err)
		return
	}

	e, err := h.ledger.ResolveDispute(c.Request.Context(), escrow.ResolveInput{
		EscrowID:   id,
		ReviewerID: actor.ID,
		Resolution: req.Resolution,
		Outcome:    valueobject.DisputeOutcome(req.Outcome),
	})
	if err != nil {
		common.RespondError(c, err)
		return
	}
	response.Success(c, dto.NewEscrowResponse(e))
}

// GetDispute обрабатывает GET /api/v1/escrows/:id/dispute.
func (h *EscrowHandler) GetDispute(c *gin.Context) {
	e, ok := h.loadVisible(c)
	if !ok {
		return
	}
	d, err := h.ledger.GetDispute(c.Request.Context(), e.ID)
	if err != nil {
		common.RespondError(c, err)
		return
	}
	response.Success(c, dto.NewDisputeResponse(d))
}

// ListByShipment обрабатывает GET /api/v1/shipments/:id/escrows.
func (h *EscrowHandler) ListByShipment(c *gin.Context) {
	shipmentID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondError(c, err)
		return
	}
	list, err := h.ledger.ListByShipment(c.Request.Context(), shipmentID)
	if err != nil {
		common.RespondError(c, err)
		return
	}
	response.Success(c, dto.NewEscrowList(list))
}

// loadVisible читает эскроу из пути; видеть его могут стороны сделки и администратор.
func (h *EscrowHandler) loadVisible(c *gin.Context) (*entity.Escrow, bool) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.RespondError(c, err)
		return nil, false
	}
	id, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondError(c, err)
		return nil, false
	}

	e, err := h.ledger.Get(c.Request.Context(), id)
	if err != nil {
		common.RespondError(c, err)
		return nil, false
	}
	if !actor.IsAdmin() && !isEscrowParty(e, actor.ID) {
		common.RespondError(c, apperror.ErrForbidden)
		return nil, false
	}
	return e, true
}

func isEscrowParty(e *entity.Escrow, userID uuid.UUID) bool {
	if e.ShipperID == userID {
		return true
	}
	return e.TransporterID != nil && *e.TransporterID == userID
}
