package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/freight-escrow/internal/domain/entity"
	"github.com/ignatzorin/freight-escrow/internal/http/handlers/common"
	"github.com/ignatzorin/freight-escrow/internal/interface/http/dto"
	"github.com/ignatzorin/freight-escrow/internal/interface/http/response"
	"github.com/ignatzorin/freight-escrow/internal/pkg/apperror"
	"github.com/ignatzorin/freight-escrow/internal/usecase/matching"
)

// MatchHandler обслуживает подбор перевозчиков.
type MatchHandler struct {
	engine *matching.Engine
}

func NewMatchHandler(engine *matching.Engine) *MatchHandler {
	return &MatchHandler{engine: engine}
}

// Propose обрабатывает POST /api/v1/shipments/:id/matches.
func (h *MatchHandler) Propose(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.RespondError(c, err)
		return
	}
	shipmentID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondError(c, err)
		return
	}

	var req dto.ProposeMatchesRequest
	if err := common.BindJSON(c, &req); err != nil {
		common.RespondError(c, err)
		return
	}

	shipperID := actor.ID
	if actor.IsAdmin() {
		if req.Shipment.ShipperID == nil {
			common.RespondError(c, apperror.New(apperror.ErrCodeBadRequest, "shipment.shipper_id обязателен для администратора"))
			return
		}
		shipperID = *req.Shipment.ShipperID
	}

	candidates := make([]entity.Candidate, 0, len(req.Candidates))
	for _, cand := range req.Candidates {
		candidates = append(candidates, cand.ToCandidate())
	}

	results, err := h.engine.Propose(c.Request.Context(), matching.ProposeInput{
		Shipment:   req.Shipment.ToShipment(shipmentID, shipperID),
		Candidates: candidates,
	})
	if err != nil {
		common.RespondError(c, err)
		return
	}
	response.Created(c, dto.NewMatchList(results))
}

// ListByShipment обрабатывает GET /api/v1/shipments/:id/matches.
// Отправитель видит только предложения по своим отправкам.
func (h *MatchHandler) ListByShipment(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.RespondError(c, err)
		return
	}
	shipmentID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondError(c, err)
		return
	}

	list, err := h.engine.ListByShipment(c.Request.Context(), shipmentID)
	if err != nil {
		common.RespondError(c, err)
		return
	}
	if !actor.IsAdmin() {
		for _, m := range list {
			if m.ShipperID != actor.ID {
				common.RespondError(c, apperror.ErrForbidden)
				return
			}
		}
	}
	response.Success(c, dto.NewMatchList(list))
}

// Get обрабатывает GET /api/v1/matches/:id.
func (h *MatchHandler) Get(c *gin.Context) {
	id, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondError(c, err)
		return
	}
	m, err := h.engine.Get(c.Request.Context(), id)
	if err != nil {
		common.RespondError(c, err)
		return
	}
	response.Success(c, dto.NewMatchResponse(m))
}

// Accept обрабатывает POST /api/v1/matches/:id/accept.
// Тело необязательно: payment_id нужен, только если у отправки ещё нет эскроу.
func (h *MatchHandler) Accept(c *gin.Context) {
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

	var req dto.AcceptMatchRequest
	if c.Request.ContentLength > 0 {
		if err := common.BindJSON(c, &req); err != nil {
			common.RespondError(c, err)
			return
		}
	}

	res, err := h.engine.Accept(c.Request.Context(), matching.AcceptInput{
		MatchID:   id,
		ActorID:   actor.ID,
		Role:      actor.Role,
		PaymentID: req.PaymentID,
	})
	if err != nil {
		common.RespondError(c, err)
		return
	}

	out := dto.AcceptMatchResponse{Match: dto.NewMatchResponse(res.Match)}
	if res.Escrow != nil {
		e := dto.NewEscrowResponse(res.Escrow)
		out.Escrow = &e
	}
	response.Success(c, out)
}

// Reject обрабатывает POST /api/v1/matches/:id/reject.
func (h *MatchHandler) Reject(c *gin.Context) {
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

	m, err := h.engine.Reject(c.Request.Context(), id, actor.ID, actor.Role)
	if err != nil {
		common.RespondError(c, err)
		return
	}
	response.Success(c, dto.NewMatchResponse(m))
}
