package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/freight-escrow/internal/http/handlers/common"
	"github.com/ignatzorin/freight-escrow/internal/interface/http/response"
	"github.com/ignatzorin/freight-escrow/internal/usecase/reconciliation"
)

// ReconciliationHandler отдаёт отчёт сверки по запросу администратора.
type ReconciliationHandler struct {
	sweeper *reconciliation.Sweeper
}

func NewReconciliationHandler(sweeper *reconciliation.Sweeper) *ReconciliationHandler {
	return &ReconciliationHandler{sweeper: sweeper}
}

// Report обрабатывает GET /api/v1/admin/reconciliation.
func (h *ReconciliationHandler) Report(c *gin.Context) {
	report, err := h.sweeper.Run(c.Request.Context())
	if err != nil {
		common.RespondError(c, err)
		return
	}
	response.Success(c, report)
}
