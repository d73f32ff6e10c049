// Package httpapi is the Gin HTTP adapter onto the ingestion pipeline:
// submit one or many positions, read back a device's latest position,
// trigger a force-flush or cleanup, and report health/stats.
//
// Grounded on the teacher's internal/delivery/http/handler/device_handler.go
// (RegisterRoutes-on-a-group style, ShouldBindJSON + utils.ErrorResponse/
// SuccessResponse envelope) and internal/ingestion/validator.go's
// per-field ValidationError reporting, applied to GPS positions instead
// of devices.
package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"gps-ingest-gateway/internal/coordinator"
	"gps-ingest-gateway/internal/position"
	"gps-ingest-gateway/internal/processor"
	apperrors "gps-ingest-gateway/pkg/errors"
	"gps-ingest-gateway/pkg/utils"
)

const maxBatchSubmitSize = 100

// Accumulator is the subset of internal/accumulator.Accumulator this
// handler depends on.
type Accumulator interface {
	Submit(pos position.Position)
}

// Reader is the subset of internal/store.Store this handler depends on
// for the read-side endpoints.
type Reader interface {
	GetLatest(ctx context.Context, deviceID string) (position.Position, bool, error)
	GetLatestMany(ctx context.Context, deviceIDs []string) (map[string]position.Position, error)
}

// Handler implements every route spec §4.9 lists.
type Handler struct {
	proc  *processor.Processor
	accum Accumulator
	store Reader
	coord *coordinator.Coordinator
}

// New builds a Handler.
func New(proc *processor.Processor, accum Accumulator, st Reader, coord *coordinator.Coordinator) *Handler {
	return &Handler{proc: proc, accum: accum, store: st, coord: coord}
}

// RegisterRoutes mounts every route under router, mirroring the
// teacher's RegisterRoutes-on-a-group convention.
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	positions := router.Group("/positions")
	{
		positions.POST("", h.SubmitOne)
		positions.POST("/batch", h.SubmitBatch)
		positions.GET("/latest/:deviceId", h.GetLatest)
		positions.GET("/latest", h.GetLatestMany)
	}

	admin := router.Group("/admin")
	{
		admin.POST("/flush", h.ForceFlush)
		admin.POST("/cleanup", h.Cleanup)
	}

	router.GET("/stats", h.Stats)
}

// SubmitOne accepts a single position (spec §4.9 submit-one).
func (h *Handler) SubmitOne(c *gin.Context) {
	var raw position.RawPosition
	if err := c.ShouldBindJSON(&raw); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.proc.Process(raw)
	if err != nil {
		var invalid *apperrors.InvalidError
		if errors.As(err, &invalid) {
			utils.ErrorResponse(c, http.StatusUnprocessableEntity, err.Error())
			return
		}
		utils.ErrorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}

	if res.Outcome == processor.OutcomeDuplicate {
		utils.SuccessResponse(c, http.StatusOK, "duplicate, not ingested", gin.H{"duplicate": true})
		return
	}

	h.accum.Submit(res.Position)
	utils.SuccessResponse(c, http.StatusAccepted, "accepted", gin.H{"duplicate": false})
}

// submitBatchRequest is the body accepted by POST /positions/batch.
type submitBatchRequest struct {
	Positions []position.RawPosition `json:"positions" binding:"required,max=100"`
}

// SubmitBatch accepts up to maxBatchSubmitSize positions in one request
// (spec §6). Every index lands in exactly one of accepted/duplicate/
// errors; one bad record never aborts the rest of the batch.
func (h *Handler) SubmitBatch(c *gin.Context) {
	var req submitBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Positions) == 0 {
		utils.ErrorResponse(c, http.StatusBadRequest, "positions must not be empty")
		return
	}
	if len(req.Positions) > maxBatchSubmitSize {
		utils.ErrorResponse(c, http.StatusBadRequest, "at most 100 positions per batch")
		return
	}

	result := h.proc.ProcessBatch(req.Positions)
	for _, p := range result.Accepted {
		h.accum.Submit(p)
	}

	errs := make([]gin.H, 0, len(result.Errors))
	for _, e := range result.Errors {
		errs = append(errs, gin.H{"index": e.Index, "reason": e.Reason})
	}

	utils.SuccessResponse(c, http.StatusAccepted, "batch processed", gin.H{
		"processed_count": len(result.Accepted),
		"duplicate_count": len(result.Duplicates),
		"errors":          errs,
	})
}

// GetLatest returns one device's most recently stored position.
func (h *Handler) GetLatest(c *gin.Context) {
	deviceID := c.Param("deviceId")
	pos, ok, err := h.store.GetLatest(c.Request.Context(), deviceID)
	if err != nil {
		utils.ErrorResponse(c, http.StatusServiceUnavailable, err.Error())
		return
	}
	if !ok {
		utils.ErrorResponse(c, http.StatusNotFound, "no position stored for device")
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "latest position retrieved", pos)
}

// GetLatestMany returns the latest position for each device_id in the
// comma-separated ?device_ids= query parameter.
func (h *Handler) GetLatestMany(c *gin.Context) {
	ids := c.QueryArray("device_ids")
	if len(ids) == 1 {
		ids = splitCSV(ids[0])
	}
	if len(ids) == 0 {
		utils.ErrorResponse(c, http.StatusBadRequest, "device_ids query parameter is required")
		return
	}

	positions, err := h.store.GetLatestMany(c.Request.Context(), ids)
	if err != nil {
		utils.ErrorResponse(c, http.StatusServiceUnavailable, err.Error())
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "latest positions retrieved", positions)
}

// ForceFlush triggers an immediate flush of both accumulator buffers.
func (h *Handler) ForceFlush(c *gin.Context) {
	if err := h.coord.ForceFlush(c.Request.Context()); err != nil {
		utils.ErrorResponse(c, http.StatusServiceUnavailable, err.Error())
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "flush completed", nil)
}

// Cleanup triggers an immediate store retention/inactive-device pass.
func (h *Handler) Cleanup(c *gin.Context) {
	result, err := h.coord.Cleanup(c.Request.Context())
	if err != nil {
		utils.ErrorResponse(c, http.StatusServiceUnavailable, err.Error())
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "cleanup completed", result)
}

// Stats reports the aggregate snapshot from Coordinator.Stats.
func (h *Handler) Stats(c *gin.Context) {
	snapshot, err := h.coord.Stats(c.Request.Context())
	if err != nil {
		utils.ErrorResponse(c, http.StatusServiceUnavailable, err.Error())
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "stats", snapshot)
}

func splitCSV(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}
