package handler

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/edunotice/internal/models"
	"github.com/noah-isme/edunotice/internal/service"
	"github.com/noah-isme/edunotice/pkg/response"
)

type summaryService interface {
	Send(ctx context.Context, now time.Time, format models.ExportFormat) (*service.SummaryResult, error)
}

type watermarkReader interface {
	LatestWatermark(ctx context.Context) (*time.Time, error)
}

// SummaryHandler exposes the digest and the ingestion watermark.
type SummaryHandler struct {
	summary    summaryService
	watermarks watermarkReader
	now        func() time.Time
}

// NewSummaryHandler constructs the handler.
func NewSummaryHandler(summary summaryService, watermarks watermarkReader) *SummaryHandler {
	return &SummaryHandler{
		summary:    summary,
		watermarks: watermarks,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Send godoc
// @Summary Send the activity digest now
// @Tags Summary
// @Produce json
// @Security BearerAuth
// @Param export query string false "Also export the digest (csv or pdf)"
// @Success 200 {object} response.Envelope
// @Failure 502 {object} response.Envelope
// @Router /summary [post]
func (h *SummaryHandler) Send(c *gin.Context) {
	var format models.ExportFormat
	if raw := c.Query("export"); raw != "" {
		parsed, err := service.ParseFormat(raw)
		if err != nil {
			response.Error(c, err)
			return
		}
		format = parsed
	}
	result, err := h.summary.Send(c.Request.Context(), h.now(), format)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, result)
}

// Watermark godoc
// @Summary Completion time of the last successful ingestion
// @Tags Summary
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /watermark [get]
func (h *SummaryHandler) Watermark(c *gin.Context) {
	ts, err := h.watermarks.LatestWatermark(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"watermark": ts})
}
