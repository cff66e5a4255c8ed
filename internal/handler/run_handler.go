package handler

import (
	"context"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/edunotice/internal/models"
	appErrors "github.com/noah-isme/edunotice/pkg/errors"
	"github.com/noah-isme/edunotice/pkg/response"
)

type runService interface {
	Submit(ctx context.Context, filename string, r io.Reader) (*models.Run, error)
	Get(id string) (*models.Run, error)
}

// RunHandler accepts crawl uploads and reports run progress.
type RunHandler struct {
	service runService
	logger  *zap.Logger
}

// NewRunHandler constructs the handler.
func NewRunHandler(service runService, logger *zap.Logger) *RunHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunHandler{service: service, logger: logger}
}

// Submit godoc
// @Summary Queue an ingest-and-notify run for a crawl CSV
// @Tags Runs
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param file formData file true "Crawl CSV"
// @Success 202 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /runs [post]
func (h *RunHandler) Submit(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "file is required"))
		return
	}
	if !strings.EqualFold(filepath.Ext(fileHeader.Filename), ".csv") {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "crawl file must be a .csv"))
		return
	}
	src, err := fileHeader.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open file"))
		return
	}
	defer src.Close() //nolint:errcheck

	run, err := h.service.Submit(c.Request.Context(), fileHeader.Filename, src)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.logger.Info("run submitted", zap.String("run_id", run.ID), zap.String("operator", operatorEmail(c)))
	response.Accepted(c, run)
}

// Status godoc
// @Summary Get the state of a queued run
// @Tags Runs
// @Produce json
// @Security BearerAuth
// @Param id path string true "Run ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /runs/{id} [get]
func (h *RunHandler) Status(c *gin.Context) {
	run, err := h.service.Get(c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, run)
}
