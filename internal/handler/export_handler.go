package handler

import (
	"fmt"
	"net/http"
	"os"
	"path"

	"github.com/gin-gonic/gin"

	appErrors "github.com/noah-isme/edunotice/pkg/errors"
	"github.com/noah-isme/edunotice/pkg/response"
	"github.com/noah-isme/edunotice/pkg/storage"
)

type exportResolver interface {
	Resolve(token string) (*os.File, storage.Grant, error)
}

// ExportHandler serves stored files behind signed tokens.
type ExportHandler struct {
	exports exportResolver
}

// NewExportHandler constructs the handler.
func NewExportHandler(exports exportResolver) *ExportHandler {
	return &ExportHandler{exports: exports}
}

// Download godoc
// @Summary Download a digest export via signed token
// @Tags Exports
// @Produce octet-stream
// @Param token path string true "Signed token"
// @Success 200 {file} binary
// @Failure 401 {object} response.Envelope
// @Router /exports/{token} [get]
func (h *ExportHandler) Download(c *gin.Context) {
	if h.exports == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "exports disabled"))
		return
	}
	file, grant, err := h.exports.Resolve(c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close() //nolint:errcheck

	info, err := file.Stat()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to stat export"))
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", path.Base(grant.Path)))
	c.Header("Cache-Control", "no-store")
	c.DataFromReader(http.StatusOK, info.Size(), contentType(grant.Path), file, nil)
}

func contentType(name string) string {
	switch path.Ext(name) {
	case ".csv":
		return "text/csv"
	case ".pdf":
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}
