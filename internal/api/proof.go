package api

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/Wafaqih/rekbernexo/internal/service"
	"github.com/Wafaqih/rekbernexo/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/h2non/filetype"
	"go.uber.org/zap"
)

var allowedProofTypes = map[string]bool{
	"image/jpeg":      true,
	"image/png":       true,
	"image/webp":      true,
	"application/pdf": true,
}

// submitProof accepts either a JSON proof reference or a multipart upload in
// field "file"; uploads are stored and their path becomes the reference
func (h *Handler) submitProof(c *gin.Context) {
	if !strings.HasPrefix(c.ContentType(), "multipart/") {
		var req proofRequest
		if !bind(c, &req) {
			return
		}
		h.respond(c)(h.deals.SubmitProof(c.Request.Context(), c.Param("id"), actorID(c), req.ProofRef))
		return
	}

	if h.proofs == nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "file uploads are disabled, send proof_ref instead", "kind": service.KindValidation})
		return
	}

	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "field file is required"})
		return
	}
	if file.Size == 0 {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "file must not be empty", "kind": service.KindValidation})
		return
	}
	if file.Size > h.proofs.MaxBytes() {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "file is too large", "kind": service.KindValidation})
		return
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not read file"})
		return
	}
	defer src.Close()

	buffer := make([]byte, 512)
	n, err := src.Read(buffer)
	if err != nil && err != io.EOF {
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not read file"})
		return
	}

	kind, err := filetype.Match(buffer[:n])
	if err != nil || kind == filetype.Unknown || !allowedProofTypes[kind.MIME.Value] {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error": "proof must be a JPEG, PNG, WEBP image or a PDF",
			"kind":  service.KindValidation,
		})
		return
	}

	if _, err := src.Seek(0, io.SeekStart); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not rewind file"})
		return
	}

	dealID, actor := c.Param("id"), actorID(c)
	ref, _, err := h.proofs.Save(c.Request.Context(), dealID, actor, kind.Extension, src)
	if err != nil {
		if errors.Is(err, storage.ErrTooLarge) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "file is too large", "kind": service.KindValidation})
			return
		}
		h.logger.Error("Failed to store payment proof", zap.String("deal_id", dealID), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "could not store file", "kind": service.KindTransient})
		return
	}

	res, err := h.deals.SubmitProof(c.Request.Context(), dealID, actor, ref)
	if err != nil {
		if delErr := h.proofs.Delete(c.Request.Context(), ref); delErr != nil {
			h.logger.Warn("Failed to remove rejected proof", zap.String("ref", ref), zap.Error(delErr))
		}
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
