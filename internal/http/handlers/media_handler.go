package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/showpls/showpls-backend/internal/http/handlers/common"
	"github.com/showpls/showpls-backend/internal/storage"
)

// MediaHandler — загрузка пруфов (фото/видео с места съёмки).
type MediaHandler struct {
	proofs *storage.ProofStorage
}

// NewMediaHandler создаёт новый хэндлер.
func NewMediaHandler(proofs *storage.ProofStorage) *MediaHandler {
	return &MediaHandler{proofs: proofs}
}

// UploadProof POST /media/proofs (multipart: order_id, file)
func (h *MediaHandler) UploadProof(c *gin.Context) {
	if _, err := common.CurrentUserID(c); err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	orderIDStr := c.PostForm("order_id")
	orderID := mustUUID(orderIDStr)
	if orderIDStr == "" || orderID.String() != orderIDStr {
		common.RespondBadRequest(c, "order_id обязателен и должен быть UUID")
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		common.RespondBadRequest(c, "файл обязателен")
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		common.RespondBadRequest(c, "не удалось открыть файл")
		return
	}
	defer f.Close()

	relPath, mediaType, err := h.proofs.SaveProof(c.Request.Context(), orderID, fileHeader.Filename, f)
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"proof_uri":  "/media/proofs/" + relPath,
		"media_type": mediaType,
	})
}
