package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/liveon/scrapbook-backend/internal/domain"
	"github.com/liveon/scrapbook-backend/internal/http/response"
	pkgerrors "github.com/liveon/scrapbook-backend/internal/pkg/errors"
	"github.com/liveon/scrapbook-backend/internal/pkg/logger"
	"github.com/liveon/scrapbook-backend/internal/services"
)

type ScrapbookHandler struct {
	log     *logger.Logger
	service services.ScrapbookService
}

func NewScrapbookHandler(log *logger.Logger, service services.ScrapbookService) *ScrapbookHandler {
	return &ScrapbookHandler{
		log:     log.With("handler", "ScrapbookHandler"),
		service: service,
	}
}

// respondServiceError maps domain sentinels onto HTTP statuses.
func respondServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, pkgerrors.ErrNotFound):
		response.RespondError(c, http.StatusNotFound, "not_found", err)
	case errors.Is(err, pkgerrors.ErrInvalidArgument):
		response.RespondError(c, http.StatusBadRequest, "invalid_argument", err)
	case errors.Is(err, pkgerrors.ErrNoSubstitute):
		response.RespondError(c, http.StatusConflict, "no_substitute", err)
	case errors.Is(err, pkgerrors.ErrNothingToUndo):
		response.RespondError(c, http.StatusConflict, "nothing_to_undo", err)
	case errors.Is(err, pkgerrors.ErrOracleContract):
		response.RespondError(c, http.StatusBadGateway, "oracle_contract", err)
	case errors.Is(err, pkgerrors.ErrInvariantViolation):
		response.RespondError(c, http.StatusConflict, "invariant_violation", err)
	default:
		response.RespondError(c, http.StatusInternalServerError, "internal", err)
	}
}

func sessionID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_argument", fmt.Errorf("invalid session id"))
		return uuid.Nil, false
	}
	return id, true
}

type generateRequest struct {
	Folder string `json:"folder" binding:"required"`
}

func (h *ScrapbookHandler) Generate(c *gin.Context) {
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_argument", err)
		return
	}

	sess, err := h.service.Generate(c.Request.Context(), req.Folder)
	if err != nil {
		h.log.Warn("generate failed", "folder", req.Folder, "error", err)
		respondServiceError(c, err)
		return
	}
	response.RespondOK(c, sess)
}

func (h *ScrapbookHandler) Get(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	sess, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.RespondOK(c, sess)
}

func (h *ScrapbookHandler) Replace(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	var slot domain.Slot
	if err := c.ShouldBindJSON(&slot); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_argument", err)
		return
	}

	sess, err := h.service.Replace(c.Request.Context(), id, slot)
	if err != nil {
		h.log.Warn("replace failed", "session", id, "slot", slot.Key(), "error", err)
		respondServiceError(c, err)
		return
	}
	response.RespondOK(c, sess)
}

func (h *ScrapbookHandler) Undo(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	var slot domain.Slot
	if err := c.ShouldBindJSON(&slot); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_argument", err)
		return
	}

	sess, err := h.service.Undo(c.Request.Context(), id, slot)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.RespondOK(c, sess)
}

type renderRequest struct {
	Style  string `json:"style"`
	Upload bool   `json:"upload"`
}

type renderResponse struct {
	Key    string `json:"key"`
	Cached bool   `json:"cached"`
	URL    string `json:"url,omitempty"`
}

// Render returns a JSON descriptor when an upload was requested and the
// raw archive otherwise.
func (h *ScrapbookHandler) Render(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	var req renderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_argument", err)
		return
	}

	out, err := h.service.Render(c.Request.Context(), id, req.Style, req.Upload)
	if err != nil {
		h.log.Warn("render failed", "session", id, "error", err)
		respondServiceError(c, err)
		return
	}

	if req.Upload {
		response.RespondOK(c, renderResponse{Key: out.Key, Cached: out.Cached, URL: out.URL})
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "scrapbook-"+out.Key[:12]+".zip"))
	c.Data(http.StatusOK, "application/zip", out.Data)
}

func (h *ScrapbookHandler) Delete(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	if err := h.service.Clear(c.Request.Context(), id); err != nil {
		respondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"deleted": id.String()})
}
