package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"selenite/internal/models"
	"selenite/internal/registry"
)

// ListModelSets returns every registered provider of the given kind
// ("asr" or "diarizer").
func (h *Handler) ListModelSets(c *gin.Context) {
	kind := models.ModelKind(c.Param("kind"))
	if kind != models.KindASR && kind != models.KindDiarizer {
		c.JSON(http.StatusBadRequest, gin.H{"error": "kind must be asr or diarizer"})
		return
	}
	sets, err := h.reg.List(c.Request.Context(), kind)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list model sets"})
		return
	}
	c.JSON(http.StatusOK, sets)
}

type createSetRequest struct {
	Name        string  `json:"name" binding:"required"`
	AbsPath     string  `json:"abs_path" binding:"required"`
	Description *string `json:"description"`
}

// CreateModelSet registers a new provider under kind.
func (h *Handler) CreateModelSet(c *gin.Context) {
	kind := models.ModelKind(c.Param("kind"))
	if kind != models.KindASR && kind != models.KindDiarizer {
		c.JSON(http.StatusBadRequest, gin.H{"error": "kind must be asr or diarizer"})
		return
	}
	var req createSetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	set, err := h.reg.CreateSet(c.Request.Context(), kind, req.Name, req.AbsPath, req.Description)
	if err != nil {
		c.JSON(registryStatus(err), gin.H{"error": registryErrorMessage(err)})
		return
	}
	c.JSON(http.StatusCreated, set)
}

type createWeightRequest struct {
	Name    string `json:"name" binding:"required"`
	AbsPath string `json:"abs_path" binding:"required"`
}

// CreateModelWeight registers a concrete weight under an existing set,
// computing and storing its checksum so operators can detect the file
// changing underneath an enabled entry.
func (h *Handler) CreateModelWeight(c *gin.Context) {
	var req createWeightRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	weight, err := h.reg.CreateWeight(c.Request.Context(), c.Param("setID"), req.Name, req.AbsPath)
	if err != nil {
		c.JSON(registryStatus(err), gin.H{"error": registryErrorMessage(err)})
		return
	}
	c.JSON(http.StatusCreated, weight)
}

type updateSetRequest struct {
	Description   *string `json:"description"`
	Enabled       *bool   `json:"enabled"`
	DisableReason *string `json:"disable_reason"`
}

// UpdateModelSet toggles enabled/description on a provider.
func (h *Handler) UpdateModelSet(c *gin.Context) {
	var req updateSetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	err := h.reg.UpdateSet(c.Request.Context(), c.Param("setID"), registry.UpdateSetOpts{
		Description:   req.Description,
		Enabled:       req.Enabled,
		DisableReason: req.DisableReason,
	})
	if err != nil {
		c.JSON(registryStatus(err), gin.H{"error": registryErrorMessage(err)})
		return
	}
	h.resolver.Refresh()
	c.JSON(http.StatusOK, gin.H{"updated": true})
}

type updateWeightRequest struct {
	Enabled       *bool   `json:"enabled"`
	DisableReason *string `json:"disable_reason"`
}

// UpdateModelWeight toggles enabled on a weight.
func (h *Handler) UpdateModelWeight(c *gin.Context) {
	var req updateWeightRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	err := h.reg.UpdateWeight(c.Request.Context(), c.Param("weightID"), registry.UpdateWeightOpts{
		Enabled:       req.Enabled,
		DisableReason: req.DisableReason,
	})
	if err != nil {
		c.JSON(registryStatus(err), gin.H{"error": registryErrorMessage(err)})
		return
	}
	h.resolver.Refresh()
	c.JSON(http.StatusOK, gin.H{"updated": true})
}

// ListAvailability implements list_availability.
func (h *Handler) ListAvailability(c *gin.Context) {
	report, err := h.resolver.Report(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute availability"})
		return
	}
	c.JSON(http.StatusOK, report)
}

// RefreshAvailability implements refresh_availability.
func (h *Handler) RefreshAvailability(c *gin.Context) {
	h.resolver.Refresh()
	report, err := h.resolver.Report(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute availability"})
		return
	}
	c.JSON(http.StatusOK, report)
}

func registryStatus(err error) int {
	switch {
	case errors.Is(err, registry.ErrDuplicateName), errors.Is(err, registry.ErrInvalidPath),
		errors.Is(err, registry.ErrDisableReasonRequired):
		return http.StatusBadRequest
	case errors.Is(err, registry.ErrSetNotFound), errors.Is(err, registry.ErrUnknownProvider),
		errors.Is(err, registry.ErrUnknownWeight):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
