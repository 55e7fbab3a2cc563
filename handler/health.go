package handler

import (
	"net/http"
	"sync/atomic"

	"github.com/BlusMotif/BlusWipe/service"
	"github.com/gin-gonic/gin"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

// HealthHandler reports process-wide readiness. It never performs
// inference: model_loaded reflects the startup reachability check.
type HealthHandler struct {
	defaultModel string
	modelReady   *atomic.Bool
}

func NewHealthHandler(defaultModel string, modelReady *atomic.Bool) *HealthHandler {
	return &HealthHandler{
		defaultModel: defaultModel,
		modelReady:   modelReady,
	}
}

// Health is the monitoring endpoint.
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":           "healthy",
		"model_loaded":     h.modelReady.Load(),
		"version":          Version,
		"available_models": service.AvailableModels(),
	})
}

// Models returns the supported model set with descriptions. Static,
// process-wide configuration.
func (h *HealthHandler) Models(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"models":        service.AvailableModels(),
		"default_model": h.defaultModel,
		"descriptions":  service.ModelDescriptions(),
	})
}
