package handler

import (
	"net/http"
	"time"

	"github.com/ndt-connect/marketplace-api/internal/database"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const healthCheckTimeout = 3 * time.Second

// HealthHandler reports liveness and database readiness
type HealthHandler struct {
	db      *gorm.DB
	version string
	logger  *zap.Logger
}

func NewHealthHandler(db *gorm.DB, version string, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{db: db, version: version, logger: logger}
}

type healthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version,omitempty"`
	Database string `json:"database,omitempty"`
}

// Live answers as long as the process serves requests
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, healthResponse{Status: "ok", Version: h.version})
}

// Ready additionally pings the database
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if err := database.HealthCheck(r.Context(), h.db, healthCheckTimeout); err != nil {
		h.logger.Warn("database health check failed", zap.Error(err))
		respondJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable", Version: h.version, Database: "down"})
		return
	}
	respondJSON(w, http.StatusOK, healthResponse{Status: "ok", Version: h.version, Database: "up"})
}
