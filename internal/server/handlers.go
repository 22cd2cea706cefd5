package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kubejarvis/easee-status/internal/easee"
)

// Field names served under /{field}/{index}
const (
	FieldPower   = "power"
	FieldSession = "session"
	FieldEnergy  = "energy"
)

// legacyAliases maps the old dashboard paths to field names
var legacyAliases = map[string]string{
	"carChargerUsage":    FieldPower,
	"easeeLadeMengde":    FieldSession,
	"easeeEnergyPerHour": FieldEnergy,
}

// fieldValue selects the value of field from state
func fieldValue(field string, state easee.ChargerState) (float64, bool) {
	switch field {
	case FieldPower:
		return state.Power, true
	case FieldSession:
		return state.Session, true
	case FieldEnergy:
		return state.EnergyPerHour, true
	default:
		return 0, false
	}
}

// handleIndex always fetches fresh states and refreshes the cache
func (s *Server) handleIndex(c *gin.Context) {
	states, err := s.refresh(c.Request.Context())
	if err != nil {
		status := easee.HTTPStatus(err)
		s.logger.Warn("Failed to fetch charger states", zap.Int("status", status), zap.Error(err))
		c.JSON(status, []easee.ChargerState{})
		return
	}

	s.logger.Debug("Fetched charger states", zap.Int("chargers", len(states)))
	if states == nil {
		states = []easee.ChargerState{}
	}
	c.JSON(http.StatusOK, states)
}

// handleField redirects legacy paths to their field and fields to their first charger
func (s *Server) handleField(c *gin.Context) {
	name := c.Param("field")

	if field, ok := legacyAliases[name]; ok {
		c.Redirect(http.StatusSeeOther, "/"+field)
		return
	}

	if _, ok := fieldValue(name, easee.ChargerState{}); !ok {
		c.String(http.StatusNotFound, "Unknown field")
		return
	}

	c.Redirect(http.StatusSeeOther, "/"+name+"/0")
}

// handleFieldIndex serves one value as plain text, from the cache while it is fresh
func (s *Server) handleFieldIndex(c *gin.Context) {
	field := c.Param("field")
	if _, ok := fieldValue(field, easee.ChargerState{}); !ok {
		c.String(http.StatusNotFound, "Unknown field")
		return
	}

	index, err := strconv.Atoi(c.Param("index"))
	if err != nil || index < 0 {
		c.String(http.StatusBadRequest, "Invalid index")
		return
	}

	states, fromCache, err := s.cachedOrFresh(c.Request.Context())
	if err != nil {
		status := easee.HTTPStatus(err)
		s.logger.Warn("Failed to fetch charger states", zap.Int("status", status), zap.Error(err))
		c.String(status, "")
		return
	}

	if index >= len(states) {
		c.String(http.StatusBadRequest, "Index out of range")
		return
	}

	value, _ := fieldValue(field, states[index])
	s.logger.Debug("Serving field",
		zap.String("field", field),
		zap.Int("index", index),
		zap.Bool("cached", fromCache))
	c.String(http.StatusOK, strconv.FormatFloat(value, 'f', -1, 64))
}

// healthResponse is the body of /healthz
type healthResponse struct {
	Status        string  `json:"status"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryBytes   uint64  `json:"memory_bytes"`
	Goroutines    int     `json:"goroutines"`
	CacheAge      float64 `json:"cache_age_seconds"`
	CachedStates  bool    `json:"cached_states"`
}

func (s *Server) handleHealth(c *gin.Context) {
	_, cached := s.cached()
	resp := healthResponse{
		Status:        "ok",
		UptimeSeconds: time.Since(s.startTime).Seconds(),
		CacheAge:      s.cacheAge().Seconds(),
		CachedStates:  cached,
	}

	if s.resources != nil {
		snapshot := s.resources.Current()
		resp.CPUPercent = snapshot.CPUPercent
		resp.MemoryBytes = snapshot.MemoryBytes
		resp.Goroutines = snapshot.Goroutines
	}

	c.JSON(http.StatusOK, resp)
}
