package rest

import (
	"net/http"

	"github.com/KevinKickass/OpenFanCore/internal/types"
	"github.com/gin-gonic/gin"
)

// GET /api/v1/status
func (s *Server) getSystemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.lm.GetCurrentStatus())
}

// GET /api/v1/fans
func (s *Server) listFans(c *gin.Context) {
	fans, err := s.lm.Fans()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, types.FromError(types.CodeFansUnavailable, "Fan telemetry unavailable", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"fans": fans})
}

// GET /api/v1/sensors
func (s *Server) listSensors(c *gin.Context) {
	list, err := s.lm.Sensors()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, types.FromError(types.CodeSensorsUnavailable, "Sensors unavailable", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"sensors": list})
}
