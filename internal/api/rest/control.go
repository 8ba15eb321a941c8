package rest

import (
	"net/http"
	"strings"

	"github.com/KevinKickass/OpenFanCore/internal/policy"
	"github.com/KevinKickass/OpenFanCore/internal/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// GET /api/v1/profile
func (s *Server) getProfile(c *gin.Context) {
	store := s.lm.Store()
	c.JSON(http.StatusOK, gin.H{
		"active":   store.Active(),
		"profiles": store.List(),
	})
}

// PUT /api/v1/profile
//
// {"active": "silent"} switches profiles; a "profile" object is stored
// first and becomes active unless "active" names another one.
func (s *Server) putProfile(c *gin.Context) {
	var req struct {
		Active  string          `json:"active"`
		Profile *policy.Profile `json:"profile"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.FromError(types.CodeProfileInvalid, "Invalid request body", err))
		return
	}

	store := s.lm.Store()
	if req.Profile != nil {
		if err := store.Put(*req.Profile); err != nil {
			c.JSON(http.StatusBadRequest, types.FromError(types.CodeProfileInvalid, "Invalid profile", err))
			return
		}
		if req.Active == "" {
			req.Active = req.Profile.Name
		}
	}
	if req.Active == "" {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeProfileInvalid, "Invalid request body", "active or profile is required"))
		return
	}

	active, err := store.SetActive(req.Active)
	if err != nil {
		c.JSON(http.StatusNotFound, types.FromError(types.CodeProfileUnknown, "Unknown profile", err))
		return
	}

	if err := store.Save(); err != nil {
		s.logger.Warn("Profiles file not saved", zap.Error(err))
	}

	c.JSON(http.StatusOK, gin.H{"active": active})
}

// POST /api/v1/pressure
//
// {"level": "heavy"} pins the pressure level; "auto" returns to the
// temperature-derived level.
func (s *Server) setPressure(c *gin.Context) {
	var req struct {
		Level string `json:"level" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.FromError(types.CodePressureInvalid, "Invalid request body", err))
		return
	}

	pressure := s.lm.Pressure()
	if strings.EqualFold(req.Level, "auto") {
		pressure.Clear()
	} else {
		level, err := policy.ParseLevel(req.Level)
		if err != nil {
			c.JSON(http.StatusBadRequest, types.FromError(types.CodePressureInvalid, "Invalid pressure level", err))
			return
		}
		pressure.Set(level)
	}

	c.JSON(http.StatusOK, gin.H{
		"level":    pressure.Level(),
		"external": pressure.External(),
	})
}

// POST /api/v1/control/release
func (s *Server) releaseControl(c *gin.Context) {
	controller := s.lm.Controller()
	// Earlier write failures no longer matter once control is handed back.
	controller.DismissError()
	controller.ReturnToSystem(c.Request.Context())

	if cerr := controller.LastError(); cerr != nil {
		c.JSON(http.StatusBadGateway, types.NewErrorResponse(types.CodeReleaseFailed, "Release failed", cerr.Message))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Fan control returned to system",
		"profile": s.lm.Store().Active().Name,
	})
}

// DELETE /api/v1/control/error
func (s *Server) dismissError(c *gin.Context) {
	s.lm.Controller().DismissError()
	c.Status(http.StatusNoContent)
}
