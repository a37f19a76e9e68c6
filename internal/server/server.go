// Package server exposes the experiment engine over HTTP for dashboards
// and other consumers. The engine itself stays transport-agnostic; this
// layer only translates requests and maps absence signals onto status
// codes.
package server

import (
	"errors"
	"net/http"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	apierrors "github.com/variantly/variantly/common/errors"
	"github.com/variantly/variantly/internal/experiments"
	"github.com/variantly/variantly/internal/experiments/bucket"
	"github.com/variantly/variantly/pkg/models"
)

// Server represents the HTTP server.
type Server struct {
	logger *zap.Logger
	svc    experiments.ExperimentService
}

// NewServer creates a new HTTP server around the experiment service.
func NewServer(logger *zap.Logger, svc experiments.ExperimentService) *Server {
	return &Server{logger: logger, svc: svc}
}

// Router creates the HTTP router.
func (s *Server) Router() *gin.Engine {
	router := gin.New()

	router.Use(ginzap.Ginzap(s.logger, "2006-01-02T15:04:05Z07:00", true))
	router.Use(ginzap.RecoveryWithZap(s.logger, true))
	router.Use(cors.Default())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	{
		v1 := api.Group("/v1")
		{
			exps := v1.Group("/experiments")
			{
				exps.POST("", s.handleRegister)
				exps.GET("", s.handleList)
				exps.GET("/:id", s.handleGet)
				exps.POST("/:id/end", s.handleEnd)
				exps.POST("/:id/assign", s.handleAssign)
				exps.GET("/:id/assignment", s.handleGetAssignment)
				exps.POST("/:id/events", s.handleRecordEvent)
				exps.GET("/:id/results", s.handleResults)
			}
		}
	}

	return router
}

type registerRequest struct {
	ID           string                            `json:"id"`
	Type         models.ExperimentType             `json:"type"`
	Name         string                            `json:"name" binding:"required"`
	Description  string                            `json:"description"`
	Variations   map[string]models.VariationConfig `json:"variations" binding:"required"`
	Distribution bucket.Distribution               `json:"distribution"`
	Control      string                            `json:"control"`
}

func (s *Server) handleRegister(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.Write(c, apierrors.BadRequest(err.Error()))
		return
	}

	exp, err := s.svc.Register(c.Request.Context(), &experiments.Definition{
		ID:           req.ID,
		Type:         req.Type,
		Name:         req.Name,
		Description:  req.Description,
		Variations:   req.Variations,
		Distribution: req.Distribution,
		Control:      req.Control,
	})
	if err != nil {
		if errors.Is(err, experiments.ErrDuplicateExperiment) {
			apierrors.Write(c, apierrors.Conflict(err.Error()))
			return
		}
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, exp)
}

func (s *Server) handleList(c *gin.Context) {
	var (
		exps map[string]*models.Experiment
		err  error
	)
	if typ := c.Query("type"); typ != "" {
		exps, err = s.svc.ListByType(c.Request.Context(), models.ExperimentType(typ))
	} else {
		exps, err = s.svc.ListAll(c.Request.Context())
	}
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"experiments": exps})
}

func (s *Server) handleGet(c *gin.Context) {
	exp, err := s.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	if exp == nil {
		apierrors.Write(c, apierrors.NotFound("experiment not found: "+c.Param("id")))
		return
	}
	c.JSON(http.StatusOK, exp)
}

func (s *Server) handleEnd(c *gin.Context) {
	ok, err := s.svc.End(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	if !ok {
		apierrors.Write(c, apierrors.NotFound("experiment not found: "+c.Param("id")))
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "completed"})
}

type assignRequest struct {
	SubjectID string `json:"subject_id" binding:"required"`
}

func (s *Server) handleAssign(c *gin.Context) {
	var req assignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.Write(c, apierrors.BadRequest(err.Error()))
		return
	}
	variation, err := s.svc.Assign(c.Request.Context(), req.SubjectID, c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"variation": variation})
}

func (s *Server) handleGetAssignment(c *gin.Context) {
	subjectID := c.Query("subject_id")
	if subjectID == "" {
		apierrors.Write(c, apierrors.BadRequest("subject_id query parameter is required"))
		return
	}
	variation, ok, err := s.svc.GetAssignment(c.Request.Context(), subjectID, c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	if !ok {
		apierrors.Write(c, apierrors.NotFound("no assignment for subject "+subjectID))
		return
	}
	c.JSON(http.StatusOK, gin.H{"variation": variation})
}

type recordEventRequest struct {
	SubjectID string                 `json:"subject_id" binding:"required"`
	EventType models.EventType       `json:"event_type" binding:"required"`
	Payload   map[string]interface{} `json:"payload"`
}

func (s *Server) handleRecordEvent(c *gin.Context) {
	var req recordEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.Write(c, apierrors.BadRequest(err.Error()))
		return
	}
	if !req.EventType.Valid() {
		apierrors.Write(c, apierrors.BadRequest("unknown event type: "+string(req.EventType)))
		return
	}
	if err := s.svc.RecordEvent(c.Request.Context(), c.Param("id"), req.SubjectID, req.EventType, req.Payload); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleResults(c *gin.Context) {
	results, err := s.svc.Results(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	if results == nil {
		apierrors.Write(c, apierrors.NotFound("experiment not found: "+c.Param("id")))
		return
	}
	c.JSON(http.StatusOK, results)
}

func (s *Server) writeError(c *gin.Context, err error) {
	s.logger.Error("Request failed",
		zap.String("path", c.Request.URL.Path),
		zap.Error(err))
	apierrors.Write(c, apierrors.Internal(err.Error()))
}
