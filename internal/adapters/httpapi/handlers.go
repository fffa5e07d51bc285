package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/stoik/email-risk/internal/application"
	"github.com/stoik/email-risk/internal/domain/features"
	"github.com/stoik/email-risk/internal/modelcache"
)

type geoRequest struct {
	CountryMismatch bool `json:"country_mismatch"`
	HighRiskCountry bool `json:"high_risk_country"`
	IsProxy         bool `json:"is_proxy"`
}

type scoreRequest struct {
	Email string      `json:"email" binding:"required"`
	Geo   *geoRequest `json:"geo"`
}

func (r scoreRequest) toApplication() application.ScoreRequest {
	req := application.ScoreRequest{Email: r.Email}
	if r.Geo != nil {
		req.Geo = &features.GeoSignals{
			CountryMismatch: r.Geo.CountryMismatch,
			HighRiskCountry: r.Geo.HighRiskCountry,
			IsProxy:         r.Geo.IsProxy,
		}
	}
	return req
}

// health handles GET /healthz
func (s *Server) health(c *gin.Context) {
	loaded := 0
	statuses := s.models.Status()
	for _, st := range statuses {
		if st.State == modelcache.StateLoaded {
			loaded++
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "models_loaded": loaded, "models_total": len(statuses)})
}

// score handles POST /v1/score
func (s *Server) score(c *gin.Context) {
	var req scoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "email is required"})
		return
	}

	a, err := s.service.Score(c.Request.Context(), req.toApplication())
	if errors.Is(err, application.ErrInvalidEmail) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_email", "message": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to score email"})
		return
	}
	c.JSON(http.StatusOK, a)
}

// scoreBatch handles POST /v1/score/batch
func (s *Server) scoreBatch(c *gin.Context) {
	var req struct {
		Items []scoreRequest `json:"items" binding:"required,min=1,dive"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "items with an email each are required"})
		return
	}
	if len(req.Items) > s.opts.MaxBatchSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error":   "batch_too_large",
			"message": fmt.Sprintf("at most %d items per batch", s.opts.MaxBatchSize),
		})
		return
	}

	reqs := make([]application.ScoreRequest, len(req.Items))
	for i, item := range req.Items {
		reqs[i] = item.toApplication()
	}
	results := s.service.ScoreBatch(c.Request.Context(), reqs)
	c.JSON(http.StatusOK, gin.H{"results": results, "count": len(results)})
}

// getAssessment handles GET /v1/assessments/:id
func (s *Server) getAssessment(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_id", "message": "id must be a UUID"})
		return
	}

	a, err := s.service.GetAssessment(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to load assessment"})
		return
	}
	if a == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "assessment not found"})
		return
	}
	c.JSON(http.StatusOK, a)
}

// listAssessments handles GET /v1/assessments?since=&min_score=&limit=
func (s *Server) listAssessments(c *gin.Context) {
	since := time.Now().Add(-24 * time.Hour)
	if v := c.Query("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_since", "message": "since must be RFC3339"})
			return
		}
		since = t
	}

	minScore := 0.0
	if v := c.Query("min_score"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 || f > 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_min_score", "message": "min_score must be within [0,1]"})
			return
		}
		minScore = f
	}

	limit := 100
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_limit", "message": "limit must be within [1,1000]"})
			return
		}
		limit = n
	}

	list, err := s.service.RecentAssessments(c.Request.Context(), since, minScore, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to list assessments"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"assessments": list, "count": len(list)})
}

// listModels handles GET /admin/models
func (s *Server) listModels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"models": s.models.Status()})
}

// reloadAll handles POST /admin/models/reload
func (s *Server) reloadAll(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"models": s.models.ReloadAll(c.Request.Context())})
}

// reloadModel handles POST /admin/models/:kind/reload
func (s *Server) reloadModel(c *gin.Context) {
	status, err := s.models.Reload(c.Request.Context(), c.Param("kind"))
	if errors.Is(err, modelcache.ErrUnknownKind) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown_kind", "message": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, status)
}

// clearModel handles DELETE /admin/models/:kind
func (s *Server) clearModel(c *gin.Context) {
	err := s.models.Clear(c.Param("kind"))
	if errors.Is(err, modelcache.ErrUnknownKind) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown_kind", "message": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// explainForest handles POST /admin/forest/explain
func (s *Server) explainForest(c *gin.Context) {
	var req struct {
		Features map[string]any `json:"features" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "features object is required"})
		return
	}

	res, err := s.service.ExplainForest(c.Request.Context(), req.Features)
	if errors.Is(err, application.ErrModelUnavailable) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "model_unavailable", "message": "no random forest is loaded"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}
