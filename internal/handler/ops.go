package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"smart-progress/internal/identity"
	"smart-progress/internal/model"
	"smart-progress/internal/scheduler"
	"smart-progress/internal/service"
	"smart-progress/internal/store"
)

type HealthChecker interface {
	Check(ctx context.Context) service.HealthReport
}

type JobLister interface {
	Status() []scheduler.JobStatus
}

type ReportReader interface {
	Daily(ctx context.Context, date string) (model.DailyReport, error)
	Weekly(ctx context.Context, weekStart string) (model.WeeklyReport, error)
}

type IdentityDirectory interface {
	List(ctx context.Context) ([]model.Identity, error)
	Merge(ctx context.Context, fromSpace model.IdentitySpace, fromID string, toSpace model.IdentitySpace, toID string) (model.Identity, error)
}

// OpsHandler serves health, job status, stored reports and identity links.
type OpsHandler struct {
	health     HealthChecker
	jobs       JobLister
	reports    ReportReader
	identities IdentityDirectory
}

func NewOpsHandler(health HealthChecker, jobs JobLister, reports ReportReader, identities IdentityDirectory) *OpsHandler {
	return &OpsHandler{health: health, jobs: jobs, reports: reports, identities: identities}
}

// Mount registers the routes. /healthz is public, everything under /api goes
// through auth.
func (h *OpsHandler) Mount(r gin.IRouter, auth gin.HandlerFunc) {
	r.GET("/healthz", h.Health)
	api := r.Group("/api", auth)
	api.GET("/jobs", h.Jobs)
	api.GET("/reports/daily/:date", h.Daily)
	api.GET("/reports/weekly/:start", h.Weekly)
	api.GET("/identities", h.Identities)
	api.POST("/identities/link", h.LinkIdentity)
}

// GET /healthz
func (h *OpsHandler) Health(c *gin.Context) {
	rep := h.health.Check(c.Request.Context())
	code := http.StatusOK
	if rep.Status == service.Unhealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, rep)
}

// GET /api/jobs
func (h *OpsHandler) Jobs(c *gin.Context) {
	c.JSON(http.StatusOK, h.jobs.Status())
}

// GET /api/reports/daily/:date
func (h *OpsHandler) Daily(c *gin.Context) {
	date, ok := dateParam(c, "date")
	if !ok {
		return
	}
	r, err := h.reports.Daily(c.Request.Context(), date)
	if !h.found(c, err) {
		return
	}
	c.JSON(http.StatusOK, r)
}

// GET /api/reports/weekly/:start
func (h *OpsHandler) Weekly(c *gin.Context) {
	start, ok := dateParam(c, "start")
	if !ok {
		return
	}
	r, err := h.reports.Weekly(c.Request.Context(), start)
	if !h.found(c, err) {
		return
	}
	c.JSON(http.StatusOK, r)
}

// GET /api/identities
func (h *OpsHandler) Identities(c *gin.Context) {
	list, err := h.identities.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if list == nil {
		list = []model.Identity{}
	}
	c.JSON(http.StatusOK, list)
}

// POST /api/identities/link  body: {"from":"chat:U123","to":"tracker:42"}
func (h *OpsHandler) LinkIdentity(c *gin.Context) {
	var req struct {
		From string `json:"from" binding:"required"`
		To   string `json:"to" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	fromSpace, fromID, err := identity.ParseRef(req.From)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	toSpace, toID, err := identity.ParseRef(req.To)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ident, err := h.identities.Merge(c.Request.Context(), fromSpace, fromID, toSpace, toID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, ident)
}

func (h *OpsHandler) found(c *gin.Context, err error) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
	return false
}

func dateParam(c *gin.Context, name string) (string, bool) {
	v := c.Param(name)
	if _, err := time.Parse(model.DateLayout, v); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date, want YYYY-MM-DD"})
		return "", false
	}
	return v, true
}
