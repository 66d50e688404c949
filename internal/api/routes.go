package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/shopfloor/internal/capacity"
	"github.com/zulandar/shopfloor/internal/lifecycle"
	"github.com/zulandar/shopfloor/internal/workorder"
	"gorm.io/gorm"
)

// registerRoutes sets up all API routes on the Gin router.
func registerRoutes(router *gin.Engine, db *gorm.DB, engine *lifecycle.Engine) {
	router.GET("/api/healthz", handleHealthz(db))
	router.GET("/api/jobs/:id", handleJob(db))
	router.GET("/api/operations/:id", handleOperation(db))
	router.GET("/api/cells", handleCells(db))

	router.POST("/api/operations/:id/start", handleStart(engine))
	router.POST("/api/operations/:id/pause", handlePause(engine))
	router.POST("/api/operations/:id/resume", handleResume(engine))
	router.POST("/api/operations/:id/complete", handleComplete(engine))
	router.POST("/api/jobs/:id/hold", handleHoldJob(engine))
	router.POST("/api/jobs/:id/resume", handleResumeJob(engine))
}

func handleHealthz(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.Ping()
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func handleJob(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		job, err := workorder.GetJob(db, c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, job)
	}
}

func handleOperation(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		op, err := workorder.GetOperation(db, c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, op)
	}
}

func handleCells(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		loads, err := capacity.Snapshot(db)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"cells": loads})
	}
}

// actorRequest is the body for start and resume commands.
type actorRequest struct {
	OperatorID string `json:"operatorId" binding:"required"`
}

func handleStart(engine *lifecycle.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req actorRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		op, err := engine.StartOperation(c.Param("id"), req.OperatorID)
		if err != nil {
			renderError(c, err)
			return
		}
		c.JSON(http.StatusOK, op)
	}
}

func handlePause(engine *lifecycle.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := engine.PauseOperation(c.Param("id")); err != nil {
			renderError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "paused"})
	}
}

func handleResume(engine *lifecycle.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req actorRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := engine.ResumeOperation(c.Param("id"), req.OperatorID); err != nil {
			renderError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "in_progress"})
	}
}

// completeRequest is the body for the complete command.
type completeRequest struct {
	Good        int               `json:"good"`
	Scrap       int               `json:"scrap"`
	ScrapReason string            `json:"scrapReason"`
	Detail      map[string]string `json:"detail"`
}

func handleComplete(engine *lifecycle.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req completeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		result, err := engine.CompleteOperation(c.Param("id"), lifecycle.Quantities{
			Good:        req.Good,
			Scrap:       req.Scrap,
			ScrapReason: req.ScrapReason,
			Detail:      req.Detail,
		})
		if err != nil {
			renderError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"operation":        result.Operation,
			"capacity":         result.Capacity,
			"actualSeconds":    result.ActualSeconds,
			"alreadyCompleted": result.AlreadyCompleted,
		})
	}
}

func handleHoldJob(engine *lifecycle.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := engine.HoldJob(c.Param("id")); err != nil {
			renderError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "on_hold"})
	}
}

func handleResumeJob(engine *lifecycle.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := engine.ResumeJob(c.Param("id")); err != nil {
			renderError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "resumed"})
	}
}

// renderError maps engine error kinds to HTTP statuses: missing entities
// are 404, bad transitions 409, a refused capacity gate 422, exhausted
// conflict retries 503, anything else 500.
func renderError(c *gin.Context, err error) {
	var blocked *lifecycle.CapacityBlockedError
	switch {
	case errors.Is(err, lifecycle.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, lifecycle.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, &blocked):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error": blocked.Error(),
			"cell":  blocked.CellID,
			"wip":   blocked.WIP,
			"limit": blocked.Limit,
		})
	case errors.Is(err, lifecycle.ErrConflict):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
