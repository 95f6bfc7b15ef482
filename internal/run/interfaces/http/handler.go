// Package http 提供运行编排的 REST 接口
package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/wyfcoding/quantbacktest/internal/run/application"
	"github.com/wyfcoding/quantbacktest/internal/run/domain"
	"github.com/wyfcoding/quantbacktest/pkg/logger"
	"github.com/wyfcoding/quantbacktest/pkg/metrics"
	"github.com/wyfcoding/quantbacktest/pkg/response"
)

// Handler 运行编排 HTTP 处理器
type Handler struct {
	commands *application.CommandService
	queries  *application.QueryService
}

// NewHandler 创建处理器
func NewHandler(commands *application.CommandService, queries *application.QueryService) *Handler {
	return &Handler{commands: commands, queries: queries}
}

// RegisterRoutes 注册路由
func (h *Handler) RegisterRoutes(r *gin.Engine, m *metrics.Metrics) {
	r.Use(requestMetrics(m))

	v1 := r.Group("/api/v1")
	{
		v1.POST("/backtests", h.enqueue(domain.RunTypeBacktest))
		v1.POST("/optimizations", h.enqueue(domain.RunTypeOptimize))
		v1.POST("/walkforwards", h.enqueue(domain.RunTypeWalkForward))

		v1.GET("/backtests", h.list(domain.RunTypeBacktest))
		v1.GET("/optimizations", h.list(domain.RunTypeOptimize))
		v1.GET("/walkforwards", h.list(domain.RunTypeWalkForward))

		v1.GET("/runs/:id", h.detail)
		v1.GET("/runs/:id/logs", h.logs)
	}

	r.GET("/health", func(c *gin.Context) {
		response.Success(c, gin.H{"status": "ok"})
	})
}

// requestMetrics 请求计数与耗时中间件
func requestMetrics(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		m.HTTPRequestsTotal.Inc()
		m.HTTPRequestDuration.Observe(time.Since(start).Seconds())
	}
}

// enqueue 三类提交接口共用的入队处理
func (h *Handler) enqueue(runType domain.RunType) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req application.EnqueueRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.ErrorWithStatus(c, http.StatusBadRequest, err.Error())
			return
		}

		var run *domain.Run
		var err error
		switch runType {
		case domain.RunTypeBacktest:
			run, err = h.commands.EnqueueBacktest(c.Request.Context(), &req)
		case domain.RunTypeOptimize:
			run, err = h.commands.EnqueueOptimize(c.Request.Context(), &req)
		default:
			run, err = h.commands.EnqueueWalkForward(c.Request.Context(), &req)
		}
		if err != nil {
			response.ErrorWithStatus(c, http.StatusBadRequest, err.Error())
			return
		}

		response.Accepted(c, gin.H{
			"run_id": strconv.FormatInt(run.ID, 10),
			"status": run.Status,
		})
	}
}

// list 按类型分页列表
func (h *Handler) list(runType domain.RunType) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

		runs, err := h.queries.ListRuns(c.Request.Context(), runType, limit, offset)
		if err != nil {
			logger.Error(c.Request.Context(), "Failed to list runs", "run_type", runType, "error", err)
			response.ErrorWithStatus(c, http.StatusInternalServerError, "failed to list runs")
			return
		}
		response.Success(c, gin.H{"runs": runs, "count": len(runs)})
	}
}

// detail 运行详情：头记录、结果与类型相关子记录
func (h *Handler) detail(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid run id")
		return
	}

	detail, err := h.queries.GetRunDetail(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrRunNotFound) {
			response.ErrorWithStatus(c, http.StatusNotFound, "run not found")
			return
		}
		logger.Error(c.Request.Context(), "Failed to load run detail", "run_id", id, "error", err)
		response.ErrorWithStatus(c, http.StatusInternalServerError, "failed to load run detail")
		return
	}
	response.Success(c, detail)
}

// logs 分页读取运行日志流
func (h *Handler) logs(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid run id")
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "200"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	entries, err := h.queries.GetRunLogs(c.Request.Context(), id, limit, offset)
	if err != nil {
		if errors.Is(err, domain.ErrRunNotFound) {
			response.ErrorWithStatus(c, http.StatusNotFound, "run not found")
			return
		}
		logger.Error(c.Request.Context(), "Failed to load run logs", "run_id", id, "error", err)
		response.ErrorWithStatus(c, http.StatusInternalServerError, "failed to load run logs")
		return
	}
	response.Success(c, gin.H{"logs": entries, "count": len(entries)})
}
