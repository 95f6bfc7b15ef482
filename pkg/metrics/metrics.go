// Package metrics 提供 Prometheus helper，包含运行编排相关的 counter/gauge/histogram 模板
package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wyfcoding/quantbacktest/pkg/logger"
)

// Metrics 指标集合
type Metrics struct {
	// HTTP 请求计数
	HTTPRequestsTotal prometheus.Counter
	// HTTP 请求耗时
	HTTPRequestDuration prometheus.Histogram

	// 认领的运行任务计数（按类型）
	RunsClaimedTotal *prometheus.CounterVec
	// 成功结束的运行任务计数
	RunsSucceededTotal *prometheus.CounterVec
	// 失败结束的运行任务计数
	RunsFailedTotal *prometheus.CounterVec
	// 单个运行任务处理耗时
	RunDuration *prometheus.HistogramVec

	// 当前排队中的任务数
	BacklogQueued prometheus.Gauge
	// 当前执行中的任务数
	BacklogRunning prometheus.Gauge
	// 存活的 worker 进程数
	WorkerProcsAlive prometheus.Gauge

	// 策略评估调用计数
	EvaluationsTotal prometheus.Counter
}

// New 创建指标实例
func New(serviceName string) *Metrics {
	return &Metrics{
		HTTPRequestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "backtest",
			Subsystem: serviceName,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests",
		}),
		HTTPRequestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "backtest",
			Subsystem: serviceName,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),

		RunsClaimedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "backtest",
			Subsystem: serviceName,
			Name:      "runs_claimed_total",
			Help:      "Total runs claimed by worker loops",
		}, []string{"run_type"}),
		RunsSucceededTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "backtest",
			Subsystem: serviceName,
			Name:      "runs_succeeded_total",
			Help:      "Total runs finished successfully",
		}, []string{"run_type"}),
		RunsFailedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "backtest",
			Subsystem: serviceName,
			Name:      "runs_failed_total",
			Help:      "Total runs finished with failure",
		}, []string{"run_type"}),
		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "backtest",
			Subsystem: serviceName,
			Name:      "run_duration_seconds",
			Help:      "Run processing duration in seconds",
			Buckets:   []float64{1, 5, 15, 60, 300, 900, 3600},
		}, []string{"run_type"}),

		BacklogQueued: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "backtest",
			Subsystem: serviceName,
			Name:      "backlog_queued",
			Help:      "Number of queued runs",
		}),
		BacklogRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "backtest",
			Subsystem: serviceName,
			Name:      "backlog_running",
			Help:      "Number of running runs",
		}),
		WorkerProcsAlive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "backtest",
			Subsystem: serviceName,
			Name:      "worker_procs_alive",
			Help:      "Number of alive worker processes",
		}),

		EvaluationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "backtest",
			Subsystem: serviceName,
			Name:      "evaluations_total",
			Help:      "Total strategy evaluations performed",
		}),
	}
}

// Register 注册所有指标
func (m *Metrics) Register() error {
	collectors := []prometheus.Collector{
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.RunsClaimedTotal,
		m.RunsSucceededTotal,
		m.RunsFailedTotal,
		m.RunDuration,
		m.BacklogQueued,
		m.BacklogRunning,
		m.WorkerProcsAlive,
		m.EvaluationsTotal,
	}

	for _, collector := range collectors {
		if err := prometheus.DefaultRegisterer.Register(collector); err != nil {
			logger.Error(context.Background(), "Failed to register metric", "error", err)
			return err
		}
	}

	logger.Info(context.Background(), "Metrics registered successfully")
	return nil
}

// StartHTTPServer 启动 Prometheus HTTP 服务器
func StartHTTPServer(port int, path string) error {
	if path == "" {
		path = "/metrics"
	}

	http.Handle(path, promhttp.Handler())

	addr := fmt.Sprintf(":%d", port)
	logger.Info(context.Background(), "Starting Prometheus HTTP server", "addr", addr, "path", path)
	return http.ListenAndServe(addr, nil)
}
