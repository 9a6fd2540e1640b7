// Package metrics 提供 futurerent-chain 服务的 Prometheus 监控指标
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "futurerent_chain"

// INCO 机密计算指标
var (
	// IncoComputeFailuresTotal INCO 计算失败总数
	IncoComputeFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inco_compute_failures_total",
			Help:      "INCO 机密计算失败总数",
		},
		[]string{"reason"}, // transient, permanent, circuit_open, invalid_status
	)

	// IncoComputeDuration INCO 计算耗时
	IncoComputeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "inco_compute_seconds",
			Help:      "INCO 机密计算耗时(秒)",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)
)

// 链上提交指标
var (
	// OnchainSubmissionsTotal 链上收益结算提交总数
	OnchainSubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payout_onchain_submissions_total",
			Help:      "链上收益结算提交总数",
		},
		[]string{"status"}, // success, failed
	)

	// OnchainSubmissionDuration 链上提交确认耗时
	OnchainSubmissionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "payout_onchain_submission_seconds",
			Help:      "链上收益结算提交确认耗时(秒)",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
		},
	)
)

// 事件同步指标
var (
	// EventsSyncedTotal 已同步链上事件总数
	EventsSyncedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_synced_total",
			Help:      "已同步链上事件总数",
		},
		[]string{"mode"}, // historical, live, resync
	)

	// EventSyncErrorsTotal 事件同步错误总数
	EventSyncErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_sync_errors_total",
			Help:      "事件同步错误总数",
		},
	)

	// LatestSyncedBlockGauge 最近一次同步扫描到的区块高度
	LatestSyncedBlockGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "latest_synced_block",
			Help:      "最近一次同步扫描到的区块高度",
		},
	)
)

// gRPC 服务指标
var (
	// GRPCRequestsTotal gRPC 请求总数
	GRPCRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grpc_requests_total",
			Help:      "gRPC 请求总数",
		},
		[]string{"method", "code"},
	)
)

// Helper functions

// RecordIncoFailure 记录 INCO 计算失败
func RecordIncoFailure(reason string) {
	IncoComputeFailuresTotal.WithLabelValues(reason).Inc()
}

// RecordIncoCompute 记录 INCO 计算耗时
func RecordIncoCompute(durationSeconds float64) {
	IncoComputeDuration.Observe(durationSeconds)
}

// RecordOnchainSubmission 记录链上提交结果
func RecordOnchainSubmission(status string, durationSeconds float64) {
	OnchainSubmissionsTotal.WithLabelValues(status).Inc()
	if durationSeconds > 0 {
		OnchainSubmissionDuration.Observe(durationSeconds)
	}
}

// RecordEventSynced 记录同步的链上事件
func RecordEventSynced(mode string) {
	EventsSyncedTotal.WithLabelValues(mode).Inc()
}

// RecordSyncError 记录同步错误
func RecordSyncError() {
	EventSyncErrorsTotal.Inc()
}

// UpdateLatestSyncedBlock 更新同步区块高度
func UpdateLatestSyncedBlock(block uint64) {
	LatestSyncedBlockGauge.Set(float64(block))
}

// RecordGRPCRequest 记录 gRPC 请求
func RecordGRPCRequest(method, code string) {
	GRPCRequestsTotal.WithLabelValues(method, code).Inc()
}
