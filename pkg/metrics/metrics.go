package metrics

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// 全局 Registry，供 API/Worker 注册与暴露
var DefaultRegistry = prometheus.NewRegistry()

func init() {
	DefaultRegistry.MustRegister(
		LedgerWriteTotal, LedgerWriteDuration, AnchorFailTotal, AnchorRetryTotal,
		DispatchTransitionTotal, StepUpVerifyTotal, StepUpIssuedTotal,
		AnchorWorkerBusy,
	)
}

// LedgerWriteTotal 账本写入结果计数
var LedgerWriteTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "dispatchledger_ledger_write_total",
		Help: "账本写入总数（按结果）",
	},
	[]string{"outcome"}, // written | already_recorded | failed
)

// LedgerWriteDuration 单次 RecordVerifiedEvent 耗时（秒），含确认等待
var LedgerWriteDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "dispatchledger_ledger_write_duration_seconds",
		Help:    "账本写入耗时（秒）",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	},
	[]string{"network"},
)

// AnchorFailTotal 锚定失败计数（按错误类别）
var AnchorFailTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "dispatchledger_anchor_fail_total",
		Help: "锚定失败总数",
	},
	[]string{"kind"}, // misconfigured | insufficient_funds | unauthorized_signer | confirmation_timeout | ...
)

// AnchorRetryTotal 锚定重试结果
var AnchorRetryTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "dispatchledger_anchor_retry_total",
		Help: "锚定重试总数（按结果）",
	},
	[]string{"result"}, // anchored | failed | skipped
)

// DispatchTransitionTotal 派遣状态迁移计数
var DispatchTransitionTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "dispatchledger_dispatch_transition_total",
		Help: "派遣状态迁移总数",
	},
	[]string{"from", "to"},
)

// StepUpVerifyTotal 二次验证结果
var StepUpVerifyTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "dispatchledger_stepup_verify_total",
		Help: "二次验证校验总数（按结果）",
	},
	[]string{"result"}, // ok | mismatch | expired | too_many_attempts | error
)

// StepUpIssuedTotal 已签发的二次验证挑战
var StepUpIssuedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "dispatchledger_stepup_issued_total",
		Help: "已签发的二次验证挑战总数",
	},
)

// AnchorWorkerBusy 正在执行的锚定重试数（每 Worker）
var AnchorWorkerBusy = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "dispatchledger_anchor_worker_busy",
		Help: "正在执行的锚定重试数",
	},
	[]string{"worker_id"},
)

// WritePrometheus 将 Prometheus 文本格式写入 w（供 Hertz 等复用）
func WritePrometheus(w io.Writer) error {
	metrics, err := DefaultRegistry.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.FmtText)
	for _, mf := range metrics {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
