package notify

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 通知任务指标
type Metrics struct {
	claimed     prometheus.Counter
	sent        prometheus.Counter
	errors      prometheus.Counter
	digestUsers prometheus.Counter
	runSeconds  *prometheus.HistogramVec
}

// NewMetrics 创建指标并注册到 reg，reg 为 nil 时不注册
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		claimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "forum_posts_claimed_total",
			Help: "Posts claimed by the immediate notification run.",
		}),
		sent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "forum_messages_sent_total",
			Help: "Notification messages delivered to at least one channel.",
		}),
		errors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "forum_dispatch_errors_total",
			Help: "Notification messages that failed on every channel.",
		}),
		digestUsers: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "forum_digest_users_total",
			Help: "Users that received a digest.",
		}),
		runSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "forum_cron_run_seconds",
			Help:    "Duration of notification cron runs.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"job"}),
	}
	if reg != nil {
		reg.MustRegister(m.claimed, m.sent, m.errors, m.digestUsers, m.runSeconds)
	}
	return m
}

func (m *Metrics) observeRun(job string, seconds float64) {
	m.runSeconds.WithLabelValues(job).Observe(seconds)
}
