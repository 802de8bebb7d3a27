// ABOUTME: Prometheus metrics for the AirTunes engine
// ABOUTME: Counts packets, resends, timing replies, binds and session errors
package airtunes

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "airtunes"

// Metrics groups the collectors shared by the UDP servers and devices
type Metrics struct {
	packetsSent    *prometheus.CounterVec
	packetsResent  *prometheus.CounterVec
	resendMisses   *prometheus.CounterVec
	resendRequests prometheus.Counter
	timingReplies  prometheus.Counter
	controlSyncs   prometheus.Counter
	portBinds      *prometheus.CounterVec
	sessionsActive prometheus.Gauge
	sessionErrors  *prometheus.CounterVec
}

// NewMetrics registers the collectors with reg. A nil reg uses a private registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		packetsSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "packets_sent_total",
			Help:      "Audio packets sent to a device",
		}, []string{"device"}),
		packetsResent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "packets_resent_total",
			Help:      "Audio packets resent from history",
		}, []string{"device"}),
		resendMisses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "resend_misses_total",
			Help:      "Resend requests for packets no longer in history",
		}, []string{"device"}),
		resendRequests: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "resend_requests_total",
			Help:      "Resend requests received on the control socket",
		}),
		timingReplies: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "timing_replies_total",
			Help:      "Timing replies sent",
		}),
		controlSyncs: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "control_syncs_total",
			Help:      "Control sync packets sent",
		}),
		portBinds: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "port_binds_total",
			Help:      "Timing/control port binding attempts by result",
		}, []string{"result"}),
		sessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "sessions_active",
			Help:      "Device sessions started and not yet stopped",
		}),
		sessionErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "session_errors_total",
			Help:      "Errors raised by device sessions by kind",
		}, []string{"kind"}),
	}
}
