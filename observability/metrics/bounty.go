package metrics

import (
	"math/big"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// BountyMetrics tracks registry transitions and the value held in escrow.
type BountyMetrics struct {
	transitions  *prometheus.CounterVec
	rejections   *prometheus.CounterVec
	escrowLocked *prometheus.GaugeVec
	swept        prometheus.Counter
}

var (
	bountyOnce     sync.Once
	bountyRegistry *BountyMetrics
)

// Bounty returns the lazily registered bounty metric set.
func Bounty() *BountyMetrics {
	bountyOnce.Do(func() {
		bountyRegistry = &BountyMetrics{
			transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "bounty",
				Subsystem: "registry",
				Name:      "transitions_total",
				Help:      "Committed bounty operations by action.",
			}, []string{"action"}),
			rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "bounty",
				Subsystem: "registry",
				Name:      "rejections_total",
				Help:      "Bounty operations that failed, by action and reason.",
			}, []string{"action", "reason"}),
			escrowLocked: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "bounty",
				Subsystem: "escrow",
				Name:      "locked",
				Help:      "Balance held by the bounty vault per token.",
			}, []string{"token"}),
			swept: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "bounty",
				Subsystem: "sweeper",
				Name:      "expired_total",
				Help:      "Bounties marked expired by the background sweeper.",
			}),
		}
		prometheus.MustRegister(
			bountyRegistry.transitions,
			bountyRegistry.rejections,
			bountyRegistry.escrowLocked,
			bountyRegistry.swept,
		)
	})
	return bountyRegistry
}

// ObserveTransition counts a committed operation.
func (m *BountyMetrics) ObserveTransition(action string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(label(action)).Inc()
}

// ObserveRejection counts a failed operation.
func (m *BountyMetrics) ObserveRejection(action, reason string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(label(action), label(reason)).Inc()
}

// SetEscrowLocked publishes the vault balance for token.
func (m *BountyMetrics) SetEscrowLocked(token string, amount *big.Int) {
	if m == nil {
		return
	}
	value := 0.0
	if amount != nil {
		value, _ = new(big.Float).SetInt(amount).Float64()
	}
	m.escrowLocked.WithLabelValues(label(strings.ToUpper(token))).Set(value)
}

// AddSwept records bounties expired by a sweep.
func (m *BountyMetrics) AddSwept(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.swept.Add(float64(count))
}

func label(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
