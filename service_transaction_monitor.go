package devicekit

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// TransactionMetrics provides transaction performance and failure statistics.
type TransactionMetrics struct {
	TotalTransactions      int64         `json:"total_transactions"`
	SuccessfulTransactions int64         `json:"successful_transactions"`
	RejectedTransactions   int64         `json:"rejected_transactions"`
	FailedTransactions     int64         `json:"failed_transactions"`
	AverageDuration        time.Duration `json:"average_duration"`
	MaxDuration            time.Duration `json:"max_duration"`
	LastReset              time.Time     `json:"last_reset"`
}

// txOutcome labels a finished transaction.
type txOutcome string

const (
	txCommitted  txOutcome = "committed"
	txRejected   txOutcome = "rejected"    // rolled back by a classified business error
	txRolledBack txOutcome = "rolled_back" // rolled back by anything else; counts as a failure
)

// classifyTransaction maps the error returned by a unit of work to its outcome.
func classifyTransaction(err error) txOutcome {
	switch {
	case err == nil:
		return txCommitted
	case IsConflict(err), IsNotFound(err), IsForbidden(err), IsInvalidInput(err):
		return txRejected
	default:
		return txRolledBack
	}
}

// transactionMonitor holds the internal transaction monitoring state and
// mirrors it into Prometheus collectors.
type transactionMonitor struct {
	totalCount    int64
	successCount  int64
	rejectCount   int64
	failureCount  int64
	totalDuration int64 // nanoseconds
	maxDuration   int64 // nanoseconds
	lastReset     time.Time
	mu            sync.RWMutex

	txTotal    *prometheus.CounterVec
	txDuration prometheus.Histogram
}

// newTransactionMonitor creates a new transaction monitor
func newTransactionMonitor() *transactionMonitor {
	return &transactionMonitor{
		lastReset: time.Now(),
		txTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "devicekit",
			Name:      "transactions_total",
			Help:      "Store transactions by outcome.",
		}, []string{"outcome"}),
		txDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "devicekit",
			Name:      "transaction_duration_seconds",
			Help:      "Duration of store transactions.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// recordTransaction records a transaction completion with its duration and outcome
func (tm *transactionMonitor) recordTransaction(duration time.Duration, outcome txOutcome) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	atomic.AddInt64(&tm.totalCount, 1)
	atomic.AddInt64(&tm.totalDuration, int64(duration))

	switch outcome {
	case txCommitted:
		atomic.AddInt64(&tm.successCount, 1)
	case txRejected:
		atomic.AddInt64(&tm.rejectCount, 1)
	default:
		atomic.AddInt64(&tm.failureCount, 1)
	}
	tm.txTotal.WithLabelValues(string(outcome)).Inc()
	tm.txDuration.Observe(duration.Seconds())

	durationNs := int64(duration)
	for {
		current := atomic.LoadInt64(&tm.maxDuration)
		if durationNs <= current || atomic.CompareAndSwapInt64(&tm.maxDuration, current, durationNs) {
			break
		}
	}
}

// getMetrics returns the current transaction metrics
func (tm *transactionMonitor) getMetrics() TransactionMetrics {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	total := atomic.LoadInt64(&tm.totalCount)
	totalDur := atomic.LoadInt64(&tm.totalDuration)

	var avgDuration time.Duration
	if total > 0 {
		avgDuration = time.Duration(totalDur / total)
	}

	return TransactionMetrics{
		TotalTransactions:      total,
		SuccessfulTransactions: atomic.LoadInt64(&tm.successCount),
		RejectedTransactions:   atomic.LoadInt64(&tm.rejectCount),
		FailedTransactions:     atomic.LoadInt64(&tm.failureCount),
		AverageDuration:        avgDuration,
		MaxDuration:            time.Duration(atomic.LoadInt64(&tm.maxDuration)),
		LastReset:              tm.lastReset,
	}
}

// reset resets the counters. Prometheus collectors are cumulative and keep counting.
func (tm *transactionMonitor) reset() {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	atomic.StoreInt64(&tm.totalCount, 0)
	atomic.StoreInt64(&tm.successCount, 0)
	atomic.StoreInt64(&tm.rejectCount, 0)
	atomic.StoreInt64(&tm.failureCount, 0)
	atomic.StoreInt64(&tm.totalDuration, 0)
	atomic.StoreInt64(&tm.maxDuration, 0)
	tm.lastReset = time.Now()
}

// Collectors returns the Prometheus collectors of the service.
//
// Example:
//
//	prometheus.MustRegister(service.Collectors()...)
func (s *Service) Collectors() []prometheus.Collector {
	return []prometheus.Collector{s.txMonitor.txTotal, s.txMonitor.txDuration}
}

// GetTransactionMetrics returns the current transaction performance metrics.
func (s *Service) GetTransactionMetrics() TransactionMetrics {
	return s.txMonitor.getMetrics()
}

// ResetTransactionMetrics resets all transaction metrics.
func (s *Service) ResetTransactionMetrics() {
	s.txMonitor.reset()
}

// IsTransactionHealthy checks if transaction performance is within acceptable thresholds.
// Rejected transactions (conflicts, missing rows, denied access, bad input)
// count toward the total but never as failures.
func (s *Service) IsTransactionHealthy() bool {
	metrics := s.txMonitor.getMetrics()

	// If we have very few transactions, consider it healthy
	if metrics.TotalTransactions < 10 {
		return true
	}

	failureRate := float64(metrics.FailedTransactions) / float64(metrics.TotalTransactions)
	if failureRate > 0.5 {
		return false
	}

	if metrics.AverageDuration > time.Second {
		return false
	}

	return true
}
