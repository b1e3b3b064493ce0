package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	JobReasonDeadlineExceeded     = "deadline_exceeded"
	JobReasonDBLockTimeout        = "db_lock_timeout"
	JobReasonSerializationFailure = "serialization_failure"
	JobReasonUniqueViolation      = "unique_violation"
	JobReasonDB                   = "db"
	JobReasonUnknown              = "unknown"
)

// EnforcerMetrics captures grace period enforcer health.
type EnforcerMetrics struct {
	runs               *prometheus.CounterVec
	jobRuns            *prometheus.CounterVec
	jobDuration        *prometheus.HistogramVec
	jobTimeouts        *prometheus.CounterVec
	jobErrors          *prometheus.CounterVec
	outcomes           *prometheus.CounterVec
	deactivatedUsers   prometheus.Counter
	gracePeriodsOpened prometheus.Counter
}

var (
	enforcerMetricsOnce sync.Once
	enforcerMetrics     *EnforcerMetrics
)

// Enforcer returns the process-wide enforcer metrics.
func Enforcer() *EnforcerMetrics {
	return EnforcerWithConfig(Config{})
}

// EnforcerWithConfig returns the singleton, registering it on first use with
// the service and env const labels from cfg.
func EnforcerWithConfig(cfg Config) *EnforcerMetrics {
	enforcerMetricsOnce.Do(func() {
		enforcerMetrics = newEnforcerMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return enforcerMetrics
}

// ResetEnforcerMetricsForTest drops the singleton so tests can swap registries.
func ResetEnforcerMetricsForTest() {
	enforcerMetricsOnce = sync.Once{}
	enforcerMetrics = nil
}

// NewEnforcerMetricsForTest registers a fresh set of collectors on registerer.
func NewEnforcerMetricsForTest(registerer prometheus.Registerer) *EnforcerMetrics {
	return newEnforcerMetrics(registerer, Config{ServiceName: "siteledger", Environment: "test"})
}

func newEnforcerMetrics(registerer prometheus.Registerer, cfg Config) *EnforcerMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "siteledger"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{"service": serviceName, "env": environment}

	m := &EnforcerMetrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "siteledger_enforcer_runs_total",
			Help:        "Enforcer runs by trigger and result.",
			ConstLabels: constLabels,
		}, []string{"trigger", "result"}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "siteledger_enforcer_job_runs_total",
			Help:        "Enforcer job executions.",
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "siteledger_enforcer_job_duration_seconds",
			Help:        "Enforcer job latency.",
			Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "siteledger_enforcer_job_timeouts_total",
			Help:        "Enforcer jobs that hit their deadline.",
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "siteledger_enforcer_job_errors_total",
			Help:        "Enforcer item failures by low-cardinality reason.",
			ConstLabels: constLabels,
		}, []string{"job", "reason"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "siteledger_enforcer_outcomes_total",
			Help:        "Per-contract enforcer outcomes.",
			ConstLabels: constLabels,
		}, []string{"job", "status"}),
		deactivatedUsers: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "siteledger_enforcer_deactivated_users_total",
			Help:        "Users deactivated after a grace period expired.",
			ConstLabels: constLabels,
		}),
		gracePeriodsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "siteledger_enforcer_grace_periods_opened_total",
			Help:        "Grace periods opened for seat overages.",
			ConstLabels: constLabels,
		}),
	}

	registerer.MustRegister(
		m.runs,
		m.jobRuns,
		m.jobDuration,
		m.jobTimeouts,
		m.jobErrors,
		m.outcomes,
		m.deactivatedUsers,
		m.gracePeriodsOpened,
	)
	return m
}

func (m *EnforcerMetrics) IncRun(trigger, result string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(trigger, result).Inc()
}

func (m *EnforcerMetrics) IncJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

func (m *EnforcerMetrics) ObserveJobDuration(job string, d time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(d.Seconds())
}

func (m *EnforcerMetrics) IncJobTimeout(job string) {
	if m == nil {
		return
	}
	m.jobTimeouts.WithLabelValues(job).Inc()
}

func (m *EnforcerMetrics) IncJobError(job string, err error) {
	if m == nil || err == nil {
		return
	}
	m.jobErrors.WithLabelValues(job, ClassifyJobReason(err)).Inc()
}

func (m *EnforcerMetrics) IncOutcome(job, status string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(job, status).Inc()
}

func (m *EnforcerMetrics) AddDeactivatedUsers(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.deactivatedUsers.Add(float64(n))
}

func (m *EnforcerMetrics) IncGracePeriodOpened() {
	if m == nil {
		return
	}
	m.gracePeriodsOpened.Inc()
}

// ClassifyJobReason maps an enforcer error to a low-cardinality reason.
func ClassifyJobReason(err error) string {
	switch {
	case err == nil:
		return JobReasonUnknown
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		return JobReasonDeadlineExceeded
	case hasPGCode(err, "55P03"):
		return JobReasonDBLockTimeout
	case hasPGCode(err, "40001"):
		return JobReasonSerializationFailure
	case errors.Is(err, gorm.ErrDuplicatedKey) || hasPGCode(err, "23505"):
		return JobReasonUniqueViolation
	case isDBError(err):
		return JobReasonDB
	}
	return JobReasonUnknown
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}

func isDBError(err error) bool {
	if errors.Is(err, gorm.ErrInvalidDB) ||
		errors.Is(err, gorm.ErrInvalidTransaction) ||
		errors.Is(err, gorm.ErrInvalidData) ||
		errors.Is(err, gorm.ErrInvalidValue) ||
		errors.Is(err, gorm.ErrMissingWhereClause) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr)
}
