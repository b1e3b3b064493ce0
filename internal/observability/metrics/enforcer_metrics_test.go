package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestClassifyJobReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "deadline", err: fmt.Errorf("apply: %w", context.DeadlineExceeded), want: JobReasonDeadlineExceeded},
		{name: "lock_timeout", err: &pgconn.PgError{Code: "55P03"}, want: JobReasonDBLockTimeout},
		{name: "serialization", err: &pgconn.PgError{Code: "40001"}, want: JobReasonSerializationFailure},
		{name: "unique", err: gorm.ErrDuplicatedKey, want: JobReasonUniqueViolation},
		{name: "other_pg", err: &pgconn.PgError{Code: "42P01"}, want: JobReasonDB},
		{name: "unknown", err: errors.New("boom"), want: JobReasonUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifyJobReason(tc.err))
		})
	}
}

func TestEnforcerCounters(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewEnforcerMetricsForTest(registry)

	m.IncOutcome("grace_periods", "deactivated")
	m.AddDeactivatedUsers(2)
	m.AddDeactivatedUsers(0)
	m.IncJobError("apply_plan_changes", errors.New("boom"))

	assert.Equal(t, float64(1), testutil.ToFloat64(m.outcomes.WithLabelValues("grace_periods", "deactivated")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.deactivatedUsers))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.jobErrors.WithLabelValues("apply_plan_changes", JobReasonUnknown)))
}
