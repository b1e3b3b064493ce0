package integrity

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/siteledger/internal/clock"
	"github.com/smallbiznis/siteledger/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRecordDeduplicates(t *testing.T) {
	db := dbtest.Open(t)
	rec := NewRecorder(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: dbtest.Node(t),
		Clock: clock.NewFakeClock(time.Date(2025, time.May, 1, 0, 0, 0, 0, time.UTC)),
	})
	alert := Alert{
		Kind:        KindMultiplePendingGracePeriods,
		SubjectType: "organization",
		SubjectID:   "77",
		Details:     map[string]any{"open": 2},
	}

	require.NoError(t, rec.Record(context.Background(), alert))
	require.NoError(t, rec.Record(context.Background(), alert))

	var rows []Record
	require.NoError(t, db.Raw(`SELECT id, kind, subject_type, subject_id, details, dedupe_key, created_at FROM integrity_alerts`).Scan(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, "multiple_pending_grace_periods:organization:77", rows[0].DedupeKey)
	assert.JSONEq(t, `{"open":2}`, string(rows[0].Details))
}
