package metrics

import (
	"io"
	"testing"
	"time"

	"github.com/mautops/moderation-gin/internal/config"
	"github.com/mautops/moderation-gin/internal/database"
	"github.com/mautops/moderation-gin/internal/model"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_Collect(t *testing.T) {
	db, err := database.Connect(config.DatabaseConfig{Driver: "sqlite", Path: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	now := time.Now()
	for i, status := range []string{"in_progress", "in_progress", "approved"} {
		require.NoError(t, db.Create(&model.WorkflowStateModel{
			ID:          "ws-" + string(rune('a'+i)),
			WorkflowID:  "wf-1",
			PageID:      "page-" + string(rune('a'+i)),
			RevisionID:  "rev-1",
			Status:      status,
			RequestedBy: "u-1",
			CreatedAt:   now,
			UpdatedAt:   now,
		}).Error)
	}
	require.NoError(t, db.Create(&model.TaskStateModel{
		ID:              "ts-a",
		WorkflowStateID: "ws-a",
		TaskID:          "task-1",
		Status:          "in_progress",
		Kind:            "group_approval_task_state",
		RevisionID:      "rev-1",
		StartedAt:       now,
	}).Error)

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	collector := NewCollector(db, "", logger)
	collector.Collect()

	assert.Equal(t, 2.0, testutil.ToFloat64(workflowStatesByStatus.WithLabelValues("in_progress")))
	assert.Equal(t, 1.0, testutil.ToFloat64(workflowStatesByStatus.WithLabelValues("approved")))
	assert.Equal(t, 1.0, testutil.ToFloat64(taskStatesByStatus.WithLabelValues("in_progress")))
	assert.Equal(t, 1.0, testutil.ToFloat64(databaseConnectionsMax))
}

func TestCollector_InvalidSchedule(t *testing.T) {
	collector := NewCollector(nil, "every now and then", nil)
	assert.Error(t, collector.Start())
}

func TestRecordTransition(t *testing.T) {
	before := testutil.ToFloat64(workflowTransitionsTotal.WithLabelValues("in_progress", "approved"))
	RecordTransition("in_progress", "approved")
	assert.Equal(t, before+1, testutil.ToFloat64(workflowTransitionsTotal.WithLabelValues("in_progress", "approved")))
}
