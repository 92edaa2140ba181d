package monitoring

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"hattivatti/core/models"
	"hattivatti/core/pipeline"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreState(t *testing.T) {
	tests := []struct {
		name string
		job  models.Job
		want string
	}{
		{name: "invalid", job: models.Job{}, want: StoreStateInvalid},
		{name: "pending", job: models.Job{Valid: true}, want: StoreStatePending},
		{name: "staged", job: models.Job{Valid: true, Staged: true}, want: StoreStateStaged},
		{name: "submitted", job: models.Job{Valid: true, Staged: true, Submitted: true}, want: StoreStateSubmitted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StoreState(&tt.job))
		})
	}
}

func TestMetricsExporter_WriteFile(t *testing.T) {
	me := NewMetricsExporter()
	summary := &pipeline.Summary{Listed: 3, Ingested: 2, Invalid: 1, Duplicates: 1, Rendered: 1, Submitted: 1}
	jobs := []models.Job{
		{},
		{Valid: true, Staged: true, Submitted: true},
		{Valid: true, Staged: true, Submitted: true},
	}
	me.Record(summary, jobs, false, time.Unix(1709296200, 0))

	path := filepath.Join(t.TempDir(), "hattivatti.prom")
	require.NoError(t, me.WriteFile(path))

	out, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(out)

	assert.Contains(t, text, `hattivatti_run_messages{outcome="listed"} 3`)
	assert.Contains(t, text, `hattivatti_run_messages{outcome="duplicate"} 1`)
	assert.Contains(t, text, `hattivatti_run_jobs{outcome="submitted"} 1`)
	assert.Contains(t, text, `hattivatti_run_jobs{outcome="failed"} 0`)
	assert.Contains(t, text, `hattivatti_store_jobs{state="submitted"} 2`)
	assert.Contains(t, text, `hattivatti_store_jobs{state="invalid"} 1`)
	assert.Contains(t, text, `hattivatti_store_jobs{state="pending"} 0`)
	assert.Contains(t, text, "hattivatti_run_dry_run 0")
	assert.Contains(t, text, "hattivatti_last_run_timestamp_seconds 1.7092962e+09")
}

func TestMetricsExporter_WriteFileMissingDir(t *testing.T) {
	me := NewMetricsExporter()
	err := me.WriteFile(filepath.Join(t.TempDir(), "missing", "hattivatti.prom"))
	assert.Error(t, err)
}
