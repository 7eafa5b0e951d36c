package transfer

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/David-Botos/story-ingress/pkg/attachment"
	"github.com/David-Botos/story-ingress/pkg/model"
)

func TestStageReport_Tallies(t *testing.T) {
	report := NewMigrationReport("run-1", false)
	stage := report.StartStage(model.EntityMedia, "media")
	stage.Fetched = 3

	stage.Record("md1", "md1/att1", Created("m-1"))
	stage.Record("md1", "md1/att2", SkippedExisting("m-2"))
	stage.Record("md2", "md2/0", Failed(attachment.ErrTooLarge))
	stage.RecordAttachment("md1/att1", false, nil)
	stage.RecordAttachment("md1/att3", true, nil)
	stage.RecordAttachment("md2/0", false, attachment.ErrTooLarge)
	stage.Complete()

	assert.Equal(t, 1, stage.Created)
	assert.Equal(t, 1, stage.SkippedExisting)
	assert.Equal(t, 3, stage.Outcomes())
	assert.Equal(t, 1, stage.Unaccounted, "md3 never produced an outcome")
	assert.Equal(t, []string{"md1/att1", "md1/att2"}, stage.Persisted())
	assert.Equal(t, 1, stage.Attachments.Transferred)
	assert.Equal(t, 1, stage.Attachments.Reused)
	require.Len(t, stage.Attachments.Failed, 1)
	assert.Equal(t, KindAttachmentTooLarge, stage.Attachments.Failed[0].Kind)

	// The failed attachment and its failed row count once
	assert.Equal(t, 1, report.FailureCount())
}

func TestMigrationReport_JSON(t *testing.T) {
	report := NewMigrationReport("run-1", true)
	stage := report.StartStage(model.EntityStoryteller, "storyteller")
	stage.Fetched = 2
	stage.Record("rec123", "rec123", Created("st-1"))
	stage.Record("rec456", "rec456", Failed(errors.New("boom")))
	stage.Complete()
	report.StartStage(model.EntityLink, "link:story_themes").Skip("cancelled")
	report.Complete()

	data, err := report.ToJSON()
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "run-1", decoded["runId"])
	assert.Equal(t, true, decoded["dryRun"])

	stages := decoded["stages"].([]interface{})
	require.Len(t, stages, 2)
	first := stages[0].(map[string]interface{})
	assert.Equal(t, "storyteller", first["entityType"])
	assert.Equal(t, float64(1), first["created"])
	assert.Equal(t, float64(0), first["skippedExisting"])
	failed := first["failed"].([]interface{})
	require.Len(t, failed, 1)
	assert.Equal(t, "Unknown", failed[0].(map[string]interface{})["kind"])
	assert.NotContains(t, first, "accounted")

	second := stages[1].(map[string]interface{})
	assert.Equal(t, "cancelled", second["skipReason"])

	created, _, _, _, failures := report.Totals()
	assert.Equal(t, 1, created)
	assert.Equal(t, 1, failures)
}

func TestMigrationReport_WriteFile(t *testing.T) {
	report := NewMigrationReport("run-2", false)
	report.StartStage(model.EntityTheme, "theme").Complete()
	report.Complete()

	path := filepath.Join(t.TempDir(), "report.json")
	require.NoError(t, report.WriteFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = report.WriteTo(&buf)
	require.NoError(t, err)
	assert.JSONEq(t, buf.String(), string(data))

	report.LogSummary(zaptest.NewLogger(t))
}
