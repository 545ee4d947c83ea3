package events

import (
	"encoding/json"
	"testing"

	"dining-service/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewImportEvent(t *testing.T) {
	run := &models.ImportRun{
		ID:          uuid.New(),
		Trigger:     models.ImportTriggerScheduled,
		TriggeredBy: "system:scheduler",
		Source:      "data/campus_dining.xlsx",
	}

	event := newImportEvent(ImportCompleted, run)

	assert.Equal(t, ImportCompleted, event.EventType)
	assert.Equal(t, run.ID.String(), event.RunID)
	assert.Equal(t, models.ImportTriggerScheduled, event.Trigger)
	assert.Equal(t, "system:scheduler", event.TriggeredBy)
	assert.Equal(t, "data/campus_dining.xlsx", event.Source)
	assert.Equal(t, run.ID.String(), event.SourceID)
	assert.False(t, event.Timestamp.IsZero())
	assert.Equal(t, ImportCompleted, event.GetSubject())
	assert.Equal(t, StreamDiningEvents, event.GetStream())
}

func TestImportEvent_JSON(t *testing.T) {
	event := newImportEvent(ImportFailed, &models.ImportRun{ID: uuid.New()})
	event.Error = "item store unavailable"

	data, err := json.Marshal(event)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.NotEmpty(t, decoded["runId"])
	assert.Equal(t, "item store unavailable", decoded["error"])
	assert.NotContains(t, decoded, "result")
}

func TestSubjectsCoveredByStream(t *testing.T) {
	for _, subject := range []string{ImportCompleted, ImportFailed} {
		assert.Regexp(t, `^dining\.`, subject, "stream subjects are dining.>")
	}
}
