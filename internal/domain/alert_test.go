package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlert_MarshalJSON(t *testing.T) {
	start := time.Date(2024, 8, 1, 12, 0, 0, 0, time.UTC)
	a := Alert{
		ID:        "a-1",
		Partition: "9q5ct",
		Title:     "Wildfire crisis",
		Severity:  SeverityCritical,
		Type:      "wildfire",
		Level:     LevelCrisis,
		Location:  Location{Lat: 34.05, Lng: -118.24},
		StartTime: start,
		UpdatedAt: start,
		ExpiresAt: start.Add(24 * time.Hour),
	}

	b, err := json.Marshal(a)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, "2024-08-01T12:00:00Z", got["startTime"])
	assert.Equal(t, "2024-08-02T12:00:00Z", got["endTime"])
	assert.Equal(t, "open", got["status"])
	assert.Equal(t, "critical", got["severity"])
	assert.IsType(t, map[string]any{}, got["location"])

	closed := start.Add(time.Hour)
	a.ClosedAt = &closed
	b, err = json.Marshal(a)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, "2024-08-01T13:00:00Z", got["endTime"])
	assert.Equal(t, "closed", got["status"])
}

func TestCrisisLevel_AlertSeverity(t *testing.T) {
	assert.Equal(t, SeverityCritical, LevelCrisis.AlertSeverity())
	assert.Equal(t, SeverityHigh, LevelElevated.AlertSeverity())
	assert.Empty(t, LevelNormal.AlertSeverity())
}

func TestNormalizeGroupCode(t *testing.T) {
	code, err := NormalizeGroupCode(" test-family-1234 ")
	require.NoError(t, err)
	assert.Equal(t, "TEST-FAMILY-1234", code)

	_, err = NormalizeGroupCode("no spaces allowed")
	assert.Error(t, err)
	_, err = NormalizeGroupCode("abc")
	assert.Error(t, err)
}
