package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sketchtocad/sagaflow/types"
)

func TestEventRoundTrip(t *testing.T) {
	ev := New("saga_1", ImageProcessed, types.Document{
		"session_id": "sess-1",
		"bed_count":  3,
	}, WithMetadata(types.Document{"tenant": "acme"}))

	data, err := Marshal(ev)
	require.NoError(t, err)

	decoded, err := Unmarshal(data)
	require.NoError(t, err)

	assert.Equal(t, "saga_1", decoded.SagaID)
	assert.Equal(t, ImageProcessed, decoded.EventType)
	assert.Equal(t, ev.CorrelationID, decoded.CorrelationID)
	assert.Equal(t, "sess-1", decoded.Payload["session_id"])
	// Numbers round-trip as float64.
	assert.Equal(t, float64(3), decoded.Payload["bed_count"])
	assert.Equal(t, "acme", decoded.Metadata["tenant"])
	assert.WithinDuration(t, ev.Timestamp.Time, decoded.Timestamp.Time, time.Millisecond)
}

func TestUnmarshalRejectsIncompleteEnvelope(t *testing.T) {
	_, err := Unmarshal([]byte(`{"event_type":"image_processed"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "saga_id")

	_, err = Unmarshal([]byte(`{"saga_id":"saga_1"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "event_type")

	_, err = Unmarshal([]byte(`not json`))
	require.Error(t, err)
}

func TestUnmarshalNormalizesNilDocuments(t *testing.T) {
	decoded, err := Unmarshal([]byte(`{"saga_id":"saga_1","event_type":"workflow_started"}`))
	require.NoError(t, err)
	require.NotNil(t, decoded.Payload)
	require.NotNil(t, decoded.Metadata)
}

func TestTimestampAcceptsProducerFormats(t *testing.T) {
	cases := []string{
		`"2025-03-01T12:30:45.123456Z"`,
		`"2025-03-01T12:30:45.123456"`,
		`"2025-03-01 12:30:45.123456"`,
		`"2025-03-01T12:30:45Z"`,
	}
	for _, raw := range cases {
		var ts Timestamp
		require.NoError(t, ts.UnmarshalJSON([]byte(raw)), "format %s", raw)
		assert.Equal(t, 2025, ts.Year())
		assert.Equal(t, 45, ts.Second())
	}

	var ts Timestamp
	require.Error(t, ts.UnmarshalJSON([]byte(`"last tuesday"`)))
}

func TestNewGeneratesCorrelationID(t *testing.T) {
	a := New("saga_1", WorkflowStarted, nil)
	b := New("saga_1", WorkflowStarted, nil)
	assert.NotEmpty(t, a.CorrelationID)
	assert.NotEqual(t, a.CorrelationID, b.CorrelationID)
}

func TestWithCorrelationIDPropagates(t *testing.T) {
	cause := New("saga_1", WorkflowStarted, nil)
	effect := NewImageProcessingRequested("saga_1", "sess-1", "plan.jpg", WithCorrelationID(cause.CorrelationID))
	assert.Equal(t, cause.CorrelationID, effect.CorrelationID)

	// An empty id must not blank the generated one.
	ev := NewImageProcessingRequested("saga_1", "sess-1", "plan.jpg", WithCorrelationID(""))
	assert.NotEmpty(t, ev.CorrelationID)
}

func TestWorkflowFailedCarriesError(t *testing.T) {
	ev := NewWorkflowFailed("saga_1", "sess-1", "clustering", "worker exploded")
	assert.Equal(t, WorkflowFailed, ev.EventType)
	assert.Equal(t, "worker exploded", ev.ErrorMessage)
	assert.Equal(t, "clustering", ev.Payload["failed_step"])
}

func TestEventFamilies(t *testing.T) {
	assert.Equal(t, FamilyCommand, ClusteringRequested.Family())
	assert.Equal(t, FamilySuccess, DXFExported.Family())
	assert.Equal(t, FamilyHumanInput, EnhancementSelected.Family())
	assert.Equal(t, FamilyControl, WorkflowFailed.Family())
	assert.Equal(t, FamilyCompensation, CompensationRequested.Family())
	assert.Equal(t, FamilyUnknown, EventType("mystery").Family())

	assert.True(t, ExportRequested.Known())
	assert.False(t, EventType("mystery").Known())
}
