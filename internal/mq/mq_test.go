package mq

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventRoute(t *testing.T) {
	msgType, key := EventRoute("COMPLETING")
	assert.Equal(t, MessageTypeTaskCompleted, msgType)
	assert.Equal(t, RoutingKeyCompleted, key)

	for _, stage := range []string{"RETRY_SCHEDULED", "BPMN_ERROR_RAISED"} {
		msgType, key = EventRoute(stage)
		assert.Equal(t, MessageTypeTaskFailed, msgType)
		assert.Equal(t, RoutingKeyFailed, key)
	}
}

func TestParsePayload_RoundTripThroughEnvelope(t *testing.T) {
	left := 2
	msg := NewMessage(MessageTypeTaskFailed, TaskEventPayload{
		TaskID:      "t-1",
		Topic:       "ApiOperationHandler",
		Stage:       "RETRY_SCHEDULED",
		Code:        "503",
		RetriesLeft: &left,
	}, time.Unix(0, 0))

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded Message
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, msg.ID, decoded.ID)

	payload, err := ParsePayload[TaskEventPayload](&decoded)
	require.NoError(t, err)
	assert.Equal(t, "t-1", payload.TaskID)
	assert.Equal(t, "503", payload.Code)
	require.NotNil(t, payload.RetriesLeft)
	assert.Equal(t, 2, *payload.RetriesLeft)
}
