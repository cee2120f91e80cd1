package engine

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Operon/internal/domain"
)

func TestFetchAndLock(t *testing.T) {
	var got fetchBody
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/external-task/fetchAndLock", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{
			"id": "task-1",
			"workerId": "operon-api-0",
			"topicName": "ApiOperationHandler",
			"activityId": "Activity_1",
			"processInstanceId": "pi-1",
			"retries": null,
			"lockExpirationTime": "2026-01-02T10:00:00.000+0000",
			"variables": {
				"$_ENVIRONMENT": {"type": "String", "value": "PROD"},
				"count": {"type": "Integer", "value": 3},
				"$_INPUTS_Activity_1": {"type": "Json", "value": "{\"componentId\":\"p\"}"},
				"empty": {"type": "Null", "value": null}
			}
		}]`))
	}))
	defer server.Close()

	c := NewClient(server.URL, 5*time.Second)
	tasks, err := c.FetchAndLock(context.Background(), FetchRequest{
		WorkerID:             "operon-api-0",
		MaxTasks:             4,
		AsyncResponseTimeout: 100 * time.Millisecond,
		Topics:               []Topic{{TopicName: "ApiOperationHandler", LockDuration: time.Minute}},
	})
	require.NoError(t, err)

	assert.Equal(t, "operon-api-0", got.WorkerID)
	assert.Equal(t, 4, got.MaxTasks)
	assert.Equal(t, int64(100), got.AsyncResponseTimeout)
	require.Len(t, got.Topics, 1)
	assert.Equal(t, int64(60000), got.Topics[0].LockDuration)

	require.Len(t, tasks, 1)
	task := tasks[0]
	assert.Equal(t, "task-1", task.ID)
	assert.Equal(t, "Activity_1", task.ActivityID)
	assert.Nil(t, task.Retries)
	assert.False(t, task.LockExpirationTime.IsZero())
	assert.Equal(t, "PROD", task.StringVariable(domain.GlobalEnvironment))
	assert.Equal(t, int64(3), task.Variable("count"))
	assert.Equal(t, `{"componentId":"p"}`, task.Variable("$_INPUTS_Activity_1"))
	assert.Nil(t, task.Variable("empty"))
}

func TestFetchAndLock_Empty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	tasks, err := NewClient(server.URL, time.Second).FetchAndLock(context.Background(), FetchRequest{WorkerID: "w"})
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestComplete(t *testing.T) {
	var body map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/external-task/task-1/complete", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	task := &domain.ExternalTask{ID: "task-1", WorkerID: "w-1"}
	err := NewClient(server.URL, time.Second).Complete(context.Background(), task, map[string]any{
		"status": "ok",
		"items":  []any{"a", "b"},
	})
	require.NoError(t, err)

	assert.Equal(t, "w-1", body["workerId"])
	vars := body["variables"].(map[string]any)
	assert.Equal(t, map[string]any{"value": "ok", "type": "String"}, vars["status"])
	assert.Equal(t, map[string]any{"value": `["a","b"]`, "type": "Json"}, vars["items"])
}

func TestHandleFailure(t *testing.T) {
	var body failureBody
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/external-task/task-1/failure", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	task := &domain.ExternalTask{ID: "task-1", WorkerID: "w-1"}
	err := NewClient(server.URL, time.Second).HandleFailure(context.Background(), task, Failure{
		ErrorMessage: "503",
		ErrorDetails: "downstream unavailable",
		Retries:      2,
		RetryTimeout: time.Second,
	})
	require.NoError(t, err)

	assert.Equal(t, 2, body.Retries)
	assert.Equal(t, int64(1000), body.RetryTimeout)
	assert.Equal(t, "503", body.ErrorMessage)
}

func TestHandleBpmnError_StatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"type":"RestException","message":"External task task-1 does not exist"}`))
	}))
	defer server.Close()

	task := &domain.ExternalTask{ID: "task-1", WorkerID: "w-1"}
	err := NewClient(server.URL, time.Second).HandleBpmnError(context.Background(), task, "400", "bad input", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnexpectedStatus))

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.Status)
	assert.Equal(t, "bpmnError", se.Operation)
	assert.Contains(t, se.Message, "does not exist")
}

func TestExtendLock(t *testing.T) {
	var body extendLockBody
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/external-task/task-1/extendLock", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	task := &domain.ExternalTask{ID: "task-1", WorkerID: "w-1"}
	require.NoError(t, NewClient(server.URL, time.Second).ExtendLock(context.Background(), task, 90*time.Second))
	assert.Equal(t, int64(90000), body.NewDuration)
}

func TestEncodeVariables(t *testing.T) {
	vars, err := EncodeVariables(map[string]any{
		"n":    nil,
		"flag": true,
		"i":    7,
		"big":  int64(1) << 40,
		"f":    1.5,
		"obj":  map[string]any{"a": 1},
	})
	require.NoError(t, err)

	assert.Equal(t, TypeNull, vars["n"].Type)
	assert.Equal(t, TypeBoolean, vars["flag"].Type)
	assert.Equal(t, TypeInteger, vars["i"].Type)
	assert.Equal(t, TypeLong, vars["big"].Type)
	assert.Equal(t, TypeDouble, vars["f"].Type)
	assert.Equal(t, Variable{Value: `{"a":1}`, Type: TypeJSON}, vars["obj"])
}

func TestEncodeVariables_Unsupported(t *testing.T) {
	_, err := EncodeVariables(map[string]any{"ch": make(chan int)})
	assert.ErrorIs(t, err, ErrEncodeVariable)
}
