package metering

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/shaiso/Operon/internal/domain"
)

func newProdOperation() *domain.Operation {
	task := &domain.ExternalTask{
		ID:                 "task-1",
		ActivityID:         "Activity_1",
		ActivityInstanceID: "Activity_1:abc",
		ProcessInstanceID:  "pi-1",
		Variables: map[string]any{
			domain.GlobalEnvironment:   "PROD",
			domain.GlobalTenantID:      "tenant-1",
			domain.GlobalAppID:         "app-1",
			domain.GlobalWorkflowID:    "wf-1",
			domain.GlobalAuthorization: "Bearer t",
		},
	}
	op := domain.NewOperation(task)
	op.Input.ComponentID = "product-1"
	return op
}

func TestNewAPIMetering(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	rec := NewAPIMetering(newProdOperation(), APICall{
		URL:          "https://api.example.com/orders",
		Method:       "POST",
		RequestBody:  `{"a":1}`,
		ResponseBody: `{"ok":true}`,
		Status:       201,
		RequestType:  "application/json",
	}, now)

	assert.Equal(t, "wf-1", rec.WorkflowID)
	assert.Equal(t, "pi-1", rec.WorkflowProcessInstanceID)
	assert.Equal(t, "Activity_1", rec.ActivityID)
	assert.Equal(t, "app-1", rec.AppID)
	assert.Equal(t, "product-1", rec.ProductID)
	assert.Equal(t, "tenant-1", rec.TenantID)
	assert.Equal(t, "PROD", rec.Mode)
	assert.Equal(t, int64(7), rec.APIRequestBodySize)
	assert.Equal(t, int64(11), rec.APIResponseBodySize)
	assert.Equal(t, "application/json", rec.RequestType)
	assert.Regexp(t, `^1700000000000[0-9a-f-]{36}$`, rec.ID)
}

func TestRESTSink_Created(t *testing.T) {
	var body []map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ingest/schema-1", r.URL.Path)
		assert.Equal(t, "Bearer t", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	sink := NewRESTSink(server.URL+"/ingest/{schemaId}", time.Second, 2, time.Millisecond)
	err := sink.Send(context.Background(), "schema-1", "Bearer t", map[string]any{"id": "1"})
	require.NoError(t, err)
	require.Len(t, body, 1)
	assert.Equal(t, "1", body[0]["id"])
}

func TestRESTSink_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	sink := NewRESTSink(server.URL+"/{schemaId}", time.Second, 3, time.Millisecond)
	require.NoError(t, sink.Send(context.Background(), "s", "", struct{}{}))
	assert.Equal(t, int32(3), calls.Load())
}

func TestRESTSink_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sink := NewRESTSink(server.URL+"/{schemaId}", time.Second, 3, time.Millisecond)
	err := sink.Send(context.Background(), "s", "", struct{}{})
	assert.ErrorIs(t, err, ErrNotAccepted)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGRPCSink(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	received := make(chan *structpb.Struct, 1)
	server := grpc.NewServer(grpc.UnknownServiceHandler(func(_ any, stream grpc.ServerStream) error {
		method, _ := grpc.MethodFromServerStream(stream)
		assert.Equal(t, MeteringMethod, method)

		req := &structpb.Struct{}
		if err := stream.RecvMsg(req); err != nil {
			return err
		}
		received <- req
		resp, _ := structpb.NewStruct(map[string]any{"status": "OK"})
		return stream.SendMsg(resp)
	}))
	go func() { _ = server.Serve(lis) }()
	defer server.Stop()

	addr := lis.Addr().(*net.TCPAddr)
	sink, err := NewGRPCSink("127.0.0.1", addr.Port)
	require.NoError(t, err)
	defer sink.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rec := NewAPIMetering(newProdOperation(), APICall{URL: "https://x", Method: "GET", Status: 200}, time.Now())
	resp, err := sink.Send(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, "OK", resp.AsMap()["status"])

	got := <-received
	assert.Equal(t, "Activity_1", got.AsMap()["activityId"])
	assert.Equal(t, float64(200), got.AsMap()["responseStatus"])
}

type fakeRecordSender struct {
	mu      sync.Mutex
	schemas []string
	err     error
}

func (f *fakeRecordSender) Send(_ context.Context, schemaID, _ string, _ any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.schemas = append(f.schemas, schemaID)
	return f.err
}

type fakeMeteringSender struct {
	calls atomic.Int32
}

func (f *fakeMeteringSender) Send(context.Context, *APIMetering) (*structpb.Struct, error) {
	f.calls.Add(1)
	return &structpb.Struct{}, nil
}

func TestDispatcher_APICall(t *testing.T) {
	rest := &fakeRecordSender{}
	grpcSink := &fakeMeteringSender{}
	d := NewDispatcher(rest, grpcSink, DispatcherConfig{
		APISchemaID:       "api-schema",
		JobStatusSchemaID: "job-schema",
		ServiceDomain:     "svc.internal",
	})

	op := newProdOperation()
	d.APICall(context.Background(), op, APICall{URL: "https://external.example.com/x", Status: 200})
	d.APICall(context.Background(), op, APICall{URL: "http://orders.svc.internal/x", Status: 200})
	d.Wait()

	assert.ElementsMatch(t, []string{"api-schema", "api-schema"}, rest.schemas)
	assert.Equal(t, int32(1), grpcSink.calls.Load(), "internal calls must not go to grpc")
}

func TestDispatcher_SkipsTestEnvironment(t *testing.T) {
	rest := &fakeRecordSender{}
	d := NewDispatcher(rest, nil, DispatcherConfig{APISchemaID: "api"})

	op := newProdOperation()
	op.Environment = domain.EnvironmentTest
	d.APICall(context.Background(), op, APICall{URL: "https://x"})
	d.Wait()

	assert.Empty(t, rest.schemas)
}

func TestDispatcher_JobStatusFailureIsSwallowed(t *testing.T) {
	rest := &fakeRecordSender{err: errors.New("ingestion down")}
	d := NewDispatcher(rest, nil, DispatcherConfig{JobStatusSchemaID: "job"})

	ctx, cancel := context.WithCancel(context.Background())
	d.JobStatus(ctx, newProdOperation().Task, StateError, "boom")
	// отмена контекста задачи не мешает отправке
	cancel()
	d.Wait()

	assert.Equal(t, []string{"job"}, rest.schemas)
}

func TestNilDispatcher(t *testing.T) {
	var d *Dispatcher
	d.APICall(context.Background(), newProdOperation(), APICall{})
	d.JobStatus(context.Background(), newProdOperation().Task, StateError, "")
	d.Wait()
}
