// Package metering отправляет записи метрик вызовов API и статусы задач.
//
// Два канала: REST-ингестия (запись уходит массивом из одного элемента,
// успех — 201) и gRPC MeteringService/Grpc со своей экспоненциальной
// политикой повторов. Для задачи отправка всегда fire-and-forget:
// ошибка доставки только логируется.
package metering

import (
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Operon/internal/domain"
)

// Состояния задачи в записи статуса.
const (
	StateError     = "ERROR"
	StateCompleted = "COMPLETED"
)

// TenantTypeTP — тип тенанта для вызовов из воркера.
const TenantTypeTP = "TP"

// NewID возвращает идентификатор записи: миллисекунды и UUID.
func NewID(now time.Time) string {
	return strconv.FormatInt(now.UnixMilli(), 10) + uuid.NewString()
}

// APIInformation — описание вызова для gRPC-канала.
type APIInformation struct {
	URL          string `json:"url"`
	Method       string `json:"method"`
	RequestBody  string `json:"requestBody,omitempty"`
	ResponseBody string `json:"responseBody,omitempty"`
}

// APIMetering — запись о вызове внешнего API.
type APIMetering struct {
	ID                        string         `json:"id"`
	ExecutedAt                int64          `json:"executedAt"`
	CreatedAt                 int64          `json:"createdAt"`
	WorkflowID                string         `json:"workflowId,omitempty"`
	WorkflowProcessInstanceID string         `json:"workflowProcessInstanceId,omitempty"`
	ActivityID                string         `json:"activityId,omitempty"`
	ActivityInstanceID        string         `json:"activityInstanceId,omitempty"`
	AppID                     string         `json:"appId,omitempty"`
	ProductID                 string         `json:"productId,omitempty"`
	TenantID                  string         `json:"tenantId,omitempty"`
	TenantType                string         `json:"tenantType,omitempty"`
	Mode                      string         `json:"mode,omitempty"`
	APIProduct                string         `json:"apiProduct,omitempty"`
	APIMethod                 string         `json:"apiMethod,omitempty"`
	APIInformation            APIInformation `json:"apiInformation"`
	ResponseStatus            int            `json:"responseStatus"`
	APIRequestBodySize        int64          `json:"apiRequestBodySize"`
	APIResponseBodySize       int64          `json:"apiResponseBodySize"`
	DataSize                  int64          `json:"dataSize"`
	RequestType               string         `json:"requestType,omitempty"`
}

// APICall — результат вызова REST-операции, из которого строится запись.
type APICall struct {
	URL          string
	Method       string
	RequestBody  string
	ResponseBody string
	Status       int
	RequestType  string
	// DownloadSize — размер вложения или octet-stream ответа.
	DownloadSize int64
}

// NewAPIMetering строит запись для операции op и вызова call.
func NewAPIMetering(op *domain.Operation, call APICall, now time.Time) *APIMetering {
	rec := &APIMetering{
		ID:                        NewID(now),
		ExecutedAt:                now.UnixMilli(),
		CreatedAt:                 now.UnixMilli(),
		WorkflowID:                op.Task.WorkflowID(),
		WorkflowProcessInstanceID: op.ProcessInstanceID(),
		ActivityID:                op.ActivityID(),
		ActivityInstanceID:        op.Task.ActivityInstanceID,
		AppID:                     op.AppID,
		ProductID:                 op.ProductID(),
		TenantID:                  op.TenantID,
		TenantType:                TenantTypeTP,
		Mode:                      string(op.Environment),
		APIProduct:                call.URL,
		APIMethod:                 call.Method,
		APIInformation: APIInformation{
			URL:          call.URL,
			Method:       call.Method,
			RequestBody:  call.RequestBody,
			ResponseBody: call.ResponseBody,
		},
		ResponseStatus:     call.Status,
		APIRequestBodySize: int64(len(call.RequestBody)),
		DataSize:           call.DownloadSize,
		RequestType:        call.RequestType,
	}
	if call.Status >= 200 && call.Status < 300 {
		rec.APIResponseBodySize = int64(len(call.ResponseBody))
	}
	return rec
}

// JobStatus — запись о состоянии задачи.
type JobStatus struct {
	ID                        string   `json:"id"`
	TenantID                  string   `json:"tenantId,omitempty"`
	WorkflowProcessInstanceID string   `json:"workflowProcessInstanceId,omitempty"`
	WorkflowName              string   `json:"workflowName,omitempty"`
	ActivityNames             []string `json:"activityNames"`
	State                     string   `json:"state"`
	Message                   string   `json:"message,omitempty"`
}

// NewJobStatus строит запись статуса задачи.
func NewJobStatus(task *domain.ExternalTask, state, message string, now time.Time) *JobStatus {
	return &JobStatus{
		ID:                        NewID(now),
		TenantID:                  task.StringVariable(domain.GlobalTenantID),
		WorkflowProcessInstanceID: task.ProcessInstanceID,
		WorkflowName:              task.ProcessDefinitionKey,
		ActivityNames:             []string{task.ActivityID},
		State:                     state,
		Message:                   message,
	}
}
