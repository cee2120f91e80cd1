package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/shaiso/Operon/internal/domain"
)

// engineTimeLayouts — форматы дат движка.
var engineTimeLayouts = []string{
	"2006-01-02T15:04:05.000-0700",
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000",
}

// --- Request types ---

// Topic — подписка на топик в fetchAndLock.
type Topic struct {
	TopicName    string
	LockDuration time.Duration
	// Variables — ограничение набора переменных. Пусто — все переменные.
	Variables []string
}

// FetchRequest — параметры long-poll выборки.
type FetchRequest struct {
	WorkerID             string
	MaxTasks             int
	AsyncResponseTimeout time.Duration
	Topics               []Topic
}

// Failure — отчёт об ошибке задачи.
type Failure struct {
	ErrorMessage   string
	ErrorDetails   string
	Retries        int
	RetryTimeout   time.Duration
	Variables      map[string]any
	LocalVariables map[string]any
}

// --- Wire types ---

type fetchTopic struct {
	TopicName    string   `json:"topicName"`
	LockDuration int64    `json:"lockDuration"`
	Variables    []string `json:"variables,omitempty"`
}

type fetchBody struct {
	WorkerID             string       `json:"workerId"`
	MaxTasks             int          `json:"maxTasks"`
	UsePriority          bool         `json:"usePriority"`
	AsyncResponseTimeout int64        `json:"asyncResponseTimeout,omitempty"`
	Topics               []fetchTopic `json:"topics"`
}

type lockedTask struct {
	ID                   string              `json:"id"`
	WorkerID             string              `json:"workerId"`
	TopicName            string              `json:"topicName"`
	ActivityID           string              `json:"activityId"`
	ActivityInstanceID   string              `json:"activityInstanceId"`
	ProcessInstanceID    string              `json:"processInstanceId"`
	ProcessDefinitionID  string              `json:"processDefinitionId"`
	ProcessDefinitionKey string              `json:"processDefinitionKey"`
	TenantID             string              `json:"tenantId"`
	BusinessKey          string              `json:"businessKey"`
	Retries              *int                `json:"retries"`
	LockExpirationTime   string              `json:"lockExpirationTime"`
	Priority             int64               `json:"priority"`
	Variables            map[string]Variable `json:"variables"`
}

type completeBody struct {
	WorkerID  string              `json:"workerId"`
	Variables map[string]Variable `json:"variables,omitempty"`
}

type failureBody struct {
	WorkerID       string              `json:"workerId"`
	ErrorMessage   string              `json:"errorMessage"`
	ErrorDetails   string              `json:"errorDetails,omitempty"`
	Retries        int                 `json:"retries"`
	RetryTimeout   int64               `json:"retryTimeout"`
	Variables      map[string]Variable `json:"variables,omitempty"`
	LocalVariables map[string]Variable `json:"localVariables,omitempty"`
}

type bpmnErrorBody struct {
	WorkerID     string              `json:"workerId"`
	ErrorCode    string              `json:"errorCode"`
	ErrorMessage string              `json:"errorMessage,omitempty"`
	Variables    map[string]Variable `json:"variables,omitempty"`
}

type extendLockBody struct {
	WorkerID    string `json:"workerId"`
	NewDuration int64  `json:"newDuration"`
}

type errorBody struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// --- Client ---

// Client — REST-клиент движка.
type Client struct {
	http           *resty.Client
	requestTimeout time.Duration
}

// NewClient создаёт клиент для REST API движка по baseURL
// (например http://localhost:8080/engine-rest).
//
// requestTimeout ограничивает обычные вызовы. Для fetchAndLock к нему
// прибавляется asyncResponseTimeout.
func NewClient(baseURL string, requestTimeout time.Duration) *Client {
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}
	return &Client{
		http: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetHeader("Content-Type", "application/json").
			SetHeader("Accept", "application/json"),
		requestTimeout: requestTimeout,
	}
}

// FetchAndLock выбирает и блокирует задачи. Пустой результат не ошибка.
func (c *Client) FetchAndLock(ctx context.Context, req FetchRequest) ([]*domain.ExternalTask, error) {
	body := fetchBody{
		WorkerID:             req.WorkerID,
		MaxTasks:             req.MaxTasks,
		AsyncResponseTimeout: req.AsyncResponseTimeout.Milliseconds(),
		Topics:               make([]fetchTopic, 0, len(req.Topics)),
	}
	for _, t := range req.Topics {
		body.Topics = append(body.Topics, fetchTopic{
			TopicName:    t.TopicName,
			LockDuration: t.LockDuration.Milliseconds(),
			Variables:    t.Variables,
		})
	}

	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout+req.AsyncResponseTimeout)
	defer cancel()

	var locked []lockedTask
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		Post("/external-task/fetchAndLock")
	if err != nil {
		return nil, fmt.Errorf("fetchAndLock: %w", err)
	}
	if err := checkStatus("fetchAndLock", resp); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(resp.Body(), &locked); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeResponse, err)
	}

	tasks := make([]*domain.ExternalTask, 0, len(locked))
	for i := range locked {
		tasks = append(tasks, toDomain(&locked[i]))
	}
	return tasks, nil
}

// Complete завершает задачу и передаёт переменные процесса.
func (c *Client) Complete(ctx context.Context, task *domain.ExternalTask, vars map[string]any) error {
	encoded, err := EncodeVariables(vars)
	if err != nil {
		return err
	}
	return c.post(ctx, "complete", task.ID, completeBody{
		WorkerID:  task.WorkerID,
		Variables: encoded,
	})
}

// HandleFailure сообщает об ошибке. При Retries == 0 движок создаёт инцидент.
func (c *Client) HandleFailure(ctx context.Context, task *domain.ExternalTask, f Failure) error {
	vars, err := EncodeVariables(f.Variables)
	if err != nil {
		return err
	}
	local, err := EncodeVariables(f.LocalVariables)
	if err != nil {
		return err
	}
	return c.post(ctx, "failure", task.ID, failureBody{
		WorkerID:       task.WorkerID,
		ErrorMessage:   f.ErrorMessage,
		ErrorDetails:   f.ErrorDetails,
		Retries:        f.Retries,
		RetryTimeout:   f.RetryTimeout.Milliseconds(),
		Variables:      vars,
		LocalVariables: local,
	})
}

// HandleBpmnError поднимает BPMN-ошибку с кодом code.
func (c *Client) HandleBpmnError(ctx context.Context, task *domain.ExternalTask, code, message string, vars map[string]any) error {
	encoded, err := EncodeVariables(vars)
	if err != nil {
		return err
	}
	return c.post(ctx, "bpmnError", task.ID, bpmnErrorBody{
		WorkerID:     task.WorkerID,
		ErrorCode:    code,
		ErrorMessage: message,
		Variables:    encoded,
	})
}

// ExtendLock продлевает блокировку на d от текущего момента.
func (c *Client) ExtendLock(ctx context.Context, task *domain.ExternalTask, d time.Duration) error {
	return c.post(ctx, "extendLock", task.ID, extendLockBody{
		WorkerID:    task.WorkerID,
		NewDuration: d.Milliseconds(),
	})
}

// --- HTTP helpers ---

func (c *Client) post(ctx context.Context, op, taskID string, body any) error {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", taskID).
		SetBody(body).
		Post("/external-task/{id}/" + op)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return checkStatus(op, resp)
}

func checkStatus(op string, resp *resty.Response) error {
	if resp.IsSuccess() {
		return nil
	}
	var eb errorBody
	_ = json.Unmarshal(resp.Body(), &eb)
	return &StatusError{
		Operation: op,
		Status:    resp.StatusCode(),
		Type:      eb.Type,
		Message:   eb.Message,
	}
}

func toDomain(t *lockedTask) *domain.ExternalTask {
	return &domain.ExternalTask{
		ID:                   t.ID,
		WorkerID:             t.WorkerID,
		TopicName:            t.TopicName,
		ActivityID:           t.ActivityID,
		ActivityInstanceID:   t.ActivityInstanceID,
		ProcessInstanceID:    t.ProcessInstanceID,
		ProcessDefinitionID:  t.ProcessDefinitionID,
		ProcessDefinitionKey: t.ProcessDefinitionKey,
		TenantID:             t.TenantID,
		BusinessKey:          t.BusinessKey,
		Retries:              t.Retries,
		LockExpirationTime:   parseEngineTime(t.LockExpirationTime),
		Priority:             t.Priority,
		Variables:            DecodeVariables(t.Variables),
	}
}

func parseEngineTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range engineTimeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts
		}
	}
	return time.Time{}
}
