package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// ExternalTaskResponse — внешняя задача из REST API движка.
type ExternalTaskResponse struct {
	ID                  string `json:"id"`
	TopicName           string `json:"topicName"`
	WorkerID            string `json:"workerId"`
	ActivityID          string `json:"activityId"`
	ProcessInstanceID   string `json:"processInstanceId"`
	ProcessDefinitionID string `json:"processDefinitionId"`
	TenantID            string `json:"tenantId,omitempty"`
	Retries             *int   `json:"retries"`
	LockExpirationTime  string `json:"lockExpirationTime,omitempty"`
	ErrorMessage        string `json:"errorMessage,omitempty"`
	Suspended           bool   `json:"suspended"`
	Priority            int64  `json:"priority"`
}

// ListTasksOpts — фильтры списка задач.
type ListTasksOpts struct {
	Topic    string
	WorkerID string
	Locked   bool
	Failed   bool
	Limit    int
}

type countResponse struct {
	Count int `json:"count"`
}

type retriesRequest struct {
	Retries int `json:"retries"`
}

// errorResponse — тело ошибки движка.
type errorResponse struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Client — клиент административной части REST API движка.
type Client struct {
	http *resty.Client
}

// NewClient создаёт Client для baseURL (например http://localhost:8080/engine-rest).
func NewClient(baseURL string) *Client {
	return &Client{
		http: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetTimeout(30*time.Second).
			SetHeader("Accept", "application/json"),
	}
}

// ListTasks возвращает внешние задачи по фильтрам.
func (c *Client) ListTasks(ctx context.Context, opts ListTasksOpts) ([]ExternalTaskResponse, error) {
	params := taskParams(opts)
	if opts.Limit > 0 {
		params["maxResults"] = strconv.Itoa(opts.Limit)
	}

	var tasks []ExternalTaskResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetResult(&tasks).
		Get("/external-task")
	if err := checkError(resp, err); err != nil {
		return nil, err
	}
	return tasks, nil
}

// CountTasks возвращает число задач по тем же фильтрам.
func (c *Client) CountTasks(ctx context.Context, opts ListTasksOpts) (int, error) {
	var count countResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(taskParams(opts)).
		SetResult(&count).
		Get("/external-task/count")
	if err := checkError(resp, err); err != nil {
		return 0, err
	}
	return count.Count, nil
}

// GetTask возвращает задачу по ID.
func (c *Client) GetTask(ctx context.Context, id string) (*ExternalTaskResponse, error) {
	var task ExternalTaskResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", id).
		SetResult(&task).
		Get("/external-task/{id}")
	if err := checkError(resp, err); err != nil {
		return nil, err
	}
	return &task, nil
}

// ErrorDetails возвращает подробности последней ошибки задачи.
func (c *Client) ErrorDetails(ctx context.Context, id string) (string, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", id).
		SetHeader("Accept", "text/plain").
		Get("/external-task/{id}/errorDetails")
	if err := checkError(resp, err); err != nil {
		return "", err
	}
	return resp.String(), nil
}

// Unlock снимает блокировку задачи, чтобы её мог выбрать другой воркер.
func (c *Client) Unlock(ctx context.Context, id string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", id).
		Post("/external-task/{id}/unlock")
	return checkError(resp, err)
}

// SetRetries выставляет число попыток. Ноль создаёт инцидент.
func (c *Client) SetRetries(ctx context.Context, id string, retries int) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", id).
		SetHeader("Content-Type", "application/json").
		SetBody(retriesRequest{Retries: retries}).
		Put("/external-task/{id}/retries")
	return checkError(resp, err)
}

func taskParams(opts ListTasksOpts) map[string]string {
	params := map[string]string{}
	if opts.Topic != "" {
		params["topicName"] = opts.Topic
	}
	if opts.WorkerID != "" {
		params["workerId"] = opts.WorkerID
	}
	if opts.Locked {
		params["locked"] = "true"
	}
	if opts.Failed {
		params["withRetriesLeft"] = "false"
	}
	return params
}

func checkError(resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("engine request failed: %w", err)
	}
	if !resp.IsError() {
		return nil
	}

	var er errorResponse
	if jerr := json.Unmarshal(resp.Body(), &er); jerr != nil || er.Message == "" {
		return fmt.Errorf("engine error: HTTP %d", resp.StatusCode())
	}
	return fmt.Errorf("%s: %s", er.Type, er.Message)
}
