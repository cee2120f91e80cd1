package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/shaiso/Operon/internal/domain"
	"github.com/shaiso/Operon/internal/resolve"
	"github.com/shaiso/Operon/internal/worker"
)

// fileConfigs отдаёт один и тот же конфигурационный документ для
// любой операции.
type fileConfigs struct {
	doc *domain.ConfigDocument
}

func (f fileConfigs) Fetch(context.Context, *domain.Operation) (*domain.ConfigDocument, error) {
	return f.doc, nil
}

// ResolvedRequest — собранный HTTP-запрос для вывода.
type ResolvedRequest struct {
	Method      string            `json:"method"`
	URL         string            `json:"url"`
	ContentType string            `json:"content_type"`
	Headers     map[string]string `json:"headers"`
	PathParams  map[string]string `json:"path_params"`
	QueryParams map[string]string `json:"query_params"`
	Body        any               `json:"body,omitempty"`
}

// NewResolveCmd создаёт команду, которая собирает HTTP-запрос задачи
// ApiOperationHandler без отправки.
func NewResolveCmd(outputFn func() *Output) *cobra.Command {
	var taskFile, configFile string

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve the REST request of an ApiOperationHandler task without sending it",
		RunE: func(cmd *cobra.Command, args []string) error {
			task, err := readTask(taskFile)
			if err != nil {
				return err
			}
			raw, err := os.ReadFile(configFile)
			if err != nil {
				return fmt.Errorf("read config document: %w", err)
			}
			doc, err := domain.NewConfigDocument(raw)
			if err != nil {
				return fmt.Errorf("parse config document: %w", err)
			}

			req, err := ResolveRequest(cmd.Context(), task, doc)
			if err != nil {
				return err
			}
			printRequest(outputFn(), req)
			return nil
		},
	}

	cmd.Flags().StringVar(&taskFile, "task", "", "Path to the external task JSON (id, topicName, activityId, variables)")
	cmd.Flags().StringVar(&configFile, "config", "", "Path to the product config document JSON")
	_ = cmd.MarkFlagRequired("task")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}

// ResolveRequest разбирает вход задачи и собирает запрос по документу doc.
// Секреты не читаются.
func ResolveRequest(ctx context.Context, task *domain.ExternalTask, doc *domain.ConfigDocument) (*ResolvedRequest, error) {
	assembler := resolve.NewAssembler(resolve.NewResolver(resolve.APIScope()), nil)
	h := worker.NewRESTHandler(fileConfigs{doc: doc}, assembler, nil, nil)

	op, err := worker.ParseOperation(task, h)
	if err != nil {
		return nil, err
	}
	req, err := h.Request(ctx, op)
	if err != nil {
		return nil, err
	}

	return &ResolvedRequest{
		Method:      req.Method,
		URL:         req.URL,
		ContentType: req.ContentType.String(),
		Headers:     req.Headers,
		PathParams:  req.PathParams,
		QueryParams: req.QueryParams,
		Body:        req.Body,
	}, nil
}

func readTask(path string) (*domain.ExternalTask, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read task: %w", err)
	}
	var task domain.ExternalTask
	if err := json.Unmarshal(raw, &task); err != nil {
		return nil, fmt.Errorf("parse task: %w", err)
	}
	if task.TopicName == "" {
		task.TopicName = worker.TopicAPIOperation
	}
	return &task, nil
}

func printRequest(out *Output, req *ResolvedRequest) {
	if out.jsonMode {
		out.JSON(req)
		return
	}

	rows := [][]string{
		{"method", "", req.Method},
		{"url", "", req.URL},
		{"content-type", "", req.ContentType},
	}
	rows = appendPairs(rows, "header", req.Headers)
	rows = appendPairs(rows, "path", req.PathParams)
	rows = appendPairs(rows, "query", req.QueryParams)
	out.Table([]string{"KIND", "NAME", "VALUE"}, rows)

	if req.Body != nil {
		out.JSON(req.Body)
	}
}

func appendPairs(rows [][]string, kind string, m map[string]string) [][]string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		rows = append(rows, []string{kind, k, m[k]})
	}
	return rows
}
