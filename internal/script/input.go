// Package script готовит команды для скриптовых задач: shell-скрипты
// из git-репозитория и Terraform-прогоны на удалённом хосте.
package script

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shaiso/Operon/internal/fault"
	"github.com/shaiso/Operon/internal/remote"
)

// Source — откуда берётся скрипт.
type Source string

const (
	SourceGit      Source = "GIT"
	SourceHTTP     Source = "HTTP"
	SourceGitea    Source = "GITEA"
	SourcePipeline Source = "PIPELINE"
)

// ParseSource разбирает источник. Пустое значение — GIT.
func ParseSource(s string) (Source, error) {
	switch src := Source(strings.ToUpper(strings.TrimSpace(s))); src {
	case "":
		return SourceGit, nil
	case SourceGit, SourceHTTP, SourceGitea, SourcePipeline:
		return src, nil
	default:
		return "", fault.NewNonRetryable("Script source of type %s is not supported yet", s)
	}
}

// Input — разрешённые входные поля скриптовой задачи.
type Input struct {
	ScriptPath string
	ScriptName string
	StaticPath string
	ScriptURL  string
	Source     Source
	Target     remote.Target
	Create     bool
	// Timeout — явный таймаут из входа. Ноль — брать оставшееся время блокировки.
	Timeout   time.Duration
	Variables map[string]any
	// JMXScript — сценарий JMeter. Если задан, запускается jmeter вместо скрипта.
	JMXScript string
	// RunID — идентификатор прогона для -Jid.
	RunID string
	// Async — запуск в фоне без ожидания вывода.
	Async bool
	// PipelineID и PipelineVersion — источник PIPELINE.
	PipelineID      string
	PipelineVersion string
}

// ParseInput собирает Input из разрешённых полей задачи.
// Отсутствие обязательного поля — NonRetryable "<key> cannot be null or empty".
func ParseInput(fields map[string]any) (*Input, error) {
	in := &Input{Create: true}
	var err error

	if in.ScriptPath, err = required(fields, "scriptPath"); err != nil {
		return nil, err
	}
	if in.ScriptName, err = required(fields, "scriptName"); err != nil {
		return nil, err
	}
	if in.ScriptURL, err = required(fields, "scriptUrl"); err != nil {
		return nil, err
	}
	if in.Target.Password, err = required(fields, "password"); err != nil {
		return nil, err
	}
	if in.Target.User, err = required(fields, "user"); err != nil {
		return nil, err
	}
	if in.Target.Host, err = required(fields, "host"); err != nil {
		return nil, err
	}
	port, err := required(fields, "port")
	if err != nil {
		return nil, err
	}
	if in.Target.Port, err = strconv.Atoi(port); err != nil {
		return nil, fault.NewNonRetryable("port must be a number: %s", port)
	}

	in.StaticPath = optional(fields, "staticPath", in.ScriptName)
	in.Target.PrivateKeyPath = optional(fields, "privateKeyPath", "")

	if in.Source, err = ParseSource(optional(fields, "scriptSource", "")); err != nil {
		return nil, err
	}
	if v := optional(fields, "create", ""); v != "" {
		in.Create, _ = strconv.ParseBool(v)
	}
	if v := optional(fields, "timeout", ""); v != "" {
		sec, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fault.NewNonRetryable("timeout must be a number of seconds: %s", v)
		}
		in.Timeout = time.Duration(sec) * time.Second
	}

	if in.Variables, err = scriptVariables(fields["scriptVariables"]); err != nil {
		return nil, err
	}
	in.JMXScript = optional(fields, "jmxScriptName", "")
	in.RunID = optional(fields, "runId", "")
	if v, ok := in.Variables["async"]; ok {
		in.Async, _ = strconv.ParseBool(stringify(v))
		delete(in.Variables, "async")
	}
	if in.Source == SourcePipeline {
		id := optional(fields, "pipelineId", "")
		if id == "" {
			return nil, fault.NewNonRetryable("pipelineId cannot be null or empty")
		}
		// допускается форма id-version
		in.PipelineID = id
		if i := strings.LastIndex(id, "-"); i > 0 {
			if _, err := strconv.Atoi(id[i+1:]); err == nil {
				in.PipelineID, in.PipelineVersion = id[:i], id[i+1:]
			}
		}
		in.PipelineVersion = optional(fields, "pipelineVersion", in.PipelineVersion)
		if in.PipelineVersion == "" {
			in.PipelineVersion = "1"
		}
	}
	return in, nil
}

func required(fields map[string]any, key string) (string, error) {
	v, ok := fields[key]
	if !ok || v == nil {
		return "", fault.NewNonRetryable("%s cannot be null or empty", key)
	}
	return stringify(v), nil
}

func optional(fields map[string]any, key, def string) string {
	v, ok := fields[key]
	if !ok || v == nil {
		return def
	}
	return stringify(v)
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

// scriptVariables принимает JSON-строку или объект.
func scriptVariables(v any) (map[string]any, error) {
	switch t := v.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return t, nil
	case string:
		if strings.TrimSpace(t) == "" {
			return map[string]any{}, nil
		}
		var out map[string]any
		if err := json.Unmarshal([]byte(t), &out); err != nil {
			return nil, fault.WrapNonRetryable(err, "Error while mapping the script variables: %v", err)
		}
		return out, nil
	default:
		return nil, fault.NewNonRetryable("scriptVariables must be a JSON object, got %T", v)
	}
}
