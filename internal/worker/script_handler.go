package worker

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/shaiso/Operon/internal/configsvc"
	"github.com/shaiso/Operon/internal/domain"
	"github.com/shaiso/Operon/internal/fault"
	"github.com/shaiso/Operon/internal/project"
	"github.com/shaiso/Operon/internal/remote"
	"github.com/shaiso/Operon/internal/resolve"
	"github.com/shaiso/Operon/internal/script"
	"github.com/shaiso/Operon/internal/telemetry"
)

// cleanupTimeout — таймаут команды удаления рабочего каталога.
const cleanupTimeout = 30 * time.Second

// LockExtender продлевает блокировку задачи.
type LockExtender interface {
	ExtendLock(ctx context.Context, task *domain.ExternalTask, d time.Duration) error
}

// PipelineSource отдаёт собранный скрипт пайплайна.
type PipelineSource interface {
	CombinedScript(ctx context.Context, auth, id, version string) ([]byte, error)
}

// ScriptDeps — зависимости скриптовых обработчиков. Pipelines может быть
// nil, тогда источник PIPELINE не поддерживается.
type ScriptDeps struct {
	Configs   configsvc.Fetcher
	Dialer    remote.Dialer
	Locks     LockExtender
	Pipelines PipelineSource
}

// scriptBase — общая часть shell- и Terraform-обработчиков: загрузка
// конфигурации, разбор входа, продление блокировки и SSH-сессия.
type scriptBase struct {
	deps      ScriptDeps
	resolver  *resolve.Resolver
	projector *project.Projector
	now       func() time.Time
}

func newScriptBase(deps ScriptDeps) scriptBase {
	return scriptBase{
		deps:      deps,
		resolver:  resolve.NewResolver(resolve.ScriptScope()),
		projector: project.New(project.WithJSONEncodedValues()),
		now:       time.Now,
	}
}

// prepareInput загружает master config продукта и вычисляет поля
// скриптовой операции. Документ запрашивается без имени интерфейса,
// поля PROPERTY читаются под ключом listenerConfig.
func (b *scriptBase) prepareInput(ctx context.Context, op *domain.Operation) (*script.Input, error) {
	cfgOp := *op
	cfgOp.Environment = domain.EnvironmentTest
	cfgOp.Input.InterfacePath = ""

	doc, err := b.deps.Configs.Fetch(ctx, &cfgOp)
	if err != nil {
		return nil, err
	}
	cfgOp.Config = doc
	op.Config = doc

	fields := make(map[string]any, len(op.Input.Items))
	for _, name := range op.Input.Items.Names() {
		v, err := b.resolver.ResolveNamed(ctx, &cfgOp, name)
		if err != nil {
			return nil, fault.WrapNonRetryable(err, "Failed to resolve script inputs %s: %v", op.Input.ComponentID, err)
		}
		fields[name] = resolve.Plain(v)
	}
	return script.ParseInput(fields)
}

// timeout возвращает допустимое время без вывода: явный таймаут
// входа или остаток блокировки.
func (b *scriptBase) timeout(op *domain.Operation, in *script.Input) time.Duration {
	if in.Timeout > 0 {
		return in.Timeout
	}
	return op.Task.RemainingLock(b.now())
}

// connect продлевает блокировку на timeout и открывает сессию.
func (b *scriptBase) connect(ctx context.Context, op *domain.Operation, in *script.Input, timeout time.Duration) (remote.Session, error) {
	if timeout > 0 && b.deps.Locks != nil {
		if err := b.deps.Locks.ExtendLock(ctx, op.Task, timeout); err != nil {
			return nil, fault.Wrap(fault.Retryable, fault.CodeConnection, err, "Failed to extend the lock of task %s: %v", op.Task.ID, err)
		}
	}

	sess, err := b.deps.Dialer.Dial(ctx, in.Target)
	switch {
	case err == nil:
		return sess, nil
	case errors.Is(err, remote.ErrPrivateKey):
		return nil, fault.WrapNonRetryable(err, "%v", err)
	default:
		return nil, fault.Wrap(fault.Retryable, fault.CodeConnection, err, "%v", err)
	}
}

// run выполняет команды по очереди и собирает stdout.
// Ненулевой код выхода — NonRetryable с текстом stderr.
func run(ctx context.Context, sess remote.Session, commands []string, timeout time.Duration, stdout *[]string) (*remote.Result, error) {
	logger := telemetry.FromContext(ctx)

	var last *remote.Result
	for _, command := range commands {
		logger.Info("executing command", "command", command)
		res, err := sess.Run(ctx, command, timeout)
		if res != nil && stdout != nil {
			*stdout = append(*stdout, res.Stdout...)
		}
		if err != nil {
			return res, commandError(err)
		}
		last = res
		if res.ExitStatus != 0 {
			return res, fault.Wrap(fault.NonRetryable, fault.CodeValidation, ErrCommandFailed,
				"Command %q failed with exit status %d: %s", command, res.ExitStatus, strings.Join(res.Stderr, "\n"))
		}
	}
	return last, nil
}

func commandError(err error) error {
	if errors.Is(err, remote.ErrTimeout) {
		return fault.Wrap(fault.Retryable, fault.CodeTimeout, errors.Join(ErrCommandTimeout, err),
			"Command execution timed out due to inactivity...")
	}
	return fault.Wrap(fault.Retryable, fault.CodeConnection, err, "Error while executing the command: %v", err)
}

// cleanup удаляет рабочий каталог. Ошибка только логируется.
func cleanup(ctx context.Context, sess remote.Session, command string) {
	ctx = context.WithoutCancel(ctx)
	res, err := sess.Run(ctx, command, cleanupTimeout)
	if err == nil && res.ExitStatus == 0 {
		return
	}
	telemetry.FromContext(ctx).Warn("failed to clean up working folder", "command", command, "error", err)
}

// ShellHandler выполняет shell-скрипты на удалённом хосте. Обслуживает
// топики ShellScriptHandler, AnsibleHandler и PythonHandler.
type ShellHandler struct {
	scriptBase
	component string
}

// NewShellHandler создаёт обработчик с именем компонента component.
func NewShellHandler(component string, deps ScriptDeps) *ShellHandler {
	return &ShellHandler{scriptBase: newScriptBase(deps), component: component}
}

func (h *ShellHandler) Component() string { return h.component }

func (h *ShellHandler) Mandatory() []string { return nil }

// Prepare разбирает вход и строит команды. Сессия открывается
// только при выполнении.
func (h *ShellHandler) Prepare(ctx context.Context, op *domain.Operation) (Action, error) {
	in, err := h.prepareInput(ctx, op)
	if err != nil {
		return nil, err
	}
	plan, err := script.ShellCommands(in, script.Folder(script.ShellFolderPrefix, h.now()))
	if err != nil {
		return nil, err
	}
	if plan.UploadPath != "" && h.deps.Pipelines == nil {
		return nil, fault.NewNonRetryable("Script source of type %s is not supported yet", in.Source)
	}

	return func(ctx context.Context) (*Response, error) {
		return h.execute(ctx, op, in, plan)
	}, nil
}

func (h *ShellHandler) execute(ctx context.Context, op *domain.Operation, in *script.Input, plan *script.ShellPlan) (*Response, error) {
	logger := telemetry.FromContext(ctx)
	timeout := h.timeout(op, in)

	sess, err := h.connect(ctx, op, in, timeout)
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	var stdout []string
	if _, err := run(ctx, sess, plan.Prepare, timeout, &stdout); err != nil {
		return nil, err
	}
	if !in.Async {
		defer cleanup(ctx, sess, plan.Cleanup)
	}

	if plan.UploadPath != "" {
		data, err := h.deps.Pipelines.CombinedScript(ctx,
			op.Task.StringVariable(domain.GlobalAuthorization), in.PipelineID, in.PipelineVersion)
		if err != nil {
			return nil, err
		}
		if err := sess.Upload(ctx, plan.UploadPath, data); err != nil {
			return nil, fault.Wrap(fault.Retryable, fault.CodeConnection, err, "Failed to upload the pipeline script: %v", err)
		}
		logger.Info("pipeline script uploaded", "path", plan.UploadPath)
	}

	if _, err := run(ctx, sess, plan.Substitute, timeout, &stdout); err != nil {
		return nil, err
	}
	if _, err := run(ctx, sess, plan.Run, timeout, &stdout); err != nil {
		return nil, err
	}

	logger.Info("shell script executed", "lines", len(stdout), "async", in.Async)
	return &Response{
		Status:      http.StatusOK,
		Body:        script.StdoutDocument(stdout),
		ContentType: domain.MediaJSON,
	}, nil
}

// Project пишет выходы из массива строк stdout. Значения хранятся
// JSON-строками.
func (h *ShellHandler) Project(ctx context.Context, op *domain.Operation, resp *Response) error {
	return h.projector.Project(ctx, op, resp.Body, resp.ContentType)
}
