package worker

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/shaiso/Operon/internal/domain"
	"github.com/shaiso/Operon/internal/fault"
	"github.com/shaiso/Operon/internal/remote"
	"github.com/shaiso/Operon/internal/script"
	"github.com/shaiso/Operon/internal/telemetry"
)

// codeStateLocked — код ошибки занятого remote state.
const codeStateLocked = "423"

// TerraformHandler выполняет Terraform-прогоны на удалённом хосте.
type TerraformHandler struct {
	scriptBase
	backend script.StateBackend
}

// NewTerraformHandler создаёт обработчик. backend — хранилище remote state.
func NewTerraformHandler(deps ScriptDeps, backend script.StateBackend) *TerraformHandler {
	return &TerraformHandler{scriptBase: newScriptBase(deps), backend: backend}
}

func (h *TerraformHandler) Component() string { return TopicTerraform }

func (h *TerraformHandler) Mandatory() []string { return nil }

// Prepare разбирает вход, строит команды и рендерит terraform.tfvars.
func (h *TerraformHandler) Prepare(ctx context.Context, op *domain.Operation) (Action, error) {
	in, err := h.prepareInput(ctx, op)
	if err != nil {
		return nil, err
	}
	folder := script.Folder(script.TerraformFolderPrefix, h.now())
	plan, err := script.TerraformCommands(in, op.TenantID, op.ActivityID(), folder, h.backend)
	if err != nil {
		return nil, err
	}
	tfvars, err := script.RenderTFVars(in.Variables)
	if err != nil {
		return nil, fault.WrapNonRetryable(err, "Error while mapping the script variables: %v", err)
	}

	return func(ctx context.Context) (*Response, error) {
		return h.execute(ctx, op, in, plan, tfvars)
	}, nil
}

func (h *TerraformHandler) execute(ctx context.Context, op *domain.Operation, in *script.Input, plan *script.TerraformPlan, tfvars []byte) (*Response, error) {
	logger := telemetry.FromContext(ctx)
	timeout := h.timeout(op, in)

	sess, err := h.connect(ctx, op, in, timeout)
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	if _, err := run(ctx, sess, plan.Prepare, timeout, nil); err != nil {
		return nil, err
	}
	defer cleanup(ctx, sess, plan.Cleanup)

	if err := sess.Upload(ctx, plan.TFVarsPath, tfvars); err != nil {
		return nil, fault.Wrap(fault.Retryable, fault.CodeConnection, err, "Failed to upload %s: %v", script.TFVarsFile, err)
	}

	for _, command := range plan.Run {
		logger.Info("executing terraform command", "command", command, "state_path", plan.StatePath)
		res, err := sess.Run(ctx, command, timeout)
		if err != nil {
			if errors.Is(err, remote.ErrTimeout) {
				h.releaseState(ctx, sess, plan.StatePath)
			}
			return nil, commandError(err)
		}
		if line, locked := script.IsStateLocked(res.Stderr); locked {
			return nil, fault.Wrap(fault.Retryable, codeStateLocked, ErrStateLocked,
				"Terraform state %s is locked: %s", plan.StatePath, line)
		}
		if res.ExitStatus != 0 {
			return nil, fault.Wrap(fault.NonRetryable, fault.CodeValidation, ErrCommandFailed,
				"Command %q failed with exit status %d: %s", command, res.ExitStatus, strings.Join(res.Stderr, "\n"))
		}
	}

	show, err := run(ctx, sess, []string{plan.Show}, timeout, nil)
	if err != nil {
		return nil, err
	}

	logger.Info("terraform run finished", "create", in.Create)
	return &Response{
		Status:      http.StatusOK,
		Body:        script.ShowDocument(show.Stdout),
		ContentType: domain.MediaJSON,
	}, nil
}

// releaseState снимает блокировку state после зависшей команды.
func (h *TerraformHandler) releaseState(ctx context.Context, sess remote.Session, statePath string) {
	logger := telemetry.FromContext(ctx)
	logger.Info("releasing terraform state lock", "state_path", statePath)

	ctx = context.WithoutCancel(ctx)
	res, err := sess.Run(ctx, script.LeaseBreakCommand(statePath, h.backend), cleanupTimeout)
	if err != nil || res.ExitStatus != 0 {
		logger.Error("failed to release terraform state lock", "state_path", statePath, "error", err)
		return
	}
	logger.Info("terraform state lock released", "state_path", statePath)
}

// Project пишет выходы из вывода terraform show -json.
func (h *TerraformHandler) Project(ctx context.Context, op *domain.Operation, resp *Response) error {
	return h.projector.Project(ctx, op, resp.Body, resp.ContentType)
}
