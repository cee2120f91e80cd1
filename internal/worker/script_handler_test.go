package worker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Operon/internal/domain"
	"github.com/shaiso/Operon/internal/fault"
	"github.com/shaiso/Operon/internal/remote"
	"github.com/shaiso/Operon/internal/retry"
	"github.com/shaiso/Operon/internal/script"
)

var testNow = time.UnixMilli(1700000000000)

type fakeSession struct {
	mu       sync.Mutex
	commands []string
	uploads  map[string]string
	closed   bool

	respond func(command string) (*remote.Result, error)
}

func (s *fakeSession) Run(_ context.Context, command string, _ time.Duration) (*remote.Result, error) {
	s.mu.Lock()
	s.commands = append(s.commands, command)
	s.mu.Unlock()
	if s.respond != nil {
		return s.respond(command)
	}
	return &remote.Result{}, nil
}

func (s *fakeSession) Upload(_ context.Context, path string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.uploads == nil {
		s.uploads = map[string]string{}
	}
	s.uploads[path] = string(data)
	return nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type fakeDialer struct {
	session *fakeSession
	err     error
	targets []remote.Target
}

func (d *fakeDialer) Dial(_ context.Context, target remote.Target) (remote.Session, error) {
	d.targets = append(d.targets, target)
	if d.err != nil {
		return nil, d.err
	}
	return d.session, nil
}

type fakePipelines struct {
	script string
	calls  []string
}

func (p *fakePipelines) CombinedScript(_ context.Context, auth, id, version string) ([]byte, error) {
	p.calls = append(p.calls, auth+"|"+id+"|"+version)
	return []byte(p.script), nil
}

// scriptItems собирает STATIC-поля скриптовой операции.
func scriptItems(extra map[string]string) string {
	fields := map[string]string{
		"scriptPath":      "/scripts",
		"scriptName":      "run.sh",
		"scriptUrl":       "https://git.example.com/ops.git",
		"user":            "deploy",
		"password":        "secret",
		"host":            "10.0.0.5",
		"port":            "2222",
		"timeout":         "60",
		"scriptVariables": `{\"name\":\"world\"}`,
	}
	for k, v := range extra {
		fields[k] = v
	}
	parts := make([]string, 0, len(fields))
	for k, v := range fields {
		parts = append(parts, fmt.Sprintf(`%q:{"type":"STATIC","value":"%s"}`, k, v))
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func scriptTask(topic string, extra map[string]string) *domain.ExternalTask {
	task := newTask("t-1", scriptItems(extra))
	task.TopicName = topic
	task.Variables[domain.GlobalEnvironment] = "PROD"
	task.Variables[domain.OutputKey(testActivity)] = `{"outputs":{"result":"_$"}}`
	return task
}

func TestShellHandler_ThroughLifecycle(t *testing.T) {
	sess := &fakeSession{respond: func(command string) (*remote.Result, error) {
		if strings.HasSuffix(command, "./run.sh") {
			return &remote.Result{Stdout: []string{"hello world"}}, nil
		}
		return &remote.Result{}, nil
	}}
	dialer := &fakeDialer{session: sess}
	configs := &staticConfigs{doc: `{"masterConfig":{}}`}
	eng := &fakeEngine{}

	h := NewShellHandler(TopicShellScript, ScriptDeps{Configs: configs, Dialer: dialer, Locks: eng})
	h.now = func() time.Time { return testNow }

	lc := NewLifecycle(LifecycleConfig{Engine: eng, Policy: retry.Policy{Count: 3, Delay: time.Second}})
	lc.Handle(context.Background(), scriptTask(TopicShellScript, nil), h)
	lc.Wait()

	require.Empty(t, eng.bpmn)
	require.Len(t, eng.completed, 1)
	assert.Equal(t, `["hello world"]`, eng.completed[0]["result"])

	assert.Equal(t, []domain.Environment{domain.EnvironmentTest}, configs.envs, "script config always comes from master config")
	assert.Equal(t, []string{""}, configs.ifaces)
	assert.Equal(t, []time.Duration{60 * time.Second}, eng.extended)

	require.Len(t, dialer.targets, 1)
	assert.Equal(t, remote.Target{Host: "10.0.0.5", Port: 2222, User: "deploy", Password: "secret"}, dialer.targets[0])

	assert.Equal(t, []string{
		"mkdir Shell_1700000000000",
		"cd Shell_1700000000000 && git clone https://git.example.com/ops.git",
		"cd Shell_1700000000000/scripts && sed -i 's#$name#world#g' run.sh",
		"cd Shell_1700000000000/scripts && chmod +777 run.sh",
		"cd Shell_1700000000000/scripts && ./run.sh",
		"rm -rf Shell_1700000000000",
	}, sess.commands)
	assert.True(t, sess.closed)
}

func TestShellHandler_CommandTimeout(t *testing.T) {
	sess := &fakeSession{respond: func(command string) (*remote.Result, error) {
		if strings.HasSuffix(command, "./run.sh") {
			return &remote.Result{Stdout: []string{"partial"}}, fmt.Errorf("%w: %s", remote.ErrTimeout, command)
		}
		return &remote.Result{}, nil
	}}
	h := NewShellHandler(TopicShellScript, ScriptDeps{
		Configs: &staticConfigs{doc: `{"masterConfig":{}}`},
		Dialer:  &fakeDialer{session: sess},
	})

	op, err := parseTask(t, scriptTask(TopicShellScript, nil))
	require.NoError(t, err)
	action, err := h.Prepare(context.Background(), op)
	require.NoError(t, err)

	_, err = action(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCommandTimeout)

	f, ok := fault.As(err)
	require.True(t, ok)
	assert.Equal(t, fault.Retryable, f.Class)
	assert.Equal(t, fault.CodeTimeout, f.Code)
	assert.Contains(t, sess.commands, "rm -rf "+sess.commands[0][len("mkdir "):])
}

func TestShellHandler_NonZeroExit(t *testing.T) {
	sess := &fakeSession{respond: func(command string) (*remote.Result, error) {
		if strings.Contains(command, "git clone") {
			return &remote.Result{ExitStatus: 128, Stderr: []string{"fatal: repository not found"}}, nil
		}
		return &remote.Result{}, nil
	}}
	h := NewShellHandler(TopicAnsible, ScriptDeps{
		Configs: &staticConfigs{doc: `{"masterConfig":{}}`},
		Dialer:  &fakeDialer{session: sess},
	})

	op, err := parseTask(t, scriptTask(TopicAnsible, nil))
	require.NoError(t, err)
	action, err := h.Prepare(context.Background(), op)
	require.NoError(t, err)

	_, err = action(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCommandFailed)
	assert.Contains(t, err.Error(), "fatal: repository not found")
	assert.False(t, fault.IsRetryable(err))
	assert.Equal(t, TopicAnsible, h.Component())
}

func TestShellHandler_ConnectFailureIsRetryable(t *testing.T) {
	h := NewShellHandler(TopicPython, ScriptDeps{
		Configs: &staticConfigs{doc: `{"masterConfig":{}}`},
		Dialer:  &fakeDialer{err: fmt.Errorf("%w 10.0.0.5:2222: refused", remote.ErrConnect)},
	})

	op, err := parseTask(t, scriptTask(TopicPython, nil))
	require.NoError(t, err)
	action, err := h.Prepare(context.Background(), op)
	require.NoError(t, err)

	_, err = action(context.Background())
	assert.True(t, fault.IsRetryable(err))
	assert.ErrorIs(t, err, remote.ErrConnect)
}

func TestShellHandler_PipelineUpload(t *testing.T) {
	sess := &fakeSession{}
	pipelines := &fakePipelines{script: "echo combined"}
	h := NewShellHandler(TopicShellScript, ScriptDeps{
		Configs:   &staticConfigs{doc: `{"masterConfig":{}}`},
		Dialer:    &fakeDialer{session: sess},
		Pipelines: pipelines,
	})
	h.now = func() time.Time { return testNow }

	op, err := parseTask(t, scriptTask(TopicShellScript, map[string]string{
		"scriptSource":    "PIPELINE",
		"pipelineId":      "deploy-7",
		"scriptVariables": `{\"fileName\":\"combined.sh\"}`,
	}))
	require.NoError(t, err)
	action, err := h.Prepare(context.Background(), op)
	require.NoError(t, err)

	_, err = action(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"Bearer token|deploy|7"}, pipelines.calls)
	assert.Equal(t, map[string]string{"Shell_1700000000000/scripts/combined.sh": "echo combined"}, sess.uploads)
	assert.Contains(t, sess.commands, "mkdir -p Shell_1700000000000/scripts")
}

func TestShellHandler_PipelineWithoutSource(t *testing.T) {
	h := NewShellHandler(TopicShellScript, ScriptDeps{
		Configs: &staticConfigs{doc: `{"masterConfig":{}}`},
		Dialer:  &fakeDialer{session: &fakeSession{}},
	})

	op, err := parseTask(t, scriptTask(TopicShellScript, map[string]string{
		"scriptSource": "PIPELINE",
		"pipelineId":   "deploy",
	}))
	require.NoError(t, err)

	_, err = h.Prepare(context.Background(), op)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Script source of type PIPELINE is not supported yet")
}

func TestShellHandler_MissingRequiredInput(t *testing.T) {
	h := NewShellHandler(TopicShellScript, ScriptDeps{
		Configs: &staticConfigs{doc: `{"masterConfig":{}}`},
		Dialer:  &fakeDialer{session: &fakeSession{}},
	})

	task := scriptTask(TopicShellScript, nil)
	task.Variables[domain.InputKey(testActivity)] = `{"componentId":"product-1","productMasterConfigId":"mc-1",` +
		`"interfacePath":"#orders","items":{"scriptPath":{"type":"STATIC","value":"/scripts"}}}`
	op, err := parseTask(t, task)
	require.NoError(t, err)

	_, err = h.Prepare(context.Background(), op)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scriptName cannot be null or empty")
	assert.False(t, fault.IsRetryable(err))
}

var testBackend = script.StateBackend{StorageAccount: "acct", Container: "tfstate", AccessKey: "key"}

func TestTerraformHandler_Apply(t *testing.T) {
	sess := &fakeSession{respond: func(command string) (*remote.Result, error) {
		if strings.HasSuffix(command, "terraform show -json") {
			return &remote.Result{Stdout: []string{`{"values":`, `{"outputs":{"ip":{"value":"10.0.0.1"}}}}`}}, nil
		}
		return &remote.Result{}, nil
	}}
	eng := &fakeEngine{}
	h := NewTerraformHandler(ScriptDeps{
		Configs: &staticConfigs{doc: `{"masterConfig":{}}`},
		Dialer:  &fakeDialer{session: sess},
		Locks:   eng,
	}, testBackend)
	h.now = func() time.Time { return testNow }

	task := scriptTask(TopicTerraform, map[string]string{
		"scriptVariables": `{\"region\":\"eu\",\"size\":2}`,
		"staticPath":      "network",
	})
	task.Variables[domain.OutputKey(testActivity)] = `{"outputs":{"ip":"values#outputs#ip#value"}}`

	lc := NewLifecycle(LifecycleConfig{Engine: eng, Policy: retry.Policy{Count: 3, Delay: time.Second}})
	lc.Handle(context.Background(), task, h)
	lc.Wait()

	require.Empty(t, eng.bpmn)
	require.Len(t, eng.completed, 1)
	assert.Equal(t, `"10.0.0.1"`, eng.completed[0]["ip"])

	dir := "Terraform_1700000000000/scripts"
	assert.Equal(t, map[string]string{dir + "/terraform.tfvars": "region = \"eu\"\nsize = 2\n"}, sess.uploads)
	assert.Contains(t, sess.commands, "cd "+dir+" && terraform apply -auto-approve -lock=false")
	assert.Equal(t, "rm -rf Terraform_1700000000000", sess.commands[len(sess.commands)-1])
	assert.Equal(t, TopicTerraform, h.Component())
}

func TestTerraformHandler_StateLocked(t *testing.T) {
	sess := &fakeSession{respond: func(command string) (*remote.Result, error) {
		if strings.HasSuffix(command, "terraform plan") {
			return &remote.Result{ExitStatus: 1, Stderr: []string{"Error: state blob is already locked"}}, nil
		}
		return &remote.Result{}, nil
	}}
	h := NewTerraformHandler(ScriptDeps{
		Configs: &staticConfigs{doc: `{"masterConfig":{}}`},
		Dialer:  &fakeDialer{session: sess},
	}, testBackend)

	op, err := parseTask(t, scriptTask(TopicTerraform, nil))
	require.NoError(t, err)
	action, err := h.Prepare(context.Background(), op)
	require.NoError(t, err)

	_, err = action(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStateLocked)
	assert.True(t, fault.IsRetryable(err))
}

func TestTerraformHandler_TimeoutReleasesState(t *testing.T) {
	sess := &fakeSession{respond: func(command string) (*remote.Result, error) {
		if strings.HasSuffix(command, "terraform apply -auto-approve -lock=false") {
			return &remote.Result{}, fmt.Errorf("%w: %s", remote.ErrTimeout, command)
		}
		return &remote.Result{}, nil
	}}
	h := NewTerraformHandler(ScriptDeps{
		Configs: &staticConfigs{doc: `{"masterConfig":{}}`},
		Dialer:  &fakeDialer{session: sess},
	}, testBackend)

	op, err := parseTask(t, scriptTask(TopicTerraform, map[string]string{"staticPath": "network"}))
	require.NoError(t, err)
	action, err := h.Prepare(context.Background(), op)
	require.NoError(t, err)

	_, err = action(context.Background())
	f, ok := fault.As(err)
	require.True(t, ok)
	assert.Equal(t, fault.Retryable, f.Class)
	assert.Equal(t, fault.CodeTimeout, f.Code)

	release := script.LeaseBreakCommand("tenant_tenant-1/Activity_1/network", testBackend)
	assert.Contains(t, sess.commands, release)
}
