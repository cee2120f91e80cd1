package script

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Operon/internal/fault"
)

func baseFields() map[string]any {
	return map[string]any{
		"scriptPath": "/deploy",
		"scriptName": "run.sh",
		"scriptUrl":  "https://git.example.com/ops/deploy.git",
		"password":   "secret",
		"user":       "deploy",
		"host":       "10.0.0.5",
		"port":       float64(22),
	}
}

func TestParseInput_Defaults(t *testing.T) {
	in, err := ParseInput(baseFields())
	require.NoError(t, err)

	assert.Equal(t, SourceGit, in.Source)
	assert.True(t, in.Create)
	assert.Equal(t, "run.sh", in.StaticPath)
	assert.Equal(t, 22, in.Target.Port)
	assert.Equal(t, "10.0.0.5", in.Target.Host)
	assert.Zero(t, in.Timeout)
	assert.Empty(t, in.Variables)
}

func TestParseInput_RequiredFields(t *testing.T) {
	for _, key := range []string{"scriptPath", "scriptName", "scriptUrl", "password", "user", "host", "port"} {
		fields := baseFields()
		delete(fields, key)

		_, err := ParseInput(fields)
		f, ok := fault.As(err)
		require.True(t, ok, key)
		assert.Equal(t, fault.NonRetryable, f.Class, key)
		assert.Equal(t, key+" cannot be null or empty", f.Message)
	}
}

func TestParseInput_Optional(t *testing.T) {
	fields := baseFields()
	fields["timeout"] = "90"
	fields["create"] = "false"
	fields["staticPath"] = "vm"
	fields["scriptVariables"] = `{"region":"eu","async":"true"}`

	in, err := ParseInput(fields)
	require.NoError(t, err)

	assert.Equal(t, 90*time.Second, in.Timeout)
	assert.False(t, in.Create)
	assert.Equal(t, "vm", in.StaticPath)
	assert.True(t, in.Async)
	assert.Equal(t, map[string]any{"region": "eu"}, in.Variables)
}

func TestParseInput_BadVariables(t *testing.T) {
	fields := baseFields()
	fields["scriptVariables"] = "{not json"

	_, err := ParseInput(fields)
	f, ok := fault.As(err)
	require.True(t, ok)
	assert.Equal(t, fault.NonRetryable, f.Class)
}

func TestParseInput_UnknownSource(t *testing.T) {
	fields := baseFields()
	fields["scriptSource"] = "FTP"

	_, err := ParseInput(fields)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Script source of type FTP is not supported yet")
}

func TestParseInput_PipelineVersion(t *testing.T) {
	fields := baseFields()
	fields["scriptSource"] = "pipeline"
	fields["pipelineId"] = "build-app-7"

	in, err := ParseInput(fields)
	require.NoError(t, err)
	assert.Equal(t, SourcePipeline, in.Source)
	assert.Equal(t, "build-app", in.PipelineID)
	assert.Equal(t, "7", in.PipelineVersion)

	fields["pipelineId"] = "build-app"
	in, err = ParseInput(fields)
	require.NoError(t, err)
	assert.Equal(t, "build-app", in.PipelineID)
	assert.Equal(t, "1", in.PipelineVersion)
}

func TestShellCommands_Git(t *testing.T) {
	in, err := ParseInput(baseFields())
	require.NoError(t, err)
	in.Variables = map[string]any{"region": "eu", "env": "prod"}

	plan, err := ShellCommands(in, "Shell_1")
	require.NoError(t, err)

	assert.Equal(t, []string{
		"mkdir Shell_1",
		"cd Shell_1 && git clone https://git.example.com/ops/deploy.git",
	}, plan.Prepare)
	assert.Equal(t, []string{
		"cd Shell_1/deploy && sed -i 's#$env#prod#g' run.sh",
		"cd Shell_1/deploy && sed -i 's#$region#eu#g' run.sh",
	}, plan.Substitute)
	assert.Equal(t, []string{
		"cd Shell_1/deploy && chmod +777 run.sh",
		"cd Shell_1/deploy && ./run.sh",
	}, plan.Run)
	assert.Empty(t, plan.UploadPath)
	assert.Equal(t, "rm -rf Shell_1", plan.Cleanup)
}

func TestShellCommands_JMeterAsync(t *testing.T) {
	in, err := ParseInput(baseFields())
	require.NoError(t, err)
	in.JMXScript = "load.jmx"
	in.RunID = "42"
	in.Async = true

	plan, err := ShellCommands(in, "Shell_1")
	require.NoError(t, err)
	assert.Equal(t,
		`cd Shell_1/deploy && nohup /root/testflink/apache-jmeter/bin/jmeter.sh -n -t "load.jmx" -Jid=42 > /dev/null 2>&1 &`,
		plan.Run[1])
}

func TestShellCommands_Pipeline(t *testing.T) {
	fields := baseFields()
	fields["scriptSource"] = "PIPELINE"
	fields["pipelineId"] = "p1"
	fields["scriptVariables"] = map[string]any{"fileName": "combined.sh"}
	in, err := ParseInput(fields)
	require.NoError(t, err)

	plan, err := ShellCommands(in, "Shell_1")
	require.NoError(t, err)
	assert.Equal(t, "Shell_1/deploy/combined.sh", plan.UploadPath)
	assert.Equal(t, []string{"mkdir Shell_1", "mkdir -p Shell_1/deploy"}, plan.Prepare)
}

func TestTerraformCommands(t *testing.T) {
	fields := baseFields()
	fields["scriptPath"] = "/infra"
	fields["staticPath"] = "network"
	in, err := ParseInput(fields)
	require.NoError(t, err)

	backend := StateBackend{StorageAccount: "acct", Container: "tfstate", AccessKey: "k3y"}
	plan, err := TerraformCommands(in, "t1", "Activity_1", "Terraform_5", backend)
	require.NoError(t, err)

	assert.Equal(t, "tenant_t1/Activity_1/network", plan.StatePath)
	assert.Equal(t, "Terraform_5/infra/terraform.tfvars", plan.TFVarsPath)
	require.Len(t, plan.Prepare, 3)
	assert.Contains(t, plan.Prepare[2], `s/\$storageaccountname/acct/g`)
	assert.Contains(t, plan.Prepare[2], `s/\$storageaccountkey/tenant_t1\/Activity_1\/network\/terraform.tfstate/g`)
	assert.Equal(t, []string{
		"cd Terraform_5/infra && terraform init",
		"cd Terraform_5/infra && terraform plan",
		"cd Terraform_5/infra && terraform apply -auto-approve -lock=false",
	}, plan.Run)
	assert.Equal(t, "cd Terraform_5/infra && terraform show -json", plan.Show)

	in.Create = false
	plan, err = TerraformCommands(in, "t1", "Activity_1", "Terraform_5", backend)
	require.NoError(t, err)
	assert.Equal(t, "cd Terraform_5/infra && terraform destroy -auto-approve", plan.Run[2])
}

func TestTerraformCommands_OnlyGit(t *testing.T) {
	in := &Input{Source: SourcePipeline}
	_, err := TerraformCommands(in, "t", "a", "f", StateBackend{})
	assert.ErrorIs(t, err, ErrUnsupportedSource)
}

func TestLeaseBreakCommand(t *testing.T) {
	cmd := LeaseBreakCommand("tenant_t1/A/net", StateBackend{StorageAccount: "acct", Container: "c", AccessKey: "k"})
	assert.Equal(t,
		"az storage blob lease break --container-name c --blob-name tenant_t1/A/net/terraform.tfstate --account-name acct --account-key k"+
			" && az storage blob delete --container-name c --name tenant_t1/A/net/terraform.tfstate --account-name acct --account-key k",
		cmd)
}

func TestIsStateLocked(t *testing.T) {
	line, ok := IsStateLocked([]string{"Acquiring state lock", "Error: state blob is already locked"})
	assert.True(t, ok)
	assert.Equal(t, "Error: state blob is already locked", line)

	_, ok = IsStateLocked([]string{"Error: invalid provider"})
	assert.False(t, ok)
}

func TestRenderTFVars(t *testing.T) {
	out, err := RenderTFVars(map[string]any{
		"name":   "web",
		"count":  float64(2),
		"public": true,
		"zones":  []any{"a", "b"},
		"raw":    `["x"]`,
		"tags":   map[string]any{"env": "prod", "team": "ops"},
	})
	require.NoError(t, err)

	want := `count = 2
name = "web"
public = true
raw = ["x"]
tags = {
  env = "prod"
  team = "ops"
}
zones = ["a", "b"]
`
	assert.Equal(t, want, string(out))
}

func TestOutputDocuments(t *testing.T) {
	assert.JSONEq(t, `["a","b"]`, string(StdoutDocument([]string{"a", "b"})))
	assert.JSONEq(t, `[]`, string(StdoutDocument(nil)))
	assert.Equal(t, `{"values":{}}`, string(ShowDocument([]string{`{"values":`, `{}}`})))
}

func TestPipelineClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "p1", r.URL.Query().Get("pipelineId"))
		assert.Equal(t, "2", r.URL.Query().Get("version"))
		assert.Equal(t, "Bearer t", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"combinedScript":"echo hi"}`))
	}))
	defer srv.Close()

	script, err := NewPipelineClient(srv.URL, time.Second).CombinedScript(context.Background(), "Bearer t", "p1", "2")
	require.NoError(t, err)
	assert.Equal(t, "echo hi", string(script))
}

func TestPipelineClient_Errors(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer failing.Close()

	_, err := NewPipelineClient(failing.URL, time.Second).CombinedScript(context.Background(), "", "p1", "1")
	assert.True(t, fault.IsRetryable(err))

	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer empty.Close()

	_, err = NewPipelineClient(empty.URL, time.Second).CombinedScript(context.Background(), "", "p1", "1")
	assert.ErrorIs(t, err, ErrEmptyPipeline)
}
