package resolve

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Operon/internal/domain"
	"github.com/shaiso/Operon/internal/fault"
)

// newTestOperation собирает Operation с документом конфигурации и полями.
func newTestOperation(t *testing.T, env domain.Environment, iface, doc, items string) *domain.Operation {
	t.Helper()

	op := domain.NewOperation(&domain.ExternalTask{
		ID:                "task-1",
		ActivityID:        "Activity_1",
		ProcessInstanceID: "pi-1",
		Variables:         map[string]any{},
	})
	op.Environment = env
	op.Input.InterfacePath = iface
	op.Input.ComponentID = "product-1"

	if doc != "" {
		cfg, err := domain.NewConfigDocument([]byte(doc))
		require.NoError(t, err)
		op.Config = cfg
	}
	if items != "" {
		require.NoError(t, json.Unmarshal([]byte(items), &op.Input.Items))
	}
	return op
}

func TestResolve_Static(t *testing.T) {
	r := NewResolver(APIScope())
	op := newTestOperation(t, domain.EnvironmentTest, "", "", "")

	v, err := r.Resolve(context.Background(), op, &domain.Field{Type: domain.SourceStatic, Value: "GET"})
	require.NoError(t, err)
	assert.Equal(t, "GET", v)
}

func TestResolve_UndeclaredReturnsNil(t *testing.T) {
	r := NewResolver(APIScope())
	op := newTestOperation(t, domain.EnvironmentTest, "", "", "")

	v, err := r.Resolve(context.Background(), op, nil)
	assert.NoError(t, err)
	assert.Nil(t, v)

	v, err = r.Resolve(context.Background(), op, &domain.Field{Value: "GET"})
	assert.NoError(t, err)
	assert.Nil(t, v)
}

func TestResolve_UnknownSourceTypeIsClassified(t *testing.T) {
	r := NewResolver(APIScope())
	op := newTestOperation(t, domain.EnvironmentTest, "", "", "")

	_, err := r.Resolve(context.Background(), op, &domain.Field{Type: "FILE", Value: "$x"})
	require.Error(t, err)
	f, ok := fault.As(err)
	require.True(t, ok)
	assert.Equal(t, fault.NonRetryable, f.Class)
}

func TestResolve_PropertyProd(t *testing.T) {
	r := NewResolver(APIScope())
	op := newTestOperation(t, domain.EnvironmentProd, "orders",
		`{"allianceConfig":{"orders":{"children":{"foo":{"value":"bar"}}}}}`, "")

	v, err := r.Resolve(context.Background(), op, &domain.Field{Type: domain.SourceProperty, Value: "$foo"})
	require.NoError(t, err)
	assert.Equal(t, "bar", v)
}

func TestResolve_PropertyTestUsesMasterConfig(t *testing.T) {
	r := NewResolver(APIScope())
	op := newTestOperation(t, domain.EnvironmentTest, "orders",
		`{"masterConfig":{"orders":{"children":{"foo":{"value":"test-bar"}}}},
		  "allianceConfig":{"orders":{"children":{"foo":{"value":"prod-bar"}}}}}`, "")

	v, err := r.Resolve(context.Background(), op, &domain.Field{Type: domain.SourceProperty, Value: "$foo"})
	require.NoError(t, err)
	assert.Equal(t, "test-bar", v)
}

func TestResolve_PropertyNotFoundIsNonRetryable(t *testing.T) {
	r := NewResolver(APIScope())
	op := newTestOperation(t, domain.EnvironmentProd, "orders",
		`{"allianceConfig":{"orders":{"children":{}}}}`, "")

	v, err := r.Resolve(context.Background(), op, &domain.Field{Type: domain.SourceProperty, Value: "$missing"})
	require.Error(t, err)
	assert.Nil(t, v)
	assert.ErrorIs(t, err, domain.ErrPathNotFound)

	f, ok := fault.As(err)
	require.True(t, ok)
	assert.Equal(t, fault.NonRetryable, f.Class)
	assert.Contains(t, err.Error(), "$missing")
}

func TestResolve_SecretSubstitution(t *testing.T) {
	r := NewResolver(APIScope())
	op := newTestOperation(t, domain.EnvironmentProd, "orders",
		`{"allianceConfig":{"orders":{"children":{"apiKey":{"value":"secret::sensitive_data"}}}}}`, "")
	op.Secrets = map[string]string{"apiKey": "s3cr3t"}

	v, err := r.Resolve(context.Background(), op, &domain.Field{Type: domain.SourceProperty, Value: "$apiKey"})
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", v)
	assert.NotEqual(t, SecretSentinel, v)
}

func TestResolve_SecretMissingInLoadedSecrets(t *testing.T) {
	r := NewResolver(APIScope())
	op := newTestOperation(t, domain.EnvironmentProd, "orders",
		`{"allianceConfig":{"orders":{"children":{"apiKey":{"value":"secret::sensitive_data"}}}}}`, "")
	op.Secrets = map[string]string{"other": "x"}

	_, err := r.Resolve(context.Background(), op, &domain.Field{Type: domain.SourceProperty, Value: "$apiKey"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingSecret)
}

func TestResolve_ScriptScopeSkipsSecrets(t *testing.T) {
	r := NewResolver(ScriptScope())
	op := newTestOperation(t, domain.EnvironmentTest, "ignored",
		`{"masterConfig":{"listenerConfig":{"children":{"pwd":{"value":"secret::sensitive_data"}}}}}`, "")
	op.Secrets = map[string]string{"pwd": "hidden"}

	v, err := r.Resolve(context.Background(), op, &domain.Field{Type: domain.SourceProperty, Value: "$pwd"})
	require.NoError(t, err)
	assert.Equal(t, SecretSentinel, v)
}

func TestResolve_VariableSources(t *testing.T) {
	r := NewResolver(APIScope())
	op := newTestOperation(t, domain.EnvironmentTest, "", "", "")
	op.SetVariable("$_TENANT_ID", "tenant-7")
	op.SetVariable("scriptOut", 42)
	op.SetVariable("external", "ext")

	// GLOBALS, SCRIPT и EXTERNALS читают переменную по метке
	v, err := r.Resolve(context.Background(), op, &domain.Field{Type: domain.SourceGlobals, Value: "$$_TENANT_ID"})
	require.NoError(t, err)
	assert.Equal(t, "tenant-7", v)

	v, err = r.Resolve(context.Background(), op, &domain.Field{Type: domain.SourceScript, Value: "$scriptOut"})
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	v, err = r.Resolve(context.Background(), op, &domain.Field{Type: domain.SourceExternals, Value: "$external"})
	require.NoError(t, err)
	assert.Equal(t, "ext", v)
}

func TestResolve_GroupDropsEmptyAndUndeclared(t *testing.T) {
	r := NewResolver(APIScope())
	op := newTestOperation(t, domain.EnvironmentProd, "orders",
		`{"allianceConfig":{"orders":{"children":{"headers":{"token":{"value":"t-1"}}}}}}`,
		`{"HTTP_HEADERS":{"type":"GROUP","value":"$headers","items":{
			"X-Static":{"type":"STATIC","value":"s"},
			"X-Token":{"type":"PROPERTY","value":"$token"},
			"X-Empty":{"type":"STATIC","value":""},
			"X-Missing-Var":{"type":"GLOBALS","value":"$nope","label":"nope"},
			"X-Untyped":{"value":"ignored"}
		}}}`)

	v, err := r.ResolveNamed(context.Background(), op, "HTTP_HEADERS")
	require.NoError(t, err)

	values, ok := v.(Values)
	require.True(t, ok)
	assert.Equal(t, 2, values.Len())
	assert.Equal(t, map[string]any{"X-Static": "s", "X-Token": "t-1"}, values.Map())
}

func TestResolve_GroupPreservesDeclarationOrder(t *testing.T) {
	r := NewResolver(APIScope())
	op := newTestOperation(t, domain.EnvironmentTest, "", "",
		`{"HTTP_PAYLOAD":{"type":"GROUP","value":"$payload","items":{
			"c":{"type":"STATIC","value":"3"},
			"a":{"type":"STATIC","value":"1"},
			"b":{"type":"STATIC","value":"2"}
		}}}`)

	// порядок результата не зависит от порядка завершения горутин
	for i := 0; i < 20; i++ {
		v, err := r.ResolveNamed(context.Background(), op, "HTTP_PAYLOAD")
		require.NoError(t, err)
		values := v.(Values)
		require.Equal(t, 3, values.Len())
		assert.Equal(t, []string{"c", "a", "b"}, []string{values[0].Key, values[1].Key, values[2].Key})
	}
}

func TestResolve_NestedGroup(t *testing.T) {
	r := NewResolver(APIScope())
	op := newTestOperation(t, domain.EnvironmentTest, "orders",
		`{"masterConfig":{"orders":{"children":{"payload":{"user":{"name":{"value":"Asha"}}}}}}}`,
		`{"HTTP_PAYLOAD":{"type":"GROUP","value":"$payload","items":{
			"kind":{"type":"STATIC","value":"person"},
			"user":{"type":"GROUP","value":"$user","items":{
				"name":{"type":"PROPERTY","value":"$name"},
				"addr":{"type":"GROUP","value":"$addr","items":{
					"city":{"type":"STATIC","value":"Pune"}
				}}
			}}
		}}}`)

	v, err := r.ResolveNamed(context.Background(), op, "HTTP_PAYLOAD")
	require.NoError(t, err)

	values, ok := v.(Values)
	require.True(t, ok)
	require.Equal(t, 2, values.Len())

	user, ok := values.Get("user")
	require.True(t, ok)
	inner, ok := user.(Values)
	require.True(t, ok)
	assert.Equal(t, []string{"name", "addr"}, []string{inner[0].Key, inner[1].Key})

	assert.Equal(t, map[string]any{
		"kind": "person",
		"user": map[string]any{
			"name": "Asha",
			"addr": map[string]any{"city": "Pune"},
		},
	}, values.Map())
}

func TestResolve_GroupWithoutChildren(t *testing.T) {
	r := NewResolver(APIScope())
	op := newTestOperation(t, domain.EnvironmentTest, "", "", "")

	v, err := r.Resolve(context.Background(), op, &domain.Field{Type: domain.SourceGroup, Value: "$empty"})
	require.NoError(t, err)
	assert.Equal(t, 0, v.(Values).Len())
}

func TestResolve_GroupChildErrorPropagates(t *testing.T) {
	r := NewResolver(APIScope())
	op := newTestOperation(t, domain.EnvironmentProd, "orders",
		`{"allianceConfig":{"orders":{"children":{}}}}`,
		`{"HTTP_PAYLOAD":{"type":"GROUP","value":"$payload","items":{
			"ok":{"type":"STATIC","value":"1"},
			"bad":{"type":"PROPERTY","value":"$absent"}
		}}}`)

	_, err := r.ResolveNamed(context.Background(), op, "HTTP_PAYLOAD")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPathNotFound)
	assert.Contains(t, err.Error(), "$payload")
}

func TestPropertyPath(t *testing.T) {
	tests := []struct {
		name   string
		root   string
		iface  string
		parent string
		value  string
		want   string
	}{
		{"top level", "allianceConfig", "orders", "", "$foo", "['allianceConfig']['orders']['children']['foo']['value']"},
		{"no interface", "masterConfig", "", "", "$foo", "['masterConfig']['foo']['value']"},
		{"group child", "masterConfig", "orders", "$payload", "$name", "['masterConfig']['orders']['children']['payload']['name']['value']"},
		{"numeric segment", "masterConfig", "orders", "", "$list#0", "['masterConfig']['orders']['children']['list'][0]['value']"},
		{"nested interface", "masterConfig", "orders#v2", "", "$foo", "['masterConfig']['orders']['v2']['children']['foo']['value']"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := domain.BracketPath(PropertyPath(tt.root, tt.iface, tt.parent, tt.value))
			assert.Equal(t, tt.want, got)
		})
	}
}
