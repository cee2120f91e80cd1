package resolve

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/shaiso/Operon/internal/domain"
	"github.com/shaiso/Operon/internal/fault"
	"github.com/shaiso/Operon/internal/telemetry"
)

// SecretSentinel — значение в конфигурации, за которым скрывается секрет.
const SecretSentinel = "secret::sensitive_data"

// ListenerConfigPath — фиксированный путь интерфейса для скриптовых операций.
const ListenerConfigPath = "listenerConfig"

// Scope — неизменяемые параметры интерпретации полей.
type Scope struct {
	// InterfacePath заменяет путь интерфейса из входной модели, если задан.
	InterfacePath string

	// SubstituteSecrets включает подмену значения-маркера секретом.
	SubstituteSecrets bool
}

// APIScope — параметры для REST-операций.
func APIScope() Scope {
	return Scope{SubstituteSecrets: true}
}

// ScriptScope — параметры для скриптовых и Terraform-операций.
func ScriptScope() Scope {
	return Scope{InterfacePath: ListenerConfigPath}
}

// Resolver вычисляет значения полей в контексте Operation.
//
// Resolver не хранит состояния между вызовами и безопасен для
// одновременного использования разными задачами.
type Resolver struct {
	scope Scope
}

// NewResolver создаёт Resolver с заданными параметрами.
func NewResolver(scope Scope) *Resolver {
	return &Resolver{scope: scope}
}

// Resolve вычисляет поле верхнего уровня.
//
// Поле без типа источника даёт (nil, nil). Ошибка всегда классифицирована
// как NonRetryable и содержит метку поля.
func (r *Resolver) Resolve(ctx context.Context, op *domain.Operation, field *domain.Field) (any, error) {
	if !field.Declared() {
		return nil, nil
	}
	v, err := r.resolve(ctx, op, field, field.VariableLabel(), "")
	if err != nil {
		if _, ok := fault.As(err); ok {
			return nil, err
		}
		return nil, fault.WrapNonRetryable(err, "failed to resolve field %q: %v", field.ValueString(), err)
	}
	return v, nil
}

// ResolveNamed вычисляет поле по имени из входной модели.
// Отсутствующее поле даёт (nil, nil).
func (r *Resolver) ResolveNamed(ctx context.Context, op *domain.Operation, name string) (any, error) {
	f, ok := op.Input.Items.Get(name)
	if !ok {
		return nil, nil
	}
	return r.Resolve(ctx, op, f)
}

func (r *Resolver) resolve(ctx context.Context, op *domain.Operation, field *domain.Field, label, parentPath string) (any, error) {
	switch field.Type {
	case domain.SourceStatic:
		return field.Value, nil
	case domain.SourceProperty:
		return r.resolveProperty(ctx, op, field, parentPath)
	case domain.SourceGlobals, domain.SourceScript, domain.SourceExternals:
		return op.Variable(label), nil
	case domain.SourceGroup:
		return r.resolveGroup(ctx, op, field, parentPath)
	default:
		return nil, fmt.Errorf("unknown source type %q for %q", field.Type, label)
	}
}

// PropertyPath строит сегменты пути к значению в конфигурационном документе:
// <root>[#<interface>#children]<parent><value>#value. Символ '$' в значении
// и родительском префиксе разделяет сегменты так же, как '#'.
func PropertyPath(root, interfacePath, parentPath, value string) []string {
	var b strings.Builder
	b.WriteString(root)
	if interfacePath != "" {
		b.WriteString("#")
		b.WriteString(interfacePath)
		b.WriteString("#children")
	}
	b.WriteString(strings.ReplaceAll(parentPath+value, "$", "#"))
	b.WriteString("#value")

	raw := strings.Split(b.String(), "#")
	segments := raw[:0]
	for _, s := range raw {
		if s != "" {
			segments = append(segments, s)
		}
	}
	return segments
}

func (r *Resolver) interfacePath(op *domain.Operation) string {
	if r.scope.InterfacePath != "" {
		return r.scope.InterfacePath
	}
	return op.Input.InterfacePath
}

func (r *Resolver) resolveProperty(ctx context.Context, op *domain.Operation, field *domain.Field, parentPath string) (any, error) {
	value := field.ValueString()
	segments := PropertyPath(op.Environment.ConfigRoot(), r.interfacePath(op), parentPath, value)

	telemetry.FromContext(ctx).Debug("resolving property",
		"path", domain.BracketPath(segments),
	)

	v, err := op.Config.Lookup(segments)
	if err != nil {
		return nil, fault.WrapNonRetryable(err, "property %q (parent %q): %v", value, parentPath, err)
	}

	if !r.scope.SubstituteSecrets {
		return v, nil
	}
	if s, ok := v.(string); !ok || s != SecretSentinel {
		return v, nil
	}
	if len(op.Secrets) == 0 {
		telemetry.FromContext(ctx).Warn("secret marker found but no secrets loaded", "property", value)
		return v, nil
	}

	key := strings.TrimPrefix(value, "$")
	secret, ok := op.Secrets[key]
	if !ok {
		return nil, fault.WrapNonRetryable(ErrMissingSecret, "%v: %q (parent %q)", ErrMissingSecret, key, parentPath)
	}
	return secret, nil
}

// resolveGroup вычисляет дочерние атрибуты группы параллельно.
// Значение группы становится родительским префиксом для PROPERTY.
// Атрибуты без типа пропускаются, пустые результаты отбрасываются.
func (r *Resolver) resolveGroup(ctx context.Context, op *domain.Operation, field *domain.Field, parentPath string) (Values, error) {
	if field.Value == nil || len(field.Items) == 0 {
		return Values{}, nil
	}
	group := parentPath + field.ValueString()

	children := field.Items.Declared()
	results := make([]any, len(children))

	g, gctx := errgroup.WithContext(ctx)
	for i := range children {
		child := &children[i].Field
		g.Go(func() error {
			v, err := r.resolve(gctx, op, child, child.VariableLabel(), group)
			if err != nil {
				return err
			}
			results[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(Values, 0, len(children))
	for i, v := range results {
		if isEmpty(v) {
			continue
		}
		out = append(out, Entry{Key: children[i].Name, Value: v})
	}
	return out, nil
}
