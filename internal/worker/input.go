package worker

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/shaiso/Operon/internal/domain"
	"github.com/shaiso/Operon/internal/fault"
)

// Имена ключей входной модели, которые попадают в диагностику.
const (
	inputModelLabel = "Input Model"
	fieldsLabel     = "Fields"
)

// NewValidator создаёт валидатор, который называет поля по json-тегам.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// parseInput заполняет op.Input и op.Output из $_INPUTS_<activity> и
// $_OUTPUTS_<activity>. Ошибка — NonRetryable с диагностикой
// "<item> missing for activity <topic> - <activity> of process instance <pi> !".
func parseInput(op *domain.Operation, v *validator.Validate, defaultComponent string, mandatory []string) error {
	if err := decodeInput(op, v, defaultComponent, mandatory); err != nil {
		return fault.WrapNonRetryable(err, "Error validating input data || %v", err)
	}
	return nil
}

// ParseOperation строит Operation из задачи и разбирает её вход так же,
// как это делает Lifecycle на этапе VALIDATING.
func ParseOperation(task *domain.ExternalTask, h Handler) (*domain.Operation, error) {
	op := domain.NewOperation(task)
	if err := parseInput(op, NewValidator(), h.Component(), h.Mandatory()); err != nil {
		return nil, err
	}
	return op, nil
}

func decodeInput(op *domain.Operation, v *validator.Validate, defaultComponent string, mandatory []string) error {
	task := op.Task
	if task.ActivityID == "" {
		return &inputError{msg: "Activity Id not found!"}
	}

	raw, ok := jsonVariable(task.Variable(domain.InputKey(task.ActivityID)))
	if !ok {
		return missing(task, inputModelLabel)
	}

	var in domain.Input
	if err := json.Unmarshal(raw, &in); err != nil {
		return &inputError{msg: err.Error()}
	}

	if err := v.Struct(&in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			label := verrs[0].Field()
			if label == "items" {
				label = fieldsLabel
			}
			return missing(task, label)
		}
		return &inputError{msg: err.Error()}
	}

	if in.ComponentName == "" {
		in.ComponentName = defaultComponent
	}
	if in.InterfaceType == "" {
		in.InterfaceType = "REST"
	}
	in.InterfacePath = strings.TrimPrefix(in.InterfacePath, "#")
	in.Items = in.Items.Declared()
	op.Input = in

	if raw, ok := jsonVariable(task.Variable(domain.OutputKey(task.ActivityID))); ok {
		out, err := parseOutputs(raw)
		if err != nil {
			// как и раньше, битое описание выходов не останавливает задачу
			op.Output = domain.Output{}
		} else {
			op.Output = out
		}
	}

	for _, name := range mandatory {
		if !in.Items.Has(name) {
			return &inputError{msg: fmt.Sprintf("Either %s is missing! ", strings.Join(mandatory, " or ")), field: true}
		}
	}
	return nil
}

// parseOutputs принимает {"outputs": {var: {property: path}}} и
// {"outputs": {var: path}}.
func parseOutputs(raw []byte) (domain.Output, error) {
	var envelope struct {
		Outputs map[string]json.RawMessage `json:"outputs"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return domain.Output{}, err
	}

	out := domain.Output{Items: make(map[string]domain.OutputAttribute, len(envelope.Outputs))}
	for name, value := range envelope.Outputs {
		var path string
		if err := json.Unmarshal(value, &path); err == nil {
			out.Items[name] = domain.OutputAttribute{Property: path}
			continue
		}
		var attr domain.OutputAttribute
		if err := json.Unmarshal(value, &attr); err != nil {
			return domain.Output{}, fmt.Errorf("output %s: %w", name, err)
		}
		if attr.Property != "" {
			out.Items[name] = attr
		}
	}
	return out, nil
}

// jsonVariable возвращает переменную как JSON. Строка берётся как есть,
// объект сериализуется.
func jsonVariable(v any) ([]byte, bool) {
	switch t := v.(type) {
	case nil:
		return nil, false
	case string:
		if strings.TrimSpace(t) == "" {
			return nil, false
		}
		return []byte(t), true
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return nil, false
		}
		return data, true
	}
}

func missing(task *domain.ExternalTask, item string) error {
	return &inputError{msg: fmt.Sprintf("%s missing for activity %s - %s of process instance %s ! ",
		item, task.TopicName, task.ActivityID, task.ProcessInstanceID)}
}

// inputError — ошибка входной модели с готовым текстом диагностики.
// field отмечает отсутствие обязательного поля items.
type inputError struct {
	msg   string
	field bool
}

func (e *inputError) Error() string { return e.msg }

func (e *inputError) Is(target error) bool {
	return target == ErrInvalidInput || (e.field && target == ErrMissingField)
}
