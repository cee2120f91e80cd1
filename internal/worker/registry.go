package worker

import (
	"context"
	"fmt"
	"sort"

	"github.com/shaiso/Operon/internal/domain"
)

// Топики движка, на которые подписывается воркер.
const (
	TopicAPIOperation = "ApiOperationHandler"
	TopicTerraform    = "TerraformHandler"
	TopicShellScript  = "ShellScriptHandler"
	TopicAnsible      = "AnsibleHandler"
	TopicPython       = "PythonHandler"
)

// Response — результат внешнего действия.
type Response struct {
	// Status — HTTP-код ответа или 200 для удалённых команд.
	Status int
	// Body — тело ответа для проекции.
	Body []byte
	// ContentType — тип содержимого Body.
	ContentType string
}

// Action — подготовленное внешнее действие. Вызывается один раз
// на этапе EXECUTING.
type Action func(ctx context.Context) (*Response, error)

// Handler — обработчик одного вида операций.
//
// Lifecycle вызывает методы в порядке этапов:
//
//	Prepare (RESOLVING) → Action (EXECUTING) → Project (PROJECTING)
type Handler interface {
	// Component — имя компонента по умолчанию для входной модели.
	Component() string

	// Mandatory — имена полей items, без которых задача не принимается.
	// Достаточно любого из них.
	Mandatory() []string

	// Prepare загружает конфигурацию и вычисляет поля операции.
	Prepare(ctx context.Context, op *domain.Operation) (Action, error)

	// Project записывает результат действия в переменные операции.
	Project(ctx context.Context, op *domain.Operation, resp *Response) error
}

// Registry — неизменяемый реестр обработчиков по топику.
// Собирается один раз при старте и передаётся пулам.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry создаёт реестр. Карта копируется.
func NewRegistry(handlers map[string]Handler) *Registry {
	r := &Registry{handlers: make(map[string]Handler, len(handlers))}
	for topic, h := range handlers {
		if h != nil {
			r.handlers[topic] = h
		}
	}
	return r
}

// Get возвращает обработчик топика.
func (r *Registry) Get(topic string) (Handler, error) {
	h, ok := r.handlers[topic]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}
	return h, nil
}

// Topics возвращает зарегистрированные топики по алфавиту.
func (r *Registry) Topics() []string {
	topics := make([]string, 0, len(r.handlers))
	for topic := range r.handlers {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}
