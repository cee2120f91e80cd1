package domain

import (
	"fmt"
	"strings"
	"time"
)

// Environment — окружение, в котором выполняется процесс.
type Environment string

const (
	EnvironmentTest Environment = "TEST"
	EnvironmentProd Environment = "PROD"
)

// ParseEnvironment разбирает строку окружения. Всё, что не PROD, считается TEST.
func ParseEnvironment(s string) Environment {
	if strings.EqualFold(strings.TrimSpace(s), string(EnvironmentProd)) {
		return EnvironmentProd
	}
	return EnvironmentTest
}

// ConfigRoot возвращает имя корня конфигурационного документа.
func (e Environment) ConfigRoot() string {
	if e == EnvironmentProd {
		return "allianceConfig"
	}
	return "masterConfig"
}

// Глобальные переменные процесса.
const (
	GlobalAuthorization = "$_AUTHORIZATION"
	GlobalEnvironment   = "$_ENVIRONMENT"
	GlobalAppID         = "$_APP_ID"
	GlobalTenantID      = "$_TENANT_ID"
	GlobalRequesterID   = "$_REQUESTER_ID"
	GlobalRequesterType = "$_REQUESTER_TYPE"
	GlobalWorkflowID    = "$_WORKFLOW_ID"
)

// Форматы ключей переменных, адресуемых по активности.
const (
	InputKeyFormat     = "$_INPUTS_%s"
	OutputKeyFormat    = "$_OUTPUTS_%s"
	ErrorKeyFormat     = "$_ERROR_[%s][%s]"
	ResponseCodeFormat = "$_RESPONSE_CODE[%s]"
	APIResponseFormat  = "$_API_RESPONSE[%s]"
)

// InputKey возвращает имя переменной с входной моделью активности.
func InputKey(activityID string) string { return fmt.Sprintf(InputKeyFormat, activityID) }

// OutputKey возвращает имя переменной с описанием выходов активности.
func OutputKey(activityID string) string { return fmt.Sprintf(OutputKeyFormat, activityID) }

// ErrorKey возвращает имя переменной ошибки компонента и активности.
func ErrorKey(componentName, activityID string) string {
	return fmt.Sprintf(ErrorKeyFormat, componentName, activityID)
}

// ResponseCodeKey возвращает имя переменной с кодом ответа.
func ResponseCodeKey(activityID string) string { return fmt.Sprintf(ResponseCodeFormat, activityID) }

// APIResponseKey возвращает имя переменной с текстовым описанием вызова.
func APIResponseKey(activityID string) string { return fmt.Sprintf(APIResponseFormat, activityID) }

// Имена обязательных и служебных полей REST-операции.
const (
	FieldHTTPMethod     = "HTTP_METHOD"
	FieldURL            = "URL"
	FieldHTTPHeaders    = "HTTP_HEADERS"
	FieldPathParameters = "PATH_PARAMETERS"
	FieldQueryParam     = "QUERY_PARAM"
	FieldHTTPPayload    = "HTTP_PAYLOAD"
)

// Input — входная модель активности.
type Input struct {
	ComponentID           string `json:"componentId" validate:"required"`
	ComponentName         string `json:"componentName"`
	ProductMasterConfigID string `json:"productMasterConfigId" validate:"required"`
	InterfaceType         string `json:"interfaceType"`
	InterfacePath         string `json:"interfacePath" validate:"required"`
	Items                 Fields `json:"items" validate:"required"`
}

// InterfaceName возвращает первый сегмент пути интерфейса.
func (in *Input) InterfaceName() string {
	name, _, _ := strings.Cut(in.InterfacePath, "#")
	return name
}

// OutputAttribute — куда и по какому пути записать значение из ответа.
type OutputAttribute struct {
	Property string `json:"property"`
}

// Output — описание выходов активности: имя переменной → атрибут.
type Output struct {
	Items map[string]OutputAttribute `json:"outputs"`
}

// Empty возвращает true, если выходы не объявлены.
func (o *Output) Empty() bool {
	return o == nil || len(o.Items) == 0
}

// Operation — задача движка в процессе обработки.
//
// Переменные Variables пишутся только одной горутиной, которая
// владеет задачей. Дочерние поля группы читают их конкурентно.
type Operation struct {
	Task        *ExternalTask
	Environment Environment
	Input       Input
	Output      Output

	// TenantID — тенант-исполнитель ($_TENANT_ID).
	TenantID string
	// AppID — приложение ($_APP_ID).
	AppID string
	// RequesterID — инициатор ($_REQUESTER_ID).
	RequesterID string

	// Variables — переменные времени выполнения. Контекст для GLOBALS,
	// SCRIPT и EXTERNALS и место записи результатов.
	Variables map[string]any

	// Secrets — секреты продукта. Пустая карта, если чтение не удалось.
	Secrets map[string]string

	// Config — конфигурационный документ продукта.
	Config *ConfigDocument

	StartedAt time.Time
}

// NewOperation создаёт Operation из заблокированной задачи.
// Переменные задачи копируются, чтобы запись результатов не трогала задачу.
func NewOperation(task *ExternalTask) *Operation {
	vars := make(map[string]any, len(task.Variables))
	for k, v := range task.Variables {
		vars[k] = v
	}
	return &Operation{
		Task:        task,
		Environment: ParseEnvironment(task.StringVariable(GlobalEnvironment)),
		TenantID:    task.StringVariable(GlobalTenantID),
		AppID:       task.StringVariable(GlobalAppID),
		RequesterID: task.StringVariable(GlobalRequesterID),
		Variables:   vars,
		Secrets:     map[string]string{},
		StartedAt:   time.Now(),
	}
}

// Variable возвращает переменную времени выполнения.
func (op *Operation) Variable(name string) any {
	return op.Variables[name]
}

// SetVariable записывает переменную времени выполнения.
func (op *Operation) SetVariable(name string, value any) {
	op.Variables[name] = value
}

// ActivityID возвращает идентификатор активности задачи.
func (op *Operation) ActivityID() string { return op.Task.ActivityID }

// ProcessInstanceID возвращает экземпляр процесса задачи.
func (op *Operation) ProcessInstanceID() string { return op.Task.ProcessInstanceID }

// ProductID возвращает идентификатор продукта (componentId входной модели).
func (op *Operation) ProductID() string { return op.Input.ComponentID }

// SecretsPath возвращает путь секретов продукта в хранилище.
func (op *Operation) SecretsPath() string {
	return op.TenantID + "/" + op.ProductID() + "/MasterConfig"
}
