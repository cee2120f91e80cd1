package script

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shaiso/Operon/internal/fault"
)

// Префиксы рабочих каталогов на хосте.
const (
	ShellFolderPrefix     = "Shell_"
	TerraformFolderPrefix = "Terraform_"
	TFVarsFile            = "terraform.tfvars"
)

// StateLockMarker — признак занятой блокировки state в stderr terraform.
const StateLockMarker = "state blob is already locked"

// Folder возвращает имя рабочего каталога с отметкой времени.
func Folder(prefix string, now time.Time) string {
	return prefix + strconv.FormatInt(now.UnixMilli(), 10)
}

func cdAnd(dir, command string) string {
	return fmt.Sprintf("cd %s && %s", dir, command)
}

// JMeterBinary — путь к jmeter на хосте исполнения.
const JMeterBinary = "/root/testflink/apache-jmeter/bin/jmeter.sh"

// ShellPlan — команды shell-задачи.
type ShellPlan struct {
	Folder  string
	WorkDir string
	// Prepare — каталог и получение скрипта.
	Prepare []string
	// UploadPath — куда загрузить скрипт пайплайна. Пусто для GIT.
	UploadPath string
	// Substitute — подстановка плейсхолдеров в скрипт.
	Substitute []string
	// Run — chmod и запуск.
	Run []string
	// Cleanup — удаление рабочего каталога.
	Cleanup string
}

// ShellCommands строит команды shell-задачи. Плейсхолдеры $key
// подставляются в порядке ключей.
func ShellCommands(in *Input, folder string) (*ShellPlan, error) {
	plan := &ShellPlan{
		Folder:  folder,
		WorkDir: folder + in.ScriptPath,
		Prepare: []string{"mkdir " + folder},
		Cleanup: "rm -rf " + folder,
	}

	switch in.Source {
	case SourceGit:
		plan.Prepare = append(plan.Prepare, cdAnd(folder, "git clone "+in.ScriptURL))
	case SourcePipeline:
		name, _ := in.Variables["fileName"].(string)
		if name == "" {
			name = in.ScriptName
		}
		plan.UploadPath = plan.WorkDir + "/" + name
		plan.Prepare = append(plan.Prepare, "mkdir -p "+plan.WorkDir)
	default:
		return nil, unsupported(in.Source)
	}

	for _, key := range sortedKeys(in.Variables) {
		sed := fmt.Sprintf("sed -i 's#$%s#%s#g' %s", key, stringify(in.Variables[key]), in.ScriptName)
		plan.Substitute = append(plan.Substitute, cdAnd(plan.WorkDir, sed))
	}

	run := "./" + in.ScriptName
	if in.JMXScript != "" {
		run = fmt.Sprintf("%s -n -t \"%s\" -Jid=%s", JMeterBinary, in.JMXScript, in.RunID)
	}
	if in.Async {
		run = "nohup " + run + " > /dev/null 2>&1 &"
	}
	plan.Run = []string{
		cdAnd(plan.WorkDir, "chmod +777 "+in.ScriptName),
		cdAnd(plan.WorkDir, run),
	}
	return plan, nil
}

// TerraformPlan — команды Terraform-задачи по фазам.
type TerraformPlan struct {
	// Folder — рабочий каталог на хосте.
	Folder string
	// WorkDir — каталог с конфигурацией (Folder + ScriptPath).
	WorkDir string
	// StatePath — путь state в хранилище: tenant_<tenant>/<activity>/<staticPath>.
	StatePath string
	// Prepare — mkdir, clone, настройка backend.
	Prepare []string
	// TFVarsPath — куда загрузить terraform.tfvars после Prepare.
	TFVarsPath string
	// Run — init, plan, apply или destroy.
	Run []string
	// Show — terraform show -json.
	Show string
	// Cleanup — удаление рабочего каталога.
	Cleanup string
}

// StateBackend — параметры удалённого state.
type StateBackend struct {
	StorageAccount string
	Container      string
	AccessKey      string
}

// TerraformCommands строит команды Terraform-задачи.
func TerraformCommands(in *Input, tenant, activity, folder string, backend StateBackend) (*TerraformPlan, error) {
	if in.Source != SourceGit {
		return nil, unsupported(in.Source)
	}

	workDir := folder + in.ScriptPath
	statePath := fmt.Sprintf("tenant_%s/%s/%s", tenant, activity, in.StaticPath)

	backendSed := fmt.Sprintf(
		"sed -i 's/\\$storageaccountname/%s/g; s/\\$containername/%s/g; s/\\$storageaccountkey/%s\\/terraform.tfstate/g; s/\\$storageaccountaccesskey/%s/g' backend.tf",
		backend.StorageAccount, backend.Container, strings.ReplaceAll(statePath, "/", `\/`), backend.AccessKey,
	)

	final := cdAnd(workDir, "terraform destroy -auto-approve")
	if in.Create {
		final = cdAnd(workDir, "terraform apply -auto-approve -lock=false")
	}

	return &TerraformPlan{
		Folder:    folder,
		WorkDir:   workDir,
		StatePath: statePath,
		Prepare: []string{
			"mkdir " + folder,
			cdAnd(folder, "git clone "+in.ScriptURL),
			cdAnd(workDir, backendSed),
		},
		TFVarsPath: workDir + "/" + TFVarsFile,
		Run: []string{
			cdAnd(workDir, "terraform init"),
			cdAnd(workDir, "terraform plan"),
			final,
		},
		Show:    cdAnd(workDir, "terraform show -json"),
		Cleanup: "rm -rf " + folder,
	}, nil
}

// LeaseBreakCommand снимает блокировку state и удаляет блоб блокировки.
func LeaseBreakCommand(statePath string, backend StateBackend) string {
	blob := fmt.Sprintf("%s/terraform.tfstate --account-name %s --account-key %s",
		statePath, backend.StorageAccount, backend.AccessKey)
	return fmt.Sprintf(
		"az storage blob lease break --container-name %s --blob-name %s && az storage blob delete --container-name %s --name %s",
		backend.Container, blob, backend.Container, blob,
	)
}

// IsStateLocked проверяет stderr на занятую блокировку state.
func IsStateLocked(stderr []string) (string, bool) {
	for _, line := range stderr {
		if strings.Contains(line, StateLockMarker) {
			return line, true
		}
	}
	return "", false
}

func unsupported(src Source) error {
	return fault.WrapNonRetryable(ErrUnsupportedSource, "Script source of type %s is not supported yet", src)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
