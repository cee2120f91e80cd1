package script

import (
	"encoding/json"
	"strings"
)

// StdoutDocument превращает строки вывода скрипта в JSON-массив для проекции.
func StdoutDocument(lines []string) []byte {
	if lines == nil {
		lines = []string{}
	}
	data, _ := json.Marshal(lines)
	return data
}

// ShowDocument склеивает вывод terraform show -json в один документ.
func ShowDocument(lines []string) []byte {
	return []byte(strings.Join(lines, ""))
}
