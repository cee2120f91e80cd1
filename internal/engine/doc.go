// Package engine — REST-клиент движка процессов для external task воркеров.
//
// Протокол:
//   - fetchAndLock    — long-poll выборка и блокировка задач по топикам
//   - complete        — завершение задачи с переменными
//   - failure         — отчёт об ошибке с новым счётчиком попыток и задержкой
//   - bpmnError       — BPMN-ошибка, которую ловит модель процесса
//   - extendLock      — продление блокировки долгой задачи
//
// Переменные передаются в формате движка {name: {value, type}}.
package engine
