// Operon CLI — инструмент оператора воркеров.
//
// Использование:
//
//	operon [--engine-url URL] [--json] <command> <subcommand> [flags]
//
// Команды:
//
//	task      Внешние задачи движка: list, show, unlock, retries
//	resolve   Сборка REST-запроса задачи без отправки
//	events    Поток событий задач из RabbitMQ
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shaiso/Operon/internal/cli"
	"github.com/shaiso/Operon/internal/telemetry"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var engineURL string
	var jsonOutput bool

	rootCmd := &cobra.Command{
		Use:           "operon",
		Short:         "Operon CLI — external task worker tooling",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&engineURL, "engine-url", "http://localhost:8080/engine-rest", "Process engine REST URL")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	clientFn := func() *cli.Client { return cli.NewClient(engineURL) }
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }
	logger := telemetry.NewLogger(os.Stderr, telemetry.LogLevel(), os.Getenv("LOG_FORMAT"))

	rootCmd.AddCommand(
		cli.NewTaskCmd(clientFn, outputFn),
		cli.NewResolveCmd(outputFn),
		cli.NewEventsCmd(outputFn, logger),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
