package cli

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/shaiso/Operon/internal/mq"
)

// NewEventsCmd создаёт группу команд для событий задач в RabbitMQ.
func NewEventsCmd(outputFn func() *Output, logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Follow task events published by workers",
	}
	cmd.AddCommand(newEventsWatchCmd(outputFn, logger))
	return cmd
}

func newEventsWatchCmd(outputFn func() *Output, logger *slog.Logger) *cobra.Command {
	var mqURL, pattern string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print task events until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := outputFn()

			conn, err := mq.NewConnection(mqURL, logger)
			if err != nil {
				return err
			}
			defer conn.Close()

			queue, err := mq.DeclareWatchQueue(ctx, conn, mq.RoutingKey(pattern))
			if err != nil {
				return err
			}
			out.Success(fmt.Sprintf("Watching %s on %s (queue %s)", pattern, mq.ExchangeEvents, queue))

			consumer := mq.NewConsumer(conn, logger, mq.ConsumerConfig{
				Queue: queue,
				Handler: func(_ context.Context, msg *mq.Delivery) error {
					event, err := mq.ParsePayload[mq.TaskEventPayload](&msg.Message)
					if err != nil {
						// битое сообщение не возвращаем в очередь
						logger.Warn("skipping malformed event", "id", msg.Message.ID, "error", err)
						return nil
					}
					printEvent(out, msg.Message.Timestamp, event)
					return nil
				},
			})
			return consumer.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&mqURL, "mq-url", mq.DefaultURL(), "RabbitMQ URL")
	cmd.Flags().StringVar(&pattern, "pattern", string(mq.RoutingKeyAllTasks), "Routing key pattern (task.completed, task.failed, task.#)")

	return cmd
}

func printEvent(out *Output, ts time.Time, e mq.TaskEventPayload) {
	if out.jsonMode {
		out.JSON(e)
		return
	}
	retries := "-"
	if e.RetriesLeft != nil {
		retries = strconv.Itoa(*e.RetriesLeft)
	}
	out.Line(
		ts.Format(time.RFC3339),
		e.Stage,
		e.Topic,
		e.TaskID,
		e.ActivityID,
		e.Class,
		e.Code,
		retries,
		e.Message,
	)
}
