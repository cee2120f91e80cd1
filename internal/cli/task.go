package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var taskHeaders = []string{"ID", "TOPIC", "ACTIVITY", "PROCESS INSTANCE", "RETRIES", "WORKER", "LOCK EXPIRES"}

// NewTaskCmd создаёт группу команд для внешних задач движка.
func NewTaskCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Inspect and manage external tasks",
	}

	cmd.AddCommand(
		newTaskListCmd(clientFn, outputFn),
		newTaskShowCmd(clientFn, outputFn),
		newTaskUnlockCmd(clientFn, outputFn),
		newTaskRetriesCmd(clientFn, outputFn),
	)

	return cmd
}

func newTaskListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var opts ListTasksOpts
	var countOnly bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List external tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			if countOnly {
				n, err := client.CountTasks(cmd.Context(), opts)
				if err != nil {
					return err
				}
				out.Print([]string{"COUNT"}, [][]string{{strconv.Itoa(n)}}, map[string]int{"count": n})
				return nil
			}

			tasks, err := client.ListTasks(cmd.Context(), opts)
			if err != nil {
				return err
			}

			rows := make([][]string, len(tasks))
			for i, t := range tasks {
				rows[i] = taskRow(t)
			}
			out.Print(taskHeaders, rows, tasks)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Topic, "topic", "", "Filter by topic name")
	cmd.Flags().StringVar(&opts.WorkerID, "worker", "", "Filter by worker ID")
	cmd.Flags().BoolVar(&opts.Locked, "locked", false, "Only locked tasks")
	cmd.Flags().BoolVar(&opts.Failed, "failed", false, "Only tasks without retries left")
	cmd.Flags().IntVar(&opts.Limit, "limit", 50, "Max number of tasks")
	cmd.Flags().BoolVar(&countOnly, "count", false, "Print only the number of tasks")

	return cmd
}

func newTaskShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show an external task with its last error",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			task, err := client.GetTask(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out.Print(taskHeaders, [][]string{taskRow(*task)}, task)

			if task.ErrorMessage == "" {
				return nil
			}
			out.Success("Error: " + task.ErrorMessage)

			details, err := client.ErrorDetails(cmd.Context(), task.ID)
			if err != nil {
				return err
			}
			if details != "" {
				out.Success(details)
			}
			return nil
		},
	}
}

func newTaskUnlockCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "unlock <task-id>",
		Short: "Release the lock of an external task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := clientFn().Unlock(cmd.Context(), args[0]); err != nil {
				return err
			}
			outputFn().Success(fmt.Sprintf("Task unlocked: %s", args[0]))
			return nil
		},
	}
}

func newTaskRetriesCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var retries int

	cmd := &cobra.Command{
		Use:   "retries <task-id>",
		Short: "Set the number of retries of an external task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if retries < 0 {
				return fmt.Errorf("--retries must not be negative")
			}
			if err := clientFn().SetRetries(cmd.Context(), args[0], retries); err != nil {
				return err
			}
			outputFn().Success(fmt.Sprintf("Retries of task %s set to %d", args[0], retries))
			return nil
		},
	}

	cmd.Flags().IntVar(&retries, "retries", 3, "Number of retries")

	return cmd
}

func taskRow(t ExternalTaskResponse) []string {
	retries := "-"
	if t.Retries != nil {
		retries = strconv.Itoa(*t.Retries)
	}
	return []string{
		t.ID,
		t.TopicName,
		t.ActivityID,
		t.ProcessInstanceID,
		retries,
		t.WorkerID,
		t.LockExpirationTime,
	}
}
