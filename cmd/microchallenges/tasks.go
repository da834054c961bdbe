package main

import (
	"fmt"
	"strconv"
	"time"

	"microchallenges/internal/config"
	"microchallenges/internal/taskclient"

	"github.com/spf13/cobra"
)

func (c *cli) newTasksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Manage tasks on the task backend",
	}
	cmd.PersistentFlags().String("task-api-url", taskclient.DefaultBaseURL, "Base URL of the task API")

	cmd.AddCommand(
		c.newTasksListCmd(),
		c.newTasksGetCmd(),
		c.newTasksCreateCmd(),
		c.newTasksToggleCmd(),
		c.newTasksDeleteCmd(),
	)
	return cmd
}

func (c *cli) taskClient(cmd *cobra.Command) (*taskclient.Client, error) {
	v, err := c.loadViper(cmd)
	if err != nil {
		return nil, err
	}
	baseURL, err := config.TaskAPIURL(v)
	if err != nil {
		return nil, err
	}
	return taskclient.New(taskclient.Options{BaseURL: baseURL})
}

func (c *cli) printTask(t *taskclient.Task) {
	status := "pending"
	if t.Completed {
		status = "done"
	}
	created := ""
	if t.CreatedAt != nil {
		created = t.CreatedAt.Format(time.RFC3339)
	}
	fmt.Fprintf(c.out, "%-6d %-8s %-25s %s\n", t.ID, status, created, t.Name)
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("invalid task id %q", s)
	}
	return id, nil
}

func (c *cli) newTasksListCmd() *cobra.Command {
	var (
		page int
		all  bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := c.taskClient(cmd)
			if err != nil {
				return err
			}

			if all {
				tasks, err := client.All(cmd.Context())
				if err != nil {
					return err
				}
				for i := range tasks {
					c.printTask(&tasks[i])
				}
				fmt.Fprintf(c.out, "\n%d tasks\n", len(tasks))
				return nil
			}

			p, err := client.List(cmd.Context(), page)
			if err != nil {
				return err
			}
			for i := range p.Results {
				c.printTask(&p.Results[i])
			}
			fmt.Fprintf(c.out, "\npage %d, %d of %d tasks\n", page, len(p.Results), p.Count)
			return nil
		},
	}
	cmd.Flags().IntVar(&page, "page", 1, "Page to fetch")
	cmd.Flags().BoolVar(&all, "all", false, "Fetch every page")
	return cmd
}

func (c *cli) newTasksGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get ID",
		Short: "Show one task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			client, err := c.taskClient(cmd)
			if err != nil {
				return err
			}
			t, err := client.Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			c.printTask(t)
			return nil
		},
	}
}

func (c *cli) newTasksCreateCmd() *cobra.Command {
	var completed bool
	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := c.taskClient(cmd)
			if err != nil {
				return err
			}
			t, err := client.Create(cmd.Context(), args[0], completed)
			if err != nil {
				return err
			}
			c.printTask(t)
			return nil
		},
	}
	cmd.Flags().BoolVar(&completed, "completed", false, "Create the task already completed")
	return cmd
}

// toggle flips the current state, like the task list UI does.
func (c *cli) newTasksToggleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "toggle ID",
		Short: "Flip a task between pending and done",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			client, err := c.taskClient(cmd)
			if err != nil {
				return err
			}
			current, err := client.Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			t, err := client.Toggle(cmd.Context(), id, !current.Completed)
			if err != nil {
				return err
			}
			c.printTask(t)
			return nil
		},
	}
}

func (c *cli) newTasksDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			client, err := c.taskClient(cmd)
			if err != nil {
				return err
			}
			if err := client.Delete(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "deleted task %d\n", id)
			return nil
		},
	}
}
