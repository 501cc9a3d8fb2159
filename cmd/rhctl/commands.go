package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/phrazzld/rhqueue/internal/api"
	"github.com/phrazzld/rhqueue/internal/domain"
	"github.com/phrazzld/rhqueue/internal/runninghub"
	"github.com/phrazzld/rhqueue/internal/task"
	"github.com/urfave/cli/v3"
)

var CommandList = &cli.Command{
	Name:     "list",
	Aliases:  []string{"ls"},
	Usage:    "list tracked tasks, newest first",
	HideHelp: true,
	Category: "Tasks",
	Action: func(ctx context.Context, c *cli.Command) error {
		var snap task.Snapshot
		if err := newAPIClient(c).do(ctx, http.MethodGet, "/api/tasks", nil, &snap); err != nil {
			return err
		}
		if c.Bool("json") {
			return printJSON(c, snap)
		}
		printTasks(output(c), snap.Tasks)
		fmt.Fprintf(output(c), "\n%d running, %d tracked\n", snap.RunningCount, len(snap.Tasks))
		return nil
	},
}

var CommandGet = &cli.Command{
	Name:      "get",
	Usage:     "show one task",
	ArgsUsage: "TASK_ID",
	HideHelp:  true,
	Category:  "Tasks",
	Action: func(ctx context.Context, c *cli.Command) error {
		id, err := taskIDArg(c)
		if err != nil {
			return err
		}
		var t domain.Task
		if err := newAPIClient(c).do(ctx, http.MethodGet, "/api/tasks/"+id, nil, &t); err != nil {
			return err
		}
		return printTask(c, &t)
	},
}

var CommandAdd = &cli.Command{
	Name:     "add",
	Usage:    "add a task running the given app",
	HideHelp: true,
	Category: "Tasks",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "app-id", Usage: "remote app `id`", Required: true},
		&cli.StringFlag{Name: "app-name", Usage: "display `name` of the app, used for saved files"},
		&cli.StringSliceFlag{Name: "param", Aliases: []string{"p"}, Usage: "node assignment `NODE_ID:FIELD[@TYPE]=VALUE`"},
	},
	Action: func(ctx context.Context, c *cli.Command) error {
		params, err := parseParams(c.StringSlice("param"))
		if err != nil {
			return err
		}
		req := api.CreateTaskRequest{
			AppID:   c.String("app-id"),
			AppName: c.String("app-name"),
			Params:  params,
		}
		var t domain.Task
		if err := newAPIClient(c).do(ctx, http.MethodPost, "/api/tasks", req, &t); err != nil {
			return err
		}
		return printTask(c, &t)
	},
}

var CommandBatch = &cli.Command{
	Name:     "batch",
	Usage:    "add one task per parameter set read from a JSON file",
	HideHelp: true,
	Category: "Tasks",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "app-id", Usage: "remote app `id`", Required: true},
		&cli.StringFlag{Name: "app-name", Usage: "display `name` of the app, used for saved files"},
		&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "`path` to a JSON array of parameter lists", Required: true},
	},
	Action: func(ctx context.Context, c *cli.Command) error {
		list, err := readParamsList(c.String("file"))
		if err != nil {
			return err
		}
		req := api.CreateBatchRequest{
			AppID:      c.String("app-id"),
			AppName:    c.String("app-name"),
			ParamsList: list,
		}
		var resp api.BatchResponse
		if err := newAPIClient(c).do(ctx, http.MethodPost, "/api/tasks/batch", req, &resp); err != nil {
			return err
		}
		if c.Bool("json") {
			return printJSON(c, resp)
		}
		printTasks(output(c), resp.Tasks)
		return nil
	},
}

var CommandCancel = &cli.Command{
	Name:      "cancel",
	Usage:     "cancel a queued or running task",
	ArgsUsage: "TASK_ID",
	HideHelp:  true,
	Category:  "Tasks",
	Action: func(ctx context.Context, c *cli.Command) error {
		id, err := taskIDArg(c)
		if err != nil {
			return err
		}
		var t domain.Task
		if err := newAPIClient(c).do(ctx, http.MethodPost, "/api/tasks/"+id+"/cancel", nil, &t); err != nil {
			return err
		}
		return printTask(c, &t)
	},
}

var CommandRemove = &cli.Command{
	Name:      "remove",
	Aliases:   []string{"rm"},
	Usage:     "forget a task; a running remote job is left alone",
	ArgsUsage: "TASK_ID",
	HideHelp:  true,
	Category:  "Tasks",
	Action: func(ctx context.Context, c *cli.Command) error {
		id, err := taskIDArg(c)
		if err != nil {
			return err
		}
		if err := newAPIClient(c).do(ctx, http.MethodDelete, "/api/tasks/"+id, nil, nil); err != nil {
			return err
		}
		fmt.Fprintln(output(c), "removed", id)
		return nil
	},
}

var CommandRemoveResult = &cli.Command{
	Name:      "remove-result",
	Usage:     "drop one output of a finished task",
	ArgsUsage: "TASK_ID INDEX",
	HideHelp:  true,
	Category:  "Tasks",
	Action: func(ctx context.Context, c *cli.Command) error {
		id, err := taskIDArg(c)
		if err != nil {
			return err
		}
		index, err := strconv.Atoi(c.Args().Get(1))
		if err != nil || index < 0 {
			return fmt.Errorf("invalid output index %q", c.Args().Get(1))
		}

		// The server answers 204 once the last output is gone and the task
		// with it, so an empty task means it was deleted.
		var t domain.Task
		path := fmt.Sprintf("/api/tasks/%s/results/%d", id, index)
		if err := newAPIClient(c).do(ctx, http.MethodDelete, path, nil, &t); err != nil {
			return err
		}
		if t.ID == uuid.Nil {
			fmt.Fprintln(output(c), "last output removed, task", id, "deleted")
			return nil
		}
		return printTask(c, &t)
	},
}

var CommandClear = &cli.Command{
	Name:     "clear",
	Usage:    "remove every finished task",
	HideHelp: true,
	Category: "Tasks",
	Action: func(ctx context.Context, c *cli.Command) error {
		var resp api.ClearHistoryResponse
		if err := newAPIClient(c).do(ctx, http.MethodDelete, "/api/tasks", nil, &resp); err != nil {
			return err
		}
		if c.Bool("json") {
			return printJSON(c, resp)
		}
		fmt.Fprintf(output(c), "cleared %d tasks\n", resp.Removed)
		return nil
	},
}

var CommandSettings = &cli.Command{
	Name:     "settings",
	Usage:    "show runtime settings, or change them when flags are given",
	HideHelp: true,
	Category: "Server",
	Flags: []cli.Flag{
		&cli.IntFlag{Name: "max-concurrent", Usage: "concurrency `limit` (1-10)"},
		&cli.BoolFlag{Name: "auto-save", Usage: "save outputs locally when tasks succeed"},
		&cli.StringFlag{Name: "output-dir", Usage: "`directory` for saved outputs"},
		&cli.StringFlag{Name: "api-key", Usage: "RunningHub API `key`"},
	},
	Action: func(ctx context.Context, c *cli.Command) error {
		var req api.UpdateSettingsRequest
		changed := false
		if c.IsSet("max-concurrent") {
			n := int(c.Int("max-concurrent"))
			req.MaxConcurrent = &n
			changed = true
		}
		if c.IsSet("auto-save") {
			v := c.Bool("auto-save")
			req.AutoSave = &v
			changed = true
		}
		if c.IsSet("output-dir") {
			v := c.String("output-dir")
			req.OutputDir = &v
			changed = true
		}
		if c.IsSet("api-key") {
			v := c.String("api-key")
			req.APIKey = &v
			changed = true
		}

		var resp api.SettingsResponse
		var err error
		if changed {
			err = newAPIClient(c).do(ctx, http.MethodPut, "/api/settings", req, &resp)
		} else {
			err = newAPIClient(c).do(ctx, http.MethodGet, "/api/settings", nil, &resp)
		}
		if err != nil {
			return err
		}
		if c.Bool("json") {
			return printJSON(c, resp)
		}

		w := tabwriter.NewWriter(output(c), 0, 4, 2, ' ', 0)
		fmt.Fprintf(w, "max_concurrent\t%d\n", resp.MaxConcurrent)
		fmt.Fprintf(w, "auto_save\t%t\n", resp.AutoSave)
		fmt.Fprintf(w, "output_dir\t%s\n", resp.OutputDir)
		fmt.Fprintf(w, "api_key\t%s\n", keyState(resp))
		return w.Flush()
	},
}

var CommandAccount = &cli.Command{
	Name:     "account",
	Usage:    "show the RunningHub account balance",
	HideHelp: true,
	Category: "Server",
	Action: func(ctx context.Context, c *cli.Command) error {
		var status runninghub.AccountStatus
		if err := newAPIClient(c).do(ctx, http.MethodGet, "/api/account", nil, &status); err != nil {
			return err
		}
		if c.Bool("json") {
			return printJSON(c, status)
		}
		w := tabwriter.NewWriter(output(c), 0, 4, 2, ' ', 0)
		fmt.Fprintf(w, "remaining coins\t%s\n", status.RemainCoins)
		fmt.Fprintf(w, "running tasks\t%s\n", status.CurrentTaskCounts)
		if status.RemainMoney != "" {
			fmt.Fprintf(w, "balance\t%s %s\n", status.RemainMoney, status.Currency)
		}
		return w.Flush()
	},
}

func output(c *cli.Command) io.Writer {
	return c.Root().Writer
}

func taskIDArg(c *cli.Command) (string, error) {
	arg := c.Args().First()
	if arg == "" {
		return "", fmt.Errorf("task id is required")
	}
	id, err := uuid.Parse(arg)
	if err != nil {
		return "", fmt.Errorf("invalid task id %q", arg)
	}
	return id.String(), nil
}

func keyState(s api.SettingsResponse) string {
	switch {
	case !s.APIKeySet:
		return "not set"
	case s.APIKeyHint != "":
		return "set (" + s.APIKeyHint + ")"
	default:
		return "set"
	}
}

func printJSON(c *cli.Command, v any) error {
	enc := json.NewEncoder(output(c))
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printTask(c *cli.Command, t *domain.Task) error {
	if c.Bool("json") {
		return printJSON(c, t)
	}
	printTasks(output(c), []*domain.Task{t})
	for i, r := range t.Result {
		loc := r.FileURL
		if r.LocalPath != "" {
			loc = r.LocalPath
		}
		fmt.Fprintf(output(c), "  [%d] %s\n", i, loc)
	}
	return nil
}

func printTasks(out io.Writer, tasks []*domain.Task) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tPROGRESS\tAPP\tDETAIL")
	for _, t := range tasks {
		fmt.Fprintf(w, "%s\t%s\t%d%%\t%s\t%s\n", t.ID, t.Status, t.Progress, appLabel(t), taskDetail(t))
	}
	_ = w.Flush()
}

func appLabel(t *domain.Task) string {
	if t.AppName != "" {
		return t.AppName
	}
	return t.AppID
}

func taskDetail(t *domain.Task) string {
	switch {
	case t.Error != "":
		return t.Error
	case t.QueuePosition != nil:
		return fmt.Sprintf("queue #%d", *t.QueuePosition)
	case len(t.Result) > 0:
		return fmt.Sprintf("%d outputs", len(t.Result))
	case t.RemoteJobID != "":
		return "job " + t.RemoteJobID
	default:
		return ""
	}
}
