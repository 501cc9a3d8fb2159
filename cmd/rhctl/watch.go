package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/phrazzld/rhqueue/internal/events"
	"github.com/phrazzld/rhqueue/internal/task"
	"github.com/phrazzld/rhqueue/internal/ws"
	"github.com/urfave/cli/v3"
)

var CommandWatch = &cli.Command{
	Name:     "watch",
	Usage:    "stream task events until interrupted",
	HideHelp: true,
	Category: "Tasks",
	Action: func(ctx context.Context, c *cli.Command) error {
		u, err := newAPIClient(c).streamURL()
		if err != nil {
			return err
		}
		conn, _, err := websocket.Dial(ctx, u, nil)
		if err != nil {
			return fmt.Errorf("connect %s: %w", u, err)
		}
		defer conn.CloseNow()

		err = watch(ctx, conn, output(c), c.Bool("json"))
		if errors.Is(err, context.Canceled) {
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return nil
		}
		return err
	},
}

// watch prints the snapshot and every later event read from conn. Events
// already covered by the snapshot are skipped.
func watch(ctx context.Context, conn *websocket.Conn, out io.Writer, raw bool) error {
	var since uint64
	for {
		var msg ws.Message
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			return fmt.Errorf("read event stream: %w", err)
		}

		if raw {
			if msg.Type == ws.TypeEvent && msg.Seq <= since {
				continue
			}
			since = max(since, msg.Seq)
			if err := json.NewEncoder(out).Encode(msg); err != nil {
				return err
			}
			continue
		}

		switch msg.Type {
		case ws.TypeSnapshot:
			var snap task.Snapshot
			if err := json.Unmarshal(msg.Payload, &snap); err != nil {
				return fmt.Errorf("decode snapshot: %w", err)
			}
			since = snap.Seq
			printTasks(out, snap.Tasks)
			fmt.Fprintf(out, "-- %d running, watching for changes\n", snap.RunningCount)

		case ws.TypeEvent:
			if msg.Seq <= since {
				continue
			}
			since = msg.Seq
			var event events.TaskEvent
			if err := json.Unmarshal(msg.Payload, &event); err != nil {
				return fmt.Errorf("decode event: %w", err)
			}
			fmt.Fprintln(out, describeEvent(&event))
		}
	}
}

func describeEvent(e *events.TaskEvent) string {
	switch {
	case e.Task != nil:
		line := fmt.Sprintf("#%d %s %s %s %d%%", e.Seq, e.Type, e.Task.ID, e.Task.Status, e.Task.Progress)
		if detail := taskDetail(e.Task); detail != "" {
			line += " " + detail
		}
		return line
	default:
		return fmt.Sprintf("#%d %s %d tasks", e.Seq, e.Type, len(e.TaskIDs))
	}
}
