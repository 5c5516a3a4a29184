package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/danthegoodman1/DurableSnake/history"
	"github.com/danthegoodman1/DurableSnake/lease"
	"github.com/danthegoodman1/DurableSnake/workflow"
)

func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func printInstance(w io.Writer, inst *workflow.Instance) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "ID:\t%s\n", inst.ID)
	fmt.Fprintf(tw, "Type:\t%s\n", inst.Type)
	fmt.Fprintf(tw, "Status:\t%s\n", inst.Status)
	fmt.Fprintf(tw, "Queue:\t%s\n", inst.Queue)
	if inst.ParentID != "" {
		fmt.Fprintf(tw, "Parent:\t%s\n", inst.ParentID)
	}
	if inst.ContinuedFrom != "" {
		fmt.Fprintf(tw, "Continued from:\t%s\n", inst.ContinuedFrom)
	}
	if inst.Timeout > 0 {
		fmt.Fprintf(tw, "Timeout:\t%s\n", inst.Timeout)
	}
	fmt.Fprintf(tw, "History:\t%d events, %d bytes\n", inst.HistoryLength, inst.HistoryBytes)
	fmt.Fprintf(tw, "Created:\t%s\n", formatTime(inst.CreatedAt))
	fmt.Fprintf(tw, "Started:\t%s\n", formatTime(inst.StartedAt))
	fmt.Fprintf(tw, "Closed:\t%s\n", formatTime(inst.ClosedAt))
	if len(inst.Output) > 0 {
		fmt.Fprintf(tw, "Output:\t%s\n", inst.Output)
	}
	if inst.Error != "" {
		fmt.Fprintf(tw, "Error:\t%s\n", inst.Error)
	}
	tw.Flush()
}

func printEvents(w io.Writer, events []*history.Event) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tTYPE\tEPOCH\tRUNNER\tCREATED\tPAYLOAD")
	for _, e := range events {
		payload := string(e.Payload)
		if len(payload) > 60 {
			payload = payload[:57] + "..."
		}
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\t%s\n",
			e.SequenceID, e.Type, e.Epoch, e.RunnerID, formatTime(e.CreatedAt), payload)
	}
	tw.Flush()
}

func printLocks(w io.Writer, locks []*lease.Lock, now time.Time) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "WORKFLOW\tEPOCH\tRUNNER\tEXPIRES\tSTATE")
	for _, l := range locks {
		state := "live"
		if l.Expired(now) {
			state = "expired"
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n",
			l.WorkflowID, l.Epoch, l.RunnerID, formatTime(l.ExpiresAt), state)
	}
	tw.Flush()
}
