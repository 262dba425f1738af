package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/loykin/launchpad/pkg/client"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (c *command) printEntry(e client.Entry) error {
	if c.global.JSON {
		return printJSON(c.out, e)
	}
	_, err := fmt.Fprintf(c.out, "%s\t%s\t%s\n", e.ID, e.Name, e.ExecutablePath)
	return err
}

func (c *command) printEntries(entries []client.Entry) error {
	if c.global.JSON {
		return printJSON(c.out, entries)
	}
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tNAME\tCATEGORY\tLAUNCHES\tLAST\tSTATE")
	for _, e := range entries {
		state := "-"
		if e.Running {
			state = fmt.Sprintf("running (pid %d)", e.PID)
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			e.ID, e.Name, e.Category, e.LaunchCount, formatTime(e.LastLaunchedAt), state)
	}
	return tw.Flush()
}

func (c *command) printLaunch(r client.LaunchResult) error {
	if c.global.JSON {
		return printJSON(c.out, r)
	}
	_, err := fmt.Fprintf(c.out, "%s: %s\n", r.EntryID, r.Message)
	return err
}

func (c *command) printRunning(rs []client.RunningEntry) error {
	if c.global.JSON {
		return printJSON(c.out, rs)
	}
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ENTRY\tPID\tSTARTED\tCPU%\tRSS")
	for _, r := range rs {
		cpu, rss := "-", "-"
		if r.Resources != nil {
			cpu = fmt.Sprintf("%.1f", r.Resources.CPUPercent)
			rss = fmt.Sprintf("%d", r.Resources.MemoryRSS)
		}
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n", r.EntryID, r.PID, r.StartedAt.Format(time.RFC3339), cpu, rss)
	}
	return tw.Flush()
}

func (c *command) printHistory(evs []client.HistoryEvent) error {
	if c.global.JSON {
		return printJSON(c.out, evs)
	}
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "TIME\tTYPE\tPID\tCODE\tRUN")
	for _, e := range evs {
		code, run := "-", "-"
		if e.Type == "exit" {
			code = fmt.Sprintf("%d%s", e.ExitCode, signalSuffix(e.Signal))
			run = time.Duration(e.RunSeconds * float64(time.Second)).Round(time.Second).String()
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", e.OccurredAt.Format(time.RFC3339), e.Type, e.PID, code, run)
	}
	return tw.Flush()
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Format("2006-01-02 15:04")
}

func signalSuffix(sig string) string {
	if sig == "" {
		return ""
	}
	return " signal=" + sig
}
