package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/loykin/launchpad"
	"github.com/loykin/launchpad/pkg/client"
)

var errRemoteOnly = errors.New("this command needs a running server; pass --api-url")

// command carries the state shared by every subcommand. Without --api-url a
// command opens the configured store in-process; with it, it talks to a
// running server over HTTP.
type command struct {
	global *GlobalFlags
	out    io.Writer
	open   func(configPath string) (*launchpad.Launchpad, error)
}

func newCommand(out io.Writer) *command {
	return &command{global: &GlobalFlags{}, out: out, open: openLocal}
}

func openLocal(configPath string) (*launchpad.Launchpad, error) {
	cfg, err := launchpad.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	return launchpad.New(cfg)
}

func (c *command) remote() *client.Client {
	if c.global.APIUrl == "" {
		return nil
	}
	cfg := client.DefaultConfig()
	cfg.BaseURL = c.global.APIUrl
	cfg.Timeout = c.global.APITimeout
	cfg.Insecure = c.global.Insecure
	cfg.Token = c.global.APIToken
	if c.global.APICACert != "" {
		cfg.TLS = &client.TLSClientConfig{Enabled: true, CACert: c.global.APICACert}
	}
	return client.New(cfg)
}

// withLocal opens the facade, runs fn and closes it.
func (c *command) withLocal(fn func(*launchpad.Launchpad) error) error {
	lp, err := c.open(c.global.ConfigPath)
	if err != nil {
		return err
	}
	defer func() { _ = lp.Close() }()
	return fn(lp)
}

func (c *command) Serve(ctx context.Context) error {
	if c.global.APIUrl != "" {
		return errors.New("serve runs locally; --api-url is not allowed")
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return c.withLocal(func(lp *launchpad.Launchpad) error { return lp.Serve(ctx) })
}

func (c *command) Add(ctx context.Context, f AddFlags, workDirSet bool) error {
	in := f.input(workDirSet)
	if cl := c.remote(); cl != nil {
		e, err := cl.CreateEntry(ctx, in)
		if err != nil {
			return err
		}
		return c.printEntry(e)
	}
	return c.withLocal(func(lp *launchpad.Launchpad) error {
		e, err := lp.CreateEntry(ctx, entryFromInput(in))
		if err != nil {
			return err
		}
		return c.printEntry(toClientEntry(launchpad.EntryView{Entry: e}))
	})
}

func (c *command) Update(ctx context.Context, f UpdateFlags, workDirSet bool) error {
	in := f.input(workDirSet)
	if f.ClearWorkDir {
		in.WorkingDirectory = nil
	}
	if cl := c.remote(); cl != nil {
		e, err := cl.UpdateEntry(ctx, f.ID, in)
		if err != nil {
			return err
		}
		return c.printEntry(e)
	}
	return c.withLocal(func(lp *launchpad.Launchpad) error {
		e := entryFromInput(in)
		e.ID = f.ID
		updated, err := lp.UpdateEntry(ctx, e)
		if err != nil {
			return err
		}
		return c.printEntry(toClientEntry(launchpad.EntryView{Entry: updated}))
	})
}

func (c *command) List(ctx context.Context) error {
	if cl := c.remote(); cl != nil {
		entries, err := cl.ListEntries(ctx)
		if err != nil {
			return err
		}
		return c.printEntries(entries)
	}
	return c.withLocal(func(lp *launchpad.Launchpad) error {
		views, err := lp.ListEntries(ctx)
		if err != nil {
			return err
		}
		entries := make([]client.Entry, 0, len(views))
		for _, v := range views {
			entries = append(entries, toClientEntry(v))
		}
		return c.printEntries(entries)
	})
}

func (c *command) Remove(ctx context.Context, id string) error {
	if cl := c.remote(); cl != nil {
		if err := cl.DeleteEntry(ctx, id); err != nil {
			return err
		}
	} else if err := c.withLocal(func(lp *launchpad.Launchpad) error { return lp.DeleteEntry(ctx, id) }); err != nil {
		return err
	}
	_, err := fmt.Fprintf(c.out, "removed %s\n", id)
	return err
}

func (c *command) Launch(ctx context.Context, f LaunchFlags) error {
	if cl := c.remote(); cl != nil {
		if f.Wait {
			return errors.New("--wait is only supported without --api-url")
		}
		res, err := cl.Launch(ctx, f.ID)
		if err != nil {
			return err
		}
		if err := c.printLaunch(res); err != nil {
			return err
		}
		if !res.Success {
			return fmt.Errorf("launch %s: %s", f.ID, res.Outcome)
		}
		return nil
	}
	return c.withLocal(func(lp *launchpad.Launchpad) error {
		// Subscribe first so a fast exit is not missed. The event is
		// published after history is written and the registry is cleared.
		exits := make(chan launchpad.ExitEvent, 1)
		unsubscribe := lp.Subscribe(launchpad.ObserverFunc(func(e launchpad.ExitEvent) {
			if e.EntryID == f.ID {
				select {
				case exits <- e:
				default:
				}
			}
		}))
		defer unsubscribe()

		res, err := lp.LaunchEntry(ctx, f.ID)
		if err != nil {
			return err
		}
		if perr := c.printLaunch(toLaunchResult(res)); perr != nil {
			return perr
		}
		if !res.Success() {
			return fmt.Errorf("launch %s: %s", f.ID, res.Outcome)
		}
		if !f.Wait {
			return nil
		}
		select {
		case e := <-exits:
			_, err := fmt.Fprintf(c.out, "exited code=%d%s\n", e.Code, signalSuffix(e.Signal))
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}

func (c *command) Running(ctx context.Context, f RunningFlags) error {
	cl := c.remote()
	if cl == nil {
		// The registry lives in the serving process; a fresh local process
		// has nothing running.
		return errRemoteOnly
	}
	if f.ID != "" {
		r, err := cl.RunningEntry(ctx, f.ID, f.Resources)
		if err != nil {
			return err
		}
		return c.printRunning([]client.RunningEntry{r})
	}
	rs, err := cl.Running(ctx)
	if err != nil {
		return err
	}
	return c.printRunning(rs)
}

func (c *command) History(ctx context.Context, f HistoryFlags) error {
	if cl := c.remote(); cl != nil {
		evs, err := cl.History(ctx, f.ID, f.Limit)
		if err != nil {
			return err
		}
		return c.printHistory(evs)
	}
	return c.withLocal(func(lp *launchpad.Launchpad) error {
		evs, err := lp.Service().EntryHistory(ctx, f.ID, f.Limit)
		if err != nil {
			return err
		}
		out := make([]client.HistoryEvent, 0, len(evs))
		for _, e := range evs {
			out = append(out, client.HistoryEvent{
				Type: string(e.Type), OccurredAt: e.OccurredAt, EntryID: e.EntryID, PID: e.PID,
				ExitCode: e.ExitCode, Signal: e.Signal, Error: e.Error, RunSeconds: e.RunSeconds,
			})
		}
		return c.printHistory(out)
	})
}

func (c *command) Watch(ctx context.Context) error {
	cl := c.remote()
	if cl == nil {
		return errRemoteOnly
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	err := cl.WatchExits(ctx, func(e client.ExitEvent) {
		if c.global.JSON {
			_ = printJSON(c.out, e)
			return
		}
		_, _ = fmt.Fprintf(c.out, "%s\t%s pid=%d code=%d%s\n",
			e.ExitedAt.Format("15:04:05"), e.EntryID, e.PID, e.Code, signalSuffix(e.Signal))
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (f AddFlags) input(workDirSet bool) client.EntryInput {
	in := client.EntryInput{
		Name:           f.Name,
		Description:    f.Description,
		ExecutablePath: f.Exe,
		Arguments:      f.Args,
		IconPath:       f.Icon,
		Category:       f.Category,
	}
	if workDirSet {
		wd := f.WorkDir
		in.WorkingDirectory = &wd
	}
	return in
}

func entryFromInput(in client.EntryInput) launchpad.Entry {
	return launchpad.Entry{
		Name:             in.Name,
		Description:      in.Description,
		ExecutablePath:   in.ExecutablePath,
		Arguments:        in.Arguments,
		WorkingDirectory: in.WorkingDirectory,
		IconPath:         in.IconPath,
		Category:         in.Category,
	}
}

func toClientEntry(v launchpad.EntryView) client.Entry {
	return client.Entry{
		ID:               v.ID,
		Name:             v.Name,
		Description:      v.Description,
		ExecutablePath:   v.ExecutablePath,
		Arguments:        v.Arguments,
		WorkingDirectory: v.WorkingDirectory,
		IconPath:         v.IconPath,
		Category:         v.Category,
		CreatedAt:        v.CreatedAt,
		LastLaunchedAt:   v.LastLaunchedAt,
		LaunchCount:      v.LaunchCount,
		Running:          v.Running,
		PID:              v.PID,
	}
}

func toLaunchResult(r launchpad.Result) client.LaunchResult {
	return client.LaunchResult{
		Success:        r.Success(),
		Outcome:        string(r.Outcome),
		EntryID:        r.EntryID,
		PID:            r.PID,
		AlreadyRunning: r.AlreadyRunning(),
		Reason:         string(r.Reason),
		Error:          r.Error,
		Message:        r.Message(),
	}
}
