// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// awaitstate-demo simulates a set of downloads whose progress is tracked
// in a statemap, and waits for each of them to finish.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"github.com/juju/loggo"
	"github.com/juju/worker/v4"
	"golang.org/x/sync/errgroup"

	"github.com/juju/awaitstate/statemap"
	"github.com/juju/awaitstate/watcher"
)

var logger = loggo.GetLogger("awaitstate.demo")

type downloadState int

const (
	notStarted downloadState = iota
	started
	finished
)

func (s downloadState) String() string {
	switch s {
	case notStarted:
		return "not-started"
	case started:
		return "started"
	case finished:
		return "finished"
	}
	return fmt.Sprintf("downloadState(%d)", int(s))
}

type demoConfig struct {
	downloads int
	step      time.Duration
	timeout   time.Duration
	clock     clock.Clock
}

func main() {
	os.Exit(Main(os.Args[1:], os.Stdout, os.Stderr))
}

// Main runs the demo with the given arguments and returns its exit code.
func Main(args []string, stdout, stderr io.Writer) int {
	flags := gnuflag.NewFlagSet("awaitstate-demo", gnuflag.ContinueOnError)
	flags.SetOutput(stderr)
	downloads := flags.Int("downloads", 3, "number of simulated downloads")
	step := flags.Duration("step", 100*time.Millisecond, "time each download spends started")
	timeout := flags.Duration("timeout", 5*time.Second, "how long to wait for each download")
	loggingConfig := flags.String("logging-config", "<root>=WARNING", "logging configuration")
	if err := flags.Parse(true, args); err == gnuflag.ErrHelp {
		return 0
	} else if err != nil {
		return 2
	}
	if *downloads < 1 {
		fmt.Fprintln(stderr, "--downloads must be at least 1")
		return 2
	}
	if err := loggo.ConfigureLoggers(*loggingConfig); err != nil {
		fmt.Fprintf(stderr, "invalid --logging-config: %v\n", err)
		return 2
	}

	err := run(context.Background(), demoConfig{
		downloads: *downloads,
		step:      *step,
		timeout:   *timeout,
		clock:     clock.WallClock,
	}, stdout)
	if err != nil {
		fmt.Fprintf(stderr, "ERROR %v\n", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, config demoConfig, stdout io.Writer) error {
	states, err := statemap.NewMap[downloadState](statemap.Config{
		Clock:    config.clock,
		Logger:   logger,
		Capacity: config.downloads,
	})
	if err != nil {
		return errors.Trace(err)
	}

	ids := make([]string, config.downloads)
	for i := range ids {
		ids[i] = uuid.NewString()
		states.Put(ids[i], notStarted)
	}

	var (
		watchers  []worker.Worker
		observers errgroup.Group
		producers errgroup.Group
	)
	// Watchers stop by themselves once their keys are removed; this only
	// catches early returns.
	defer func() {
		for _, w := range watchers {
			_ = worker.Stop(w)
		}
		_ = observers.Wait()
		_ = producers.Wait()
	}()

	for _, id := range ids {
		w, err := watcher.NewTransitionWatcher[downloadState](states, id)
		if err != nil {
			return errors.Trace(err)
		}
		watchers = append(watchers, w)
		observers.Go(func() error {
			for t := range w.Changes() {
				logger.Infof("download %s: %v -> %v", id, t.Previous, t.Current)
			}
			if err := w.Wait(); !errors.Is(err, statemap.ErrKeyNotFound) {
				return errors.Trace(err)
			}
			return nil
		})
	}

	for _, id := range ids {
		producers.Go(func() error {
			if err := states.SetState(id, started); err != nil {
				return errors.Trace(err)
			}
			<-config.clock.After(config.step)
			return errors.Trace(states.SetState(id, finished))
		})
	}

	var failed int
	for _, id := range ids {
		_, err := states.WaitUntilTimeout(ctx, id, func(_, curr downloadState) bool {
			return curr == finished
		}, config.timeout)
		switch {
		case errors.Is(err, statemap.ErrTimeoutExpired):
			failed++
			fmt.Fprintf(stdout, "download %s timed out\n", id)
		case err != nil:
			return errors.Trace(err)
		default:
			fmt.Fprintf(stdout, "download %s finished\n", id)
		}
	}

	if err := producers.Wait(); err != nil {
		return errors.Trace(err)
	}
	for _, id := range ids {
		states.Remove(id)
	}
	if err := observers.Wait(); err != nil {
		return errors.Trace(err)
	}

	if failed > 0 {
		return errors.Errorf("%d of %d downloads timed out", failed, len(ids))
	}
	return nil
}
