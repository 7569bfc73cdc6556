package hft

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"runtime/debug"
	"time"
)

// Stage is one independently running unit of the pipeline.
// Run blocks until ctx is done or the stage has nothing more to do.
type Stage interface {
	Name() string
	Run(ctx context.Context) error
}

// stepFunc performs one iteration of a poll loop.
// It reports whether any work was done; an error ends the loop.
type stepFunc func() (bool, error)

// pollLoop runs step on a dedicated OS thread until ctx is done.
// When a step finds nothing to do the loop sleeps for interval before polling again.
func pollLoop(ctx context.Context, sink *LogSink, interval time.Duration, step stepFunc) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for ctx.Err() == nil {
		worked, err := safeStep(sink, step)
		if err != nil {
			return err
		}
		if !worked {
			time.Sleep(interval)
		}
	}
	return nil
}

// safeStep keeps a panicking step from killing its stage silently.
func safeStep(sink *LogSink, step stepFunc) (worked bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			sink.Error("stage step panicked",
				slog.String("panic", fmt.Sprint(r)),
				slog.String("stack", string(debug.Stack())),
			)
			worked, err = false, nil
		}
	}()
	return step()
}
