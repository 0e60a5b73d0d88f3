package testframes

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/okian/posebridge/pkg/logger"
)

// SetupLogging initializes the logger at info level, or debug when verbose.
func SetupLogging(verbose bool) error {
	if err := logger.Init(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	if verbose {
		if err := logger.SetLevelString("debug"); err != nil {
			return fmt.Errorf("failed to set log level: %w", err)
		}
	}
	return nil
}

// Run starts the writer, the receiver or both according to config and
// blocks until they finish or ctx is done.
func Run(ctx context.Context, config *Config) error {
	switch config.Mode {
	case ModeWriter, ModeReceiver, ModeBoth:
	default:
		return fmt.Errorf("unknown mode %q", config.Mode)
	}
	if config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.Timeout)
		defer cancel()
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
		rc       *Receiver
	)
	record := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if config.Mode == ModeReceiver || config.Mode == ModeBoth {
		rc = NewReceiver(config.FailFirst)
		wg.Add(1)
		go func() {
			defer wg.Done()
			record(RunReceiver(ctx, config.Listen, rc))
		}()
	}

	var ws WriterStats
	if config.Mode == ModeWriter || config.Mode == ModeBoth {
		stats, err := RunWriter(ctx, config)
		ws = stats
		record(err)
	}

	wg.Wait()
	displayFinalStats(ws, rc)
	return firstErr
}

// displayFinalStats prints what the tool wrote and received.
func displayFinalStats(ws WriterStats, rc *Receiver) {
	var b []byte
	if ws.FramesWritten > 0 {
		d := ws.EndTime.Sub(ws.StartTime).Round(time.Millisecond)
		b = fmt.Appendf(b, "\nWriter: %d frames, %d person records in %s\n", ws.FramesWritten, ws.PersonsWritten, d)
	}
	if rc != nil {
		s := rc.Stats()
		b = fmt.Appendf(b, "Receiver: %d requests, %d accepted, %d rejected, %d failed, %d detections\n",
			s.Requests, s.Accepted, s.Rejected, s.Failed, s.Detections)
		for action, n := range s.ByAction {
			b = fmt.Appendf(b, "  %s: %d\n", action, n)
		}
	}
	_, _ = os.Stdout.Write(b)
}

// ShowHelp prints usage information for the synthetic frame tool.
func ShowHelp() {
	_, _ = os.Stdout.WriteString(`Pose Bridge Synthetic Frame Tool
================================

Creates the detection shared-memory segment and fills it with synthetic
frames, and/or runs a stand-in detection service that acknowledges posts.

Usage:
  go run ./cmd/test-frames [options]

Options:
  -mode string
        writer, receiver or both (default "both")
  -key int
        SysV key of the segment (default 12345)
  -fps float
        Frames written per second (default 30)
  -persons int
        Persons per frame, at most 10 (default 3)
  -frames int
        Frames to write; 0 writes until interrupted (default 0)
  -pose-hold int
        Frames a person holds a pose (default 90)
  -thumbnails
        Write a thumbnail with every frame (default true)
  -listen string
        Receiver listen address (default "127.0.0.1:9090")
  -fail-first int
        Answer 503 to this many requests first (default 0)
  -seed uint
        Generator seed (default 1)
  -keep
        Leave the segment in place on exit
  -timeout duration
        Stop after this long (default: run until interrupted)
  -verbose
        Enable debug logging
  -help
        Show this help message

Examples:
  # Writer and receiver together, then point the bridge at the receiver
  go run ./cmd/test-frames
  go run ./cmd -server-url http://127.0.0.1:9090/api/detections

  # Exercise delivery retries
  go run ./cmd/test-frames -mode receiver -fail-first 2
`)
}
