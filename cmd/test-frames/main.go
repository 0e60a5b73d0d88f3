package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/okian/posebridge/internal/testframes"
)

func main() {
	def := testframes.DefaultConfig()
	var (
		mode       = flag.String("mode", def.Mode, "writer, receiver or both")
		key        = flag.Int("key", def.Key, "SysV key of the segment")
		fps        = flag.Float64("fps", def.FPS, "Frames written per second")
		persons    = flag.Int("persons", def.Persons, "Persons per frame")
		frames     = flag.Int("frames", 0, "Frames to write; 0 writes until interrupted")
		poseHold   = flag.Int("pose-hold", def.PoseHold, "Frames a person holds a pose")
		thumbnails = flag.Bool("thumbnails", def.Thumbnails, "Write a thumbnail with every frame")
		listen     = flag.String("listen", def.Listen, "Receiver listen address")
		failFirst  = flag.Int("fail-first", 0, "Answer 503 to this many requests first")
		seed       = flag.Uint64("seed", def.Seed, "Generator seed")
		keep       = flag.Bool("keep", false, "Leave the segment in place on exit")
		timeout    = flag.Duration("timeout", 0, "Stop after this long")
		verbose    = flag.Bool("verbose", false, "Enable debug logging")
		help       = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		testframes.ShowHelp()
		return
	}

	if err := testframes.SetupLogging(*verbose); err != nil {
		os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	config := &testframes.Config{
		Mode:        *mode,
		Key:         *key,
		FPS:         *fps,
		Persons:     *persons,
		Frames:      *frames,
		PoseHold:    *poseHold,
		Thumbnails:  *thumbnails,
		FrameWidth:  def.FrameWidth,
		FrameHeight: def.FrameHeight,
		Listen:      *listen,
		FailFirst:   *failFirst,
		Seed:        *seed,
		KeepSegment: *keep,
		Timeout:     *timeout,
		Verbose:     *verbose,
	}

	if err := testframes.Run(ctx, config); err != nil {
		os.Stderr.WriteString("test-frames failed: " + err.Error() + "\n")
		stop()
		os.Exit(1) //nolint:gocritic // stop already called
	}
}
