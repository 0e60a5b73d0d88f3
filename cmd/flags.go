package main

import (
	"flag"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/okian/posebridge/internal/config"
	"github.com/okian/posebridge/internal/domain/model"
)

const cooldownFlagPrefix = "cooldown-"

// parseFlags applies command-line overrides on top of cfg. Only flags that
// appear in args replace the configured values.
func parseFlags(args []string, cfg *config.Config, usage io.Writer) error {
	fs := flag.NewFlagSet("posebridge", flag.ContinueOnError)
	fs.SetOutput(usage)

	fs.Float64("rate", cfg.SummaryRate, "Summary prints per second")
	fs.String("server-url", cfg.ServerURL, "Detection service endpoint")
	fs.String("unit-id", cfg.UnitID, "Unit identifier sent with every detection")
	fs.String("unit-name", cfg.UnitName, "Human readable unit name")
	fs.String("rtsp-uris", strings.Join(cfg.RTSPURIs, ","), "Comma separated RTSP stream URIs")
	fs.Bool("send-thumbnails", cfg.SendThumbnails, "Attach the frame thumbnail to detections")
	fs.String("thumbnail-format", cfg.ThumbnailFormat, "Thumbnail encoding: raw or jpeg")
	fs.Bool("detailed", cfg.Detailed, "Print joint coordinates in the summary")
	fs.Bool("d", cfg.Detailed, "Shorthand for -detailed")
	fs.Int("shm-key", cfg.ShmKey, "SysV key of the detection segment")
	fs.String("status-addr", cfg.StatusAddr, "Status server address; empty disables it")
	fs.String("log-level", cfg.LogLevel, "debug, info, warn or error")
	fs.Float64("default-cooldown", cfg.DefaultCooldown, "Cooldown in seconds for classes without one")
	for _, c := range model.Classes() {
		name := c.String()
		fs.Float64(cooldownFlagPrefix+strings.ReplaceAll(name, "_", "-"), cfg.Cooldowns[name],
			fmt.Sprintf("Cooldown in seconds for %s", name))
	}

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	fs.Visit(func(f *flag.Flag) {
		v := f.Value.(flag.Getter).Get() //nolint:forcetypeassert // every std flag value is a Getter
		switch f.Name {
		case "rate":
			cfg.SummaryRate = v.(float64)
		case "server-url":
			cfg.ServerURL = v.(string)
		case "unit-id":
			cfg.UnitID = v.(string)
		case "unit-name":
			cfg.UnitName = v.(string)
		case "rtsp-uris":
			cfg.RTSPURIs = config.SplitList(v.(string))
		case "send-thumbnails":
			cfg.SendThumbnails = v.(bool)
		case "thumbnail-format":
			cfg.ThumbnailFormat = v.(string)
		case "detailed", "d":
			cfg.Detailed = v.(bool)
		case "shm-key":
			cfg.ShmKey = v.(int)
		case "status-addr":
			cfg.StatusAddr = v.(string)
		case "log-level":
			cfg.LogLevel = v.(string)
		case "default-cooldown":
			cfg.DefaultCooldown = v.(float64)
		default:
			if name, ok := strings.CutPrefix(f.Name, cooldownFlagPrefix); ok {
				if cfg.Cooldowns == nil {
					cfg.Cooldowns = make(map[string]float64)
				}
				cfg.Cooldowns[strings.ReplaceAll(name, "-", "_")] = v.(float64)
			}
		}
	})
	return nil
}

// printStartup writes the effective delivery and cooldown settings.
func printStartup(w io.Writer, cfg *config.Config, cooldowns map[model.PoseClass]time.Duration) {
	var b strings.Builder
	b.WriteString("Server Configuration:\n")
	fmt.Fprintf(&b, "  URL: %s\n", cfg.ServerURL)
	fmt.Fprintf(&b, "  Unit ID: %s\n", cfg.UnitID)
	fmt.Fprintf(&b, "  Unit Name: %s\n", cfg.UnitName)
	fmt.Fprintf(&b, "  RTSP URIs: %s\n", strings.Join(cfg.RTSPURIs, ", "))
	fmt.Fprintf(&b, "  Send Thumbnails: %t\n", cfg.SendThumbnails)
	fmt.Fprintf(&b, "  Retries: %d (timeout %s, backoff %s)\n", cfg.RetryAttempts, cfg.RequestTimeout, cfg.RetryBackoff)

	b.WriteString("Cooldown Configuration:\n")
	classes := make([]model.PoseClass, 0, len(cooldowns))
	for c := range cooldowns {
		classes = append(classes, c)
	}
	slices.Sort(classes)
	for _, c := range classes {
		fmt.Fprintf(&b, "  %s: %.1fs\n", c, cooldowns[c].Seconds())
	}
	fmt.Fprintf(&b, "  default: %.1fs\n", cfg.DefaultCooldown)

	_, _ = io.WriteString(w, b.String())
}

// printFinalStats writes the counters reported on shutdown.
func printFinalStats(w io.Writer, stats map[string]any) {
	last := "never"
	if s, ok := stats["last_send_time"].(string); ok {
		last = s
	}

	var b strings.Builder
	b.WriteString("\nFinal Statistics:\n")
	fmt.Fprintf(&b, "  Frames processed: %v\n", stats["frames_processed"])
	fmt.Fprintf(&b, "  Total detections: %v\n", stats["total_detections"])
	fmt.Fprintf(&b, "  Filtered duplicates: %v\n", stats["filtered_duplicates"])
	fmt.Fprintf(&b, "  Sent packages: %v\n", stats["sent_packages"])
	fmt.Fprintf(&b, "  Send errors: %v\n", stats["send_errors"])
	fmt.Fprintf(&b, "  Tracked persons: %v\n", stats["tracked_persons"])
	fmt.Fprintf(&b, "  Last send: %s\n", last)

	_, _ = io.WriteString(w, b.String())
}
