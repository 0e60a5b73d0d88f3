package testframes

import "time"

// Modes the tool can run in.
const (
	ModeWriter   = "writer"
	ModeReceiver = "receiver"
	ModeBoth     = "both"
)

// Config holds configuration for the synthetic frame tool
type Config struct {
	Mode        string        // writer, receiver or both
	Key         int           // SysV key of the segment to create
	FPS         float64       // Frames written per second
	Persons     int           // Persons per frame
	Frames      int           // Frames to write; 0 means until canceled
	PoseHold    int           // Frames a person keeps a pose before changing it
	Thumbnails  bool          // Write a thumbnail with every frame
	FrameWidth  uint32        // Reported source frame width
	FrameHeight uint32        // Reported source frame height
	Listen      string        // Receiver listen address
	FailFirst   int           // Receiver answers 503 to this many requests first
	Seed        uint64        // Generator seed
	KeepSegment bool          // Leave the segment in place on exit
	Timeout     time.Duration // Overall run limit; 0 means none
	Verbose     bool          // Enable debug logging
}

// DefaultConfig returns the settings used when no flags are given.
func DefaultConfig() *Config {
	return &Config{
		Mode:        ModeBoth,
		Key:         12345,
		FPS:         30,
		Persons:     3,
		PoseHold:    90,
		Thumbnails:  true,
		FrameWidth:  1920,
		FrameHeight: 1080,
		Listen:      "127.0.0.1:9090",
		Seed:        1,
	}
}

// WriterStats holds writer statistics
type WriterStats struct {
	FramesWritten  int
	PersonsWritten int
	StartTime      time.Time
	EndTime        time.Time
}

// ReceiverStats holds receiver statistics
type ReceiverStats struct {
	Requests   int            `json:"requests"`
	Accepted   int            `json:"accepted"`
	Rejected   int            `json:"rejected"`
	Failed     int            `json:"failed"`
	Detections int            `json:"detections"`
	ByAction   map[string]int `json:"by_action"`
	Units      map[string]int `json:"units"`
}
