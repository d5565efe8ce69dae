package relay

import (
	"errors"
	"strings"
	"time"

	"github.com/danmuck/stagerelay/internal/protocol/frame"
	"github.com/danmuck/stagerelay/internal/staging"
)

var (
	ErrMissingListenAddr = errors.New("relay: missing listen addr")
	ErrInvalidReadChunk  = errors.New("relay: invalid read chunk size")
	ErrInvalidBufferSize = errors.New("relay: invalid staging buffer size")
)

// Config defines relay transport and staging defaults.
type Config struct {
	ListenAddr   string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// ReadChunkBytes sizes the scratch slice handed to conn.Read; whatever
	// one readiness event delivers gets staged in a single buffer write.
	ReadChunkBytes int

	InitialBufferBytes int
	MaxBufferBytes     int

	Frame frame.Limits
}

func DefaultConfig() Config {
	return Config{
		ListenAddr:         ":9400",
		ReadTimeout:        15 * time.Second,
		WriteTimeout:       15 * time.Second,
		ReadChunkBytes:     32 * 1024,
		InitialBufferBytes: staging.DefaultInitialCapacity,
		MaxBufferBytes:     staging.DefaultMaxCapacity,
		Frame:              frame.DefaultLimits(),
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ListenAddr) == "" {
		return ErrMissingListenAddr
	}
	if c.ReadChunkBytes <= 0 {
		return ErrInvalidReadChunk
	}
	if c.InitialBufferBytes < 0 || c.MaxBufferBytes <= 0 {
		return ErrInvalidBufferSize
	}
	if c.InitialBufferBytes > c.MaxBufferBytes {
		return ErrInvalidBufferSize
	}
	return nil
}

func (c Config) stagingLimits() staging.Limits {
	return staging.Limits{MaxCapacity: c.MaxBufferBytes}
}
