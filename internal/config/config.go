// Package config holds the load tester's settings. Values come from
// defaults, then SIALOAD_* environment variables, then command line flags.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/mtlynch/sia-load-tester/internal/conditions"
	"github.com/mtlynch/sia-load-tester/internal/contracts"
	"github.com/mtlynch/sia-load-tester/internal/jobs"
	"github.com/mtlynch/sia-load-tester/internal/logging"
	"github.com/mtlynch/sia-load-tester/internal/progress"
	"github.com/mtlynch/sia-load-tester/internal/sia"
	"github.com/mtlynch/sia-load-tester/internal/snapshot"
	"github.com/mtlynch/sia-load-tester/internal/status"
	"github.com/mtlynch/sia-load-tester/internal/uploader"
)

const envPrefix = "SIALOAD_"

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	DatasetRoot   string
	DatasetCopies int

	SiaAddress  string
	SiaPassword string

	LogLevel  string
	LogFormat string

	MaxConcurrentUploads int
	MaxUploadFailures    int
	UploadPollInterval   time.Duration

	ProgressWindow   time.Duration
	MinProgressBytes ByteSize
	MonitorInterval  time.Duration

	MinContracts         int
	ContractPollInterval time.Duration
	SkipProvisioning     bool

	SnapshotDir      string
	SnapshotInterval time.Duration

	StatusAddress      string
	StatusPushInterval time.Duration
}

func Default() Config {
	return Config{
		DatasetCopies:        1,
		SiaAddress:           sia.DefaultAddress,
		LogLevel:             "info",
		LogFormat:            "text",
		MaxConcurrentUploads: conditions.DefaultMaxConcurrentUploads,
		MaxUploadFailures:    uploader.DefaultMaxUploadFailures,
		UploadPollInterval:   conditions.DefaultPollInterval,
		ProgressWindow:       progress.DefaultWindow,
		MinProgressBytes:     ByteSize(progress.DefaultMinProgressBytes),
		MonitorInterval:      progress.DefaultCheckInterval,
		MinContracts:         contracts.DefaultMinContracts,
		ContractPollInterval: contracts.DefaultPollInterval,
		SnapshotInterval:     snapshot.DefaultInterval,
		StatusPushInterval:   status.DefaultPushInterval,
	}
}

// ApplyEnv overrides fields from SIALOAD_* variables. Call it before binding
// flags so flags take precedence.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv(envPrefix + "DATASET_ROOT"); v != "" {
		c.DatasetRoot = v
	}
	if v := getenv(envPrefix + "SIA_ADDRESS"); v != "" {
		c.SiaAddress = v
	}
	if v := getenv(envPrefix + "SIA_PASSWORD"); v != "" {
		c.SiaPassword = v
	}
	if v := getenv(envPrefix + "LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := getenv(envPrefix + "LOG_FORMAT"); v != "" {
		c.LogFormat = v
	}
	if v := getenv(envPrefix + "SNAPSHOT_DIR"); v != "" {
		c.SnapshotDir = v
	}
	if v := getenv(envPrefix + "STATUS_ADDRESS"); v != "" {
		c.StatusAddress = v
	}
}

// BindCommonFlags registers the flags every command that talks to siad uses.
func (c *Config) BindCommonFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.SiaAddress, "sia-address", c.SiaAddress, "siad API address (host:port)")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&c.LogFormat, "log-format", c.LogFormat, "log format (text, json)")
}

// BindRunFlags registers the load test flags.
func (c *Config) BindRunFlags(fs *pflag.FlagSet) {
	c.BindCommonFlags(fs)
	fs.StringVarP(&c.DatasetRoot, "dataset-root", "i", c.DatasetRoot, "directory of files to upload")
	fs.IntVar(&c.DatasetCopies, "dataset-copies", c.DatasetCopies, fmt.Sprintf("upload the dataset this many times (1..%d)", jobs.MaxDatasetCopies))
	fs.IntVar(&c.MaxConcurrentUploads, "max-concurrent-uploads", c.MaxConcurrentUploads, "uploads allowed in progress on the renter at once")
	fs.IntVar(&c.MaxUploadFailures, "max-upload-failures", c.MaxUploadFailures, "failed upload attempts before a file is dropped")
	fs.DurationVar(&c.UploadPollInterval, "upload-poll-interval", c.UploadPollInterval, "how often to poll the renter for upload progress")
	fs.DurationVar(&c.ProgressWindow, "progress-window", c.ProgressWindow, "window over which upload progress is measured")
	fs.Var(&c.MinProgressBytes, "min-progress-bytes", "least data the renter must upload per window (e.g. 1GiB, 500MB)")
	fs.DurationVar(&c.MonitorInterval, "monitor-interval", c.MonitorInterval, "how often to check upload progress")
	fs.IntVar(&c.MinContracts, "min-contracts", c.MinContracts, "contracts required before uploading")
	fs.DurationVar(&c.ContractPollInterval, "contract-poll-interval", c.ContractPollInterval, "how often to poll for new contracts")
	fs.BoolVar(&c.SkipProvisioning, "skip-provisioning", c.SkipProvisioning, "skip buying an allowance and waiting for contracts")
	fs.StringVar(&c.SnapshotDir, "snapshot-dir", c.SnapshotDir, "directory for periodic siad state snapshots (disabled if empty)")
	fs.DurationVar(&c.SnapshotInterval, "snapshot-interval", c.SnapshotInterval, "how often to snapshot siad state")
	fs.StringVar(&c.StatusAddress, "status-address", c.StatusAddress, "address for the status feed, e.g. :9981 (disabled if empty)")
	fs.DurationVar(&c.StatusPushInterval, "status-push-interval", c.StatusPushInterval, "how often the status feed pushes updates")
}

// ValidateCommon checks the settings shared by every command.
func (c Config) ValidateCommon() error {
	if strings.TrimSpace(c.SiaAddress) == "" {
		return fmt.Errorf("%w: sia address is required", ErrInvalidConfig)
	}
	if !logging.ValidLevel(c.LogLevel) {
		return fmt.Errorf("%w: unknown log level %q", ErrInvalidConfig, c.LogLevel)
	}
	if !logging.ValidFormat(c.LogFormat) {
		return fmt.Errorf("%w: unknown log format %q", ErrInvalidConfig, c.LogFormat)
	}
	return nil
}

// Validate checks everything a load test run needs.
func (c Config) Validate() error {
	if err := c.ValidateCommon(); err != nil {
		return err
	}
	if strings.TrimSpace(c.DatasetRoot) == "" {
		return fmt.Errorf("%w: dataset root is required", ErrInvalidConfig)
	}
	if c.DatasetCopies < 1 || c.DatasetCopies > jobs.MaxDatasetCopies {
		return fmt.Errorf("%w: dataset copies must be between 1 and %d, got %d", ErrInvalidConfig, jobs.MaxDatasetCopies, c.DatasetCopies)
	}
	positiveInts := []struct {
		name string
		v    int
	}{
		{"max concurrent uploads", c.MaxConcurrentUploads},
		{"max upload failures", c.MaxUploadFailures},
		{"min contracts", c.MinContracts},
	}
	for _, p := range positiveInts {
		if p.v <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %d", ErrInvalidConfig, p.name, p.v)
		}
	}
	positiveDurations := []struct {
		name string
		v    time.Duration
	}{
		{"upload poll interval", c.UploadPollInterval},
		{"progress window", c.ProgressWindow},
		{"monitor interval", c.MonitorInterval},
		{"contract poll interval", c.ContractPollInterval},
		{"snapshot interval", c.SnapshotInterval},
		{"status push interval", c.StatusPushInterval},
	}
	for _, p := range positiveDurations {
		if p.v <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %s", ErrInvalidConfig, p.name, p.v)
		}
	}
	if c.MinProgressBytes <= 0 {
		return fmt.Errorf("%w: min progress bytes must be positive", ErrInvalidConfig)
	}
	return nil
}

// ByteSize is a byte count that parses human readable sizes like 1GiB.
type ByteSize int64

func (b *ByteSize) String() string {
	return humanize.IBytes(uint64(*b))
}

func (b *ByteSize) Set(s string) error {
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return err
	}
	if n > 1<<62 {
		return fmt.Errorf("%s is too large", s)
	}
	*b = ByteSize(n)
	return nil
}

func (b *ByteSize) Type() string {
	return "bytes"
}
