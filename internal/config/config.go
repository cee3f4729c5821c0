// Copyright 2024 The udfcore Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config declares the udfcore runtime configuration surface:
// policy knobs for the open questions spec.md leaves unresolved
// (read-only-when-dirty, bitmap-load-failure behavior, verify-volume
// retry budget), logging, and volume-compat flags. It binds against
// pflag/viper the way gcsfuse's cfg package does, and decodes YAML
// with mapstructure-backed hooks for the custom text types.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the top-level, YAML-unmarshalable configuration tree.
type Config struct {
	AppName string `yaml:"app-name" mapstructure:"app-name"`

	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`
	Debug   DebugConfig   `yaml:"debug" mapstructure:"debug"`
	Volume  VolumeConfig  `yaml:"volume" mapstructure:"volume"`
	Compat  CompatConfig  `yaml:"compat" mapstructure:"compat"`
}

// LoggingConfig mirrors gcsfuse's LogConfig: file path, format, severity.
type LoggingConfig struct {
	FilePath string      `yaml:"file" mapstructure:"file"`
	Format   string      `yaml:"format" mapstructure:"format"`
	Severity LogSeverity `yaml:"severity" mapstructure:"severity"`
}

// DebugConfig gates invariant-violation behavior, matching gcsfuse's
// DebugConfig.ExitOnInvariantViolation/LogMutex split.
type DebugConfig struct {
	ExitOnInvariantViolation bool `yaml:"exit-on-invariant-violation" mapstructure:"exit-on-invariant-violation"`
	LogMutex                 bool `yaml:"log-mutex" mapstructure:"log-mutex"`
}

// VolumeConfig carries the policy decisions spec.md §9 leaves as open
// questions, resolved per SPEC_FULL.md §4.
type VolumeConfig struct {
	// ReadOnlyWhenDirty forces a mount read-only when the LVID's
	// integrity type is "open" (dirty) at mount time, unless
	// AllowReadWriteOnDirtyVolume is set.
	ReadOnlyWhenDirty           bool `yaml:"read-only-when-dirty" mapstructure:"read-only-when-dirty"`
	AllowReadWriteOnDirtyVolume bool `yaml:"allow-read-write-on-dirty-volume" mapstructure:"allow-read-write-on-dirty-volume"`

	// AssumeAllUsedOnBitmapLoadFailure degrades to treating every block
	// as allocated (read-only-safe) rather than risking corruption by
	// assuming free space that was never verified.
	AssumeAllUsedOnBitmapLoadFailure bool `yaml:"assume-all-used-on-bitmap-load-failure" mapstructure:"assume-all-used-on-bitmap-load-failure"`

	// VerifyVolumeInitialBackoff/MaxBackoff/MaxTotal hold a backoff
	// schedule for verify-volume retries after a transient fault
	// (DeviceNotReady, NoMedia, VerifyRequired). They are loaded and bound
	// to flags only: no operation in this module reads them, and none
	// retries.
	VerifyVolumeInitialBackoff time.Duration `yaml:"verify-volume-initial-backoff" mapstructure:"verify-volume-initial-backoff"`
	VerifyVolumeMaxBackoff     time.Duration `yaml:"verify-volume-max-backoff" mapstructure:"verify-volume-max-backoff"`
	VerifyVolumeMaxTotal       time.Duration `yaml:"verify-volume-max-total" mapstructure:"verify-volume-max-total"`

	// SparePolicy selects what geometry.Volume.RemapPacket does when no
	// spare is available: strict fails with DiskFull, fallback leaves the
	// block unspared. vcb.Mount copies it into RefuseWritesOnNoSpare.
	SparePolicy SparingPolicy `yaml:"spare-policy" mapstructure:"spare-policy"`
}

// DefaultVolumeConfig matches the decisions recorded in SPEC_FULL.md §4.
func DefaultVolumeConfig() VolumeConfig {
	return VolumeConfig{
		ReadOnlyWhenDirty:                true,
		AllowReadWriteOnDirtyVolume:      false,
		AssumeAllUsedOnBitmapLoadFailure: true,
		VerifyVolumeInitialBackoff:       100 * time.Millisecond,
		VerifyVolumeMaxBackoff:           5 * time.Second,
		VerifyVolumeMaxTotal:             30 * time.Second,
		SparePolicy:                      SparingFallback,
	}
}

// CompatConfig holds the optical/legacy-media compat flags: an "instant
// burner" partition-reference mode, CD-R sequential-write emulation (kept
// only as a policy tag; see spec.md Non-goals — CD-R/DVD-R recording
// itself is out of scope), and bad-sector remap aggressiveness.
type CompatConfig struct {
	InstantBurnerPartitionRefs bool   `yaml:"instant-burner-partition-refs" mapstructure:"instant-burner-partition-refs"`
	OpticalMediaMode           bool   `yaml:"optical-media-mode" mapstructure:"optical-media-mode"`
	SparseGrowthThresholdBytes uint64 `yaml:"sparse-growth-threshold-bytes" mapstructure:"sparse-growth-threshold-bytes"`
}

// Default returns a Config with the logging, volume-policy and compat
// defaults applied (text format, INFO severity, DefaultVolumeConfig, a
// 1 MiB sparse-growth threshold). Block-cache tunables are not part of
// Config; blockcache.New applies its own defaults.
func Default() Config {
	return Config{
		AppName: "udfcore",
		Logging: LoggingConfig{
			Format:   "text",
			Severity: InfoLogSeverity,
		},
		Volume: DefaultVolumeConfig(),
		Compat: CompatConfig{
			SparseGrowthThresholdBytes: 1 << 20,
		},
	}
}

// Load reads and decodes a YAML configuration file into Default()'s
// baseline, the way gcsfuse's cmd/root.go resolves a config file path
// before overlaying flags.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	var raw map[string]any
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config.Load: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return cfg, fmt.Errorf("config.Load: parsing %s: %w", path, err)
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			textUnmarshalerHookFunc(),
		),
	})
	if err != nil {
		return cfg, fmt.Errorf("config.Load: building decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return cfg, fmt.Errorf("config.Load: decoding %s: %w", path, err)
	}
	return cfg, nil
}

// BindFlags registers every flag the mount/format/fsck subcommands
// expose and mirrors them into viper, the way gcsfuse's
// cfg.BindFlags does field by field.
func BindFlags(flagSet *pflag.FlagSet) error {
	bind := func(name string, bindErr *error) {
		if *bindErr != nil {
			return
		}
		*bindErr = viper.BindPFlag(name, flagSet.Lookup(name))
	}

	var err error

	flagSet.String("app-name", "", "The application name of this mount.")
	bind("app-name", &err)

	flagSet.String("log-file", "", "Path to the log file; empty writes to stderr.")
	bind("logging.file", &err)

	flagSet.String("log-format", "text", "Log format: text or json.")
	bind("logging.format", &err)

	flagSet.String("log-severity", string(InfoLogSeverity), "Minimum log severity to emit.")
	bind("logging.severity", &err)

	flagSet.Bool("debug-invariants", false, "Exit when internal invariants are violated.")
	bind("debug.exit-on-invariant-violation", &err)

	flagSet.Bool("read-only-when-dirty", true, "Mount read-only if the volume's integrity descriptor is dirty.")
	bind("volume.read-only-when-dirty", &err)

	flagSet.Bool("allow-read-write-on-dirty-volume", false, "Permit read-write mount of a dirty volume (overrides read-only-when-dirty).")
	bind("volume.allow-read-write-on-dirty-volume", &err)

	flagSet.Bool("assume-all-used-on-bitmap-load-failure", true, "Treat every block as allocated if the space bitmap cannot be loaded.")
	bind("volume.assume-all-used-on-bitmap-load-failure", &err)

	flagSet.Duration("verify-volume-initial-backoff", 100*time.Millisecond, "Initial backoff for verify-volume retries.")
	bind("volume.verify-volume-initial-backoff", &err)

	flagSet.Duration("verify-volume-max-backoff", 5*time.Second, "Maximum per-attempt backoff for verify-volume retries.")
	bind("volume.verify-volume-max-backoff", &err)

	flagSet.Duration("verify-volume-max-total", 30*time.Second, "Total time budget for verify-volume retries before giving up.")
	bind("volume.verify-volume-max-total", &err)

	flagSet.String("spare-policy", string(SparingFallback), "Allocator behavior when the sparing table is exhausted: strict or fallback.")
	bind("volume.spare-policy", &err)

	flagSet.Bool("instant-burner-partition-refs", false, "Treat partition references as instant-burner style for compat with certain writers.")
	bind("compat.instant-burner-partition-refs", &err)

	flagSet.Bool("optical-media-mode", false, "Tag the allocator with optical-media sector constraints.")
	bind("compat.optical-media-mode", &err)

	return err
}
