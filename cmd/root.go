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

// Package cmd is the thin cobra/viper front-end over the core: a
// mount/format/fsck command tree that constructs a blockdev.Device, binds
// configuration the way gcsfuse's cmd/root.go does (PersistentFlags
// mirrored into viper, a --config-file overlay unmarshalled on top of
// config.Default()), and calls straight into vcb. Per spec.md §1, IRP
// dispatch shells, PnP notifications, and security wrappers are out of
// scope; this package is the minimal CLI surface the core's public
// operations are exercised through.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/udfcore/udfcore/internal/config"
	"github.com/udfcore/udfcore/internal/logger"
)

var (
	cfgFile       string
	bindErr       error
	configFileErr error

	// Cfg is the fully resolved configuration: config.Default() overlaid
	// by --config-file, then by any bound flags, matching gcsfuse's
	// MountConfig package variable populated by initConfig.
	Cfg config.Config
)

var rootCmd = &cobra.Command{
	Use:   "udfcore",
	Short: "Mount, format, and check UDF (ECMA-167) volumes",
	Long: `udfcore is a UDF (Universal Disk Format) filesystem core: the
volume layout, allocator, extent-mapping, cache, directory-index, and
open-instance subsystems of a UDF driver, fronted by a small CLI for
mounting, formatting, and checking block-device images.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if bindErr != nil {
			return bindErr
		}
		if configFileErr != nil {
			return configFileErr
		}
		return applyFlagOverrides()
	},
}

// Execute runs the command tree, matching gcsfuse's Execute/os.Exit
// shape in cmd/root.go.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "Path to a YAML config file overlaying the built-in defaults.")
	bindErr = config.BindFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(newMountCmd())
	rootCmd.AddCommand(newFormatCmd())
	rootCmd.AddCommand(newFsckCmd())
	rootCmd.AddCommand(newRecognizeCmd())
}

// initConfig loads config.Default() and overlays --config-file if given;
// flag values are laid on top afterwards by applyFlagOverrides, giving the
// same default-then-file-then-flags layering as gcsfuse's initConfig.
func initConfig() {
	Cfg = config.Default()
	if cfgFile != "" {
		loaded, err := config.Load(cfgFile)
		if err != nil {
			configFileErr = err
			return
		}
		Cfg = loaded
	}
}

// applyFlagOverrides mirrors bound pflag values that were actually set on
// the command line back onto Cfg, so an explicit flag always wins over a
// config file value, matching gcsfuse's flag-precedence contract.
func applyFlagOverrides() error {
	if viper.IsSet("logging.severity") {
		if err := (*config.LogSeverity)(&Cfg.Logging.Severity).UnmarshalText([]byte(viper.GetString("logging.severity"))); err != nil {
			return err
		}
	}
	if viper.IsSet("logging.format") {
		Cfg.Logging.Format = viper.GetString("logging.format")
	}
	if viper.IsSet("logging.file") {
		Cfg.Logging.FilePath = viper.GetString("logging.file")
	}
	if viper.IsSet("debug.exit-on-invariant-violation") {
		Cfg.Debug.ExitOnInvariantViolation = viper.GetBool("debug.exit-on-invariant-violation")
	}
	if viper.IsSet("volume.read-only-when-dirty") {
		Cfg.Volume.ReadOnlyWhenDirty = viper.GetBool("volume.read-only-when-dirty")
	}
	if viper.IsSet("volume.allow-read-write-on-dirty-volume") {
		Cfg.Volume.AllowReadWriteOnDirtyVolume = viper.GetBool("volume.allow-read-write-on-dirty-volume")
	}
	if viper.IsSet("volume.assume-all-used-on-bitmap-load-failure") {
		Cfg.Volume.AssumeAllUsedOnBitmapLoadFailure = viper.GetBool("volume.assume-all-used-on-bitmap-load-failure")
	}
	if viper.IsSet("volume.spare-policy") {
		if err := (*config.SparingPolicy)(&Cfg.Volume.SparePolicy).UnmarshalText([]byte(viper.GetString("volume.spare-policy"))); err != nil {
			return err
		}
	}
	if viper.IsSet("compat.instant-burner-partition-refs") {
		Cfg.Compat.InstantBurnerPartitionRefs = viper.GetBool("compat.instant-burner-partition-refs")
	}
	if viper.IsSet("compat.optical-media-mode") {
		Cfg.Compat.OpticalMediaMode = viper.GetBool("compat.optical-media-mode")
	}

	return logger.Init(logger.Config{
		Severity: string(Cfg.Logging.Severity),
		Format:   logger.Format(Cfg.Logging.Format),
		FilePath: Cfg.Logging.FilePath,
	})
}
