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

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/udfcore/udfcore/blockdev/osdevice"
	"github.com/udfcore/udfcore/internal/clock"
	"github.com/udfcore/udfcore/internal/logger"
	"github.com/udfcore/udfcore/internal/metrics"
	"github.com/udfcore/udfcore/vcb"
)

func newMountCmd() *cobra.Command {
	var (
		blockSize uint32
		crashLog  string
	)

	c := &cobra.Command{
		Use:   "mount <device-image>",
		Short: "Mount a UDF volume and serve it until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMount(cmd.Context(), args[0], blockSize, crashLog)
		},
	}
	c.Flags().Uint32Var(&blockSize, "block-size", 2048, "Sector size in bytes of the backing image.")
	c.Flags().StringVar(&crashLog, "crash-log", "", "If set, append a recovered panic's stack trace to this file before re-raising it.")
	return c
}

// runMount opens devicePath, mounts it per vcb.Mount, and blocks until a
// SIGINT is received, at which point it dismounts cleanly -- the same
// register-a-signal-handler-then-block shape as gcsfuse's
// registerSIGINTHandler in cmd/legacy_main.go, generalized from
// fuse.Unmount to vcb.Dismount since there is no FUSE transport in this
// core (spec.md §1 Non-goals).
func runMount(ctx context.Context, devicePath string, blockSize uint32, crashLog string) (err error) {
	if crashLog != "" {
		cw := NewCrashWriter(crashLog)
		defer func() {
			if r := recover(); r != nil {
				fmt.Fprintf(cw, "panic mounting %s: %v\n%s\n", devicePath, r, debug.Stack())
				panic(r)
			}
		}()
	}

	dev, err := osdevice.Open(devicePath, blockSize)
	if err != nil {
		return fmt.Errorf("opening %s: %w", devicePath, err)
	}

	m := metrics.New(prometheus.NewRegistry())
	v, err := vcb.Mount(ctx, dev, vcb.Options{
		Config:  Cfg,
		Metrics: m,
		Clock:   clock.RealClock{},
	})
	if err != nil {
		dev.Close()
		return fmt.Errorf("mounting %s: %w", devicePath, err)
	}
	logger.Infof("mounted %q (label %q, block size %d, read-only=%v)", devicePath, v.VolumeLabel, v.BlockSize, v.ReadOnly)

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt)
	<-signalChan
	logger.Infof("received interrupt, dismounting %q...", devicePath)

	if err := vcb.Dismount(ctx, v, false); err != nil {
		logger.Errorf("clean dismount failed, forcing: %v", err)
		if err := vcb.Dismount(ctx, v, true); err != nil {
			dev.Close()
			return fmt.Errorf("force-dismounting %s: %w", devicePath, err)
		}
	}
	return dev.Close()
}
