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

package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udfcore/udfcore/internal/config"
)

func TestDefaultMatchesRecordedOpenQuestionDecisions(t *testing.T) {
	cfg := config.Default()

	assert.True(t, cfg.Volume.ReadOnlyWhenDirty)
	assert.False(t, cfg.Volume.AllowReadWriteOnDirtyVolume)
	assert.True(t, cfg.Volume.AssumeAllUsedOnBitmapLoadFailure)
	assert.Equal(t, 100*time.Millisecond, cfg.Volume.VerifyVolumeInitialBackoff)
	assert.Equal(t, 5*time.Second, cfg.Volume.VerifyVolumeMaxBackoff)
	assert.Equal(t, 30*time.Second, cfg.Volume.VerifyVolumeMaxTotal)
	assert.Equal(t, config.SparingFallback, cfg.Volume.SparePolicy)
}

func TestLoadDecodesYAMLOverOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "udfcore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
app-name: my-mount
logging:
  severity: DEBUG
  format: json
volume:
  spare-policy: strict
  allow-read-write-on-dirty-volume: true
`), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "my-mount", cfg.AppName)
	assert.Equal(t, config.DebugLogSeverity, cfg.Logging.Severity)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, config.SparingStrict, cfg.Volume.SparePolicy)
	assert.True(t, cfg.Volume.AllowReadWriteOnDirtyVolume)
	// Fields absent from the file retain Default()'s values.
	assert.True(t, cfg.Volume.AssumeAllUsedOnBitmapLoadFailure)
}

func TestLogSeverityRejectsUnknownValue(t *testing.T) {
	var sev config.LogSeverity
	err := sev.UnmarshalText([]byte("VERBOSE"))
	assert.Error(t, err)
}

func TestOctalRoundTrips(t *testing.T) {
	var o config.Octal
	require.NoError(t, o.UnmarshalText([]byte("755")))
	assert.Equal(t, config.Octal(0o755), o)

	text, err := o.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "755", string(text))
}
