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

package logger_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udfcore/udfcore/internal/logger"
)

func TestInitWritesJSONToRotatedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "udfcore.log")

	require.NoError(t, logger.Init(logger.Config{
		Severity: "DEBUG",
		Format:   logger.FormatJSON,
		FilePath: path,
	}))
	defer logger.Close()

	logger.Infof("mount: volume=%s", "MY_DISC")
	logger.Close()

	data, err := readAll(t, path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"severity":"INFO"`)
	assert.Contains(t, string(data), "mount: volume=MY_DISC")
}

func TestSetSeverityFiltersBelowThreshold(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "udfcore.log")

	require.NoError(t, logger.Init(logger.Config{
		Severity: "WARNING",
		Format:   logger.FormatText,
		FilePath: path,
	}))
	defer logger.Close()

	logger.Debugf("should not appear")
	logger.Errorf("should appear")
	logger.Close()

	data, err := readAll(t, path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "should not appear")
	assert.Contains(t, string(data), "should appear")
}

func readAll(t *testing.T, path string) ([]byte, error) {
	t.Helper()
	return os.ReadFile(path)
}
