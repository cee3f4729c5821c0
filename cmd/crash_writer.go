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

import "os"

// CrashWriter appends whatever it is given to fileName, reopening the
// file on every call so a process that dies mid-write still leaves
// earlier panic output intact. Used by newMountCmd's --crash-log flag to
// capture a stack trace from a panic that would otherwise only reach a
// closed terminal -- a mount running detached from any console is
// exactly when this matters.
type CrashWriter struct {
	fileName string
}

func NewCrashWriter(fileName string) *CrashWriter {
	return &CrashWriter{fileName: fileName}
}

func (w *CrashWriter) Write(p []byte) (n int, err error) {
	f, err := os.OpenFile(w.fileName, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return
	}
	defer f.Close()

	n, err = f.Write(p)

	return
}
