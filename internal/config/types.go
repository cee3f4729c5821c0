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

package config

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Octal is the datatype for params such as the allocator's reserved-block
// count when supplied on the command line in base-8.
type Octal int

func (o *Octal) UnmarshalText(text []byte) error {
	v, err := strconv.ParseInt(string(text), 8, 32)
	if err != nil {
		return err
	}
	*o = Octal(v)
	return nil
}

func (o Octal) MarshalText() ([]byte, error) {
	return []byte(strconv.FormatInt(int64(o), 8)), nil
}

// SparingPolicy selects how the allocator reacts to sparing-table
// exhaustion: fail the write, or silently fall back to VAT-style
// remapping. See SPEC_FULL.md §2 (geometry/sparing).
type SparingPolicy string

const (
	SparingStrict   SparingPolicy = "strict"
	SparingFallback SparingPolicy = "fallback"
)

func (p *SparingPolicy) UnmarshalText(text []byte) error {
	v := SparingPolicy(strings.ToLower(string(text)))
	allowed := []SparingPolicy{SparingStrict, SparingFallback}
	if !slices.Contains(allowed, v) {
		return fmt.Errorf("invalid sparing policy: %s. It can only accept values in the list: %v", text, allowed)
	}
	*p = v
	return nil
}

// LogSeverity represents the logging severity and can accept the following
// values: "TRACE", "DEBUG", "INFO", "WARNING", "ERROR", "OFF".
type LogSeverity string

const (
	TraceLogSeverity   LogSeverity = "TRACE"
	DebugLogSeverity   LogSeverity = "DEBUG"
	InfoLogSeverity    LogSeverity = "INFO"
	WarningLogSeverity LogSeverity = "WARNING"
	ErrorLogSeverity   LogSeverity = "ERROR"
	OffLogSeverity     LogSeverity = "OFF"
)

var severityRanking = map[LogSeverity]int{
	TraceLogSeverity:   0,
	DebugLogSeverity:   1,
	InfoLogSeverity:    2,
	WarningLogSeverity: 3,
	ErrorLogSeverity:   4,
	OffLogSeverity:     5,
}

func (l *LogSeverity) UnmarshalText(text []byte) error {
	level := LogSeverity(strings.ToUpper(string(text)))
	if _, ok := severityRanking[level]; !ok {
		return fmt.Errorf("invalid log severity level: %s. Must be one of [TRACE, DEBUG, INFO, WARNING, ERROR, OFF]", text)
	}
	*l = level
	return nil
}

// Rank returns the integer representation of the severity rank, or -1 if
// the severity is unknown. Config validation is expected to run before
// this is ever called with an unknown value.
func (l LogSeverity) Rank() int {
	if rank, ok := severityRanking[l]; ok {
		return rank
	}
	return -1
}
