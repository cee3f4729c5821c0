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

// Package udferr defines the closed error taxonomy every udfcore subsystem
// raises, per spec §7. Faults propagate as ordinary Go errors wrapped with
// %w, so the originating Code survives fmt.Errorf annotation at each call
// boundary and can be recovered with errors.As at the outermost dispatch
// frame.
package udferr

import (
	"errors"
	"fmt"
)

// Code enumerates the fault kinds the core distinguishes. Any fault outside
// this set is, by construction, a DriverInternalError.
type Code int

const (
	// NotAUdfVolume means no usable anchor or VDS was found at mount.
	NotAUdfVolume Code = iota
	// VolumeCorrupt means a required descriptor failed tag/CRC and no
	// mirror was usable.
	VolumeCorrupt
	// VolumeReadOnly means policy or media denies writes.
	VolumeReadOnly
	// DeviceNotReady is transient; callers retry after verify.
	DeviceNotReady
	// NoMedia is transient; callers retry after verify.
	NoMedia
	// VerifyRequired means a media change was detected mid-operation.
	VerifyRequired
	// DiskFull means the allocator could not satisfy a request.
	DiskFull
	// CannotDelete means a share, link, or reference count prevents delete.
	CannotDelete
	// NameCollision means the rename/hard-link target exists and overwrite
	// is not permitted.
	NameCollision
	// NotADirectory is a structural constraint violation.
	NotADirectory
	// DirectoryNotEmpty is a structural constraint violation.
	DirectoryNotEmpty
	// AccessDenied covers security or read-only denials.
	AccessDenied
	// InvalidParameter means the request was malformed.
	InvalidParameter
	// DriverInternalError is any fault outside the expected set.
	DriverInternalError
)

func (c Code) String() string {
	switch c {
	case NotAUdfVolume:
		return "NotAUdfVolume"
	case VolumeCorrupt:
		return "VolumeCorrupt"
	case VolumeReadOnly:
		return "VolumeReadOnly"
	case DeviceNotReady:
		return "DeviceNotReady"
	case NoMedia:
		return "NoMedia"
	case VerifyRequired:
		return "VerifyRequired"
	case DiskFull:
		return "DiskFull"
	case CannotDelete:
		return "CannotDelete"
	case NameCollision:
		return "NameCollision"
	case NotADirectory:
		return "NotADirectory"
	case DirectoryNotEmpty:
		return "DirectoryNotEmpty"
	case AccessDenied:
		return "AccessDenied"
	case InvalidParameter:
		return "InvalidParameter"
	case DriverInternalError:
		return "DriverInternalError"
	default:
		return fmt.Sprintf("Code(%d)", int(c))
	}
}

// expected is the closed set of faults that never bring down the host; any
// other fault is surfaced as DriverInternalError at the outermost frame.
var expected = map[Code]bool{
	NotAUdfVolume:     true,
	VolumeCorrupt:     true,
	VolumeReadOnly:    true,
	DeviceNotReady:    true,
	NoMedia:           true,
	VerifyRequired:    true,
	DiskFull:          true,
	CannotDelete:      true,
	NameCollision:     true,
	NotADirectory:     true,
	DirectoryNotEmpty: true,
	AccessDenied:      true,
	InvalidParameter:  true,
}

// Error is a Code plus an optional causal chain.
type Error struct {
	Code Code
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		if e.Op != "" {
			return fmt.Sprintf("%s: %s: %v", e.Op, e.Code, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Code)
	}
	return e.Code.String()
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error with no further cause.
func New(code Code, op string) error {
	return &Error{Code: code, Op: op}
}

// Wrap annotates err with a Code and an operation name, the way gcsfuse
// wraps GCS failures with fmt.Errorf("StatObject: %v", err) at every call
// boundary, except here %w is used so the Code survives unwrapping.
func Wrap(code Code, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Op: op, Err: err}
}

// CodeOf recovers the Code carried by err, if any, walking the unwrap
// chain. ok is false if no *Error appears in the chain.
func CodeOf(err error) (code Code, ok bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return 0, false
}

// IsExpected reports whether err's Code (if any) is in the closed set of
// faults a request may complete with, per spec §7. A nil error or a Code
// not in the set classifies as "not expected", meaning it should be
// surfaced as DriverInternalError by the outermost dispatch frame.
func IsExpected(err error) bool {
	code, ok := CodeOf(err)
	if !ok {
		return false
	}
	return expected[code]
}

// IsTransient reports whether err should trigger the verify-volume retry
// path rather than being returned to the caller immediately.
func IsTransient(err error) bool {
	code, ok := CodeOf(err)
	if !ok {
		return false
	}
	return code == DeviceNotReady || code == NoMedia || code == VerifyRequired
}
