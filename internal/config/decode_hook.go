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
	"encoding"
	"fmt"
	"reflect"

	"github.com/mitchellh/mapstructure"
)

// textUnmarshalerHookFunc lets mapstructure decode loosely-typed YAML
// scalars (strings, small ints) into the package's encoding.TextUnmarshaler
// types (Octal, LogSeverity, SparingPolicy), mirroring gcsfuse's own
// cfg decode hook for Octal/Protocol/LogSeverity.
func textUnmarshalerHookFunc() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to.Kind() != reflect.Ptr && !reflect.PointerTo(to).Implements(textUnmarshalerType) {
			return data, nil
		}

		result := reflect.New(to).Interface()
		unmarshaler, ok := result.(encoding.TextUnmarshaler)
		if !ok {
			return data, nil
		}

		text, err := toText(from, data)
		if err != nil {
			return data, nil
		}

		if err := unmarshaler.UnmarshalText(text); err != nil {
			return nil, err
		}
		return reflect.ValueOf(result).Elem().Interface(), nil
	}
}

var textUnmarshalerType = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()

func toText(from reflect.Type, data any) ([]byte, error) {
	switch v := data.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	default:
		return []byte(fmt.Sprint(v)), nil
	}
}
