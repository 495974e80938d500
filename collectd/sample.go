// Licensed to Elasticsearch B.V. under one or more contributor
// license agreements. See the NOTICE file distributed with
// this work for additional information regarding copyright
// ownership. Elasticsearch B.V. licenses this file to you under
// the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

// Package collectd decodes the JSON payload sent by the collectd
// write_http plugin.
package collectd

import (
	"errors"
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

// ErrMalformedBatch is returned when a request body is not a JSON array of
// collectd samples, or when a sample's per-source arrays disagree in length.
var ErrMalformedBatch = errors.New("malformed batch")

// Value is a single data source reading. collectd encodes NaN readings as
// JSON null, which decode to a Value with Valid set to false.
type Value struct {
	Float float64
	Valid bool
}

// Sample is one collectd value list: a plugin/type identifier plus one
// reading per data source. DSTypes, DSNames and Values are positionally
// aligned.
type Sample struct {
	Plugin         string
	PluginInstance string
	Type           string
	TypeInstance   string
	Host           string
	DSTypes        []string
	DSNames        []string
	Values         []Value
}

// Batch is the content of one inbound request.
type Batch []Sample

// Validate checks that the per-source arrays of s have equal length.
func (s Sample) Validate() error {
	if len(s.DSTypes) != len(s.DSNames) || len(s.DSTypes) != len(s.Values) {
		return fmt.Errorf("%w: %s: dstypes, dsnames and values lengths differ (%d, %d, %d)",
			ErrMalformedBatch, s.Plugin, len(s.DSTypes), len(s.DSNames), len(s.Values))
	}
	return nil
}

// ParseBatch decodes body into a Batch. Any sample that does not have the
// expected shape rejects the whole batch with an error wrapping
// ErrMalformedBatch.
func ParseBatch(body []byte) (Batch, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: body is not valid JSON", ErrMalformedBatch)
	}
	if !utf8.Valid(body) {
		return nil, fmt.Errorf("%w: body is not valid UTF-8", ErrMalformedBatch)
	}

	root := gjson.ParseBytes(body)
	if !root.IsArray() {
		return nil, fmt.Errorf("%w: expected a JSON array of samples", ErrMalformedBatch)
	}

	elems := root.Array()
	batch := make(Batch, 0, len(elems))
	for i, elem := range elems {
		s, err := parseSample(elem)
		if err != nil {
			return nil, fmt.Errorf("%w: sample %d: %v", ErrMalformedBatch, i, err)
		}
		batch = append(batch, s)
	}

	return batch, nil
}

func parseSample(r gjson.Result) (Sample, error) {
	if !r.IsObject() {
		return Sample{}, errors.New("not an object")
	}

	var (
		s   Sample
		err error
	)
	if s.Plugin, err = stringField(r, "plugin", true); err != nil {
		return Sample{}, err
	}
	if s.PluginInstance, err = stringField(r, "plugin_instance", false); err != nil {
		return Sample{}, err
	}
	if s.Type, err = stringField(r, "type", true); err != nil {
		return Sample{}, err
	}
	if s.TypeInstance, err = stringField(r, "type_instance", false); err != nil {
		return Sample{}, err
	}
	if s.Host, err = stringField(r, "host", true); err != nil {
		return Sample{}, err
	}
	if s.DSTypes, err = stringArray(r, "dstypes"); err != nil {
		return Sample{}, err
	}
	if s.DSNames, err = stringArray(r, "dsnames"); err != nil {
		return Sample{}, err
	}
	if s.Values, err = valueArray(r, "values"); err != nil {
		return Sample{}, err
	}

	if len(s.DSTypes) != len(s.DSNames) || len(s.DSTypes) != len(s.Values) {
		return Sample{}, fmt.Errorf("dstypes, dsnames and values lengths differ (%d, %d, %d)",
			len(s.DSTypes), len(s.DSNames), len(s.Values))
	}

	return s, nil
}

func stringField(r gjson.Result, key string, required bool) (string, error) {
	v := r.Get(key)
	if !v.Exists() {
		if required {
			return "", fmt.Errorf("missing field %q", key)
		}
		return "", nil
	}
	if v.Type != gjson.String {
		return "", fmt.Errorf("field %q is not a string", key)
	}
	return v.Str, nil
}

func stringArray(r gjson.Result, key string) ([]string, error) {
	v := r.Get(key)
	if !v.IsArray() {
		return nil, fmt.Errorf("field %q is not an array", key)
	}

	elems := v.Array()
	out := make([]string, len(elems))
	for i, e := range elems {
		if e.Type != gjson.String {
			return nil, fmt.Errorf("field %q: element %d is not a string", key, i)
		}
		out[i] = e.Str
	}
	return out, nil
}

func valueArray(r gjson.Result, key string) ([]Value, error) {
	v := r.Get(key)
	if !v.IsArray() {
		return nil, fmt.Errorf("field %q is not an array", key)
	}

	elems := v.Array()
	out := make([]Value, len(elems))
	for i, e := range elems {
		switch e.Type {
		case gjson.Number:
			// Numbers out of float64 range decode as infinities.
			out[i] = Value{Float: e.Num, Valid: !math.IsInf(e.Num, 0) && !math.IsNaN(e.Num)}
		case gjson.Null:
			out[i] = Value{}
		default:
			return nil, fmt.Errorf("field %q: element %d is not a number", key, i)
		}
	}
	return out, nil
}
