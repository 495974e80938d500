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

// Package lineprotocol translates collectd samples into InfluxDB line
// protocol.
package lineprotocol

import (
	"bytes"
	"math"
	"strconv"

	"github.com/collectd-bridge/collectd-influxdb-proxy/collectd"
)

// AcceptedDSType reports whether data sources of type t are forwarded.
// Other types, such as absolute, are dropped.
func AcceptedDSType(t string) bool {
	switch t {
	case "counter", "gauge", "derive":
		return true
	}
	return false
}

// MeasurementPath joins the plugin and type identifiers of s with dots,
// leaving out empty instances.
func MeasurementPath(s collectd.Sample) string {
	path := s.Plugin
	if s.PluginInstance != "" {
		path += "." + s.PluginInstance
	}
	path += "." + s.Type
	if s.TypeInstance != "" {
		path += "." + s.TypeInstance
	}
	return path
}

// FormatValue returns the shortest decimal form of v that parses back to
// the same float, without an exponent.
func FormatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Translate renders every accepted data source of b as one line of the form
//
//	<path>.<dsname>,host=<host> value=<value>
//
// Lines are newline terminated and follow input order. An empty batch
// yields an empty result.
func Translate(b collectd.Batch) ([]byte, error) {
	var buf bytes.Buffer
	for _, s := range b {
		if err := s.Validate(); err != nil {
			return nil, err
		}

		path := MeasurementPath(s)
		for _, i := range acceptedSources(s) {
			buf.WriteString(path)
			buf.WriteByte('.')
			buf.WriteString(s.DSNames[i])
			buf.WriteString(",host=")
			buf.WriteString(s.Host)
			buf.WriteString(" value=")
			buf.WriteString(FormatValue(s.Values[i].Float))
			buf.WriteByte('\n')
		}
	}
	return buf.Bytes(), nil
}

// acceptedSources returns the indexes of the data sources of s that
// produce a line. Null and non-finite readings are skipped.
func acceptedSources(s collectd.Sample) []int {
	idx := make([]int, 0, len(s.DSTypes))
	for i, t := range s.DSTypes {
		v := s.Values[i]
		if AcceptedDSType(t) && v.Valid && !math.IsInf(v.Float, 0) && !math.IsNaN(v.Float) {
			idx = append(idx, i)
		}
	}
	return idx
}

// LineCount returns the number of lines in a translated blob.
func LineCount(blob []byte) int {
	return bytes.Count(blob, []byte{'\n'})
}
