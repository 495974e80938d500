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

package influxproxy

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
)

// Target is the InfluxDB write endpoint batches are forwarded to. It is
// built once at startup and never modified afterwards.
type Target struct {
	scheme   string
	host     string
	port     int
	path     string
	redacted string
}

// NewTarget returns the Target for the /write endpoint of the given
// database. The credentials are embedded in the query string.
func NewTarget(scheme, host string, port int, db, user, password string) (*Target, error) {
	switch scheme {
	case "":
		scheme = "http"
	case "http", "https":
	default:
		return nil, fmt.Errorf("unsupported InfluxDB scheme %q", scheme)
	}
	if host == "" {
		return nil, errors.New("InfluxDB host cannot be empty")
	}
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("invalid InfluxDB port %d", port)
	}
	if db == "" {
		return nil, errors.New("InfluxDB database cannot be empty")
	}

	return &Target{
		scheme:   scheme,
		host:     host,
		port:     port,
		path:     writePath(db, user, password),
		redacted: writePath(db, user, "xxxxx"),
	}, nil
}

// InfluxDB reads the parameters by name, but u, p, db is the order
// operators are used to seeing in logs.
func writePath(db, user, password string) string {
	return "/write?u=" + url.QueryEscape(user) +
		"&p=" + url.QueryEscape(password) +
		"&db=" + url.QueryEscape(db)
}

// Host returns the InfluxDB host.
func (t *Target) Host() string { return t.host }

// Port returns the InfluxDB port.
func (t *Target) Port() int { return t.port }

// Path returns the request path, credentials included.
func (t *Target) Path() string { return t.path }

// URL returns the full URL forward requests are posted to.
func (t *Target) URL() string {
	return t.scheme + "://" + net.JoinHostPort(t.host, strconv.Itoa(t.port)) + t.path
}

// Redacted returns URL with the password masked, for logging.
func (t *Target) Redacted() string {
	return t.scheme + "://" + net.JoinHostPort(t.host, strconv.Itoa(t.port)) + t.redacted
}
