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
	"time"

	"go.uber.org/zap"
)

// Option configures a Client.
type Option func(*Client)

// WithTarget sets the InfluxDB endpoint batches are forwarded to.
func WithTarget(t *Target) Option {
	return func(c *Client) {
		c.target = t
	}
}

// WithForwarderTimeout bounds each forward request. Zero, the default,
// leaves the transport defaults in charge.
func WithForwarderTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.client.Timeout = timeout
	}
}

// WithReceiverTimeout sets the read and write timeouts of inbound
// collectd requests.
func WithReceiverTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.receiver.ReadTimeout = timeout
		c.receiver.WriteTimeout = timeout
	}
}

// WithReceiverAddress sets the receiver address.
func WithReceiverAddress(addr string) Option {
	return func(c *Client) {
		c.receiver.Addr = addr
	}
}

// WithRootCerts sets the PEM encoded CA certificates trusted when
// forwarding to an https target.
func WithRootCerts(pem string) Option {
	return func(c *Client) {
		c.rootCerts = pem
	}
}

// WithVerbose logs every translated batch before it is forwarded.
func WithVerbose(verbose bool) Option {
	return func(c *Client) {
		c.verbose = verbose
	}
}

// WithLogger configures a custom zap logger to be used by
// the client.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithMetrics sets the collectors updated by the client.
func WithMetrics(m *Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}
