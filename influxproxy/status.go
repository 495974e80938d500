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

// Status is the outcome of the most recent forward to InfluxDB. It is
// informational only: forwards are never retried or held back based on it.
type Status string

const (
	// Started means no forward has completed yet.
	Started Status = "Started"

	// Healthy means the last forward was accepted by InfluxDB.
	Healthy Status = "Healthy"

	// Failing means the last forward could not reach InfluxDB.
	Failing Status = "Failing"

	// Rejecting means InfluxDB answered the last forward with an
	// error status.
	Rejecting Status = "Rejecting"
)

// Status returns the outcome of the most recent forward.
func (c *Client) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// UpdateStatus records the outcome of a forward. Only transitions are
// logged.
func (c *Client) UpdateStatus(status Status) {
	switch status {
	case Healthy, Failing, Rejecting:
	default:
		c.logger.Errorf("Cannot set InfluxDB transport status to %s", status)
		return
	}

	// Reduce lock contention as UpdateStatus is called after every forward.
	c.mu.RLock()
	if status == c.status {
		c.mu.RUnlock()
		return
	}
	c.mu.RUnlock()

	c.mu.Lock()
	prev := c.status
	c.status = status
	c.mu.Unlock()

	switch {
	case prev == status:
	case status == Healthy && prev == Started:
		c.logger.Debugf("InfluxDB transport status set to %s", status)
	case status == Healthy:
		c.logger.Infof("InfluxDB transport recovered: status %s -> %s", prev, status)
	default:
		c.logger.Warnf("InfluxDB transport status set to %s (was %s)", status, prev)
	}
}
