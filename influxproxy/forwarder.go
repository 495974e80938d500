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
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/collectd-bridge/collectd-influxdb-proxy/version"
	"github.com/tidwall/gjson"
)

// maxErrorBodySize caps how much of an InfluxDB error response is read.
const maxErrorBodySize = 64 << 10

// ForwardErrorKind classifies a failed forward.
type ForwardErrorKind string

const (
	// KindTransport means the request did not get a response: the
	// connection was refused, reset or timed out.
	KindTransport ForwardErrorKind = "transport"

	// KindRejected means InfluxDB answered with a 4xx or 5xx status.
	KindRejected ForwardErrorKind = "rejected"
)

// ForwardError is returned by Forward. It never reaches the collectd
// client, which was acknowledged before the forward started.
type ForwardError struct {
	Kind       ForwardErrorKind
	StatusCode int
	Message    string
	Err        error
}

func (e *ForwardError) Error() string {
	if e.Kind == KindRejected {
		if e.Message == "" {
			return fmt.Sprintf("request refused by InfluxDB: status %d", e.StatusCode)
		}
		return fmt.Sprintf("request refused by InfluxDB: status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("failed to post to InfluxDB: %v", e.Err)
}

func (e *ForwardError) Unwrap() error {
	return e.Err
}

// Forward posts blob to the target in a single request. A response status
// of 400 or above is reported as a rejected ForwardError.
func (c *Client) Forward(ctx context.Context, blob []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.target.URL(), bytes.NewReader(blob))
	if err != nil {
		return fmt.Errorf("failed to create a new request when posting to InfluxDB: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	req.Header.Set("User-Agent", version.UserAgent)

	c.logger.Debugf("Sending %d bytes to %s", len(blob), c.target.Redacted())
	resp, err := c.client.Do(req)
	if err != nil {
		c.UpdateStatus(Failing)
		return &ForwardError{Kind: KindTransport, Err: stripURL(err)}
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode >= http.StatusBadRequest {
		c.UpdateStatus(Rejecting)
		return &ForwardError{
			Kind:       KindRejected,
			StatusCode: resp.StatusCode,
			Message:    readErrorMessage(resp.Body),
		}
	}

	c.UpdateStatus(Healthy)
	return nil
}

// stripURL drops the request URL from transport errors since it carries
// the InfluxDB password.
func stripURL(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf("%s: %w", strings.ToLower(urlErr.Op), urlErr.Err)
	}
	return err
}

// readErrorMessage extracts the "error" field InfluxDB puts in its error
// responses, falling back to the raw body.
func readErrorMessage(body io.Reader) string {
	b, err := io.ReadAll(io.LimitReader(body, maxErrorBodySize))
	if err != nil {
		return fmt.Sprintf("failed to read response body: %v", err)
	}

	if gjson.ValidBytes(b) {
		if msg := gjson.GetBytes(b, "error"); msg.Type == gjson.String {
			return msg.Str
		}
	}
	return strings.TrimSpace(string(b))
}
