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
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/collectd-bridge/collectd-influxdb-proxy/collectd"
	"github.com/collectd-bridge/collectd-influxdb-proxy/lineprotocol"

	"github.com/google/uuid"
	"go.elastic.co/fastjson"
	"go.uber.org/zap"
)

// StartReceiver starts the server listening for collectd batches. Every
// request, whatever its method or path, is handled as a batch.
func (c *Client) StartReceiver() error {
	c.receiver.Handler = http.HandlerFunc(c.handleBatch())

	ln, err := net.Listen("tcp", c.receiver.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on addr %s: %w", c.receiver.Addr, err)
	}
	c.listenAddr = ln.Addr().String()
	c.serveDone = make(chan struct{})

	c.logger.Infof("Proxy listening for collectd data on %s", c.listenAddr)
	go func() {
		defer close(c.serveDone)
		if err := c.receiver.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Errorf("received error from http.Serve(): %v", err)
		} else {
			c.logger.Debug("server closed")
		}
	}()
	return nil
}

// ReceiverAddr returns the address the receiver is bound to. It is only
// set once StartReceiver has returned.
func (c *Client) ReceiverAddr() string {
	return c.listenAddr
}

// Shutdown stops accepting batches and waits for in-flight forwards to
// complete, giving up when ctx is done.
func (c *Client) Shutdown(ctx context.Context) error {
	if err := c.receiver.Shutdown(ctx); err != nil {
		return err
	}
	if c.serveDone != nil {
		<-c.serveDone
	}

	done := make(chan struct{})
	go func() {
		c.inFlight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		c.logger.Warn("Shutdown deadline reached with forwards still in flight")
		return ctx.Err()
	}
}

func (c *Client) handleBatch() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		log := c.logger.With("request.id", uuid.New().String())
		log.Debugf("Handling collectd batch: %s %s", r.Method, r.URL.Path)

		c.metrics.batchesReceived.Inc()

		rawBytes, err := io.ReadAll(r.Body)
		defer r.Body.Close()
		if err != nil {
			log.Warnf("Could not read collectd request body: %v", err)
			c.reject(w, log, err)
			return
		}

		batch, err := collectd.ParseBatch(rawBytes)
		if err != nil {
			log.Warnf("Rejecting collectd batch: %v", err)
			c.reject(w, log, err)
			return
		}

		blob, err := lineprotocol.Translate(batch)
		if err != nil {
			log.Warnf("Failed to translate collectd batch: %v", err)
			c.reject(w, log, err)
			return
		}

		// The acknowledgment only means the batch was received. It must
		// reach the client before the forward starts.
		w.WriteHeader(http.StatusOK)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}

		c.metrics.linesTranslated.Add(float64(lineprotocol.LineCount(blob)))

		if c.verbose {
			log.Infof("Push metrics:\n%s", blob)
		}

		if len(blob) == 0 {
			log.Debug("No accepted data source in batch, nothing to forward")
			c.metrics.forwards.WithLabelValues(OutcomeSkipped).Inc()
			return
		}

		c.forwardInBackground(context.WithoutCancel(r.Context()), log, blob)
	}
}

// forwardInBackground relays blob to InfluxDB in a detached goroutine. Its
// outcome is only logged and counted.
func (c *Client) forwardInBackground(ctx context.Context, log *zap.SugaredLogger, blob []byte) {
	c.inFlight.Add(1)
	c.metrics.forwardsActive.Inc()

	go func() {
		defer c.inFlight.Done()
		defer c.metrics.forwardsActive.Dec()

		err := c.Forward(ctx, blob)
		if err == nil {
			c.metrics.forwards.WithLabelValues(OutcomeSuccess).Inc()
			log.Debugf("Forwarded %d lines to InfluxDB", lineprotocol.LineCount(blob))
			return
		}

		var fwdErr *ForwardError
		if errors.As(err, &fwdErr) && fwdErr.Kind == KindRejected {
			c.metrics.forwards.WithLabelValues(OutcomeRejected).Inc()
		} else {
			c.metrics.forwards.WithLabelValues(OutcomeTransportError).Inc()
		}
		log.Errorf("Error forwarding batch to InfluxDB: %v", err)
	}()
}

// reject answers a batch that cannot be translated with 400 and an
// InfluxDB style {"error": "..."} body.
func (c *Client) reject(w http.ResponseWriter, log *zap.SugaredLogger, cause error) {
	c.metrics.batchesRejected.Inc()

	var jw fastjson.Writer
	jw.RawString(`{"error":`)
	jw.String(cause.Error())
	jw.RawByte('}')

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	if _, err := w.Write(jw.Bytes()); err != nil {
		log.Errorf("Failed to send rejection response to collectd: %v", err)
	}
}
