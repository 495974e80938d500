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
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"testing/iotest"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

const (
	cpuBatch     = `[{"values":[42],"dstypes":["gauge"],"dsnames":["value"],"time":1434650110.543,"interval":10.000,"host":"h1","plugin":"cpu","plugin_instance":"","type":"usage","type_instance":""}]`
	cpuBatchLine = "cpu.usage.value,host=h1 value=42\n"
)

type forwardedRequest struct {
	method string
	path   string
	query  url.Values
	header http.Header
	body   string
}

// targetFor returns a Target pointing at srv.
func targetFor(t *testing.T, srv *httptest.Server) *Target {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	host, rawPort, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(rawPort)
	require.NoError(t, err)

	target, err := NewTarget(u.Scheme, host, port, "collectd", "root", "s3cret")
	require.NoError(t, err)
	return target
}

// newRecordingInflux returns an InfluxDB stand-in that answers with status
// and publishes every request it receives on the returned channel.
func newRecordingInflux(t *testing.T, status int, body string) (*httptest.Server, <-chan forwardedRequest) {
	t.Helper()
	requests := make(chan forwardedRequest, 10)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		requests <- forwardedRequest{
			method: r.Method,
			path:   r.URL.Path,
			query:  r.URL.Query(),
			header: r.Header.Clone(),
			body:   string(b),
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, requests
}

func startTestClient(t *testing.T, target *Target, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{
		WithTarget(target),
		// Use ipv4 to avoid issues in CI
		WithReceiverAddress("127.0.0.1:0"),
		WithLogger(zaptest.NewLogger(t).Sugar()),
		WithMetrics(NewMetrics(prometheus.NewRegistry())),
	}, opts...)

	c, err := NewClient(opts...)
	require.NoError(t, err)
	require.NoError(t, c.StartReceiver())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, c.Shutdown(ctx))
	})
	return c
}

func postBatch(t *testing.T, c *Client, path, body string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Post("http://"+c.ReceiverAddr()+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(b)
}

func receive(t *testing.T, ch <-chan forwardedRequest) forwardedRequest {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		require.FailNow(t, "timed out waiting for the forward request")
	}
	return forwardedRequest{}
}

func forwards(c *Client, outcome string) float64 {
	return testutil.ToFloat64(c.metrics.forwards.WithLabelValues(outcome))
}

func TestClientOptions(t *testing.T) {
	influx, _ := newRecordingInflux(t, http.StatusNoContent, "")
	c, err := NewClient(
		WithTarget(targetFor(t, influx)),
		WithLogger(zaptest.NewLogger(t).Sugar()),
		WithReceiverTimeout(3*time.Second),
		WithForwarderTimeout(2*time.Second),
	)
	require.NoError(t, err)

	assert.Equal(t, defaultReceiverAddr, c.receiver.Addr)
	assert.Equal(t, 3*time.Second, c.receiver.ReadTimeout)
	assert.Equal(t, 3*time.Second, c.receiver.WriteTimeout)
	assert.Equal(t, 2*time.Second, c.client.Timeout)
	assert.NotNil(t, c.metrics)
}

func TestReceiverForwardsBatch(t *testing.T) {
	influx, requests := newRecordingInflux(t, http.StatusNoContent, "")
	c := startTestClient(t, targetFor(t, influx))

	resp, body := postBatch(t, c, "/collectd", cpuBatch)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, body)

	fwd := receive(t, requests)
	assert.Equal(t, http.MethodPost, fwd.method)
	assert.Equal(t, "/write", fwd.path)
	assert.Equal(t, "root", fwd.query.Get("u"))
	assert.Equal(t, "s3cret", fwd.query.Get("p"))
	assert.Equal(t, "collectd", fwd.query.Get("db"))
	assert.Equal(t, cpuBatchLine, fwd.body)
	assert.Contains(t, fwd.header.Get("User-Agent"), "collectd-influxdb-proxy/")

	assert.Eventually(t, func() bool {
		return forwards(c, OutcomeSuccess) == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, Healthy, c.Status())
	assert.Equal(t, float64(1), testutil.ToFloat64(c.metrics.batchesReceived))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.metrics.linesTranslated))
}

func TestReceiverAcceptsAnyMethodAndPath(t *testing.T) {
	influx, requests := newRecordingInflux(t, http.StatusNoContent, "")
	c := startTestClient(t, targetFor(t, influx))

	req, err := http.NewRequest(http.MethodPut, "http://"+c.ReceiverAddr()+"/some/where?x=1", strings.NewReader(cpuBatch))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, cpuBatchLine, receive(t, requests).body)
}

func TestReceiverAcksBeforeForward(t *testing.T) {
	forwardStarted := make(chan struct{})
	release := make(chan struct{})
	var released atomic.Bool
	influx := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(forwardStarted)
		<-release
		w.WriteHeader(http.StatusNoContent)
	}))
	// Unblock the handler before closing the server.
	defer influx.Close()
	defer func() {
		if released.CompareAndSwap(false, true) {
			close(release)
		}
	}()

	c := startTestClient(t, targetFor(t, influx))

	// The forward is held by the destination, so the acknowledgment can
	// only arrive if it does not wait for it.
	resp, _ := postBatch(t, c, "/", cpuBatch)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(0), forwards(c, OutcomeSuccess))

	select {
	case <-forwardStarted:
	case <-time.After(5 * time.Second):
		require.FailNow(t, "forward was never attempted")
	}
	assert.Equal(t, float64(1), testutil.ToFloat64(c.metrics.forwardsActive))

	released.Store(true)
	close(release)
	assert.Eventually(t, func() bool {
		return forwards(c, OutcomeSuccess) == 1
	}, 5*time.Second, 10*time.Millisecond)
}

// ackRecorder notes when the handler acknowledges the request.
type ackRecorder struct {
	*httptest.ResponseRecorder
	acked atomic.Bool
}

func (r *ackRecorder) WriteHeader(code int) {
	r.acked.Store(true)
	r.ResponseRecorder.WriteHeader(code)
}

func (r *ackRecorder) Flush() {
	r.acked.Store(true)
	r.ResponseRecorder.Flush()
}

func TestHandlerAcksBeforeForwardStarts(t *testing.T) {
	rec := &ackRecorder{ResponseRecorder: httptest.NewRecorder()}
	ackedAtForward := make(chan bool, 1)
	influx := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ackedAtForward <- rec.acked.Load()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer influx.Close()

	c, err := NewClient(
		WithTarget(targetFor(t, influx)),
		WithLogger(zaptest.NewLogger(t).Sugar()),
		WithMetrics(NewMetrics(prometheus.NewRegistry())),
	)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(cpuBatch))
	c.handleBatch()(rec, req)

	select {
	case acked := <-ackedAtForward:
		assert.True(t, acked, "forward reached InfluxDB before the collectd request was acknowledged")
	case <-time.After(5 * time.Second):
		require.FailNow(t, "forward was never attempted")
	}
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, rec.Flushed)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Shutdown(ctx))
	assert.Equal(t, float64(1), forwards(c, OutcomeSuccess))
}

func TestHandlerBodyReadFailure(t *testing.T) {
	influx, _ := newRecordingInflux(t, http.StatusNoContent, "")
	c, err := NewClient(
		WithTarget(targetFor(t, influx)),
		WithLogger(zaptest.NewLogger(t).Sugar()),
		WithMetrics(NewMetrics(prometheus.NewRegistry())),
	)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", iotest.ErrReader(errors.New("connection reset")))
	c.handleBatch()(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "connection reset", gjson.Get(rec.Body.String(), "error").String())
	assert.Equal(t, float64(1), testutil.ToFloat64(c.metrics.batchesReceived))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.metrics.batchesRejected))
	assert.Equal(t, float64(0), testutil.ToFloat64(c.metrics.forwardsActive))
}

func TestReceiverRejectsMalformedBatch(t *testing.T) {
	var hits atomic.Int32
	influx := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer influx.Close()

	c := startTestClient(t, targetFor(t, influx))

	mismatched, err := sjson.Set(cpuBatch, "0.values.-1", 43)
	require.NoError(t, err)

	for name, body := range map[string]string{
		"not json":        "plugin=cpu",
		"not an array":    `{"plugin":"cpu"}`,
		"length mismatch": mismatched,
	} {
		t.Run(name, func(t *testing.T) {
			resp, respBody := postBatch(t, c, "/", body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
			assert.Contains(t, gjson.Get(respBody, "error").String(), "malformed batch")
		})
	}

	// A valid batch afterwards still goes through.
	resp, _ := postBatch(t, c, "/", cpuBatch)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Eventually(t, func() bool {
		return hits.Load() == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, float64(3), testutil.ToFloat64(c.metrics.batchesRejected))
}

func TestReceiverSkipsEmptyForward(t *testing.T) {
	var hits atomic.Int32
	influx := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer influx.Close()

	c := startTestClient(t, targetFor(t, influx))

	unknown, err := sjson.Set(cpuBatch, "0.dstypes.0", "absolute")
	require.NoError(t, err)

	for _, body := range []string{`[]`, unknown} {
		resp, _ := postBatch(t, c, "/", body)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	}

	assert.Equal(t, float64(2), forwards(c, OutcomeSkipped))
	assert.Equal(t, int32(0), hits.Load())
}

func TestReceiverTransportFailureIsIsolated(t *testing.T) {
	var attempts atomic.Int32
	requests := make(chan string, 10)
	influx := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			// Drop the connection without answering.
			conn, _, err := w.(http.Hijacker).Hijack()
			if assert.NoError(t, err) {
				assert.NoError(t, conn.Close())
			}
			return
		}
		b, _ := io.ReadAll(r.Body)
		requests <- string(b)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer influx.Close()

	c := startTestClient(t, targetFor(t, influx))

	resp, _ := postBatch(t, c, "/", cpuBatch)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Eventually(t, func() bool {
		return forwards(c, OutcomeTransportError) == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, Failing, c.Status())

	second, err := sjson.Set(cpuBatch, "0.host", "h2")
	require.NoError(t, err)
	resp, _ = postBatch(t, c, "/", second)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	select {
	case body := <-requests:
		assert.Equal(t, "cpu.usage.value,host=h2 value=42\n", body)
	case <-time.After(5 * time.Second):
		require.FailNow(t, "second batch was not forwarded")
	}
	assert.Eventually(t, func() bool {
		return forwards(c, OutcomeSuccess) == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, Healthy, c.Status())
}

func TestReceiverDestinationUnreachable(t *testing.T) {
	influx := httptest.NewServer(http.NotFoundHandler())
	target := targetFor(t, influx)
	influx.Close()

	c := startTestClient(t, target)

	for i := 0; i < 2; i++ {
		resp, body := postBatch(t, c, "/", cpuBatch)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Empty(t, body)
	}
	assert.Eventually(t, func() bool {
		return forwards(c, OutcomeTransportError) == 2
	}, 5*time.Second, 10*time.Millisecond)
}

func TestReceiverDestinationRejects(t *testing.T) {
	influx, requests := newRecordingInflux(t, http.StatusBadRequest, `{"error":"unable to parse 'cpu.usage.value,host=h1 value=': missing field value"}`)
	c := startTestClient(t, targetFor(t, influx))

	resp, _ := postBatch(t, c, "/", cpuBatch)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	receive(t, requests)

	assert.Eventually(t, func() bool {
		return forwards(c, OutcomeRejected) == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, Rejecting, c.Status())
}

func TestReceiverVerbose(t *testing.T) {
	influx, requests := newRecordingInflux(t, http.StatusNoContent, "")

	core, logs := observer.New(zapcore.InfoLevel)
	c := startTestClient(t, targetFor(t, influx),
		WithLogger(zap.New(core).Sugar()),
		WithVerbose(true),
	)

	resp, _ := postBatch(t, c, "/", cpuBatch)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	receive(t, requests)

	pushed := logs.FilterMessageSnippet("Push metrics")
	require.Equal(t, 1, pushed.Len())
	entry := pushed.All()[0]
	assert.Contains(t, entry.Message, cpuBatchLine)
	assert.Contains(t, entry.ContextMap(), "request.id")
}

func TestShutdownWaitsForInFlightForwards(t *testing.T) {
	release := make(chan struct{})
	var done atomic.Bool
	influx := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		done.Store(true)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer influx.Close()

	c, err := NewClient(
		WithTarget(targetFor(t, influx)),
		WithReceiverAddress("127.0.0.1:0"),
		WithLogger(zaptest.NewLogger(t).Sugar()),
	)
	require.NoError(t, err)
	require.NoError(t, c.StartReceiver())

	resp, _ := postBatch(t, c, "/", cpuBatch)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	go func() {
		time.Sleep(100 * time.Millisecond)
		close(release)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Shutdown(ctx))
	assert.True(t, done.Load())
}
