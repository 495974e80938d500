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
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	defaultReceiverTimeout time.Duration = 15 * time.Second
	defaultReceiverAddr                  = "0.0.0.0:25826"
)

// Client receives collectd batches over HTTP and forwards their line
// protocol translation to InfluxDB.
type Client struct {
	mu     sync.RWMutex
	status Status

	target    *Target
	client    *http.Client
	receiver  *http.Server
	rootCerts string
	verbose   bool
	logger    *zap.SugaredLogger
	metrics   *Metrics

	listenAddr string
	serveDone  chan struct{}
	inFlight   sync.WaitGroup
}

// NewClient returns a Client configured by opts. A target and a logger
// are required.
func NewClient(opts ...Option) (*Client, error) {
	c := Client{
		status: Started,
		client: &http.Client{
			Transport: http.DefaultTransport.(*http.Transport).Clone(),
		},
		receiver: &http.Server{
			Addr:           defaultReceiverAddr,
			ReadTimeout:    defaultReceiverTimeout,
			WriteTimeout:   defaultReceiverTimeout,
			MaxHeaderBytes: 1 << 20,
		},
	}

	for _, opt := range opts {
		opt(&c)
	}

	if c.target == nil {
		return nil, errors.New("InfluxDB target cannot be empty")
	}

	if c.logger == nil {
		return nil, errors.New("logger cannot be empty")
	}

	if c.rootCerts != "" {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM([]byte(c.rootCerts)) {
			return nil, errors.New("no valid CA certificate found in PEM data")
		}
		transport := c.client.Transport.(*http.Transport)
		transport.TLSClientConfig = &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
	}

	if c.metrics == nil {
		c.metrics = NewMetrics(prometheus.NewRegistry())
	}

	return &c, nil
}

// Target returns the InfluxDB endpoint the client forwards to.
func (c *Client) Target() *Target {
	return c.target
}
