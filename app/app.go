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

package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/collectd-bridge/collectd-influxdb-proxy/influxproxy"
	"github.com/collectd-bridge/collectd-influxdb-proxy/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.elastic.co/ecszap"
	"go.uber.org/zap"
)

const (
	defaultInfluxHost = "localhost"
	defaultInfluxPort = 8086
)

// App is the main application.
type App struct {
	proxy         *influxproxy.Client
	metricsServer *http.Server
	metricsAddr   string
	logger        *zap.SugaredLogger
}

// New returns an App or an error if the creation failed.
func New(ctx context.Context, opts ...ConfigOption) (*App, error) {
	c := appConfig{
		influxHost: defaultInfluxHost,
		influxPort: defaultInfluxPort,
	}

	for _, opt := range opts {
		opt(&c)
	}

	app := &App{logger: c.logger}

	if app.logger == nil {
		l, err := buildLogger(c.logLevel)
		if err != nil {
			return nil, err
		}
		app.logger = l
	}

	if c.influxUser == "" {
		return nil, errors.New("InfluxDB user cannot be empty")
	}

	lazyCfg := lazyAWSConfig(ctx, c.awsConfig)

	password := c.influxPassword
	if c.influxPasswordSecretID != "" {
		p, err := loadPasswordSecret(ctx, lazyCfg, c.influxPasswordSecretID)
		if err != nil {
			return nil, fmt.Errorf("could not load InfluxDB password from AWS Secrets Manager (secret %s): %w", c.influxPasswordSecretID, err)
		}
		app.logger.Infof("Using the InfluxDB password retrieved from AWS Secrets Manager.")
		password = p
	}
	if password == "" {
		return nil, errors.New("InfluxDB password cannot be empty")
	}

	target, err := influxproxy.NewTarget(c.influxScheme, c.influxHost, c.influxPort, c.influxDB, c.influxUser, password)
	if err != nil {
		return nil, err
	}
	app.logger.Infof("Host : %s:%d", target.Host(), target.Port())
	app.logger.Infof("Forwarding to %s", target.Redacted())

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	proxyOpts := []influxproxy.Option{
		influxproxy.WithTarget(target),
		influxproxy.WithLogger(app.logger),
		influxproxy.WithVerbose(c.verbose),
		influxproxy.WithMetrics(influxproxy.NewMetrics(registry)),
	}

	if c.listenAddress != "" {
		proxyOpts = append(proxyOpts, influxproxy.WithReceiverAddress(c.listenAddress))
	}

	if c.receiverTimeout > 0 {
		proxyOpts = append(proxyOpts, influxproxy.WithReceiverTimeout(c.receiverTimeout))
	}

	if c.forwarderTimeout > 0 {
		proxyOpts = append(proxyOpts, influxproxy.WithForwarderTimeout(c.forwarderTimeout))
	}

	if c.caCertFile != "" {
		cert, err := os.ReadFile(c.caCertFile)
		if err != nil {
			return nil, err
		}
		app.logger.Infof("Using CA certificate loaded from file %s", c.caCertFile)
		proxyOpts = append(proxyOpts, influxproxy.WithRootCerts(string(cert)))
	}

	if c.caCertACMID != "" {
		cert, err := loadACMCertificate(ctx, lazyCfg, c.caCertACMID)
		if err != nil {
			return nil, err
		}
		app.logger.Infof("Using CA certificate %s", c.caCertACMID)
		proxyOpts = append(proxyOpts, influxproxy.WithRootCerts(cert))
	}

	if app.proxy, err = influxproxy.NewClient(proxyOpts...); err != nil {
		return nil, err
	}

	if c.metricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		app.metricsServer = &http.Server{
			Addr:              c.metricsAddress,
			Handler:           mux,
			ReadHeaderTimeout: defaultMetricsTimeout,
		}
	}

	return app, nil
}

func buildLogger(level string) (*zap.SugaredLogger, error) {
	l, err := logger.ParseLogLevel(level)
	if err != nil {
		return nil, err
	}

	return logger.New(
		logger.WithEncoderConfig(ecszap.NewDefaultEncoderConfig().ToZapCoreEncoderConfig()),
		logger.WithLevel(l),
	)
}
