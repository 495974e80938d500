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
	"net"
	"net/http"
	"time"
)

const (
	defaultMetricsTimeout = 5 * time.Second
	shutdownTimeout       = 5 * time.Second
)

// Run starts the proxy and blocks until ctx is done, then drains
// in-flight forwards before returning.
func (app *App) Run(ctx context.Context) error {
	if err := app.Start(); err != nil {
		return err
	}

	<-ctx.Done()
	app.logger.Info("Received a signal, exiting...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return app.Shutdown(shutdownCtx)
}

// Start starts the collectd receiver and, if configured, the metrics
// endpoint. It does not block.
func (app *App) Start() error {
	if err := app.proxy.StartReceiver(); err != nil {
		return fmt.Errorf("failed to start the collectd receiver: %w", err)
	}

	if app.metricsServer == nil {
		return nil
	}

	ln, err := net.Listen("tcp", app.metricsServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on metrics addr %s: %w", app.metricsServer.Addr, err)
	}
	app.metricsAddr = ln.Addr().String()

	app.logger.Infof("Serving metrics on %s", app.metricsAddr)
	go func() {
		if err := app.metricsServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Errorf("metrics server failed: %v", err)
		}
	}()
	return nil
}

// Shutdown stops both listeners and waits for in-flight forwards.
func (app *App) Shutdown(ctx context.Context) error {
	var metricsErr error
	if app.metricsServer != nil {
		metricsErr = app.metricsServer.Shutdown(ctx)
	}

	if err := app.proxy.Shutdown(ctx); err != nil {
		app.logger.Warnf("Error while shutting down the collectd receiver: %v", err)
		return err
	}
	return metricsErr
}

// ReceiverAddr returns the address collectd batches are accepted on.
func (app *App) ReceiverAddr() string {
	return app.proxy.ReceiverAddr()
}

// MetricsAddr returns the address of the metrics endpoint, or "" when it
// is disabled.
func (app *App) MetricsAddr() string {
	return app.metricsAddr
}
