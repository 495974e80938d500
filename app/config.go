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
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"go.uber.org/zap"
)

type appConfig struct {
	awsConfig *aws.Config
	logger    *zap.SugaredLogger
	logLevel  string
	verbose   bool

	listenAddress    string
	receiverTimeout  time.Duration
	forwarderTimeout time.Duration
	metricsAddress   string

	influxScheme           string
	influxHost             string
	influxPort             int
	influxDB               string
	influxUser             string
	influxPassword         string
	influxPasswordSecretID string
	caCertFile             string
	caCertACMID            string
}

// ConfigOption is used to configure the proxy.
type ConfigOption func(*appConfig)

// WithLogLevel sets the log level.
func WithLogLevel(level string) ConfigOption {
	return func(c *appConfig) {
		c.logLevel = level
	}
}

// WithLogger replaces the logger built from the log level.
func WithLogger(logger *zap.SugaredLogger) ConfigOption {
	return func(c *appConfig) {
		c.logger = logger
	}
}

// WithVerbose logs every batch pushed to InfluxDB.
func WithVerbose(verbose bool) ConfigOption {
	return func(c *appConfig) {
		c.verbose = verbose
	}
}

// WithListenAddress sets the host:port collectd posts batches to.
func WithListenAddress(addr string) ConfigOption {
	return func(c *appConfig) {
		c.listenAddress = addr
	}
}

// WithReceiverTimeout sets the read and write timeout of the receiver.
func WithReceiverTimeout(d time.Duration) ConfigOption {
	return func(c *appConfig) {
		c.receiverTimeout = d
	}
}

// WithForwarderTimeout bounds each request to InfluxDB.
func WithForwarderTimeout(d time.Duration) ConfigOption {
	return func(c *appConfig) {
		c.forwarderTimeout = d
	}
}

// WithMetricsAddress enables the prometheus endpoint on addr.
func WithMetricsAddress(addr string) ConfigOption {
	return func(c *appConfig) {
		c.metricsAddress = addr
	}
}

// WithInfluxDB sets the InfluxDB endpoint and database. An empty scheme
// means http.
func WithInfluxDB(scheme, host string, port int, db string) ConfigOption {
	return func(c *appConfig) {
		c.influxScheme = scheme
		c.influxHost = host
		c.influxPort = port
		c.influxDB = db
	}
}

// WithCredentials sets the InfluxDB user and password.
func WithCredentials(user, password string) ConfigOption {
	return func(c *appConfig) {
		c.influxUser = user
		c.influxPassword = password
	}
}

// WithPasswordSecret reads the InfluxDB password from AWS Secrets Manager.
// It takes precedence over the password given to WithCredentials.
func WithPasswordSecret(secretID string) ConfigOption {
	return func(c *appConfig) {
		c.influxPasswordSecretID = secretID
	}
}

// WithCACertFile trusts the PEM certificates in path for https targets.
func WithCACertFile(path string) ConfigOption {
	return func(c *appConfig) {
		c.caCertFile = path
	}
}

// WithCACertACM trusts the certificate with the given ARN from AWS
// Certificate Manager for https targets.
func WithCACertACM(arn string) ConfigOption {
	return func(c *appConfig) {
		c.caCertACMID = arn
	}
}

// WithAWSConfig sets the AWS config. Without it the default config
// chain is loaded, and only if an AWS feature is used.
func WithAWSConfig(awsConfig aws.Config) ConfigOption {
	return func(c *appConfig) {
		c.awsConfig = &awsConfig
	}
}
