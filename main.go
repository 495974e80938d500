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

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/collectd-bridge/collectd-influxdb-proxy/app"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

const envPrefix = "COLLECTD_PROXY_"

// errUsage asks main to print the usage text and exit with status 1.
var errUsage = errors.New("usage")

type cliConfig struct {
	proxyAddress     string
	proxyPort        int
	influxHost       string
	influxPort       int
	influxDB         string
	influxUser       string
	influxPassword   string
	influxSSL        bool
	passwordSecretID string
	caCertFile       string
	caCertACMID      string
	forwarderTimeout time.Duration
	receiverTimeout  time.Duration
	metricsAddress   string
	logLevel         string
	verbose          bool
	envFile          string
}

func main() {
	if err := mainWithError(); err != nil {
		log.Fatal(err)
	}
}

func mainWithError() error {
	// Global context
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	cfg, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, errUsage) {
			os.Exit(1)
		}
		return err
	}

	application, err := app.New(ctx, cfg.options()...)
	if err != nil {
		return fmt.Errorf("failed to create the app: %w", err)
	}

	if err := application.Run(ctx); err != nil {
		return fmt.Errorf("error while running: %w", err)
	}

	return nil
}

func newFlagSet(cfg *cliConfig) *pflag.FlagSet {
	flagSet := pflag.NewFlagSet("collectd-influxdb-proxy", pflag.ContinueOnError)
	flagSet.StringVar(&cfg.proxyAddress, "proxy_http_address", "0.0.0.0", "proxy http address")
	flagSet.IntVar(&cfg.proxyPort, "proxy_http_port", 25826, "proxy http port")
	flagSet.StringVar(&cfg.influxHost, "influxdb_host", "localhost", "influxdb host")
	flagSet.IntVar(&cfg.influxPort, "influxdb_port", 8086, "influxdb port")
	flagSet.StringVar(&cfg.influxDB, "influxdb_db", "", "influxdb db (required)")
	flagSet.StringVar(&cfg.influxUser, "influxdb_user", "", "influxdb user (required)")
	flagSet.StringVar(&cfg.influxPassword, "influxdb_password", "", "influxdb password (required unless --influxdb_password_secret_id is set)")
	flagSet.BoolVar(&cfg.influxSSL, "influxdb_ssl", false, "forward to influxdb over https")
	flagSet.StringVar(&cfg.passwordSecretID, "influxdb_password_secret_id", "", "AWS Secrets Manager secret holding the influxdb password")
	flagSet.StringVar(&cfg.caCertFile, "influxdb_ca_cert_file", "", "PEM file with the CA certificates trusted for https")
	flagSet.StringVar(&cfg.caCertACMID, "influxdb_ca_cert_acm_id", "", "ARN of an AWS Certificate Manager certificate trusted for https")
	flagSet.DurationVar(&cfg.forwarderTimeout, "forwarder_timeout", 0, "timeout of each request to influxdb (0 means no timeout)")
	flagSet.DurationVar(&cfg.receiverTimeout, "receiver_timeout", 15*time.Second, "read and write timeout of inbound requests")
	flagSet.StringVar(&cfg.metricsAddress, "metrics_address", "", "serve prometheus metrics on this address (disabled if empty)")
	flagSet.StringVar(&cfg.logLevel, "log_level", "info", "log level: trace, debug, info, warning, error, critical or off")
	flagSet.BoolVar(&cfg.verbose, "verbose", false, "display metrics pushed into influxdb")
	flagSet.StringVar(&cfg.envFile, "env_file", "", "load "+envPrefix+"* variables from this dotenv file")
	flagSet.BoolP("help", "h", false, "this help")
	return flagSet
}

// parseFlags resolves the configuration from args, falling back to
// COLLECTD_PROXY_<FLAG> environment variables for flags not given on the
// command line.
func parseFlags(args []string, output io.Writer) (cliConfig, error) {
	var cfg cliConfig
	flagSet := newFlagSet(&cfg)
	flagSet.SetOutput(output)
	flagSet.Usage = func() {
		fmt.Fprintln(output, "collectd-influxdb-proxy [options]")
		fmt.Fprintln(output, "options :")
		flagSet.PrintDefaults()
	}

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return cfg, errUsage
		}
		return cfg, err
	}

	if help, _ := flagSet.GetBool("help"); help {
		flagSet.Usage()
		return cfg, errUsage
	}

	envFile := cfg.envFile
	if envFile == "" {
		envFile = os.Getenv(envPrefix + "ENV_FILE")
	}
	if envFile != "" {
		// Variables already set in the environment win over the file.
		if err := godotenv.Load(envFile); err != nil {
			return cfg, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	}

	var envErr error
	flagSet.VisitAll(func(f *pflag.Flag) {
		if envErr != nil || flagSet.Changed(f.Name) || f.Name == "help" {
			return
		}
		if v, ok := os.LookupEnv(envPrefix + strings.ToUpper(f.Name)); ok {
			if err := flagSet.Set(f.Name, v); err != nil {
				envErr = fmt.Errorf("invalid value for %s%s: %w", envPrefix, strings.ToUpper(f.Name), err)
			}
		}
	})
	if envErr != nil {
		return cfg, envErr
	}

	if missing := cfg.missingParams(); len(missing) > 0 {
		for _, name := range missing {
			fmt.Fprintf(output, "Missing param : %s\n", name)
		}
		flagSet.Usage()
		return cfg, errUsage
	}

	return cfg, nil
}

func (cfg cliConfig) missingParams() []string {
	var missing []string
	if cfg.influxDB == "" {
		missing = append(missing, "influxdb_db")
	}
	if cfg.influxUser == "" {
		missing = append(missing, "influxdb_user")
	}
	if cfg.influxPassword == "" && cfg.passwordSecretID == "" {
		missing = append(missing, "influxdb_password")
	}
	return missing
}

func (cfg cliConfig) options() []app.ConfigOption {
	scheme := "http"
	if cfg.influxSSL {
		scheme = "https"
	}

	opts := []app.ConfigOption{
		app.WithLogLevel(cfg.logLevel),
		app.WithVerbose(cfg.verbose),
		app.WithListenAddress(net.JoinHostPort(cfg.proxyAddress, strconv.Itoa(cfg.proxyPort))),
		app.WithReceiverTimeout(cfg.receiverTimeout),
		app.WithForwarderTimeout(cfg.forwarderTimeout),
		app.WithInfluxDB(scheme, cfg.influxHost, cfg.influxPort, cfg.influxDB),
		app.WithCredentials(cfg.influxUser, cfg.influxPassword),
	}

	if cfg.passwordSecretID != "" {
		opts = append(opts, app.WithPasswordSecret(cfg.passwordSecretID))
	}
	if cfg.caCertFile != "" {
		opts = append(opts, app.WithCACertFile(cfg.caCertFile))
	}
	if cfg.caCertACMID != "" {
		opts = append(opts, app.WithCACertACM(cfg.caCertACMID))
	}
	if cfg.metricsAddress != "" {
		opts = append(opts, app.WithMetricsAddress(cfg.metricsAddress))
	}

	return opts
}
