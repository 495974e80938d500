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

// Package logger builds the ECS-formatted zap logger used throughout the proxy.
package logger

import (
	"fmt"
	"strings"

	"go.elastic.co/ecszap"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a logger.
func New(opts ...Option) (*zap.SugaredLogger, error) {
	conf := zap.NewProductionConfig()
	// Every forward failure must reach the log.
	conf.Sampling = nil

	for _, opt := range opts {
		opt(&conf)
	}

	logger, err := conf.Build(ecszap.WrapCoreOption(), zap.AddCaller())
	if err != nil {
		return nil, err
	}

	return logger.Sugar(), nil
}

// levels maps the names accepted by --log_level to zap levels. "off"
// sits above fatal so nothing is ever written.
var levels = map[string]zapcore.Level{
	"":         zapcore.InfoLevel,
	"trace":    zapcore.DebugLevel,
	"debug":    zapcore.DebugLevel,
	"info":     zapcore.InfoLevel,
	"warn":     zapcore.WarnLevel,
	"warning":  zapcore.WarnLevel,
	"error":    zapcore.ErrorLevel,
	"critical": zapcore.FatalLevel,
	"off":      zapcore.FatalLevel + 1,
}

// ParseLogLevel parses a --log_level value. Names are case insensitive
// and an empty name selects info.
func ParseLogLevel(s string) (zapcore.Level, error) {
	if l, ok := levels[strings.ToLower(strings.TrimSpace(s))]; ok {
		return l, nil
	}
	return zapcore.InfoLevel, fmt.Errorf("invalid log level %q: expected one of trace, debug, info, warning, error, critical or off", s)
}
