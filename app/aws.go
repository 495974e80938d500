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

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/acm"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/tidwall/gjson"
)

type secretGetter interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

type certificateGetter interface {
	GetCertificate(ctx context.Context, params *acm.GetCertificateInput, optFns ...func(*acm.Options)) (*acm.GetCertificateOutput, error)
}

// lazyAWSConfig returns a loader for the AWS config so that the default
// credential chain is only resolved when an AWS feature is enabled.
func lazyAWSConfig(ctx context.Context, cfg *aws.Config) func() (*aws.Config, error) {
	return func() (*aws.Config, error) {
		if cfg != nil {
			return cfg, nil
		}
		loaded, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS default config: %w", err)
		}
		cfg = &loaded
		return cfg, nil
	}
}

func loadPasswordSecret(ctx context.Context, lazyCfg func() (*aws.Config, error), secretID string) (string, error) {
	cfg, err := lazyCfg()
	if err != nil {
		return "", err
	}
	return loadSecret(ctx, secretsmanager.NewFromConfig(*cfg), secretID)
}

// loadSecret returns the current value of secretID. Secrets stored as a
// JSON object yield their "password" field.
func loadSecret(ctx context.Context, manager secretGetter, secretID string) (string, error) {
	input := &secretsmanager.GetSecretValueInput{
		SecretId:     aws.String(secretID),
		VersionStage: aws.String("AWSCURRENT"),
	}

	result, err := manager.GetSecretValue(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to retrieve secret value: %w", err)
	}

	var secret string
	switch {
	case result.SecretString != nil:
		secret = *result.SecretString
	case len(result.SecretBinary) != 0:
		secret = string(result.SecretBinary)
	default:
		return "", fmt.Errorf("secret %s has no value", secretID)
	}

	if gjson.Valid(secret) {
		if password := gjson.Get(secret, "password"); password.Type == gjson.String {
			return password.Str, nil
		}
	}
	return secret, nil
}

func loadACMCertificate(ctx context.Context, lazyCfg func() (*aws.Config, error), arn string) (string, error) {
	cfg, err := lazyCfg()
	if err != nil {
		return "", err
	}
	return fetchCertificate(ctx, acm.NewFromConfig(*cfg), arn)
}

func fetchCertificate(ctx context.Context, client certificateGetter, arn string) (string, error) {
	response, err := client.GetCertificate(ctx, &acm.GetCertificateInput{
		CertificateArn: aws.String(arn),
	})
	if err != nil {
		return "", fmt.Errorf("failed to get certificate %s: %w", arn, err)
	}
	if response.Certificate == nil {
		return "", errors.New("ACM returned an empty certificate")
	}

	// Include the chain so intermediates issued by a private CA verify.
	cert := *response.Certificate
	if response.CertificateChain != nil {
		cert += "\n" + *response.CertificateChain
	}
	return cert, nil
}
