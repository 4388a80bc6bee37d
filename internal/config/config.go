// Copyright 2024 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package config holds the connection settings of the bigquery facade.
package config

import (
	"encoding/json"
	"io"
	"os"

	"google.golang.org/api/option"
	"gopkg.in/yaml.v3"

	"go.chromium.org/luci/common/errors"
)

// UserAgent is sent with every request.
const UserAgent = "bqfacade v1.0"

// AuthMethod names how the client authenticates.
type AuthMethod string

const (
	// PrivateKey means inline service account credentials.
	PrivateKey AuthMethod = "PrivateKey"
	// KeyFile means a key file reference or ambient credentials.
	KeyFile AuthMethod = "KeyFile"
)

// Config is the configuration record of a facade.
type Config struct {
	// ProjectID is the project every call is issued against.
	ProjectID string `yaml:"projectId" json:"projectId"`
	// Credentials are inline service account credentials, at least
	// client_email and private_key. They take precedence over KeyFilename.
	Credentials map[string]string `yaml:"credentials,omitempty" json:"credentials,omitempty"`
	// KeyFilename points at a service account key file. When both it and
	// Credentials are empty, ambient credentials are used.
	KeyFilename string `yaml:"keyFilename,omitempty" json:"keyFilename,omitempty"`
}

// AuthMethod reports which credentials the client will be built with.
func (c Config) AuthMethod() AuthMethod {
	if c.Credentials != nil {
		return PrivateKey
	}
	return KeyFile
}

// Validate checks the record.
func (c Config) Validate() error {
	if c.ProjectID == "" {
		return errors.Reason("config: projectId is required").Err()
	}
	if c.Credentials != nil {
		for _, k := range []string{"client_email", "private_key"} {
			if c.Credentials[k] == "" {
				return errors.Reason("config: credentials.%s is required", k).Err()
			}
		}
	}
	return nil
}

// ClientOptions returns the options for bigquery.NewClient.
func (c Config) ClientOptions() ([]option.ClientOption, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	opts := []option.ClientOption{option.WithUserAgent(UserAgent)}
	switch {
	case c.AuthMethod() == PrivateKey:
		creds := make(map[string]string, len(c.Credentials)+1)
		for k, v := range c.Credentials {
			creds[k] = v
		}
		if creds["type"] == "" {
			creds["type"] = "service_account"
		}
		if creds["project_id"] == "" {
			creds["project_id"] = c.ProjectID
		}
		blob, err := json.Marshal(creds)
		if err != nil {
			return nil, errors.Annotate(err, "config: encode credentials").Err()
		}
		opts = append(opts, option.WithCredentialsJSON(blob))
	case c.KeyFilename != "":
		opts = append(opts, option.WithCredentialsFile(c.KeyFilename))
	}
	return opts, nil
}

// Load reads a YAML or JSON config record from r.
func Load(r io.Reader) (Config, error) {
	var c Config
	if err := yaml.NewDecoder(r).Decode(&c); err != nil {
		return Config{}, errors.Annotate(err, "load config").Err()
	}
	if err := c.Validate(); err != nil {
		return Config{}, errors.Annotate(err, "load config").Err()
	}
	return c, nil
}

// LoadFile reads a config record from the file at path.
func LoadFile(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, errors.Annotate(err, "load config").Err()
	}
	defer f.Close()
	return Load(f)
}
