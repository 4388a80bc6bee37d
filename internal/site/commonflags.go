// Copyright 2024 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package site

import (
	"flag"
	"os"
	"path/filepath"
	"strings"

	"go.chromium.org/luci/common/errors"

	"infra/bqfacade/internal/config"
)

// ConfigEnvVar names the environment variable consulted when -config is not
// given.
const ConfigEnvVar = "BQFACADE_CONFIG"

// DefaultConfigPath is used when neither -config nor $BQFACADE_CONFIG is set.
var DefaultConfigPath = filepath.Join(".", "bqfacade.yaml")

// CommonFlags are the flags common to all commands.
type CommonFlags struct {
	configPath string
	auditTable string
	name       string
}

// Register registers the common flags on f.
func (fl *CommonFlags) Register(f *flag.FlagSet) {
	f.StringVar(&fl.configPath, "config", "", "path to the YAML connection config, defaults to $"+ConfigEnvVar+" or "+DefaultConfigPath)
	f.StringVar(&fl.auditTable, "audit-table", "", "if set, also record notifications in this <dataset>.<table>")
	f.StringVar(&fl.name, "name", "bqfacade", "instance name used to tag notifications")
}

// ConfigPath returns the config file to load.
func (fl *CommonFlags) ConfigPath() string {
	if fl.configPath != "" {
		return fl.configPath
	}
	if p := os.Getenv(ConfigEnvVar); p != "" {
		return p
	}
	return DefaultConfigPath
}

// Config loads and validates the connection config.
func (fl *CommonFlags) Config() (config.Config, error) {
	return config.LoadFile(fl.ConfigPath())
}

// Name returns the instance name.
func (fl *CommonFlags) Name() string {
	return fl.name
}

// AuditTable returns the dataset and table notifications are recorded in.
// ok is false if -audit-table was not given.
func (fl *CommonFlags) AuditTable() (dataset, table string, ok bool, err error) {
	if fl.auditTable == "" {
		return "", "", false, nil
	}
	dataset, table, err = ParseTableRef(fl.auditTable)
	if err != nil {
		return "", "", false, errors.Annotate(err, "-audit-table").Err()
	}
	return dataset, table, true, nil
}

// ParseTableRef splits "<dataset>.<table>".
func ParseTableRef(ref string) (dataset, table string, err error) {
	chunks := strings.Split(ref, ".")
	if len(chunks) != 2 || chunks[0] == "" || chunks[1] == "" {
		return "", "", errors.Reason("table reference should have form <dataset>.<table>, got %q", ref).Err()
	}
	return chunks[0], chunks[1], nil
}
