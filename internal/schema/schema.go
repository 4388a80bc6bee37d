// Copyright 2024 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package schema describes flat table schemas and converts them to
// bigquery.Schema.
package schema

import (
	"io"
	"os"
	"strings"

	"cloud.google.com/go/bigquery"
	"gopkg.in/yaml.v3"

	"go.chromium.org/luci/common/errors"

	"infra/bqfacade/internal/bqerrors"
)

// ColumnType is the type of a column.
type ColumnType string

// The supported column types.
const (
	String    ColumnType = "string"
	Integer   ColumnType = "integer"
	Float     ColumnType = "float"
	Boolean   ColumnType = "boolean"
	Timestamp ColumnType = "timestamp"
)

var fieldTypes = map[ColumnType]bigquery.FieldType{
	String:    bigquery.StringFieldType,
	Integer:   bigquery.IntegerFieldType,
	Float:     bigquery.FloatFieldType,
	Boolean:   bigquery.BooleanFieldType,
	Timestamp: bigquery.TimestampFieldType,
}

// Column is a single named, typed column.
type Column struct {
	Name string     `yaml:"name" json:"name"`
	Type ColumnType `yaml:"type" json:"type"`
}

// Schema is an ordered list of columns.
type Schema []Column

// Validate checks that every column has a unique name and a supported type.
func (s Schema) Validate() error {
	if len(s) == 0 {
		return errors.Reason("schema has no columns").Tag(bqerrors.InvalidSchema).Err()
	}
	seen := make(map[string]bool, len(s))
	for i, c := range s {
		if c.Name == "" {
			return errors.Reason("column %d has no name", i).Tag(bqerrors.InvalidSchema).Err()
		}
		key := strings.ToLower(c.Name)
		if seen[key] {
			return errors.Reason("duplicate column %q", c.Name).Tag(bqerrors.InvalidSchema).Err()
		}
		seen[key] = true
		if _, ok := fieldTypes[c.Type]; !ok {
			return errors.Reason("column %q has unsupported type %q", c.Name, c.Type).Tag(bqerrors.InvalidSchema).Err()
		}
	}
	return nil
}

// BQSchema constructs a bigquery.Schema from s.
func (s Schema) BQSchema() (bigquery.Schema, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	out := make(bigquery.Schema, 0, len(s))
	for _, c := range s {
		out = append(out, &bigquery.FieldSchema{
			Name: c.Name,
			Type: fieldTypes[c.Type],
		})
	}
	return out, nil
}

// Load reads a schema, a YAML or JSON list of {name, type} records, from r.
func Load(r io.Reader) (Schema, error) {
	var s Schema
	if err := yaml.NewDecoder(r).Decode(&s); err != nil {
		return nil, errors.Annotate(err, "load schema").Err()
	}
	for i := range s {
		s[i].Type = ColumnType(strings.ToLower(string(s[i].Type)))
	}
	if err := s.Validate(); err != nil {
		return nil, errors.Annotate(err, "load schema").Err()
	}
	return s, nil
}

// LoadFile reads a schema from the file at path.
func LoadFile(path string) (Schema, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Annotate(err, "load schema").Err()
	}
	defer f.Close()
	return Load(f)
}
