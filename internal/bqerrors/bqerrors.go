// Copyright 2024 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package bqerrors contains the error taxonomy of the bigquery facade.
//
// Conditions that carry no payload are luci error tags and are checked with
// e.g. bqerrors.NotFound.In(err). Conditions that carry a payload are
// concrete types and are checked with errors.As.
//
// Any error that is neither tagged nor one of the types below came from the
// remote service and is passed through unchanged.
package bqerrors

import (
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/bigquery"
	"github.com/hashicorp/go-multierror"

	"go.chromium.org/luci/common/errors"
)

var (
	// Uninitialized tags operations attempted before a successful Init.
	Uninitialized = errors.BoolTag{Key: errors.NewTagKey("uninitialized connection")}

	// AlreadyInitialized tags a second Init on the same facade.
	AlreadyInitialized = errors.BoolTag{Key: errors.NewTagKey("connection already initialized")}

	// NotFound tags a dataset or table that has no cached handle.
	NotFound = errors.BoolTag{Key: errors.NewTagKey("handle not found")}

	// SchemaRequired tags a table creation without a schema for a table that does not exist.
	SchemaRequired = errors.BoolTag{Key: errors.NewTagKey("schema required")}

	// InvalidSchema tags a schema descriptor that cannot be turned into a table schema.
	InvalidSchema = errors.BoolTag{Key: errors.NewTagKey("invalid schema")}

	// QueryIncomplete tags a query job that finished waiting without being complete.
	QueryIncomplete = errors.BoolTag{Key: errors.NewTagKey("query incomplete")}
)

// PartialInsertFailure is returned when the service rejected some of the rows
// of a streaming insert.
type PartialInsertFailure struct {
	// Table is the fully qualified name of the target table.
	Table string
	// Rows is the per-row rejection detail exactly as the service reported it.
	Rows bigquery.PutMultiError
}

// NewPartialInsertFailure wraps the rejection detail of an insert into table.
func NewPartialInsertFailure(table string, rows bigquery.PutMultiError) *PartialInsertFailure {
	return &PartialInsertFailure{
		Table: table,
		Rows:  rows,
	}
}

// Error implements error.
func (e *PartialInsertFailure) Error() string {
	return fmt.Sprintf("insert into %s: %d row(s) rejected: %s", e.Table, len(e.Rows), e.Rows.Error())
}

// Unwrap exposes the underlying bigquery.PutMultiError.
func (e *PartialInsertFailure) Unwrap() error {
	return e.Rows
}

// ReportUserError prints one line per rejected value.
func (e *PartialInsertFailure) ReportUserError(w io.Writer) {
	fmt.Fprintf(w, "Failed to insert some rows into %s:\n", e.Table)
	for _, rowErr := range e.Rows {
		for _, valErr := range rowErr.Errors {
			fmt.Fprintf(w, "row %d (%s): %s\n", rowErr.RowIndex, rowErr.InsertID, valErr)
		}
	}
}

// QueryExecutionFailure is returned when a finished query job reports
// execution errors.
type QueryExecutionFailure struct {
	// Query is the query text that was submitted.
	Query string

	merr *multierror.Error
}

// NewQueryExecutionFailure aggregates the errors reported for query.
//
// Nil entries are dropped.
func NewQueryExecutionFailure(query string, errs []error) *QueryExecutionFailure {
	merr := multierror.Append(&multierror.Error{ErrorFormat: joinMessages}, errs...)
	return &QueryExecutionFailure{
		Query: query,
		merr:  merr,
	}
}

// Error joins the messages of all reported errors with ";".
func (e *QueryExecutionFailure) Error() string {
	return e.merr.Error()
}

// Unwrap exposes the aggregated errors.
func (e *QueryExecutionFailure) Unwrap() error {
	return e.merr
}

// Errors returns the individual errors in the order they were reported.
func (e *QueryExecutionFailure) Errors() []error {
	return e.merr.WrappedErrors()
}

// joinMessages is a multierror.ErrorFormatFunc.
func joinMessages(errs []error) string {
	msgs := make([]string, 0, len(errs))
	for _, err := range errs {
		msgs = append(msgs, message(err))
	}
	return strings.Join(msgs, ";")
}

// message prefers the bare service message over the formatted bigquery.Error.
func message(err error) string {
	switch e := err.(type) {
	case *bigquery.Error:
		if e.Message != "" {
			return e.Message
		}
	}
	return err.Error()
}
