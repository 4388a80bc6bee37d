// Copyright 2024 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package commands

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"cloud.google.com/go/bigquery"
	"github.com/dustin/go-humanize"
	"github.com/maruel/subcommands"
	"golang.org/x/sync/errgroup"

	"go.chromium.org/luci/common/cli"
	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/flag/stringmapflag"
	"go.chromium.org/luci/common/logging"

	"infra/bqfacade/cmdsupport/cmdlib"
	"infra/bqfacade/internal/bqerrors"
	"infra/bqfacade/internal/facade"
	"infra/bqfacade/internal/site"
)

const (
	// The bigquery API imposes a hard limit of 50,000 rows per request. A
	// much lower default keeps the payload size down and limits the blast
	// radius of a failed batch.
	defaultBatchSize = 500
	// Keep concurrent requests under the http2 stream limit.
	maxConcurrentInserts = 100
)

// InsertCommand streams rows into a table.
var InsertCommand *subcommands.Command = &subcommands.Command{
	UsageLine: "insert [options...] <dataset>.<table> [<file>]",
	ShortDesc: "stream rows into a table",
	LongDesc: `Stream rows into a table.

Reads newline delimited JSON records from file, or from stdin if no file is
given. The dataset and table are created if needed, which requires -schema.
If some rows are rejected they are listed on stderr.`,
	CommandRun: func() subcommands.CommandRun {
		c := &insertCommand{}
		c.commonFlags.Register(&c.Flags)
		c.Flags.StringVar(&c.schemaPath, "schema", "", "YAML schema file, used if the table has to be created")
		c.Flags.IntVar(&c.batchSize, "batch-size", defaultBatchSize, "number of rows per insert batch")
		c.Flags.BoolVar(&c.jsonList, "json-list", false, "read a single JSON list of rows instead of newline delimited rows")
		c.Flags.Var(&c.columns, "column", "add or replace this column in every row, as column=<JSON value>; can be repeated")
		return c
	},
}

type insertCommand struct {
	subcommands.CommandRunBase
	commonFlags site.CommonFlags
	schemaPath  string
	batchSize   int
	jsonList    bool
	columns     stringmapflag.Value
}

// Run is the main entrypoint to insert.
func (c *insertCommand) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	ctx := cli.GetContext(a, c, env)
	if err := c.innerRun(ctx, a, args); err != nil {
		cmdlib.PrintError(a, err)
		return 1
	}
	return 0
}

func (c *insertCommand) innerRun(ctx context.Context, a subcommands.Application, args []string) error {
	if len(args) == 0 || len(args) > 2 {
		return cmdlib.NewUsageError(c.Flags, "want <dataset>.<table> and an optional file, got %d arguments", len(args))
	}
	if c.batchSize <= 0 {
		return cmdlib.NewUsageError(c.Flags, "-batch-size must be positive, got %d", c.batchSize)
	}
	dataset, table, err := site.ParseTableRef(args[0])
	if err != nil {
		return err
	}
	overrides, err := parseOverrides(c.columns)
	if err != nil {
		return err
	}
	sch, err := loadSchema(c.schemaPath)
	if err != nil {
		return err
	}

	input := io.Reader(os.Stdin)
	if len(args) > 1 {
		f, err := os.Open(args[1])
		if err != nil {
			return err
		}
		defer f.Close()
		input = f
	}
	rows, err := readInput(input, c.jsonList, overrides)
	if err != nil {
		return err
	}

	s, err := openSession(ctx, &c.commonFlags)
	if err != nil {
		return err
	}
	defer s.close(ctx)

	h, err := provision(ctx, s.f, dataset, table, sch)
	if err != nil {
		return err
	}
	logging.Infof(ctx, "Inserting %s rows into table `%s`", humanize.Comma(int64(len(rows))), h)
	if err := insertBatches(ctx, s.f, h.String(), dataset, table, rows, c.batchSize); err != nil {
		return err
	}
	logging.Infof(ctx, "Done")
	return nil
}

// rowInserter is implemented by *facade.Facade.
type rowInserter interface {
	Insert(ctx context.Context, dataset, table string, rows []facade.Row) error
}

// insertBatches inserts rows in concurrent batches of batchSize.
//
// Rejected rows of all batches are merged into a single
// *bqerrors.PartialInsertFailure, with row indexes relative to rows. Any
// other error is fatal.
func insertBatches(ctx context.Context, f rowInserter, tableName, dataset, table string, rows []facade.Row, batchSize int) error {
	var mu sync.Mutex
	var rejected bigquery.PutMultiError
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(maxConcurrentInserts)
	for i := 0; i < len(rows); i += batchSize {
		i := i
		eg.Go(func() error {
			end := i + batchSize
			if end > len(rows) {
				end = len(rows)
			}
			err := f.Insert(egCtx, dataset, table, rows[i:end])
			var pif *bqerrors.PartialInsertFailure
			switch {
			case err == nil:
				return nil
			case errors.As(err, &pif):
				mu.Lock()
				for _, rowErr := range pif.Rows {
					rowErr.RowIndex += i
					rejected = append(rejected, rowErr)
				}
				mu.Unlock()
				return nil
			default:
				return err
			}
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}
	if len(rejected) > 0 {
		return bqerrors.NewPartialInsertFailure(tableName, rejected)
	}
	return nil
}

// parseOverrides parses the -column values as JSON.
func parseOverrides(columns stringmapflag.Value) (map[string]bigquery.Value, error) {
	overrides := make(map[string]bigquery.Value, len(columns))
	for key, value := range columns {
		var val bigquery.Value
		if err := json.Unmarshal([]byte(value), &val); err != nil {
			return nil, errors.Annotate(err, "parsing -column %q value", key).Err()
		}
		overrides[key] = val
	}
	return overrides, nil
}

func overrideColumns(row facade.Row, columns map[string]bigquery.Value) facade.Row {
	for k, v := range columns {
		row[k] = v
	}
	return row
}

// readInput reads newline delimited JSON rows, or a single JSON list of rows
// if jsonList is set.
func readInput(r io.Reader, jsonList bool, overrides map[string]bigquery.Value) (rows []facade.Row, err error) {
	if jsonList {
		var target []facade.Row
		if err := json.NewDecoder(r).Decode(&target); err != nil {
			return nil, err
		}
		for i, row := range target {
			if row == nil {
				row = facade.Row{}
			}
			target[i] = overrideColumns(row, overrides)
		}
		return target, nil
	}

	buf := bufio.NewReaderSize(r, 32768)

	lineNo := 0
	for {
		lineNo++

		line, err := buf.ReadBytes('\n')
		switch {
		case err != nil && err != io.EOF:
			return nil, err // a fatal error
		case err == io.EOF && len(line) == 0:
			return rows, nil // read past the last line
		}

		if line = bytes.TrimSpace(line); len(line) != 0 {
			row := facade.Row{}
			if err := json.Unmarshal(line, &row); err != nil {
				return nil, fmt.Errorf("bad input line %d: bad JSON - %s", lineNo, err)
			}
			rows = append(rows, overrideColumns(row, overrides))
		}
	}
}
