// Copyright 2024 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package facade

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"

	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"

	"infra/bqfacade/internal/bqerrors"
	"infra/bqfacade/internal/warehouse"
)

// DefaultMaxBillingTier is used when QueryRequest.MaxBillingTier is zero.
const DefaultMaxBillingTier = 3

// Row is a flat record to insert. Matching columns against the table schema
// is left to BigQuery.
type Row map[string]bigquery.Value

// rowSaver implements bigquery.ValueSaver.
type rowSaver struct {
	row      Row
	insertID string
}

func (r *rowSaver) Save() (map[string]bigquery.Value, string, error) {
	return r.row, r.insertID, nil
}

// Insert streams rows into a provisioned table.
//
// If BigQuery rejects some of the rows, the returned error is a
// *bqerrors.PartialInsertFailure holding the full per-row detail. Other
// errors are returned as is.
func (f *Facade) Insert(ctx context.Context, dataset, table string, rows []Row) (err error) {
	const op = "insert"
	defer func() { recordOp(ctx, op, err) }()
	data := map[string]any{"dataset": dataset, "table": table, "rows": len(rows)}

	svc, err := f.conn()
	if err != nil {
		return f.fail(ctx, op, err, data)
	}
	h, err := f.catalog.GetTable(dataset, table)
	if err != nil {
		return f.fail(ctx, op, err, data)
	}

	savers := make([]bigquery.ValueSaver, len(rows))
	for i, r := range rows {
		savers[i] = &rowSaver{row: r, insertID: uuid.NewString()}
	}
	logging.Debugf(ctx, "inserting %d rows into table `%s`", len(rows), h)
	if err := svc.Insert(ctx, dataset, table, savers); err != nil {
		if merr, ok := err.(bigquery.PutMultiError); ok {
			return f.fail(ctx, op, bqerrors.NewPartialInsertFailure(h.String(), merr), data)
		}
		return f.fail(ctx, op, err, data)
	}

	rowsInserted.Add(ctx, int64(len(rows)), h.String())
	f.success(ctx, fmt.Sprintf("inserted %d rows into %s", len(rows), h), data)
	return nil
}

// QueryRequest describes a query.
type QueryRequest struct {
	// Text is the query.
	Text string
	// UseLegacySQL selects the legacy SQL dialect.
	UseLegacySQL bool
	// MaxBillingTier caps the billing tier. Zero means DefaultMaxBillingTier.
	MaxBillingTier int
}

func (r QueryRequest) config() warehouse.QueryConfig {
	tier := r.MaxBillingTier
	if tier == 0 {
		tier = DefaultMaxBillingTier
	}
	return warehouse.QueryConfig{
		Text:           r.Text,
		UseLegacySQL:   r.UseLegacySQL,
		MaxBillingTier: tier,
	}
}

// Query runs req, waits for it once and returns every result row as a T.
//
// T is anything bigquery.RowIterator.Next can load into: a struct,
// map[string]bigquery.Value or []bigquery.Value.
//
// Execution errors take precedence over completeness: a job that reports
// errors fails with *bqerrors.QueryExecutionFailure even if it is marked
// complete. A job without errors that is not complete fails with
// bqerrors.QueryIncomplete; paging through partial results is not
// supported.
func Query[T any](ctx context.Context, f *Facade, req QueryRequest) (out []T, err error) {
	const op = "query"
	defer func() { recordOp(ctx, op, err) }()
	data := map[string]any{"query": req.Text}

	svc, err := f.conn()
	if err != nil {
		return nil, f.fail(ctx, op, err, data)
	}

	job, err := svc.StartQuery(ctx, req.config())
	if err != nil {
		return nil, f.fail(ctx, op, err, data)
	}
	data["job"] = job.ID()
	logging.Debugf(ctx, "waiting for query job %s", job.ID())
	status, err := job.Wait(ctx)
	if err != nil {
		return nil, f.fail(ctx, op, err, data)
	}
	switch {
	case len(status.Errors) > 0:
		return nil, f.fail(ctx, op, bqerrors.NewQueryExecutionFailure(req.Text, status.Errors), data)
	case !status.Complete:
		err := errors.Reason("query job %s is not complete, pagination required", job.ID()).Tag(bqerrors.QueryIncomplete).Err()
		return nil, f.fail(ctx, op, err, data)
	}

	it, err := job.Read(ctx)
	if err != nil {
		return nil, f.fail(ctx, op, err, data)
	}
	for {
		var row T
		switch err := it.Next(&row); {
		case err == iterator.Done:
			f.success(ctx, req.Text, data)
			return out, nil
		case err != nil:
			return nil, f.fail(ctx, op, err, data)
		}
		out = append(out, row)
	}
}

// RowStream is a lazily evaluated query result.
//
// The query is not submitted until the first call to Next. A stream cannot
// be restarted: once Next returned an error, including iterator.Done, it
// keeps returning it.
type RowStream struct {
	f   *Facade
	ctx context.Context
	req QueryRequest

	it   warehouse.RowIterator
	rows int
	err  error
}

// QueryStream returns a stream over the result rows of req.
func (f *Facade) QueryStream(ctx context.Context, req QueryRequest) *RowStream {
	return &RowStream{f: f, ctx: ctx, req: req}
}

// Next loads the next row into dst, following the rules of
// bigquery.RowIterator.Next. It returns iterator.Done at the end.
func (s *RowStream) Next(dst any) error {
	if s.err != nil {
		return s.err
	}
	if s.it == nil {
		it, err := s.start()
		if err != nil {
			s.err = err
			return err
		}
		s.it = it
	}
	switch err := s.it.Next(dst); {
	case err == iterator.Done:
		s.err = err
		s.f.success(s.ctx, s.req.Text, map[string]any{"query": s.req.Text, "rows": s.rows})
		return err
	case err != nil:
		s.err = s.f.fail(s.ctx, "queryStream", err, map[string]any{"query": s.req.Text})
		return s.err
	}
	s.rows++
	return nil
}

func (s *RowStream) start() (it warehouse.RowIterator, err error) {
	const op = "queryStream"
	ctx := s.ctx
	defer func() { recordOp(ctx, op, err) }()
	data := map[string]any{"query": s.req.Text}

	svc, err := s.f.conn()
	if err != nil {
		return nil, s.f.fail(ctx, op, err, data)
	}
	job, err := svc.StartQuery(ctx, s.req.config())
	if err != nil {
		return nil, s.f.fail(ctx, op, err, data)
	}
	s.f.log(ctx, fmt.Sprintf("streaming results of job %s", job.ID()), data)
	if it, err = job.Read(ctx); err != nil {
		return nil, s.f.fail(ctx, op, err, data)
	}
	return it, nil
}

// UpdateAvailable reports whether rows of a provisioned table can be
// updated or deleted, i.e. whether the table has no streaming buffer.
//
// The metadata is fetched every time; the buffer drains on its own.
func (f *Facade) UpdateAvailable(ctx context.Context, dataset, table string) (ok bool, err error) {
	const op = "updateAvailable"
	defer func() { recordOp(ctx, op, err) }()
	data := map[string]any{"dataset": dataset, "table": table}

	svc, err := f.conn()
	if err != nil {
		return false, f.fail(ctx, op, err, data)
	}
	h, err := f.catalog.GetTable(dataset, table)
	if err != nil {
		return false, f.fail(ctx, op, err, data)
	}
	md, err := svc.TableMetadata(ctx, dataset, table)
	if err != nil {
		return false, f.fail(ctx, op, err, data)
	}
	ok = md.StreamingBuffer == nil
	data["available"] = ok
	f.log(ctx, fmt.Sprintf("table %s update available: %t", h, ok), data)
	return ok, nil
}
