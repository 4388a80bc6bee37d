// Copyright 2024 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package events

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"cloud.google.com/go/bigquery"

	"go.chromium.org/luci/common/clock"
	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"

	"infra/bqfacade/internal/schema"
)

// AuditSchema is the schema of the table AuditSink writes to.
var AuditSchema = schema.Schema{
	{Name: "ts", Type: schema.Timestamp},
	{Name: "service", Type: schema.String},
	{Name: "kind", Type: schema.String},
	{Name: "message", Type: schema.String},
	{Name: "data", Type: schema.String},
	{Name: "error", Type: schema.String},
}

// Kinds of audit rows.
const (
	KindLog     = "log"
	KindSuccess = "success"
	KindError   = "error"
)

// Inserter streams rows into a table. warehouse.Service is one.
type Inserter interface {
	Insert(ctx context.Context, dataset, table string, rows []bigquery.ValueSaver) error
}

// AuditSink batches notifications and streams them to a BigQuery table.
//
// Notifications are staged in memory until Start is called, then uploaded
// every time the ticker fires. Close flushes whatever is left.
//
// Rows go straight to the Inserter, never through the facade, so writing
// the audit trail does not itself produce notifications.
type AuditSink struct {
	processID string

	mu      sync.Mutex
	pending []*auditRow
	counter int

	out     Inserter
	dataset string
	table   string
	ctx     context.Context
	stopc   chan struct{}
	wg      sync.WaitGroup
}

var _ Sink = &AuditSink{}

// NewAuditSink constructs an AuditSink. Its Close method should be called
// when it is no longer needed.
func NewAuditSink(ctx context.Context) *AuditSink {
	h, err := os.Hostname()
	if err != nil {
		h = "unknown"
	}
	return &AuditSink{
		processID: fmt.Sprintf("%s:%d:%d", h, os.Getpid(), clock.Now(ctx).Unix()),
	}
}

// Start begins uploading staged rows to dataset.table on every tick of
// uploadTicker. It can be constructed with time.NewTicker().
func (a *AuditSink) Start(ctx context.Context, out Inserter, dataset, table string, uploadTicker <-chan time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.out != nil {
		return errors.Reason("audit sink already started").Err()
	}
	a.out = out
	a.dataset = dataset
	a.table = table
	a.ctx = ctx
	stopc := make(chan struct{})
	a.stopc = stopc

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for {
			select {
			case <-uploadTicker:
				a.upload()
			case <-stopc:
				return
			}
		}
	}()
	return nil
}

// Log stages a log row.
func (a *AuditSink) Log(ctx context.Context, e Event) {
	a.stage(ctx, KindLog, e.Service, e.Message, e.Data, nil)
}

// Success stages a success row.
func (a *AuditSink) Success(ctx context.Context, e Event) {
	a.stage(ctx, KindSuccess, e.Service, e.Message, e.Data, nil)
}

// Error stages an error row.
func (a *AuditSink) Error(ctx context.Context, e ErrorEvent) {
	a.stage(ctx, KindError, e.Service, "", e.Data, e.Err)
}

// Pending returns the number of staged rows.
func (a *AuditSink) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// Close flushes any pending rows and stops the upload loop. Only the first
// call after Start does anything.
func (a *AuditSink) Close() {
	a.mu.Lock()
	stopc := a.stopc
	a.stopc = nil
	a.mu.Unlock()
	if stopc == nil {
		return
	}
	close(stopc)
	a.wg.Wait()

	// Final upload.
	a.upload()
}

func (a *AuditSink) stage(ctx context.Context, kind, service, message string, data map[string]any, err error) {
	row := &auditRow{
		ts:      clock.Now(ctx).UTC(),
		service: service,
		kind:    kind,
		message: message,
	}
	if len(data) > 0 {
		if blob, jerr := json.Marshal(data); jerr == nil {
			row.data = string(blob)
		} else {
			row.data = fmt.Sprintf("%v", data)
		}
	}
	if err != nil {
		row.err = err.Error()
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	row.insertID = fmt.Sprintf("%s:%d", a.processID, a.counter)
	a.counter++
	a.pending = append(a.pending, row)
}

// upload streams a batch of rows. Rows of a failed batch are dropped.
func (a *AuditSink) upload() {
	a.mu.Lock()
	pending := a.pending
	a.pending = nil
	out, ctx, dataset, table := a.out, a.ctx, a.dataset, a.table
	a.mu.Unlock()

	if len(pending) == 0 {
		return
	}

	savers := make([]bigquery.ValueSaver, len(pending))
	for i, r := range pending {
		savers[i] = r
	}
	if err := out.Insert(ctx, dataset, table, savers); err != nil {
		logging.Warningf(ctx, "audit: dropping %d rows, error from Insert: %s", len(pending), err)
	}
}

// auditRow implements bigquery.ValueSaver.
type auditRow struct {
	ts       time.Time
	service  string
	kind     string
	message  string
	data     string
	err      string
	insertID string
}

func (r *auditRow) Save() (map[string]bigquery.Value, string, error) {
	return map[string]bigquery.Value{
		"ts":      r.ts,
		"service": r.service,
		"kind":    r.kind,
		"message": r.message,
		"data":    r.data,
		"error":   r.err,
	}, r.insertID, nil
}
