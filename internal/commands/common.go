// Copyright 2024 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package commands

import (
	"context"
	"time"

	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"

	"infra/bqfacade/internal/catalog"
	"infra/bqfacade/internal/events"
	"infra/bqfacade/internal/facade"
	"infra/bqfacade/internal/schema"
	"infra/bqfacade/internal/site"
)

// auditFlushInterval is how often audit rows are uploaded.
const auditFlushInterval = 10 * time.Second

// facadeOptions are passed to every facade the commands create. Tests use it
// to swap in a fake service.
var facadeOptions []facade.Option

// session is an initialized facade plus the notification sinks behind it.
type session struct {
	f      *facade.Facade
	audit  *events.AuditSink
	ticker *time.Ticker
}

// openSession loads the config, connects and, if requested, starts
// recording notifications in the audit table.
func openSession(ctx context.Context, fl *site.CommonFlags) (*session, error) {
	cfg, err := fl.Config()
	if err != nil {
		return nil, err
	}
	auditDataset, auditTable, auditOn, err := fl.AuditTable()
	if err != nil {
		return nil, err
	}

	s := &session{}
	var sink events.Sink = events.LogSink{}
	if auditOn {
		s.audit = events.NewAuditSink(ctx)
		sink = events.Multi(sink, s.audit)
	}
	s.f = facade.New(fl.Name(), sink, cfg, facadeOptions...)
	if err := s.f.Init(ctx); err != nil {
		return nil, errors.Annotate(err, "connect to %s", cfg.ProjectID).Err()
	}
	if !auditOn {
		return s, nil
	}

	if _, err := provision(ctx, s.f, auditDataset, auditTable, events.AuditSchema); err != nil {
		s.close(ctx)
		return nil, errors.Annotate(err, "provision audit table").Err()
	}
	svc, err := s.f.Service()
	if err != nil {
		s.close(ctx)
		return nil, err
	}
	s.ticker = time.NewTicker(auditFlushInterval)
	if err := s.audit.Start(ctx, svc, auditDataset, auditTable, s.ticker.C); err != nil {
		s.close(ctx)
		return nil, err
	}
	return s, nil
}

// close flushes the audit trail and releases the connection.
func (s *session) close(ctx context.Context) {
	if s.ticker != nil {
		s.ticker.Stop()
	}
	if s.audit != nil {
		s.audit.Close()
	}
	if err := s.f.Close(); err != nil {
		logging.Warningf(ctx, "closing connection: %s", err)
	}
}

// provision makes sure both the dataset and the table exist and are cached.
// s may be nil if the table is known to exist.
func provision(ctx context.Context, f *facade.Facade, dataset, table string, s schema.Schema) (catalog.TableHandle, error) {
	if _, err := f.CreateDataset(ctx, dataset); err != nil {
		return catalog.TableHandle{}, err
	}
	return f.CreateTable(ctx, dataset, table, s)
}

// loadSchema loads the schema file at path. An empty path means no schema.
func loadSchema(path string) (schema.Schema, error) {
	if path == "" {
		return nil, nil
	}
	return schema.LoadFile(path)
}
