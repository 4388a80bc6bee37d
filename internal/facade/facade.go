// Copyright 2024 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package facade is a thin layer over BigQuery offering idempotent dataset
// and table provisioning, streaming inserts and synchronous queries.
//
// A Facade must be initialized with Init before anything else. Datasets and
// tables must then be provisioned with CreateDataset and CreateTable before
// they can be used: the facade remembers what it provisioned and never looks
// up a table remotely on the data path.
//
// Progress is reported through an events.Sink rather than printed.
//
// Nothing here is retried, and provisioning is not atomic: an existence
// check and the create that follows it are two separate calls, so a
// concurrent creator can make the create fail with an "already exists"
// error from the service.
package facade

import (
	"context"
	"fmt"
	"sync"

	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"

	"infra/bqfacade/internal/bqerrors"
	"infra/bqfacade/internal/catalog"
	"infra/bqfacade/internal/config"
	"infra/bqfacade/internal/events"
	"infra/bqfacade/internal/warehouse"
)

// Dialer builds the service a facade talks to.
type Dialer func(ctx context.Context, cfg config.Config) (warehouse.Service, error)

// Option configures a Facade.
type Option func(*Facade)

// WithDialer replaces the production dialer. Used by tests.
func WithDialer(d Dialer) Option {
	return func(f *Facade) {
		f.dial = d
	}
}

// Facade is a handle to one BigQuery project.
type Facade struct {
	name    string
	sink    events.Sink
	cfg     config.Config
	dial    Dialer
	catalog *catalog.Cache

	mu  sync.RWMutex
	svc warehouse.Service
}

// New creates a facade named name. Nothing is dialed until Init.
//
// A nil sink drops all notifications.
func New(name string, sink events.Sink, cfg config.Config, opts ...Option) *Facade {
	if sink == nil {
		sink = events.Nop
	}
	f := &Facade{
		name:    name,
		sink:    sink,
		cfg:     cfg,
		dial:    dialCloud,
		catalog: catalog.New(),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// dialCloud is the production Dialer.
func dialCloud(ctx context.Context, cfg config.Config) (warehouse.Service, error) {
	opts, err := cfg.ClientOptions()
	if err != nil {
		return nil, err
	}
	svc, err := warehouse.NewCloudService(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, err
	}
	return svc, nil
}

// Init connects to the project and checks connectivity by listing datasets.
//
// Init must succeed exactly once. Errors from the service are returned as
// is; nothing is retried.
func (f *Facade) Init(ctx context.Context) (err error) {
	const op = "init"
	defer func() { recordOp(ctx, op, err) }()

	method := f.cfg.AuthMethod()
	data := map[string]any{
		"project": f.cfg.ProjectID,
		"method":  string(method),
	}

	f.mu.RLock()
	already := f.svc != nil
	f.mu.RUnlock()
	if already {
		return f.fail(ctx, op, alreadyInitialized(), data)
	}

	f.log(ctx, fmt.Sprintf("connecting to project %s", f.cfg.ProjectID), data)
	svc, err := f.dial(ctx, f.cfg)
	if err != nil {
		return f.fail(ctx, op, err, data)
	}
	logging.Debugf(ctx, "probing project %s", f.cfg.ProjectID)
	if err := svc.Probe(ctx); err != nil {
		closeQuietly(ctx, svc)
		return f.fail(ctx, op, err, data)
	}

	f.mu.Lock()
	if f.svc != nil {
		f.mu.Unlock()
		closeQuietly(ctx, svc)
		return f.fail(ctx, op, alreadyInitialized(), data)
	}
	f.svc = svc
	f.mu.Unlock()

	f.success(ctx, fmt.Sprintf("connected to project %s using %s", f.cfg.ProjectID, method), data)
	return nil
}

// Service returns the underlying service, or an error tagged
// bqerrors.Uninitialized before Init.
func (f *Facade) Service() (warehouse.Service, error) {
	return f.conn()
}

// Close releases the connection. It is a no-op before Init.
func (f *Facade) Close() error {
	f.mu.RLock()
	svc := f.svc
	f.mu.RUnlock()
	if svc == nil {
		return nil
	}
	return svc.Close()
}

func (f *Facade) conn() (warehouse.Service, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.svc == nil {
		return nil, errors.Reason("connection is not initialized, call Init first").Tag(bqerrors.Uninitialized).Err()
	}
	return f.svc, nil
}

func alreadyInitialized() error {
	return errors.Reason("connection is already initialized").Tag(bqerrors.AlreadyInitialized).Err()
}

func closeQuietly(ctx context.Context, svc warehouse.Service) {
	if err := svc.Close(); err != nil {
		logging.Warningf(ctx, "closing half-initialized client: %s", err)
	}
}

func (f *Facade) log(ctx context.Context, msg string, data map[string]any) {
	f.sink.Log(ctx, events.Event{Service: f.name, Message: msg, Data: data})
}

func (f *Facade) success(ctx context.Context, msg string, data map[string]any) {
	f.sink.Success(ctx, events.Event{Service: f.name, Message: msg, Data: data})
}

// fail emits an error notification and returns err unchanged.
func (f *Facade) fail(ctx context.Context, op string, err error, data map[string]any) error {
	d := make(map[string]any, len(data)+1)
	for k, v := range data {
		d[k] = v
	}
	d["op"] = op
	f.sink.Error(ctx, events.ErrorEvent{Service: f.name, Data: d, Err: err})
	return err
}
