// Copyright 2024 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package fakewarehouse is an in-memory warehouse.Service for tests.
//
// It mimics the parts of BigQuery's semantics the facade relies on (404 for
// missing entities, 409 for duplicates, streaming inserts) and counts every
// call so tests can assert on remote traffic.
package fakewarehouse

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"

	"go.chromium.org/luci/common/errors"

	"infra/bqfacade/internal/warehouse"
)

// Method names, for CallCount and SetError.
const (
	Probe         = "Probe"
	DatasetExists = "DatasetExists"
	CreateDataset = "CreateDataset"
	TableExists   = "TableExists"
	CreateTable   = "CreateTable"
	Insert        = "Insert"
	TableMetadata = "TableMetadata"
	StartQuery    = "StartQuery"
	Wait          = "Wait"
	Read          = "Read"
)

type tableKey struct {
	dataset string
	table   string
}

// QueryResult is what the next query job reports.
type QueryResult struct {
	Status warehouse.JobStatus
	Schema bigquery.Schema
	Rows   [][]bigquery.Value
}

// Service is a local bigquery mock.
type Service struct {
	mu       sync.Mutex
	project  string
	datasets map[string]bool
	tables   map[tableKey]*bigquery.TableMetadata
	rows     map[tableKey][]map[string]bigquery.Value
	calls    map[string]int
	errs     map[string]error
	result   QueryResult
	queries  []warehouse.QueryConfig
	closed   bool
}

var _ warehouse.Service = &Service{}

// New returns a Service with maps initialized and an empty, complete query
// result.
func New(project string) *Service {
	return &Service{
		project:  project,
		datasets: map[string]bool{},
		tables:   map[tableKey]*bigquery.TableMetadata{},
		rows:     map[tableKey][]map[string]bigquery.Value{},
		calls:    map[string]int{},
		errs:     map[string]error{},
		result:   QueryResult{Status: warehouse.JobStatus{Complete: true}},
	}
}

// AddDataset creates a dataset without counting a call.
func (s *Service) AddDataset(dataset string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.datasets[dataset] = true
}

// AddTable creates a table without counting a call.
func (s *Service) AddTable(dataset, table string, schema bigquery.Schema) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.datasets[dataset] = true
	s.tables[tableKey{dataset, table}] = s.newTableMetadata(dataset, table, schema)
}

// SetStreamingBuffer sets or clears the streaming buffer of a table.
func (s *Service) SetStreamingBuffer(dataset, table string, buf *bigquery.StreamingBuffer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if md, ok := s.tables[tableKey{dataset, table}]; ok {
		md.StreamingBuffer = buf
	}
}

// SetError makes every subsequent call of method fail with err.
// A nil err clears it.
func (s *Service) SetError(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.errs, method)
		return
	}
	s.errs[method] = err
}

// SetQueryResult sets what subsequent query jobs report.
func (s *Service) SetQueryResult(r QueryResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.result = r
}

// CallCount returns how many times method was called.
func (s *Service) CallCount(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

// TotalCalls returns the number of calls across all methods.
func (s *Service) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.calls {
		total += n
	}
	return total
}

// Rows returns the rows inserted into a table.
func (s *Service) Rows(dataset, table string) []map[string]bigquery.Value {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]bigquery.Value(nil), s.rows[tableKey{dataset, table}]...)
}

// Queries returns every submitted query.
func (s *Service) Queries() []warehouse.QueryConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]warehouse.QueryConfig(nil), s.queries...)
}

// HasTable reports whether the table exists.
func (s *Service) HasTable(dataset, table string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tables[tableKey{dataset, table}]
	return ok
}

// Closed reports whether Close was called.
func (s *Service) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// call records a call of method and returns its injected error.
// s.mu must be held.
func (s *Service) call(method string) error {
	s.calls[method]++
	return s.errs[method]
}

// ProjectID implements warehouse.Service.
func (s *Service) ProjectID() string {
	return s.project
}

// Probe implements warehouse.Service.
func (s *Service) Probe(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.call(Probe)
}

// DatasetExists implements warehouse.Service.
func (s *Service) DatasetExists(ctx context.Context, dataset string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.call(DatasetExists); err != nil {
		return false, err
	}
	return s.datasets[dataset], nil
}

// CreateDataset implements warehouse.Service.
func (s *Service) CreateDataset(ctx context.Context, dataset string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.call(CreateDataset); err != nil {
		return err
	}
	if dataset == "" {
		return errors.New("Dataset must have DatasetID")
	}
	if s.datasets[dataset] {
		return conflict("dataset %s", dataset)
	}
	s.datasets[dataset] = true
	return nil
}

// TableExists implements warehouse.Service.
func (s *Service) TableExists(ctx context.Context, dataset, table string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.call(TableExists); err != nil {
		return false, err
	}
	if !s.datasets[dataset] {
		return false, notFound("dataset %s", dataset)
	}
	_, ok := s.tables[tableKey{dataset, table}]
	return ok, nil
}

// newTableMetadata mimics what the service reports for a fresh table.
func (s *Service) newTableMetadata(dataset, table string, schema bigquery.Schema) *bigquery.TableMetadata {
	return &bigquery.TableMetadata{
		FullID: fmt.Sprintf("%s:%s.%s", s.project, dataset, table),
		Schema: schema,
	}
}

// CreateTable implements warehouse.Service.
func (s *Service) CreateTable(ctx context.Context, dataset, table string, schema bigquery.Schema) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.call(CreateTable); err != nil {
		return err
	}
	if table == "" {
		return errors.New("Table must have TableID")
	}
	if !s.datasets[dataset] {
		return notFound("dataset %s", dataset)
	}
	key := tableKey{dataset, table}
	if _, ok := s.tables[key]; ok {
		return conflict("table %s.%s", dataset, table)
	}
	s.tables[key] = s.newTableMetadata(dataset, table, schema)
	return nil
}

// Insert implements warehouse.Service.
//
// Accepted rows put the table into streaming-buffer state, like the real
// service does.
func (s *Service) Insert(ctx context.Context, dataset, table string, rows []bigquery.ValueSaver) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.call(Insert); err != nil {
		return err
	}
	key := tableKey{dataset, table}
	md, ok := s.tables[key]
	if !ok {
		return notFound("table %s.%s", dataset, table)
	}
	for _, saver := range rows {
		row, _, err := saver.Save()
		if err != nil {
			return err
		}
		s.rows[key] = append(s.rows[key], row)
	}
	if len(rows) > 0 {
		if md.StreamingBuffer == nil {
			md.StreamingBuffer = &bigquery.StreamingBuffer{}
		}
		md.StreamingBuffer.EstimatedRows += uint64(len(rows))
	}
	return nil
}

// TableMetadata implements warehouse.Service.
func (s *Service) TableMetadata(ctx context.Context, dataset, table string) (*bigquery.TableMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.call(TableMetadata); err != nil {
		return nil, err
	}
	md, ok := s.tables[tableKey{dataset, table}]
	if !ok {
		return nil, notFound("table %s.%s", dataset, table)
	}
	out := *md
	if md.StreamingBuffer != nil {
		buf := *md.StreamingBuffer
		out.StreamingBuffer = &buf
	}
	return &out, nil
}

// StartQuery implements warehouse.Service.
func (s *Service) StartQuery(ctx context.Context, q warehouse.QueryConfig) (warehouse.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.call(StartQuery); err != nil {
		return nil, err
	}
	s.queries = append(s.queries, q)
	return &job{
		svc:    s,
		id:     fmt.Sprintf("job_%d", len(s.queries)),
		result: s.result,
	}, nil
}

// Close implements warehouse.Service.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type job struct {
	svc    *Service
	id     string
	result QueryResult
}

func (j *job) ID() string {
	return j.id
}

func (j *job) Wait(ctx context.Context) (*warehouse.JobStatus, error) {
	j.svc.mu.Lock()
	defer j.svc.mu.Unlock()
	if err := j.svc.call(Wait); err != nil {
		return nil, err
	}
	status := j.result.Status
	return &status, nil
}

func (j *job) Read(ctx context.Context) (warehouse.RowIterator, error) {
	j.svc.mu.Lock()
	defer j.svc.mu.Unlock()
	if err := j.svc.call(Read); err != nil {
		return nil, err
	}
	return &rowIterator{schema: j.result.Schema, rows: j.result.Rows}, nil
}

// rowIterator supports the destinations the facade uses:
// *map[string]bigquery.Value, *[]bigquery.Value and bigquery.ValueLoader.
type rowIterator struct {
	schema bigquery.Schema
	rows   [][]bigquery.Value
	next   int
}

func (it *rowIterator) Next(dst any) error {
	if it.next >= len(it.rows) {
		return iterator.Done
	}
	row := it.rows[it.next]
	it.next++
	switch d := dst.(type) {
	case *map[string]bigquery.Value:
		m := make(map[string]bigquery.Value, len(row))
		for i, f := range it.schema {
			if i < len(row) {
				m[f.Name] = row[i]
			}
		}
		*d = m
		return nil
	case *[]bigquery.Value:
		*d = append([]bigquery.Value(nil), row...)
		return nil
	case bigquery.ValueLoader:
		return d.Load(row, it.schema)
	default:
		return errors.Reason("fakewarehouse: unsupported destination %T", dst).Err()
	}
}

func notFound(format string, args ...any) error {
	return &googleapi.Error{
		Code:    http.StatusNotFound,
		Message: "Not found: " + fmt.Sprintf(format, args...),
	}
}

func conflict(format string, args ...any) error {
	return &googleapi.Error{
		Code:    http.StatusConflict,
		Message: "Already Exists: " + fmt.Sprintf(format, args...),
	}
}
