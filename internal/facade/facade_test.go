// Copyright 2024 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package facade

import (
	"context"
	"net/http"
	"testing"

	"google.golang.org/api/googleapi"

	. "github.com/smartystreets/goconvey/convey"
	. "go.chromium.org/luci/common/testing/assertions"

	"go.chromium.org/luci/common/errors"

	"infra/bqfacade/internal/bqerrors"
	"infra/bqfacade/internal/config"
	"infra/bqfacade/internal/events"
	"infra/bqfacade/internal/warehouse"
	"infra/bqfacade/internal/warehouse/fakewarehouse"
)

// fixture bundles a facade with the fake service and the recorder behind it.
type fixture struct {
	ctx    context.Context
	f      *Facade
	fake   *fakewarehouse.Service
	events *events.Recorder
	dials  int
}

func newFixture(cfg config.Config) *fixture {
	tf := &fixture{
		ctx:    context.Background(),
		fake:   fakewarehouse.New(cfg.ProjectID),
		events: &events.Recorder{},
	}
	tf.f = New("bq", tf.events, cfg, WithDialer(func(ctx context.Context, c config.Config) (warehouse.Service, error) {
		tf.dials++
		return tf.fake, nil
	}))
	return tf
}

// newInitializedFixture returns a fixture whose facade is connected to p1
// with dataset d1 provisioned and the recorder reset.
func newInitializedFixture() *fixture {
	tf := newFixture(config.Config{ProjectID: "p1"})
	So(tf.f.Init(tf.ctx), ShouldBeNil)
	tf.fake.AddDataset("d1")
	_, err := tf.f.CreateDataset(tf.ctx, "d1")
	So(err, ShouldBeNil)
	tf.events = &events.Recorder{}
	tf.f.sink = tf.events
	return tf
}

func TestInit(t *testing.T) {
	t.Parallel()

	Convey("Init", t, func() {
		Convey("with key file auth", func() {
			tf := newFixture(config.Config{ProjectID: "p1"})
			So(tf.f.Init(tf.ctx), ShouldBeNil)

			So(tf.fake.CallCount(fakewarehouse.Probe), ShouldEqual, 1)
			So(tf.events.Successes, ShouldHaveLength, 1)
			ev := tf.events.Successes[0]
			So(ev.Service, ShouldEqual, "bq")
			So(ev.Message, ShouldContainSubstring, "p1")
			So(ev.Data["method"], ShouldEqual, "KeyFile")
			So(ev.Data["project"], ShouldEqual, "p1")
		})

		Convey("with private key auth", func() {
			tf := newFixture(config.Config{
				ProjectID:   "p1",
				Credentials: map[string]string{"client_email": "a@b", "private_key": "k"},
			})
			So(tf.f.Init(tf.ctx), ShouldBeNil)
			So(tf.events.Successes[0].Data["method"], ShouldEqual, "PrivateKey")
		})

		Convey("propagates a connectivity check failure unchanged", func() {
			tf := newFixture(config.Config{ProjectID: "p1"})
			deniedErr := &googleapi.Error{Code: http.StatusForbidden, Message: "denied"}
			tf.fake.SetError(fakewarehouse.Probe, deniedErr)

			err := tf.f.Init(tf.ctx)
			So(err, ShouldEqual, deniedErr)
			So(tf.fake.Closed(), ShouldBeTrue)
			So(tf.events.Errors, ShouldHaveLength, 1)
			So(tf.events.Errors[0].Err, ShouldEqual, deniedErr)
			So(tf.events.Successes, ShouldHaveLength, 0)

			_, err = tf.f.Service()
			So(bqerrors.Uninitialized.In(err), ShouldBeTrue)

			Convey("and can be retried by the caller", func() {
				tf.fake.SetError(fakewarehouse.Probe, nil)
				So(tf.f.Init(tf.ctx), ShouldBeNil)
				So(tf.fake.CallCount(fakewarehouse.Probe), ShouldEqual, 2)
			})
		})

		Convey("propagates a dial failure", func() {
			dialErr := errors.New("no credentials")
			f := New("bq", nil, config.Config{ProjectID: "p1"}, WithDialer(func(context.Context, config.Config) (warehouse.Service, error) {
				return nil, dialErr
			}))
			So(f.Init(context.Background()), ShouldEqual, dialErr)
		})

		Convey("only once", func() {
			tf := newFixture(config.Config{ProjectID: "p1"})
			So(tf.f.Init(tf.ctx), ShouldBeNil)
			err := tf.f.Init(tf.ctx)
			So(bqerrors.AlreadyInitialized.In(err), ShouldBeTrue)
			So(tf.dials, ShouldEqual, 1)
			So(tf.fake.CallCount(fakewarehouse.Probe), ShouldEqual, 1)

			svc, err := tf.f.Service()
			So(err, ShouldBeNil)
			So(svc, ShouldEqual, tf.fake)
		})
	})
}

func TestUninitialized(t *testing.T) {
	t.Parallel()

	Convey("Before Init", t, func() {
		tf := newFixture(config.Config{ProjectID: "p1"})
		ctx := tf.ctx

		checks := []func() error{
			func() error {
				_, err := tf.f.CreateDataset(ctx, "d1")
				return err
			},
			func() error {
				_, err := tf.f.CreateTable(ctx, "d1", "t1", nil)
				return err
			},
			func() error {
				return tf.f.Insert(ctx, "d1", "t1", []Row{{"a": 1}})
			},
			func() error {
				_, err := Query[Row](ctx, tf.f, QueryRequest{Text: "SELECT 1"})
				return err
			},
			func() error {
				var row Row
				return tf.f.QueryStream(ctx, QueryRequest{Text: "SELECT 1"}).Next(&row)
			},
			func() error {
				_, err := tf.f.UpdateAvailable(ctx, "d1", "t1")
				return err
			},
		}
		for _, check := range checks {
			So(bqerrors.Uninitialized.In(check()), ShouldBeTrue)
		}
		So(tf.fake.TotalCalls(), ShouldEqual, 0)
		So(tf.events.Errors, ShouldHaveLength, len(checks))
		So(tf.f.Close(), ShouldBeNil)
	})
}

func TestCreateDataset(t *testing.T) {
	t.Parallel()

	Convey("CreateDataset", t, func() {
		tf := newFixture(config.Config{ProjectID: "p1"})
		So(tf.f.Init(tf.ctx), ShouldBeNil)
		tf.events.Successes = nil

		Convey("creates a missing dataset", func() {
			h, err := tf.f.CreateDataset(tf.ctx, "d1")
			So(err, ShouldBeNil)
			So(tf.fake.CallCount(fakewarehouse.CreateDataset), ShouldEqual, 1)

			cached, err := tf.f.GetDataset("d1")
			So(err, ShouldBeNil)
			So(cached, ShouldResemble, h)
			So(h.String(), ShouldEqual, "p1.d1")

			So(tf.events.Successes, ShouldHaveLength, 1)
			So(tf.events.Successes[0].Message, ShouldContainSubstring, "created")
		})

		Convey("is idempotent", func() {
			first, err := tf.f.CreateDataset(tf.ctx, "d1")
			So(err, ShouldBeNil)
			second, err := tf.f.CreateDataset(tf.ctx, "d1")
			So(err, ShouldBeNil)
			So(second, ShouldResemble, first)

			So(tf.fake.CallCount(fakewarehouse.DatasetExists), ShouldEqual, 2)
			So(tf.fake.CallCount(fakewarehouse.CreateDataset), ShouldEqual, 1)
			So(tf.events.Successes[0].Message, ShouldContainSubstring, "created")
			So(tf.events.Successes[1].Message, ShouldContainSubstring, "already exists")
		})

		Convey("does not create an existing dataset", func() {
			tf.fake.AddDataset("d1")
			_, err := tf.f.CreateDataset(tf.ctx, "d1")
			So(err, ShouldBeNil)
			So(tf.fake.CallCount(fakewarehouse.CreateDataset), ShouldEqual, 0)
			_, err = tf.f.GetDataset("d1")
			So(err, ShouldBeNil)
		})

		Convey("does not cache on failure", func() {
			remote := &googleapi.Error{Code: http.StatusInternalServerError}
			tf.fake.SetError(fakewarehouse.CreateDataset, remote)
			_, err := tf.f.CreateDataset(tf.ctx, "d1")
			So(err, ShouldEqual, remote)
			_, err = tf.f.GetDataset("d1")
			So(bqerrors.NotFound.In(err), ShouldBeTrue)
			So(tf.events.Successes, ShouldHaveLength, 0)
		})

		Convey("surfaces a lost creation race", func() {
			tf.fake.SetError(fakewarehouse.CreateDataset, &googleapi.Error{Code: http.StatusConflict})
			_, err := tf.f.CreateDataset(tf.ctx, "d1")
			So(warehouse.IsAlreadyExists(err), ShouldBeTrue)
		})
	})
}

func TestCreateTable(t *testing.T) {
	t.Parallel()

	Convey("CreateTable", t, func() {
		tf := newInitializedFixture()

		Convey("requires a provisioned dataset", func() {
			tf.fake.AddDataset("d2")
			_, err := tf.f.CreateTable(tf.ctx, "d2", "t1", testSchema)
			So(bqerrors.NotFound.In(err), ShouldBeTrue)
			So(tf.fake.CallCount(fakewarehouse.TableExists), ShouldEqual, 0)
		})

		Convey("leaves an existing table alone", func() {
			tf.fake.AddTable("d1", "t1", nil)
			h, err := tf.f.CreateTable(tf.ctx, "d1", "t1", testSchema)
			So(err, ShouldBeNil)
			So(h.Schema, ShouldBeNil)
			So(tf.fake.CallCount(fakewarehouse.CreateTable), ShouldEqual, 0)
			So(tf.events.Successes[0].Message, ShouldContainSubstring, "already exists")

			cached, err := tf.f.GetTable("d1", "t1")
			So(err, ShouldBeNil)
			So(cached, ShouldResemble, h)
		})

		Convey("accepts an existing table without a schema", func() {
			tf.fake.AddTable("d1", "t1", nil)
			_, err := tf.f.CreateTable(tf.ctx, "d1", "t1", nil)
			So(err, ShouldBeNil)
		})

		Convey("requires a schema for a missing table", func() {
			_, err := tf.f.CreateTable(tf.ctx, "d1", "t1", nil)
			So(bqerrors.SchemaRequired.In(err), ShouldBeTrue)
			So(err, ShouldErrLike, "p1.d1.t1 does not exist")
			So(tf.fake.CallCount(fakewarehouse.CreateTable), ShouldEqual, 0)
			So(tf.fake.HasTable("d1", "t1"), ShouldBeFalse)

			_, err = tf.f.GetTable("d1", "t1")
			So(bqerrors.NotFound.In(err), ShouldBeTrue)
		})

		Convey("creates a missing table with the schema", func() {
			h, err := tf.f.CreateTable(tf.ctx, "d1", "t1", testSchema)
			So(err, ShouldBeNil)
			So(tf.fake.CallCount(fakewarehouse.CreateTable), ShouldEqual, 1)
			So(tf.fake.HasTable("d1", "t1"), ShouldBeTrue)
			So(h.Schema, ShouldHaveLength, len(testSchema))
			So(h.String(), ShouldEqual, "p1.d1.t1")
			So(tf.events.Successes[0].Message, ShouldContainSubstring, "created")

			again, err := tf.f.CreateTable(tf.ctx, "d1", "t1", testSchema)
			So(err, ShouldBeNil)
			So(again.Key(), ShouldResemble, h.Key())
			So(tf.fake.CallCount(fakewarehouse.CreateTable), ShouldEqual, 1)
		})

		Convey("rejects an invalid schema before calling out", func() {
			_, err := tf.f.CreateTable(tf.ctx, "d1", "t1", badSchema)
			So(bqerrors.InvalidSchema.In(err), ShouldBeTrue)
			So(tf.fake.CallCount(fakewarehouse.TableExists), ShouldEqual, 0)
		})

		Convey("passes remote errors through", func() {
			remote := &googleapi.Error{Code: http.StatusServiceUnavailable}
			tf.fake.SetError(fakewarehouse.TableExists, remote)
			_, err := tf.f.CreateTable(tf.ctx, "d1", "t1", testSchema)
			So(err, ShouldEqual, remote)
			So(tf.events.Errors, ShouldHaveLength, 1)
			So(tf.events.Errors[0].Data["op"], ShouldEqual, "createTable")
		})
	})
}

func TestLookups(t *testing.T) {
	t.Parallel()

	Convey("Lookups never call out", t, func() {
		tf := newFixture(config.Config{ProjectID: "p1"})

		_, err := tf.f.GetTable("d1", "t1")
		So(bqerrors.NotFound.In(err), ShouldBeTrue)
		_, err = tf.f.GetDataset("d1")
		So(bqerrors.NotFound.In(err), ShouldBeTrue)
		So(tf.fake.TotalCalls(), ShouldEqual, 0)
		So(tf.dials, ShouldEqual, 0)
	})
}
