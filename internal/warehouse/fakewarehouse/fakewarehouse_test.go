// Copyright 2024 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package fakewarehouse

import (
	"context"
	"testing"

	"cloud.google.com/go/bigquery"

	. "github.com/smartystreets/goconvey/convey"

	"infra/bqfacade/internal/warehouse"
)

func TestTableMetadata(t *testing.T) {
	t.Parallel()

	Convey("TableMetadata", t, func() {
		ctx := context.Background()
		s := New("p1")
		schema := bigquery.Schema{{Name: "name", Type: bigquery.StringFieldType}}

		Convey("reports created tables like the service", func() {
			s.AddDataset("d1")
			So(s.CreateTable(ctx, "d1", "t1", schema), ShouldBeNil)
			md, err := s.TableMetadata(ctx, "d1", "t1")
			So(err, ShouldBeNil)
			So(md.FullID, ShouldEqual, "p1:d1.t1")
			So(md.Schema, ShouldResemble, schema)
			So(md.StreamingBuffer, ShouldBeNil)
		})

		Convey("reports added tables like the service", func() {
			s.AddTable("d1", "t2", schema)
			md, err := s.TableMetadata(ctx, "d1", "t2")
			So(err, ShouldBeNil)
			So(md.FullID, ShouldEqual, "p1:d1.t2")
		})

		Convey("returns a copy of the streaming buffer", func() {
			s.AddTable("d1", "t1", schema)
			s.SetStreamingBuffer("d1", "t1", &bigquery.StreamingBuffer{EstimatedRows: 1})
			md, err := s.TableMetadata(ctx, "d1", "t1")
			So(err, ShouldBeNil)
			md.StreamingBuffer.EstimatedRows = 100

			again, err := s.TableMetadata(ctx, "d1", "t1")
			So(err, ShouldBeNil)
			So(again.StreamingBuffer.EstimatedRows, ShouldEqual, uint64(1))
		})

		Convey("reports missing tables as 404", func() {
			_, err := s.TableMetadata(ctx, "d1", "nope")
			So(warehouse.IsNotFound(err), ShouldBeTrue)
		})
	})
}
