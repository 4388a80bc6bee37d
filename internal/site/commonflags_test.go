// Copyright 2024 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package site

import (
	"flag"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	. "go.chromium.org/luci/common/testing/assertions"
)

func TestParseTableRef(t *testing.T) {
	t.Parallel()

	cases := []struct {
		ref     string
		dataset string
		table   string
		err     string
	}{
		{ref: "d.t", dataset: "d", table: "t"},
		{ref: "d", err: "should have form"},
		{ref: "p.d.t", err: "should have form"},
		{ref: ".t", err: "should have form"},
		{ref: "d.", err: "should have form"},
	}
	for _, tt := range cases {
		tt := tt
		t.Run(tt.ref, func(t *testing.T) {
			t.Parallel()
			dataset, table, err := ParseTableRef(tt.ref)
			if tt.err != "" {
				if err == nil {
					t.Fatalf("ParseTableRef(%q) succeeded, want error", tt.ref)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseTableRef(%q): %s", tt.ref, err)
			}
			if dataset != tt.dataset || table != tt.table {
				t.Errorf("ParseTableRef(%q) = %q, %q; want %q, %q", tt.ref, dataset, table, tt.dataset, tt.table)
			}
		})
	}
}

func TestCommonFlags(t *testing.T) {
	Convey("CommonFlags", t, func() {
		var fl CommonFlags
		fs := flag.NewFlagSet("test", flag.ContinueOnError)
		fl.Register(fs)

		Convey("defaults", func() {
			t.Setenv(ConfigEnvVar, "")
			So(fs.Parse(nil), ShouldBeNil)
			So(fl.ConfigPath(), ShouldEqual, DefaultConfigPath)
			So(fl.Name(), ShouldEqual, "bqfacade")
			_, _, ok, err := fl.AuditTable()
			So(err, ShouldBeNil)
			So(ok, ShouldBeFalse)
		})

		Convey("environment", func() {
			t.Setenv(ConfigEnvVar, "/etc/bq.yaml")
			So(fs.Parse(nil), ShouldBeNil)
			So(fl.ConfigPath(), ShouldEqual, "/etc/bq.yaml")
		})

		Convey("flags", func() {
			t.Setenv(ConfigEnvVar, "/etc/bq.yaml")
			So(fs.Parse([]string{"-config", "mine.yaml", "-audit-table", "audit.log", "-name", "ingest"}), ShouldBeNil)
			So(fl.ConfigPath(), ShouldEqual, "mine.yaml")
			So(fl.Name(), ShouldEqual, "ingest")
			dataset, table, ok, err := fl.AuditTable()
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)
			So(dataset, ShouldEqual, "audit")
			So(table, ShouldEqual, "log")
		})

		Convey("bad audit table", func() {
			So(fs.Parse([]string{"-audit-table", "nodot"}), ShouldBeNil)
			_, _, _, err := fl.AuditTable()
			So(err, ShouldErrLike, "-audit-table")
		})
	})
}
