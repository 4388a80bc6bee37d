// Copyright 2024 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	. "go.chromium.org/luci/common/testing/assertions"
)

func TestConfig(t *testing.T) {
	t.Parallel()

	Convey("AuthMethod", t, func() {
		So(Config{ProjectID: "p1"}.AuthMethod(), ShouldEqual, KeyFile)
		So(Config{ProjectID: "p1", KeyFilename: "/k.json"}.AuthMethod(), ShouldEqual, KeyFile)
		So(Config{
			ProjectID:   "p1",
			KeyFilename: "/k.json",
			Credentials: map[string]string{"client_email": "a@b", "private_key": "k"},
		}.AuthMethod(), ShouldEqual, PrivateKey)
	})

	Convey("Validate", t, func() {
		So(Config{}.Validate(), ShouldErrLike, "projectId is required")
		So(Config{ProjectID: "p1"}.Validate(), ShouldBeNil)
		So(Config{
			ProjectID:   "p1",
			Credentials: map[string]string{"client_email": "a@b"},
		}.Validate(), ShouldErrLike, "credentials.private_key is required")
	})

	Convey("ClientOptions", t, func() {
		Convey("ambient credentials only set the user agent", func() {
			opts, err := Config{ProjectID: "p1"}.ClientOptions()
			So(err, ShouldBeNil)
			So(opts, ShouldHaveLength, 1)
		})

		Convey("key file", func() {
			opts, err := Config{ProjectID: "p1", KeyFilename: "/k.json"}.ClientOptions()
			So(err, ShouldBeNil)
			So(opts, ShouldHaveLength, 2)
		})

		Convey("inline credentials", func() {
			opts, err := Config{
				ProjectID:   "p1",
				Credentials: map[string]string{"client_email": "a@b", "private_key": "k"},
			}.ClientOptions()
			So(err, ShouldBeNil)
			So(opts, ShouldHaveLength, 2)
		})

		Convey("invalid config", func() {
			_, err := Config{}.ClientOptions()
			So(err, ShouldNotBeNil)
		})
	})

	Convey("Load", t, func() {
		Convey("yaml", func() {
			c, err := Load(strings.NewReader(`
projectId: p1
credentials:
  client_email: a@b
  private_key: k
`))
			So(err, ShouldBeNil)
			So(c.ProjectID, ShouldEqual, "p1")
			So(c.AuthMethod(), ShouldEqual, PrivateKey)
		})

		Convey("json", func() {
			c, err := Load(strings.NewReader(`{"projectId": "p1", "keyFilename": "/k.json"}`))
			So(err, ShouldBeNil)
			So(c, ShouldResemble, Config{ProjectID: "p1", KeyFilename: "/k.json"})
		})

		Convey("missing project", func() {
			_, err := Load(strings.NewReader(`keyFilename: /k.json`))
			So(err, ShouldErrLike, "load config: config: projectId is required")
		})

		Convey("file", func() {
			path := filepath.Join(t.TempDir(), "config.yaml")
			So(os.WriteFile(path, []byte("projectId: p2\n"), 0o600), ShouldBeNil)
			c, err := LoadFile(path)
			So(err, ShouldBeNil)
			So(c.ProjectID, ShouldEqual, "p2")
		})
	})
}
