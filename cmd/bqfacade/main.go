// Copyright 2024 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Command bqfacade provisions BigQuery datasets and tables, streams rows into
// them and runs queries.
//
// Usage:
//
//	bqfacade <command> [options...]
package main

import (
	"context"
	"os"

	"github.com/maruel/subcommands"
	"go.chromium.org/luci/common/cli"
	"go.chromium.org/luci/common/logging/gologger"

	"infra/bqfacade/internal/commands"
)

// getApplication returns the bqfacade command line application.
func getApplication() *cli.Application {
	return &cli.Application{
		Name:  "bqfacade",
		Title: "BigQuery facade command line tool",
		Context: func(ctx context.Context) context.Context {
			return gologger.StdConfig.Use(ctx)
		},
		Commands: append([]*subcommands.Command{
			subcommands.CmdHelp,
		}, commands.All()...),
	}
}

// main is the entrypoint to the bqfacade command line application.
func main() {
	os.Exit(subcommands.Run(getApplication(), nil))
}
