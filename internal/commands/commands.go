// Copyright 2024 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package commands implements the bqfacade subcommands.
package commands

import "github.com/maruel/subcommands"

// All returns every bqfacade subcommand.
func All() []*subcommands.Command {
	return []*subcommands.Command{
		CreateDatasetCommand,
		CreateTableCommand,
		InsertCommand,
		QueryCommand,
		UpdateAvailableCommand,
	}
}
