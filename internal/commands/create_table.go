// Copyright 2024 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package commands

import (
	"context"
	"fmt"

	"github.com/maruel/subcommands"

	"go.chromium.org/luci/common/cli"

	"infra/bqfacade/cmdsupport/cmdlib"
	"infra/bqfacade/internal/site"
)

// CreateTableCommand makes sure a table exists.
var CreateTableCommand *subcommands.Command = &subcommands.Command{
	UsageLine: "create-table [options...] <dataset>.<table>",
	ShortDesc: "create a table if it does not exist",
	LongDesc: `Create a table if it does not exist.

The dataset is created too if needed. A schema is only required when the
table does not exist yet; it is a YAML list of {name, type} columns.`,
	CommandRun: func() subcommands.CommandRun {
		c := &createTableCommand{}
		c.commonFlags.Register(&c.Flags)
		c.Flags.StringVar(&c.schemaPath, "schema", "", "YAML schema file, used if the table has to be created")
		return c
	},
}

type createTableCommand struct {
	subcommands.CommandRunBase
	commonFlags site.CommonFlags
	schemaPath  string
}

// Run is the main entrypoint to create-table.
func (c *createTableCommand) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	ctx := cli.GetContext(a, c, env)
	if err := c.innerRun(ctx, a, args); err != nil {
		cmdlib.PrintError(a, err)
		return 1
	}
	return 0
}

func (c *createTableCommand) innerRun(ctx context.Context, a subcommands.Application, args []string) error {
	if len(args) != 1 {
		return cmdlib.NewUsageError(c.Flags, "want exactly one <dataset>.<table>, got %d arguments", len(args))
	}
	dataset, table, err := site.ParseTableRef(args[0])
	if err != nil {
		return err
	}
	sch, err := loadSchema(c.schemaPath)
	if err != nil {
		return err
	}

	s, err := openSession(ctx, &c.commonFlags)
	if err != nil {
		return err
	}
	defer s.close(ctx)

	h, err := provision(ctx, s.f, dataset, table, sch)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(a.GetOut(), h)
	return err
}
