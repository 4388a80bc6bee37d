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

// UpdateAvailableCommand reports whether a table can be updated.
var UpdateAvailableCommand *subcommands.Command = &subcommands.Command{
	UsageLine: "update-available [options...] <dataset>.<table>",
	ShortDesc: "check whether a table can be updated",
	LongDesc: `Print true if the rows of an existing table can be updated or deleted,
false while recently streamed rows are still buffered.`,
	CommandRun: func() subcommands.CommandRun {
		c := &updateAvailableCommand{}
		c.commonFlags.Register(&c.Flags)
		return c
	},
}

type updateAvailableCommand struct {
	subcommands.CommandRunBase
	commonFlags site.CommonFlags
}

// Run is the main entrypoint to update-available.
func (c *updateAvailableCommand) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	ctx := cli.GetContext(a, c, env)
	if err := c.innerRun(ctx, a, args); err != nil {
		cmdlib.PrintError(a, err)
		return 1
	}
	return 0
}

func (c *updateAvailableCommand) innerRun(ctx context.Context, a subcommands.Application, args []string) error {
	if len(args) != 1 {
		return cmdlib.NewUsageError(c.Flags, "want exactly one <dataset>.<table>, got %d arguments", len(args))
	}
	dataset, table, err := site.ParseTableRef(args[0])
	if err != nil {
		return err
	}

	s, err := openSession(ctx, &c.commonFlags)
	if err != nil {
		return err
	}
	defer s.close(ctx)

	if _, err := provision(ctx, s.f, dataset, table, nil); err != nil {
		return err
	}
	ok, err := s.f.UpdateAvailable(ctx, dataset, table)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(a.GetOut(), ok)
	return err
}
