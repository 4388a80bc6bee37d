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

// CreateDatasetCommand makes sure a dataset exists.
var CreateDatasetCommand *subcommands.Command = &subcommands.Command{
	UsageLine: "create-dataset [options...] <dataset>",
	ShortDesc: "create a dataset if it does not exist",
	LongDesc:  "Create a dataset if it does not exist. Existing datasets are left alone.",
	CommandRun: func() subcommands.CommandRun {
		c := &createDatasetCommand{}
		c.commonFlags.Register(&c.Flags)
		return c
	},
}

type createDatasetCommand struct {
	subcommands.CommandRunBase
	commonFlags site.CommonFlags
}

// Run is the main entrypoint to create-dataset.
func (c *createDatasetCommand) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	ctx := cli.GetContext(a, c, env)
	if err := c.innerRun(ctx, a, args); err != nil {
		cmdlib.PrintError(a, err)
		return 1
	}
	return 0
}

func (c *createDatasetCommand) innerRun(ctx context.Context, a subcommands.Application, args []string) error {
	if len(args) != 1 {
		return cmdlib.NewUsageError(c.Flags, "want exactly one dataset, got %d arguments", len(args))
	}
	s, err := openSession(ctx, &c.commonFlags)
	if err != nil {
		return err
	}
	defer s.close(ctx)

	h, err := s.f.CreateDataset(ctx, args[0])
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(a.GetOut(), h)
	return err
}
