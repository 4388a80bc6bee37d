// Copyright 2024 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package commands

import (
	"context"
	"encoding/json"
	"io"
	"strings"

	"cloud.google.com/go/bigquery"
	"github.com/maruel/subcommands"
	"google.golang.org/api/iterator"

	"go.chromium.org/luci/common/cli"

	"infra/bqfacade/cmdsupport/cmdlib"
	"infra/bqfacade/internal/facade"
	"infra/bqfacade/internal/site"
)

// QueryCommand runs a query and prints the result rows.
var QueryCommand *subcommands.Command = &subcommands.Command{
	UsageLine: "query [options...] <query>",
	ShortDesc: "run a query",
	LongDesc: `Run a query and print the result rows as newline delimited JSON.

Without -stream the job is waited for once and fails if it is not complete.
With -stream the rows are printed as they are read.`,
	CommandRun: func() subcommands.CommandRun {
		c := &queryCommand{}
		c.commonFlags.Register(&c.Flags)
		c.Flags.BoolVar(&c.legacySQL, "legacy-sql", false, "use the legacy SQL dialect")
		c.Flags.IntVar(&c.maxBillingTier, "max-billing-tier", facade.DefaultMaxBillingTier, "maximum billing tier")
		c.Flags.BoolVar(&c.stream, "stream", false, "print rows while reading them")
		return c
	},
}

type queryCommand struct {
	subcommands.CommandRunBase
	commonFlags    site.CommonFlags
	legacySQL      bool
	maxBillingTier int
	stream         bool
}

// Run is the main entrypoint to query.
func (c *queryCommand) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	ctx := cli.GetContext(a, c, env)
	if err := c.innerRun(ctx, a, args); err != nil {
		cmdlib.PrintError(a, err)
		return 1
	}
	return 0
}

func (c *queryCommand) innerRun(ctx context.Context, a subcommands.Application, args []string) error {
	if len(args) == 0 {
		return cmdlib.NewUsageError(c.Flags, "missing query")
	}
	req := facade.QueryRequest{
		Text:           strings.Join(args, " "),
		UseLegacySQL:   c.legacySQL,
		MaxBillingTier: c.maxBillingTier,
	}

	s, err := openSession(ctx, &c.commonFlags)
	if err != nil {
		return err
	}
	defer s.close(ctx)

	if c.stream {
		return streamRows(ctx, a.GetOut(), s.f, req)
	}
	rows, err := facade.Query[map[string]bigquery.Value](ctx, s.f, req)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(a.GetOut())
	for _, row := range rows {
		if err := enc.Encode(row); err != nil {
			return err
		}
	}
	return nil
}

func streamRows(ctx context.Context, w io.Writer, f *facade.Facade, req facade.QueryRequest) error {
	enc := json.NewEncoder(w)
	stream := f.QueryStream(ctx, req)
	for {
		var row map[string]bigquery.Value
		switch err := stream.Next(&row); {
		case err == iterator.Done:
			return nil
		case err != nil:
			return err
		}
		if err := enc.Encode(row); err != nil {
			return err
		}
	}
}
