// Copyright 2024 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package facade

import (
	"context"

	"go.chromium.org/luci/common/tsmon/field"
	"go.chromium.org/luci/common/tsmon/metric"
)

var (
	operationsTick = metric.NewCounter(
		"bqfacade/operations",
		"facade operation attempts",
		nil,
		field.String("op"),
		field.Bool("success"),
	)
	rowsInserted = metric.NewCounter(
		"bqfacade/rows_inserted",
		"rows accepted by streaming inserts",
		nil,
		field.String("table"),
	)
)

func recordOp(ctx context.Context, op string, err error) {
	operationsTick.Add(ctx, 1, op, err == nil)
}
