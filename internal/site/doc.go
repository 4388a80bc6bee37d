// Copyright 2024 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package site contains miscellaneous details of the bqfacade tool that are
// not related to the facade itself, such as where to find the configuration.
package site
