// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

// Package buildinfo holds values set at link time, e.g.
//   go build -ldflags "-X github.com/facebookincubator/buildsync/pkg/buildinfo.Revision=$(git rev-parse HEAD)"
package buildinfo

import "fmt"

var (
	// BuildMode is usually "prod" or "dev".
	BuildMode = "dev"

	// BuildDate is when the binary was built.
	BuildDate string

	// Revision is the commit.
	Revision string
)

// String describes the running binary.
func String() string {
	rev := Revision
	if rev == "" {
		rev = "unknown"
	}
	s := fmt.Sprintf("buildsync %s (%s)", rev, BuildMode)
	if BuildDate != "" {
		s += ", built on " + BuildDate
	}
	return s
}
