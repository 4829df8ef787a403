// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package buildinfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestString(t *testing.T) {
	defer func(rev, date string) {
		Revision, BuildDate = rev, date
	}(Revision, BuildDate)

	Revision, BuildDate = "", ""
	assert.Equal(t, "buildsync unknown (dev)", String())

	Revision, BuildDate = "abc123", "2021-03-04"
	assert.Equal(t, "buildsync abc123 (dev), built on 2021-03-04", String())
}
