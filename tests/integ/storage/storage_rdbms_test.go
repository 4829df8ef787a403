// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

//go:build integration_storage || integration
// +build integration_storage integration

package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/facebookincubator/buildsync/pkg/storage"
	"github.com/facebookincubator/buildsync/tests/common/storagesuite"
	"github.com/facebookincubator/buildsync/tests/integ/common"
)

func TestRDBMSStorageSuite(t *testing.T) {
	stor, err := common.NewStorage()
	require.NoError(t, err)
	defer func() {
		_ = stor.Close()
	}()
	require.NoError(t, storage.CheckVersion(stor))
	suite.Run(t, &storagesuite.StorageSuite{Storage: stor})
}
