// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

//go:build integration_storage || integration
// +build integration_storage integration

package common

import (
	"database/sql"
	"fmt"

	"github.com/facebookincubator/buildsync/pkg/config"
	"github.com/facebookincubator/buildsync/pkg/storage"
	"github.com/facebookincubator/buildsync/plugins/storage/rdbms"
	"github.com/facebookincubator/buildsync/tools/migration/rdbms/migrationlib"
)

// DBURI points to the database of the integration environment.
const DBURI = "buildsync:buildsync@tcp(mysql:3306)/buildsync_integ?parseTime=true"

// MigrationsDir is relative to the packages under tests/integ.
const MigrationsDir = "../../../db/rdbms/migrations"

// NewStorage returns a MySQL backed storage engine with an up-to-date schema.
func NewStorage(opts ...rdbms.Opt) (storage.TransactionalStorage, error) {
	db, err := sql.Open(config.DefaultDBDriver, DBURI)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}
	if _, err := migrationlib.Up(db, config.DefaultDBDriver, MigrationsDir); err != nil {
		return nil, err
	}
	return rdbms.New(DBURI, append([]rdbms.Opt{rdbms.Database(db)}, opts...)...)
}
