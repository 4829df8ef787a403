// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package migrationlib

import (
	"database/sql"
	"fmt"

	"github.com/pressly/goose"
)

// DBVersion returns the current version of the database schema
func DBVersion(db *sql.DB) (int64, error) {
	return goose.GetDBVersion(db)
}

// Up migrates the schema of db to the most recent version found in dir.
// dialect is the goose dialect of the database, e.g. mysql or sqlite3.
func Up(db *sql.DB, dialect, dir string) (int64, error) {
	if err := goose.SetDialect(dialect); err != nil {
		return 0, fmt.Errorf("could not set migration dialect: %w", err)
	}
	if err := goose.Up(db, dir); err != nil {
		return 0, fmt.Errorf("could not migrate schema from %s: %w", dir, err)
	}
	return DBVersion(db)
}
