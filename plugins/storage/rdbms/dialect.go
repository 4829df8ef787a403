// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package rdbms

import (
	"fmt"
	"strings"
)

// dialect captures the few statements in which MySQL and SQLite differ. The
// rest of the SQL is kept within the subset understood by both.
type dialect struct {
	// name is the dialect name known to goose
	name string
	// insertIgnore starts an INSERT which silently skips duplicate keys
	insertIgnore string
	// upsert returns the clause which turns an INSERT into an update of the
	// given columns when the key already exists.
	upsert func(key []string, update []string) string
}

var dialects = map[string]*dialect{
	"mysql": {
		name:         "mysql",
		insertIgnore: "INSERT IGNORE INTO",
		upsert: func(_ []string, update []string) string {
			sets := make([]string, 0, len(update))
			for _, col := range update {
				sets = append(sets, fmt.Sprintf("%s = VALUES(%s)", col, col))
			}
			return "ON DUPLICATE KEY UPDATE " + strings.Join(sets, ", ")
		},
	},
	"sqlite3": {
		name:         "sqlite3",
		insertIgnore: "INSERT OR IGNORE INTO",
		upsert: func(key []string, update []string) string {
			sets := make([]string, 0, len(update))
			for _, col := range update {
				sets = append(sets, fmt.Sprintf("%s = excluded.%s", col, col))
			}
			return fmt.Sprintf("ON CONFLICT (%s) DO UPDATE SET %s", strings.Join(key, ", "), strings.Join(sets, ", "))
		},
	},
}

func dialectFor(name string) (*dialect, error) {
	d, ok := dialects[name]
	if !ok {
		return nil, fmt.Errorf("unsupported SQL dialect %q", name)
	}
	return d, nil
}

// insertStmt builds an INSERT statement for the given columns.
func insertStmt(verb, table string, cols []string) string {
	return fmt.Sprintf("%s %s (%s) VALUES (%s)", verb, table, strings.Join(cols, ", "), placeholders(len(cols)))
}

func (d *dialect) upsertStmt(table string, cols, key, update []string) string {
	return insertStmt("INSERT INTO", table, cols) + " " + d.upsert(key, update)
}

func (d *dialect) insertIgnoreStmt(table string, cols []string) string {
	return insertStmt(d.insertIgnore, table, cols)
}
