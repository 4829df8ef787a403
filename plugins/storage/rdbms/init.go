// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package rdbms

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pressly/goose"

	"github.com/facebookincubator/buildsync/pkg/cerrors"
	"github.com/facebookincubator/buildsync/pkg/config"
	"github.com/facebookincubator/buildsync/pkg/logging"
	"github.com/facebookincubator/buildsync/pkg/storage"
	"github.com/facebookincubator/buildsync/pkg/types"
	"github.com/facebookincubator/buildsync/tools/migration/rdbms/migrationlib"

	// this blank import registers the mysql driver
	_ "github.com/go-sql-driver/mysql"
	// this blank import registers the sqlite3 driver
	_ "github.com/mattn/go-sqlite3"
)

var log = logging.GetLogger("plugin/storage/rdbms")

var errTxDone = errors.New("transaction has already been committed or rolled back")

// tables lists every table of the schema, children first.
var tables = []string{
	"test_results",
	"aggregate_test_suites",
	"test_suites",
	"log_chunks",
	"log_sources",
	"nodes",
	"job_steps",
	"job_phases",
	"jobs",
}

// RDBMS implements a storage engine which stores build information in a
// relational database via the database/sql package. MySQL and SQLite are
// supported, the schema is managed by the goose migrations under
// db/rdbms/migrations.
//
// A transaction is bound to a single connection, so statements issued through
// the same transaction are serialized. Nested transactions are implemented
// with savepoints.
type RDBMS struct {
	driverName  string
	dialectName string
	dbURI       string
	dialect     *dialect

	initOnce *sync.Once
	db       *sql.DB

	// set only within transactions
	tx         *sql.Tx
	txLock     *sync.Mutex
	savepoints *int
	savepoint  string
	done       bool
}

// querier is implemented by both *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// scanner is implemented by both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func (r *RDBMS) init() error {
	initFunc := func() error {
		if err := goose.SetDialect(r.dialect.name); err != nil {
			return fmt.Errorf("could not set migration dialect: %w", err)
		}
		if r.db != nil {
			return nil
		}
		db, err := sql.Open(r.driverName, r.dbURI)
		if err != nil {
			return fmt.Errorf("could not initialize database: %w", err)
		}
		r.db = db
		return nil
	}

	var initErr error
	r.initOnce.Do(func() {
		initErr = initFunc()
	})
	if initErr == nil && r.db == nil {
		return errors.New("database initialization failed earlier")
	}
	return initErr
}

// lockTx serializes the statements issued through a transaction. Outside
// transactions the connection pool takes care of concurrent access.
func (r *RDBMS) lockTx() {
	if r.tx != nil {
		r.txLock.Lock()
	}
}

func (r *RDBMS) unlockTx() {
	if r.tx != nil {
		r.txLock.Unlock()
	}
}

// q returns the handle statements should be issued through.
func (r *RDBMS) q() (querier, error) {
	if r.done {
		return nil, errTxDone
	}
	if r.tx != nil {
		return r.tx, nil
	}
	if err := r.init(); err != nil {
		return nil, err
	}
	return r.db, nil
}

func (r *RDBMS) exec(ctx context.Context, q querier, stmt string, args ...interface{}) (sql.Result, error) {
	log.Debugf("Executing query: %s", stmt)
	return q.ExecContext(ctx, stmt, args...)
}

func (r *RDBMS) query(ctx context.Context, q querier, stmt string, args ...interface{}) (*sql.Rows, error) {
	log.Debugf("Executing query: %s", stmt)
	return q.QueryContext(ctx, stmt, args...)
}

func (r *RDBMS) queryRow(ctx context.Context, q querier, stmt string, args ...interface{}) *sql.Row {
	log.Debugf("Executing query: %s", stmt)
	return q.QueryRowContext(ctx, stmt, args...)
}

func closeRows(rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		log.Warningf("could not close rows: %v", err)
	}
}

// exists returns a not-found error if no row of table has the given id.
func (r *RDBMS) exists(ctx context.Context, q querier, table, what string, id types.ID) error {
	var found string
	err := r.queryRow(ctx, q, fmt.Sprintf("SELECT id FROM %s WHERE id = ?", table), id).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound(what, id)
	}
	if err != nil {
		return fmt.Errorf("could not look up %s %s: %w", what, id, err)
	}
	return nil
}

func notFound(what string, id interface{}) error {
	return fmt.Errorf("%s %v: %w", what, id, cerrors.ErrNotFound)
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	ret := t.Time.UTC()
	return &ret
}

// BeginTx starts a transaction, or a savepoint when called within a
// transaction.
func (r *RDBMS) BeginTx() (storage.TransactionalStorage, error) {
	if r.done {
		return nil, errTxDone
	}
	if r.tx == nil {
		if err := r.init(); err != nil {
			return nil, err
		}
		tx, err := r.db.Begin()
		if err != nil {
			return nil, fmt.Errorf("could not begin transaction: %w", err)
		}
		return &RDBMS{
			driverName:  r.driverName,
			dialectName: r.dialectName,
			dbURI:       r.dbURI,
			dialect:     r.dialect,
			initOnce:    r.initOnce,
			db:          r.db,
			tx:          tx,
			txLock:      &sync.Mutex{},
			savepoints:  new(int),
		}, nil
	}

	r.lockTx()
	defer r.unlockTx()
	*r.savepoints++
	name := fmt.Sprintf("sp_%d", *r.savepoints)
	if _, err := r.exec(context.Background(), r.tx, "SAVEPOINT "+name); err != nil {
		return nil, fmt.Errorf("could not create savepoint: %w", err)
	}
	return &RDBMS{
		driverName:  r.driverName,
		dialectName: r.dialectName,
		dbURI:       r.dbURI,
		dialect:     r.dialect,
		initOnce:    r.initOnce,
		db:          r.db,
		tx:          r.tx,
		txLock:      r.txLock,
		savepoints:  r.savepoints,
		savepoint:   name,
	}, nil
}

// Commit commits the transaction, or releases the savepoint of a nested
// transaction.
func (r *RDBMS) Commit() error {
	if r.tx == nil {
		return errors.New("not in a transaction")
	}
	r.lockTx()
	defer r.unlockTx()
	if r.done {
		return errTxDone
	}
	r.done = true
	if r.savepoint != "" {
		if _, err := r.exec(context.Background(), r.tx, "RELEASE SAVEPOINT "+r.savepoint); err != nil {
			return fmt.Errorf("could not release savepoint: %w", err)
		}
		return nil
	}
	return r.tx.Commit()
}

// Rollback rolls the transaction back, or only the changes made since the
// savepoint of a nested transaction.
func (r *RDBMS) Rollback() error {
	if r.tx == nil {
		return errors.New("not in a transaction")
	}
	r.lockTx()
	defer r.unlockTx()
	if r.done {
		return errTxDone
	}
	r.done = true
	if r.savepoint != "" {
		if _, err := r.exec(context.Background(), r.tx, "ROLLBACK TO SAVEPOINT "+r.savepoint); err != nil {
			return fmt.Errorf("could not roll back to savepoint: %w", err)
		}
		if _, err := r.exec(context.Background(), r.tx, "RELEASE SAVEPOINT "+r.savepoint); err != nil {
			return fmt.Errorf("could not release savepoint: %w", err)
		}
		return nil
	}
	return r.tx.Rollback()
}

// Reset restores a clean state in the database. It's meant to be used after
// integration tests. As it's a potentially dangerous operation, it's not part
// of the Storage interface.
func (r *RDBMS) Reset() error {
	if r.tx != nil {
		return errors.New("cannot reset the database within a transaction")
	}
	if err := r.init(); err != nil {
		return fmt.Errorf("could not initialize database: %w", err)
	}
	for _, table := range tables {
		if _, err := r.db.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("could not clean table %s: %w", table, err)
		}
	}
	return nil
}

// Version returns the version of the schema, as recorded by the migrations.
func (r *RDBMS) Version() (uint64, error) {
	if err := r.init(); err != nil {
		return 0, fmt.Errorf("could not initialize database: %w", err)
	}
	v, err := migrationlib.DBVersion(r.db)
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, fmt.Errorf("invalid schema version %d", v)
	}
	return uint64(v), nil
}

// Close closes the database. Closing a transaction rolls it back if it was
// not finished yet.
func (r *RDBMS) Close() error {
	if r.tx != nil {
		if r.done {
			return nil
		}
		return r.Rollback()
	}
	if err := r.init(); err != nil {
		return err
	}
	return r.db.Close()
}

// Opt is a function type that sets parameters on the RDBMS object
type Opt func(rdbms *RDBMS)

// DriverName selects the database/sql driver, "mysql" by default. The SQL
// dialect follows the driver unless set with Dialect.
func DriverName(name string) Opt {
	return func(rdbms *RDBMS) {
		rdbms.driverName = name
	}
}

// Dialect allows using a driver which wraps one of the supported databases,
// e.g. a mysql-compatible driver registered under a different name.
func Dialect(name string) Opt {
	return func(rdbms *RDBMS) {
		rdbms.dialectName = name
	}
}

// Database makes the backend use an already opened database.
func Database(db *sql.DB) Opt {
	return func(rdbms *RDBMS) {
		rdbms.db = db
	}
}

// New creates a RDBMS storage backend with default parameters. The database
// is opened lazily, on first use.
func New(dbURI string, opts ...Opt) (storage.TransactionalStorage, error) {
	backend := RDBMS{
		driverName: config.DefaultDBDriver,
		dbURI:      dbURI,
		initOnce:   &sync.Once{},
	}
	for _, Opt := range opts {
		Opt(&backend)
	}
	if backend.dialectName == "" {
		backend.dialectName = backend.driverName
	}
	d, err := dialectFor(backend.dialectName)
	if err != nil {
		return nil, err
	}
	backend.dialect = d
	return &backend, nil
}
