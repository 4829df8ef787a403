// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package rdbms

import (
	"context"
	"database/sql"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/facebookincubator/buildsync/pkg/job"
	"github.com/facebookincubator/buildsync/pkg/logchunk"
	"github.com/facebookincubator/buildsync/pkg/storage"
	"github.com/facebookincubator/buildsync/pkg/types"
	"github.com/facebookincubator/buildsync/tests/common/storagesuite"
	"github.com/facebookincubator/buildsync/tools/migration/rdbms/migrationlib"
)

const migrationsDir = "../../../db/rdbms/migrations"

func newSQLiteStorage(t *testing.T) storage.TransactionalStorage {
	uri := "file:" + filepath.Join(t.TempDir(), "buildsync.db") + "?_busy_timeout=5000&_journal_mode=WAL"
	db, err := sql.Open("sqlite3", uri)
	require.NoError(t, err)
	_, err = migrationlib.Up(db, "sqlite3", migrationsDir)
	require.NoError(t, err)

	stor, err := New(uri, DriverName("sqlite3"), Database(db))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = stor.Close()
	})
	return stor
}

func TestSQLiteStorageSuite(t *testing.T) {
	suite.Run(t, &storagesuite.StorageSuite{Storage: newSQLiteStorage(t)})
}

func TestSQLiteVersion(t *testing.T) {
	stor := newSQLiteStorage(t)
	v, err := stor.Version()
	require.NoError(t, err)
	require.Equal(t, uint64(1), v)
	require.NoError(t, storage.CheckVersion(stor))
}

func TestSQLiteResetAndCommit(t *testing.T) {
	ctx := context.Background()
	stor := newSQLiteStorage(t)

	tx, err := stor.BeginTx()
	require.NoError(t, err)
	j := job.New(types.NewID(), job.Source{Patch: []byte("diff")})
	require.NoError(t, tx.SaveJob(ctx, j))
	require.NoError(t, tx.Commit())

	got, err := stor.GetJob(ctx, j.ID)
	require.NoError(t, err)
	require.Equal(t, []byte("diff"), got.Source.Patch)

	require.NoError(t, stor.(*RDBMS).Reset())
	_, err = stor.GetJob(ctx, j.ID)
	require.Error(t, err)
}

func TestSQLiteSaveTestResultsOutsideTransaction(t *testing.T) {
	ctx := context.Background()
	stor := newSQLiteStorage(t)
	jobID := types.NewID()
	results := []*job.TestResult{
		{JobID: jobID, SuiteID: types.NewID(), Name: "TestA", Result: job.ResultPassed},
		{JobID: jobID, SuiteID: types.NewID(), Name: "TestB", Result: job.ResultSkipped},
	}
	require.NoError(t, stor.SaveTestResults(ctx, results))
	got, err := stor.ListTestResults(ctx, jobID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "TestA", got[0].Name)
	assert.Equal(t, "TestB", got[1].Name)
	assert.Equal(t, results[1].ID, got[1].ID)
}

func TestTransactionRequired(t *testing.T) {
	stor := newSQLiteStorage(t)
	require.Error(t, stor.Commit())
	require.Error(t, stor.Rollback())
}

func TestUnknownDialect(t *testing.T) {
	_, err := New("", DriverName("postgres"))
	require.Error(t, err)

	_, err = New("", DriverName("wrapped-mysql"), Dialect("mysql"))
	require.NoError(t, err)
}

func TestDialectStatements(t *testing.T) {
	mysql, err := dialectFor("mysql")
	require.NoError(t, err)
	assert.Equal(t,
		"INSERT INTO nodes (id, label) VALUES (?, ?) ON DUPLICATE KEY UPDATE label = VALUES(label)",
		mysql.upsertStmt("nodes", []string{"id", "label"}, []string{"id"}, []string{"label"}))
	assert.Equal(t, "INSERT IGNORE INTO nodes (id, label) VALUES (?, ?)", mysql.insertIgnoreStmt("nodes", []string{"id", "label"}))

	sqlite, err := dialectFor("sqlite3")
	require.NoError(t, err)
	assert.Equal(t,
		"INSERT INTO nodes (id, label) VALUES (?, ?) ON CONFLICT (id) DO UPDATE SET label = excluded.label",
		sqlite.upsertStmt("nodes", []string{"id", "label"}, []string{"id"}, []string{"label"}))
	assert.Equal(t, "INSERT OR IGNORE INTO nodes (id, label) VALUES (?, ?)", sqlite.insertIgnoreStmt("nodes", []string{"id", "label"}))
}

func mockInstance(t *testing.T) (storage.TransactionalStorage, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})
	stor, err := New("", Database(db))
	require.NoError(t, err)
	return stor, mock
}

func TestMySQLUpsertLogChunk(t *testing.T) {
	stor, mock := mockInstance(t)
	ctx := context.Background()
	sourceID, jobID, projectID, chunkID := types.NewID(), types.NewID(), types.NewID(), types.NewID()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM log_sources WHERE id = ?")).
		WithArgs(sourceID).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(sourceID.String()))
	mock.ExpectExec(`INSERT INTO log_chunks \(.*\) VALUES \(.*\) ON DUPLICATE KEY UPDATE job_id = VALUES\(job_id\), .*chunk_text = VALUES\(chunk_text\)`).
		WithArgs(sqlmock.AnyArg(), sourceID, jobID, projectID, int64(4), 3, []byte("\nef")).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectQuery(`SELECT .* FROM log_chunks WHERE source_id = \? AND chunk_offset = \?`).
		WithArgs(sourceID, int64(4)).
		WillReturnRows(sqlmock.NewRows(chunkColumns).
			AddRow(chunkID.String(), sourceID.String(), jobID.String(), projectID.String(), int64(4), int64(3), "\nef"))

	got, err := stor.UpsertLogChunk(ctx, job.LogChunk{
		SourceID:  sourceID,
		JobID:     jobID,
		ProjectID: projectID,
		Offset:    4,
		Size:      3,
		Text:      "\nef",
	})
	require.NoError(t, err)
	// the ID of the existing chunk is kept
	require.Equal(t, chunkID, got.ID)
	require.Equal(t, int64(7), got.End())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLSaveTestResultsUpsertsByCase(t *testing.T) {
	stor, mock := mockInstance(t)
	ctx := context.Background()
	jobID, suiteID, existing := types.NewID(), types.NewID(), types.NewID()
	sha := job.CaseSHA("pkg", "TestA")

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO test_results \(.*name_sha.*\) VALUES \(.*\) ON DUPLICATE KEY UPDATE name = VALUES\(name\), .*result = VALUES\(result\)$`).
		WithArgs(sqlmock.AnyArg(), jobID, suiteID, sha, "TestA", "pkg", int64(5), "", job.ResultPassed, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM test_results WHERE job_id = ? AND suite_id = ? AND name_sha = ?")).
		WithArgs(jobID, suiteID, sha).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(existing.String()))
	mock.ExpectCommit()

	results := []*job.TestResult{{JobID: jobID, SuiteID: suiteID, Name: "TestA", Package: "pkg", Duration: 5, Result: job.ResultPassed}}
	require.NoError(t, stor.SaveTestResults(ctx, results))
	require.Equal(t, existing, results[0].ID)
	require.Equal(t, sha, results[0].NameSHA)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteLogChunksKeepSplitCharacters(t *testing.T) {
	ctx := context.Background()
	stor := newSQLiteStorage(t)
	j := job.New(types.NewID(), job.Source{})
	require.NoError(t, stor.SaveJob(ctx, j))
	src, _, err := stor.GetOrCreateLogSource(ctx, job.LogSourceKey{JobID: j.ID, Name: "console"}, job.LogSource{ProjectID: j.ProjectID, DateCreated: time.Now()})
	require.NoError(t, err)

	// 3 byte chunks cut the third character in half
	input := "h\u00e9\u00e9\u00e9"
	chunks, err := logchunk.Split(strings.NewReader(input), 3, 0)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	require.False(t, utf8.Valid(chunks[1].Text))
	for _, c := range chunks {
		_, err := stor.UpsertLogChunk(ctx, job.LogChunk{
			SourceID:  src.ID,
			JobID:     j.ID,
			ProjectID: j.ProjectID,
			Offset:    c.Offset,
			Size:      c.Size(),
			Text:      string(c.Text),
		})
		require.NoError(t, err)
	}

	got, err := stor.ListLogChunks(ctx, src.ID, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	var b strings.Builder
	for i, c := range got {
		require.Equal(t, string(chunks[i].Text), c.Text)
		b.WriteString(c.Text)
	}
	require.Equal(t, input, b.String())
}

func TestMySQLGetOrCreateNodeExisting(t *testing.T) {
	stor, mock := mockInstance(t)
	existing := types.NewID()

	mock.ExpectExec(regexp.QuoteMeta("INSERT IGNORE INTO nodes (id, label) VALUES (?, ?)")).
		WithArgs(sqlmock.AnyArg(), "builder-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, label FROM nodes WHERE label = ?")).
		WithArgs("builder-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "label"}).AddRow(existing.String(), "builder-1"))

	node, created, err := stor.GetOrCreateNode(context.Background(), "builder-1")
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, existing, node.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLNestedTransactions(t *testing.T) {
	stor, mock := mockInstance(t)

	mock.ExpectBegin()
	mock.ExpectExec("SAVEPOINT sp_1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("ROLLBACK TO SAVEPOINT sp_1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("RELEASE SAVEPOINT sp_1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("SAVEPOINT sp_2").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("RELEASE SAVEPOINT sp_2").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	tx, err := stor.BeginTx()
	require.NoError(t, err)
	nested, err := tx.BeginTx()
	require.NoError(t, err)
	require.NoError(t, nested.Rollback())
	nested, err = tx.BeginTx()
	require.NoError(t, err)
	require.NoError(t, nested.Commit())
	require.NoError(t, tx.Commit())

	_, err = nested.GetJob(context.Background(), types.NewID())
	require.ErrorIs(t, err, errTxDone)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLSaveJobTimes(t *testing.T) {
	stor, mock := mockInstance(t)
	j := job.New(types.NewID(), job.Source{RevisionSHA: "abc"})
	started := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	j.DateStarted = &started

	mock.ExpectExec(`INSERT INTO jobs \(.*\) VALUES \(.*\) ON DUPLICATE KEY UPDATE project_id = VALUES\(project_id\)`).
		WithArgs(j.ID, j.ProjectID, "unknown", "unknown", sqlmock.AnyArg(), "abc", sqlmock.AnyArg(), sqlmock.AnyArg(), started, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, stor.SaveJob(context.Background(), j))
	require.NoError(t, mock.ExpectationsWereMet())
}
