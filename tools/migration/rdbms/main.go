// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package main

import (
	"fmt"
	"os"

	"github.com/pressly/goose"
	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"github.com/facebookincubator/buildsync/pkg/config"
	"github.com/facebookincubator/buildsync/pkg/logging"
	"github.com/facebookincubator/buildsync/tools/migration/rdbms/migrationlib"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

var (
	flags        = flag.NewFlagSet("migrate", flag.ExitOnError)
	flagDBDriver = flags.String("dbDriver", config.DefaultDBDriver, "DB driver, mysql or sqlite3")
	flagDBURI    = flags.String("dbURI", config.DefaultDBURI, "Database URI")
	flagDir      = flags.String("dir", "db/rdbms/migrations", "Directory containing migration scripts")
	flagDebug    = flags.Bool("debug", false, "Enable debug logging")
)

var usageHeader = `Usage: migrate [OPTIONS] COMMAND`
var commandsUsage = `
Commands:
    up                   Migrate the DB to the most recent version available
    up-by-one            Migrate the DB up by 1
    up-to VERSION        Migrate the DB to a specific VERSION
    down                 Roll back the version by 1
    down-to VERSION      Roll back to a specific VERSION
    redo                 Re-run the latest migration
    reset                Roll back all migrations
    status               Dump the migration status for the current DB
    version              Print the current version of the database
    create NAME sql      Creates new migration file with the current timestamp
    fix                  Apply sequential ordering to migrations
`

func usage() {
	fmt.Fprintf(os.Stderr, "%s\n", usageHeader)
	fmt.Fprintf(os.Stderr, "%s", flags.FlagUsages())
	fmt.Fprintf(os.Stderr, "%s", commandsUsage)
}

func main() {
	flags.Usage = usage
	if err := flags.Parse(os.Args[1:]); err != nil {
		flags.Usage()
		os.Exit(2)
	}
	if flags.NArg() < 1 {
		flags.Usage()
		os.Exit(2)
	}

	log := logging.GetLogger("migrate")
	logging.SetOutput(os.Stdout)
	if *flagDebug {
		log.Logger.SetLevel(logrus.DebugLevel)
	}

	command, args := flags.Arg(0), flags.Args()[1:]
	db, err := goose.OpenDBWithDriver(*flagDBDriver, *flagDBURI)
	if err != nil {
		log.Fatalf("failed to open DB: %v", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Fatalf("failed to close DB: %v", err)
		}
	}()
	if err := db.Ping(); err != nil {
		log.Fatalf("db not reachable: %v", err)
	}

	before, err := migrationlib.DBVersion(db)
	if err != nil {
		log.Fatalf("could not read the current schema version: %v", err)
	}
	log.Debugf("schema version before %s: %d", command, before)

	if err := goose.Run(command, db, *flagDir, args...); err != nil {
		log.Fatalf("could not run command %v for migration: %v", command, err)
	}

	after, err := migrationlib.DBVersion(db)
	if err != nil {
		log.Fatalf("could not read the current schema version: %v", err)
	}
	if after < config.MinStorageVersion {
		log.Warningf("schema version %d is older than the minimum supported version %d", after, config.MinStorageVersion)
	}
	log.Infof("schema version: %d -> %d", before, after)
}
