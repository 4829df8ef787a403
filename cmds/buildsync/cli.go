// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/facebookincubator/buildsync/pkg/buildinfo"
	"github.com/facebookincubator/buildsync/pkg/config"
	"github.com/facebookincubator/buildsync/pkg/logging"
	"github.com/facebookincubator/buildsync/pkg/types"
)

var log = logging.GetLogger("buildsync")

var (
	flagSet        *flag.FlagSet
	flagConfig     *string
	flagLogLevel   *string
	flagDBDriver   *string
	flagDBURI      *string
	flagListenAddr *string
	flagExecutor   *string
	flagJobName    *string
)

func initFlags(cmd string) {
	flagSet = flag.NewFlagSet(cmd, flag.ContinueOnError)
	flagConfig = flagSet.StringP("config", "c", "", "Configuration file, JSON or YAML (by extension)")
	flagLogLevel = flagSet.String("logLevel", "", "A log level, possible values: debug, info, warning, error, panic, fatal")
	flagDBDriver = flagSet.String("dbDriver", config.DefaultDBDriver, "Database driver, mysql or sqlite3")
	flagDBURI = flagSet.String("dbURI", "", "Database URI, in-memory storage is used if empty")
	flagListenAddr = flagSet.String("listenAddr", "", "Listen address and port of the HTTP API")
	flagExecutor = flagSet.StringP("executor", "e", "", "Base URL of the CI executor")
	flagJobName = flagSet.StringP("jobName", "j", "", "Executor job that builds are submitted to")

	flagSet.Usage = func() {
		out := flagSet.Output()
		fmt.Fprintf(out, "Usage of %s:\n\n", cmd)
		fmt.Fprintf(out, "  %s [args] command\n\n", cmd)
		fmt.Fprintf(out, "command: serve, create, sync-job, sync-step, version\n")
		fmt.Fprintf(out, "  serve\n")
		fmt.Fprintf(out, "        serve the HTTP API and keep unfinished jobs in sync\n")
		fmt.Fprintf(out, "  create job-id\n")
		fmt.Fprintf(out, "        submit a stored job to the executor and wait for it to show up\n")
		fmt.Fprintf(out, "  sync-job job-id\n")
		fmt.Fprintf(out, "        synchronize the status of a job once\n")
		fmt.Fprintf(out, "  sync-step step-id\n")
		fmt.Fprintf(out, "        synchronize a step once, with its logs, artifacts and test results\n")
		fmt.Fprintf(out, "  version\n")
		fmt.Fprintf(out, "        print the version of this binary\n")
		fmt.Fprintf(out, "\nargs:\n")
		flagSet.PrintDefaults()
	}
}

// Main runs the command line. sigs is only consumed by the serve command.
func Main(cmd string, args []string, stdout io.Writer, sigs chan os.Signal) error {
	initFlags(cmd)
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	verb := strings.ToLower(flagSet.Arg(0))
	if verb == "" {
		return fmt.Errorf("missing command, see --help")
	}
	if verb == "version" {
		fmt.Fprintln(stdout, buildinfo.String())
		return nil
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := logging.SetLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}

	switch verb {
	case "serve":
		return serve(cfg, sigs)
	case "create", "sync-job", "sync-step":
		if flagSet.NArg() != 2 {
			return fmt.Errorf("%s takes exactly one ID, see --help", verb)
		}
		id, err := types.ParseID(flagSet.Arg(1))
		if err != nil {
			return err
		}
		return runOnce(cfg, verb, id, stdout)
	default:
		return fmt.Errorf("invalid command %q, see --help", verb)
	}
}

// loadConfig reads the configuration file, if any, and applies the flags on
// top of it.
func loadConfig() (config.Config, error) {
	cfg := config.DefaultConfig()
	if *flagConfig != "" {
		var err error
		if cfg, err = config.Load(*flagConfig); err != nil {
			return cfg, err
		}
	}
	if *flagLogLevel != "" {
		cfg.LogLevel = *flagLogLevel
	}
	if flagSet.Changed("dbDriver") {
		cfg.Storage.DBDriver = *flagDBDriver
	}
	if *flagDBURI != "" {
		cfg.Storage.DBURI = *flagDBURI
	}
	if *flagListenAddr != "" {
		cfg.Server.ListenAddr = *flagListenAddr
	}
	if *flagExecutor != "" {
		cfg.Executor.BaseURL = *flagExecutor
	}
	if *flagJobName != "" {
		cfg.Executor.JobName = *flagJobName
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
