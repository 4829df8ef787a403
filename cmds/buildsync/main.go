// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// buildsync keeps builds running on a CI executor in sync with the local
// job store.
//
// Usage examples:
// Serve the HTTP API and poll unfinished jobs
//   ./buildsync -c buildsync.yaml serve
//
// Submit a stored job to the executor
//   ./buildsync -c buildsync.yaml create 7d0f4fd2-8a8e-4b43-8fe6-0fd6a0ab3d0e
//
// Synchronize a single step once
//   ./buildsync -c buildsync.yaml sync-step 1b3c0f42-3c0e-4a52-b0a9-2f1f9c1d7e5b
func main() {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	if err := Main(os.Args[0], os.Args[1:], os.Stdout, sigs); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}
