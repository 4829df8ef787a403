// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package config

// DefaultDBURI represents the default URI used by the rdbms plugin
const DefaultDBURI = "buildsync:buildsync@tcp(localhost:3306)/buildsync?parseTime=true"

// DefaultDBDriver is the database/sql driver used by the rdbms plugin
const DefaultDBDriver = "mysql"

// MinStorageVersion is the minimum schema version the rdbms plugin works with.
const MinStorageVersion = 1
