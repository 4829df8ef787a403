// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package logging

import (
	"io"
	"io/ioutil"

	log_prefixed "github.com/chappjc/logrus-prefix"
	"github.com/sirupsen/logrus"
)

var (
	log *logrus.Logger
)

// GetLogger returns a configured logger instance
func GetLogger(prefix string) *logrus.Entry {
	return log.WithField("prefix", prefix)
}

// AddField add a field to an existing logrus.Entry
func AddField(e *logrus.Entry, name string, value interface{}) *logrus.Entry {
	return e.WithField(name, value)
}

// AddFields adds multiple fields to an existing logrus.Entry
func AddFields(e *logrus.Entry, fields map[string]interface{}) *logrus.Entry {
	return e.WithFields(logrus.Fields(fields))
}

// SetLevel sets the level of the shared logger, e.g. "debug" or "warning".
func SetLevel(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	log.SetLevel(lvl)
	return nil
}

// SetOutput redirects the output of the shared logger.
func SetOutput(w io.Writer) {
	log.SetOutput(w)
}

// Disable sends all logging output to the bit bucket.
func Disable() {
	log.SetOutput(ioutil.Discard)
}

func init() {
	log = logrus.New()
	log.SetFormatter(&log_prefixed.TextFormatter{
		FullTimestamp: true,
	})
}
