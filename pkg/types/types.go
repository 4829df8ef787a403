// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package types

import (
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// ID represents a unique identifier of any persisted entity (job, phase,
// step, node, log source, ...).
type ID = uuid.UUID

// NilID is the zero value of ID, used for optional references.
var NilID = uuid.Nil

// NewID returns a new random ID.
func NewID() ID {
	return uuid.New()
}

// Hex returns the dash-less hexadecimal representation of an ID. This is the
// form handed out to external systems, e.g. as correlation token.
func Hex(id ID) string {
	return hex.EncodeToString(id[:])
}

// ParseID parses an ID either in canonical or in hexadecimal form.
func ParseID(s string) (ID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return NilID, fmt.Errorf("invalid id %q: %w", s, err)
	}
	return id, nil
}
