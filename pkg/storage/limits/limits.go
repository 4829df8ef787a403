// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package limits

import "fmt"

// Any storage is limited, so we have to be sure that data we are going to store would fit underlaying storage structures.
// Labels and names come from the executor, so they are checked before reaching the storage plugins rather than
// failing on insertion with a driver specific error.

// LimitsValidator provides methods to validate data size from storage perspective
type LimitsValidator interface {
	ValidateLabel(label string) error
	ValidateLogSourceName(name string) error
	ValidateSuiteName(name string) error
	ValidateTestName(name string) error
}

// Validator is an instance of current storage limits validator
var Validator LimitsValidator = &BasicStorageLimitsValidator{}

// BasicStorageLimitsValidator is a simple LimitsValidator implementation
type BasicStorageLimitsValidator struct{}

// MaxLabelLen is a max length of phase, step and node labels
const MaxLabelLen = 128

// ValidateLabel returns error if a phase, step or node label does not match storage limitations
func (v *BasicStorageLimitsValidator) ValidateLabel(label string) error {
	return v.validate(label, "Label", MaxLabelLen)
}

// MaxLogSourceNameLen is a max length of log source names
const MaxLogSourceNameLen = 255

// ValidateLogSourceName returns error if the log source name does not match storage limitations
func (v *BasicStorageLimitsValidator) ValidateLogSourceName(name string) error {
	return v.validate(name, "Log source name", MaxLogSourceNameLen)
}

// MaxSuiteNameLen is a max length of test suite names
const MaxSuiteNameLen = 255

// ValidateSuiteName returns error if the test suite name does not match storage limitations
func (v *BasicStorageLimitsValidator) ValidateSuiteName(name string) error {
	return v.validate(name, "Test suite name", MaxSuiteNameLen)
}

// MaxTestNameLen is a max length of test case names
const MaxTestNameLen = 255

// ValidateTestName returns error if the test name does not match storage limitations
func (v *BasicStorageLimitsValidator) ValidateTestName(name string) error {
	return v.validate(name, "Test name", MaxTestNameLen)
}

func (v *BasicStorageLimitsValidator) validate(data string, dataName string, maxDataLen int) error {
	if data == "" {
		return fmt.Errorf("%s cannot be empty", dataName)
	}
	if l := len(data); l > maxDataLen {
		return fmt.Errorf("%s is too long: %d > %d", dataName, l, maxDataLen)
	}
	return nil
}
