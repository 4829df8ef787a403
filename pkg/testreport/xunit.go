// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package testreport

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
)

type xunitFailure struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr"`
	Text    string `xml:",chardata"`
}

type xunitSkipped struct {
	Message string `xml:"message,attr"`
	Text    string `xml:",chardata"`
}

type xunitCase struct {
	Name      string        `xml:"name,attr"`
	ClassName string        `xml:"classname,attr"`
	Time      string        `xml:"time,attr"`
	Failure   *xunitFailure `xml:"failure"`
	Error     *xunitFailure `xml:"error"`
	Skipped   *xunitSkipped `xml:"skipped"`
}

type xunitSuite struct {
	Name   string       `xml:"name,attr"`
	Cases  []xunitCase  `xml:"testcase"`
	Suites []xunitSuite `xml:"testsuite"`
}

// ParseXunit parses a JUnit/xUnit XML document. Both a <testsuites> root and
// a single <testsuite> root are accepted, nested suites are flattened.
// Failures and errors map to FAILED, skipped cases to SKIPPED, everything
// else to PASSED.
func ParseXunit(r io.Reader) (*Report, error) {
	var root struct {
		XMLName xml.Name
		xunitSuite
	}
	if err := xml.NewDecoder(r).Decode(&root); err != nil {
		return nil, fmt.Errorf("cannot decode xunit report: %w", err)
	}
	report := Report{}
	switch root.XMLName.Local {
	case "testsuites":
		for _, s := range root.Suites {
			if err := flattenSuite(&report, s); err != nil {
				return nil, err
			}
		}
	case "testsuite":
		if err := flattenSuite(&report, root.xunitSuite); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unexpected xunit root element <%s>", root.XMLName.Local)
	}
	return &report, nil
}

func flattenSuite(report *Report, s xunitSuite) error {
	suite := Suite{Name: s.Name}
	for _, c := range s.Cases {
		tc, err := c.toCase()
		if err != nil {
			return fmt.Errorf("suite %q: %w", s.Name, err)
		}
		suite.Cases = append(suite.Cases, *tc)
	}
	if len(suite.Cases) > 0 {
		report.Suites = append(report.Suites, suite)
	}
	for _, nested := range s.Suites {
		if err := flattenSuite(report, nested); err != nil {
			return err
		}
	}
	return nil
}

func (c xunitCase) toCase() (*Case, error) {
	tc := Case{
		Name:      c.Name,
		ClassName: c.ClassName,
		Status:    StatusPassed,
	}
	if t := strings.TrimSpace(c.Time); t != "" {
		// some generators use a thousands separator
		d, err := strconv.ParseFloat(strings.ReplaceAll(t, ",", ""), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid time %q for test case %q: %w", c.Time, c.Name, err)
		}
		tc.Duration = d
	}
	failure := c.Failure
	if failure == nil {
		failure = c.Error
	}
	switch {
	case failure != nil:
		tc.Status = StatusFailed
		tc.ErrorDetails = failure.Message
		tc.ErrorStackTrace = strings.TrimSpace(failure.Text)
	case c.Skipped != nil:
		tc.Status = StatusSkipped
		tc.SkippedMessage = c.Skipped.Message
		if tc.SkippedMessage == "" {
			tc.SkippedMessage = strings.TrimSpace(c.Skipped.Text)
		}
	}
	return &tc, nil
}
