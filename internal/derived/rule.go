// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of tscore.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package derived implements the derived-metric scheduler: a periodic
// job that evaluates a set of rules against the cache hierarchy's data
// and writes the results back in as new series, applying keep/drop
// label filtering and backing off exponentially on repeated evaluation
// failure.
package derived

import (
	"fmt"
	"time"

	"github.com/ClusterCockpit/tscore/pkg/series"
)

// Rule defines one derived metric: a name to assign the output series,
// an expr-lang expression evaluated over the inputs, and the interval
// at which it should be (re-)evaluated.
type Rule struct {
	Name     string
	Group    string
	Expr     string
	Interval time.Duration

	// KeepLabels, if non-empty, is the only set of input labels copied
	// onto the output series (keep-list precedence); when empty,
	// DropLabels is subtracted from the input labels instead.
	KeepLabels []string
	DropLabels []string
}

// outputLabels applies the rule's keep/drop precedence to an input
// label set, always overwriting __name__ with the rule's Name.
func (r Rule) outputLabels(in series.LabelSet) series.LabelSet {
	var out []series.Label
	if len(r.KeepLabels) > 0 {
		keep := make(map[string]bool, len(r.KeepLabels))
		for _, k := range r.KeepLabels {
			keep[k] = true
		}
		in.Range(func(name, value string) {
			if name != "__name__" && keep[name] {
				out = append(out, series.Label{Name: name, Value: value})
			}
		})
	} else {
		drop := make(map[string]bool, len(r.DropLabels))
		for _, d := range r.DropLabels {
			drop[d] = true
		}
		in.Range(func(name, value string) {
			if name != "__name__" && !drop[name] {
				out = append(out, series.Label{Name: name, Value: value})
			}
		})
	}
	out = append(out, series.Label{Name: "__name__", Value: r.Name})
	return series.NewLabelSet(out...)
}

// evalError wraps a rule name into any error the underlying expression
// engine returns, so scheduler logs can name the offending rule.
type evalError struct {
	rule string
	err  error
}

func (e *evalError) Error() string { return fmt.Sprintf("rule %q: %s", e.rule, e.err) }
func (e *evalError) Unwrap() error { return e.err }
