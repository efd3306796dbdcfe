// Package policy decides publish-eligibility for normalized records.
package policy

import (
	"fmt"
	"strings"

	"VulnDigest/internal/domain"
)

const defaultThreshold = 9.0

// Evaluator is the pure severity/exploitation predicate. The threshold is
// the only tunable; everything else in the pipeline is independent of it.
type Evaluator struct {
	Threshold float64
}

// NewEvaluator builds an evaluator, falling back to the default CVSS
// threshold when the configured value is not positive.
func NewEvaluator(threshold float64) Evaluator {
	if threshold <= 0 {
		threshold = defaultThreshold
	}
	return Evaluator{Threshold: threshold}
}

// Meets reports whether the record qualifies for publishing. An absent
// CVSS score counts as 0.0; absence alone never passes.
func (e Evaluator) Meets(r domain.Record) bool {
	return r.Score() >= e.Threshold || r.Exploited
}

// Reason explains which clause matched (or failed) for the audit trail.
// It mirrors Meets and is never used for control flow.
func (e Evaluator) Reason(r domain.Record) string {
	score := r.Score()
	if e.Meets(r) {
		var conds []string
		if score >= e.Threshold {
			conds = append(conds, fmt.Sprintf("CVSS %.1f≥%.1f", score, e.Threshold))
		}
		if r.Exploited {
			conds = append(conds, "実悪用確認済み")
		}
		return "掲載対象: " + strings.Join(conds, " / ")
	}

	reasons := []string{fmt.Sprintf("CVSS %.1f<%.1f", score, e.Threshold)}
	if !r.Exploited {
		reasons = append(reasons, "実悪用未確認")
	}
	return "除外: " + strings.Join(reasons, " / ")
}
