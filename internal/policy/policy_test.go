package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"VulnDigest/internal/domain"
)

func score(v float64) *float64 { return &v }

func TestMeets(t *testing.T) {
	t.Parallel()

	eval := NewEvaluator(9.0)

	assert.True(t, eval.Meets(domain.Record{CVSS: score(9.5)}), "critical score passes")
	assert.True(t, eval.Meets(domain.Record{CVSS: score(9.0)}), "threshold is inclusive")
	assert.False(t, eval.Meets(domain.Record{CVSS: score(8.0)}), "high but sub-threshold fails")
	assert.True(t, eval.Meets(domain.Record{Exploited: true}), "exploited passes without a score")
	assert.False(t, eval.Meets(domain.Record{}), "absent score counts as 0.0, not as a pass")
}

func TestConfigurableThreshold(t *testing.T) {
	t.Parallel()

	eval := NewEvaluator(7.0)

	assert.True(t, eval.Meets(domain.Record{CVSS: score(7.5)}))
	assert.False(t, eval.Meets(domain.Record{CVSS: score(6.9)}))
}

func TestThresholdDefault(t *testing.T) {
	t.Parallel()

	eval := NewEvaluator(0)
	assert.Equal(t, 9.0, eval.Threshold)
}

func TestReason(t *testing.T) {
	t.Parallel()

	eval := NewEvaluator(9.0)

	pass := eval.Reason(domain.Record{CVSS: score(9.8), Exploited: true})
	assert.Contains(t, pass, "掲載対象")
	assert.Contains(t, pass, "CVSS 9.8≥9.0")
	assert.Contains(t, pass, "実悪用確認済み")

	fail := eval.Reason(domain.Record{CVSS: score(5.0)})
	assert.Contains(t, fail, "除外")
	assert.Contains(t, fail, "CVSS 5.0<9.0")
	assert.Contains(t, fail, "実悪用未確認")
}
