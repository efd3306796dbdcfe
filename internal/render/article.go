// Package render composes the Japanese advisory article used when AI
// enrichment is unavailable. Output is deterministic for a given record.
package render

import (
	"fmt"
	"strings"

	"VulnDigest/internal/domain"
)

// vulnTypeHints maps a reader-facing label to lowercase substrings that
// suggest it in the source description.
var vulnTypeHints = []struct {
	label string
	hints []string
}{
	{"リモートコード実行", []string{"remote code execution", "rce", "任意のコード実行"}},
	{"認証回避", []string{"authentication bypass", "broken authentication", "認証回避"}},
	{"権限昇格", []string{"privilege escalation", "権限昇格"}},
	{"情報漏えい", []string{"information disclosure", "情報漏えい", "情報漏洩"}},
	{"SQLインジェクション", []string{"sql injection", "sqlインジェクション"}},
	{"XSS（クロスサイトスクリプティング）", []string{"cross-site scripting", "xss"}},
	{"ディレクトリトラバーサル", []string{"directory traversal", "traversal", "パストラバーサル"}},
}

// DetectVulnType classifies the vulnerability from free text; unknown
// kinds fall back to a generic label.
func DetectVulnType(text string) string {
	t := strings.ToLower(text)
	for _, entry := range vulnTypeHints {
		for _, hint := range entry.hints {
			if strings.Contains(t, strings.ToLower(hint)) {
				return entry.label
			}
		}
	}
	return "重大な脆弱性"
}

// CVSSLabel renders the score with its severity band; "-" when absent.
func CVSSLabel(score *float64) string {
	if score == nil {
		return "-"
	}
	s := *score
	switch {
	case s >= 9.0:
		return fmt.Sprintf("%.1f（緊急）", s)
	case s >= 7.0:
		return fmt.Sprintf("%.1f（高）", s)
	case s >= 4.0:
		return fmt.Sprintf("%.1f（中）", s)
	case s > 0:
		return fmt.Sprintf("%.1f（低）", s)
	default:
		return "-"
	}
}

// Title builds the article headline: affected target first, CVE as the
// last resort.
func Title(r domain.Record) string {
	target := strings.TrimSpace(r.Vendor + " " + r.Product)
	if target == "" {
		target = r.Vendor
	}
	if target == "" {
		target = r.Identity
	}
	if target == "" {
		target = "対象製品不明"
	}
	vulnType := DetectVulnType(r.Title + " " + r.Description)
	return fmt.Sprintf("%s の脆弱性（%s）に関する注意喚起", target, vulnType)
}

func mitigations(vulnType string) []string {
	const (
		patch   = "ベンダー提供の修正版または最新セキュリティパッチを早急に適用する"
		network = "不要な外部公開を制限し、WAF/IPS等の防御設定を見直す"
		logs    = "各種ログを確認し、不審な挙動（試行増加・異常応答等）を監視する"
	)

	switch {
	case strings.Contains(vulnType, "認証"):
		return []string{patch, "多要素認証を有効化し、不正ログインを防止する", logs}
	case strings.Contains(vulnType, "権限昇格"):
		return []string{patch, "最小権限の原則に基づき、不要な特権を剥奪する", logs}
	case strings.Contains(vulnType, "コード実行"):
		return []string{patch, "外部入力値の検証・サニタイズを徹底する", network}
	case strings.Contains(vulnType, "SQL"):
		return []string{patch, "SQLプレースホルダー等のパラメタ化クエリを使用する", logs}
	case strings.Contains(vulnType, "XSS"):
		return []string{patch, "出力時にHTMLエスケープを実施する", "CSP（Content Security Policy）を設定する"}
	case strings.Contains(vulnType, "トラバーサル"):
		return []string{patch, "ユーザー入力をファイルパスに直結しない実装へ修正する", logs}
	default:
		return []string{patch, network, logs}
	}
}

// Article composes the full markdown body for a record.
func Article(r domain.Record) string {
	affected := strings.TrimSpace(r.Vendor + " " + r.Product)
	if affected == "" {
		affected = "不明"
	}

	overview := strings.TrimSpace(r.Description)
	if overview == "" {
		overview = strings.TrimSpace(r.Title)
	}
	if i := strings.Index(overview, "。"); i >= 0 {
		overview = overview[:i+len("。")]
	}

	vulnType := DetectVulnType(r.Title + " " + r.Description)

	published := "-"
	if !r.PublishedAt.IsZero() {
		published = r.PublishedAt.UTC().Format("2006-01-02")
	}

	exploitation := "現時点では、実際の攻撃による悪用は確認されていません。"
	if r.Exploited || r.CISAKEV {
		exploitation = "この脆弱性は、実際の攻撃で悪用が確認されており、CISAのKEVカタログ等にも掲載があります。"
	}

	var mitig strings.Builder
	for _, m := range mitigations(vulnType) {
		fmt.Fprintf(&mitig, "- %s\n", m)
	}

	refs := "- 参考情報：-"
	if len(r.References) > 0 {
		var lines []string
		for _, ref := range r.References {
			lines = append(lines, fmt.Sprintf("- %s：%s", ref.Title, ref.URL))
		}
		refs = strings.Join(lines, "\n")
	}

	intro := fmt.Sprintf(
		"%s に関する「%s」の脆弱性が報告されています。"+
			"システムの安全性に重大な影響を与える可能性があるため、早急な対応を検討してください。",
		affected, vulnType)

	return strings.TrimSpace(fmt.Sprintf(`%s

## 脆弱性の概要
%s

| 項目 | 内容 |
|------|------|
| **識別番号** | %s |
| **公開日** | %s |
| **対象機器** | %s |
| **脆弱性の種類** | %s |
| **CVSSスコア** | %s |

---

## 既知の悪用状況
%s

---

## 対策
%s
---

## まとめ
本脆弱性は業務継続や情報保護に影響を及ぼすおそれがあります。対象環境がある場合は、最新の修正版適用や公開範囲の見直しなど、速やかな対策を実施してください。

---

## 参考（公式アドバイザリなど）
%s`,
		intro, overview, r.Identity, published, affected, vulnType,
		CVSSLabel(r.CVSS), exploitation, mitig.String(), refs))
}
