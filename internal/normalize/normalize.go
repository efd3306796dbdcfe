// Package normalize converts heterogeneous raw feed records into canonical
// vulnerability records with a stable, deterministic identity.
package normalize

import (
	"strings"

	"VulnDigest/internal/domain"
)

// Result carries normalized records plus the malformed ones that were
// excluded; malformed records are counted, never silently dropped.
type Result struct {
	Records   []domain.Record
	Malformed []*domain.NormalizationError
}

// Normalize merges raw records from all sources into one ordered record
// set. Identity derivation is a pure function of the input, so repeated
// runs over the same upstream data always dedupe the same way.
//
// When two sources report the same identity in one run, the first-seen
// record wins; later duplicates only fill fields the first record lacked
// (absent CVSS, empty vendor/product/title/references) and OR-merge the
// exploitation flags. kev membership marks a record as actively exploited.
func Normalize(raws []domain.RawRecord, kev map[string]bool) Result {
	var res Result
	index := map[string]int{}

	for _, raw := range raws {
		identity := raw.Identity()
		if identity == "" {
			res.Malformed = append(res.Malformed, &domain.NormalizationError{
				Source: raw.Source,
				Reason: "record has neither a CVE id nor a source-native id",
			})
			continue
		}

		inKEV := kev[identity]

		if i, ok := index[identity]; ok {
			mergeInto(&res.Records[i], raw, inKEV)
			continue
		}

		rec := domain.Record{
			Identity:    identity,
			Source:      raw.Source,
			Title:       strings.TrimSpace(raw.Title),
			Description: strings.TrimSpace(raw.Description),
			PublishedAt: raw.PublishedAt,
			CVSS:        raw.CVSS,
			Exploited:   raw.Exploited || inKEV,
			CISAKEV:     inKEV,
			Vendor:      strings.TrimSpace(raw.Vendor),
			Product:     strings.TrimSpace(raw.Product),
			References:  raw.References,
			URL:         raw.URL,
			Raw:         raw.Raw,
		}
		if rec.Description == "" {
			rec.Description = rec.Title
		}

		index[identity] = len(res.Records)
		res.Records = append(res.Records, rec)
	}

	return res
}

func mergeInto(rec *domain.Record, raw domain.RawRecord, inKEV bool) {
	rec.Exploited = rec.Exploited || raw.Exploited || inKEV
	rec.CISAKEV = rec.CISAKEV || inKEV

	if rec.CVSS == nil {
		rec.CVSS = raw.CVSS
	}
	if rec.Title == "" {
		rec.Title = strings.TrimSpace(raw.Title)
	}
	if rec.Description == "" || rec.Description == rec.Title {
		if d := strings.TrimSpace(raw.Description); d != "" {
			rec.Description = d
		}
	}
	if rec.PublishedAt.IsZero() {
		rec.PublishedAt = raw.PublishedAt
	}
	if rec.Vendor == "" {
		rec.Vendor = strings.TrimSpace(raw.Vendor)
	}
	if rec.Product == "" {
		rec.Product = strings.TrimSpace(raw.Product)
	}
	if len(rec.References) == 0 {
		rec.References = raw.References
	}
	if rec.URL == "" {
		rec.URL = raw.URL
	}
}
