// Package classifier turns a fetch outcome plus the extracted canonical
// declarations into a final ResultRecord.
package classifier

import (
	"strings"

	"canonical_validator/internal/models"
	"canonical_validator/internal/urlnorm"
)

// Classify applies the decision table in order: error, missing, multiple,
// empty, match, mismatch. Exactly one status is produced for any input.
// Repeated identical canonical declarations are not Multiple; that status
// requires genuinely differing values after normalization.
func Classify(fr models.FetchResult, ex models.CanonicalExtraction, cfg models.NormalizationConfig) models.ResultRecord {
	rec := models.ResultRecord{
		URL:            fr.RequestedURL,
		FinalURL:       fr.FinalURL,
		HTTPStatus:     fr.HTTPStatus,
		ResponseTimeMS: fr.ElapsedMS,
	}

	if fr.Err != nil {
		rec.Status = models.StatusError
		rec.ErrorDetail = fr.Err.Error()
		return rec
	}

	if len(ex.CanonicalURLs) == 0 {
		rec.Status = models.StatusMissing
		rec.ErrorDetail = "no canonical tag found"
		return rec
	}

	resolved := resolveAll(fr.FinalURL, ex.CanonicalURLs)

	if distinct := countDistinct(resolved, cfg); distinct > 1 {
		rec.Status = models.StatusMultiple
		rec.CanonicalURL = resolved[0].absolute
		rec.ErrorDetail = "multiple differing canonical tags found"
		return rec
	}

	first := resolved[0]
	if len(ex.CanonicalURLs) == 1 && first.trimmed == "" {
		rec.Status = models.StatusEmpty
		rec.ErrorDetail = "canonical tag is empty"
		return rec
	}

	rec.CanonicalURL = first.absolute

	pageNorm, err := urlnorm.Normalize(fr.FinalURL, cfg)
	if err != nil {
		rec.Status = models.StatusMismatch
		rec.ErrorDetail = "page URL could not be normalized"
		return rec
	}
	if first.norm != "" && first.norm == pageNorm {
		rec.Status = models.StatusMatch
		return rec
	}

	rec.Status = models.StatusMismatch
	rec.ErrorDetail = "canonical URL does not match page URL"
	return rec
}

// canonical is one declared value carried through resolution and
// normalization. norm is empty when the value cannot be normalized; such
// values compare by their resolved absolute form instead.
type canonical struct {
	trimmed  string
	absolute string
	norm     string
}

func resolveAll(finalURL string, values []string) []canonical {
	out := make([]canonical, 0, len(values))
	for _, v := range values {
		c := canonical{trimmed: strings.TrimSpace(v)}
		if c.trimmed != "" {
			if abs, err := urlnorm.ResolveAgainst(finalURL, c.trimmed); err == nil {
				c.absolute = abs
			} else {
				c.absolute = c.trimmed
			}
		}
		out = append(out, c)
	}
	return out
}

func countDistinct(resolved []canonical, cfg models.NormalizationConfig) int {
	keys := make(map[string]struct{}, len(resolved))
	for i := range resolved {
		key := resolved[i].absolute
		if norm, err := urlnorm.Normalize(resolved[i].absolute, cfg); err == nil {
			resolved[i].norm = norm
			key = norm
		}
		keys[key] = struct{}{}
	}
	return len(keys)
}
