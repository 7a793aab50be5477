package normalize

import (
	"regexp"
	"strconv"
	"strings"
)

var multiSpace = regexp.MustCompile(`\s+`)

type TextOptions struct {
	TrimNBSP       bool
	CollapseSpaces bool
}

// Text trims element text and optionally folds NBSP and whitespace runs.
func Text(s string, opts TextOptions) string {
	if opts.TrimNBSP {
		s = strings.ReplaceAll(s, "\u00A0", " ")
	}
	if opts.CollapseSpaces {
		s = multiSpace.ReplaceAllString(s, " ")
	}
	return strings.TrimSpace(s)
}

// Price keeps only the ASCII digits of raw and parses them as a base-10
// integer. Separators, currency and letters are dropped indiscriminately,
// so "1.200 FCFA" is 1200 and "12-34" is 1234. Nil input, input without
// digits and digit runs that overflow int64 all yield nil.
func Price(raw *string) *int64 {
	if raw == nil {
		return nil
	}

	var digits strings.Builder
	for _, r := range *raw {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	if digits.Len() == 0 {
		return nil
	}

	n, err := strconv.ParseInt(digits.String(), 10, 64)
	if err != nil {
		return nil
	}
	return &n
}

// URL trims whitespace and drops the fragment.
func URL(urlStr string) string {
	urlStr = strings.TrimSpace(urlStr)
	if idx := strings.Index(urlStr, "#"); idx > -1 {
		urlStr = urlStr[:idx]
	}
	return urlStr
}
