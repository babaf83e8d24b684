package injection

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// ParseIDList decodes a stored id list. It accepts a JSON array of strings or
// numbers, or a comma/newline separated list. Malformed input yields nil,
// which callers treat as "no restriction".
func ParseIDList(raw string) []string {
	out, err := parseList(raw)
	if err != nil {
		log.Debug().Err(err).Str("raw", raw).Msg("ignoring malformed id list")
		return nil
	}
	return out
}

// ParsePrefixList decodes a stored URL prefix list with the same fail-open
// rules as ParseIDList.
func ParsePrefixList(raw string) []string {
	out, err := parseList(raw)
	if err != nil {
		log.Debug().Err(err).Str("raw", raw).Msg("ignoring malformed prefix list")
		return nil
	}
	return out
}

// EncodeList is the inverse of ParseIDList.
func EncodeList(vals []string) string {
	if len(vals) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(vals)
	return string(b)
}

func parseList(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	switch raw[0] {
	case '[':
		var vals []any
		if err := json.Unmarshal([]byte(raw), &vals); err != nil {
			return nil, err
		}
		out := make([]string, 0, len(vals))
		for _, v := range vals {
			switch t := v.(type) {
			case string:
				if s := strings.TrimSpace(t); s != "" {
					out = append(out, s)
				}
			case float64:
				out = append(out, fmt.Sprintf("%.0f", t))
			default:
				return nil, fmt.Errorf("unsupported list element %T", v)
			}
		}
		return out, nil
	case '{', '"':
		return nil, fmt.Errorf("expected a list, got %q", raw[:1])
	}

	fields := strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == '\n' || r == '\r' })
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if s := strings.TrimSpace(f); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}
