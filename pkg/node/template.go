package node

import (
	"fmt"
	"net/url"
	"strings"
)

// substitute replaces {{key}} placeholders in s with string values from data.
// Non-string values are ignored, matching how upstream results flow into
// configuration fields.
func substitute(s string, data map[string]any) string {
	if s == "" || len(data) == 0 || !strings.Contains(s, "{{") {
		return s
	}
	for key, value := range data {
		str, ok := value.(string)
		if !ok {
			continue
		}
		s = strings.ReplaceAll(s, "{{"+key+"}}", str)
	}
	return s
}

// substituteURL is like substitute but URL-encodes each value so placeholders
// can be embedded in query strings and path segments safely.
func substituteURL(s string, data map[string]any) string {
	if s == "" || len(data) == 0 || !strings.Contains(s, "{{") {
		return s
	}
	for key, value := range data {
		str, ok := value.(string)
		if !ok {
			continue
		}
		s = strings.ReplaceAll(s, "{{"+key+"}}", url.QueryEscape(str))
	}
	return s
}

func toString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", val)
	}
}
