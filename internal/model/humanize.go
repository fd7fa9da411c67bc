package model

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strings"
)

// Secret wraps a value that must never be printed.
type Secret struct {
	value string
}

func NewSecret(v string) Secret { return Secret{value: v} }

func (s Secret) Value() string  { return s.value }
func (s Secret) Masked() string { return "*****" }
func (s Secret) String() string { return s.Masked() }

var camelBoundary = regexp.MustCompile(`([a-z])([A-Z])`)

// HumanizeString splits camelCase into lower-case words ("seeElement" becomes
// "see element"); a leading "i" becomes "I".
func HumanizeString(s string) string {
	words := strings.Split(camelBoundary.ReplaceAllString(s, "$1 $2"), " ")
	for i, w := range words {
		words[i] = strings.ToLower(w)
	}
	if len(words) > 0 && words[0] == "i" {
		words[0] = "I"
	}
	return strings.TrimSpace(strings.Join(words, " "))
}

func UcFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func HumanizeArgs(args []any) string {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		parts = append(parts, HumanizeArg(a))
	}
	return strings.Join(parts, ", ")
}

func HumanizeArg(arg any) string {
	switch v := arg.(type) {
	case nil:
		return ""
	case string:
		return `"` + v + `"`
	case Secret:
		return v.Masked()
	case *Secret:
		return v.Masked()
	case fmt.Stringer:
		return v.String()
	case error:
		return v.Error()
	case map[string]any:
		masked := make(map[string]any, len(v))
		for k, val := range v {
			if s, ok := val.(Secret); ok {
				masked[k] = s.Masked()
				continue
			}
			masked[k] = val
		}
		return marshalOr(masked, fmt.Sprint(v))
	}
	rv := reflect.ValueOf(arg)
	switch rv.Kind() {
	case reflect.Func:
		return "func"
	case reflect.Slice, reflect.Array, reflect.Map, reflect.Struct:
		return marshalOr(arg, fmt.Sprint(arg))
	}
	return fmt.Sprint(arg)
}

func marshalOr(v any, fallback string) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fallback
	}
	return string(b)
}

func isScalar(v any) bool {
	switch v.(type) {
	case string, bool, int, int64, float64:
		return true
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
