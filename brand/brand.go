// Package brand resolves which LIT Suite product surface this gateway
// serves. The brand is fixed at startup and immutable for the process
// lifetime; it selects redirect targets and the x-brand header on API calls.
package brand

import (
	"fmt"
	"strings"
)

// Brand identifies one product surface sharing the central auth backend.
type Brand struct {
	Code string
	Name string
}

// Registered brand codes and their display names.
var registry = map[string]string{
	"lang":   "LIT Language",
	"debate": "LIT Debate",
	"law":    "LIT Law",
	"math":   "LIT Math",
	"sign":   "LIT Sign",
}

// Resolve returns the brand for a configured code. An explicit name
// overrides the registry so new surfaces can ship without a code change
// here.
func Resolve(code, name string) (Brand, error) {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return Brand{}, fmt.Errorf("brand code is required")
	}
	if name == "" {
		known, ok := registry[code]
		if !ok {
			return Brand{}, fmt.Errorf("unknown brand code %q and no display name configured", code)
		}
		name = known
	}
	return Brand{Code: code, Name: name}, nil
}

// Known lists the registered brand codes.
func Known() []string {
	out := make([]string, 0, len(registry))
	for code := range registry {
		out = append(out, code)
	}
	return out
}
