package identity

import (
	"sort"
	"strings"
)

// The permission-token catalogue is closed: tokens are versioned with the
// console, grouped by module, and never user-extensible. A token is only
// meaningful inside its module.
var catalogue = map[string][]string{
	"management": {"organizations", "employees", "users", "admins"},
	"tools":      {"credentials", "sharing"},
	"billing":    {"invoices", "payments"},
}

// TokenKey returns the canonical "module.token" key, or false when the pair
// is not part of the catalogue.
func TokenKey(module, token string) (string, bool) {
	module = strings.TrimSpace(strings.ToLower(module))
	token = strings.TrimSpace(strings.ToLower(token))
	tokens, ok := catalogue[module]
	if !ok {
		return "", false
	}
	for _, t := range tokens {
		if t == token {
			return module + "." + token, true
		}
	}
	return "", false
}

// SplitTokenKey breaks a canonical key back into (module, token) and reports
// whether the key belongs to the catalogue.
func SplitTokenKey(key string) (module, token string, ok bool) {
	module, token, found := strings.Cut(key, ".")
	if !found {
		return "", "", false
	}
	if _, ok := TokenKey(module, token); !ok {
		return "", "", false
	}
	return module, token, true
}

// CatalogueKeys returns every valid token key, sorted, for display and
// seeding.
func CatalogueKeys() []string {
	var keys []string
	for module, tokens := range catalogue {
		for _, t := range tokens {
			keys = append(keys, module+"."+t)
		}
	}
	sort.Strings(keys)
	return keys
}

// TokenSet validates raw token keys against the catalogue and returns the
// deduplicated set. Unknown keys are reported back to the caller.
func TokenSet(keys []string) (map[string]struct{}, []string) {
	set := make(map[string]struct{}, len(keys))
	var unknown []string
	for _, k := range keys {
		k = strings.TrimSpace(strings.ToLower(k))
		if k == "" {
			continue
		}
		if _, _, ok := SplitTokenKey(k); !ok {
			unknown = append(unknown, k)
			continue
		}
		set[k] = struct{}{}
	}
	return set, unknown
}
