package pipeline

import "strings"

// nameTokenSeparators are the characters industrial point names are split on,
// e.g. "GHS1-TURB01_POWER" or "site.turbine.rpm".
func isNameSeparator(r rune) bool {
	switch r {
	case '-', '_', '.', '/', ':', ' ':
		return true
	}
	return false
}

// tokenizeName splits a point name into its hierarchy tokens.
func tokenizeName(name string) []string {
	return strings.FieldsFunc(name, isNameSeparator)
}

// commonNamePrefix returns the longest common token prefix of the given
// names, joined with "-". Comparison is case-insensitive; the casing of the
// first name wins. Returns "" when no common prefix exists or fewer than two
// names are given.
func commonNamePrefix(names []string) string {
	if len(names) < 2 {
		return ""
	}

	first := tokenizeName(names[0])
	common := len(first)
	for _, name := range names[1:] {
		tokens := tokenizeName(name)
		n := 0
		for n < common && n < len(tokens) && strings.EqualFold(first[n], tokens[n]) {
			n++
		}
		common = n
		if common == 0 {
			return ""
		}
	}
	return strings.Join(first[:common], "-")
}

// namePrefixKey returns a lowercase grouping key of the first minTokens
// tokens of a name, or "" when the name has fewer tokens than that.
func namePrefixKey(name string, minTokens int) string {
	if minTokens < 1 {
		minTokens = 1
	}
	tokens := tokenizeName(name)
	if len(tokens) < minTokens {
		return ""
	}
	// A single-token name has no structure to share.
	if len(tokens) == 1 {
		return ""
	}
	key := make([]string, minTokens)
	for i := 0; i < minTokens; i++ {
		key[i] = strings.ToLower(tokens[i])
	}
	return strings.Join(key, "-")
}
