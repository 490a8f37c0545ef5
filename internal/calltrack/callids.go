package calltrack

import "strings"

// formatCallID renders one tracking-set entry. The trailing ", " is part of
// the on-wire format the backend stores verbatim.
func formatCallID(id string) string {
	return id + ", "
}

// AddCallID returns the tracking set with id appended. Membership is checked
// by substring containment, matching the backend's historical format: an id
// whose value is a substring of an already-tracked id (e.g. "12" vs "312") is
// treated as present and silently skipped. Some call-ID schemes rely on that
// prefix relationship, so the semantics are kept as-is rather than tokenized.
func AddCallID(set, id string) string {
	if set == "" {
		return formatCallID(id)
	}
	if !strings.Contains(set, id) {
		return set + formatCallID(id)
	}
	return set
}

// ContainsCallID reports whether id appears in the tracking set, using the
// same substring semantics as AddCallID.
func ContainsCallID(set, id string) bool {
	return strings.Contains(set, id)
}

// RemoveCallID tokenizes the set on commas, trims whitespace, drops empty
// tokens and the token exactly equal to id, and rejoins the survivors in
// tracking-set format. Removal is exact-token, unlike the containment check.
func RemoveCallID(set, id string) string {
	var out strings.Builder
	for _, token := range strings.Split(set, ",") {
		token = strings.TrimSpace(token)
		if token == "" || token == id {
			continue
		}
		out.WriteString(formatCallID(token))
	}
	return out.String()
}

// SplitCallIDs returns the individual tracked identifiers.
func SplitCallIDs(set string) []string {
	var ids []string
	for _, token := range strings.Split(set, ",") {
		token = strings.TrimSpace(token)
		if token != "" {
			ids = append(ids, token)
		}
	}
	return ids
}
