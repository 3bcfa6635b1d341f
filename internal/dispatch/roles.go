package dispatch

import "strings"

// dedupeRoles trims, drops blanks, and removes case-insensitive
// duplicates while preserving first-seen order.
func dedupeRoles(roles []string) []string {
	seen := make(map[string]struct{}, len(roles))
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		key := strings.ToLower(r)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r)
	}
	return out
}

// ParseRolesCSV splits a comma-separated role list, deduplicating
// case-insensitively.
func ParseRolesCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return dedupeRoles(strings.Split(raw, ","))
}

// DefaultVerifierRoles is the fallback verifier candidate list when no
// operator override is configured.
const DefaultVerifierRoles = "Reviewer,QA,Verifier"

// ResolveVerifierCandidates parses raw (or the default) into a role list,
// dropping empty entries.
func ResolveVerifierCandidates(raw string) []string {
	if parsed := ParseRolesCSV(raw); len(parsed) > 0 {
		return parsed
	}
	return ParseRolesCSV(DefaultVerifierRoles)
}

// verifierOutcome is the result of ensureVerifierRoles.
type verifierOutcome struct {
	Selected           []string
	VerifierRoles      []string
	Added              bool
	AvailableVerifiers []string
}

// ensureVerifierRoles guarantees selected contains at least one verifier
// candidate when one is available among the project's roles, adding the
// first available candidate when none was explicitly selected. Mirrors
// ensure_verifier_roles.
func ensureVerifierRoles(selectedRoles, availableRoles, verifierCandidates []string) verifierOutcome {
	selected := dedupeRoles(selectedRoles)
	available := dedupeRoles(availableRoles)

	candidateKeys := make(map[string]struct{}, len(verifierCandidates))
	for _, c := range verifierCandidates {
		if c != "" {
			candidateKeys[strings.ToLower(c)] = struct{}{}
		}
	}

	var selectedVerifiers []string
	for _, r := range selected {
		if _, ok := candidateKeys[strings.ToLower(r)]; ok {
			selectedVerifiers = append(selectedVerifiers, r)
		}
	}

	var availableVerifiers []string
	for _, cand := range verifierCandidates {
		ckey := strings.ToLower(cand)
		for _, role := range available {
			if strings.ToLower(role) == ckey && !contains(availableVerifiers, role) {
				availableVerifiers = append(availableVerifiers, role)
			}
		}
	}

	added := false
	if len(selectedVerifiers) == 0 && len(availableVerifiers) > 0 {
		selected = append(selected, availableVerifiers[0])
		selectedVerifiers = []string{availableVerifiers[0]}
		added = true
	}

	return verifierOutcome{
		Selected:           dedupeRoles(selected),
		VerifierRoles:      dedupeRoles(selectedVerifiers),
		Added:              added,
		AvailableVerifiers: availableVerifiers,
	}
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
