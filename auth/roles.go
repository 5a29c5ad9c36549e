package auth

import (
	"strings"
)

// maxRoleLength caps a role name after normalisation.
const maxRoleLength = 256

const rolePrefix = "ROLE_"

// roleChar reports whether r is allowed in a role or permission name.
// Allowed: letters, digits, underscore, hyphen, dot, colon.
func roleChar(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '_', r == '-', r == '.', r == ':':
		return true
	}
	return false
}

func validRoleChars(s string) bool {
	for _, r := range s {
		if !roleChar(r) {
			return false
		}
	}
	return true
}

// NormalizeRole canonicalises a single role or permission name.
//
// Permission authorities contain colons ("vm:provision:approve"); every
// segment must be non-empty and they are returned verbatim. Plain roles have
// all leading case-insensitive "ROLE_" prefixes stripped and exactly one
// re-applied, so "admin", "ROLE_admin" and "ROLE_ROLE_admin" all normalise to
// "ROLE_admin". Normalisation is idempotent.
func NormalizeRole(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", securityErr(8, CodeRoleBlank, "role is blank after trimming")
	}
	if !validRoleChars(s) {
		return "", securityErr(8, CodeRoleInvalidChars, "role contains characters outside [A-Za-z0-9_.:-]")
	}

	if strings.Contains(s, ":") {
		// Authority of the permission form a:b:c is returned verbatim.
		for _, seg := range strings.Split(s, ":") {
			if seg == "" {
				return "", securityErr(8, CodeRoleValidationError, "permission authority has an empty segment")
			}
		}
		if len(s) > maxRoleLength {
			return "", securityErr(8, CodeRoleTooLong, "permission authority exceeds 256 characters")
		}
		return s, nil
	}

	stripped := s
	for len(stripped) >= len(rolePrefix) && strings.EqualFold(stripped[:len(rolePrefix)], rolePrefix) {
		stripped = stripped[len(rolePrefix):]
	}
	if stripped == "" {
		return "", securityErr(8, CodeRoleValidationError, "role is empty after prefix stripping")
	}
	normalized := rolePrefix + stripped
	if len(normalized) > maxRoleLength {
		return "", securityErr(8, CodeRoleTooLong, "role exceeds 256 characters")
	}
	return normalized, nil
}

// NormalizeRoles canonicalises a role claim list, dropping duplicates while
// preserving first-seen order. Any invalid entry rejects the whole set.
func NormalizeRoles(raw []string) ([]string, error) {
	if len(raw) == 0 {
		return nil, securityErr(8, CodeNoRolesAssigned, "token carries no roles")
	}
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		n, err := NormalizeRole(r)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	if len(out) == 0 {
		return nil, securityErr(8, CodeNoRolesAssigned, "no roles remain after normalisation")
	}
	return out, nil
}
