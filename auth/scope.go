package auth

import (
	"strings"

	"github.com/blockvault/hub/herr"
)

// Scope entry kinds, spec.md §3.
const (
	ScopePutFile               = "putFile"
	ScopePutFilePrefix         = "putFilePrefix"
	ScopeDeleteFile            = "deleteFile"
	ScopeDeleteFilePrefix      = "deleteFilePrefix"
	ScopePutFileArchival       = "putFileArchival"
	ScopePutFileArchivalPrefix = "putFileArchivalPrefix"

	maxScopeEntries = 8
)

// ScopeEntry is a single `{scope, domain}` pair from a token's `scopes` claim.
type ScopeEntry struct {
	Scope  string `json:"scope"`
	Domain string `json:"domain"`
}

// ParsedScopes partitions a token's scope entries into the six path/prefix
// sets spec.md §4.1 ("scopes(auth) → parsed6Sets") and §4.2 consult.
type ParsedScopes struct {
	WritePaths, WritePrefixes                 []string
	DeletePaths, DeletePrefixes               []string
	WriteArchivalPaths, WriteArchivalPrefixes []string

	// hadScopes distinguishes "no scopes claim at all" (empty sets mean
	// "any path allowed") from a scopes claim that is present but empty.
	// Per spec.md §4.2 rule 3/4 both behave identically (empty set ⇒
	// unrestricted), so this is tracked only for clarity, not branching.
	hadScopes bool
}

// ParseScopes validates and partitions raw scope entries (spec.md §3: "at
// most 8 entries per token; unknown scope values are a validation error").
func ParseScopes(entries []ScopeEntry) (ParsedScopes, error) {
	var p ParsedScopes
	if len(entries) == 0 {
		return p, nil
	}
	if len(entries) > maxScopeEntries {
		return p, herr.Validation("too many scope entries: %d > %d", len(entries), maxScopeEntries)
	}
	p.hadScopes = true
	for _, e := range entries {
		switch e.Scope {
		case ScopePutFile:
			p.WritePaths = append(p.WritePaths, e.Domain)
		case ScopePutFilePrefix:
			p.WritePrefixes = append(p.WritePrefixes, e.Domain)
		case ScopeDeleteFile:
			p.DeletePaths = append(p.DeletePaths, e.Domain)
		case ScopeDeleteFilePrefix:
			p.DeletePrefixes = append(p.DeletePrefixes, e.Domain)
		case ScopePutFileArchival:
			p.WriteArchivalPaths = append(p.WriteArchivalPaths, e.Domain)
		case ScopePutFileArchivalPrefix:
			p.WriteArchivalPrefixes = append(p.WriteArchivalPrefixes, e.Domain)
		default:
			return ParsedScopes{}, herr.Validation("unknown scope value %q", e.Scope)
		}
	}
	return p, nil
}

// IsArchivalRestricted reports whether any write-archival scope is set
// (spec.md §4.2 rule 2, the glossary's "Archival restriction").
func (p ParsedScopes) IsArchivalRestricted() bool {
	return len(p.WriteArchivalPaths) > 0 || len(p.WriteArchivalPrefixes) > 0
}

func matches(path string, exact, prefixes []string) bool {
	for _, e := range exact {
		if path == e {
			return true
		}
	}
	for _, pre := range prefixes {
		if strings.HasPrefix(path, pre) {
			return true
		}
	}
	return false
}

// AllowsWrite implements spec.md §4.2 rule 3: an empty write scope set
// means "any path within the bucket is allowed".
func (p ParsedScopes) AllowsWrite(path string) bool {
	if len(p.WritePaths) == 0 && len(p.WritePrefixes) == 0 {
		return true
	}
	return matches(path, p.WritePaths, p.WritePrefixes)
}

// AllowsDelete implements spec.md §4.2 rule 4, analogous to AllowsWrite.
func (p ParsedScopes) AllowsDelete(path string) bool {
	if len(p.DeletePaths) == 0 && len(p.DeletePrefixes) == 0 {
		return true
	}
	return matches(path, p.DeletePaths, p.DeletePrefixes)
}

// AllowsWriteArchival implements spec.md §4.2 rule 2: when archival-
// restricted, the path must match a write-archival exact path or prefix.
func (p ParsedScopes) AllowsWriteArchival(path string) bool {
	return matches(path, p.WriteArchivalPaths, p.WriteArchivalPrefixes)
}

// CheckPathSanity implements spec.md §4.2 rule 1 and §8's literal scenario
// "Path x/../y is rejected badPath at every mutation endpoint".
func CheckPathSanity(path string) error {
	if strings.Contains(path, "..") {
		return herr.BadPath("path %q contains '..'", path)
	}
	return nil
}
