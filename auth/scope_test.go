package auth

import "testing"

func TestParseScopesTooMany(t *testing.T) {
	entries := make([]ScopeEntry, maxScopeEntries+1)
	for i := range entries {
		entries[i] = ScopeEntry{Scope: ScopePutFile, Domain: "a"}
	}
	if _, err := ParseScopes(entries); err == nil {
		t.Fatal("expected error for too many scope entries")
	}
}

func TestParseScopesUnknownValue(t *testing.T) {
	_, err := ParseScopes([]ScopeEntry{{Scope: "bogus", Domain: "a"}})
	if err == nil {
		t.Fatal("expected error for unknown scope value")
	}
}

func TestAllowsWriteEmptyMeansAny(t *testing.T) {
	p, err := ParseScopes(nil)
	if err != nil {
		t.Fatal(err)
	}
	if !p.AllowsWrite("anything/at/all") {
		t.Fatal("empty write scope set should allow any path")
	}
}

func TestAllowsWriteExactAndPrefix(t *testing.T) {
	p, err := ParseScopes([]ScopeEntry{
		{Scope: ScopePutFile, Domain: "a/b.txt"},
		{Scope: ScopePutFilePrefix, Domain: "photos/"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !p.AllowsWrite("a/b.txt") {
		t.Fatal("exact path should be allowed")
	}
	if !p.AllowsWrite("photos/x.jpg") {
		t.Fatal("prefix match should be allowed")
	}
	if p.AllowsWrite("other/c.txt") {
		t.Fatal("non-matching path should not be allowed")
	}
}

func TestIsArchivalRestrictedAndAllowsWriteArchival(t *testing.T) {
	p, err := ParseScopes([]ScopeEntry{{Scope: ScopePutFileArchivalPrefix, Domain: "photos/"}})
	if err != nil {
		t.Fatal(err)
	}
	if !p.IsArchivalRestricted() {
		t.Fatal("expected archival restriction")
	}
	if !p.AllowsWriteArchival("photos/x.jpg") {
		t.Fatal("expected prefix match to allow archival write")
	}
	if p.AllowsWriteArchival("notphotos/x.jpg") {
		t.Fatal("expected non-matching path to be disallowed")
	}
}

func TestCheckPathSanity(t *testing.T) {
	if err := CheckPathSanity("a/../b"); err == nil {
		t.Fatal("expected badPath error for '..' in path")
	}
	if err := CheckPathSanity("a/b/c.txt"); err != nil {
		t.Fatalf("unexpected error for clean path: %v", err)
	}
}
