package hub

import (
	"strings"
	"testing"
)

func TestHistoricalNameShape(t *testing.T) {
	name := historicalName("photos/x.jpg")
	if !strings.HasPrefix(name, "photos/.history.") {
		t.Fatalf("historicalName = %q, want prefix %q", name, "photos/.history.")
	}
	if !strings.HasSuffix(name, ".x.jpg") {
		t.Fatalf("historicalName = %q, want suffix %q", name, ".x.jpg")
	}
}

func TestHistoricalNameNoDirectory(t *testing.T) {
	name := historicalName("a.txt")
	if !strings.HasPrefix(name, ".history.") {
		t.Fatalf("historicalName = %q, want prefix %q", name, ".history.")
	}
}

func TestIsHistoryEntry(t *testing.T) {
	if !isHistoryEntry("photos/.history.123.abcdefghij.x.jpg") {
		t.Fatal("expected history entry to be detected")
	}
	if isHistoryEntry("photos/x.jpg") {
		t.Fatal("did not expect a plain path to be flagged as history")
	}
}
