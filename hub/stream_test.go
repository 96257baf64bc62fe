package hub

import (
	"io"
	"strings"
	"testing"

	"github.com/blockvault/hub/herr"
)

func TestMeteredReaderWithinCap(t *testing.T) {
	r := newMeteredReader(strings.NewReader("hello"), 10)
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello" {
		t.Fatalf("data = %q, want %q", data, "hello")
	}
}

func TestMeteredReaderExceedsCap(t *testing.T) {
	r := newMeteredReader(strings.NewReader(strings.Repeat("a", 200)), 100)
	_, err := io.ReadAll(r)
	if err == nil {
		t.Fatal("expected an error for exceeding the cap")
	}
	he := herr.AsHubError(err)
	if he.Kind != herr.KindPayloadTooLarge {
		t.Fatalf("expected KindPayloadTooLarge, got %v", he.Kind)
	}
}

func TestUploadCapFormula(t *testing.T) {
	if got := uploadCap(50, 100); got != 50 {
		t.Fatalf("uploadCap(50,100) = %d, want 50", got)
	}
	if got := uploadCap(150, 100); got != 100 {
		t.Fatalf("uploadCap(150,100) = %d, want 100 (exceeds max, falls back)", got)
	}
	if got := uploadCap(0, 100); got != 100 {
		t.Fatalf("uploadCap(0,100) = %d, want 100 (unknown length, falls back)", got)
	}
}
