package cache

import (
	"context"
	"testing"

	"github.com/blockvault/hub/driver"
	"github.com/blockvault/hub/driver/memdriver"
)

func newTestDriver(t *testing.T) *memdriver.MemDriver {
	t.Helper()
	d, err := memdriver.New("")
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestRevocationCacheMonotonic(t *testing.T) {
	ctx := context.Background()
	d := newTestDriver(t)
	c := NewRevocationCache(100, d)

	if err := c.SetAuthTimestamp(ctx, "addr1", 100); err != nil {
		t.Fatal(err)
	}
	if err := c.SetAuthTimestamp(ctx, "addr1", 50); err != nil {
		t.Fatal(err)
	}
	v, err := c.GetAuthTimestamp(ctx, "addr1")
	if err != nil {
		t.Fatal(err)
	}
	if v != 100 {
		t.Fatalf("GetAuthTimestamp = %d, want 100 (monotonic max-wins)", v)
	}

	if err := c.SetAuthTimestamp(ctx, "addr1", 200); err != nil {
		t.Fatal(err)
	}
	v, err = c.GetAuthTimestamp(ctx, "addr1")
	if err != nil {
		t.Fatal(err)
	}
	if v != 200 {
		t.Fatalf("GetAuthTimestamp = %d, want 200", v)
	}
}

func TestRevocationCacheReadThrough(t *testing.T) {
	ctx := context.Background()
	d := newTestDriver(t)
	if _, err := d.PerformWriteAuthTimestamp(ctx, "addr2", 77); err != nil {
		t.Fatal(err)
	}

	c := NewRevocationCache(100, d)
	v, err := c.GetAuthTimestamp(ctx, "addr2")
	if err != nil {
		t.Fatal(err)
	}
	if v != 77 {
		t.Fatalf("GetAuthTimestamp = %d, want 77 (read-through)", v)
	}
}

func TestBlacklistCacheIsBlacklisted(t *testing.T) {
	ctx := context.Background()
	d := newTestDriver(t)
	c := NewBlacklistCache(100, d)

	cases := []struct {
		name        string
		blType      int
		performType driver.PerformType
		want        bool
	}{
		{"addrA", 0, driver.PerformPut, false},
		{"addrB", 1, driver.PerformPut, true},
		{"addrB", 1, driver.PerformDelete, true},
		{"addrC", 2, driver.PerformPut, true},
		{"addrC2", 2, driver.PerformDelete, false},
	}
	for _, c2 := range cases {
		if err := d.SetBlacklistType(c2.name, c2.blType); err != nil {
			t.Fatal(err)
		}
		got, err := c.IsBlacklisted(ctx, c2.name, c2.performType)
		if err != nil {
			t.Fatal(err)
		}
		if got != c2.want {
			t.Errorf("IsBlacklisted(%s type=%d perform=%v) = %v, want %v", c2.name, c2.blType, c2.performType, got, c2.want)
		}
	}
}
