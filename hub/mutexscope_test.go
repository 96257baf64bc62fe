package hub

import "testing"

func TestMutexScopeContention(t *testing.T) {
	m := newMutexScope()
	release, ok := m.tryAcquire("addr1/path")
	if !ok {
		t.Fatal("expected first acquire to succeed")
	}
	if _, ok := m.tryAcquire("addr1/path"); ok {
		t.Fatal("expected second acquire on the same key to fail")
	}
	release()
	if _, ok := m.tryAcquire("addr1/path"); !ok {
		t.Fatal("expected acquire to succeed again after release")
	}
}

func TestMutexScopeIndependentKeys(t *testing.T) {
	m := newMutexScope()
	if _, ok := m.tryAcquire("addr1/a"); !ok {
		t.Fatal("expected acquire to succeed")
	}
	if _, ok := m.tryAcquire("addr1/b"); !ok {
		t.Fatal("expected independent key to acquire successfully")
	}
}
