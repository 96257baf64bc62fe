package hub

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/blockvault/hub/auth"
	"github.com/blockvault/hub/config"
	"github.com/blockvault/hub/driver/memdriver"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	d, err := memdriver.New("https://read.example.com")
	if err != nil {
		t.Fatal(err)
	}
	cfg := config.Default()
	cfg.Bucket = "addr1"
	return New(cfg, d)
}

func newTestBatchRun(t *testing.T, h *Hub) *batchRun {
	t.Helper()
	return &batchRun{h: h, ctx: context.Background(), bucket: "addr1", signer: auth.EffectiveSigner{BucketAddress: "addr1"}}
}

func leafNode(id, typ, path, content string) PerformNode {
	raw, _ := json.Marshal(content)
	return PerformNode{ID: id, Type: typ, Path: path, Content: json.RawMessage(raw)}
}

func TestBatchSequentialShortCircuit(t *testing.T) {
	h := newTestHub(t)
	run := newTestBatchRun(t, h)

	tree := PerformNode{
		IsSequential: true,
		Values: []PerformNode{
			leafNode("1", leafTypePut, "a.txt", "ok"),
			{ID: "2", Type: leafTypePut, Path: "b/../bad.txt", Content: json.RawMessage(`"x"`)},
			leafNode("3", leafTypePut, "c.txt", "ok"),
		},
	}

	results, err := run.exec(tree)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected exactly 2 leaf results (short-circuit), got %d: %+v", len(results), results)
	}
	if !results[0].Success {
		t.Fatalf("expected first leaf to succeed: %+v", results[0])
	}
	if results[1].Success {
		t.Fatalf("expected second leaf to fail on bad path: %+v", results[1])
	}
}

func TestBatchParallelCollectsAll(t *testing.T) {
	h := newTestHub(t)
	run := newTestBatchRun(t, h)

	tree := PerformNode{
		IsSequential: false,
		Values: []PerformNode{
			leafNode("1", leafTypePut, "a.txt", "one"),
			leafNode("2", leafTypePut, "b.txt", "two"),
			leafNode("3", leafTypePut, "c.txt", "three"),
		},
	}

	results, err := run.exec(tree)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for _, r := range results {
		if !r.Success {
			t.Fatalf("expected all leaves to succeed: %+v", r)
		}
	}
}

func TestBatchDeleteIgnoreDoesNotExist(t *testing.T) {
	h := newTestHub(t)
	run := newTestBatchRun(t, h)

	node := PerformNode{ID: "1", Type: leafTypeDelete, Path: "missing.txt", DoIgnoreDoesNotExistError: true}
	res := run.execLeaf(node)
	if !res.Success {
		t.Fatalf("expected doIgnoreDoesNotExistError to make a missing delete succeed: %+v", res)
	}
}

func TestBatchDeleteNotFoundFails(t *testing.T) {
	h := newTestHub(t)
	run := newTestBatchRun(t, h)

	node := PerformNode{ID: "1", Type: leafTypeDelete, Path: "missing.txt"}
	res := run.execLeaf(node)
	if res.Success {
		t.Fatal("expected delete of a missing file to fail without doIgnoreDoesNotExistError")
	}
}

func TestCoerceLeafContentString(t *testing.T) {
	raw, _ := json.Marshal("hello")
	body, ct, err := coerceLeafContent(raw, "")
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != "hello" || ct != "text/plain" {
		t.Fatalf("unexpected coercion: body=%q ct=%q", body, ct)
	}
}

func TestCoerceLeafContentObject(t *testing.T) {
	raw, _ := json.Marshal(map[string]string{"a": "b"})
	_, ct, err := coerceLeafContent(raw, "")
	if err != nil {
		t.Fatal(err)
	}
	if ct != "application/json" {
		t.Fatalf("ct = %q, want application/json", ct)
	}
}
