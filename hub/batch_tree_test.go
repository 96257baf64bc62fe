package hub

import (
	"context"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/blockvault/hub/auth"
	"github.com/blockvault/hub/config"
	"github.com/blockvault/hub/driver"
	"github.com/blockvault/hub/driver/memdriver"
)

var _ = Describe("perform-files tree execution", func() {
	var run *batchRun

	BeforeEach(func() {
		d, err := memdriver.New("https://read.example.com")
		Expect(err).NotTo(HaveOccurred())
		cfg := config.Default()
		cfg.Bucket = "addr1"
		h := New(cfg, d)
		run = &batchRun{h: h, ctx: context.Background(), bucket: "addr1", signer: auth.EffectiveSigner{BucketAddress: "addr1"}}
	})

	Describe("a tree that mixes sequential and parallel interior nodes", func() {
		It("runs the parallel subtree to completion even though the outer tree is sequential", func() {
			tree := PerformNode{
				IsSequential: true,
				Values: []PerformNode{
					leafNode("1", leafTypePut, "a.txt", "alpha"),
					{
						IsSequential: false,
						Values: []PerformNode{
							leafNode("2", leafTypePut, "b.txt", "beta"),
							leafNode("3", leafTypePut, "c.txt", "gamma"),
						},
					},
					leafNode("4", leafTypePut, "d.txt", "delta"),
				},
			}

			results, err := run.exec(tree)
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(4))
			for _, r := range results {
				Expect(r.Success).To(BeTrue())
			}
		})

		It("stops the outer sequential walk once a nested subtree reports a failure", func() {
			tree := PerformNode{
				IsSequential: true,
				Values: []PerformNode{
					leafNode("1", leafTypePut, "a.txt", "alpha"),
					{
						IsSequential: true,
						Values: []PerformNode{
							leafNode("2", leafTypePut, "x/../bad.txt", "x"),
							leafNode("3", leafTypePut, "never-reached.txt", "x"),
						},
					},
					leafNode("4", leafTypePut, "also-never-reached.txt", "x"),
				},
			}

			results, err := run.exec(tree)
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(2))
			Expect(results[0].Success).To(BeTrue())
			Expect(results[1].Success).To(BeFalse())
		})
	})

	Describe("a parallel window wider than the fan-out limit", func() {
		It("executes every leaf across multiple windows and preserves per-window order", func() {
			values := make([]PerformNode, 0, parallelFanOut*2+3)
			for i := 0; i < parallelFanOut*2+3; i++ {
				values = append(values, leafNode(string(rune('a'+i)), leafTypePut, string(rune('a'+i))+".txt", "x"))
			}
			tree := PerformNode{IsSequential: false, Values: values}

			results, err := run.exec(tree)
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(len(values)))
			for i, r := range results {
				Expect(r.Success).To(BeTrue())
				Expect(r.ID).To(Equal(values[i].ID))
			}
		})
	})

	Describe("archival-restricted writes within a batch", func() {
		It("rejects a leaf path outside the write-archival scope", func() {
			run.signer.Scopes = auth.ParsedScopes{WriteArchivalPaths: []string{"photos/a.jpg"}}
			node := leafNode("1", leafTypePut, "photos/b.jpg", "x")

			res := run.execLeaf(node)
			Expect(res.Success).To(BeFalse())
			Expect(res.Error).NotTo(BeEmpty())
		})

		It("archives the prior version on overwrite for an in-scope path", func() {
			run.signer.Scopes = auth.ParsedScopes{WriteArchivalPaths: []string{"photos/a.jpg"}}
			first := run.execLeaf(leafNode("1", leafTypePut, "photos/a.jpg", "v1"))
			Expect(first.Success).To(BeTrue())

			second := run.execLeaf(leafNode("2", leafTypePut, "photos/a.jpg", "v2"))
			Expect(second.Success).To(BeTrue())

			entries, err := run.h.Driver.ListFiles(run.ctx, driver.ListInput{PathPrefix: run.bucket + "/", PageSize: 100})
			Expect(err).NotTo(HaveOccurred())
			var sawHistory bool
			for _, e := range entries.Entries {
				if isHistoryEntry(e.Name) {
					sawHistory = true
				}
			}
			Expect(sawHistory).To(BeTrue())
		})
	})
})
