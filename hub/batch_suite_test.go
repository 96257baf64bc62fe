package hub

import (
	"testing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func TestBatchSuite(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Perform-Files Batch Suite")
}
