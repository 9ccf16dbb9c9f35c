package engine_test

import (
	"testing"

	"github.com/ValentinKolb/cedar/lib/engine"
	enginetesting "github.com/ValentinKolb/cedar/lib/engine/testing"
)

func TestBTreeContainer(t *testing.T) {
	enginetesting.RunContainerTests(t, "BTreeContainer", engine.NewBTreeContainer)
}

func BenchmarkBTreeContainer(b *testing.B) {
	enginetesting.RunContainerBenchmarks(b, "BTreeContainer", engine.NewBTreeContainer)
}
