package gc

import (
	"testing"

	"github.com/emberlang/ember/pkg/object"
)

// fakeRoots lets tests hand the collector an explicit root set without
// standing up a whole VM.
type fakeRoots struct {
	roots []object.Value
}

func (f *fakeRoots) WalkRoots(push func(object.Value)) {
	for _, v := range f.roots {
		push(v)
	}
}

func TestSweepFreesUnreachableObjects(t *testing.T) {
	c := New()
	reachable := object.NewString("kept", nil)
	c.Register(reachable, 40)
	garbage := object.NewString("garbage", nil)
	c.Register(garbage, 40)

	roots := &fakeRoots{roots: []object.Value{object.FromObj(reachable)}}
	before := c.Allocated()
	c.Collect(roots)
	after := c.Allocated()

	if after >= before {
		t.Fatalf("expected allocated bytes to shrink after sweeping garbage: before=%d after=%d", before, after)
	}
	if reachable.Reached {
		t.Fatal("mark bit should be cleared on survivors after sweep")
	}
}

func TestMarkReachesThroughList(t *testing.T) {
	c := New()
	inner := object.NewString("inner", nil)
	c.Register(inner, 40)
	list := &object.List{Elements: []object.Value{object.FromObj(inner)}}
	c.Register(list, 40)

	roots := &fakeRoots{roots: []object.Value{object.FromObj(list)}}
	c.Collect(roots)

	// inner survives only if blacken(list) marked it through list.Elements;
	// verify by running another cycle with the same roots and checking
	// allocated bytes are stable (nothing new got freed).
	before := c.Allocated()
	c.Collect(roots)
	after := c.Allocated()
	if before != after {
		t.Fatalf("expected second collect to be a no-op, before=%d after=%d", before, after)
	}
}

func TestCollectIdempotentOnQuiescentHeap(t *testing.T) {
	c := New()
	kept := object.NewString("kept", nil)
	c.Register(kept, 40)
	roots := &fakeRoots{roots: []object.Value{object.FromObj(kept)}}

	c.Collect(roots)
	first := c.Allocated()
	c.Collect(roots)
	second := c.Allocated()

	if first != second {
		t.Fatalf("expected idempotent GC on quiescent heap: first=%d second=%d", first, second)
	}
}

func TestDisableEnablePreventsCollection(t *testing.T) {
	c := New()
	c.nextGC = 0 // force ShouldCollect to report true immediately
	// ShouldCollect needs allocated strictly above nextGC.
	c.allocated = 1
	c.Disable()
	if c.ShouldCollect() {
		t.Fatal("expected ShouldCollect to be false while disabled")
	}
	c.Enable()
	if !c.ShouldCollect() {
		t.Fatal("expected ShouldCollect to be true once re-enabled past threshold")
	}
}

func TestSweepRunsFinalizerOnUserdata(t *testing.T) {
	c := New()
	finalized := false
	ud := &object.Userdata{Data: []byte("x"), Finalizer: func([]byte) { finalized = true }}
	c.Register(ud, 40)

	roots := &fakeRoots{}
	c.Collect(roots)

	if !finalized {
		t.Fatal("expected finalizer to run when Userdata is swept")
	}
}
