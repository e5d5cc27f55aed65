package object

import "testing"

func TestTableSetGet(t *testing.T) {
	tb := NewTable()
	k := FromObj(NewString("count", nil))
	tb.Set(k, Number(5))
	v, ok := tb.Get(k)
	if !ok || v.AsNumber() != 5 {
		t.Fatalf("expected 5, got %v ok=%v", v, ok)
	}
}

// A non-string object used as a key (e.g. a List) must probe the same
// bucket on Set and on a later Get that receives the key through a
// separate call frame — exactly the case that broke when Hash used the
// address of its own parameter copy instead of the object's identity.
func TestTableObjectKeyRoundTripsThroughCallBoundary(t *testing.T) {
	tb := NewTable()
	key := FromObj(&List{Elements: []Value{Number(1), Number(2)}})

	set := func(v Value) { tb.Set(key, v) }
	get := func() (Value, bool) { return tb.Get(key) }

	set(Number(7))
	v, ok := get()
	if !ok {
		t.Fatal("expected object-keyed lookup to hit after Set")
	}
	if v.AsNumber() != 7 {
		t.Fatalf("expected 7, got %v", v)
	}
}

func TestTableMissingKey(t *testing.T) {
	tb := NewTable()
	_, ok := tb.Get(FromObj(NewString("nope", nil)))
	if ok {
		t.Fatal("expected miss on empty table")
	}
}

func TestTableOverwrite(t *testing.T) {
	tb := NewTable()
	k := Number(1) // keys need not be strings
	tb.Set(k, Number(1))
	tb.Set(k, Number(2))
	if tb.Len() != 1 {
		t.Fatalf("expected 1 live entry after overwrite, got %d", tb.Len())
	}
	v, _ := tb.Get(k)
	if v.AsNumber() != 2 {
		t.Fatalf("expected overwritten value 2, got %v", v.AsNumber())
	}
}

func TestTableDeleteThenReinsert(t *testing.T) {
	tb := NewTable()
	k := FromObj(NewString("x", nil))
	tb.Set(k, Number(1))
	if !tb.Delete(k) {
		t.Fatal("expected delete to report removal")
	}
	if _, ok := tb.Get(k); ok {
		t.Fatal("expected miss after delete")
	}
	tb.Set(k, Number(99))
	v, ok := tb.Get(k)
	if !ok || v.AsNumber() != 99 {
		t.Fatalf("expected reinsert to work through tombstone, got %v ok=%v", v, ok)
	}
}

func TestTableGrowsAndKeepsAllEntries(t *testing.T) {
	tb := NewTable()
	n := 100
	for i := 0; i < n; i++ {
		tb.Set(Number(float64(i)), Number(float64(i*i)))
	}
	if tb.Len() != n {
		t.Fatalf("expected %d live entries, got %d", n, tb.Len())
	}
	for i := 0; i < n; i++ {
		v, ok := tb.Get(Number(float64(i)))
		if !ok || v.AsNumber() != float64(i*i) {
			t.Fatalf("entry %d lost or corrupted: %v ok=%v", i, v, ok)
		}
	}
}

func TestTableShallowCopyIndependent(t *testing.T) {
	tb := NewTable()
	tb.Set(FromObj(NewString("a", nil)), Number(1))
	cp := tb.ShallowCopy()
	cp.Set(FromObj(NewString("b", nil)), Number(2))
	if tb.Len() != 1 {
		t.Fatalf("original table mutated by copy: len=%d", tb.Len())
	}
	if cp.Len() != 2 {
		t.Fatalf("expected copy to have 2 entries, got %d", cp.Len())
	}
}

func TestTableEachVisitsAllLiveEntries(t *testing.T) {
	tb := NewTable()
	want := map[float64]bool{1: true, 2: true, 3: true}
	for k := range want {
		tb.Set(Number(k), Bool(true))
	}
	got := map[float64]bool{}
	tb.Each(func(k, v Value) { got[k.AsNumber()] = true })
	if len(got) != len(want) {
		t.Fatalf("expected %d entries visited, got %d", len(want), len(got))
	}
}
