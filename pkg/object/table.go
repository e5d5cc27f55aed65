package object

// Table is the open-addressed, power-of-two-sized, tombstone-based hash map
// of spec §3/§2 ("Hash table... used for class methods, instance fields,
// module globals, string interning"). An empty slot has Key == Null; a
// tombstone (a deleted entry kept so probing for later keys still works)
// has Key == Null and Value == True, matching the spec's exact
// "distinguishes empty (key=null, val=null) from tombstone (key=null,
// val=true)" convention.
type Table struct {
	Head
	entries []tableEntry
	count   int // live entries + tombstones, for the load-factor check
	live    int // live entries only
}

type tableEntry struct {
	Key   Value
	Value Value
}

func (*Table) Type() ObjType { return ObjTable }

const tableInitialCap = 8
const tableMaxLoad = 0.75

// NewTable returns an empty Table with spec's initial capacity of 8.
func NewTable() *Table {
	return &Table{entries: make([]tableEntry, tableInitialCap)}
}

// Get returns the value bound to key and whether it was found.
func (t *Table) Get(key Value) (Value, bool) {
	if len(t.entries) == 0 {
		return Null, false
	}
	idx := t.findEntry(t.entries, key)
	e := &t.entries[idx]
	if e.Key.IsNull() {
		return Null, false
	}
	return e.Value, true
}

// Set inserts or overwrites key's binding, growing the table first if the
// load factor would exceed 75% (spec §3).
func (t *Table) Set(key Value, value Value) {
	if float64(t.count+1) > float64(len(t.entries))*tableMaxLoad {
		t.grow()
	}
	idx := t.findEntry(t.entries, key)
	e := &t.entries[idx]
	isNewKey := e.Key.IsNull()
	if isNewKey && e.Value.IsNull() {
		// brand new slot, not a reused tombstone
		t.count++
	}
	if isNewKey {
		t.live++
	}
	e.Key = key
	e.Value = value
}

// Delete tombstones key's slot if present. Returns whether a live entry was
// removed.
func (t *Table) Delete(key Value) bool {
	if len(t.entries) == 0 {
		return false
	}
	idx := t.findEntry(t.entries, key)
	e := &t.entries[idx]
	if e.Key.IsNull() {
		return false
	}
	e.Key = Null
	e.Value = True // tombstone marker
	t.live--
	return true
}

func (t *Table) Len() int { return t.live }

// Each calls fn for every live entry, in bucket order. Callers must not
// mutate the table during iteration.
func (t *Table) Each(fn func(key, value Value)) {
	for _, e := range t.entries {
		if e.Key.IsNull() {
			continue
		}
		fn(e.Key, e.Value)
	}
}

// NextLive returns the bucket index of the first live entry at or after
// from, or -1 if none remain; this is the raw slot index the VM's
// __iter__/__next__ state threading uses directly as the opaque iteration
// state for a Table (spec §3/§4.4). Callers must not mutate the table
// between NextLive calls for the same walk, same as Each.
func (t *Table) NextLive(from int) int {
	for i := from; i < len(t.entries); i++ {
		if !t.entries[i].Key.IsNull() {
			return i
		}
	}
	return -1
}

// KeyAt and ValueAt return the entry at a raw slot index previously
// returned by NextLive.
func (t *Table) KeyAt(idx int) Value   { return t.entries[idx].Key }
func (t *Table) ValueAt(idx int) Value { return t.entries[idx].Value }

// findEntry implements the probe sequence shared by Get/Set/Delete: linear
// probing from the hash bucket, stopping at the first empty slot or at a
// matching key, remembering the first tombstone seen so Set can reuse it.
func (t *Table) findEntry(entries []tableEntry, key Value) int {
	cap := uint32(len(entries))
	idx := Hash(key) & (cap - 1)
	var tombstone int = -1
	for {
		e := &entries[idx]
		if e.Key.IsNull() {
			if e.Value.IsNull() {
				// truly empty: return tombstone slot if we saw one, else this one
				if tombstone != -1 {
					return tombstone
				}
				return int(idx)
			}
			if tombstone == -1 {
				tombstone = int(idx)
			}
		} else if Equal(e.Key, key) {
			return int(idx)
		}
		idx = (idx + 1) & (cap - 1)
	}
}

func (t *Table) grow() {
	newCap := len(t.entries) * 2
	if newCap == 0 {
		newCap = tableInitialCap
	}
	fresh := make([]tableEntry, newCap)
	t.count = 0
	for _, e := range t.entries {
		if e.Key.IsNull() {
			continue
		}
		idx := t.findEntry(fresh, e.Key)
		fresh[idx] = e
		t.count++
	}
	t.entries = fresh
}

// ShallowCopy returns a new Table with the same live entries, used when a
// subclass's method table is shallow-copied from its superclass at creation
// (spec §3 Class variant).
func (t *Table) ShallowCopy() *Table {
	out := NewTable()
	t.Each(func(k, v Value) { out.Set(k, v) })
	return out
}
