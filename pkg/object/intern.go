package object

// Interner owns the per-VM string-intern table of spec §3: "Interned
// strings are uniquely keyed in the intern table by (length, bytes); after
// lookup/insertion, any future equal literal resolves to the same object."
// Keying on the native Go string avoids re-hashing on every lookup (Go's
// map already hashes the bytes once), while the *String objects themselves
// still carry their own cached FNV-1a hash for Table/Hash() use.
type Interner struct {
	table map[string]*String
}

func NewInterner() *Interner {
	return &Interner{table: make(map[string]*String)}
}

// Intern returns the canonical *String for s, allocating and registering a
// new one on first sight. class is the bootstrapped String class to attach
// (may be nil during early bootstrap and back-patched later).
func (in *Interner) Intern(s string, class *Class) *String {
	if existing, ok := in.table[s]; ok {
		return existing
	}
	str := &String{
		Head:     Head{Class: class},
		Bytes:    []byte(s),
		Interned: true,
	}
	str.Hash() // cache eagerly; cheap and used on nearly every lookup
	in.table[s] = str
	return str
}

// Sweep drops intern-table entries whose String was not marked reached
// during the last GC cycle (spec §4.6: "Weak references: the intern table
// entries whose keys were not marked are dropped before sweep").
func (in *Interner) Sweep() {
	for k, v := range in.table {
		if !v.Reached {
			delete(in.table, k)
		}
	}
}

// Each calls fn for every interned string currently registered.
func (in *Interner) Each(fn func(*String)) {
	for _, v := range in.table {
		fn(v)
	}
}

// NewString builds a non-interned string (e.g. runtime string concatenation
// results); it participates in the GC object list like any other heap value
// but is compared by content, not identity (spec §3).
func NewString(s string, class *Class) *String {
	return &String{Head: Head{Class: class}, Bytes: []byte(s)}
}
