package ast

import "unsafe"

// Arena is a bump allocator for AST nodes: the parser allocates every node
// through it and never frees a node individually. Nodes live until the
// owning Function has been emitted by the compiler, at which point the
// whole arena is reset or discarded in one step (spec.md §3 Lifecycle).
//
// Pages are fixed 4 KiB chunks; requests larger than a page (a Class with an
// unusually large method list, say) go on a separate overflow chain that is
// freed wholesale rather than bump-allocated, so a single huge node can't
// strand the rest of a page.
const pageSize = 4096

type page struct {
	buf    []byte
	cursor int
}

// Arena owns a chain of pages plus an overflow chain for oversized requests.
type Arena struct {
	pages    []*page
	overflow [][]byte
	cur      int // index into pages of the page currently being filled
}

// NewArena creates an empty Arena with one page pre-allocated.
func NewArena() *Arena {
	a := &Arena{}
	a.pages = append(a.pages, &page{buf: make([]byte, pageSize)})
	return a
}

// Alloc returns size bytes of zeroed, pointer-aligned storage. The caller
// casts the returned slice's backing array to the node type it needs; nodes
// are POD and run no destructors, so this is simply memory, not an object
// constructor.
func (a *Arena) Alloc(size int) []byte {
	const align = 8
	if size > pageSize {
		buf := make([]byte, size)
		a.overflow = append(a.overflow, buf)
		return buf
	}

	p := a.pages[a.cur]
	start := (p.cursor + align - 1) &^ (align - 1)
	if start+size > len(p.buf) {
		a.pages = append(a.pages, &page{buf: make([]byte, pageSize)})
		a.cur = len(a.pages) - 1
		p = a.pages[a.cur]
		start = 0
	}
	p.cursor = start + size
	return p.buf[start : start+size]
}

// Realloc grows (or shrinks) a previous allocation. Shrinking reslices the
// existing block; growing always takes a fresh block and copies the old
// contents into it, even when the allocation is the most recent one on the
// current page.
func (a *Arena) Realloc(ptr []byte, oldSize, newSize int) []byte {
	if newSize <= oldSize {
		return ptr[:newSize]
	}
	fresh := a.Alloc(newSize)
	copy(fresh, ptr[:oldSize])
	return fresh
}

// Reset rewinds every page's cursor to zero and drops the overflow chain,
// allowing the arena's pages to be reused for the next parse without
// returning memory to the OS.
func (a *Arena) Reset() {
	for _, p := range a.pages {
		p.cursor = 0
	}
	a.overflow = nil
	a.cur = 0
}

// Free releases all pages and overflow blocks. After Free, the Arena must
// not be used again.
func (a *Arena) Free() {
	a.pages = nil
	a.overflow = nil
	a.cur = 0
}

// New allocates a zero-valued T from the arena and returns a pointer into
// arena-owned storage. This is the ergonomic entry point the parser actually
// calls; Alloc/Realloc stay available at the byte level for completeness
// with spec.md §4.2's allocator contract.
func New[T any](a *Arena) *T {
	var zero T
	size := int(unsafe.Sizeof(zero))
	buf := a.Alloc(size)
	return (*T)(unsafe.Pointer(unsafe.SliceData(buf)))
}
