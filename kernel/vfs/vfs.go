// Package vfs implements the minimal read-only file namespace the kernel
// boots with: every Limine boot module becomes a flat, top-level file named
// after its reported path, in lieu of parsing an on-disk filesystem (no
// FAT32/AHCI support exists in this kernel). It follows the shape of the
// original kernel's InitrdFS (open/read/stat against a VNode, keyed by an
// inode-like handle) but drops the directory hierarchy, since a flat module
// list has none to offer: every module lives directly under "/".
package vfs

import (
	"nyx/kernel"
	"nyx/kernel/hal/limine"
	"unsafe"
)

var (
	errNotFound     = &kernel.Error{Module: "vfs", Message: "no such file"}
	errNotSupported = &kernel.Error{Module: "vfs", Message: "read-only filesystem"}
)

// the following is mocked by tests.
var modulesFn = bootModules

// bootModules adapts limine.Modules into the shape Mount needs, resolving
// each file's path and overlaying its backing bytes directly onto the
// module's memory (no copy, no separate mapping — module addresses are
// already HHDM pointers, like a framebuffer's).
func bootModules() []moduleEntry {
	files := limine.Modules()
	out := make([]moduleEntry, 0, len(files))
	for _, f := range files {
		if f == nil {
			continue
		}
		var data []byte
		if f.Size > 0 {
			data = unsafe.Slice((*byte)(unsafe.Pointer(f.Address)), int(f.Size))
		}
		out = append(out, moduleEntry{name: f.Path(), data: data})
	}
	return out
}

// moduleEntry is the boundary type between limine's module list and this
// package's namespace, so tests can fake a mounted module without reaching
// into limine.File's unexported fields.
type moduleEntry struct {
	name string
	data []byte
}

// node is a single mounted file: a name and the bytes backing it.
type node struct {
	name string
	data []byte
}

// Root is the single system-wide file namespace, populated once by Mount.
var Root Namespace

// Namespace is a flat table of every mounted file, keyed by name.
type Namespace struct {
	nodes []*node
}

// Mount populates the namespace from every module the loader reported. It
// must be called after the HHDM offset is known and before anything tries
// to Open a path (kmain calls it once, after limine.SetModuleResponse).
func (ns *Namespace) Mount() {
	ns.nodes = nil
	for _, m := range modulesFn() {
		ns.nodes = append(ns.nodes, &node{name: m.name, data: m.data})
	}
}

func (ns *Namespace) lookup(path string) *node {
	for _, n := range ns.nodes {
		if n.name == path {
			return n
		}
	}
	return nil
}

// Stat describes a mounted file's metadata.
type Stat struct {
	Name string
	Size uint64
}

// Stat returns path's metadata, or errNotFound if no module was mounted
// under that name.
func (ns *Namespace) Stat(path string) (Stat, *kernel.Error) {
	n := ns.lookup(path)
	if n == nil {
		return Stat{}, errNotFound
	}
	return Stat{Name: n.name, Size: uint64(len(n.data))}, nil
}

// File is an open handle onto a mounted file, tracking the next read
// offset the way a Unix file descriptor does.
type File struct {
	node   *node
	offset int64
}

// NewInMemoryFile wraps data as an already-open File handle, positioned at
// offset 0, without requiring it to be mounted anywhere. Callers that
// receive a file's content from something other than this namespace (a
// caller faking vfs.Root.Open for a test, say) can use this to hand back
// something real's Read/ReadAll behavior rather than a zero-value File.
func NewInMemoryFile(name string, data []byte) *File {
	return &File{node: &node{name: name, data: data}}
}

// Open returns a new handle onto path, positioned at offset 0.
func (ns *Namespace) Open(path string) (*File, *kernel.Error) {
	n := ns.lookup(path)
	if n == nil {
		return nil, errNotFound
	}
	return &File{node: n}, nil
}

// Read fills p with bytes starting at the handle's current offset and
// advances it, returning (0, nil) at end of file rather than io.EOF, since
// early-boot callers have no error-wrapping machinery to unwrap it through.
func (f *File) Read(p []byte) (int, *kernel.Error) {
	remaining := int64(len(f.node.data)) - f.offset
	if remaining <= 0 {
		return 0, nil
	}

	n := len(p)
	if int64(n) > remaining {
		n = int(remaining)
	}
	copy(p, f.node.data[f.offset:f.offset+int64(n)])
	f.offset += int64(n)
	return n, nil
}

// ReadAll returns the whole file's contents as a fresh, independently
// owned slice, for callers (like the ELF loader) that need the complete
// image rather than a streamed read.
func (f *File) ReadAll() []byte {
	out := make([]byte, len(f.node.data))
	copy(out, f.node.data)
	return out
}

// Size returns the file's total length.
func (f *File) Size() int {
	return len(f.node.data)
}

// Close is a no-op: a mounted file's backing memory outlives the kernel, so
// there is nothing to release. It exists so File satisfies the same
// open/read/stat/close shape every filesystem the kernel might grow later
// will share.
func (f *File) Close() *kernel.Error {
	return nil
}

// Write always fails: this namespace is read-only, matching InitrdFS's
// nodeWrite.
func (f *File) Write([]byte) (int, *kernel.Error) {
	return 0, errNotSupported
}
