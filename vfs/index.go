package vfs

import (
	"strings"
	"time"

	"github.com/archivemount/archivemount/sevenzip"
)

// Node is one entry in the Index tree.  Nodes are immutable once the
// index is built so they can be read concurrently without locking.
type Node struct {
	entry     sevenzip.Entry
	name      string // last path component, case preserved
	synthetic bool   // directory made up for a missing interior prefix
	children  []*Node
	byName    map[string]*Node // lower cased component -> child
}

// Entry returns the underlying archive entry.
func (n *Node) Entry() sevenzip.Entry {
	return n.entry
}

// Name returns the case preserved last path component, "" for the root.
func (n *Node) Name() string {
	return n.name
}

// Path returns the normalized archive relative path, "" for the root.
func (n *Node) Path() string {
	return n.entry.Path
}

// Size returns the logical size in bytes, 0 for directories.
func (n *Node) Size() int64 {
	if n.IsDir() {
		return 0
	}
	return n.entry.Size
}

// IsDir reports whether the node is a directory.
func (n *Node) IsDir() bool {
	return n.entry.IsDir
}

// ModTime returns the modification time, substituting the current
// wall clock when the listing didn't carry one.
func (n *Node) ModTime() time.Time {
	if n.entry.Modified.IsZero() {
		return time.Now()
	}
	return n.entry.Modified
}

// Children returns the direct children in listing order.
func (n *Node) Children() []*Node {
	return n.children
}

// String returns the path for logging.
func (n *Node) String() string {
	if n == nil {
		return "<nil>"
	}
	if n.entry.Path == "" {
		return `\`
	}
	return n.entry.Path
}

// Index is the directory tree of an archive listing.  It is built once
// at mount and read only thereafter, and it is the authoritative source
// of metadata - cache state never influences what the index reports.
type Index struct {
	root *Node
}

// newDirNode makes a synthetic directory node.
func newDirNode(path, name string) *Node {
	return &Node{
		entry: sevenzip.Entry{
			Path:     path,
			Modified: time.Now(),
			IsDir:    true,
		},
		name:      name,
		synthetic: true,
		byName:    make(map[string]*Node),
	}
}

// NewIndex builds an Index from a listing.
//
// Paths are normalized, inserted under case-insensitive component
// keys, and any interior directory the listing didn't emit explicitly
// is synthesized.  Duplicate paths keep the last listing record.
func NewIndex(entries []sevenzip.Entry) *Index {
	idx := &Index{root: newDirNode("", "")}
	for _, entry := range entries {
		entry.Path = Normalize(entry.Path)
		if entry.Path == "" {
			continue
		}
		idx.insert(entry)
	}
	return idx
}

func (idx *Index) insert(entry sevenzip.Entry) {
	parts := strings.Split(entry.Path, `\`)
	node := idx.root
	for i, part := range parts {
		key := strings.ToLower(part)
		child := node.byName[key]
		last := i == len(parts)-1
		if child == nil {
			child = newDirNode(strings.Join(parts[:i+1], `\`), part)
			node.byName[key] = child
			node.children = append(node.children, child)
		}
		if last {
			// Adopt the listing's metadata, keeping any children
			// inserted before their parent appeared in the listing.
			child.entry = entry
			child.name = part
			child.synthetic = false
			if child.byName == nil {
				child.byName = make(map[string]*Node)
			}
		}
		node = child
	}
}

// Root returns the synthetic root directory.
func (idx *Index) Root() *Node {
	return idx.root
}

// Lookup resolves a path case-insensitively.  The root ("", "\" or
// "/") always resolves.  It returns ENOENT for paths not in the index
// and ENOTDIR when a non-final component is a file.
func (idx *Index) Lookup(name string) (*Node, error) {
	node := idx.root
	for _, part := range SplitPath(name) {
		if !node.IsDir() {
			return nil, ENOTDIR
		}
		child := node.byName[strings.ToLower(part)]
		if child == nil {
			return nil, ENOENT
		}
		node = child
	}
	return node, nil
}

// Children returns the direct children of the directory at name.
func (idx *Index) Children(name string) ([]*Node, error) {
	node, err := idx.Lookup(name)
	if err != nil {
		return nil, err
	}
	if !node.IsDir() {
		return nil, ENOTDIR
	}
	return node.children, nil
}

// Len returns the number of entries in the index not counting the root.
func (idx *Index) Len() int {
	count := 0
	var walk func(*Node)
	walk = func(n *Node) {
		for _, child := range n.children {
			count++
			walk(child)
		}
	}
	walk(idx.root)
	return count
}
