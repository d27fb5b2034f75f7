package mono

import (
	"sort"

	"monomem/process"

	"github.com/derekparker/trie"
)

// ClassIndex is a by-name snapshot of an image's classes for interactive
// lookup. It goes stale as the runtime loads more classes; rebuild it.
type ClassIndex struct {
	t     *trie.Trie
	names []string
}

// BuildClassIndex walks img once and indexes each class by full name.
// A repeated name keeps its first class.
func BuildClassIndex(r process.Reader, img *Image) (*ClassIndex, error) {
	ix := &ClassIndex{t: trie.New()}

	for c, err := range img.Classes(r) {
		if err != nil {
			return nil, err
		}

		name, err := c.FullName(r)
		if err != nil {
			return nil, err
		}
		if _, dup := ix.t.Find(name); dup {
			continue
		}

		ix.t.Add(name, c)
		ix.names = append(ix.names, name)
	}

	sort.Strings(ix.names)
	return ix, nil
}

func (ix *ClassIndex) Len() int {
	return len(ix.names)
}

// Names returns every indexed name, sorted.
func (ix *ClassIndex) Names() []string {
	return append([]string(nil), ix.names...)
}

// Find returns the class with exactly this full name.
func (ix *ClassIndex) Find(fullName string) (*Class, bool) {
	node, ok := ix.t.Find(fullName)
	if !ok {
		return nil, false
	}
	c, ok := node.Meta().(*Class)
	return c, ok
}

// Prefix returns the sorted names that start with prefix.
func (ix *ClassIndex) Prefix(prefix string) []string {
	if prefix == "" {
		return ix.Names()
	}
	names := ix.t.PrefixSearch(prefix)
	sort.Strings(names)
	return names
}

// Fuzzy returns names containing the characters of expr in order.
func (ix *ClassIndex) Fuzzy(expr string) []string {
	names := ix.t.FuzzySearch(expr)
	sort.Strings(names)
	return names
}
