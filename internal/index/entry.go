// Package index maintains the per-commit document index used for retrieval
// and decides how to carry it from one commit to the next.
package index

import (
	"sort"
	"strconv"
)

// Entry maps a file to the last sequence id of its documents. Ids for a file
// are always the contiguous range 0..last; a file without documents has no
// entry at all.
type Entry map[string]int

// DocumentID is the id of the k-th document of file.
func DocumentID(file string, k int) string {
	return file + "-" + strconv.Itoa(k)
}

// Add assigns ids last+1 .. last+n to n new documents of file and returns
// them in order.
func (e Entry) Add(file string, n int) []string {
	if n <= 0 {
		return nil
	}
	last, ok := e[file]
	if !ok {
		last = -1
	}
	ids := make([]string, n)
	for i := range ids {
		ids[i] = DocumentID(file, last+1+i)
	}
	e[file] = last + n
	return ids
}

// Remove drops the file's entry and returns the ids 0..last it held.
func (e Entry) Remove(file string) []string {
	last, ok := e[file]
	if !ok {
		return nil
	}
	ids := make([]string, last+1)
	for k := range ids {
		ids[k] = DocumentID(file, k)
	}
	delete(e, file)
	return ids
}

// IDs enumerates the document ids of file without changing the entry.
func (e Entry) IDs(file string) []string {
	last, ok := e[file]
	if !ok {
		return nil
	}
	ids := make([]string, last+1)
	for k := range ids {
		ids[k] = DocumentID(file, k)
	}
	return ids
}

// Files returns the indexed files, sorted.
func (e Entry) Files() []string {
	files := make([]string, 0, len(e))
	for f := range e {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}

// Clone returns an independent copy.
func (e Entry) Clone() Entry {
	c := make(Entry, len(e))
	for k, v := range e {
		c[k] = v
	}
	return c
}
