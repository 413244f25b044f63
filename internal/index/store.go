package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/standardbeagle/patchloop/internal/debug"
	plerrors "github.com/standardbeagle/patchloop/internal/errors"
)

// Key identifies a persisted index: one per (project, commit).
type Key struct {
	Project string
	Commit  string
}

// String is the persistence name, project + "_" + commit.
func (k Key) String() string {
	return k.Project + "_" + k.Commit
}

// Valid reports whether both parts are set.
func (k Key) Valid() bool {
	return k.Project != "" && k.Commit != ""
}

// Document is one retrievable unit of a file.
type Document struct {
	ID        string `json:"id"`
	File      string `json:"file_name"`
	Unit      string `json:"class_name,omitempty"`
	Kind      string `json:"kind,omitempty"`
	Content   string `json:"page_content"`
	Summary   bool   `json:"summary,omitempty"`
	Hash      uint64 `json:"hash"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
}

// Snapshot is everything persisted under one key.
type Snapshot struct {
	Entry     Entry               `json:"entry"`
	Documents map[string]Document `json:"documents"`
}

// NewSnapshot returns an empty snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{Entry: Entry{}, Documents: map[string]Document{}}
}

// Clone deep-copies the snapshot so a cached value is never mutated.
func (s *Snapshot) Clone() *Snapshot {
	c := &Snapshot{Entry: s.Entry.Clone(), Documents: make(map[string]Document, len(s.Documents))}
	for id, d := range s.Documents {
		c.Documents[id] = d
	}
	return c
}

// AddDocuments assigns sequence ids to docs of one file and stores them.
func (s *Snapshot) AddDocuments(file string, docs []Document) []string {
	ids := s.Entry.Add(file, len(docs))
	for i, id := range ids {
		d := docs[i]
		d.ID = id
		d.File = file
		s.Documents[id] = d
	}
	return ids
}

// RemoveFile deletes every document of file by id enumeration.
func (s *Snapshot) RemoveFile(file string) int {
	ids := s.Entry.Remove(file)
	for _, id := range ids {
		delete(s.Documents, id)
	}
	return len(ids)
}

// FileDocuments returns the documents of file in sequence order.
func (s *Snapshot) FileDocuments(file string) []Document {
	var docs []Document
	for _, id := range s.Entry.IDs(file) {
		if d, ok := s.Documents[id]; ok {
			docs = append(docs, d)
		}
	}
	return docs
}

// AllDocuments returns every document ordered by file then sequence.
func (s *Snapshot) AllDocuments() []Document {
	var docs []Document
	for _, f := range s.Entry.Files() {
		docs = append(docs, s.FileDocuments(f)...)
	}
	return docs
}

// Store persists snapshots. Writers to the same key must be serialized by
// the caller.
type Store interface {
	Exists(ctx context.Context, key Key) (bool, error)
	Load(ctx context.Context, key Key) (*Snapshot, error)
	Save(ctx context.Context, key Key, snap *Snapshot) error
	Delete(ctx context.Context, key Key) error
}

// FileStore keeps each snapshot as two JSON files in a directory:
// <key>.json holds the entry map and <key>.docs.json the documents.
// Loaded snapshots are kept in an LRU cache.
type FileStore struct {
	dir   string
	mu    sync.Mutex
	cache *lru.Cache[string, *Snapshot]
}

// NewFileStore opens (and creates) dir. cacheSize <= 0 disables caching.
func NewFileStore(dir string, cacheSize int) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, plerrors.NewFileError("mkdir", dir, err)
	}
	s := &FileStore{dir: dir}
	if cacheSize > 0 {
		cache, err := lru.New[string, *Snapshot](cacheSize)
		if err != nil {
			return nil, err
		}
		s.cache = cache
	}
	return s, nil
}

// Dir returns the storage directory.
func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) entryPath(key Key) string {
	return filepath.Join(s.dir, fileSafe(key.String())+".json")
}

func (s *FileStore) docsPath(key Key) string {
	return filepath.Join(s.dir, fileSafe(key.String())+".docs.json")
}

// Exists reports whether both files of key are present.
func (s *FileStore) Exists(ctx context.Context, key Key) (bool, error) {
	if !key.Valid() {
		return false, nil
	}
	for _, p := range []string{s.entryPath(key), s.docsPath(key)} {
		if _, err := os.Stat(p); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return false, nil
			}
			return false, plerrors.NewFileError("stat", p, err)
		}
	}
	return true, nil
}

// Load reads the snapshot stored under key. The caller owns the result.
func (s *FileStore) Load(ctx context.Context, key Key) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cache != nil {
		if snap, ok := s.cache.Get(key.String()); ok {
			return snap.Clone(), nil
		}
	}

	snap := NewSnapshot()
	if err := readJSON(s.entryPath(key), &snap.Entry); err != nil {
		return nil, plerrors.NewIndexError("load", key.String(), err)
	}
	if err := readJSON(s.docsPath(key), &snap.Documents); err != nil {
		return nil, plerrors.NewIndexError("load", key.String(), err)
	}
	if snap.Entry == nil {
		snap.Entry = Entry{}
	}
	if snap.Documents == nil {
		snap.Documents = map[string]Document{}
	}
	if s.cache != nil {
		s.cache.Add(key.String(), snap.Clone())
	}
	debug.LogIndex("loaded %s: %d files, %d documents\n", key, len(snap.Entry), len(snap.Documents))
	return snap, nil
}

// Save writes both files atomically (temp file then rename), documents
// first so a present entry file implies complete documents.
func (s *FileStore) Save(ctx context.Context, key Key, snap *Snapshot) error {
	if !key.Valid() {
		return plerrors.NewIndexError("save", key.String(), fmt.Errorf("incomplete key"))
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := writeJSON(s.docsPath(key), snap.Documents); err != nil {
		return plerrors.NewIndexError("save", key.String(), err)
	}
	if err := writeJSON(s.entryPath(key), snap.Entry); err != nil {
		return plerrors.NewIndexError("save", key.String(), err)
	}
	if s.cache != nil {
		s.cache.Add(key.String(), snap.Clone())
	}
	debug.LogIndex("saved %s: %d files, %d documents\n", key, len(snap.Entry), len(snap.Documents))
	return nil
}

// Delete removes both files of key; missing files are not an error.
func (s *FileStore) Delete(ctx context.Context, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cache != nil {
		s.cache.Remove(key.String())
	}
	for _, p := range []string{s.entryPath(key), s.docsPath(key)} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return plerrors.NewIndexError("delete", key.String(), err)
		}
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func writeJSON(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// fileSafe keeps project names like "owner/repo" inside the store directory.
func fileSafe(name string) string {
	return strings.NewReplacer("/", "__", "\\", "__", ":", "_").Replace(name)
}
