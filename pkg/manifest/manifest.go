package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
)

// DefaultFileName is the manifest file created under the documents root.
const DefaultFileName = ".specmgr-manifest.json"

// documentSchema is the durable contract other tooling reads.
const documentSchema = `{
	"type": "object",
	"required": ["files"],
	"properties": {
		"files": {
			"type": "object",
			"additionalProperties": {"type": "string"}
		},
		"last_updated": {"type": ["string", "null"]}
	}
}`

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
}

// Document is the in-memory form of the manifest file.
type Document struct {
	Files       map[string]string
	LastUpdated *time.Time
}

type fileDocument struct {
	Files       map[string]string `json:"files"`
	LastUpdated *string           `json:"last_updated"`
}

// NewDocument returns an empty manifest document.
func NewDocument() *Document {
	return &Document{Files: make(map[string]string)}
}

// MarshalJSON encodes the document in the on-disk shape.
func (d *Document) MarshalJSON() ([]byte, error) {
	fd := fileDocument{Files: d.Files}
	if fd.Files == nil {
		fd.Files = map[string]string{}
	}
	if d.LastUpdated != nil {
		ts := d.LastUpdated.UTC().Format(time.RFC3339Nano)
		fd.LastUpdated = &ts
	}
	return json.Marshal(fd)
}

// UnmarshalJSON accepts RFC 3339 timestamps as well as naive ISO 8601 ones.
func (d *Document) UnmarshalJSON(data []byte) error {
	var fd fileDocument
	if err := json.Unmarshal(data, &fd); err != nil {
		return err
	}
	d.Files = fd.Files
	if d.Files == nil {
		d.Files = make(map[string]string)
	}
	d.LastUpdated = nil
	if fd.LastUpdated != nil {
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, *fd.LastUpdated); err == nil {
				d.LastUpdated = &t
				break
			}
		}
	}
	return nil
}

// Stats summarizes the manifest file.
type Stats struct {
	TotalFiles  int        `json:"total_files"`
	LastUpdated *time.Time `json:"last_updated"`
	Exists      bool       `json:"manifest_exists"`
	SizeBytes   int64      `json:"manifest_size"`
}

// Config holds manifest store configuration
type Config struct {
	Root     string
	FileName string
	Logger   zerolog.Logger
	Clock    func() time.Time
}

// Store persists the manifest as a single JSON file.
type Store struct {
	path   string
	logger zerolog.Logger
	clock  func() time.Time
	schema *gojsonschema.Schema
	mu     sync.Mutex

	// rename is swapped in tests to simulate a crash before the swap.
	rename func(oldpath, newpath string) error
}

// NewStore creates a manifest store rooted at cfg.Root.
func NewStore(cfg Config) *Store {
	name := cfg.FileName
	if name == "" {
		name = DefaultFileName
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(documentSchema))
	if err != nil {
		// The schema is a constant; failing to compile it is a programming error.
		panic(fmt.Sprintf("manifest: invalid schema: %v", err))
	}

	return &Store{
		path:   filepath.Join(cfg.Root, name),
		logger: cfg.Logger,
		clock:  clock,
		schema: schema,
		rename: os.Rename,
	}
}

// Path returns the manifest file location.
func (s *Store) Path() string {
	return s.path
}

// Load reads the manifest. A missing, unreadable or corrupted file yields an
// empty document and a nil error.
func (s *Store) Load() (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(), nil
}

func (s *Store) load() *Document {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn().Err(err).Str("path", s.path).Msg("Failed to read manifest, starting empty")
		}
		return NewDocument()
	}

	doc, err := s.parse(data)
	if err != nil {
		s.logger.Warn().Err(err).Str("path", s.path).Msg("Manifest corrupted, starting empty")
		s.relocateCorrupted()
		return NewDocument()
	}

	return doc
}

func (s *Store) parse(data []byte) (*Document, error) {
	result, err := s.schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrManifestCorrupted, err)
	}
	if !result.Valid() {
		msg := "invalid document"
		if errs := result.Errors(); len(errs) > 0 {
			msg = errs[0].String()
		}
		return nil, fmt.Errorf("%w: %s", ErrManifestCorrupted, msg)
	}

	doc := NewDocument()
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrManifestCorrupted, err)
	}
	return doc, nil
}

// relocateCorrupted moves a damaged manifest aside for diagnosis.
func (s *Store) relocateCorrupted() {
	target := fmt.Sprintf("%s.corrupted-%d", s.path, s.clock().Unix())
	if err := s.rename(s.path, target); err != nil {
		s.logger.Debug().Err(err).Str("path", s.path).Msg("Could not relocate corrupted manifest")
		return
	}
	s.logger.Info().Str("backup", target).Msg("Corrupted manifest moved aside")
}

// Save stamps and atomically writes doc.
func (s *Store) Save(doc *Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(doc)
}

func (s *Store) save(doc *Document) error {
	now := s.clock().UTC()
	doc.LastUpdated = &now

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return &Error{Op: "encode", Path: s.path, Err: err}
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return &Error{Op: "mkdir", Path: s.path, Err: err}
	}

	// Write to temporary file first
	tempPath := s.path + ".tmp"
	if err := writeSynced(tempPath, data); err != nil {
		os.Remove(tempPath)
		return &Error{Op: "write", Path: tempPath, Err: err}
	}

	// Atomic rename
	if err := s.rename(tempPath, s.path); err != nil {
		return &Error{Op: "rename", Path: s.path, Err: err}
	}

	s.logger.Debug().
		Str("path", s.path).
		Int("files", len(doc.Files)).
		Msg("Manifest saved")

	return nil
}

func writeSynced(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Diff compares the stored fingerprints with current.
func (s *Store) Diff(current map[string]string) (Changes, error) {
	s.mu.Lock()
	doc := s.load()
	s.mu.Unlock()
	return Detect(doc.Files, current), nil
}

// KeysUnder lists the tracked paths inside dir, sorted.
func (s *Store) KeysUnder(dir string) ([]string, error) {
	prefix := strings.TrimSuffix(NormalizePath(dir), "/") + "/"

	s.mu.Lock()
	doc := s.load()
	s.mu.Unlock()

	var keys []string
	for key := range doc.Files {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// UpdateOne records fingerprint for path.
func (s *Store) UpdateOne(path, fingerprint string) error {
	return s.mutate(func(doc *Document) {
		doc.Files[NormalizePath(path)] = fingerprint
	})
}

// RemoveOne drops path. Removing an absent path is not an error.
func (s *Store) RemoveOne(path string) error {
	return s.mutate(func(doc *Document) {
		delete(doc.Files, NormalizePath(path))
	})
}

// ReplaceAll overwrites the whole file set.
func (s *Store) ReplaceAll(files map[string]string) error {
	return s.mutate(func(doc *Document) {
		doc.Files = make(map[string]string, len(files))
		for path, fp := range files {
			doc.Files[NormalizePath(path)] = fp
		}
	})
}

func (s *Store) mutate(fn func(doc *Document)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.load()
	fn(doc)
	return s.save(doc)
}

// Stats reports the manifest size and freshness.
func (s *Store) Stats() (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.load()
	stats := Stats{
		TotalFiles:  len(doc.Files),
		LastUpdated: doc.LastUpdated,
	}

	info, err := os.Stat(s.path)
	switch {
	case err == nil:
		stats.Exists = true
		stats.SizeBytes = info.Size()
	case !errors.Is(err, os.ErrNotExist):
		return stats, &Error{Op: "stat", Path: s.path, Err: err}
	}

	return stats, nil
}

// Clear removes the manifest so the next incremental pass re-indexes
// everything. The previous version is kept as a backup when possible. Clear
// never fails.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.path); errors.Is(err, os.ErrNotExist) {
		return nil
	}

	backup := fmt.Sprintf("%s.bak-%d", s.path, s.clock().Unix())
	err := s.rename(s.path, backup)
	if err == nil {
		s.logger.Info().Str("backup", backup).Msg("Manifest cleared")
		return nil
	}
	s.logger.Warn().Err(err).Msg("Manifest backup failed, removing")

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Error().Err(err).Str("path", s.path).Msg("Failed to remove manifest")
	}
	return nil
}
