// Package artifact manages the directory of synthesized audio files.
package artifact

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

var (
	// ErrNotFound is returned when the named artifact does not exist.
	ErrNotFound = errors.New("file not found")
	// ErrInvalidName is returned for names that are empty or escape the store.
	ErrInvalidName = errors.New("invalid filename")
	// ErrUnsupportedFormat is returned when saving with an unknown extension.
	ErrUnsupportedFormat = errors.New("unsupported audio format")
)

// Extensions lists the audio extensions the store manages.
var Extensions = []string{".mp3", ".opus", ".aac", ".flac"}

const tempPattern = ".tts-*.tmp"

// Artifact describes one stored audio file.
type Artifact struct {
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// SizeKB returns the size in kilobytes.
func (a Artifact) SizeKB() float64 {
	return float64(a.Size) / 1024
}

// Store is a file-backed artifact store rooted at a single directory.
type Store struct {
	dir   string
	clock func() time.Time

	// mu serializes name reservation so concurrent saves of the same text
	// within one clock tick pick distinct counters.
	mu sync.Mutex
}

// NewStore creates a store rooted at dir. The directory is created lazily.
func NewStore(dir string) *Store {
	return &Store{
		dir:   dir,
		clock: time.Now,
	}
}

// Dir returns the backing directory.
func (s *Store) Dir() string {
	return s.dir
}

// EnsureReady creates the backing directory if it does not exist.
func (s *Store) EnsureReady() error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("failed to create audio directory: %w", err)
	}
	return nil
}

// Save writes data as a new artifact whose name is derived from text and
// format. The file appears under its final name only once fully written.
func (s *Store) Save(data []byte, text, format string) (Artifact, error) {
	if !isAudioExt("." + format) {
		return Artifact{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if err := s.EnsureReady(); err != nil {
		return Artifact{}, err
	}

	tmp, err := os.CreateTemp(s.dir, tempPattern)
	if err != nil {
		return Artifact{}, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return Artifact{}, fmt.Errorf("failed to write audio file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return Artifact{}, fmt.Errorf("failed to sync audio file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return Artifact{}, fmt.Errorf("failed to close audio file: %w", err)
	}

	name, err := s.publish(tmpPath, FileName(s.clock(), text, format))
	if err != nil {
		return Artifact{}, err
	}

	log.Debug().Str("file", name).Int("bytes", len(data)).Msg("Saved audio file")
	return s.Describe(name)
}

// publish links the temp file to the first free name derived from base.
// os.Link never replaces an existing file, so an existing artifact is
// never overwritten.
func (s *Store) publish(tmpPath, base string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	for n := 1; ; n++ {
		name := base
		if n > 1 {
			name = fmt.Sprintf("%s_%d%s", stem, n, ext)
		}
		err := os.Link(tmpPath, filepath.Join(s.dir, name))
		if err == nil {
			return name, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("failed to publish audio file: %w", err)
		}
	}
}

// List returns all audio artifacts sorted by filename.
func (s *Store) List() ([]Artifact, error) {
	if err := s.EnsureReady(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio directory: %w", err)
	}

	artifacts := make([]Artifact, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !isAudioExt(filepath.Ext(entry.Name())) || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		artifacts = append(artifacts, fromInfo(info))
	}

	sort.Slice(artifacts, func(i, j int) bool {
		return artifacts[i].Name < artifacts[j].Name
	})
	return artifacts, nil
}

// Delete removes the named artifact.
func (s *Store) Delete(name string) error {
	path, err := s.Path(name)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return fmt.Errorf("failed to delete audio file: %w", err)
	}

	log.Debug().Str("file", name).Msg("Deleted audio file")
	return nil
}

// Describe reads size and creation time of the named artifact. Artifacts are
// never modified after creation, so the modification time is the creation
// time.
func (s *Store) Describe(name string) (Artifact, error) {
	path, err := s.Path(name)
	if err != nil {
		return Artifact{}, err
	}
	if !isAudioExt(filepath.Ext(name)) {
		return Artifact{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Artifact{}, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return Artifact{}, fmt.Errorf("failed to stat audio file: %w", err)
	}
	if info.IsDir() {
		return Artifact{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return fromInfo(info), nil
}

// Path resolves name to a path inside the store directory.
func (s *Store) Path(name string) (string, error) {
	if err := s.EnsureReady(); err != nil {
		return "", err
	}
	if err := validateName(name); err != nil {
		return "", err
	}
	return filepath.Join(s.dir, name), nil
}

func validateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: filename is required", ErrInvalidName)
	case strings.ContainsAny(name, `/\`), name == "." || name == "..", strings.HasPrefix(name, "."):
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	case filepath.Base(name) != name:
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

func fromInfo(info fs.FileInfo) Artifact {
	return Artifact{
		Name:      info.Name(),
		Size:      info.Size(),
		CreatedAt: info.ModTime(),
	}
}

func isAudioExt(ext string) bool {
	ext = strings.ToLower(ext)
	for _, e := range Extensions {
		if e == ext {
			return true
		}
	}
	return false
}
