package migrations

import (
	"crypto/sha256"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"slices"
	"strconv"
)

//go:embed *.sql
var embedded embed.FS

// 001_cached_query_index.up.sql
var fileName = regexp.MustCompile(`^(\d{3})_([a-z0-9_]+)\.(up|down)\.sql$`)

var (
	// ErrNoMigrations is returned when the source holds no well-named migration file.
	ErrNoMigrations = errors.New("no migration files found")

	// ErrUnpaired is returned when a version lacks its up or its down file.
	ErrUnpaired = errors.New("migration is missing its up or down file")

	// ErrSequenceGap is returned when versions do not run 1, 2, 3, ... without holes.
	ErrSequenceGap = errors.New("migration versions are not contiguous from 001")

	// ErrModified is returned when a file changed after the source was first verified.
	ErrModified = errors.New("migration file modified after verification")
)

type (
	// Source is a set of SQL migration files, by default the ones compiled into the binary.
	// Verify remembers a digest per file so a later Verify notices edits.
	Source struct {
		fsys    fs.FS
		digests map[string][sha256.Size]byte
	}

	// Version is one schema step: its number and the file applying and reverting it.
	Version struct {
		Number int
		Name   string
		Up     string
		Down   string
	}
)

// Embedded returns the migrations of this package.
func Embedded() *Source {
	return NewSource(embedded)
}

// NewSource wraps fsys, whose root holds NNN_name.(up|down).sql files.
func NewSource(fsys fs.FS) *Source {
	return &Source{fsys: fsys, digests: make(map[string][sha256.Size]byte)}
}

// FS returns the file system the files are read from.
func (s *Source) FS() fs.FS {
	return s.fsys
}

// Versions parses the file names into versions ordered by number. Files not following the
// naming pattern are ignored.
func (s *Source) Versions() ([]Version, error) {
	entries, err := fs.ReadDir(s.fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations: %w", err)
	}

	byNumber := make(map[int]*Version)

	for _, entry := range entries {
		m := fileName.FindStringSubmatch(entry.Name())
		if entry.IsDir() || m == nil {
			continue
		}

		n, _ := strconv.Atoi(m[1]) // three digits by pattern

		v := byNumber[n]
		if v == nil {
			v = &Version{Number: n, Name: m[2]}
			byNumber[n] = v
		}

		if m[3] == "up" {
			v.Up = entry.Name()
		} else {
			v.Down = entry.Name()
		}
	}

	if len(byNumber) == 0 {
		return nil, ErrNoMigrations
	}

	versions := make([]Version, 0, len(byNumber))

	for i := 1; i <= len(byNumber); i++ {
		v, ok := byNumber[i]
		if !ok {
			return nil, fmt.Errorf("%w: %03d is missing", ErrSequenceGap, i)
		}

		if v.Up == "" || v.Down == "" {
			return nil, fmt.Errorf("%w: %03d_%s", ErrUnpaired, v.Number, v.Name)
		}

		versions = append(versions, *v)
	}

	return versions, nil
}

// Verify checks naming, pairing and sequence, and that no file changed since the previous
// Verify on this Source.
func (s *Source) Verify() error {
	versions, err := s.Versions()
	if err != nil {
		return err
	}

	for _, v := range versions {
		for _, name := range []string{v.Up, v.Down} {
			data, err := fs.ReadFile(s.fsys, name)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", name, err)
			}

			sum := sha256.Sum256(data)
			if prev, seen := s.digests[name]; seen && prev != sum {
				return fmt.Errorf("%w: %s", ErrModified, name)
			}

			s.digests[name] = sum
		}
	}

	return nil
}

// Latest returns the highest version number, or 0 when the source is invalid.
func (s *Source) Latest() int {
	versions, err := s.Versions()
	if err != nil {
		return 0
	}

	return slices.MaxFunc(versions, func(a, b Version) int { return a.Number - b.Number }).Number
}
