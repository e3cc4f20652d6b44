package prefixlist

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/newtron-network/fibopt/pkg/util"
)

// Store reads and writes one list file per class in a directory. The file
// format is one "<sequence> permit <prefix>" line per entry.
type Store struct {
	dir    string
	rename func(oldpath, newpath string) error
}

// NewStore creates a store rooted at dir
func NewStore(dir string) *Store {
	return &Store{dir: dir, rename: os.Rename}
}

// Path returns the file a class is persisted in
func (s *Store) Path(c Class) string {
	return filepath.Join(s.dir, c.ListName())
}

// Load reads the persisted list for a class. A missing file is an empty list.
func (s *Store) Load(c Class) (List, error) {
	path := s.Path(c)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			util.WithClass(c.String()).Debugf("Prefix list %s does not exist", path)
			return List{}, nil
		}
		return nil, fmt.Errorf("opening prefix list: %w", err)
	}
	defer f.Close()

	l, err := Parse(f, path)
	if err != nil {
		return nil, err
	}
	util.WithClass(c.String()).Debugf("Loaded %d entries from %s", len(l), path)
	return l, nil
}

// LoadPersisted is Load for callers that need a stored list: a missing file
// is a ListNotFoundError rather than an empty list.
func (s *Store) LoadPersisted(c Class) (List, error) {
	path := s.Path(c)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, &util.ListNotFoundError{Class: c.String(), Path: path}
		}
		return nil, fmt.Errorf("checking prefix list: %w", err)
	}
	return s.Load(c)
}

// Parse decodes a persisted list. name is used in error messages only.
// Any line that is not "<positive int> permit <IPv4 prefix>", or that repeats a
// sequence number or prefix, is a CorruptListError.
func Parse(r io.Reader, name string) (List, error) {
	l := List{}
	seen := make(map[string]int)

	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		corrupt := func(reason string) error {
			return &util.CorruptListError{Path: name, Line: lineNum, Text: line, Reason: reason}
		}

		fields := strings.Fields(line)
		if len(fields) != 3 {
			return nil, corrupt("expected <sequence> permit <prefix>")
		}
		seq, err := strconv.Atoi(fields[0])
		if err != nil || seq < 1 {
			return nil, corrupt("invalid sequence number")
		}
		if fields[1] != Action {
			return nil, corrupt("unexpected action")
		}
		prefix := fields[2]
		if !util.IsValidIPv4CIDR(prefix) {
			return nil, corrupt("invalid IPv4 prefix")
		}
		if _, dup := l[seq]; dup {
			return nil, corrupt("duplicate sequence number")
		}
		if prev, dup := seen[prefix]; dup {
			return nil, corrupt(fmt.Sprintf("prefix already listed at sequence %d", prev))
		}
		l[seq] = prefix
		seen[prefix] = seq
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	return l, nil
}

// Render encodes a list in ascending sequence order.
func Render(l List) []byte {
	var buf bytes.Buffer
	for _, e := range l.Entries() {
		fmt.Fprintf(&buf, "%d %s %s\n", e.Sequence, e.Action, e.Prefix)
	}
	return buf.Bytes()
}

// Save atomically replaces the persisted file for one class.
func (s *Store) Save(c Class, data []byte) error {
	return s.Commit(map[Class][]byte{c: data})
}

// Commit writes every rendered list to a temporary file and only then renames
// them into place. If a rename fails, classes already renamed get their
// previous file back (or lose it if there was none), so a failed commit
// leaves all classes as they were.
func (s *Store) Commit(rendered map[Class][]byte) error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("creating storage directory: %w", err)
	}

	staged := make(map[Class]string, len(rendered))
	cleanup := func() {
		for _, tmp := range staged {
			os.Remove(tmp)
		}
	}

	for _, c := range Classes {
		data, ok := rendered[c]
		if !ok {
			continue
		}
		tmp, err := writeTemp(s.dir, c.ListName(), data)
		if err != nil {
			cleanup()
			return fmt.Errorf("staging %s prefix list: %w", c, err)
		}
		staged[c] = tmp
	}

	// previous holds the current file of every staged class that has one.
	previous := make(map[Class][]byte, len(staged))
	for c := range staged {
		fi, err := os.Lstat(s.Path(c))
		if os.IsNotExist(err) {
			continue
		}
		if err == nil && !fi.Mode().IsRegular() {
			err = fmt.Errorf("%s is not a regular file", s.Path(c))
		}
		var data []byte
		if err == nil {
			data, err = os.ReadFile(s.Path(c))
		}
		if err != nil {
			cleanup()
			return fmt.Errorf("committing %s prefix list: %w", c, err)
		}
		previous[c] = data
	}

	var committed []Class
	for _, c := range Classes {
		tmp, ok := staged[c]
		if !ok {
			continue
		}
		if err := s.rename(tmp, s.Path(c)); err != nil {
			cleanup()
			s.restore(committed, previous)
			return fmt.Errorf("committing %s prefix list: %w", c, err)
		}
		delete(staged, c)
		committed = append(committed, c)
		util.WithClass(c.String()).Debugf("Stored prefix list in %s", s.Path(c))
	}
	return nil
}

// restore undoes the renames of committed classes.
func (s *Store) restore(committed []Class, previous map[Class][]byte) {
	for _, c := range committed {
		path := s.Path(c)
		data, existed := previous[c]

		var err error
		if !existed {
			err = os.Remove(path)
		} else {
			var tmp string
			if tmp, err = writeTemp(s.dir, c.ListName(), data); err == nil {
				if err = s.rename(tmp, path); err != nil {
					os.Remove(tmp)
				}
			}
		}
		if err != nil {
			util.WithClass(c.String()).Errorf("Could not restore %s: %v", path, err)
			continue
		}
		util.WithClass(c.String()).Warnf("Restored %s after a failed commit", path)
	}
}

func writeTemp(dir, name string, data []byte) (string, error) {
	f, err := os.CreateTemp(dir, "."+name+".*")
	if err != nil {
		return "", err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	if err := os.Chmod(f.Name(), 0644); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}
