// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// DirEntry is a single directory listing entry.
type DirEntry struct {
	Name  string
	IsDir bool
}

// Repository is the filesystem surface the cache needs.
//
// Paths are absolute. Implementations must report missing paths with
// errors satisfying errors.Is(err, fs.ErrNotExist).
type Repository interface {
	// Exists reports whether path exists and whether it is a directory.
	Exists(path string) (exists bool, isDir bool, err error)

	ReadFile(path string) ([]byte, error)

	// WriteFile writes data, replacing any existing file. The parent
	// directory must exist.
	WriteFile(path string, data []byte, perm fs.FileMode) error

	Rename(oldPath, newPath string) error
	MkdirAll(path string, perm fs.FileMode) error
	RemoveAll(path string) error

	// ReadDir lists the direct children of path sorted by name.
	ReadDir(path string) ([]DirEntry, error)
}

// =============================================================================
// OS Repository
// =============================================================================

// OSRepository is the real filesystem.
type OSRepository struct{}

// NewOSRepository returns the real filesystem repository.
func NewOSRepository() *OSRepository {
	return &OSRepository{}
}

func (OSRepository) Exists(path string) (bool, bool, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	return true, info.IsDir(), nil
}

func (OSRepository) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

func (OSRepository) WriteFile(path string, data []byte, perm fs.FileMode) error {
	return os.WriteFile(path, data, perm)
}

func (OSRepository) Rename(oldPath, newPath string) error {
	return os.Rename(oldPath, newPath)
}

func (OSRepository) MkdirAll(path string, perm fs.FileMode) error {
	return os.MkdirAll(path, perm)
}

func (OSRepository) RemoveAll(path string) error {
	return os.RemoveAll(path)
}

func (OSRepository) ReadDir(path string) ([]DirEntry, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	out := make([]DirEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, DirEntry{Name: e.Name(), IsDir: e.IsDir()})
	}
	return out, nil
}

// =============================================================================
// In-Memory Repository
// =============================================================================

type memNode struct {
	dir  bool
	data []byte
	perm fs.FileMode
}

// MemRepository is an in-memory Repository for tests. The root "/" always
// exists. Safe for concurrent use.
type MemRepository struct {
	mu    sync.Mutex
	nodes map[string]*memNode
}

// NewMemRepository creates an empty in-memory filesystem.
func NewMemRepository() *MemRepository {
	return &MemRepository{nodes: map[string]*memNode{"/": {dir: true, perm: 0755}}}
}

func clean(path string) string {
	return filepath.Clean("/" + filepath.ToSlash(path))
}

func notExist(op, path string) error {
	return &fs.PathError{Op: op, Path: path, Err: fs.ErrNotExist}
}

func (m *MemRepository) Exists(path string) (bool, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[clean(path)]
	if !ok {
		return false, false, nil
	}
	return true, n.dir, nil
}

func (m *MemRepository) ReadFile(path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[clean(path)]
	if !ok {
		return nil, notExist("open", path)
	}
	if n.dir {
		return nil, &fs.PathError{Op: "read", Path: path, Err: errors.New("is a directory")}
	}
	return append([]byte(nil), n.data...), nil
}

func (m *MemRepository) WriteFile(path string, data []byte, perm fs.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := clean(path)
	parent, ok := m.nodes[filepath.Dir(p)]
	if !ok || !parent.dir {
		return notExist("open", path)
	}
	if n, ok := m.nodes[p]; ok && n.dir {
		return &fs.PathError{Op: "open", Path: path, Err: errors.New("is a directory")}
	}
	m.nodes[p] = &memNode{data: append([]byte(nil), data...), perm: perm}
	return nil
}

func (m *MemRepository) Rename(oldPath, newPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	src, dst := clean(oldPath), clean(newPath)
	if _, ok := m.nodes[src]; !ok {
		return &os.LinkError{Op: "rename", Old: oldPath, New: newPath, Err: fs.ErrNotExist}
	}
	if parent, ok := m.nodes[filepath.Dir(dst)]; !ok || !parent.dir {
		return &os.LinkError{Op: "rename", Old: oldPath, New: newPath, Err: fs.ErrNotExist}
	}
	moved := map[string]*memNode{}
	for p, n := range m.nodes {
		if p == src || strings.HasPrefix(p, src+"/") {
			moved[dst+strings.TrimPrefix(p, src)] = n
			delete(m.nodes, p)
		}
	}
	for p, n := range moved {
		m.nodes[p] = n
	}
	return nil
}

func (m *MemRepository) MkdirAll(path string, perm fs.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := clean(path)
	var chain []string
	for ; p != "/"; p = filepath.Dir(p) {
		chain = append(chain, p)
	}
	for i := len(chain) - 1; i >= 0; i-- {
		if n, ok := m.nodes[chain[i]]; ok {
			if !n.dir {
				return &fs.PathError{Op: "mkdir", Path: chain[i], Err: errors.New("not a directory")}
			}
			continue
		}
		m.nodes[chain[i]] = &memNode{dir: true, perm: perm}
	}
	return nil
}

func (m *MemRepository) RemoveAll(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := clean(path)
	if p == "/" {
		return fmt.Errorf("refusing to remove root")
	}
	for k := range m.nodes {
		if k == p || strings.HasPrefix(k, p+"/") {
			delete(m.nodes, k)
		}
	}
	return nil
}

func (m *MemRepository) ReadDir(path string) ([]DirEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := clean(path)
	n, ok := m.nodes[p]
	if !ok {
		return nil, notExist("open", path)
	}
	if !n.dir {
		return nil, &fs.PathError{Op: "readdir", Path: path, Err: errors.New("not a directory")}
	}
	var out []DirEntry
	for k, child := range m.nodes {
		if k != p && filepath.Dir(k) == p {
			out = append(out, DirEntry{Name: filepath.Base(k), IsDir: child.dir})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

var (
	_ Repository = OSRepository{}
	_ Repository = (*MemRepository)(nil)
)
