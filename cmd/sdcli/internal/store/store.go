// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store maps fingerprints to directories under the cache root.
//
// Layout:
//
//	<root>/<kind segments...>/<fingerprint>/
//	    <manifest>            configured
//	    <manifest>.invalid    quarantined render
//	    validation.log        compose config output for the quarantined render
//	    ...side files
//
// The store owns the subtree below root and holds no state between calls;
// every query goes back to the Repository. There is no locking. Two
// invocations against the same fingerprint can race between the manifest
// existence check and its creation.
package store

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/metabronx/sdcli/cmd/sdcli/internal/fingerprint"
	"github.com/metabronx/sdcli/pkg/validation"
)

// ErrUnknownFingerprint is returned when a fingerprint has no directory.
var ErrUnknownFingerprint = errors.New("unknown fingerprint")

const (
	// QuarantineSuffix is appended to a manifest that failed validation.
	QuarantineSuffix = ".invalid"

	// ValidationLog records the failed validation command and its stderr.
	ValidationLog = "validation.log"
)

// Entry is a located fingerprint directory.
type Entry struct {
	Kind        fingerprint.Kind
	Fingerprint string
	Dir         string
}

// Path joins name onto the entry directory.
func (e *Entry) Path(name string) string {
	return filepath.Join(e.Dir, name)
}

// ManifestPath is the compose manifest for this entry.
func (e *Entry) ManifestPath() string {
	return e.Path(e.Kind.Spec().Manifest)
}

// QuarantinePath is where an invalid manifest is moved.
func (e *Entry) QuarantinePath() string {
	return e.ManifestPath() + QuarantineSuffix
}

// ContainerName is the running container name convention for this entry.
func (e *Entry) ContainerName() string {
	return e.Kind.ContainerName(e.Fingerprint)
}

// Store resolves fingerprint directories below a cache root.
type Store struct {
	root string
	repo Repository
}

// New creates a Store rooted at root, which must be absolute.
func New(root string, repo Repository) (*Store, error) {
	if root == "" || !filepath.IsAbs(root) {
		return nil, fmt.Errorf("cache root must be an absolute path, got %q", root)
	}
	if repo == nil {
		return nil, errors.New("repository is required")
	}
	return &Store{root: filepath.Clean(root), repo: repo}, nil
}

// Repo returns the backing repository.
func (s *Store) Repo() Repository { return s.repo }

// Locate maps a fingerprint of kind to its directory.
//
// # Inputs
//
//   - kind: Selects the path segments
//   - fp: The fingerprint, verbatim
//   - mustExist: When true a missing directory is ErrUnknownFingerprint
//
// Fingerprints containing path separators or dot segments can never exist
// and are reported as unknown.
func (s *Store) Locate(kind fingerprint.Kind, fp string, mustExist bool) (*Entry, error) {
	if err := validation.ValidateHandle(fp); err != nil {
		return nil, fmt.Errorf("%w: the provided fingerprint '%s' does not exist", ErrUnknownFingerprint, fp)
	}

	rel := fingerprint.Resolution{Kind: kind, Fingerprint: fp}.RelPath()
	entry := &Entry{Kind: kind, Fingerprint: fp, Dir: filepath.Join(s.root, rel)}

	if mustExist {
		exists, isDir, err := s.repo.Exists(entry.Dir)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", entry.Dir, err)
		}
		if !exists || !isDir {
			return nil, fmt.Errorf("%w: the provided fingerprint '%s' does not exist", ErrUnknownFingerprint, fp)
		}
	}
	return entry, nil
}

// LocateResolution locates res, requiring existence for handle resolutions.
func (s *Store) LocateResolution(res fingerprint.Resolution) (*Entry, error) {
	return s.Locate(res.Kind, res.Fingerprint, res.ByHandle)
}

// DirExists reports whether the entry directory exists.
func (s *Store) DirExists(e *Entry) (bool, error) {
	exists, isDir, err := s.repo.Exists(e.Dir)
	return exists && isDir, err
}

// HasManifest is the "configured" predicate: the manifest file exists.
func (s *Store) HasManifest(e *Entry) (bool, error) {
	exists, isDir, err := s.repo.Exists(e.ManifestPath())
	return exists && !isDir, err
}

// IsQuarantined reports whether a failed render is kept for postmortem.
func (s *Store) IsQuarantined(e *Entry) (bool, error) {
	exists, _, err := s.repo.Exists(e.QuarantinePath())
	return exists, err
}

// Remove deletes the entry directory tree.
func (s *Store) Remove(e *Entry) error {
	if filepath.Dir(e.Dir) == s.root || !strings.HasPrefix(e.Dir, s.root+string(filepath.Separator)) {
		return fmt.Errorf("refusing to remove %s outside the cache root", e.Dir)
	}
	if err := s.repo.RemoveAll(e.Dir); err != nil {
		return fmt.Errorf("remove %s: %w", e.Dir, err)
	}
	return nil
}

// List returns every fingerprint directory of kind, sorted by fingerprint.
// A missing kind directory yields an empty list.
func (s *Store) List(kind fingerprint.Kind) ([]*Entry, error) {
	base := filepath.Join(append([]string{s.root}, kind.Spec().Segments...)...)
	exists, isDir, err := s.repo.Exists(base)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", base, err)
	}
	if !exists || !isDir {
		return []*Entry{}, nil
	}

	children, err := s.repo.ReadDir(base)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", base, err)
	}

	entries := make([]*Entry, 0, len(children))
	for _, c := range children {
		if !c.IsDir {
			continue
		}
		entries = append(entries, &Entry{Kind: kind, Fingerprint: c.Name, Dir: filepath.Join(base, c.Name)})
	}
	return entries, nil
}
