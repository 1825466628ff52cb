// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
Package manifest renders and persists compose manifests for a fingerprint.

Materialization happens once per fingerprint. The existence of the manifest
file is the only "configured" predicate, so an existing manifest is never
re-rendered and a directory without one is re-entered from scratch.

After writing, the manifest is checked by `compose config`. Kinds that allow
it are normalized in place with `-o`; the others only get `--quiet`, since
normalization inlines env files the running service re-reads. A manifest the
installed compose rejects with a non-zero exit is quarantined as
<manifest>.invalid next to a validation.log, and the directory is kept for
inspection. Any other failure (missing runtime, interruption) removes the
unvalidated manifest so the next invocation renders again.
*/
package manifest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/metabronx/sdcli/cmd/sdcli/internal/fingerprint"
	"github.com/metabronx/sdcli/cmd/sdcli/internal/infra/compose"
	"github.com/metabronx/sdcli/cmd/sdcli/internal/store"
	"github.com/metabronx/sdcli/cmd/sdcli/internal/util"
	"github.com/metabronx/sdcli/pkg/logging"
)

// ErrManifestValidationFailed is returned when compose rejects a rendered
// manifest. The message names the fingerprint and its directory.
var ErrManifestValidationFailed = errors.New("manifest validation failed")

const (
	// PeersFile holds the VPN server peer count as "PEERS=<n>".
	PeersFile = "npeers"

	// VPNConfigsDir holds generated Wireguard configuration.
	VPNConfigsDir = "vpn-configs"

	manifestPerm = 0o600
	dirPerm      = 0o755
)

// Validator checks a manifest, normalizing it into output when output is
// not empty. *compose.DefaultExecutor satisfies it.
type Validator interface {
	Config(ctx context.Context, manifest, output string) (*compose.Result, error)
}

// Result describes an ensured manifest.
type Result struct {
	Path string

	// Created is true when this call rendered the manifest.
	Created bool
}

// Materializer ensures a valid manifest exists for a store entry.
type Materializer struct {
	store     *store.Store
	validator Validator
	logger    *logging.Logger
}

// New creates a Materializer. A nil logger discards.
func New(st *store.Store, v Validator, logger *logging.Logger) *Materializer {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Materializer{store: st, validator: v, logger: logger}
}

// Ensure returns the manifest for entry, materializing it on first use.
//
// # Description
//
// If the manifest exists it is returned untouched. Otherwise the template
// is rendered (failing with ErrMissingSubstitution before any write), the
// directory and side state are created, the manifest is written and then
// validated.
//
// # Errors
//
//   - ErrMissingSubstitution, ErrMalformedManifest: nothing written
//   - ErrManifestValidationFailed: manifest quarantined, directory kept
//   - compose.ErrRuntimeUnavailable, context.Canceled,
//     context.DeadlineExceeded: the unvalidated manifest is removed so the
//     next invocation renders again
func (m *Materializer) Ensure(ctx context.Context, entry *store.Entry, subs map[string]string) (*Result, error) {
	path := entry.ManifestPath()

	configured, err := m.store.HasManifest(entry)
	if err != nil {
		return nil, fmt.Errorf("check manifest: %w", err)
	}
	if configured {
		return &Result{Path: path}, nil
	}

	data, err := Render(entry.Kind, subs)
	if err != nil {
		return nil, err
	}

	repo := m.store.Repo()
	if err := repo.MkdirAll(entry.Dir, dirPerm); err != nil {
		return nil, fmt.Errorf("create %s: %w", entry.Dir, err)
	}
	if err := repo.WriteFile(path, data, manifestPerm); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}
	if err := m.initSideState(entry); err != nil {
		return nil, err
	}

	m.logger.Info("manifest rendered", "kind", entry.Kind.String(), "fingerprint", entry.Fingerprint)

	if err := m.validate(ctx, entry); err != nil {
		return nil, err
	}
	return &Result{Path: path, Created: true}, nil
}

func (m *Materializer) validate(ctx context.Context, entry *store.Entry) error {
	path := entry.ManifestPath()
	output := ""
	if entry.Kind.Spec().NormalizeManifest {
		output = path
	}
	result, err := m.validator.Config(ctx, path, output)
	if err == nil {
		return nil
	}

	var cmdErr *util.CommandError
	if !errors.As(err, &cmdErr) || !rejected(cmdErr) {
		if rmErr := m.store.Repo().RemoveAll(path); rmErr != nil {
			m.logger.Warn("could not remove unvalidated manifest", "path", path, "error", rmErr)
		}
		return fmt.Errorf("validate manifest: %w", err)
	}

	command, stderr := cmdErr.Command, cmdErr.Stderr
	if result != nil {
		command, stderr = result.Command, result.Stderr
	}
	if qErr := m.quarantine(entry, command, stderr); qErr != nil {
		return errors.Join(qErr, err)
	}

	m.logger.Warn("manifest quarantined", "fingerprint", entry.Fingerprint, "dir", entry.Dir)
	return fmt.Errorf("%w: the service configuration file with fingerprint '%s' could not be validated. "+
		"This is probably due to an incompatibility with your version of Docker Compose. "+
		"The invalid configuration file and error log are available at '%s': %w",
		ErrManifestValidationFailed, entry.Fingerprint, entry.Dir, err)
}

// rejected reports whether compose ran to completion and refused the
// manifest. An interrupted or unstartable run says nothing about the file.
func rejected(cmdErr *util.CommandError) bool {
	return cmdErr.Wrapped == nil && cmdErr.ExitCode > 0
}

// quarantine moves the manifest aside and records what compose said.
func (m *Materializer) quarantine(entry *store.Entry, command, stderr string) error {
	repo := m.store.Repo()
	if err := repo.WriteFile(entry.Path(store.ValidationLog), []byte("==> "+command+"\n\n"+stderr), manifestPerm); err != nil {
		return fmt.Errorf("write validation log: %w", err)
	}
	if err := repo.Rename(entry.ManifestPath(), entry.QuarantinePath()); err != nil {
		return fmt.Errorf("quarantine manifest: %w", err)
	}
	return nil
}

// initSideState creates the per-kind files next to the manifest. It is
// idempotent and never resets an existing peer count.
func (m *Materializer) initSideState(entry *store.Entry) error {
	repo := m.store.Repo()

	switch entry.Kind {
	case fingerprint.KindVPNServer:
		if err := repo.MkdirAll(entry.Path(VPNConfigsDir), dirPerm); err != nil {
			return fmt.Errorf("create %s: %w", VPNConfigsDir, err)
		}
		exists, _, err := repo.Exists(entry.Path(PeersFile))
		if err != nil {
			return err
		}
		if !exists {
			return WritePeers(repo, entry, 1)
		}
	case fingerprint.KindVPNClient:
		if err := repo.MkdirAll(entry.Path(VPNConfigsDir), dirPerm); err != nil {
			return fmt.Errorf("create %s: %w", VPNConfigsDir, err)
		}
	}
	return nil
}

// =============================================================================
// Peer count
// =============================================================================

// ReadPeers parses the "PEERS=<n>" side file of a VPN server.
func ReadPeers(repo store.Repository, entry *store.Entry) (int, error) {
	data, err := repo.ReadFile(entry.Path(PeersFile))
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", PeersFile, err)
	}
	key, value, ok := strings.Cut(strings.TrimSpace(string(data)), "=")
	if !ok || strings.TrimSpace(key) != "PEERS" {
		return 0, fmt.Errorf("malformed %s: %q", PeersFile, string(data))
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n < 0 {
		return 0, fmt.Errorf("malformed %s: %q", PeersFile, string(data))
	}
	return n, nil
}

// WritePeers writes the VPN server peer count.
func WritePeers(repo store.Repository, entry *store.Entry, n int) error {
	if err := repo.WriteFile(entry.Path(PeersFile), []byte(fmt.Sprintf("PEERS=%d", n)), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", PeersFile, err)
	}
	return nil
}
