// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lifecycle

import (
	"strings"

	"github.com/metabronx/sdcli/cmd/sdcli/internal/fingerprint"
	"github.com/metabronx/sdcli/cmd/sdcli/internal/store"
)

// State is the observed state of one fingerprint.
type State string

const (
	// StateAbsent means no directory exists for the fingerprint.
	StateAbsent State = "absent"

	// StateUninitialized means the directory exists without a manifest and
	// without a quarantined render, e.g. after an interrupted first run.
	StateUninitialized State = "uninitialized"

	// StateQuarantined means the last render failed validation.
	StateQuarantined State = "quarantined"

	// StateStopped means configured and not running.
	StateStopped State = "stopped"

	// StateRunning means configured and running.
	StateRunning State = "running"

	// StateRunningWithMissingManifest means the runtime reports the service
	// but its manifest is gone.
	StateRunningWithMissingManifest State = "running-without-manifest"
)

// Report is a status snapshot of one fingerprint.
type Report struct {
	Kind        fingerprint.Kind
	Fingerprint string
	Dir         string
	State       State

	// Peers is the VPN server peer count, 0 for other kinds.
	Peers int
}

// derive computes the state of an existing directory from its contents and
// a running snapshot.
func derive(configured, quarantined, running bool) State {
	switch {
	case running && !configured:
		return StateRunningWithMissingManifest
	case running:
		return StateRunning
	case configured:
		return StateStopped
	case quarantined:
		return StateQuarantined
	default:
		return StateUninitialized
	}
}

// matchRunning reports whether any running name contains the fingerprint.
//
// This is a substring match: a fingerprint that is a substring of another
// running service's name reads as running.
func matchRunning(names []string, fp string) bool {
	for _, n := range names {
		if strings.Contains(n, fp) {
			return true
		}
	}
	return false
}

// =============================================================================
// Progress events
// =============================================================================

// Stage identifies a progress point the CLI reports to the user.
type Stage int

const (
	StageConfiguringNew Stage = iota + 1
	StageExistingFound
	StageStarting
	StageRestarting
	StageStopping
	StageRemoving
	StageInstallingClient
	StageAddingPeer
	StageMounting
)

// Event is emitted before the step it names runs.
type Event struct {
	Stage       Stage
	Kind        fingerprint.Kind
	Fingerprint string
}

// Observer receives progress events. It runs synchronously.
type Observer func(Event)

func eventFor(stage Stage, e *store.Entry) Event {
	return Event{Stage: stage, Kind: e.Kind, Fingerprint: e.Fingerprint}
}
