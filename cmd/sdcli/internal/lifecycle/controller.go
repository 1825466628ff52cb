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
Package lifecycle drives a fingerprint's services through the compose runtime.

Every operation re-reads the cache directory and takes a fresh running
snapshot; nothing is cached between calls. Transitions:

	start, not configured          materialize, up
	start, no manifest, running    ErrRunningWithMissingManifest
	start, configured, stopped     up (recreate)
	start, configured, running     ErrAlreadyRunning, no up
	start, forced                  up --force-recreate, no running check
	stop, running                  stop
	stop, not running              ErrNotRunning
	stop, running, no manifest     ErrRunningWithMissingManifest
	delete                         down --volumes if configured, remove tree

The running snapshot is best effort. The runtime may be mid-transition when
it is taken, and there is no locking against a concurrent invocation.
*/
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/metabronx/sdcli/cmd/sdcli/internal/fingerprint"
	"github.com/metabronx/sdcli/cmd/sdcli/internal/infra/compose"
	"github.com/metabronx/sdcli/cmd/sdcli/internal/manifest"
	"github.com/metabronx/sdcli/cmd/sdcli/internal/store"
	"github.com/metabronx/sdcli/pkg/logging"
)

var (
	// ErrAlreadyRunning is returned by an unforced start of a running service.
	ErrAlreadyRunning = errors.New("service is already running")

	// ErrNotRunning is returned by stop when nothing is running.
	ErrNotRunning = errors.New("service is not running")

	// ErrRunningWithMissingManifest is returned when the runtime reports the
	// service but the manifest driving it is gone.
	ErrRunningWithMissingManifest = errors.New("service is running, but its underlying configuration file is missing")

	// ErrUninitialized is returned when a fingerprint directory has no
	// manifest and no parameters were given to materialize one.
	ErrUninitialized = errors.New("service configuration is incomplete")

	// ErrInvalidRequest is returned for unusable kind-specific inputs.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrUnsupportedKind is returned when an operation does not apply to a kind.
	ErrUnsupportedKind = errors.New("operation not supported for this service kind")
)

// Lister reports running container names. Both *compose.DefaultExecutor
// and *engine.Lister satisfy it.
type Lister interface {
	RunningNames(ctx context.Context, nameFilter string) ([]string, error)
}

// Target names an existing or new fingerprint. Exactly one of Fingerprint
// and Params must be set.
type Target struct {
	Kind        fingerprint.Kind
	Fingerprint string
	Params      []string
}

// StartRequest starts a service.
type StartRequest struct {
	Target

	// Force recreates a running service without checking its state.
	Force bool

	// SSHPublicKey is the absolute key path mounted for SFTP access.
	// Required when an S3 bridge is configured for the first time.
	SSHPublicKey string
}

// Outcome is the result of a state-changing operation.
type Outcome struct {
	Kind        fingerprint.Kind
	Fingerprint string
	Dir         string
	Manifest    string

	// Created is true when the manifest was rendered by this call.
	Created bool

	// Restarted is true when a running or configured service was recreated
	// on request.
	Restarted bool

	// Peer is the peer number added by AddPeer.
	Peer int
}

// Controller sequences lifecycle operations.
type Controller struct {
	store        *store.Store
	materializer *manifest.Materializer
	runtime      compose.Executor
	lister       Lister
	logger       *logging.Logger
	observe      Observer
}

// New creates a Controller. lister defaults to runtime; logger and observer
// may be nil.
func New(st *store.Store, runtime compose.Executor, lister Lister, logger *logging.Logger, observe Observer) *Controller {
	if logger == nil {
		logger = logging.Discard()
	}
	if lister == nil {
		lister = runtime
	}
	if observe == nil {
		observe = func(Event) {}
	}
	return &Controller{
		store:        st,
		materializer: manifest.New(st, runtime, logger),
		runtime:      runtime,
		lister:       lister,
		logger:       logger,
		observe:      observe,
	}
}

// =============================================================================
// Start
// =============================================================================

// Start brings a service up, materializing it on first use.
//
// # Description
//
// A by-parameters target whose manifest is missing is materialized and
// started. A configured target is checked for a running instance unless
// req.Force is set, in which case it is recreated without the check.
//
// # Errors
//
//   - fingerprint.ErrInvalidInputCombination, fingerprint.ErrIncompleteParameters
//   - store.ErrUnknownFingerprint: by-fingerprint target without a directory
//   - ErrUninitialized: by-fingerprint target without a manifest
//   - ErrRunningWithMissingManifest: a directory without a manifest is
//     reported running (*OrphanError)
//   - ErrAlreadyRunning: running and not forced, no up is issued
//   - manifest errors from materialization
//   - util.ErrCommandFailed: the runtime call failed
func (c *Controller) Start(ctx context.Context, req StartRequest) (*Outcome, error) {
	res, err := fingerprint.Resolve(req.Kind, req.Fingerprint, req.Params)
	if err != nil {
		return nil, err
	}
	if !res.ByHandle && req.Kind == fingerprint.KindVPNServer {
		if err := c.checkServerMount(req.Params[0]); err != nil {
			return nil, err
		}
	}

	entry, err := c.store.LocateResolution(res)
	if err != nil {
		return nil, err
	}
	log := c.logger.With("kind", entry.Kind.String(), "fingerprint", entry.Fingerprint)

	configured, err := c.store.HasManifest(entry)
	if err != nil {
		return nil, err
	}

	out := &Outcome{Kind: entry.Kind, Fingerprint: entry.Fingerprint, Dir: entry.Dir, Manifest: entry.ManifestPath()}
	up := upOptions(entry.Kind, false)

	switch {
	case !configured && res.ByHandle:
		if err := c.checkOrphan(ctx, entry); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: fingerprint '%s' has no configuration file; start it again with its original parameters", ErrUninitialized, entry.Fingerprint)

	case !configured:
		exists, err := c.store.DirExists(entry)
		if err != nil {
			return nil, err
		}
		if exists {
			if err := c.checkOrphan(ctx, entry); err != nil {
				return nil, err
			}
		}
		c.observe(eventFor(StageConfiguringNew, entry))
		subs, err := c.substitutions(entry, req)
		if err != nil {
			return nil, err
		}
		mres, err := c.materializer.Ensure(ctx, entry, subs)
		if err != nil {
			return nil, err
		}
		out.Created = mres.Created

	default:
		c.observe(eventFor(StageExistingFound, entry))
		up = upOptions(entry.Kind, true)
		if req.Force {
			out.Restarted = true
			break
		}
		running, err := c.isRunning(ctx, entry)
		if err != nil {
			return nil, err
		}
		if running {
			return nil, fmt.Errorf("%w: fingerprint '%s'", ErrAlreadyRunning, entry.Fingerprint)
		}
	}

	if out.Restarted {
		c.observe(eventFor(StageRestarting, entry))
	} else {
		c.observe(eventFor(StageStarting, entry))
	}
	if _, err := c.runtime.Up(ctx, out.Manifest, up); err != nil {
		return nil, err
	}

	log.Info("service started", "created", out.Created, "restarted", out.Restarted)
	return out, nil
}

// upOptions returns the up flags for kind. Every start waits for the
// healthcheck; S3 bridges always recreate, VPN servers once configured.
func upOptions(kind fingerprint.Kind, configured bool) compose.UpOptions {
	if kind == fingerprint.KindS3Bridge {
		return compose.UpOptions{Wait: true, ForceRecreate: true}
	}
	return compose.UpOptions{Wait: true, ForceRecreate: configured}
}

// substitutions builds the template values for a by-parameters start.
func (c *Controller) substitutions(entry *store.Entry, req StartRequest) (map[string]string, error) {
	switch entry.Kind {
	case fingerprint.KindS3Bridge:
		if err := c.checkPublicKey(req.SSHPublicKey); err != nil {
			return nil, err
		}
		return map[string]string{
			"AWS_S3_BUCKET":            req.Params[0],
			"AWS_S3_ACCESS_KEY_ID":     req.Params[1],
			"AWS_S3_SECRET_ACCESS_KEY": req.Params[2],
			"SSH_PUBKEY":               req.SSHPublicKey,
			"FINGERPRINT":              entry.Fingerprint,
		}, nil
	case fingerprint.KindVPNServer:
		return map[string]string{
			"MOUNT":       req.Params[0],
			"FPDIR":       entry.Dir,
			"FINGERPRINT": entry.Fingerprint,
		}, nil
	default:
		return nil, fmt.Errorf("%w: %s is configured with connect", ErrUnsupportedKind, entry.Kind)
	}
}

func (c *Controller) checkPublicKey(path string) error {
	if path == "" || !filepath.IsAbs(path) {
		return fmt.Errorf("%w: you must supply an SSH public key to use for local SFTP", ErrInvalidRequest)
	}
	exists, isDir, err := c.store.Repo().Exists(path)
	if err != nil {
		return err
	}
	if !exists || isDir {
		return fmt.Errorf("%w: you must supply an SSH public key to use for local SFTP", ErrInvalidRequest)
	}
	return nil
}

func (c *Controller) checkServerMount(mount string) error {
	if !filepath.IsAbs(mount) {
		return fmt.Errorf("%w: the mount to expose must be an absolute path", ErrInvalidRequest)
	}
	exists, isDir, err := c.store.Repo().Exists(mount)
	if err != nil {
		return err
	}
	if !exists || !isDir {
		return fmt.Errorf("%w: the mount to expose must be a directory, but can be empty", ErrInvalidRequest)
	}
	if filepath.Base(mount) == "remote" {
		return fmt.Errorf("%w: the mount directory cannot end in 'remote'", ErrInvalidRequest)
	}
	return nil
}

// =============================================================================
// Stop / Delete
// =============================================================================

// Stop stops a running service. The running check comes first so a
// missing manifest on a stopped service reads as not running.
func (c *Controller) Stop(ctx context.Context, target Target) (*Outcome, error) {
	entry, err := c.existing(target)
	if err != nil {
		return nil, err
	}

	running, err := c.isRunning(ctx, entry)
	if err != nil {
		return nil, err
	}
	if !running {
		return nil, fmt.Errorf("%w: fingerprint '%s'", ErrNotRunning, entry.Fingerprint)
	}

	configured, err := c.store.HasManifest(entry)
	if err != nil {
		return nil, err
	}
	if !configured {
		return nil, missingManifest(entry)
	}

	c.observe(eventFor(StageStopping, entry))
	if _, err := c.runtime.Stop(ctx, entry.ManifestPath()); err != nil {
		return nil, err
	}

	c.logger.Info("service stopped", "kind", entry.Kind.String(), "fingerprint", entry.Fingerprint)
	return outcomeFor(entry), nil
}

// Delete tears the service down and removes its directory. Teardown is
// skipped when there is no manifest to tear down.
func (c *Controller) Delete(ctx context.Context, target Target) (*Outcome, error) {
	entry, err := c.existing(target)
	if err != nil {
		return nil, err
	}

	configured, err := c.store.HasManifest(entry)
	if err != nil {
		return nil, err
	}

	c.observe(eventFor(StageRemoving, entry))
	if configured {
		if _, err := c.runtime.Down(ctx, entry.ManifestPath(), compose.DownOptions{RemoveVolumes: true}); err != nil {
			return nil, err
		}
	}
	if err := c.store.Remove(entry); err != nil {
		return nil, err
	}

	c.logger.Info("service deleted", "kind", entry.Kind.String(), "fingerprint", entry.Fingerprint, "teardown", configured)
	return outcomeFor(entry), nil
}

// =============================================================================
// Status / List
// =============================================================================

// Status reports the state of one fingerprint. A by-parameters target
// without a directory reports StateAbsent; a by-fingerprint one is unknown.
func (c *Controller) Status(ctx context.Context, target Target) (*Report, error) {
	res, err := fingerprint.Resolve(target.Kind, target.Fingerprint, target.Params)
	if err != nil {
		return nil, err
	}
	entry, err := c.store.LocateResolution(res)
	if err != nil {
		return nil, err
	}

	exists, err := c.store.DirExists(entry)
	if err != nil {
		return nil, err
	}
	if !exists {
		return &Report{Kind: entry.Kind, Fingerprint: entry.Fingerprint, Dir: entry.Dir, State: StateAbsent}, nil
	}

	names, err := c.lister.RunningNames(ctx, entry.Fingerprint)
	if err != nil {
		return nil, err
	}
	return c.report(entry, names)
}

// List reports every fingerprint of kind against one running snapshot.
func (c *Controller) List(ctx context.Context, kind fingerprint.Kind) ([]Report, error) {
	entries, err := c.store.List(kind)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return []Report{}, nil
	}

	names, err := c.lister.RunningNames(ctx, "")
	if err != nil {
		return nil, err
	}

	reports := make([]Report, 0, len(entries))
	for _, e := range entries {
		r, err := c.report(e, names)
		if err != nil {
			return nil, err
		}
		reports = append(reports, *r)
	}
	return reports, nil
}

func (c *Controller) report(entry *store.Entry, names []string) (*Report, error) {
	configured, err := c.store.HasManifest(entry)
	if err != nil {
		return nil, err
	}
	quarantined, err := c.store.IsQuarantined(entry)
	if err != nil {
		return nil, err
	}

	r := &Report{
		Kind:        entry.Kind,
		Fingerprint: entry.Fingerprint,
		Dir:         entry.Dir,
		State:       derive(configured, quarantined, matchRunning(names, entry.Fingerprint)),
	}
	if entry.Kind == fingerprint.KindVPNServer && configured {
		if n, err := manifest.ReadPeers(c.store.Repo(), entry); err == nil {
			r.Peers = n
		} else {
			c.logger.Warn("unreadable peer count", "fingerprint", entry.Fingerprint, "error", err)
		}
	}
	return r, nil
}

// =============================================================================
// Helpers
// =============================================================================

// existing resolves target and requires its directory, whichever way it
// was named.
func (c *Controller) existing(target Target) (*store.Entry, error) {
	res, err := fingerprint.Resolve(target.Kind, target.Fingerprint, target.Params)
	if err != nil {
		return nil, err
	}
	return c.store.Locate(res.Kind, res.Fingerprint, true)
}

// checkOrphan fails when a directory without a manifest is reported running,
// so a start never renders over containers it can no longer manage.
func (c *Controller) checkOrphan(ctx context.Context, entry *store.Entry) error {
	running, err := c.isRunning(ctx, entry)
	if err != nil {
		return err
	}
	if running {
		return missingManifest(entry)
	}
	return nil
}

// OrphanError reports a running service whose manifest is gone. It matches
// ErrRunningWithMissingManifest and names the container to stop by hand.
type OrphanError struct {
	Fingerprint string
	Container   string
}

func (e *OrphanError) Error() string {
	return fmt.Sprintf("%v: fingerprint '%s' (container %s)", ErrRunningWithMissingManifest, e.Fingerprint, e.Container)
}

// Is reports whether target is ErrRunningWithMissingManifest.
func (e *OrphanError) Is(target error) bool {
	return target == ErrRunningWithMissingManifest
}

func missingManifest(entry *store.Entry) error {
	return &OrphanError{Fingerprint: entry.Fingerprint, Container: entry.ContainerName()}
}

func (c *Controller) isRunning(ctx context.Context, entry *store.Entry) (bool, error) {
	names, err := c.lister.RunningNames(ctx, entry.Fingerprint)
	if err != nil {
		return false, err
	}
	running := matchRunning(names, entry.Fingerprint)
	c.logger.Debug("running check", "fingerprint", entry.Fingerprint, "running", running, "names", len(names))
	return running, nil
}

func outcomeFor(entry *store.Entry) *Outcome {
	return &Outcome{
		Kind:        entry.Kind,
		Fingerprint: entry.Fingerprint,
		Dir:         entry.Dir,
		Manifest:    entry.ManifestPath(),
	}
}
