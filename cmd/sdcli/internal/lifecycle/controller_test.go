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
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metabronx/sdcli/cmd/sdcli/internal/fingerprint"
	"github.com/metabronx/sdcli/cmd/sdcli/internal/infra/compose"
	"github.com/metabronx/sdcli/cmd/sdcli/internal/infra/process"
	"github.com/metabronx/sdcli/cmd/sdcli/internal/manifest"
	"github.com/metabronx/sdcli/cmd/sdcli/internal/store"
	"github.com/metabronx/sdcli/cmd/sdcli/internal/util"
)

// =============================================================================
// Test Helpers
// =============================================================================

const (
	testRoot   = "/home/u/.sdcli"
	testPubKey = "/home/u/.ssh/id_ed25519.pub"
	newBridge  = "50da709fdb20cf097cfa452ac2ae13cb"
)

type harness struct {
	ctrl   *Controller
	store  *store.Store
	mock   *process.MockManager
	events []Event
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	repo := store.NewMemRepository()
	st, err := store.New(testRoot, repo)
	require.NoError(t, err)
	require.NoError(t, repo.MkdirAll(filepath.Dir(testPubKey), 0o700))
	require.NoError(t, repo.WriteFile(testPubKey, []byte("ssh-ed25519 AAAA"), 0o644))

	mock := process.NewMockManager()
	exec, err := compose.NewDefaultExecutor(compose.Config{}, mock, nil)
	require.NoError(t, err)

	h := &harness{store: st, mock: mock}
	h.ctrl = New(st, exec, nil, nil, func(e Event) { h.events = append(h.events, e) })
	return h
}

// seed creates a fingerprint directory, with a manifest when configured.
func (h *harness) seed(t *testing.T, kind fingerprint.Kind, fp string, configured bool) *store.Entry {
	t.Helper()
	e, err := h.store.Locate(kind, fp, false)
	require.NoError(t, err)
	require.NoError(t, h.store.Repo().MkdirAll(e.Dir, 0o755))
	if configured {
		require.NoError(t, h.store.Repo().WriteFile(e.ManifestPath(), []byte("services: {blackstrap: {}}\n"), 0o600))
	}
	return e
}

func (h *harness) running(names string) {
	h.mock.On("docker ps", process.Result{Stdout: names})
}

func (h *harness) stages() []Stage {
	out := make([]Stage, 0, len(h.events))
	for _, e := range h.events {
		out = append(out, e.Stage)
	}
	return out
}

func s3Manifest(fp string) string {
	return filepath.Join(testRoot, "blackstrap", "s3", fp, "docker-compose.yaml")
}

func psLine(fp string) string {
	return "docker ps --format {{.Names}} --filter name=" + fp
}

// =============================================================================
// Start Tests
// =============================================================================

func TestStart_NewBridge(t *testing.T) {
	h := newHarness(t)

	out, err := h.ctrl.Start(context.Background(), StartRequest{
		Target:       Target{Kind: fingerprint.KindS3Bridge, Params: []string{"test", "ID", "KEY"}},
		SSHPublicKey: testPubKey,
	})

	require.NoError(t, err)
	assert.Equal(t, newBridge, out.Fingerprint)
	assert.Equal(t, filepath.Join(testRoot, "blackstrap", "s3", newBridge), out.Dir)
	assert.True(t, out.Created)
	assert.False(t, out.Restarted)

	yaml := s3Manifest(newBridge)
	assert.Equal(t, []string{
		"docker-compose -f " + yaml + " config -o " + yaml,
		"docker-compose -f " + yaml + " up --wait --force-recreate",
	}, h.mock.Lines())
	assert.Equal(t, []Stage{StageConfiguringNew, StageStarting}, h.stages())

	data, err := h.store.Repo().ReadFile(yaml)
	require.NoError(t, err)
	assert.Contains(t, string(data), "blackstrap_bridge_"+newBridge)
}

func TestStart_ExistingStopped(t *testing.T) {
	h := newHarness(t)
	h.seed(t, fingerprint.KindS3Bridge, "banana", true)

	out, err := h.ctrl.Start(context.Background(), StartRequest{Target: Target{Kind: fingerprint.KindS3Bridge, Fingerprint: "banana"}})

	require.NoError(t, err)
	assert.False(t, out.Created)
	assert.Equal(t, []string{
		psLine("banana"),
		"docker-compose -f " + s3Manifest("banana") + " up --wait --force-recreate",
	}, h.mock.Lines())
	assert.Equal(t, []Stage{StageExistingFound, StageStarting}, h.stages())
}

func TestStart_ExistingByParamsDoesNotRerender(t *testing.T) {
	h := newHarness(t)
	e := h.seed(t, fingerprint.KindS3Bridge, newBridge, true)

	_, err := h.ctrl.Start(context.Background(), StartRequest{
		Target: Target{Kind: fingerprint.KindS3Bridge, Params: []string{"test", "ID", "KEY"}},
	})

	require.NoError(t, err)
	data, err := h.store.Repo().ReadFile(e.ManifestPath())
	require.NoError(t, err)
	assert.Equal(t, "services: {blackstrap: {}}\n", string(data))
	assert.False(t, h.mock.CalledPrefix("docker-compose -f "+e.ManifestPath()+" config"))
}

func TestStart_AlreadyRunning(t *testing.T) {
	h := newHarness(t)
	h.seed(t, fingerprint.KindS3Bridge, "banana", true)
	h.running("banana")

	_, err := h.ctrl.Start(context.Background(), StartRequest{Target: Target{Kind: fingerprint.KindS3Bridge, Fingerprint: "banana"}})

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAlreadyRunning))
	assert.True(t, h.mock.Called(psLine("banana")))
	assert.False(t, h.mock.CalledPrefix("docker-compose"), "no up may be issued")
	assert.Equal(t, []Stage{StageExistingFound}, h.stages())
}

func TestStart_ForcedRestart(t *testing.T) {
	h := newHarness(t)
	h.seed(t, fingerprint.KindS3Bridge, "banana", true)
	h.running("blackstrap_bridge_banana")

	out, err := h.ctrl.Start(context.Background(), StartRequest{
		Target: Target{Kind: fingerprint.KindS3Bridge, Fingerprint: "banana"},
		Force:  true,
	})

	require.NoError(t, err)
	assert.True(t, out.Restarted)
	assert.False(t, h.mock.CalledPrefix("docker ps"), "force bypasses the running check")
	assert.Equal(t, []string{"docker-compose -f " + s3Manifest("banana") + " up --wait --force-recreate"}, h.mock.Lines())
	assert.Equal(t, []Stage{StageExistingFound, StageRestarting}, h.stages())
}

func TestStart_UnknownFingerprint(t *testing.T) {
	h := newHarness(t)

	_, err := h.ctrl.Start(context.Background(), StartRequest{Target: Target{Kind: fingerprint.KindS3Bridge, Fingerprint: "banana"}})

	assert.True(t, errors.Is(err, store.ErrUnknownFingerprint))
	assert.Contains(t, err.Error(), "banana")
	assert.Empty(t, h.mock.Calls())
}

func TestStart_InputErrors(t *testing.T) {
	h := newHarness(t)

	_, err := h.ctrl.Start(context.Background(), StartRequest{Target: Target{Kind: fingerprint.KindS3Bridge}})
	assert.True(t, errors.Is(err, fingerprint.ErrInvalidInputCombination))

	_, err = h.ctrl.Start(context.Background(), StartRequest{Target: Target{Kind: fingerprint.KindS3Bridge, Params: []string{"test", "", "KEY"}}})
	assert.True(t, errors.Is(err, fingerprint.ErrIncompleteParameters))

	assert.Empty(t, h.mock.Calls())
}

func TestStart_UninitializedByHandle(t *testing.T) {
	h := newHarness(t)
	h.seed(t, fingerprint.KindS3Bridge, "banana", false)

	_, err := h.ctrl.Start(context.Background(), StartRequest{Target: Target{Kind: fingerprint.KindS3Bridge, Fingerprint: "banana"}})
	assert.True(t, errors.Is(err, ErrUninitialized))

	h.running("blackstrap_bridge_banana")
	_, err = h.ctrl.Start(context.Background(), StartRequest{Target: Target{Kind: fingerprint.KindS3Bridge, Fingerprint: "banana"}})
	assert.True(t, errors.Is(err, ErrRunningWithMissingManifest))

	assert.False(t, h.mock.CalledPrefix("docker-compose"))
}

func TestStart_UninitializedByParamsReenters(t *testing.T) {
	h := newHarness(t)
	h.seed(t, fingerprint.KindS3Bridge, newBridge, false)

	out, err := h.ctrl.Start(context.Background(), StartRequest{
		Target:       Target{Kind: fingerprint.KindS3Bridge, Params: []string{"test", "ID", "KEY"}},
		SSHPublicKey: testPubKey,
	})

	require.NoError(t, err)
	assert.True(t, out.Created)
	assert.True(t, h.mock.Called(psLine(newBridge)), "an existing directory is checked before rendering")
}

func TestStart_ByParamsRunningWithMissingManifest(t *testing.T) {
	h := newHarness(t)
	h.seed(t, fingerprint.KindS3Bridge, newBridge, false)
	h.running("blackstrap_bridge_" + newBridge)

	_, err := h.ctrl.Start(context.Background(), StartRequest{
		Target:       Target{Kind: fingerprint.KindS3Bridge, Params: []string{"test", "ID", "KEY"}},
		SSHPublicKey: testPubKey,
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRunningWithMissingManifest))
	var orphan *OrphanError
	require.True(t, errors.As(err, &orphan))
	assert.Equal(t, "blackstrap_bridge_"+newBridge, orphan.Container)

	assert.Equal(t, []string{psLine(newBridge)}, h.mock.Lines(), "nothing is rendered or started")
	assert.Empty(t, h.stages())
}

func TestStart_ByParamsNewDirectorySkipsRunningCheck(t *testing.T) {
	h := newHarness(t)

	_, err := h.ctrl.Start(context.Background(), StartRequest{
		Target:       Target{Kind: fingerprint.KindS3Bridge, Params: []string{"test", "ID", "KEY"}},
		SSHPublicKey: testPubKey,
	})

	require.NoError(t, err)
	assert.False(t, h.mock.CalledPrefix("docker ps"))
}

func TestStart_MissingPublicKey(t *testing.T) {
	h := newHarness(t)

	for _, key := range []string{"", "relative.pub", "/home/u/.ssh/missing.pub", "/home/u/.ssh"} {
		_, err := h.ctrl.Start(context.Background(), StartRequest{
			Target:       Target{Kind: fingerprint.KindS3Bridge, Params: []string{"test", "ID", "KEY"}},
			SSHPublicKey: key,
		})
		assert.True(t, errors.Is(err, ErrInvalidRequest), "key %q", key)
	}

	e, err := h.store.Locate(fingerprint.KindS3Bridge, newBridge, false)
	require.NoError(t, err)
	exists, err := h.store.DirExists(e)
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Empty(t, h.mock.Calls())
}

func TestStart_ValidationFailureStopsBeforeUp(t *testing.T) {
	h := newHarness(t)
	yaml := s3Manifest(newBridge)
	h.mock.On("docker-compose -f "+yaml+" config", process.Result{ExitCode: 1, Stderr: "unsupported"})

	_, err := h.ctrl.Start(context.Background(), StartRequest{
		Target:       Target{Kind: fingerprint.KindS3Bridge, Params: []string{"test", "ID", "KEY"}},
		SSHPublicKey: testPubKey,
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, manifest.ErrManifestValidationFailed))
	assert.False(t, h.mock.CalledPrefix("docker-compose -f "+yaml+" up"))
}

func TestStart_UpFailureSurfacesStderr(t *testing.T) {
	h := newHarness(t)
	h.seed(t, fingerprint.KindS3Bridge, "banana", true)
	h.mock.On("docker-compose -f "+s3Manifest("banana")+" up", process.Result{ExitCode: 1, Stderr: "Pulling fs layer\nport is already allocated"})

	_, err := h.ctrl.Start(context.Background(), StartRequest{Target: Target{Kind: fingerprint.KindS3Bridge, Fingerprint: "banana"}})

	require.Error(t, err)
	assert.True(t, errors.Is(err, util.ErrCommandFailed))
	var cmdErr *util.CommandError
	require.True(t, errors.As(err, &cmdErr))
	assert.Equal(t, "port is already allocated", cmdErr.Stderr)
}

func TestStart_SubstringRunningMatch(t *testing.T) {
	h := newHarness(t)
	h.seed(t, fingerprint.KindS3Bridge, "ban", true)
	h.running("blackstrap_bridge_banana")

	_, err := h.ctrl.Start(context.Background(), StartRequest{Target: Target{Kind: fingerprint.KindS3Bridge, Fingerprint: "ban"}})

	assert.True(t, errors.Is(err, ErrAlreadyRunning), "a prefix of another running fingerprint reads as running")
}

func TestStart_ClientKindRejected(t *testing.T) {
	h := newHarness(t)

	_, err := h.ctrl.Start(context.Background(), StartRequest{Target: Target{Kind: fingerprint.KindVPNClient, Params: []string{"office"}}})
	assert.True(t, errors.Is(err, ErrUnsupportedKind))
}

// =============================================================================
// Stop Tests
// =============================================================================

func TestStop_Running(t *testing.T) {
	h := newHarness(t)
	h.seed(t, fingerprint.KindS3Bridge, "banana", true)
	h.running("banana")

	_, err := h.ctrl.Stop(context.Background(), Target{Kind: fingerprint.KindS3Bridge, Fingerprint: "banana"})

	require.NoError(t, err)
	assert.Equal(t, []string{psLine("banana"), "docker-compose -f " + s3Manifest("banana") + " stop"}, h.mock.Lines())
	assert.Equal(t, []Stage{StageStopping}, h.stages())
}

func TestStop_NotRunning(t *testing.T) {
	h := newHarness(t)
	h.seed(t, fingerprint.KindS3Bridge, "banana", true)
	h.running("")

	_, err := h.ctrl.Stop(context.Background(), Target{Kind: fingerprint.KindS3Bridge, Fingerprint: "banana"})

	assert.True(t, errors.Is(err, ErrNotRunning))
	assert.Equal(t, []string{psLine("banana")}, h.mock.Lines())
}

func TestStop_RunningWithMissingManifest(t *testing.T) {
	h := newHarness(t)
	h.seed(t, fingerprint.KindS3Bridge, "banana", false)
	h.running("banana")

	_, err := h.ctrl.Stop(context.Background(), Target{Kind: fingerprint.KindS3Bridge, Fingerprint: "banana"})

	assert.True(t, errors.Is(err, ErrRunningWithMissingManifest))
	assert.False(t, h.mock.CalledPrefix("docker-compose"))
}

func TestStop_NotRunningWinsOverMissingManifest(t *testing.T) {
	h := newHarness(t)
	h.seed(t, fingerprint.KindS3Bridge, "banana", false)

	_, err := h.ctrl.Stop(context.Background(), Target{Kind: fingerprint.KindS3Bridge, Fingerprint: "banana"})
	assert.True(t, errors.Is(err, ErrNotRunning))
}

func TestStop_ByParamsRequiresDirectory(t *testing.T) {
	h := newHarness(t)

	_, err := h.ctrl.Stop(context.Background(), Target{Kind: fingerprint.KindS3Bridge, Params: []string{"test", "ID", "KEY"}})

	assert.True(t, errors.Is(err, store.ErrUnknownFingerprint))
	assert.Contains(t, err.Error(), newBridge)
}

// =============================================================================
// Delete Tests
// =============================================================================

func TestDelete_Configured(t *testing.T) {
	h := newHarness(t)
	e := h.seed(t, fingerprint.KindS3Bridge, "banana", true)

	_, err := h.ctrl.Delete(context.Background(), Target{Kind: fingerprint.KindS3Bridge, Fingerprint: "banana"})

	require.NoError(t, err)
	assert.Equal(t, []string{"docker-compose -f " + s3Manifest("banana") + " down --volumes"}, h.mock.Lines())
	exists, err := h.store.DirExists(e)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestDelete_WithoutManifestSkipsTeardown(t *testing.T) {
	h := newHarness(t)
	e := h.seed(t, fingerprint.KindS3Bridge, "banana", false)

	_, err := h.ctrl.Delete(context.Background(), Target{Kind: fingerprint.KindS3Bridge, Fingerprint: "banana"})

	require.NoError(t, err)
	assert.Empty(t, h.mock.Calls())
	exists, _ := h.store.DirExists(e)
	assert.False(t, exists)
}

func TestDelete_TeardownFailureKeepsDirectory(t *testing.T) {
	h := newHarness(t)
	e := h.seed(t, fingerprint.KindS3Bridge, "banana", true)
	h.mock.On("docker-compose", process.Result{ExitCode: 1, Stderr: "daemon error"})

	_, err := h.ctrl.Delete(context.Background(), Target{Kind: fingerprint.KindS3Bridge, Fingerprint: "banana"})

	assert.True(t, errors.Is(err, util.ErrCommandFailed))
	exists, _ := h.store.DirExists(e)
	assert.True(t, exists)
}

func TestDelete_Unknown(t *testing.T) {
	h := newHarness(t)

	_, err := h.ctrl.Delete(context.Background(), Target{Kind: fingerprint.KindS3Bridge, Fingerprint: "banana"})
	assert.True(t, errors.Is(err, store.ErrUnknownFingerprint))
}

// =============================================================================
// Status / List Tests
// =============================================================================

func TestStatus_States(t *testing.T) {
	h := newHarness(t)
	h.seed(t, fingerprint.KindS3Bridge, "stopped", true)
	h.seed(t, fingerprint.KindS3Bridge, "running", true)
	h.seed(t, fingerprint.KindS3Bridge, "orphan", false)
	h.seed(t, fingerprint.KindS3Bridge, "ghost", false)
	q := h.seed(t, fingerprint.KindS3Bridge, "quarantined", false)
	require.NoError(t, h.store.Repo().WriteFile(q.QuarantinePath(), []byte("x"), 0o600))
	h.running("blackstrap_bridge_running\nblackstrap_bridge_ghost")

	tests := map[string]State{
		"stopped":     StateStopped,
		"running":     StateRunning,
		"orphan":      StateUninitialized,
		"ghost":       StateRunningWithMissingManifest,
		"quarantined": StateQuarantined,
	}
	for fp, want := range tests {
		r, err := h.ctrl.Status(context.Background(), Target{Kind: fingerprint.KindS3Bridge, Fingerprint: fp})
		require.NoError(t, err, fp)
		assert.Equal(t, want, r.State, fp)
	}
}

func TestStatus_AbsentByParams(t *testing.T) {
	h := newHarness(t)

	r, err := h.ctrl.Status(context.Background(), Target{Kind: fingerprint.KindS3Bridge, Params: []string{"test", "ID", "KEY"}})

	require.NoError(t, err)
	assert.Equal(t, StateAbsent, r.State)
	assert.Equal(t, newBridge, r.Fingerprint)
	assert.Empty(t, h.mock.Calls())

	_, err = h.ctrl.Status(context.Background(), Target{Kind: fingerprint.KindS3Bridge, Fingerprint: newBridge})
	assert.True(t, errors.Is(err, store.ErrUnknownFingerprint))
}

func TestList_SingleSnapshot(t *testing.T) {
	h := newHarness(t)
	h.seed(t, fingerprint.KindS3Bridge, "aaa", true)
	h.seed(t, fingerprint.KindS3Bridge, "bbb", true)
	h.running("blackstrap_bridge_bbb")

	reports, err := h.ctrl.List(context.Background(), fingerprint.KindS3Bridge)

	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.Equal(t, StateStopped, reports[0].State)
	assert.Equal(t, StateRunning, reports[1].State)
	assert.Equal(t, []string{"docker ps --format {{.Names}}"}, h.mock.Lines())
}

func TestList_EmptySkipsRuntime(t *testing.T) {
	h := newHarness(t)

	reports, err := h.ctrl.List(context.Background(), fingerprint.KindVPNServer)

	require.NoError(t, err)
	assert.Empty(t, reports)
	assert.Empty(t, h.mock.Calls())
}

type fakeLister struct{ names []string }

func (f fakeLister) RunningNames(ctx context.Context, nameFilter string) ([]string, error) {
	return f.names, nil
}

func TestController_UsesInjectedLister(t *testing.T) {
	h := newHarness(t)
	exec, err := compose.NewDefaultExecutor(compose.Config{}, h.mock, nil)
	require.NoError(t, err)
	ctrl := New(h.store, exec, fakeLister{names: []string{"blackstrap_bridge_banana"}}, nil, nil)
	h.seed(t, fingerprint.KindS3Bridge, "banana", true)

	_, err = ctrl.Start(context.Background(), StartRequest{Target: Target{Kind: fingerprint.KindS3Bridge, Fingerprint: "banana"}})

	assert.True(t, errors.Is(err, ErrAlreadyRunning))
	assert.Empty(t, h.mock.Calls(), "the engine lister replaces docker ps")
}

func TestDerive(t *testing.T) {
	assert.Equal(t, StateRunningWithMissingManifest, derive(false, true, true))
	assert.Equal(t, StateRunning, derive(true, true, true))
	assert.Equal(t, StateStopped, derive(true, true, false))
	assert.Equal(t, StateQuarantined, derive(false, true, false))
	assert.Equal(t, StateUninitialized, derive(false, false, false))
}
