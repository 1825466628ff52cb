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
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/metabronx/sdcli/cmd/sdcli/internal/fingerprint"
	"github.com/metabronx/sdcli/cmd/sdcli/internal/infra/compose"
	"github.com/metabronx/sdcli/cmd/sdcli/internal/manifest"
	"github.com/metabronx/sdcli/pkg/validation"
)

const (
	configWorkdir = "/config"

	addClientScript     = "/scripts/add-client.sh"
	installClientScript = "/scripts/install-client.sh"
	mountScript         = "/scripts/mountfs.sh"
)

// ConnectRequest configures or reconnects a VPN client.
type ConnectRequest struct {
	// Name identifies the connection and is its identity tuple.
	Name string

	// Code is the server-issued one-time code. Required on first connect.
	Code string

	// Mount is an empty absolute directory. Required on first connect.
	Mount string
}

// AddPeer adds a client identity to a configured VPN server.
//
// The peer count is incremented before the restart so Wireguard generates
// the new peer configuration on boot. The server is then asked to package
// the peer for transfer.
func (c *Controller) AddPeer(ctx context.Context, target Target) (*Outcome, error) {
	if target.Kind != fingerprint.KindVPNServer {
		return nil, fmt.Errorf("%w: add-client applies to VPN servers", ErrUnsupportedKind)
	}
	entry, err := c.existing(target)
	if err != nil {
		return nil, err
	}

	configured, err := c.store.HasManifest(entry)
	if err != nil {
		return nil, err
	}
	if !configured {
		return nil, fmt.Errorf("%w: fingerprint '%s' has no configuration file", ErrUninitialized, entry.Fingerprint)
	}

	repo := c.store.Repo()
	n, err := manifest.ReadPeers(repo, entry)
	if err != nil {
		return nil, err
	}
	n++
	if err := manifest.WritePeers(repo, entry, n); err != nil {
		return nil, err
	}

	path := entry.ManifestPath()
	c.observe(eventFor(StageRestarting, entry))
	if _, err := c.runtime.Down(ctx, path, compose.DownOptions{}); err != nil {
		return nil, err
	}
	if _, err := c.runtime.Up(ctx, path, compose.UpOptions{Wait: true}); err != nil {
		return nil, err
	}

	c.observe(eventFor(StageAddingPeer, entry))
	if _, err := c.runtime.Exec(ctx, path, compose.ExecOptions{
		Service: entry.Kind.Spec().Service,
		Command: []string{addClientScript, strconv.Itoa(n)},
	}); err != nil {
		return nil, err
	}

	c.logger.Info("peer added", "fingerprint", entry.Fingerprint, "peer", n)
	out := outcomeFor(entry)
	out.Peer = n
	return out, nil
}

// Connect configures a VPN client on first use and (re)connects it.
//
// # Description
//
// On first use the mount must be an empty directory and a code must be
// given. The client profile is rendered and the server package is
// installed with a one-off run. Every call then recreates the client and
// mounts the remote filesystem.
//
// If installing the package fails, the manifest is removed so the next
// connect installs again instead of booting an unconfigured client.
func (c *Controller) Connect(ctx context.Context, req ConnectRequest) (*Outcome, error) {
	res, err := fingerprint.Resolve(fingerprint.KindVPNClient, "", []string{req.Name})
	if err != nil {
		return nil, err
	}
	entry, err := c.store.LocateResolution(res)
	if err != nil {
		return nil, err
	}

	configured, err := c.store.HasManifest(entry)
	if err != nil {
		return nil, err
	}

	out := outcomeFor(entry)
	path := entry.ManifestPath()
	service := entry.Kind.Spec().Service

	if !configured {
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
		if err := c.checkClientMount(req.Mount); err != nil {
			return nil, err
		}
		if req.Code == "" {
			return nil, fmt.Errorf("%w: you must supply a server-provided code to establish new VPN connections", ErrInvalidRequest)
		}
		if err := validation.ValidateArgument("code", req.Code); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}

		if _, err := c.materializer.Ensure(ctx, entry, map[string]string{
			"MOUNT":       req.Mount,
			"FPDIR":       entry.Dir,
			"FINGERPRINT": entry.Fingerprint,
		}); err != nil {
			return nil, err
		}
		out.Created = true

		c.observe(eventFor(StageInstallingClient, entry))
		entrypoint := "''"
		if _, err := c.runtime.Run(ctx, path, compose.RunOptions{
			Service:       service,
			Entrypoint:    &entrypoint,
			Workdir:       configWorkdir,
			Command:       []string{installClientScript, req.Code},
			RedactCommand: true,
		}); err != nil {
			if rmErr := c.store.Repo().RemoveAll(path); rmErr != nil {
				c.logger.Warn("could not reset client profile", "fingerprint", entry.Fingerprint, "error", rmErr)
			}
			return nil, err
		}
	}

	c.observe(eventFor(StageStarting, entry))
	if _, err := c.runtime.Down(ctx, path, compose.DownOptions{}); err != nil {
		return nil, err
	}
	if _, err := c.runtime.Up(ctx, path, compose.UpOptions{Wait: true, ForceRecreate: true}); err != nil {
		return nil, err
	}

	c.observe(eventFor(StageMounting, entry))
	if _, err := c.runtime.Exec(ctx, path, compose.ExecOptions{
		Service: service,
		Workdir: configWorkdir,
		Command: []string{mountScript},
	}); err != nil {
		return nil, err
	}

	c.logger.Info("vpn client connected", "fingerprint", entry.Fingerprint, "created", out.Created)
	return out, nil
}

func (c *Controller) checkClientMount(mount string) error {
	const msg = "you must supply an empty directory for the VPN service to use"
	if mount == "" || !filepath.IsAbs(mount) {
		return fmt.Errorf("%w: %s", ErrInvalidRequest, msg)
	}
	repo := c.store.Repo()
	exists, isDir, err := repo.Exists(mount)
	if err != nil {
		return err
	}
	if !exists || !isDir {
		return fmt.Errorf("%w: %s", ErrInvalidRequest, msg)
	}
	children, err := repo.ReadDir(mount)
	if err != nil {
		return err
	}
	if len(children) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidRequest, msg)
	}
	return nil
}
