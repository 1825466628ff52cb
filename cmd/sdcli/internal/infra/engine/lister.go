// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine lists running containers through the Docker Engine API.
//
// It is the alternative to parsing `docker ps` output, selected with
// `runtime.probe: engine`. Only the running-state snapshot goes through the
// API; every lifecycle transition still runs through the compose binary.
package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	dockerclient "github.com/docker/docker/client"
)

// containerAPI is the subset of the Docker client the lister needs.
type containerAPI interface {
	ContainerList(ctx context.Context, options container.ListOptions) ([]types.Container, error)
	Close() error
}

// Lister reports running container names via the Engine API.
type Lister struct {
	client containerAPI
}

// New creates a Lister using DOCKER_HOST or the default socket.
func New() (*Lister, error) {
	cli, err := dockerclient.NewClientWithOpts(
		dockerclient.FromEnv,
		dockerclient.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return &Lister{client: cli}, nil
}

// RunningNames returns names of running containers. nameFilter narrows the
// result with the engine's substring name filter when non-empty.
func (l *Lister) RunningNames(ctx context.Context, nameFilter string) ([]string, error) {
	opts := container.ListOptions{}
	if nameFilter != "" {
		opts.Filters = filters.NewArgs(filters.Arg("name", nameFilter))
	}

	containers, err := l.client.ContainerList(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}

	names := []string{}
	for _, c := range containers {
		for _, n := range c.Names {
			// The engine reports names with a leading slash.
			if n = strings.TrimPrefix(n, "/"); n != "" {
				names = append(names, n)
			}
		}
	}
	return names, nil
}

// Close releases the underlying client.
func (l *Lister) Close() error {
	return l.client.Close()
}
