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
Package process abstracts external process execution.

# Overview

Every call sdcli makes to docker or the compose binary goes through Manager.
A call is synchronous and blocking, captures stdout and stderr separately and
reports the exit code, so callers can decide what a non-zero exit means.

	pm := process.NewDefaultManager()
	stdout, stderr, code, err := pm.RunInDir(ctx, "", nil, "docker", "ps", "--format", "{{.Names}}")

For testing, use MockManager with scripted responses:

	mock := process.NewMockManager()
	mock.On("docker ps", process.Result{Stdout: "blackstrap_bridge_abc\n"})

# Retries

Nothing in this package retries. Runtime flakiness is surfaced to the user.
*/
package process
