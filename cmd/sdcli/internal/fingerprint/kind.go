// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package fingerprint

import "fmt"

// Kind is a service type managed under the cache root.
type Kind int

const (
	// KindS3Bridge exposes an S3 bucket over local SFTP.
	KindS3Bridge Kind = iota + 1

	// KindVPNServer is a Wireguard server exposing a local directory.
	KindVPNServer

	// KindVPNClient is a Wireguard client mounting a remote directory.
	KindVPNClient
)

// Spec is the fixed description of a Kind.
type Spec struct {
	// Name is the stable identifier used in flags and logs.
	Name string

	// Segments are the path segments under the cache root.
	Segments []string

	// Manifest is the compose manifest file name inside a fingerprint directory.
	Manifest string

	// Template is the embedded template the manifest is rendered from.
	Template string

	// TupleFields names the identity tuple elements, in hashing order.
	TupleFields []string

	// SubstitutionKeys is the complete placeholder set of the template.
	SubstitutionKeys []string

	// ContainerPrefix is prepended to the fingerprint to form the container name.
	ContainerPrefix string

	// Service is the compose service that exec/run target.
	Service string

	// Noun names the service in user-facing messages.
	Noun string

	// NormalizeManifest rewrites the manifest with `compose config -o` after
	// rendering. Kinds whose manifest reads env files at boot only get a
	// check, since normalization inlines those files.
	NormalizeManifest bool
}

var specs = map[Kind]Spec{
	KindS3Bridge: {
		Name:              "s3-bridge",
		Segments:          []string{"blackstrap", "s3"},
		Manifest:          "docker-compose.yaml",
		Template:          "s3-bridge.yaml",
		TupleFields:       []string{"bucket", "access-key-id", "secret-access-key"},
		ContainerPrefix:   "blackstrap_bridge_",
		Service:           "blackstrap",
		Noun:              "S3 bridge",
		NormalizeManifest: true,
		SubstitutionKeys: []string{
			"AWS_S3_BUCKET",
			"AWS_S3_ACCESS_KEY_ID",
			"AWS_S3_SECRET_ACCESS_KEY",
			"SSH_PUBKEY",
			"FINGERPRINT",
		},
	},
	KindVPNServer: {
		Name:             "vpn-server",
		Segments:         []string{"blackstrap", "vpn", "server"},
		Manifest:         "server.yaml",
		Template:         "vpn-server.yaml",
		TupleFields:      []string{"mount"},
		ContainerPrefix:  "blackstrap_vpn_server_",
		Service:          "blackstrap",
		Noun:             "VPN server",
		SubstitutionKeys: []string{"MOUNT", "FPDIR", "FINGERPRINT"},
	},
	KindVPNClient: {
		Name:             "vpn-client",
		Segments:         []string{"blackstrap", "vpn", "client"},
		Manifest:         "client.yaml",
		Template:         "vpn-client.yaml",
		TupleFields:      []string{"name"},
		ContainerPrefix:  "blackstrap_vpn_client_",
		Service:          "blackstrap",
		Noun:             "VPN client",
		SubstitutionKeys: []string{"MOUNT", "FPDIR", "FINGERPRINT"},
	},
}

// Kinds returns every known kind in declaration order.
func Kinds() []Kind {
	return []Kind{KindS3Bridge, KindVPNServer, KindVPNClient}
}

// Spec returns the fixed description of k. It panics on an unknown kind,
// which can only happen through a programming error.
func (k Kind) Spec() Spec {
	s, ok := specs[k]
	if !ok {
		panic(fmt.Sprintf("fingerprint: unknown kind %d", int(k)))
	}
	return s
}

// String implements fmt.Stringer.
func (k Kind) String() string {
	if s, ok := specs[k]; ok {
		return s.Name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ContainerName returns the container name convention for fp.
func (k Kind) ContainerName(fp string) string {
	return k.Spec().ContainerPrefix + fp
}
