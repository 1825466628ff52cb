// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/metabronx/sdcli/cmd/sdcli/internal/fingerprint"
	"github.com/metabronx/sdcli/cmd/sdcli/internal/lifecycle"
)

const sftpAddress = "blackstrap-user@localhost:1111"

type s3Options struct {
	fingerprint     string
	bucket          string
	accessKeyID     string
	secretAccessKey string
	sshPubkey       string
	forceRestart    bool
}

// target builds the lifecycle target; the bucket tuple is used when any of
// its flags were given so a partial tuple reports the missing fields.
func (o *s3Options) target(cmd *cobra.Command, args []string) (lifecycle.Target, error) {
	fp, err := handleArg(args, o.fingerprint)
	if err != nil {
		return lifecycle.Target{}, err
	}
	t := lifecycle.Target{Kind: fingerprint.KindS3Bridge, Fingerprint: fp}
	flags := cmd.Flags()
	if flags.Changed("bucket") || flags.Changed("access-key-id") || flags.Changed("secret-access-key") {
		t.Params = []string{o.bucket, o.accessKeyID, o.secretAccessKey}
	}
	return t, nil
}

func addS3IdentityFlags(cmd *cobra.Command, o *s3Options) {
	f := cmd.Flags()
	f.StringVar(&o.fingerprint, "fingerprint", "", "The fingerprint of an existing S3 bridge. Mutually exclusive with the bucket options.")
	f.StringVar(&o.bucket, "bucket", "", "The bucket to expose via SFTP. Mutually exclusive with --fingerprint.")
	f.StringVar(&o.accessKeyID, "access-key-id", "", "Your AWS Access Key ID. Required when first connecting to a bucket.")
	f.StringVar(&o.secretAccessKey, "secret-access-key", "", "Your AWS Secret Access Key. Required when first connecting to a bucket.")
}

func (c *cli) s3Cmd() *cobra.Command {
	s3 := &cobra.Command{
		Use:   "s3",
		Short: "Bridges S3 object stores (buckets) to SFTP-accessible file systems",
	}
	s3.AddCommand(c.s3BridgeCmd(), c.s3StopCmd(), c.s3DeleteCmd(), c.s3StatusCmd(), c.s3ListCmd())
	return s3
}

func (c *cli) s3BridgeCmd() *cobra.Command {
	o := &s3Options{}
	cmd := &cobra.Command{
		Use:   "bridge",
		Short: "Bridges an S3 object store (bucket) to an SFTP-accessible file system",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c.noun = fingerprint.KindS3Bridge.Spec().Noun
			t, err := o.target(cmd, args)
			if err != nil {
				return err
			}
			pubkey := o.sshPubkey
			if !cmd.Flags().Changed("ssh-pubkey") {
				pubkey = c.app.cfg.S3.SSHPublicKey
			}

			out, err := c.app.ctrl.Start(cmd.Context(), lifecycle.StartRequest{
				Target:       t,
				Force:        o.forceRestart,
				SSHPublicKey: absPath(pubkey),
			})
			if err != nil {
				return err
			}

			verb := "started"
			if out.Restarted {
				verb = "restarted"
			}
			p := c.app.printer
			p.Success(fmt.Sprintf("Successfully %s your S3 bridge!", verb))
			p.Info(fingerprintNote(out.Fingerprint))
			p.Box("SFTP", fmt.Sprintf("Connect to your bucket via SFTP at `%s`.", sftpAddress))
			return nil
		},
	}
	addS3IdentityFlags(cmd, o)
	cmd.Flags().StringVar(&o.sshPubkey, "ssh-pubkey", "~/.ssh/id_ed25519.pub", "Your public SSH key. Required when first connecting to a bucket; only used for local SFTP access.")
	cmd.Flags().BoolVar(&o.forceRestart, "force-restart", false, "Restart the bridge even if it is already running (equivalent to --force-recreate).")
	return cmd
}

func (c *cli) s3StopCmd() *cobra.Command {
	o := &s3Options{}
	cmd := &cobra.Command{
		Use:   "stop-bridge [fingerprint]",
		Short: "Shuts down an existing S3 bridge",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c.noun = fingerprint.KindS3Bridge.Spec().Noun
			t, err := o.target(cmd, args)
			if err != nil {
				return err
			}
			if _, err := c.app.ctrl.Stop(cmd.Context(), t); err != nil {
				return err
			}
			c.app.printer.Success("Successfully stopped your S3 bridge. You can restart it with the `bridge` command.")
			return nil
		},
	}
	addS3IdentityFlags(cmd, o)
	return cmd
}

func (c *cli) s3DeleteCmd() *cobra.Command {
	o := &s3Options{}
	cmd := &cobra.Command{
		Use:   "delete-bridge [fingerprint]",
		Short: "Shuts down and removes an existing S3 bridge",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c.noun = fingerprint.KindS3Bridge.Spec().Noun
			t, err := o.target(cmd, args)
			if err != nil {
				return err
			}
			if _, err := c.app.ctrl.Delete(cmd.Context(), t); err != nil {
				return err
			}
			c.app.printer.Success("Successfully removed your S3 bridge.")
			return nil
		},
	}
	addS3IdentityFlags(cmd, o)
	return cmd
}

func (c *cli) s3StatusCmd() *cobra.Command {
	o := &s3Options{}
	cmd := &cobra.Command{
		Use:   "status [fingerprint]",
		Short: "Shows the state of an S3 bridge",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c.noun = fingerprint.KindS3Bridge.Spec().Noun
			t, err := o.target(cmd, args)
			if err != nil {
				return err
			}
			r, err := c.app.ctrl.Status(cmd.Context(), t)
			if err != nil {
				return err
			}
			c.printReports([]lifecycle.Report{*r}, false)
			return nil
		},
	}
	addS3IdentityFlags(cmd, o)
	return cmd
}

func (c *cli) s3ListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Lists every configured S3 bridge",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reports, err := c.app.ctrl.List(cmd.Context(), fingerprint.KindS3Bridge)
			if err != nil {
				return err
			}
			c.printReports(reports, false)
			return nil
		},
	}
}
