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

type vpnOptions struct {
	fingerprint string
	client      bool
}

func (o *vpnOptions) kind() fingerprint.Kind {
	if o.client {
		return fingerprint.KindVPNClient
	}
	return fingerprint.KindVPNServer
}

func (o *vpnOptions) target(args []string) (lifecycle.Target, error) {
	fp, err := handleArg(args, o.fingerprint)
	if err != nil {
		return lifecycle.Target{}, err
	}
	return lifecycle.Target{Kind: o.kind(), Fingerprint: fp}, nil
}

func addVPNHandleFlags(cmd *cobra.Command, o *vpnOptions) {
	cmd.Flags().StringVar(&o.fingerprint, "fingerprint", "", "The fingerprint of an existing VPN service.")
	cmd.Flags().BoolVar(&o.client, "client", false, "Address a VPN client connection instead of a server.")
}

func (c *cli) vpnCmd() *cobra.Command {
	vpn := &cobra.Command{
		Use:   "vpn",
		Short: "Wireguard VPN filesystem bridges",
	}
	vpn.AddCommand(
		c.vpnStartCmd(),
		c.vpnAddClientCmd(),
		c.vpnConnectCmd(),
		c.vpnStopCmd(),
		c.vpnDeleteCmd(),
		c.vpnStatusCmd(),
		c.vpnListCmd(),
	)
	return vpn
}

func (c *cli) vpnStartCmd() *cobra.Command {
	var (
		fp    string
		mount string
		force bool
	)
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Starts a Wireguard VPN filesystem bridge",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c.noun = fingerprint.KindVPNServer.Spec().Noun
			t := lifecycle.Target{Kind: fingerprint.KindVPNServer, Fingerprint: fp}
			if cmd.Flags().Changed("mount") {
				t.Params = []string{absPath(mount)}
			}

			out, err := c.app.ctrl.Start(cmd.Context(), lifecycle.StartRequest{Target: t, Force: force})
			if err != nil {
				return err
			}

			verb := "started"
			if out.Restarted {
				verb = "restarted"
			}
			c.app.printer.Success(fmt.Sprintf("Successfully %s a VPN server!", verb))
			c.app.printer.Info(fingerprintNote(out.Fingerprint) + " Keep track of it if you intend to add clients to the tunnel.")
			return nil
		},
	}
	cmd.Flags().StringVar(&fp, "fingerprint", "", "The fingerprint of an existing VPN server. Mutually exclusive with --mount.")
	cmd.Flags().StringVar(&mount, "mount", "", "The directory to expose to client VPN connections. Mutually exclusive with --fingerprint.")
	cmd.Flags().BoolVar(&force, "force-restart", false, "Restart the server even if it is already running.")
	return cmd
}

func (c *cli) vpnAddClientCmd() *cobra.Command {
	var fp string
	cmd := &cobra.Command{
		Use:   "add-client [fingerprint]",
		Short: "Adds a client to the VPN server with the provided fingerprint",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c.noun = fingerprint.KindVPNServer.Spec().Noun
			handle, err := handleArg(args, fp)
			if err != nil {
				return err
			}
			out, err := c.app.ctrl.AddPeer(cmd.Context(), lifecycle.Target{Kind: fingerprint.KindVPNServer, Fingerprint: handle})
			if err != nil {
				return err
			}
			c.app.printer.Success(fmt.Sprintf("Successfully configured a new client! They should be able to connect "+
				"under the peer%d identity using `sdcli vpn connect`.", out.Peer))
			return nil
		},
	}
	cmd.Flags().StringVar(&fp, "fingerprint", "", "The fingerprint of an existing VPN server.")
	return cmd
}

func (c *cli) vpnConnectCmd() *cobra.Command {
	var req lifecycle.ConnectRequest
	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Configures a VPN connection with a remote filesystem and connects it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c.noun = fingerprint.KindVPNClient.Spec().Noun
			req.Mount = absPath(req.Mount)
			if _, err := c.app.ctrl.Connect(cmd.Context(), req); err != nil {
				return err
			}
			c.app.printer.Success("Successfully connected! You should see the remote filesystem at your mount point.")
			return nil
		},
	}
	cmd.Flags().StringVar(&req.Name, "name", "", "A name for the VPN connection.")
	cmd.Flags().StringVar(&req.Code, "code", "", "The code provided by `add-client` on the VPN server. Required on first connect.")
	cmd.Flags().StringVar(&req.Mount, "mount", "", "The empty directory to mount the remote filesystem at. Required on first connect.")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func (c *cli) vpnStopCmd() *cobra.Command {
	o := &vpnOptions{}
	cmd := &cobra.Command{
		Use:   "stop [fingerprint]",
		Short: "Stops a running VPN server or client",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c.noun = o.kind().Spec().Noun
			t, err := o.target(args)
			if err != nil {
				return err
			}
			if _, err := c.app.ctrl.Stop(cmd.Context(), t); err != nil {
				return err
			}
			c.app.printer.Success(fmt.Sprintf("Successfully stopped your %s.", c.noun))
			return nil
		},
	}
	addVPNHandleFlags(cmd, o)
	return cmd
}

func (c *cli) vpnDeleteCmd() *cobra.Command {
	o := &vpnOptions{}
	cmd := &cobra.Command{
		Use:   "delete [fingerprint]",
		Short: "Shuts down and removes a VPN server or client",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c.noun = o.kind().Spec().Noun
			t, err := o.target(args)
			if err != nil {
				return err
			}
			if _, err := c.app.ctrl.Delete(cmd.Context(), t); err != nil {
				return err
			}
			c.app.printer.Success(fmt.Sprintf("Successfully removed your %s.", c.noun))
			return nil
		},
	}
	addVPNHandleFlags(cmd, o)
	return cmd
}

func (c *cli) vpnStatusCmd() *cobra.Command {
	o := &vpnOptions{}
	cmd := &cobra.Command{
		Use:   "status [fingerprint]",
		Short: "Shows the state of a VPN server or client",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c.noun = o.kind().Spec().Noun
			t, err := o.target(args)
			if err != nil {
				return err
			}
			r, err := c.app.ctrl.Status(cmd.Context(), t)
			if err != nil {
				return err
			}
			c.printReports([]lifecycle.Report{*r}, !o.client)
			return nil
		},
	}
	addVPNHandleFlags(cmd, o)
	return cmd
}

func (c *cli) vpnListCmd() *cobra.Command {
	o := &vpnOptions{}
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Lists every configured VPN server, or client with --client",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reports, err := c.app.ctrl.List(cmd.Context(), o.kind())
			if err != nil {
				return err
			}
			c.printReports(reports, !o.client)
			return nil
		},
	}
	cmd.Flags().BoolVar(&o.client, "client", false, "List VPN client connections instead of servers.")
	return cmd
}
