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
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/metabronx/sdcli/cmd/sdcli/internal/lifecycle"
	"github.com/metabronx/sdcli/pkg/ux"
)

// runtimeGroups are the top-level commands that drive the container runtime.
var runtimeGroups = map[string]bool{"s3": true, "vpn": true}

// cli holds the state of one invocation.
type cli struct {
	env env
	app *app

	// noun names the service the running command manages, for error reports.
	noun string

	personalityLevel string
	logLevel         string
}

// execute runs the command line and returns the process exit code.
func execute(ctx context.Context, args []string, e env) int {
	c := &cli{env: e, app: &app{printer: &ux.Printer{Out: e.stdout, Err: e.stderr}}}
	defer c.app.close()

	root := c.rootCmd()
	root.SetArgs(args)
	root.SetOut(e.stdout)
	root.SetErr(e.stderr)

	if err := root.ExecuteContext(ctx); err != nil {
		report(c.app.printer, c.noun, err)
		return 1
	}
	return 0
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "sdcli",
		Short: "A command-line utility for executing essential but laborious tasks",
		Long: `sdcli manages locally running service bridges. Each bridge is identified by a
fingerprint derived from its configuration, so the same inputs always address
the same bridge.`,
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if c.personalityLevel != "" {
				ux.SetPersonalityLevel(ux.ParsePersonalityLevel(c.personalityLevel))
			} else {
				ux.InitPersonality()
			}
			if err := c.app.setup(c.env, c.logLevel); err != nil {
				return err
			}
			if runtimeGroups[groupOf(cmd)] {
				return c.app.connect(cmd.Context(), c.env)
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&c.personalityLevel, "personality", "", "Output style: standard, minimal or machine")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "Diagnostic log level: debug, info, warn or error")

	root.AddCommand(c.s3Cmd(), c.vpnCmd())
	return root
}

// groupOf returns the name of the top-level command cmd belongs to.
func groupOf(cmd *cobra.Command) string {
	for cmd.HasParent() && cmd.Parent().HasParent() {
		cmd = cmd.Parent()
	}
	if !cmd.HasParent() {
		return ""
	}
	return cmd.Name()
}

// handleArg reconciles a positional fingerprint with the --fingerprint flag.
func handleArg(args []string, flag string) (string, error) {
	if len(args) == 0 {
		return flag, nil
	}
	if flag != "" && flag != args[0] {
		return "", fmt.Errorf("%w: the fingerprint was given twice with different values", lifecycle.ErrInvalidRequest)
	}
	return args[0], nil
}

// printReports prints one status line per report.
func (c *cli) printReports(reports []lifecycle.Report, peers bool) {
	p := c.app.printer
	if len(reports) == 0 {
		p.Info("No services found.")
		return
	}
	header := []string{"FINGERPRINT", "STATE"}
	if peers {
		header = append(header, "PEERS")
	}
	rows := make([][]string, 0, len(reports))
	for _, r := range reports {
		row := []string{r.Fingerprint, string(r.State)}
		if peers {
			row = append(row, strconv.Itoa(r.Peers))
		}
		rows = append(rows, row)
	}
	p.Table(header, rows)
}

// absPath expands a leading ~ and makes path absolute. Empty stays empty.
func absPath(path string) string {
	if path == "" {
		return ""
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}
