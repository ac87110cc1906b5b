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
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/livegraph/cmd/livegraph/config"
	"github.com/AleutianAI/livegraph/pkg/ux"
)

var (
	configPath string
	outputMode string

	// Resolved in PersistentPreRunE.
	cfg      config.LivegraphConfig
	clientID string

	// watch / serve
	repoURL   string
	branch    string
	level     int
	plainMode bool
	serveAddr string

	// export
	exportFormat string
	exportTicks  int
	exportOut    string

	rootCmd = &cobra.Command{
		Use:   "livegraph",
		Short: "Watch a repository analysis as a live force-directed graph",
		Long: `livegraph follows an analysis on the backend over a push stream, with
polling as a fallback, and lays out the repository as it is discovered.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: setup,
	}

	watchCmd = &cobra.Command{
		Use:   "watch [session-id]",
		Short: "Watch an analysis in the terminal",
		Long: `Opens an analysis by id, or submits --repo first, and shows the live
graph. Falls back to progress lines when stdout is not a terminal or --plain
is set.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runWatch, // Defined in cmd_watch.go
	}

	serveCmd = &cobra.Command{
		Use:   "serve [session-id]",
		Short: "Serve the live graph to browsers",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runServe, // Defined in cmd_serve.go
	}

	submitCmd = &cobra.Command{
		Use:   "submit <repo-url>",
		Short: "Submit a repository for analysis and print its session id",
		Args:  cobra.ExactArgs(1),
		RunE:  runSubmit, // Defined in cmd_submit.go
	}

	exportCmd = &cobra.Command{
		Use:   "export <session-id>",
		Short: "Lay out an analysis and export it as svg, dot, mermaid, d3 or html",
		Args:  cobra.ExactArgs(1),
		RunE:  runExport, // Defined in cmd_export.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.livegraph/livegraph.yaml)")
	rootCmd.PersistentFlags().StringVar(&outputMode, "output", "", "output mode: rich, minimal or machine")

	for _, c := range []*cobra.Command{watchCmd, serveCmd} {
		c.Flags().StringVar(&repoURL, "repo", "", "submit this repository and watch the new analysis")
		c.Flags().StringVar(&branch, "branch", "", "branch to analyze with --repo")
		c.Flags().IntVar(&level, "level", 0, "detail level: 1 folders, 2 files, 3 everything")
	}
	watchCmd.Flags().BoolVar(&plainMode, "plain", false, "print progress lines instead of the full-screen viewer")
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
	submitCmd.Flags().StringVar(&branch, "branch", "", "branch to analyze")

	exportCmd.Flags().StringVar(&exportFormat, "format", "svg", "svg, dot, mermaid, d3 or html")
	exportCmd.Flags().IntVar(&exportTicks, "ticks", 300, "simulation ticks before rendering")
	exportCmd.Flags().IntVar(&level, "level", 0, "detail level: 1 folders, 2 files, 3 everything")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "output file (default stdout)")

	rootCmd.AddCommand(watchCmd, serveCmd, submitCmd, exportCmd)
}

// setup resolves the output mode, loads the config and assigns the client
// id used in logs and request headers.
func setup(cmd *cobra.Command, _ []string) error {
	if outputMode != "" {
		ux.SetMode(ux.ParseMode(outputMode))
	} else {
		ux.InitMode()
	}

	if configPath == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return err
		}
		configPath = p
	}
	loaded, created, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if created {
		ux.Info("First run detected, created the config at " + configPath)
	}
	cfg = loaded
	if outputMode == "" && cfg.Viewer.Output != "" {
		ux.SetMode(ux.ParseMode(cfg.Viewer.Output))
	}
	if level != 0 {
		cfg.Viewer.Level = level
		if err := config.Validate(cfg); err != nil {
			return err
		}
	}

	clientID = uuid.NewString()
	return nil
}
