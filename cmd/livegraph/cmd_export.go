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
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/livegraph/pkg/logging"
	"github.com/AleutianAI/livegraph/pkg/ux"
	"github.com/AleutianAI/livegraph/services/viewer/datatypes"
	"github.com/AleutianAI/livegraph/services/viewer/graph"
	"github.com/AleutianAI/livegraph/services/viewer/layout"
	"github.com/AleutianAI/livegraph/services/viewer/session"
	"github.com/AleutianAI/livegraph/services/viewer/visualization"
)

func runExport(cmd *cobra.Command, args []string) error {
	format, err := visualization.ParseFormat(exportFormat)
	if err != nil {
		return err
	}
	if exportTicks < 0 {
		return fmt.Errorf("--ticks must not be negative, got %d", exportTicks)
	}

	logger, closeLog := newLogger(false)
	defer closeLog()
	be, err := newBackend(logger)
	if err != nil {
		return err
	}

	var out string
	err = ux.WithSpinner("Laying out "+args[0], func() error {
		var xerr error
		out, xerr = exportGraph(cmd.Context(), be, args[0], format, logger)
		return xerr
	})
	if err != nil {
		return err
	}

	if exportOut == "" {
		_, err = io.WriteString(os.Stdout, out)
		return err
	}
	if err := os.WriteFile(exportOut, []byte(out), 0o644); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	ux.Success("wrote " + exportOut)
	return nil
}

// exportGraph settles the layout of one analysis offline and renders it.
// A completed analysis contributes its full graph as well.
func exportGraph(ctx context.Context, be session.Backend, id string, format visualization.OutputFormat, logger *logging.Logger) (string, error) {
	snap, err := be.FetchSnapshot(ctx, id)
	if err != nil {
		return "", wrapf(err, "fetch %s", id)
	}
	model := graph.NewModel(logger)
	if _, err := model.Apply(ctx, snap); err != nil {
		return "", err
	}
	if snap.Status == datatypes.StatusCompleted {
		flat, err := be.FetchGraph(ctx, id, graph.LevelAll)
		if err != nil {
			logger.Warn("full graph unavailable, exporting the structure", "session_id", id, "error", err)
		} else {
			model.ApplyGraph(graph.BuildFlat(flat))
		}
	}

	scfg := cfg.SessionConfig(clientID)
	engine := layout.NewEngine(scfg.Layout, nil, logger)
	engine.SetGraph(model.Graph(scfg.Level))
	frame := engine.RunTicks(exportTicks)
	return visualization.NewGraphGenerator(nil).Generate(ctx, &frame, format)
}
