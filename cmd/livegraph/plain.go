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
	"errors"
	"fmt"
	"math"

	"github.com/AleutianAI/livegraph/pkg/ux"
	"github.com/AleutianAI/livegraph/services/viewer/connection"
	"github.com/AleutianAI/livegraph/services/viewer/datatypes"
	"github.com/AleutianAI/livegraph/services/viewer/session"
)

// errAnalysisFailed is returned when the backend reports status "error".
var errAnalysisFailed = errors.New("analysis failed")

// plainPrinter turns session views into progress lines for pipes and
// scripts. It prints only what changed since the previous view.
//
// # Thread Safety
//
// Not safe for concurrent use. Feed it from one goroutine.
type plainPrinter struct {
	started  bool
	pct      float64
	message  string
	file     string
	phase    connection.Phase
	finished bool
}

// Print reports v. done is true once the analysis reached a terminal
// state; err is non-nil when that state is a failure.
func (p *plainPrinter) Print(v session.View) (done bool, err error) {
	if p.finished {
		return true, nil
	}
	if ph := v.Connection.Phase; ph != p.phase {
		p.phase = ph
		switch ph {
		case connection.PhaseReconnecting:
			ux.Warning(fmt.Sprintf("stream lost, reconnecting (attempt %d)", v.Connection.Attempt))
		case connection.PhaseOpen:
			ux.Info("stream open")
		}
	}

	if e := v.Err(); e != nil {
		p.finished = true
		ux.Error(e.Error())
		return true, e
	}

	snap := v.Status.Snapshot
	if snap == nil {
		return false, nil
	}
	switch snap.Status {
	case datatypes.StatusCompleted:
		p.finished = true
		ux.Success(fmt.Sprintf("analysis complete: %d nodes, %d edges", v.Nodes, v.Edges))
		return true, nil
	case datatypes.StatusError:
		p.finished = true
		e := errAnalysisFailed
		if snap.Error != "" {
			e = fmt.Errorf("%w: %s", errAnalysisFailed, snap.Error)
		}
		ux.Error(e.Error())
		return true, e
	}

	pct := math.Round(snap.Progress)
	if p.started && pct == p.pct && snap.Message == p.message && snap.CurrentFile == p.file {
		return false, nil
	}
	p.started = true
	p.pct, p.message, p.file = pct, snap.Message, snap.CurrentFile
	ux.Progress(pct, snap.Message, snap.CurrentFile)
	return false, nil
}
