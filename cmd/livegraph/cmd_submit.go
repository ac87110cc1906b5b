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
	"github.com/spf13/cobra"

	"github.com/AleutianAI/livegraph/pkg/ux"
	"github.com/AleutianAI/livegraph/services/viewer/datatypes"
)

func runSubmit(cmd *cobra.Command, args []string) error {
	logger, closeLog := newLogger(false)
	defer closeLog()

	be, err := newBackend(logger)
	if err != nil {
		return err
	}

	var resp *datatypes.SubmitResponse
	err = ux.WithSpinner("Submitting "+args[0], func() error {
		var serr error
		resp, serr = be.Submit(cmd.Context(), args[0], branch)
		return serr
	})
	if err != nil {
		return wrapf(err, "submit %s", args[0])
	}
	ux.KeyValue("session_id", resp.ID)
	ux.KeyValue("status", resp.Status)
	return nil
}
