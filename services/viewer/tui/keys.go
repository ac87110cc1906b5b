// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tui

import "github.com/charmbracelet/bubbles/key"

// keyMap lists the keyboard controls. Pointer input covers selection,
// dragging and panning.
type keyMap struct {
	Folders   key.Binding
	Files     key.Binding
	All       key.Binding
	ZoomIn    key.Binding
	ZoomOut   key.Binding
	Fit       key.Binding
	ResetView key.Binding
	Clear     key.Binding
	Inspector key.Binding
	Retry     key.Binding
	Help      key.Binding
	Quit      key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Folders:   key.NewBinding(key.WithKeys("1"), key.WithHelp("1", "folders")),
		Files:     key.NewBinding(key.WithKeys("2"), key.WithHelp("2", "files")),
		All:       key.NewBinding(key.WithKeys("3"), key.WithHelp("3", "all")),
		ZoomIn:    key.NewBinding(key.WithKeys("+", "="), key.WithHelp("+", "zoom in")),
		ZoomOut:   key.NewBinding(key.WithKeys("-", "_"), key.WithHelp("-", "zoom out")),
		Fit:       key.NewBinding(key.WithKeys("f"), key.WithHelp("f", "fit")),
		ResetView: key.NewBinding(key.WithKeys("0"), key.WithHelp("0", "reset view")),
		Clear:     key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "clear selection")),
		Inspector: key.NewBinding(key.WithKeys("i"), key.WithHelp("i", "inspector")),
		Retry:     key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "retry")),
		Help:      key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "more keys")),
		Quit:      key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

// ShortHelp implements help.KeyMap.
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Folders, k.Files, k.All, k.Retry, k.Help, k.Quit}
}

// FullHelp implements help.KeyMap.
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Folders, k.Files, k.All},
		{k.ZoomIn, k.ZoomOut, k.Fit, k.ResetView},
		{k.Clear, k.Inspector, k.Retry},
		{k.Help, k.Quit},
	}
}
