// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package classifier maps a pasted blob of source code to a file type and a
// destination inside the deployed repository.
//
// The rules are heuristics over a few literal markers and two identifier
// patterns. Classify is total: unmatched input yields FileTypeUnknown with an
// empty destination, and the deployment orchestrator refuses to proceed
// without a path.
package classifier

import (
	"regexp"
	"strings"
)

// =============================================================================
// Types
// =============================================================================

// FileType is the tagged result of classification.
type FileType string

const (
	// FileTypeHTML is a standalone web page.
	FileTypeHTML FileType = "HTML"

	// FileTypeComponent is a UI component module. Writing one requires the
	// running frontend and backend to be restarted.
	FileTypeComponent FileType = "Component"

	// FileTypeUnknown is the fallback when no rule matched.
	FileTypeUnknown FileType = "unknown"
)

// Classification is the outcome of Classify.
//
// FileName and Path are either both set or both empty.
type Classification struct {
	FileType              FileType
	FileName              string
	Path                  string
	RequiresServerRestart bool
}

// HasDestination reports whether classification produced a target path.
func (c Classification) HasDestination() bool {
	return c.Path != ""
}

// =============================================================================
// Rules
// =============================================================================

const (
	htmlMarker      = "<html>"
	componentMarker = "import React"
	componentExt    = ".js"
	componentDir    = "components/"
)

// htmlDestination is a keyword-selected page.
type htmlDestination struct {
	keyword  string
	fileName string
	path     string
}

// htmlPages is searched in order; the first keyword found wins.
var htmlPages = []htmlDestination{
	{keyword: "game", fileName: "game.html", path: "html/game.html"},
	{keyword: "admin", fileName: "admin.html", path: "html/admin.html"},
}

var (
	constComponentPattern  = regexp.MustCompile(`const\s+([A-Z][a-zA-Z0-9]*)\s*=`)
	exportComponentPattern = regexp.MustCompile(`export\s+default\s+([A-Z][a-zA-Z0-9]*)`)
)

// Classify inspects content and returns its classification.
//
// # Description
//
// Rules are evaluated in order and the first match wins:
//
//  1. Content containing "<html>" is HTML. A keyword lookup ("game", then
//     "admin") picks a fixed file name and path.
//  2. Content containing "import React" is a Component. The identifier comes
//     from the first `const Name =` assignment, overridden by an
//     `export default Name` statement when present. The file is
//     "<Name>.js" under "components/".
//  3. Anything else is unknown.
//
// RequiresServerRestart is true exactly when the type is Component.
//
// # Examples
//
//	c := classifier.Classify("import React from 'react'\nconst Widget = () => null\nexport default Widget")
//	// c.FileName == "Widget.js", c.Path == "components/Widget.js"
func Classify(content string) Classification {
	result := Classification{FileType: FileTypeUnknown}

	switch {
	case strings.Contains(content, htmlMarker):
		result.FileType = FileTypeHTML
		for _, page := range htmlPages {
			if strings.Contains(content, page.keyword) {
				result.FileName = page.fileName
				result.Path = page.path
				break
			}
		}

	case strings.Contains(content, componentMarker):
		result.FileType = FileTypeComponent
		if name := componentName(content); name != "" {
			result.FileName = name + componentExt
			result.Path = componentDir + result.FileName
		}
	}

	result.RequiresServerRestart = result.FileType == FileTypeComponent
	return result
}

// componentName returns the exported component identifier, falling back to the
// first capitalized const assignment.
func componentName(content string) string {
	var name string
	if m := constComponentPattern.FindStringSubmatch(content); m != nil {
		name = m[1]
	}
	if m := exportComponentPattern.FindStringSubmatch(content); m != nil {
		name = m[1]
	}
	return name
}
