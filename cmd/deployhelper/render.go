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
	"strings"

	"github.com/AleutianAI/DeployHelper/pkg/ux"
	"github.com/AleutianAI/DeployHelper/services/relay/datatypes"
)

// renderMessage formats one relay message for the console. The result ends
// in a newline.
func renderMessage(p *ux.Printer, msg datatypes.OutputMessage) string {
	var b strings.Builder
	machine := p.Level == ux.PersonalityMachine

	switch msg.Type {
	case datatypes.MessageTypeConnected:
		if machine {
			b.WriteString("connected " + msg.SessionID + "\n")
		} else {
			b.WriteString(p.Style(ux.Styles.Subtitle, "Connected") + " " +
				p.Style(ux.Styles.Muted, "session "+msg.SessionID) + "\n")
		}

	case datatypes.MessageTypeError:
		if machine {
			b.WriteString("error " + msg.Message + "\n")
		} else {
			b.WriteString(p.Style(ux.Styles.Error, string(ux.IconError)+" "+msg.Message) + "\n")
		}

	default:
		if msg.Command == "" {
			// Deployment progress
			if machine {
				b.WriteString("progress " + msg.Output + "\n")
			} else {
				b.WriteString(p.Style(ux.Styles.Highlight, string(ux.IconArrow)) + " " + msg.Output + "\n")
			}
			break
		}

		if machine {
			b.WriteString("$ " + msg.Command + "\n")
		} else {
			b.WriteString(p.Style(ux.Styles.Muted, "$ "+msg.Command) + "\n")
		}
		if out := strings.TrimRight(msg.Output, "\n"); out != "" {
			b.WriteString(out + "\n")
		}
		if msg.Error != nil {
			if machine {
				b.WriteString("error " + *msg.Error + "\n")
			} else {
				b.WriteString(p.Style(ux.Styles.Error, string(ux.IconError)+" "+*msg.Error) + "\n")
			}
		}
	}
	return b.String()
}
