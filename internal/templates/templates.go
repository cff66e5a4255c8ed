// Package templates embeds the email bodies.
package templates

import "embed"

// Email holds the layout and one content template per notice kind.
//
//go:embed email/*.html
var Email embed.FS
