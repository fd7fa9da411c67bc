// Package templates embeds the files written by "stepflow init".
package templates

import "embed"

//go:embed stepflow.yaml scenarios
var FS embed.FS
