//go:build tools
// +build tools

// Package tools declares Go tool dependencies that aren't imported by any
// runtime package but are needed to regenerate generated sources.
package tools

import (
	_ "golang.org/x/lint/golint"
	_ "golang.org/x/tools/cmd/stringer"
)
