package asm

import _ "embed"

// preludeSource is the embedded runtime prelude: startup, loop and the
// output helpers. The full standard library is ordinary user input and is
// not part of the toolchain.
//
//go:embed prelude.fj
var preludeSource string

// PreludeFiles returns the built-in runtime sources, to be parsed before
// the user's files unless stdlib inclusion is disabled.
func PreludeFiles() []SourceFile {
	return []SourceFile{{Path: "<prelude>/runtime.fj", Text: preludeSource, Prelude: true}}
}
