package blimp

import _ "embed"

// DefaultDecoderScript contains the embedded example decoder.lua script,
// used when the Lua decoder is selected without a script path.
//
//go:embed examples/decoder.lua
var DefaultDecoderScript string
