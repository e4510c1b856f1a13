// Package uiport exposes the bridge to a UI process over a byte stream.
//
// Two framings are supported:
//
//	lines   {"command":"input","data":"ihello<Esc>"}\n
//	frames  <uint32 little-endian length><JSON payload>
//
// The frames layout matches browser native messaging hosts.
package uiport
