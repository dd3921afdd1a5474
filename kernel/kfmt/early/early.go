// Package early re-exports kfmt.Printf under the name every other package in
// this tree expects during the earliest boot stages, before a console/TTY
// sink has been attached. kfmt.Printf already buffers its output in an
// internal ring buffer until SetOutputSink is called, so this package is a
// thin, documented alias rather than a second formatter implementation.
package early

import "nyx/kernel/kfmt"

// Printf formats according to a format specifier and writes to the current
// kfmt output sink (or the early ring buffer if none has been attached yet).
func Printf(format string, args ...interface{}) {
	kfmt.Printf(format, args...)
}
