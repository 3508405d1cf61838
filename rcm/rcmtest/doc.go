// Package rcmtest provides the remote side and transport doubles for
// exercising rcm clients without a remote processor.
//
// Server is a small function server on a named queue. Loopback turns any
// transport into one where a named server echoes every packet back as its own
// reply. Instrumented wraps a transport to count calls, record how many
// goroutines block in a receive at the same time and inject failures.
package rcmtest
