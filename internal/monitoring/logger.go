// Package monitoring forwards calibrated readings to a coordinator service.
package monitoring

import "log"

// Logf is the package logger. It defaults to log.Printf; SetLogger replaces
// it so tests and main can redirect or mute coordinator chatter.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}
