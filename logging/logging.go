// Package logging provides the single stdlib-backed logger constructor
// every long-lived component in this repo takes at construction time.
package logging

import (
	"log"
	"os"
)

// New opens (or creates) the file at path in append mode and wraps it in a
// *log.Logger with the flag set this codebase's components have always
// used: date, time, microseconds, and the call site.
func New(path string) (*log.Logger, error) {
	logFile, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0660)
	if err != nil {
		return nil, err
	}
	return log.New(logFile, "", log.Ldate|log.Ltime|log.Lmicroseconds|log.Lshortfile), nil
}
