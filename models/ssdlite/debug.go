package ssdlite

import (
	"io"
	"log"
)

var logger = log.New(io.Discard, "ssdlite: ", log.LstdFlags)

// SetLogger routes head construction diagnostics to l.
// A nil logger silences them.
func SetLogger(l *log.Logger) {
	if l == nil {
		l = log.New(io.Discard, "", 0)
	}
	logger = l
}

func logf(format string, args ...interface{}) {
	logger.Printf(format, args...)
}
