package zoo

import (
	"io"
	"log"
)

var logger = log.New(io.Discard, "zoo: ", log.LstdFlags)

// SetLogger routes registry diagnostics (cache hits, downloads, loads) to l.
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
