package backbone

import (
	"io"
	"log"
)

var logger = log.New(io.Discard, "backbone: ", log.LstdFlags)

// SetLogger routes construction diagnostics to l.
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
