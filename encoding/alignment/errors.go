package alignment

import (
	"errors"
	"fmt"
)

// ErrMalformedLine is wrapped by the errors a SAM reader returns for a line
// it cannot split into a record.  The line is consumed, so the caller may
// count it and keep reading.
var ErrMalformedLine = errors.New("malformed SAM line")

// IsMalformed reports whether err is a per-line parse failure.
func IsMalformed(err error) bool {
	return errors.Is(err, ErrMalformedLine)
}

func lineErrorf(lineNo int, format string, args ...interface{}) error {
	return fmt.Errorf("%w: line %d: %s", ErrMalformedLine, lineNo, fmt.Sprintf(format, args...))
}
