// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package bitvector

import (
	"errors"
	"fmt"
)

// Per-read decoding failures.  Callers test for them with errors.Is; a read
// that fails with one of them is skipped and counted, never fatal.
var (
	// ErrMalformedCigar is returned for an invalid CIGAR operation, a
	// missing or non-positive length, or a read-consuming length that
	// disagrees with the read sequence.
	ErrMalformedCigar = errors.New("malformed CIGAR")
	// ErrCigarOverrun is returned when the CIGAR walk leaves the reference.
	ErrCigarOverrun = errors.New("CIGAR overruns reference")
	// ErrMalformedRecord is returned when SEQ and QUAL are unusable.
	ErrMalformedRecord = errors.New("malformed record")
)

func cigarErrorf(cigar string, format string, args ...interface{}) error {
	return fmt.Errorf("%w %q: %s", ErrMalformedCigar, cigar, fmt.Sprintf(format, args...))
}

// ReasonFor maps a decoding error to its skip reason.  It returns false for
// errors that are not per-read failures.
func ReasonFor(err error) (SkipReason, bool) {
	switch {
	case errors.Is(err, ErrMalformedCigar):
		return SkipMalformedCigar, true
	case errors.Is(err, ErrCigarOverrun):
		return SkipCigarOverrun, true
	case errors.Is(err, ErrMalformedRecord):
		return SkipMalformedRecord, true
	}
	return "", false
}
