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
	"fmt"
	"strings"
)

// StorageFormat selects the on-disk bit vector encoding.
type StorageFormat int

const (
	// FormatText writes one dense row per read, one file per reference.
	FormatText StorageFormat = iota
	// FormatJSON writes one sparse record per read into a single file.
	FormatJSON
)

func (f StorageFormat) String() string {
	switch f {
	case FormatText:
		return "text"
	case FormatJSON:
		return "json"
	}
	return fmt.Sprintf("StorageFormat(%d)", int(f))
}

// ParseStorageFormat parses "text" or "json", case-insensitively.
func ParseStorageFormat(s string) (StorageFormat, error) {
	switch strings.ToLower(s) {
	case "text", "txt":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	}
	return 0, fmt.Errorf("unknown storage format %q (want text or json)", s)
}

// Config holds the bit vector generation and filtering parameters.
type Config struct {
	// QScoreCutoff is the minimum phred score for a mismatch to be called as a
	// mutation.  Lower-quality mismatches become NoInfo.
	QScoreCutoff int
	// MapScoreCutoff is the minimum MAPQ; for a pair the lower of the two
	// mates is compared.
	MapScoreCutoff int
	// NumSurroundingBases is the number of aligned positions inspected on
	// each side of a deletion run by the ambiguity check.
	NumSurroundingBases int
	// MutationCountCutoff rejects reads with more mutations.  Negative
	// disables the check.
	MutationCountCutoff int
	// PercentLengthCutoff rejects reads whose informative fraction of the
	// reference length is lower.
	PercentLengthCutoff float64
	// MinMutationDistance rejects reads with two mutations closer than this
	// many positions.  Values <= 1 disable the check.
	MinMutationDistance int
	// StorageFormat selects the output encoding.
	StorageFormat StorageFormat
}

// DefaultConfig holds the default parameters.
var DefaultConfig = Config{
	QScoreCutoff:        25,
	MapScoreCutoff:      15,
	NumSurroundingBases: 10,
	MutationCountCutoff: 5,
	PercentLengthCutoff: 0.10,
	MinMutationDistance: 5,
	StorageFormat:       FormatText,
}

// Validate checks that the parameters are in range.
func (c Config) Validate() error {
	if c.QScoreCutoff < 0 {
		return fmt.Errorf("bitvector: negative qscore cutoff %d", c.QScoreCutoff)
	}
	if c.MapScoreCutoff < 0 {
		return fmt.Errorf("bitvector: negative map score cutoff %d", c.MapScoreCutoff)
	}
	if c.NumSurroundingBases < 0 {
		return fmt.Errorf("bitvector: negative number of surrounding bases %d", c.NumSurroundingBases)
	}
	if c.PercentLengthCutoff < 0 || c.PercentLengthCutoff > 1 {
		return fmt.Errorf("bitvector: percent length cutoff %v outside [0, 1]", c.PercentLengthCutoff)
	}
	if c.StorageFormat != FormatText && c.StorageFormat != FormatJSON {
		return fmt.Errorf("bitvector: bad storage format %v", c.StorageFormat)
	}
	return nil
}
