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
	"math"
	"strconv"
)

// CIGAR operation codes.
const (
	CigarMatch     byte = 'M'
	CigarInsertion byte = 'I'
	CigarDeletion  byte = 'D'
	CigarSkipped   byte = 'N'
	CigarSoftClip  byte = 'S'
	CigarHardClip  byte = 'H'
	CigarPadded    byte = 'P'
	CigarEqual     byte = '='
	CigarMismatch  byte = 'X'
)

// CigarOp is one run of a CIGAR string.
type CigarOp struct {
	Len  int
	Type byte
}

func (op CigarOp) String() string {
	return strconv.Itoa(op.Len) + string(op.Type)
}

// consumesRead reports whether op advances the read position.
func consumesRead(t byte) bool {
	switch t {
	case CigarMatch, CigarInsertion, CigarSoftClip, CigarEqual, CigarMismatch:
		return true
	}
	return false
}

// consumesRef reports whether op advances the reference position.
func consumesRef(t byte) bool {
	switch t {
	case CigarMatch, CigarDeletion, CigarSkipped, CigarEqual, CigarMismatch:
		return true
	}
	return false
}

func validOp(c byte) bool {
	switch c {
	case CigarMatch, CigarInsertion, CigarDeletion, CigarSkipped, CigarSoftClip,
		CigarHardClip, CigarPadded, CigarEqual, CigarMismatch:
		return true
	}
	return false
}

// cigar scanner states.
const (
	stateOpStart = iota // expecting the first digit of a length
	stateLength         // inside a length, expecting a digit or an op code
)

// ParseCigar decodes cigar into its operations.  "" and "*" decode to an
// empty list.  seqLen is the read length that the read-consuming operations
// must add up to; it is not checked for an empty list.  Zero-length
// operations are dropped.  All failures wrap ErrMalformedCigar.
func ParseCigar(cigar string, seqLen int) ([]CigarOp, error) {
	if cigar == "" || cigar == "*" {
		return nil, nil
	}
	var (
		ops      []CigarOp
		state    = stateOpStart
		n        int
		readUsed int
	)
	for i := 0; i < len(cigar); i++ {
		c := cigar[i]
		switch state {
		case stateOpStart:
			if c < '0' || c > '9' {
				return nil, cigarErrorf(cigar, "missing length before %q at offset %d", c, i)
			}
			n = int(c - '0')
			state = stateLength
		case stateLength:
			if c >= '0' && c <= '9' {
				if n > (math.MaxInt32-int(c-'0'))/10 {
					return nil, cigarErrorf(cigar, "length overflow at offset %d", i)
				}
				n = n*10 + int(c-'0')
				continue
			}
			if !validOp(c) {
				return nil, cigarErrorf(cigar, "invalid operation %q at offset %d", c, i)
			}
			if n > 0 {
				ops = append(ops, CigarOp{Len: n, Type: c})
				if consumesRead(c) {
					readUsed += n
				}
			}
			state = stateOpStart
		}
	}
	if state != stateOpStart {
		return nil, cigarErrorf(cigar, "trailing length without operation")
	}
	if readUsed != seqLen {
		return nil, cigarErrorf(cigar, "consumes %d read bases, sequence has %d", readUsed, seqLen)
	}
	return ops, nil
}

// RefSpan returns the number of reference positions covered by ops.
func RefSpan(ops []CigarOp) int {
	n := 0
	for _, op := range ops {
		if consumesRef(op.Type) {
			n += op.Len
		}
	}
	return n
}
