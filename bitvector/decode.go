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

	"github.com/grailbio/rnamap/encoding/alignment"
)

// Decoder converts single alignment records into bit vectors.  A Decoder
// holds no mutable state and may be shared between goroutines.
type Decoder struct {
	cfg Config
}

// NewDecoder returns a Decoder using the quality cutoff and deletion window
// of cfg.
func NewDecoder(cfg Config) *Decoder {
	return &Decoder{cfg: cfg}
}

// deletionRun is a D or N operation, recorded for the ambiguity check once
// the whole read has been walked.  nAlignedBefore is the number of aligned
// (M, =, X) positions visited before the run.
type deletionRun struct {
	start, end     int
	nAlignedBefore int
}

// Decode walks rec's CIGAR against ref, the upper-cased sequence of the
// reference rec is aligned to.  An unmapped CIGAR ("*" or "") yields an
// empty BitVector.
//
// Decode fails with ErrMalformedCigar, ErrMalformedRecord or
// ErrCigarOverrun; the caller is expected to skip the read in each case.
func (d *Decoder) Decode(rec *alignment.Record, ref string) (BitVector, error) {
	ops, err := ParseCigar(rec.Cigar, len(rec.Seq))
	if err != nil {
		return nil, err
	}
	bv := BitVector{}
	if len(ops) == 0 {
		return bv, nil
	}
	if len(rec.Qual) != len(rec.Seq) {
		return nil, fmt.Errorf("%w: read %s has %d bases and %d qualities",
			ErrMalformedRecord, rec.QueryName, len(rec.Seq), len(rec.Qual))
	}
	refLen := len(ref)
	overrun := func(pos int) error {
		return fmt.Errorf("%w: read %s, CIGAR %s reaches position %d, reference length %d",
			ErrCigarOverrun, rec.QueryName, rec.Cigar, pos, refLen)
	}

	var (
		refPos  = rec.Pos
		readPos = 0
		aligned []int
		runs    []deletionRun
		lastOp  = len(ops) - 1
	)
	for lastOp > 0 && ops[lastOp].Type == CigarHardClip {
		lastOp--
	}
	for i, op := range ops {
		switch op.Type {
		case CigarMatch, CigarEqual, CigarMismatch:
			if refPos < 1 || refPos+op.Len-1 > refLen {
				return nil, overrun(refPos + op.Len - 1)
			}
			for k := 0; k < op.Len; k++ {
				bv[refPos] = d.call(rec.Seq[readPos], ref[refPos-1], rec.Qual[readPos])
				aligned = append(aligned, refPos)
				refPos++
				readPos++
			}
		case CigarDeletion, CigarSkipped:
			if refPos < 1 || refPos+op.Len-1 > refLen {
				return nil, overrun(refPos + op.Len - 1)
			}
			runs = append(runs, deletionRun{start: refPos, end: refPos + op.Len - 1, nAlignedBefore: len(aligned)})
			for k := 0; k < op.Len; k++ {
				bv[refPos] = Deletion
				refPos++
			}
		case CigarInsertion:
			readPos += op.Len
		case CigarSoftClip:
			readPos += op.Len
			// Only a 3' clip lies over reference positions that the read would
			// have covered; the walk does not advance past them.
			if i == lastOp && i > 0 {
				for p := refPos; p < refPos+op.Len && p <= refLen; p++ {
					if p >= 1 {
						bv[p] = NoInfo
					}
				}
			}
		case CigarHardClip, CigarPadded:
		}
	}
	d.resolveDeletions(bv, aligned, runs)
	return bv, nil
}

// call classifies one aligned base.
func (d *Decoder) call(readBase, refBase, qual byte) byte {
	if sameBase(readBase, refBase) {
		return Match
	}
	if refBase == 'N' || int(qual) < d.cfg.QScoreCutoff {
		return NoInfo
	}
	switch readBase {
	case 'A', 'C', 'G':
		return readBase
	case 'T', 'U':
		return MutationT
	}
	return NoInfo
}

// sameBase compares two bases, treating U and T as equal.  N never matches.
func sameBase(a, b byte) bool {
	if a == 'U' {
		a = 'T'
	}
	if b == 'U' {
		b = 'T'
	}
	return a == b && a != 'N'
}

// resolveDeletions turns a deletion run into NoInfo when any of the up to
// NumSurroundingBases aligned positions on either side of it carries a
// mutation or NoInfo.  The windows stop at the read's aligned ends.
func (d *Decoder) resolveDeletions(bv BitVector, aligned []int, runs []deletionRun) {
	n := d.cfg.NumSurroundingBases
	for _, run := range runs {
		lo := run.nAlignedBefore - n
		if lo < 0 {
			lo = 0
		}
		hi := run.nAlignedBefore + n
		if hi > len(aligned) {
			hi = len(aligned)
		}
		ambiguous := false
		for _, p := range aligned[lo:hi] {
			if sym := bv[p]; sym == NoInfo || IsMutation(sym) {
				ambiguous = true
				break
			}
		}
		if ambiguous {
			for p := run.start; p <= run.end; p++ {
				bv[p] = NoInfo
			}
		}
	}
}
