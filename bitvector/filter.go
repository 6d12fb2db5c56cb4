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
	"github.com/grailbio/rnamap/encoding/alignment"
	"github.com/willf/bitset"
)

// SkipReason tags a read or template that did not contribute to a histogram.
type SkipReason string

const (
	SkipLowMapQ           SkipReason = "low_mapq"
	SkipLowCoverage       SkipReason = "low_coverage"
	SkipTooManyMutations  SkipReason = "too_many_mutations"
	SkipMutationsTooClose SkipReason = "mutations_too_close"

	SkipUnmapped         SkipReason = "unmapped"
	SkipUnknownReference SkipReason = "unknown_reference"
	SkipMalformedCigar   SkipReason = "malformed_cigar"
	SkipCigarOverrun     SkipReason = "cigar_overrun"
	SkipMalformedRecord  SkipReason = "malformed_record"
	SkipSecondary        SkipReason = "secondary"
	SkipMateMismatch     SkipReason = "mate_mismatch"
)

// SkipReasons lists every reason in the order used by summary tables.
var SkipReasons = []SkipReason{
	SkipLowMapQ, SkipLowCoverage, SkipTooManyMutations, SkipMutationsTooClose,
	SkipUnmapped, SkipUnknownReference, SkipMalformedCigar, SkipCigarOverrun,
	SkipMalformedRecord, SkipSecondary, SkipMateMismatch,
}

// Filter decides whether a decoded template is kept.
type Filter struct {
	cfg Config
}

// NewFilter returns a Filter for cfg.
func NewFilter(cfg Config) *Filter {
	return &Filter{cfg: cfg}
}

// Check applies, in order, the mapping quality, coverage, mutation count and
// mutation spacing tests to bv, the (merged) bit vector of reads on a
// reference of length refLen.  It returns the first failing reason, or
// ok=true.
func (f *Filter) Check(bv BitVector, refLen int, reads ...*alignment.Record) (reason SkipReason, ok bool) {
	for _, r := range reads {
		if r.MapQ < f.cfg.MapScoreCutoff {
			return SkipLowMapQ, false
		}
	}
	var (
		nInfo int
		nMut  int
		muts  = bitset.New(uint(refLen + 1))
	)
	for pos, sym := range bv {
		if sym != NoInfo {
			nInfo++
		}
		if IsMutation(sym) {
			nMut++
			muts.Set(uint(pos))
		}
	}
	if refLen == 0 || float64(nInfo)/float64(refLen) < f.cfg.PercentLengthCutoff {
		return SkipLowCoverage, false
	}
	if f.cfg.MutationCountCutoff >= 0 && nMut > f.cfg.MutationCountCutoff {
		return SkipTooManyMutations, false
	}
	if f.cfg.MinMutationDistance > 1 && nMut > 1 && tooClose(muts, uint(f.cfg.MinMutationDistance)) {
		return SkipMutationsTooClose, false
	}
	return "", true
}

// tooClose reports whether two consecutive set bits are less than dist apart.
func tooClose(muts *bitset.BitSet, dist uint) bool {
	prev, ok := muts.NextSet(0)
	if !ok {
		return false
	}
	for {
		next, ok := muts.NextSet(prev + 1)
		if !ok {
			return false
		}
		if next-prev < dist {
			return true
		}
		prev = next
	}
}
