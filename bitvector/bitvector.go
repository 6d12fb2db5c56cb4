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

// Package bitvector converts aligned reads into per-position bit vectors for
// chemical-probing (DMS-MaP) analysis.
//
// A bit vector maps 1-based reference positions to one of the following
// symbols:
//
//   '0'        the read confidently matches the reference
//   A, C, G, T the read confidently carries this base instead of the reference
//   '-'        the read has a deletion here
//   '.'        no information (uncovered, clipped, low quality or ambiguous)
//
// Positions absent from a BitVector are implicitly '.'.
package bitvector

import (
	"sort"
)

// Bit vector symbols.
const (
	Match     byte = '0'
	Deletion  byte = '-'
	NoInfo    byte = '.'
	MutationA byte = 'A'
	MutationC byte = 'C'
	MutationG byte = 'G'
	MutationT byte = 'T'
)

// IsMutation reports whether sym is a base-substitution symbol.
func IsMutation(sym byte) bool {
	switch sym {
	case MutationA, MutationC, MutationG, MutationT:
		return true
	}
	return false
}

// IsInformative reports whether sym is a confident call: a match, a mutation
// or a deletion.
func IsInformative(sym byte) bool {
	return sym == Match || sym == Deletion || IsMutation(sym)
}

// BitVector is a sparse map from 1-based reference position to symbol.
type BitVector map[int]byte

// Get returns the symbol at pos, NoInfo when absent.
func (bv BitVector) Get(pos int) byte {
	if sym, ok := bv[pos]; ok {
		return sym
	}
	return NoInfo
}

// Positions returns the keys of bv in increasing order.
func (bv BitVector) Positions() []int {
	pos := make([]int, 0, len(bv))
	for p := range bv {
		pos = append(pos, p)
	}
	sort.Ints(pos)
	return pos
}

// NumMutations returns the number of substitution symbols in bv.
func (bv BitVector) NumMutations() int {
	n := 0
	for _, sym := range bv {
		if IsMutation(sym) {
			n++
		}
	}
	return n
}

// Dense renders bv as a string of refLen symbols, position 1 first.
func (bv BitVector) Dense(refLen int) string {
	buf := make([]byte, refLen)
	for i := range buf {
		buf[i] = bv.Get(i + 1)
	}
	return string(buf)
}

// FromDense parses a string produced by Dense.  '.' positions are omitted.
func FromDense(s string) BitVector {
	bv := make(BitVector, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != NoInfo {
			bv[i+1] = s[i]
		}
	}
	return bv
}
