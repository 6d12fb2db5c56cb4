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

// Package histogram accumulates per-reference mutation statistics from
// accepted bit vectors, and merges them across independently processed
// shards.
package histogram

import (
	"errors"
	"fmt"
	"math"

	"github.com/grailbio/rnamap/bitvector"
)

// ErrReferenceMismatch is returned when merging histograms built for
// different references.
var ErrReferenceMismatch = errors.New("histogram: reference mismatch")

// Base indexes ModBases.
type Base int

const (
	BaseA Base = iota
	BaseC
	BaseG
	BaseT
	NBase
)

var baseChars = [NBase]byte{'A', 'C', 'G', 'T'}

func (b Base) String() string { return string(baseChars[b]) }

func baseOf(sym byte) (Base, bool) {
	switch sym {
	case 'A':
		return BaseA, true
	case 'C':
		return BaseC, true
	case 'G':
		return BaseG, true
	case 'T', 'U':
		return BaseT, true
	}
	return 0, false
}

// Histogram holds the mutation statistics of one reference.  The
// per-position slices are indexed by position-1 and have the reference
// length.
type Histogram struct {
	Name     string
	Sequence string
	DataType string

	// NumReads counts every template attributed to the reference, accepted
	// or skipped.  NumAligned counts the accepted ones.
	NumReads   int64
	NumAligned int64

	MutBases  []int64
	InfoBases []int64
	DelBases  []int64
	CovBases  []int64
	// ModBases[b][i] counts mutations to base b at position i+1.
	ModBases [NBase][]int64

	Skips map[string]int64
	// NumOfMutations[k] counts accepted templates carrying k mutations.
	NumOfMutations []int64
}

// New returns an empty histogram for the given reference.
func New(name, seq, dataType string) *Histogram {
	n := len(seq)
	h := &Histogram{
		Name:      name,
		Sequence:  seq,
		DataType:  dataType,
		MutBases:  make([]int64, n),
		InfoBases: make([]int64, n),
		DelBases:  make([]int64, n),
		CovBases:  make([]int64, n),
		Skips:     map[string]int64{},
	}
	for b := range h.ModBases {
		h.ModBases[b] = make([]int64, n)
	}
	return h
}

// Len returns the reference length.
func (h *Histogram) Len() int { return len(h.Sequence) }

// Update adds an accepted bit vector carrying nMut mutations.  Every
// position present in bv counts as covered, including the NoInfo calls the
// decoder makes for low-quality, clipped or ambiguous bases; only the other
// symbols count as informative.  Positions outside the reference are
// ignored.
func (h *Histogram) Update(bv bitvector.BitVector, nMut int) {
	h.NumReads++
	h.NumAligned++
	n := h.Len()
	for pos, sym := range bv {
		if pos < 1 || pos > n {
			continue
		}
		i := pos - 1
		h.CovBases[i]++
		switch {
		case sym == bitvector.Match:
			h.InfoBases[i]++
		case sym == bitvector.Deletion:
			h.InfoBases[i]++
			h.DelBases[i]++
		case bitvector.IsMutation(sym):
			h.InfoBases[i]++
			h.MutBases[i]++
			if b, ok := baseOf(sym); ok {
				h.ModBases[b][i]++
			}
		}
	}
	if nMut < 0 {
		nMut = 0
	}
	for len(h.NumOfMutations) <= nMut {
		h.NumOfMutations = append(h.NumOfMutations, 0)
	}
	h.NumOfMutations[nMut]++
}

// RecordSkip counts a rejected template.
func (h *Histogram) RecordSkip(reason bitvector.SkipReason) {
	h.NumReads++
	h.Skips[string(reason)]++
}

// Merge adds the counts of o to h.  It fails, leaving h unchanged, when o
// describes a different reference.
func (h *Histogram) Merge(o *Histogram) error {
	switch {
	case h.Name != o.Name:
		return fmt.Errorf("%w: name %s vs %s", ErrReferenceMismatch, h.Name, o.Name)
	case h.Sequence != o.Sequence:
		return fmt.Errorf("%w: %s: sequences differ", ErrReferenceMismatch, h.Name)
	case h.DataType != o.DataType:
		return fmt.Errorf("%w: %s: data type %s vs %s", ErrReferenceMismatch, h.Name, h.DataType, o.DataType)
	}
	h.NumReads += o.NumReads
	h.NumAligned += o.NumAligned
	addInto(h.MutBases, o.MutBases)
	addInto(h.InfoBases, o.InfoBases)
	addInto(h.DelBases, o.DelBases)
	addInto(h.CovBases, o.CovBases)
	for b := range h.ModBases {
		addInto(h.ModBases[b], o.ModBases[b])
	}
	if h.Skips == nil {
		h.Skips = map[string]int64{}
	}
	for reason, n := range o.Skips {
		h.Skips[reason] += n
	}
	for len(h.NumOfMutations) < len(o.NumOfMutations) {
		h.NumOfMutations = append(h.NumOfMutations, 0)
	}
	addInto(h.NumOfMutations, o.NumOfMutations)
	return nil
}

func addInto(dst, src []int64) {
	for i, v := range src {
		dst[i] += v
	}
}

func cloneInts(s []int64) []int64 {
	if s == nil {
		return nil
	}
	return append([]int64(nil), s...)
}

// Clone returns a deep copy of h.
func (h *Histogram) Clone() *Histogram {
	c := &Histogram{
		Name:           h.Name,
		Sequence:       h.Sequence,
		DataType:       h.DataType,
		NumReads:       h.NumReads,
		NumAligned:     h.NumAligned,
		MutBases:       cloneInts(h.MutBases),
		InfoBases:      cloneInts(h.InfoBases),
		DelBases:       cloneInts(h.DelBases),
		CovBases:       cloneInts(h.CovBases),
		Skips:          make(map[string]int64, len(h.Skips)),
		NumOfMutations: cloneInts(h.NumOfMutations),
	}
	for b := range h.ModBases {
		c.ModBases[b] = cloneInts(h.ModBases[b])
	}
	for reason, n := range h.Skips {
		c.Skips[reason] = n
	}
	return c
}

// NumSkipped returns the number of rejected templates.
func (h *Histogram) NumSkipped() int64 {
	var n int64
	for _, v := range h.Skips {
		n += v
	}
	return n
}

func round(x float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(x*p) / p
}

// PopAvg returns the per-position mutation rate, mutations over informative
// calls, rounded to five places.  With incDel, deletions count as
// mutations.  Positions without informative calls are 0.
func (h *Histogram) PopAvg(incDel bool) []float64 {
	avg := make([]float64, h.Len())
	for i := range avg {
		if h.InfoBases[i] == 0 {
			continue
		}
		m := h.MutBases[i]
		if incDel {
			m += h.DelBases[i]
		}
		avg[i] = round(float64(m)/float64(h.InfoBases[i]), 5)
	}
	return avg
}

// ReadCoverage returns, per position, the fraction of attributed templates
// that covered it.
func (h *Histogram) ReadCoverage() []float64 {
	cov := make([]float64, h.Len())
	if h.NumReads == 0 {
		return cov
	}
	for i, c := range h.CovBases {
		cov[i] = round(float64(c)/float64(h.NumReads), 5)
	}
	return cov
}

// PercentMutations returns the percentage of accepted templates carrying
// 0, 1, 2, 3 and more than 3 mutations, rounded to two places.
func (h *Histogram) PercentMutations() [5]float64 {
	var pct [5]float64
	if h.NumAligned == 0 {
		return pct
	}
	for k, n := range h.NumOfMutations {
		bucket := k
		if bucket > 4 {
			bucket = 4
		}
		pct[bucket] += float64(n)
	}
	for i := range pct {
		pct[i] = round(pct[i]/float64(h.NumAligned)*100, 2)
	}
	return pct
}

// SignalToNoise returns the mutation rate at A and C positions over the
// rate at G and U/T positions, rounded to two places.  DMS modifies A and
// C; mutations elsewhere are background.  It is 0 when the reference has no
// G/U/T or no mutation at one.
func (h *Histogram) SignalToNoise() float64 {
	var acMut, acN, guMut, guN int64
	for i := 0; i < h.Len(); i++ {
		switch h.Sequence[i] {
		case 'A', 'C':
			acMut += h.MutBases[i]
			acN++
		case 'G', 'U', 'T':
			guMut += h.MutBases[i]
			guN++
		}
	}
	if acN == 0 || guN == 0 || guMut == 0 {
		return 0
	}
	ac := float64(acMut) / float64(acN)
	gu := float64(guMut) / float64(guN)
	return round(ac/gu, 2)
}
