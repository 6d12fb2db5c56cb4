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

package histogram

import (
	"errors"
	"testing"

	"github.com/grailbio/rnamap/bitvector"
	"github.com/grailbio/rnamap/encoding/alignment"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

const testSeq = "ACGTACGTAC"

func TestUpdate(t *testing.T) {
	h := New("ref", testSeq, "DMS")
	h.Update(bitvector.FromDense("00A0-0...."), 1)
	h.Update(bitvector.FromDense("..0C00G000"), 2)
	h.RecordSkip(bitvector.SkipLowMapQ)

	expect.EQ(t, h.NumReads, int64(3))
	expect.EQ(t, h.NumAligned, int64(2))
	expect.EQ(t, h.CovBases, []int64{1, 1, 2, 2, 2, 2, 1, 1, 1, 1})
	expect.EQ(t, h.InfoBases, []int64{1, 1, 2, 2, 2, 2, 1, 1, 1, 1})
	expect.EQ(t, h.MutBases, []int64{0, 0, 1, 1, 0, 0, 1, 0, 0, 0})
	expect.EQ(t, h.DelBases, []int64{0, 0, 0, 0, 1, 0, 0, 0, 0, 0})
	expect.EQ(t, h.ModBases[BaseA], []int64{0, 0, 1, 0, 0, 0, 0, 0, 0, 0})
	expect.EQ(t, h.ModBases[BaseC], []int64{0, 0, 0, 1, 0, 0, 0, 0, 0, 0})
	expect.EQ(t, h.ModBases[BaseG], []int64{0, 0, 0, 0, 0, 0, 1, 0, 0, 0})
	expect.EQ(t, h.NumOfMutations, []int64{0, 1, 1})
	expect.EQ(t, h.Skips, map[string]int64{"low_mapq": 1})
	expect.EQ(t, h.NumSkipped(), int64(1))
}

func TestUpdateCoverageIncludesNoInfo(t *testing.T) {
	cfg := bitvector.DefaultConfig
	cfg.QScoreCutoff = 20
	rec := &alignment.Record{
		QueryName: "read",
		RefName:   "ref",
		Pos:       1,
		MapQ:      40,
		Cigar:     "5M",
		Seq:       "ACATA",
		Qual:      []byte{40, 40, 5, 40, 40},
	}
	bv, err := bitvector.NewDecoder(cfg).Decode(rec, "ACGTA")
	assert.NoError(t, err)
	expect.EQ(t, bv.Get(3), bitvector.NoInfo)

	h := New("ref", "ACGTA", "DMS")
	h.Update(bv, bv.NumMutations())
	expect.EQ(t, h.CovBases, []int64{1, 1, 1, 1, 1})
	expect.EQ(t, h.InfoBases, []int64{1, 1, 0, 1, 1})
	expect.EQ(t, h.MutBases, []int64{0, 0, 0, 0, 0})

	// An explicit '.' is covered but not informative; an absent position is
	// neither.
	h = New("ref", "ACGT", "DMS")
	h.Update(bitvector.BitVector{1: '0', 2: '.', 3: '-'}, 0)
	expect.EQ(t, h.CovBases, []int64{1, 1, 1, 0})
	expect.EQ(t, h.InfoBases, []int64{1, 0, 1, 0})
	expect.EQ(t, h.DelBases, []int64{0, 0, 1, 0})
	expect.EQ(t, h.ReadCoverage(), []float64{1, 1, 1, 0})
}

func TestUpdateIgnoresOutOfRange(t *testing.T) {
	h := New("ref", "ACG", "DMS")
	h.Update(bitvector.BitVector{0: '0', 2: 'A', 4: '0'}, 1)
	expect.EQ(t, h.CovBases, []int64{0, 1, 0})
	expect.EQ(t, h.MutBases, []int64{0, 1, 0})
}

func testHistograms() []*Histogram {
	a := New("ref", testSeq, "DMS")
	a.Update(bitvector.FromDense("00A0-0...."), 1)
	a.RecordSkip(bitvector.SkipLowCoverage)
	b := New("ref", testSeq, "DMS")
	b.Update(bitvector.FromDense("0000000000"), 0)
	b.Update(bitvector.FromDense("A0C0G0T0A0"), 5)
	c := New("ref", testSeq, "DMS")
	c.RecordSkip(bitvector.SkipTooManyMutations)
	c.RecordSkip(bitvector.SkipLowCoverage)
	c.Update(bitvector.FromDense(".....0000-"), 0)
	return []*Histogram{a, b, c}
}

func TestMergeAssociativeCommutative(t *testing.T) {
	h := testHistograms()

	// (a+b)+c
	left := h[0].Clone()
	assert.NoError(t, left.Merge(h[1]))
	assert.NoError(t, left.Merge(h[2]))

	// a+(b+c)
	bc := h[1].Clone()
	assert.NoError(t, bc.Merge(h[2]))
	right := h[0].Clone()
	assert.NoError(t, right.Merge(bc))

	// (c+a)+b
	other := h[2].Clone()
	assert.NoError(t, other.Merge(h[0]))
	assert.NoError(t, other.Merge(h[1]))

	expect.EQ(t, left, right)
	expect.EQ(t, left, other)
	expect.EQ(t, left.NumReads, int64(7))
	expect.EQ(t, left.NumAligned, int64(4))
	expect.EQ(t, left.NumOfMutations, []int64{2, 1, 0, 0, 0, 1})
	expect.EQ(t, left.Skips, map[string]int64{"low_coverage": 2, "too_many_mutations": 1})
}

func TestMergeMismatch(t *testing.T) {
	h := New("ref", testSeq, "DMS")
	h.Update(bitvector.FromDense("00A0000000"), 1)
	before := h.Clone()
	for _, o := range []*Histogram{
		New("other", testSeq, "DMS"),
		New("ref", "ACGTACGTAA", "DMS"),
		New("ref", testSeq, "CMCT"),
	} {
		err := h.Merge(o)
		assert.True(t, errors.Is(err, ErrReferenceMismatch))
		expect.EQ(t, h, before)
	}
}

func TestCloneIsDeep(t *testing.T) {
	h := New("ref", testSeq, "DMS")
	c := h.Clone()
	c.Update(bitvector.FromDense("A000000000"), 1)
	c.RecordSkip(bitvector.SkipLowMapQ)
	expect.EQ(t, h.MutBases[0], int64(0))
	expect.EQ(t, h.ModBases[BaseA][0], int64(0))
	expect.EQ(t, len(h.Skips), 0)
	expect.EQ(t, len(h.NumOfMutations), 0)
}

func TestStatistics(t *testing.T) {
	h := New("ref", "ACGU", "DMS")
	h.Update(bitvector.FromDense("A000"), 1)
	h.Update(bitvector.FromDense("0-0A"), 1)
	h.Update(bitvector.FromDense("00.."), 0)
	h.Update(bitvector.FromDense("C00C"), 2)

	expect.EQ(t, h.PopAvg(false), []float64{0.5, 0, 0, 0.66667})
	expect.EQ(t, h.PopAvg(true), []float64{0.5, 0.25, 0, 0.66667})
	expect.EQ(t, h.ReadCoverage(), []float64{1, 1, 0.75, 0.75})
	expect.EQ(t, h.PercentMutations(), [5]float64{25, 50, 25, 0, 0})
	// AC: 2 mutations over 2 positions; GU: 2 over 2.
	expect.EQ(t, h.SignalToNoise(), 1.0)

	h.Update(bitvector.FromDense("AA00"), 2)
	h.Update(bitvector.FromDense("AA00"), 2)
	expect.EQ(t, h.PercentMutations(), [5]float64{16.67, 33.33, 50, 0, 0})
	// AC: 6 over 2; GU: 2 over 2.
	expect.EQ(t, h.SignalToNoise(), 3.0)
}

func TestPercentMutationsOverflowBucket(t *testing.T) {
	h := New("ref", "ACGTACGT", "DMS")
	h.Update(bitvector.FromDense("AAAA0000"), 4)
	h.Update(bitvector.FromDense("AAAAAAA0"), 7)
	h.Update(bitvector.FromDense("00000000"), 0)
	expect.EQ(t, h.PercentMutations(), [5]float64{33.33, 0, 0, 0, 66.67})
}

func TestStatisticsEmpty(t *testing.T) {
	h := New("ref", "ACGT", "DMS")
	expect.EQ(t, h.PopAvg(true), []float64{0, 0, 0, 0})
	expect.EQ(t, h.ReadCoverage(), []float64{0, 0, 0, 0})
	expect.EQ(t, h.PercentMutations(), [5]float64{})
	expect.EQ(t, h.SignalToNoise(), 0.0)
}
