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

package bitvector_test

import (
	"errors"
	"testing"

	"github.com/grailbio/rnamap/bitvector"
	"github.com/grailbio/rnamap/encoding/alignment"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

// newRecord returns a record with uniform quality q.
func newRecord(pos int, cigar, seq string, q byte) *alignment.Record {
	qual := make([]byte, len(seq))
	for i := range qual {
		qual[i] = q
	}
	return &alignment.Record{
		QueryName: "read",
		RefName:   "ref",
		Pos:       pos,
		MapQ:      42,
		Cigar:     cigar,
		Seq:       seq,
		Qual:      qual,
	}
}

func TestDecode(t *testing.T) {
	cfg := bitvector.DefaultConfig
	cfg.QScoreCutoff = 20
	cfg.NumSurroundingBases = 2
	dec := bitvector.NewDecoder(cfg)

	lowQual := func(rec *alignment.Record, i int) *alignment.Record {
		rec.Qual[i] = 5
		return rec
	}
	tests := []struct {
		name string
		ref  string
		rec  *alignment.Record
		want bitvector.BitVector
	}{
		{
			"match",
			"ACGTA",
			newRecord(1, "5M", "ACGTA", 40),
			bitvector.BitVector{1: '0', 2: '0', 3: '0', 4: '0', 5: '0'},
		},
		{
			"mutation",
			"ACGTA",
			newRecord(1, "5M", "ACATA", 40),
			bitvector.BitVector{1: '0', 2: '0', 3: 'A', 4: '0', 5: '0'},
		},
		{
			"low quality mismatch",
			"ACGTA",
			lowQual(newRecord(1, "5M", "ACATA", 40), 2),
			bitvector.BitVector{1: '0', 2: '0', 3: '.', 4: '0', 5: '0'},
		},
		{
			"low quality match",
			"ACGTA",
			lowQual(newRecord(1, "5M", "ACGTA", 40), 2),
			bitvector.BitVector{1: '0', 2: '0', 3: '0', 4: '0', 5: '0'},
		},
		{
			"read N",
			"ACGTA",
			newRecord(2, "3=", "CNT", 40),
			bitvector.BitVector{2: '0', 3: '.', 4: '0'},
		},
		{
			"U equals T",
			"ACGU",
			newRecord(1, "4M", "ACGT", 40),
			bitvector.BitVector{1: '0', 2: '0', 3: '0', 4: '0'},
		},
		{
			"deletion",
			"ACGTAC",
			newRecord(1, "3M1D2M", "ACGAC", 40),
			bitvector.BitVector{1: '0', 2: '0', 3: '0', 4: '-', 5: '0', 6: '0'},
		},
		{
			"deletion next to low quality mismatch",
			"ACGTAC",
			lowQual(newRecord(1, "3M1D2M", "ACAAC", 40), 2),
			bitvector.BitVector{1: '0', 2: '0', 3: '.', 4: '.', 5: '0', 6: '0'},
		},
		{
			"deletion next to mutation",
			"ACGTAC",
			newRecord(1, "3M2D1X", "ACGG", 40),
			bitvector.BitVector{1: '0', 2: '0', 3: '0', 4: '.', 5: '.', 6: 'G'},
		},
		{
			// Window of 2 on the right covers positions 3 and 4 only, and the
			// left window is truncated at the start of the read.
			"mutation outside window",
			"ACGTAC",
			newRecord(1, "1M1D4M", "AGTAG", 40),
			bitvector.BitVector{1: '0', 2: '-', 3: '0', 4: '0', 5: '0', 6: 'G'},
		},
		{
			"mutation at window edge",
			"ACGTAC",
			newRecord(1, "1M1D4M", "AGAAC", 40),
			bitvector.BitVector{1: '0', 2: '.', 3: '0', 4: 'A', 5: '0', 6: '0'},
		},
		{
			"deletion without flanks",
			"ACGTAC",
			newRecord(2, "2D", "", 40),
			bitvector.BitVector{2: '-', 3: '-'},
		},
		{
			"skipped region",
			"ACGTACGT",
			newRecord(1, "2M3N3M", "ACCGT", 40),
			bitvector.BitVector{1: '0', 2: '0', 3: '-', 4: '-', 5: '-', 6: '0', 7: '0', 8: '0'},
		},
		{
			"insertion",
			"ACGTA",
			newRecord(1, "2M1I3M", "ACTGTA", 40),
			bitvector.BitVector{1: '0', 2: '0', 3: '0', 4: '0', 5: '0'},
		},
		{
			"soft clips",
			"ACGTACGT",
			newRecord(3, "2S3M2S", "TTGTAAA", 40),
			bitvector.BitVector{3: '0', 4: '0', 5: '0', 6: '.', 7: '.'},
		},
		{
			"soft clip before hard clip",
			"ACGTACGT",
			newRecord(3, "3H3M2S4H", "GTAAA", 40),
			bitvector.BitVector{3: '0', 4: '0', 5: '0', 6: '.', 7: '.'},
		},
		{
			"soft clip past reference end",
			"ACGTACGT",
			newRecord(6, "3M2S", "CGTAA", 40),
			bitvector.BitVector{6: '0', 7: '0', 8: '0'},
		},
		{
			"padding",
			"ACGTA",
			newRecord(1, "2M1P3M", "ACGTA", 40),
			bitvector.BitVector{1: '0', 2: '0', 3: '0', 4: '0', 5: '0'},
		},
		{
			"unmapped",
			"ACGTA",
			newRecord(0, "*", "ACGTA", 40),
			bitvector.BitVector{},
		},
	}
	for _, tt := range tests {
		got, err := dec.Decode(tt.rec, tt.ref)
		assert.NoError(t, err, tt.name)
		expect.EQ(t, got, tt.want, tt.name)
	}
}

func TestDecodeQualityGating(t *testing.T) {
	cfg := bitvector.DefaultConfig
	cfg.QScoreCutoff = 20
	dec := bitvector.NewDecoder(cfg)
	rec := newRecord(1, "5M", "ACATA", 40)
	rec.Qual = []byte{40, 40, 5, 40, 40}
	bv, err := dec.Decode(rec, "ACGTA")
	assert.NoError(t, err)
	expect.EQ(t, bv[3], bitvector.NoInfo)
	expect.EQ(t, bv.NumMutations(), 0)

	// At the cutoff the mismatch is called.
	rec.Qual[2] = 20
	bv, err = dec.Decode(rec, "ACGTA")
	assert.NoError(t, err)
	expect.EQ(t, bv[3], bitvector.MutationA)
}

func TestDecodeDeterministic(t *testing.T) {
	dec := bitvector.NewDecoder(bitvector.DefaultConfig)
	rec := newRecord(2, "2S4M2D3M1I2M", "TTCGAAGTGGCT", 30)
	ref := "ACGTACGTACGTAC"
	first, err := dec.Decode(rec, ref)
	assert.NoError(t, err)
	for i := 0; i < 10; i++ {
		got, err := dec.Decode(rec, ref)
		assert.NoError(t, err)
		assert.EQ(t, got, first)
	}
}

func TestDecodeErrors(t *testing.T) {
	dec := bitvector.NewDecoder(bitvector.DefaultConfig)
	tests := []struct {
		name   string
		rec    *alignment.Record
		target error
		reason bitvector.SkipReason
	}{
		{"past end", newRecord(4, "3M", "GTA", 40), bitvector.ErrCigarOverrun, bitvector.SkipCigarOverrun},
		{"deletion past end", newRecord(4, "1M2D", "G", 40), bitvector.ErrCigarOverrun, bitvector.SkipCigarOverrun},
		{"position zero", newRecord(0, "3M", "ACG", 40), bitvector.ErrCigarOverrun, bitvector.SkipCigarOverrun},
		{"bad op", newRecord(1, "3Z", "ACG", 40), bitvector.ErrMalformedCigar, bitvector.SkipMalformedCigar},
		{"length mismatch", newRecord(1, "4M", "ACG", 40), bitvector.ErrMalformedCigar, bitvector.SkipMalformedCigar},
		{"no qualities", &alignment.Record{Pos: 1, Cigar: "3M", Seq: "ACG"}, bitvector.ErrMalformedRecord, bitvector.SkipMalformedRecord},
	}
	for _, tt := range tests {
		bv, err := dec.Decode(tt.rec, "ACGTA")
		expect.Nil(t, bv, tt.name)
		expect.True(t, errors.Is(err, tt.target), "%s: %v", tt.name, err)
		reason, ok := bitvector.ReasonFor(err)
		expect.True(t, ok, tt.name)
		expect.EQ(t, reason, tt.reason, tt.name)
	}
	_, ok := bitvector.ReasonFor(errors.New("other"))
	expect.False(t, ok)
}

func TestDenseRoundTrip(t *testing.T) {
	bv := bitvector.BitVector{2: '0', 3: 'C', 4: '-', 6: '0'}
	dense := bv.Dense(7)
	expect.EQ(t, dense, ".0C-.0.")
	expect.EQ(t, bitvector.FromDense(dense), bv)
	expect.EQ(t, bv.Positions(), []int{2, 3, 4, 6})
	expect.EQ(t, bv.Get(5), bitvector.NoInfo)
}
