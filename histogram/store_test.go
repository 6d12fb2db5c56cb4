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
	"fmt"
	"testing"

	"github.com/grailbio/rnamap/bitvector"
	"github.com/grailbio/rnamap/encoding/fasta"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

var testRefs = []fasta.Reference{
	{Name: "ref1", Seq: "ACGTACGTAC"},
	{Name: "ref2", Seq: "GGGAAACCCU"},
}

// testStores returns n stores with deterministic but varied content.
func testStores(n int) []*Store {
	stores := make([]*Store, n)
	for i := range stores {
		s := NewStore(testRefs, "DMS")
		for j := 0; j <= i%4; j++ {
			s.Get("ref1").Update(bitvector.FromDense("00A0-0...."), 1)
		}
		if i%3 == 0 {
			s.Get("ref2").Update(bitvector.FromDense("0000000000"), 0)
			s.Get("ref2").RecordSkip(bitvector.SkipMutationsTooClose)
		}
		if i%2 == 1 {
			s.RecordUnassigned(bitvector.SkipUnmapped)
		}
		if i == n-1 {
			// A reference seen by only one shard.
			extra := New(fmt.Sprintf("extra%d", i), "ACGU", "DMS")
			extra.Update(bitvector.FromDense("0C00"), 1)
			s.Histos[extra.Name] = extra
		}
		stores[i] = s
	}
	return stores
}

func TestMergeAll(t *testing.T) {
	for _, n := range []int{1, 2, 3, 7, 16} {
		stores := testStores(n)
		snapshot := make([]*Store, n)
		for i, s := range stores {
			snapshot[i] = s.Clone()
		}

		merged, err := MergeAll(stores)
		assert.NoError(t, err)

		// Sequential left fold.
		want := stores[0].Clone()
		for _, s := range stores[1:] {
			assert.NoError(t, want.Merge(s))
		}
		expect.EQ(t, merged, want)

		// Reversed input order.
		reversed := make([]*Store, n)
		for i, s := range stores {
			reversed[n-1-i] = s
		}
		merged2, err := MergeAll(reversed)
		assert.NoError(t, err)
		expect.EQ(t, merged2, merged)

		// Inputs are left alone.
		expect.EQ(t, stores, snapshot)

		expect.EQ(t, len(merged.ShardIDs), n)
		var reads int64
		for i := 0; i < n; i++ {
			reads += int64(i%4 + 1)
		}
		expect.EQ(t, merged.Get("ref1").NumReads, reads)
		expect.EQ(t, merged.NumUnassigned, int64(n/2))
		expect.EQ(t, merged.Get(fmt.Sprintf("extra%d", n-1)).NumAligned, int64(1))
	}
}

func TestMergeAllEmpty(t *testing.T) {
	s, err := MergeAll(nil)
	assert.NoError(t, err)
	expect.EQ(t, len(s.Histos), 0)
	expect.EQ(t, s.NumUnassigned, int64(0))
}

func TestMergeAllMismatch(t *testing.T) {
	stores := testStores(4)
	bad := NewStore([]fasta.Reference{{Name: "ref1", Seq: "ACGTACGTAA"}}, "DMS")
	stores = append(stores, bad)
	_, err := MergeAll(stores)
	expect.True(t, errors.Is(err, ErrReferenceMismatch))
}

func TestNewStore(t *testing.T) {
	a := NewStore(testRefs, "DMS")
	b := NewStore(testRefs, "DMS")
	expect.EQ(t, a.Names(), []string{"ref1", "ref2"})
	expect.EQ(t, a.Get("ref2").Len(), 10)
	expect.True(t, a.Get("missing") == nil)
	assert.EQ(t, len(a.ShardIDs), 1)
	expect.True(t, a.ShardIDs[0] != b.ShardIDs[0])
}
