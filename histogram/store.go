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
	"sort"

	"github.com/exascience/pargo/parallel"
	"github.com/google/uuid"
	"github.com/grailbio/rnamap/bitvector"
	"github.com/grailbio/rnamap/encoding/fasta"
)

// Store holds the histograms of one shard, or of several merged shards.
type Store struct {
	// Histos maps reference name to its histogram.
	Histos map[string]*Histogram
	// Unassigned counts templates that could not be attributed to any
	// reference, by skip reason.
	Unassigned map[string]int64
	// NumUnassigned is the sum of Unassigned.
	NumUnassigned int64
	// ShardIDs identifies the shards merged into the store, sorted.
	ShardIDs []string
}

// NewStore returns a store with an empty histogram per reference, tagged
// with a fresh shard ID.
func NewStore(refs []fasta.Reference, dataType string) *Store {
	s := &Store{
		Histos:     make(map[string]*Histogram, len(refs)),
		Unassigned: map[string]int64{},
		ShardIDs:   []string{uuid.New().String()},
	}
	for _, ref := range refs {
		s.Histos[ref.Name] = New(ref.Name, ref.Seq, dataType)
	}
	return s
}

// Get returns the histogram of the named reference, or nil.
func (s *Store) Get(name string) *Histogram { return s.Histos[name] }

// Names returns the reference names in sorted order.
func (s *Store) Names() []string {
	names := make([]string, 0, len(s.Histos))
	for name := range s.Histos {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RecordUnassigned counts a template with no attributable reference.
func (s *Store) RecordUnassigned(reason bitvector.SkipReason) {
	if s.Unassigned == nil {
		s.Unassigned = map[string]int64{}
	}
	s.Unassigned[string(reason)]++
	s.NumUnassigned++
}

// Clone returns a deep copy of s.
func (s *Store) Clone() *Store {
	c := &Store{
		Histos:        make(map[string]*Histogram, len(s.Histos)),
		Unassigned:    make(map[string]int64, len(s.Unassigned)),
		NumUnassigned: s.NumUnassigned,
		ShardIDs:      append([]string(nil), s.ShardIDs...),
	}
	for name, h := range s.Histos {
		c.Histos[name] = h.Clone()
	}
	for reason, n := range s.Unassigned {
		c.Unassigned[reason] = n
	}
	return c
}

// Merge adds o into s.  References present in only one store are carried
// over; o is not modified.  On ErrReferenceMismatch s is left partially
// merged and must be discarded.
func (s *Store) Merge(o *Store) error {
	if s.Histos == nil {
		s.Histos = map[string]*Histogram{}
	}
	for _, name := range o.Names() {
		oh := o.Histos[name]
		h, ok := s.Histos[name]
		if !ok {
			s.Histos[name] = oh.Clone()
			continue
		}
		if err := h.Merge(oh); err != nil {
			return err
		}
	}
	if s.Unassigned == nil {
		s.Unassigned = map[string]int64{}
	}
	for reason, n := range o.Unassigned {
		s.Unassigned[reason] += n
	}
	s.NumUnassigned += o.NumUnassigned
	s.ShardIDs = mergeIDs(s.ShardIDs, o.ShardIDs)
	return nil
}

func mergeIDs(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var ids []string
	for _, list := range [][]string{a, b} {
		for _, id := range list {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	sort.Strings(ids)
	return ids
}

type mergeResult struct {
	store *Store
	err   error
}

// MergeAll combines the given stores into a new one as a parallel
// reduction tree.  The inputs are not modified.  Since Merge is
// associative and commutative, the result does not depend on the shape of
// the tree.
func MergeAll(stores []*Store) (*Store, error) {
	if len(stores) == 0 {
		return &Store{Histos: map[string]*Histogram{}, Unassigned: map[string]int64{}}, nil
	}
	result := parallel.RangeReduce(0, len(stores), 0, func(low, high int) interface{} {
		acc := stores[low].Clone()
		for _, s := range stores[low+1 : high] {
			if err := acc.Merge(s); err != nil {
				return mergeResult{err: err}
			}
		}
		return mergeResult{store: acc}
	}, func(x, y interface{}) interface{} {
		r1, r2 := x.(mergeResult), y.(mergeResult)
		if r1.err != nil {
			return r1
		}
		if r2.err != nil {
			return r2
		}
		if err := r1.store.Merge(r2.store); err != nil {
			return mergeResult{err: err}
		}
		return r1
	}).(mergeResult)
	return result.store, result.err
}
