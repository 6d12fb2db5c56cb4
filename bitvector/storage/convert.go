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

package storage

import (
	"context"
	"fmt"
	"hash"
	"sort"
	"strconv"

	"blainsmith.com/go/seahash"
	"github.com/grailbio/base/log"
	"github.com/grailbio/rnamap/bitvector"
	"github.com/grailbio/rnamap/encoding/fasta"
)

// ConvertOpts configures Convert.
type ConvertOpts struct {
	// Format is the output encoding.
	Format bitvector.StorageFormat
	// Refs lists the references for TEXT output.  When empty, the headers of
	// the TEXT inputs are used; JSON inputs carry no sequences, so converting
	// JSON to TEXT requires Refs.
	Refs []fasta.Reference
	Opts
}

// Convert rewrites the bit vector files srcPaths into dstDir in the
// requested encoding.  It returns the number of entries written.
func Convert(ctx context.Context, srcPaths []string, dstDir string, opts ConvertOpts) (n int, err error) {
	refs := opts.Refs
	if len(refs) == 0 {
		for _, path := range srcPaths {
			if KindOf(path) != KindText {
				continue
			}
			tr, err := OpenText(ctx, path)
			if err != nil {
				return 0, err
			}
			h := tr.Header()
			refs = append(refs, fasta.Reference{Name: h.RefName, Seq: h.Sequence})
			if err = tr.Close(); err != nil {
				return 0, err
			}
		}
	}
	if opts.Format == bitvector.FormatText && len(refs) == 0 {
		return 0, fmt.Errorf("storage: converting to TEXT requires reference sequences")
	}
	known := make(map[string]bool, len(refs))
	for _, ref := range refs {
		known[ref.Name] = true
	}
	w, err := NewWriter(ctx, opts.Format, dstDir, refs, opts.Opts)
	if err != nil {
		return 0, err
	}
	defer func() {
		if e := w.Close(); e != nil && err == nil {
			err = e
		}
	}()
	for _, path := range srcPaths {
		r, err := Open(ctx, path)
		if err != nil {
			return n, err
		}
		for r.Scan() {
			e := r.Entry()
			if opts.Format == bitvector.FormatText && !known[e.RefName] {
				_ = r.Close()
				return n, fmt.Errorf("storage: %s: read %s is on reference %s, which has no sequence", path, e.QueryName, e.RefName)
			}
			if err = w.Write(e); err != nil {
				_ = r.Close()
				return n, err
			}
			n++
		}
		if err = r.Err(); err != nil {
			_ = r.Close()
			return n, fmt.Errorf("%s: %v", path, err)
		}
		if err = r.Close(); err != nil {
			return n, err
		}
	}
	log.Printf("storage: converted %d bit vectors from %d files into %s (%v)", n, len(srcPaths), dstDir, opts.Format)
	return n, nil
}

// Checksum is an order-independent digest of stored bit vectors.  Two
// outputs hold the same position data, regardless of encoding or read order,
// iff their checksums are equal.
type Checksum struct {
	NumEntries int64
	// Sum is the sum of the seahash of every entry.
	Sum uint64
	// PerRef counts entries per reference.
	PerRef map[string]int64
}

// ChecksumOpts configures the digest.
type ChecksumOpts struct {
	// Names includes query names in the digest.
	Names bool
}

type checksummer struct {
	opts    ChecksumOpts
	h       hash.Hash64
	scratch []byte
}

func (c *checksummer) add(sum *Checksum, e Entry) {
	s := Classify(e.BitVector)
	buf := c.scratch[:0]
	if c.opts.Names {
		buf = append(buf, e.QueryName...)
	}
	buf = append(buf, 0)
	buf = append(buf, e.RefName...)
	buf = append(buf, 0)
	buf = strconv.AppendInt(buf, int64(s.Start), 10)
	buf = append(buf, ':')
	buf = strconv.AppendInt(buf, int64(s.End), 10)
	for _, m := range []map[int]byte{s.Muts, s.Dels, s.Ambigs} {
		positions := make([]int, 0, len(m))
		for pos := range m {
			positions = append(positions, pos)
		}
		sort.Ints(positions)
		buf = append(buf, 0)
		for _, pos := range positions {
			buf = strconv.AppendInt(buf, int64(pos), 10)
			buf = append(buf, m[pos], ',')
		}
	}
	c.scratch = buf
	c.h.Reset()
	_, _ = c.h.Write(buf)
	sum.NumEntries++
	sum.Sum += c.h.Sum64()
	sum.PerRef[e.RefName]++
}

// ComputeChecksum digests every entry of the given files.
func ComputeChecksum(ctx context.Context, paths []string, opts ChecksumOpts) (Checksum, error) {
	sum := Checksum{PerRef: map[string]int64{}}
	c := checksummer{opts: opts, h: seahash.New()}
	for _, path := range paths {
		r, err := Open(ctx, path)
		if err != nil {
			return sum, err
		}
		for r.Scan() {
			c.add(&sum, r.Entry())
		}
		err = r.Err()
		if e := r.Close(); e != nil && err == nil {
			err = e
		}
		if err != nil {
			return sum, fmt.Errorf("%s: %v", path, err)
		}
	}
	return sum, nil
}

// Merge adds the entries digested by o.
func (c *Checksum) Merge(o Checksum) {
	if c.PerRef == nil {
		c.PerRef = map[string]int64{}
	}
	c.NumEntries += o.NumEntries
	c.Sum += o.Sum
	for ref, n := range o.PerRef {
		c.PerRef[ref] += n
	}
}

// Equal reports whether c and o digest the same entries.
func (c Checksum) Equal(o Checksum) bool {
	if c.NumEntries != o.NumEntries || c.Sum != o.Sum || len(c.PerRef) != len(o.PerRef) {
		return false
	}
	for ref, n := range c.PerRef {
		if o.PerRef[ref] != n {
			return false
		}
	}
	return true
}
