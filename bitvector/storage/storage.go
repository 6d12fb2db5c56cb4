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

// Package storage persists accepted bit vectors.  Two encodings exist:
//
// The TEXT encoding writes one file per reference, <ref>_bitvectors.txt,
// holding a two-line header followed by one dense row per read:
//
//   @ref	<name>	<sequence>	<data type>
//   @coordinates:	1,<len>:<len>
//   Query_name	Bit_vector	N_Mutations
//   read1	..00A0-0...	1
//
// The JSON encoding writes a single muts.json array holding one sparse record
// per read, with only the mutated, deleted and ambiguous positions.
//
// Both encodings carry the same position data: the informative span of a
// read (first to last non-'.' position), its mutations and deletions, and
// the '.' positions strictly inside the span.  Conversion between them is
// lossless.
package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/grailbio/rnamap/bitvector"
	"github.com/grailbio/rnamap/encoding/fasta"
)

// Entry is one stored template.
type Entry struct {
	QueryName string
	RefName   string
	// MapQ2 and Read2Len are zero for single-end reads.  The TEXT encoding
	// does not store any of these four fields.
	MapQ1, MapQ2       int
	Read1Len, Read2Len int
	BitVector          bitvector.BitVector
}

// Writer streams accepted bit vectors to storage.
type Writer interface {
	// Write appends one entry.  A failure wraps *WriteError and leaves the
	// output unusable.
	Write(e Entry) error
	// Close flushes and finalizes the output.
	Close() error
}

// Reader iterates over stored entries.
type Reader interface {
	// Scan advances to the next entry, returning false at the end or on error.
	Scan() bool
	// Entry returns the current entry.
	Entry() Entry
	// Err returns the first error encountered.
	Err() error
	// Close releases the underlying file.
	Close() error
}

// Opts configures the writers.
type Opts struct {
	// DataType is written to the TEXT header, e.g. "DMS".
	DataType string
	// Compress writes bgzf TEXT files or gzip JSON files.
	Compress bool
	// Parallelism is the number of bgzf compression goroutines.
	Parallelism int
}

// DefaultOpts are the default writer options.
var DefaultOpts = Opts{
	DataType:    "DMS",
	Parallelism: 1,
}

// WriteError reports an I/O failure on an output stream.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("storage: write %s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *WriteError) Unwrap() error { return e.Err }

func writeError(path string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*WriteError); ok {
		return err
	}
	return &WriteError{Path: path, Err: err}
}

// NewWriter returns a TEXT or JSON writer creating files under dir.
func NewWriter(ctx context.Context, format bitvector.StorageFormat, dir string, refs []fasta.Reference, opts Opts) (Writer, error) {
	switch format {
	case bitvector.FormatText:
		return NewTextWriter(ctx, dir, refs, opts)
	case bitvector.FormatJSON:
		return NewJSONWriter(ctx, dir, opts)
	}
	return nil, fmt.Errorf("storage: unknown format %v", format)
}

// Sparse is the position data shared by both encodings.  Start and End
// delimit the informative span (both 0 when the read has no informative
// position); Ambigs holds the '.' positions strictly inside it.
type Sparse struct {
	Start, End int
	Muts       map[int]byte
	Dels       map[int]byte
	Ambigs     map[int]byte
}

// Classify splits bv into its sparse representation.
func Classify(bv bitvector.BitVector) Sparse {
	s := Sparse{Muts: map[int]byte{}, Dels: map[int]byte{}, Ambigs: map[int]byte{}}
	for pos, sym := range bv {
		if sym == bitvector.NoInfo {
			continue
		}
		if s.Start == 0 || pos < s.Start {
			s.Start = pos
		}
		if pos > s.End {
			s.End = pos
		}
		switch {
		case bitvector.IsMutation(sym):
			s.Muts[pos] = sym
		case sym == bitvector.Deletion:
			s.Dels[pos] = sym
		}
	}
	for pos := s.Start + 1; pos < s.End; pos++ {
		if bv.Get(pos) == bitvector.NoInfo {
			s.Ambigs[pos] = bitvector.NoInfo
		}
	}
	return s
}

// BitVector rebuilds a bit vector: matches over the span, overlaid with the
// recorded mutations, deletions and ambiguous positions.
func (s Sparse) BitVector() bitvector.BitVector {
	bv := bitvector.BitVector{}
	if s.Start == 0 {
		return bv
	}
	for pos := s.Start; pos <= s.End; pos++ {
		bv[pos] = bitvector.Match
	}
	for _, m := range []map[int]byte{s.Muts, s.Dels, s.Ambigs} {
		for pos, sym := range m {
			bv[pos] = sym
		}
	}
	return bv
}

// Kind of a bit vector file, derived from its name.
type Kind int

const (
	KindUnknown Kind = iota
	KindText
	KindJSON
)

const (
	textSuffix   = "_bitvectors.txt"
	jsonFileName = "muts.json"
)

// TextFileName returns the TEXT file name for ref.
func TextFileName(ref string, compress bool) string {
	if compress {
		return ref + textSuffix + ".gz"
	}
	return ref + textSuffix
}

// JSONFileName returns the JSON file name.
func JSONFileName(compress bool) string {
	if compress {
		return jsonFileName + ".gz"
	}
	return jsonFileName
}

// KindOf guesses the encoding of path from its name.
func KindOf(path string) Kind {
	p := strings.TrimSuffix(path, ".gz")
	switch {
	case strings.HasSuffix(p, ".txt"):
		return KindText
	case strings.HasSuffix(p, ".json"):
		return KindJSON
	}
	return KindUnknown
}

// Open opens a TEXT or JSON bit vector file, transparently decompressing it.
func Open(ctx context.Context, path string) (Reader, error) {
	switch KindOf(path) {
	case KindText:
		return OpenText(ctx, path)
	case KindJSON:
		return OpenJSON(ctx, path)
	}
	return nil, fmt.Errorf("storage: %s: unknown bit vector file type", path)
}

// ReadAll drains r.
func ReadAll(r Reader) ([]Entry, error) {
	var entries []Entry
	for r.Scan() {
		entries = append(entries, r.Entry())
	}
	return entries, r.Err()
}

type multiCloser []io.Closer

func (m multiCloser) Close() error {
	var err error
	for _, c := range m {
		if c == nil {
			continue
		}
		if e := c.Close(); e != nil && err == nil {
			err = e
		}
	}
	return err
}
