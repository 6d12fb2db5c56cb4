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
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/grailbio/base/compress"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/hts/bgzf"
	"github.com/grailbio/rnamap/bitvector"
	"github.com/grailbio/rnamap/encoding/fasta"
)

// TEXT header keys.
const (
	textRefKey         = "@ref"
	textCoordinatesKey = "@coordinates:"
)

type textStream struct {
	path   string
	f      file.File
	bgzf   *bgzf.Writer
	w      *tsv.Writer
	refLen int
	n      int
}

// TextWriter writes the dense TEXT encoding, one file per reference.
type TextWriter struct {
	ctx     context.Context
	streams map[string]*textStream
	order   []string
}

// NewTextWriter creates <dir>/<ref>_bitvectors.txt[.gz] for every reference
// and writes their headers.
func NewTextWriter(ctx context.Context, dir string, refs []fasta.Reference, opts Opts) (*TextWriter, error) {
	tw := &TextWriter{ctx: ctx, streams: make(map[string]*textStream, len(refs))}
	for _, ref := range refs {
		if _, ok := tw.streams[ref.Name]; ok {
			continue
		}
		s, err := newTextStream(ctx, file.Join(dir, TextFileName(ref.Name, opts.Compress)), ref, opts)
		if err != nil {
			if s != nil {
				_ = s.close(ctx)
			}
			_ = tw.Close()
			return nil, err
		}
		tw.streams[ref.Name] = s
		tw.order = append(tw.order, ref.Name)
	}
	return tw, nil
}

func newTextStream(ctx context.Context, path string, ref fasta.Reference, opts Opts) (*textStream, error) {
	f, err := file.Create(ctx, path)
	if err != nil {
		return nil, writeError(path, err)
	}
	s := &textStream{path: path, f: f, refLen: ref.Len()}
	if opts.Compress {
		parallelism := opts.Parallelism
		if parallelism <= 0 {
			parallelism = 1
		}
		s.bgzf = bgzf.NewWriter(f.Writer(ctx), parallelism)
		s.w = tsv.NewWriter(s.bgzf)
	} else {
		s.w = tsv.NewWriter(f.Writer(ctx))
	}
	dataType := opts.DataType
	if dataType == "" {
		dataType = DefaultOpts.DataType
	}
	s.w.WriteString(textRefKey)
	s.w.WriteString(ref.Name)
	s.w.WriteString(ref.Seq)
	s.w.WriteString(dataType)
	if err = s.w.EndLine(); err != nil {
		return s, writeError(path, err)
	}
	s.w.WriteString(textCoordinatesKey)
	s.w.WriteString(fmt.Sprintf("1,%d:%d", ref.Len(), ref.Len()))
	if err = s.w.EndLine(); err != nil {
		return s, writeError(path, err)
	}
	s.w.WriteString("Query_name")
	s.w.WriteString("Bit_vector")
	s.w.WriteString("N_Mutations")
	if err = s.w.EndLine(); err != nil {
		return s, writeError(path, err)
	}
	return s, nil
}

// Write implements Writer.
func (tw *TextWriter) Write(e Entry) error {
	s, ok := tw.streams[e.RefName]
	if !ok {
		return fmt.Errorf("storage: no TEXT stream for reference %s", e.RefName)
	}
	s.w.WriteString(e.QueryName)
	s.w.WriteString(e.BitVector.Dense(s.refLen))
	s.w.WriteUint32(uint32(e.BitVector.NumMutations()))
	s.n++
	return writeError(s.path, s.w.EndLine())
}

// Close implements Writer.
func (tw *TextWriter) Close() error {
	var err error
	for _, name := range tw.order {
		s := tw.streams[name]
		if e := s.close(tw.ctx); e != nil && err == nil {
			err = e
		}
		log.Debug.Printf("storage: wrote %d bit vectors to %s", s.n, s.path)
	}
	tw.streams = nil
	tw.order = nil
	return err
}

func (s *textStream) close(ctx context.Context) error {
	err := s.w.Flush()
	if s.bgzf != nil {
		if e := s.bgzf.Close(); e != nil && err == nil {
			err = e
		}
	}
	if e := s.f.Close(ctx); e != nil && err == nil {
		err = e
	}
	return writeError(s.path, err)
}

// TextHeader is the metadata of a TEXT file.
type TextHeader struct {
	RefName  string
	Sequence string
	DataType string
	Start    int
	End      int
}

// textRow is one read row of a TEXT file.
type textRow struct {
	QueryName    string `tsv:"Query_name"`
	BitVector    string `tsv:"Bit_vector"`
	NumMutations int    `tsv:"N_Mutations"`
}

// TextReader reads the TEXT encoding.
type TextReader struct {
	header TextHeader
	r      *tsv.Reader
	entry  Entry
	err    error
	closer io.Closer
}

// NewTextReader parses the two header lines of a TEXT stream.
func NewTextReader(in io.Reader) (*TextReader, error) {
	br := bufio.NewReader(in)
	tr := &TextReader{}
	for _, key := range []string{textRefKey, textCoordinatesKey} {
		line, err := br.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("storage: reading %s header line: %v", key, err)
		}
		fields := strings.Split(strings.TrimRight(line, "\r\n"), "\t")
		if fields[0] != key {
			return nil, fmt.Errorf("storage: expected %s header line, got %q", key, line)
		}
		switch key {
		case textRefKey:
			if len(fields) < 3 {
				return nil, fmt.Errorf("storage: bad %s line %q", key, line)
			}
			tr.header.RefName = fields[1]
			tr.header.Sequence = fields[2]
			if len(fields) > 3 {
				tr.header.DataType = fields[3]
			}
		case textCoordinatesKey:
			if len(fields) < 2 {
				return nil, fmt.Errorf("storage: bad %s line %q", key, line)
			}
			if _, err := fmt.Sscanf(fields[1], "%d,%d:", &tr.header.Start, &tr.header.End); err != nil {
				return nil, fmt.Errorf("storage: bad coordinates %q: %v", fields[1], err)
			}
		}
	}
	tr.r = tsv.NewReader(br)
	tr.r.HasHeaderRow = true
	tr.r.UseHeaderNames = true
	return tr, nil
}

// OpenText opens a TEXT file, bgzf/gzip compressed or not.
func OpenText(ctx context.Context, path string) (*TextReader, error) {
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	rc, _ := compress.NewReader(f.Reader(ctx))
	closer := multiCloser{rc, ctxCloser{ctx, f}}
	tr, err := NewTextReader(rc)
	if err != nil {
		_ = closer.Close()
		return nil, fmt.Errorf("%s: %v", path, err)
	}
	tr.closer = closer
	return tr, nil
}

// Header returns the file metadata.
func (tr *TextReader) Header() TextHeader { return tr.header }

// Scan implements Reader.
func (tr *TextReader) Scan() bool {
	if tr.err != nil {
		return false
	}
	var row textRow
	if err := tr.r.Read(&row); err != nil {
		if err != io.EOF {
			tr.err = err
		}
		return false
	}
	if len(row.BitVector) != len(tr.header.Sequence) {
		tr.err = fmt.Errorf("storage: read %s: bit vector length %d, reference %s has length %d",
			row.QueryName, len(row.BitVector), tr.header.RefName, len(tr.header.Sequence))
		return false
	}
	bv := bitvector.FromDense(row.BitVector)
	if n := bv.NumMutations(); n != row.NumMutations {
		tr.err = fmt.Errorf("storage: read %s: N_Mutations is %d, bit vector has %d",
			row.QueryName, row.NumMutations, n)
		return false
	}
	tr.entry = Entry{QueryName: row.QueryName, RefName: tr.header.RefName, BitVector: bv}
	return true
}

// Entry implements Reader.
func (tr *TextReader) Entry() Entry { return tr.entry }

// Err implements Reader.
func (tr *TextReader) Err() error { return tr.err }

// Close implements Reader.
func (tr *TextReader) Close() error {
	if tr.closer == nil {
		return nil
	}
	return tr.closer.Close()
}

type ctxCloser struct {
	ctx context.Context
	f   file.File
}

func (c ctxCloser) Close() error { return c.f.Close(c.ctx) }
