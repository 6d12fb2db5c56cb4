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
	"encoding/json"
	"fmt"
	"io"

	"github.com/grailbio/base/compress"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/klauspost/compress/gzip"
)

// jsonRecord is the JSON form of an Entry.  Position maps are keyed by the
// decimal 1-based position.
type jsonRecord struct {
	QueryName string         `json:"query_name"`
	RefName   string         `json:"ref_name"`
	MapQ1     int            `json:"mapq1"`
	MapQ2     int            `json:"mapq2"`
	Read1Len  int            `json:"read1_len"`
	Read2Len  int            `json:"read2_len"`
	Start     int            `json:"start"`
	End       int            `json:"end"`
	Muts      map[int]string `json:"muts"`
	Dels      map[int]string `json:"dels"`
	Ambigs    map[int]string `json:"ambigs"`
}

func toStrings(m map[int]byte) map[int]string {
	out := make(map[int]string, len(m))
	for pos, sym := range m {
		out[pos] = string(sym)
	}
	return out
}

func fromStrings(m map[int]string, field string) (map[int]byte, error) {
	out := make(map[int]byte, len(m))
	for pos, sym := range m {
		if len(sym) != 1 {
			return nil, fmt.Errorf("storage: %s[%d]: bad symbol %q", field, pos, sym)
		}
		out[pos] = sym[0]
	}
	return out, nil
}

func newJSONRecord(e Entry) jsonRecord {
	s := Classify(e.BitVector)
	return jsonRecord{
		QueryName: e.QueryName,
		RefName:   e.RefName,
		MapQ1:     e.MapQ1,
		MapQ2:     e.MapQ2,
		Read1Len:  e.Read1Len,
		Read2Len:  e.Read2Len,
		Start:     s.Start,
		End:       s.End,
		Muts:      toStrings(s.Muts),
		Dels:      toStrings(s.Dels),
		Ambigs:    toStrings(s.Ambigs),
	}
}

func (r *jsonRecord) entry() (Entry, error) {
	var (
		s   = Sparse{Start: r.Start, End: r.End}
		err error
	)
	if s.Muts, err = fromStrings(r.Muts, "muts"); err != nil {
		return Entry{}, err
	}
	if s.Dels, err = fromStrings(r.Dels, "dels"); err != nil {
		return Entry{}, err
	}
	if s.Ambigs, err = fromStrings(r.Ambigs, "ambigs"); err != nil {
		return Entry{}, err
	}
	for _, m := range []map[int]byte{s.Muts, s.Dels, s.Ambigs} {
		for pos := range m {
			if pos < s.Start || pos > s.End {
				return Entry{}, fmt.Errorf("storage: read %s: position %d outside span [%d, %d]", r.QueryName, pos, s.Start, s.End)
			}
		}
	}
	return Entry{
		QueryName: r.QueryName,
		RefName:   r.RefName,
		MapQ1:     r.MapQ1,
		MapQ2:     r.MapQ2,
		Read1Len:  r.Read1Len,
		Read2Len:  r.Read2Len,
		BitVector: s.BitVector(),
	}, nil
}

// JSONWriter writes the sparse JSON encoding as a single streamed array.
type JSONWriter struct {
	ctx  context.Context
	path string
	f    file.File
	gz   *gzip.Writer
	w    *bufio.Writer
	n    int
}

// NewJSONWriter creates <dir>/muts.json[.gz].
func NewJSONWriter(ctx context.Context, dir string, opts Opts) (*JSONWriter, error) {
	path := file.Join(dir, JSONFileName(opts.Compress))
	f, err := file.Create(ctx, path)
	if err != nil {
		return nil, writeError(path, err)
	}
	jw := &JSONWriter{ctx: ctx, path: path, f: f}
	if opts.Compress {
		jw.gz = gzip.NewWriter(f.Writer(ctx))
		jw.w = bufio.NewWriter(jw.gz)
	} else {
		jw.w = bufio.NewWriter(f.Writer(ctx))
	}
	if _, err = jw.w.WriteString("["); err != nil {
		_ = jw.Close()
		return nil, writeError(path, err)
	}
	return jw, nil
}

// Write implements Writer.
func (jw *JSONWriter) Write(e Entry) error {
	data, err := json.Marshal(newJSONRecord(e))
	if err != nil {
		return err
	}
	if jw.n > 0 {
		if _, err = jw.w.WriteString(",\n"); err != nil {
			return writeError(jw.path, err)
		}
	} else if _, err = jw.w.WriteString("\n"); err != nil {
		return writeError(jw.path, err)
	}
	jw.n++
	_, err = jw.w.Write(data)
	return writeError(jw.path, err)
}

// Close implements Writer.
func (jw *JSONWriter) Close() error {
	_, err := jw.w.WriteString("\n]\n")
	if e := jw.w.Flush(); e != nil && err == nil {
		err = e
	}
	if jw.gz != nil {
		if e := jw.gz.Close(); e != nil && err == nil {
			err = e
		}
	}
	if e := jw.f.Close(jw.ctx); e != nil && err == nil {
		err = e
	}
	log.Debug.Printf("storage: wrote %d bit vectors to %s", jw.n, jw.path)
	return writeError(jw.path, err)
}

// JSONReader streams records out of a JSON array without loading it whole.
type JSONReader struct {
	dec    *json.Decoder
	entry  Entry
	err    error
	closer io.Closer
}

// NewJSONReader consumes the opening bracket of the array in r.
func NewJSONReader(r io.Reader) (*JSONReader, error) {
	jr := &JSONReader{dec: json.NewDecoder(bufio.NewReader(r))}
	tok, err := jr.dec.Token()
	if err != nil {
		return nil, fmt.Errorf("storage: reading JSON array: %v", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '[' {
		return nil, fmt.Errorf("storage: expected JSON array, got %v", tok)
	}
	return jr, nil
}

// OpenJSON opens a JSON file, gzip compressed or not.
func OpenJSON(ctx context.Context, path string) (*JSONReader, error) {
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	rc, _ := compress.NewReader(f.Reader(ctx))
	closer := multiCloser{rc, ctxCloser{ctx, f}}
	jr, err := NewJSONReader(rc)
	if err != nil {
		_ = closer.Close()
		return nil, fmt.Errorf("%s: %v", path, err)
	}
	jr.closer = closer
	return jr, nil
}

// Scan implements Reader.
func (jr *JSONReader) Scan() bool {
	if jr.err != nil || !jr.dec.More() {
		return false
	}
	var rec jsonRecord
	if err := jr.dec.Decode(&rec); err != nil {
		jr.err = err
		return false
	}
	jr.entry, jr.err = rec.entry()
	return jr.err == nil
}

// Entry implements Reader.
func (jr *JSONReader) Entry() Entry { return jr.entry }

// Err implements Reader.
func (jr *JSONReader) Err() error { return jr.err }

// Close implements Reader.
func (jr *JSONReader) Close() error {
	if jr.closer == nil {
		return nil
	}
	return jr.closer.Close()
}

var _ Writer = (*JSONWriter)(nil)
var _ Writer = (*TextWriter)(nil)
var _ Reader = (*JSONReader)(nil)
var _ Reader = (*TextReader)(nil)
