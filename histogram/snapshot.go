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
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	farm "github.com/dgryski/go-farm"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/recordio"
	"github.com/grailbio/base/recordio/recordiozstd"
)

// Snapshot file names.
const (
	SnapshotJSONName = "mutation_histos.json"
	SnapshotRioName  = "mutation_histos.rio"
)

const (
	shardIDsHeader   = "rnamap.shard_ids"
	unassignedHeader = "rnamap.unassigned"
	trailerVersion   = 1
)

func init() {
	recordiozstd.Init()
}

func fingerprint(seq string) string {
	return fmt.Sprintf("%016x", farm.Fingerprint64([]byte(seq)))
}

// jsonHisto is the JSON form of a Histogram.
type jsonHisto struct {
	Name           string             `json:"name"`
	Sequence       string             `json:"sequence"`
	Fingerprint    string             `json:"seq_fingerprint"`
	DataType       string             `json:"data_type"`
	Start          int                `json:"start"`
	End            int                `json:"end"`
	NumReads       int64              `json:"num_reads"`
	NumAligned     int64              `json:"num_aligned"`
	Skips          map[string]int64   `json:"skips"`
	NumOfMutations []int64            `json:"num_of_mutations"`
	MutBases       []int64            `json:"mut_bases"`
	InfoBases      []int64            `json:"info_bases"`
	DelBases       []int64            `json:"del_bases"`
	CovBases       []int64            `json:"cov_bases"`
	ModBases       map[string][]int64 `json:"mod_bases"`
}

type jsonStore struct {
	ShardIDs      []string              `json:"shard_ids"`
	NumUnassigned int64                 `json:"num_unassigned"`
	Unassigned    map[string]int64      `json:"unassigned"`
	Histos        map[string]*jsonHisto `json:"histos"`
}

func newJSONHisto(h *Histogram) *jsonHisto {
	j := &jsonHisto{
		Name:           h.Name,
		Sequence:       h.Sequence,
		Fingerprint:    fingerprint(h.Sequence),
		DataType:       h.DataType,
		Start:          1,
		End:            h.Len(),
		NumReads:       h.NumReads,
		NumAligned:     h.NumAligned,
		Skips:          h.Skips,
		NumOfMutations: h.NumOfMutations,
		MutBases:       h.MutBases,
		InfoBases:      h.InfoBases,
		DelBases:       h.DelBases,
		CovBases:       h.CovBases,
		ModBases:       map[string][]int64{},
	}
	for b := BaseA; b < NBase; b++ {
		j.ModBases[b.String()] = h.ModBases[b]
	}
	return j
}

func (j *jsonHisto) histogram() *Histogram {
	h := &Histogram{
		Name:           j.Name,
		Sequence:       j.Sequence,
		DataType:       j.DataType,
		NumReads:       j.NumReads,
		NumAligned:     j.NumAligned,
		Skips:          j.Skips,
		NumOfMutations: j.NumOfMutations,
		MutBases:       j.MutBases,
		InfoBases:      j.InfoBases,
		DelBases:       j.DelBases,
		CovBases:       j.CovBases,
	}
	if h.Skips == nil {
		h.Skips = map[string]int64{}
	}
	for b := BaseA; b < NBase; b++ {
		h.ModBases[b] = j.ModBases[b.String()]
	}
	return h
}

// validate checks the internal consistency of a loaded histogram.
func (h *Histogram) validate() error {
	n := h.Len()
	lists := map[string][]int64{
		"mut_bases":  h.MutBases,
		"info_bases": h.InfoBases,
		"del_bases":  h.DelBases,
		"cov_bases":  h.CovBases,
	}
	for b := BaseA; b < NBase; b++ {
		lists["mod_bases."+b.String()] = h.ModBases[b]
	}
	for key, list := range lists {
		if len(list) != n {
			return fmt.Errorf("%s: %s has %d entries, reference has length %d", h.Name, key, len(list), n)
		}
	}
	for i := range h.CovBases {
		if h.InfoBases[i] > h.CovBases[i] {
			return fmt.Errorf("%s: position %d has %d informative calls but coverage %d", h.Name, i+1, h.InfoBases[i], h.CovBases[i])
		}
	}
	var aligned int64
	for _, v := range h.NumOfMutations {
		aligned += v
	}
	if aligned != h.NumAligned {
		return fmt.Errorf("%s: num_of_mutations sums to %d, num_aligned is %d", h.Name, aligned, h.NumAligned)
	}
	if h.NumAligned+h.NumSkipped() != h.NumReads {
		return fmt.Errorf("%s: num_reads %d != aligned %d + skipped %d", h.Name, h.NumReads, h.NumAligned, h.NumSkipped())
	}
	return nil
}

func checkStore(s *Store) error {
	var n int64
	for _, v := range s.Unassigned {
		n += v
	}
	if n != s.NumUnassigned {
		return fmt.Errorf("unassigned counts sum to %d, num_unassigned is %d", n, s.NumUnassigned)
	}
	for name, h := range s.Histos {
		if name != h.Name {
			return fmt.Errorf("histogram %s filed under %s", h.Name, name)
		}
		if err := h.validate(); err != nil {
			return err
		}
	}
	return nil
}

// WriteJSON writes s in the JSON snapshot layout.
func WriteJSON(w io.Writer, s *Store) error {
	js := jsonStore{
		ShardIDs:      s.ShardIDs,
		NumUnassigned: s.NumUnassigned,
		Unassigned:    s.Unassigned,
		Histos:        make(map[string]*jsonHisto, len(s.Histos)),
	}
	for name, h := range s.Histos {
		js.Histos[name] = newJSONHisto(h)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", " ")
	return enc.Encode(&js)
}

// ReadJSON reads a snapshot written by WriteJSON.
func ReadJSON(r io.Reader) (*Store, error) {
	var js jsonStore
	if err := json.NewDecoder(r).Decode(&js); err != nil {
		return nil, errors.E(errors.Invalid, err, "histogram: bad JSON snapshot")
	}
	s := &Store{
		Histos:        make(map[string]*Histogram, len(js.Histos)),
		Unassigned:    js.Unassigned,
		NumUnassigned: js.NumUnassigned,
		ShardIDs:      js.ShardIDs,
	}
	if s.Unassigned == nil {
		s.Unassigned = map[string]int64{}
	}
	for name, jh := range js.Histos {
		if jh == nil {
			return nil, errors.E(errors.Integrity, fmt.Sprintf("histogram: %s: empty histogram", name))
		}
		if jh.Fingerprint != fingerprint(jh.Sequence) {
			return nil, errors.E(errors.Integrity, fmt.Sprintf("histogram: %s: sequence fingerprint mismatch", name))
		}
		s.Histos[name] = jh.histogram()
	}
	if err := checkStore(s); err != nil {
		return nil, errors.E(errors.Integrity, "histogram: corrupt snapshot", err)
	}
	return s, nil
}

type encoder struct {
	buf []byte
	tmp [binary.MaxVarintLen64]byte
}

func (e *encoder) uvarint(v uint64) {
	n := binary.PutUvarint(e.tmp[:], v)
	e.buf = append(e.buf, e.tmp[:n]...)
}

func (e *encoder) varint(v int64) {
	n := binary.PutVarint(e.tmp[:], v)
	e.buf = append(e.buf, e.tmp[:n]...)
}

func (e *encoder) str(s string) {
	e.uvarint(uint64(len(s)))
	e.buf = append(e.buf, s...)
}

func (e *encoder) ints(s []int64) {
	e.uvarint(uint64(len(s)))
	for _, v := range s {
		e.varint(v)
	}
}

type decoder struct {
	buf []byte
	err error
}

func (d *decoder) uvarint() uint64 {
	if d.err != nil {
		return 0
	}
	v, n := binary.Uvarint(d.buf)
	if n <= 0 {
		d.err = fmt.Errorf("histogram: truncated record")
		return 0
	}
	d.buf = d.buf[n:]
	return v
}

func (d *decoder) varint() int64 {
	if d.err != nil {
		return 0
	}
	v, n := binary.Varint(d.buf)
	if n <= 0 {
		d.err = fmt.Errorf("histogram: truncated record")
		return 0
	}
	d.buf = d.buf[n:]
	return v
}

func (d *decoder) length() int {
	n := d.uvarint()
	if n > uint64(len(d.buf)) {
		// Every encoded element takes at least one byte.
		d.err = fmt.Errorf("histogram: length %d exceeds record", n)
		return 0
	}
	return int(n)
}

func (d *decoder) str() string {
	n := d.length()
	if d.err != nil {
		return ""
	}
	s := string(d.buf[:n])
	d.buf = d.buf[n:]
	return s
}

func (d *decoder) ints() []int64 {
	n := d.length()
	if d.err != nil || n == 0 {
		return nil
	}
	s := make([]int64, n)
	for i := range s {
		s[i] = d.varint()
	}
	return s
}

func marshalHistogram(scratch []byte, p interface{}) ([]byte, error) {
	h := p.(*Histogram)
	e := encoder{buf: scratch[:0]}
	e.str(h.Name)
	e.str(h.Sequence)
	e.uvarint(farm.Fingerprint64([]byte(h.Sequence)))
	e.str(h.DataType)
	e.varint(h.NumReads)
	e.varint(h.NumAligned)
	e.ints(h.MutBases)
	e.ints(h.InfoBases)
	e.ints(h.DelBases)
	e.ints(h.CovBases)
	for b := range h.ModBases {
		e.ints(h.ModBases[b])
	}
	reasons := make([]string, 0, len(h.Skips))
	for reason := range h.Skips {
		reasons = append(reasons, reason)
	}
	sort.Strings(reasons)
	e.uvarint(uint64(len(reasons)))
	for _, reason := range reasons {
		e.str(reason)
		e.varint(h.Skips[reason])
	}
	e.ints(h.NumOfMutations)
	return e.buf, nil
}

func unmarshalHistogram(in []byte) (interface{}, error) {
	d := decoder{buf: in}
	h := &Histogram{}
	h.Name = d.str()
	h.Sequence = d.str()
	fp := d.uvarint()
	h.DataType = d.str()
	h.NumReads = d.varint()
	h.NumAligned = d.varint()
	h.MutBases = d.ints()
	h.InfoBases = d.ints()
	h.DelBases = d.ints()
	h.CovBases = d.ints()
	for b := range h.ModBases {
		h.ModBases[b] = d.ints()
	}
	nSkips := d.length()
	h.Skips = make(map[string]int64, nSkips)
	for i := 0; i < nSkips && d.err == nil; i++ {
		reason := d.str()
		h.Skips[reason] = d.varint()
	}
	h.NumOfMutations = d.ints()
	if d.err != nil {
		return nil, d.err
	}
	if fp != farm.Fingerprint64([]byte(h.Sequence)) {
		return nil, fmt.Errorf("histogram: %s: sequence fingerprint mismatch", h.Name)
	}
	return h, nil
}

func encodeUnassigned(m map[string]int64) string {
	reasons := make([]string, 0, len(m))
	for reason := range m {
		reasons = append(reasons, reason)
	}
	sort.Strings(reasons)
	parts := make([]string, len(reasons))
	for i, reason := range reasons {
		parts[i] = reason + "=" + strconv.FormatInt(m[reason], 10)
	}
	return strings.Join(parts, ",")
}

func decodeUnassigned(s string) (map[string]int64, int64, error) {
	m := map[string]int64{}
	var total int64
	if s == "" {
		return m, 0, nil
	}
	for _, part := range strings.Split(s, ",") {
		i := strings.LastIndexByte(part, '=')
		if i < 0 {
			return nil, 0, fmt.Errorf("histogram: bad unassigned entry %q", part)
		}
		n, err := strconv.ParseInt(part[i+1:], 10, 64)
		if err != nil {
			return nil, 0, fmt.Errorf("histogram: bad unassigned entry %q: %v", part, err)
		}
		m[part[:i]] = n
		total += n
	}
	return m, total, nil
}

func rioTrailer(n int) []byte {
	var buffer bytes.Buffer
	if err := binary.Write(&buffer, binary.LittleEndian, int64(trailerVersion)); err != nil {
		panic("couldn't write trailer version")
	}
	if err := binary.Write(&buffer, binary.LittleEndian, int64(n)); err != nil {
		panic("couldn't write histogram count to trailer")
	}
	return buffer.Bytes()
}

func parseRioTrailer(trailer []byte) (int64, error) {
	r := bytes.NewReader(trailer)
	var version, n int64
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return 0, err
	}
	if version != trailerVersion {
		return 0, fmt.Errorf("unrecognized trailer version: got %d, want %d", version, trailerVersion)
	}
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return 0, err
	}
	return n, nil
}

// WriteRio writes s as a zstd-compressed recordio file, one record per
// histogram in name order.
func WriteRio(w io.Writer, s *Store) error {
	rw := recordio.NewWriter(w, recordio.WriterOpts{
		Marshal:      marshalHistogram,
		Transformers: []string{recordiozstd.Name},
	})
	rw.AddHeader(shardIDsHeader, strings.Join(s.ShardIDs, "\000"))
	rw.AddHeader(unassignedHeader, encodeUnassigned(s.Unassigned))
	rw.AddHeader(recordio.KeyTrailer, true)
	names := s.Names()
	for _, name := range names {
		rw.Append(s.Histos[name])
	}
	rw.SetTrailer(rioTrailer(len(names)))
	return rw.Finish()
}

// ReadRio reads a snapshot written by WriteRio.
func ReadRio(rs io.ReadSeeker) (*Store, error) {
	scanner := recordio.NewScanner(rs, recordio.ScannerOpts{
		Unmarshal: unmarshalHistogram,
	})
	s := &Store{Histos: map[string]*Histogram{}, Unassigned: map[string]int64{}}
	want := int64(-1)
	if len(scanner.Trailer()) != 0 {
		n, err := parseRioTrailer(scanner.Trailer())
		if err != nil {
			return nil, errors.E(errors.Invalid, err, "histogram: bad snapshot trailer")
		}
		want = n
	}
	for _, kv := range scanner.Header() {
		switch kv.Key {
		case shardIDsHeader:
			if ids := kv.Value.(string); ids != "" {
				s.ShardIDs = strings.Split(ids, "\000")
			}
		case unassignedHeader:
			m, n, err := decodeUnassigned(kv.Value.(string))
			if err != nil {
				return nil, errors.E(errors.Invalid, err)
			}
			s.Unassigned, s.NumUnassigned = m, n
		}
	}
	for scanner.Scan() {
		h := scanner.Get().(*Histogram)
		s.Histos[h.Name] = h
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.E(errors.Integrity, err, "histogram: reading snapshot")
	}
	if want >= 0 && int64(len(s.Histos)) != want {
		return nil, errors.E(errors.Integrity, fmt.Sprintf("histogram: snapshot holds %d histograms, trailer says %d", len(s.Histos), want))
	}
	if err := checkStore(s); err != nil {
		return nil, errors.E(errors.Integrity, "histogram: corrupt snapshot", err)
	}
	return s, nil
}

// WriteSnapshot writes s to path, in the binary layout if path ends in
// ".rio" and as JSON otherwise.
func WriteSnapshot(ctx context.Context, path string, s *Store) (err error) {
	f, err := file.Create(ctx, path)
	if err != nil {
		return errors.E(err, "histogram: create", path)
	}
	defer file.CloseAndReport(ctx, f, &err)
	if strings.HasSuffix(path, ".rio") {
		err = WriteRio(f.Writer(ctx), s)
	} else {
		err = WriteJSON(f.Writer(ctx), s)
	}
	if err == nil {
		log.Debug.Printf("histogram: wrote %d histograms to %s", len(s.Histos), path)
	}
	return err
}

// LoadSnapshot reads a snapshot written by WriteSnapshot.
func LoadSnapshot(ctx context.Context, path string) (s *Store, err error) {
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.E(err, "histogram: open", path)
	}
	defer file.CloseAndReport(ctx, f, &err)
	if strings.HasSuffix(path, ".rio") {
		s, err = ReadRio(f.Reader(ctx))
	} else {
		s, err = ReadJSON(f.Reader(ctx))
	}
	if err != nil {
		return nil, errors.E(err, path)
	}
	return s, nil
}
