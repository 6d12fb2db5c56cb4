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

// Package mapseq drives bit vector generation: it streams aligned reads,
// pairs mates, decodes and filters bit vectors, stores the accepted ones and
// accumulates per-reference mutation histograms.
package mapseq

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/rnamap/bitvector"
	"github.com/grailbio/rnamap/bitvector/storage"
	"github.com/grailbio/rnamap/encoding/alignment"
	"github.com/grailbio/rnamap/encoding/fasta"
	"github.com/grailbio/rnamap/histogram"
)

// RejectedFileName is the name of the optional rejected-read log.
const RejectedFileName = "rejected_bvs.tsv"

// Opts configures Generate.
type Opts struct {
	// Config holds the decoding and filtering parameters.
	Config bitvector.Config
	// DataType labels the experiment (e.g. "DMS").
	DataType string
	// Compress writes compressed bit vector files.
	Compress bool
	// Parallelism is the number of bgzf goroutines per TEXT file.
	Parallelism int
	// SummaryOnly skips writing bit vectors; only histograms and reports are
	// produced.
	SummaryOnly bool
	// LogRejected writes rejected_bvs.tsv.
	LogRejected bool
	// SnapshotName is the histogram snapshot file name; a ".rio" suffix
	// selects the binary layout.
	SnapshotName string
	// PopAvg writes a <ref>_pop_avg.tsv table per reference.
	PopAvg bool
}

// DefaultOpts holds the default options.
var DefaultOpts = Opts{
	Config:       bitvector.DefaultConfig,
	DataType:     "DMS",
	Parallelism:  1,
	SnapshotName: histogram.SnapshotJSONName,
}

func (o Opts) storageOpts() storage.Opts {
	return storage.Opts{DataType: o.DataType, Compress: o.Compress, Parallelism: o.Parallelism}
}

// Stats counts what a Generate call did with its input records.
type Stats struct {
	Records  int64
	Accepted int64
	Rejected int64
	Orphans  int64
}

type pendingMate struct {
	rec *alignment.Record
	seq int64
}

// generator processes one stream of records.  It is not safe for
// concurrent use.
type generator struct {
	opts    Opts
	refs    map[string]string
	decoder *bitvector.Decoder
	filter  *bitvector.Filter
	store   *histogram.Store
	// Either may be nil.
	out      storage.Writer
	rejected *tsv.Writer

	pending map[string]*pendingMate
	nextSeq int64
	unknown map[string]bool
	stats   Stats
}

func newGenerator(refs []fasta.Reference, opts Opts, out storage.Writer, rejected *tsv.Writer) *generator {
	g := &generator{
		opts:     opts,
		refs:     make(map[string]string, len(refs)),
		decoder:  bitvector.NewDecoder(opts.Config),
		filter:   bitvector.NewFilter(opts.Config),
		store:    histogram.NewStore(refs, opts.DataType),
		out:      out,
		rejected: rejected,
		pending:  map[string]*pendingMate{},
		unknown:  map[string]bool{},
	}
	for _, ref := range refs {
		g.refs[ref.Name] = ref.Seq
	}
	return g
}

// add consumes one record.  Mapped mates are held until their partner
// arrives.
func (g *generator) add(rec *alignment.Record) error {
	g.stats.Records++
	switch {
	case rec.IsSecondary():
		return g.skip(rec.RefName, bitvector.SkipSecondary, rec.QueryName)
	case rec.IsUnmapped():
		return g.skip(rec.RefName, bitvector.SkipUnmapped, rec.QueryName)
	case rec.IsPaired() && !rec.MateUnmapped():
		mate, ok := g.pending[rec.QueryName]
		if !ok {
			g.pending[rec.QueryName] = &pendingMate{rec: rec, seq: g.nextSeq}
			g.nextSeq++
			return nil
		}
		delete(g.pending, rec.QueryName)
		if rec.IsFirstMate() && !mate.rec.IsFirstMate() {
			return g.process(rec, mate.rec)
		}
		return g.process(mate.rec, rec)
	}
	return g.process(rec)
}

// finish processes the mates whose partner never arrived as single-end
// reads, in arrival order.
func (g *generator) finish() error {
	orphans := make([]*pendingMate, 0, len(g.pending))
	for _, p := range g.pending {
		orphans = append(orphans, p)
	}
	sort.Slice(orphans, func(i, j int) bool { return orphans[i].seq < orphans[j].seq })
	g.pending = map[string]*pendingMate{}
	if len(orphans) > 0 {
		log.Printf("mapseq: %d mates without a partner processed as single-end reads", len(orphans))
	}
	for _, p := range orphans {
		g.stats.Orphans++
		if err := g.process(p.rec); err != nil {
			return err
		}
	}
	return nil
}

// skip attributes a rejected template to its reference's histogram, or to
// the unassigned counts when the reference is not known.  Unmapped reads
// are always unassigned, even when placed next to their mate.
func (g *generator) skip(refName string, reason bitvector.SkipReason, qname string) error {
	g.stats.Rejected++
	if h := g.store.Get(refName); h != nil && reason != bitvector.SkipUnmapped {
		h.RecordSkip(reason)
	} else {
		g.store.RecordUnassigned(reason)
	}
	if g.rejected == nil {
		return nil
	}
	g.rejected.WriteString(qname)
	g.rejected.WriteString(refName)
	g.rejected.WriteString(string(reason))
	return g.rejected.EndLine()
}

// process decodes, merges, filters and records a template of one or two
// reads.
func (g *generator) process(reads ...*alignment.Record) error {
	first := reads[0]
	for _, r := range reads[1:] {
		if r.RefName != first.RefName {
			return g.skip(first.RefName, bitvector.SkipMateMismatch, first.QueryName)
		}
	}
	ref, ok := g.refs[first.RefName]
	if !ok {
		if !g.unknown[first.RefName] {
			g.unknown[first.RefName] = true
			log.Error.Printf("mapseq: reference %s is not in the FASTA file; its reads are skipped", first.RefName)
		}
		return g.skip(first.RefName, bitvector.SkipUnknownReference, first.QueryName)
	}
	var bv bitvector.BitVector
	for i, r := range reads {
		rbv, err := g.decoder.Decode(r, ref)
		if err != nil {
			reason, ok := bitvector.ReasonFor(err)
			if !ok {
				return err
			}
			log.Debug.Printf("mapseq: skipping %s: %v", r.QueryName, err)
			return g.skip(first.RefName, reason, first.QueryName)
		}
		if i == 0 {
			bv = rbv
		} else {
			bv = bitvector.MergePair(bv, rbv)
		}
	}
	if reason, ok := g.filter.Check(bv, len(ref), reads...); !ok {
		return g.skip(first.RefName, reason, first.QueryName)
	}
	g.stats.Accepted++
	g.store.Get(first.RefName).Update(bv, bv.NumMutations())
	if g.out == nil {
		return nil
	}
	e := storage.Entry{
		QueryName: first.QueryName,
		RefName:   first.RefName,
		MapQ1:     first.MapQ,
		Read1Len:  len(first.Seq),
		BitVector: bv,
	}
	if len(reads) > 1 {
		e.MapQ2 = reads[1].MapQ
		e.Read2Len = len(reads[1].Seq)
	}
	return g.out.Write(e)
}

// run processes every record of r.  Lines the reader cannot parse are
// counted as unassigned malformed_record.  The caller closes r.
func (g *generator) run(r alignment.Reader) error {
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if alignment.IsMalformed(err) {
			log.Debug.Printf("mapseq: skipping: %v", err)
			g.stats.Records++
			if err = g.skip(alignment.Unset, bitvector.SkipMalformedRecord, alignment.Unset); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return err
		}
		if err = g.add(rec); err != nil {
			return err
		}
	}
	return g.finish()
}

func mkdir(dir string) error {
	scheme, _, err := file.ParsePath(dir)
	if err != nil {
		return err
	}
	if scheme != "" {
		return nil
	}
	return os.MkdirAll(dir, 0755)
}

// Generate converts the reads of the SAM or BAM file at inPath into bit
// vectors and histograms under outDir: the bit vector files (unless
// SummaryOnly), the histogram snapshot, summary.tsv and, optionally,
// rejected_bvs.tsv and the per-reference pop_avg tables.
func Generate(ctx context.Context, inPath, outDir string, refs []fasta.Reference, opts Opts) (store *histogram.Store, err error) {
	if err = opts.Config.Validate(); err != nil {
		return nil, errors.E(errors.Invalid, err)
	}
	if err = mkdir(outDir); err != nil {
		return nil, err
	}
	in, err := alignment.Open(ctx, inPath)
	if err != nil {
		return nil, err
	}
	defer func() {
		if e := in.Close(); e != nil && err == nil {
			err = e
		}
	}()
	if err = CheckHeader(refs, in.Header()); err != nil {
		return nil, err
	}

	var out storage.Writer
	if !opts.SummaryOnly {
		if out, err = storage.NewWriter(ctx, opts.Config.StorageFormat, outDir, refs, opts.storageOpts()); err != nil {
			return nil, err
		}
		defer func() {
			if e := out.Close(); e != nil && err == nil {
				err = e
			}
		}()
	}
	var rejected *tsv.Writer
	if opts.LogRejected {
		var f file.File
		if f, err = file.Create(ctx, file.Join(outDir, RejectedFileName)); err != nil {
			return nil, err
		}
		defer file.CloseAndReport(ctx, f, &err)
		rejected = tsv.NewWriter(f.Writer(ctx))
		rejected.WriteString("Query_name")
		rejected.WriteString("Reference")
		rejected.WriteString("Reason")
		if err = rejected.EndLine(); err != nil {
			return nil, err
		}
		defer func() {
			if e := rejected.Flush(); e != nil && err == nil {
				err = e
			}
		}()
	}

	g := newGenerator(refs, opts, out, rejected)
	if err = g.run(in); err != nil {
		return nil, errors.E(err, fmt.Sprintf("mapseq: %s", inPath))
	}
	log.Printf("mapseq: %s: %d records, %d templates accepted, %d rejected, %d orphan mates",
		inPath, g.stats.Records, g.stats.Accepted, g.stats.Rejected, g.stats.Orphans)
	if err = writeOutputs(ctx, outDir, g.store, opts); err != nil {
		return nil, err
	}
	return g.store, nil
}

func writeOutputs(ctx context.Context, outDir string, store *histogram.Store, opts Opts) error {
	name := opts.SnapshotName
	if name == "" {
		name = histogram.SnapshotJSONName
	}
	if err := histogram.WriteSnapshot(ctx, file.Join(outDir, name), store); err != nil {
		return err
	}
	histogram.LogSummary(store)
	return histogram.WriteReports(ctx, outDir, store, opts.PopAvg)
}

// ShardDir returns the output directory of shard i under outDir.
func ShardDir(outDir string, i int) string {
	return file.Join(outDir, fmt.Sprintf("shard-%d", i))
}

// GenerateShards runs Generate on every input concurrently, each into its
// own shard directory under outDir, then merges the shard histograms and
// writes the merged snapshot and reports into outDir.
func GenerateShards(ctx context.Context, inPaths []string, outDir string, refs []fasta.Reference, opts Opts) (*histogram.Store, error) {
	stores := make([]*histogram.Store, len(inPaths))
	err := traverse.Each(len(inPaths), func(i int) error {
		var err error
		stores[i], err = Generate(ctx, inPaths[i], ShardDir(outDir, i), refs, opts)
		return err
	})
	if err != nil {
		return nil, err
	}
	merged, err := histogram.MergeAll(stores)
	if err != nil {
		return nil, err
	}
	log.Printf("mapseq: merged %d shards", len(stores))
	if err = writeOutputs(ctx, outDir, merged, opts); err != nil {
		return nil, err
	}
	return merged, nil
}
