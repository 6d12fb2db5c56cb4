package cmd

import (
	"encoding/json"
	"io"
	"os"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/rnamap/bitvector"
	"github.com/grailbio/rnamap/bitvector/storage"
	"github.com/grailbio/rnamap/encoding/fasta"
	"github.com/grailbio/rnamap/histogram"
	"github.com/grailbio/rnamap/mapseq"
)

type generateOpts struct {
	mapseq.Opts
	faPath string
	outDir string
}

func generate(opts generateOpts, inPaths []string) error {
	ctx := vcontext.Background()
	refs, err := mapseq.LoadReferences(ctx, opts.faPath)
	if err != nil {
		return err
	}
	if len(inPaths) == 1 {
		_, err = mapseq.Generate(ctx, inPaths[0], opts.outDir, refs, opts.Opts)
		return err
	}
	_, err = mapseq.GenerateShards(ctx, inPaths, opts.outDir, refs, opts.Opts)
	return err
}

func merge(paths []string, outDir, snapshot string, popAvg bool) error {
	ctx := vcontext.Background()
	stores := make([]*histogram.Store, len(paths))
	for i, path := range paths {
		s, err := histogram.LoadSnapshot(ctx, path)
		if err != nil {
			return err
		}
		stores[i] = s
	}
	merged, err := histogram.MergeAll(stores)
	if err != nil {
		return err
	}
	if err = os.MkdirAll(outDir, 0755); err != nil {
		return err
	}
	if err = histogram.WriteSnapshot(ctx, file.Join(outDir, snapshot), merged); err != nil {
		return err
	}
	histogram.LogSummary(merged)
	return histogram.WriteReports(ctx, outDir, merged, popAvg)
}

func convert(srcPaths []string, dstDir string, format bitvector.StorageFormat, faPath string, compress bool, dataType string) error {
	ctx := vcontext.Background()
	var refs []fasta.Reference
	if faPath != "" {
		var err error
		if refs, err = mapseq.LoadReferences(ctx, faPath); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(dstDir, 0755); err != nil {
		return err
	}
	opts := storage.ConvertOpts{
		Format: format,
		Refs:   refs,
		Opts:   storage.Opts{DataType: dataType, Compress: compress, Parallelism: 1},
	}
	_, err := storage.Convert(ctx, srcPaths, dstDir, opts)
	return err
}

func checksum(out io.Writer, paths []string, names bool) error {
	sum, err := storage.ComputeChecksum(vcontext.Background(), paths, storage.ChecksumOpts{Names: names})
	if err != nil {
		return err
	}
	data, err := json.Marshal(sum)
	if err != nil {
		return err
	}
	log.Debug.Printf("checksum of %d files: %d entries", len(paths), sum.NumEntries)
	_, err = out.Write(append(data, '\n'))
	return err
}

func summary(out io.Writer, path string) error {
	s, err := histogram.LoadSnapshot(vcontext.Background(), path)
	if err != nil {
		return err
	}
	return histogram.WriteSummary(out, s)
}
