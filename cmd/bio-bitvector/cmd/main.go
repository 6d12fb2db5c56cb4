package cmd

import (
	"fmt"

	"github.com/grailbio/base/cmdutil"
	"github.com/grailbio/rnamap/bitvector"
	"github.com/grailbio/rnamap/histogram"
	"github.com/grailbio/rnamap/mapseq"
	"v.io/x/lib/cmdline"
)

func newCmdGenerate() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:  "generate",
		Short: "Convert aligned reads into bit vectors and mutation histograms",
		Long: `
generate reads SAM or BAM files aligned against the sequences of a FASTA file
and writes, under -out:

  <ref>_bitvectors.txt or muts.json    accepted bit vectors
  mutation_histos.json (or .rio)       per-reference histograms
  summary.tsv                          per-reference read counts

When several inputs are given, each is processed as an independent shard into
<out>/shard-<i>/ and the shard histograms are merged into <out>.`,
		ArgsName: "sampath...",
	}
	cfg := bitvector.DefaultConfig
	opts := generateOpts{Opts: mapseq.DefaultOpts}
	cmd.Flags.StringVar(&opts.faPath, "fa", "", "Reference FASTA path (required)")
	cmd.Flags.StringVar(&opts.outDir, "out", "", "Output directory (required)")
	cmd.Flags.IntVar(&cfg.QScoreCutoff, "qscore-cutoff", cfg.QScoreCutoff, "Minimum phred score for a mismatch to count as a mutation")
	cmd.Flags.IntVar(&cfg.MapScoreCutoff, "map-score-cutoff", cfg.MapScoreCutoff, "Minimum MAPQ of every read of a template")
	cmd.Flags.IntVar(&cfg.NumSurroundingBases, "num-surrounding-bases", cfg.NumSurroundingBases, "Aligned positions checked on each side of a deletion")
	cmd.Flags.IntVar(&cfg.MutationCountCutoff, "mutation-count-cutoff", cfg.MutationCountCutoff, "Maximum number of mutations per template; negative disables")
	cmd.Flags.Float64Var(&cfg.PercentLengthCutoff, "percent-length-cutoff", cfg.PercentLengthCutoff, "Minimum fraction of the reference covered by informative positions")
	cmd.Flags.IntVar(&cfg.MinMutationDistance, "min-mutation-distance", cfg.MinMutationDistance, "Minimum distance between two mutations; <= 1 disables")
	format := cmd.Flags.String("format", "text", "Bit vector storage format, text or json")
	cmd.Flags.StringVar(&opts.DataType, "data-type", opts.DataType, "Experiment data type written to the outputs")
	cmd.Flags.BoolVar(&opts.Compress, "compress", false, "Write compressed bit vector files")
	cmd.Flags.IntVar(&opts.Parallelism, "parallelism", opts.Parallelism, "Compression goroutines per TEXT file")
	cmd.Flags.BoolVar(&opts.SummaryOnly, "summary-only", false, "Only write histograms and summaries")
	cmd.Flags.BoolVar(&opts.LogRejected, "log-rejected", false, "Write "+mapseq.RejectedFileName)
	cmd.Flags.BoolVar(&opts.PopAvg, "pop-avg", false, "Write per-reference population average tables")
	cmd.Flags.StringVar(&opts.SnapshotName, "snapshot", opts.SnapshotName, "Histogram snapshot file name; a .rio suffix selects the binary layout")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) == 0 {
			return fmt.Errorf("generate takes one or more SAM/BAM paths")
		}
		if opts.faPath == "" || opts.outDir == "" {
			return fmt.Errorf("generate: -fa and -out are required")
		}
		var err error
		if cfg.StorageFormat, err = bitvector.ParseStorageFormat(*format); err != nil {
			return err
		}
		opts.Config = cfg
		return generate(opts, argv)
	})
	return cmd
}

func newCmdMerge() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "merge",
		Short:    "Merge histogram snapshots",
		ArgsName: "snapshot...",
	}
	outDir := cmd.Flags.String("out", "", "Output directory (required)")
	snapshot := cmd.Flags.String("snapshot", histogram.SnapshotJSONName, "Merged snapshot file name")
	popAvg := cmd.Flags.Bool("pop-avg", false, "Write per-reference population average tables")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) == 0 || *outDir == "" {
			return fmt.Errorf("merge takes -out and one or more snapshot paths, but got %v", argv)
		}
		return merge(argv, *outDir, *snapshot, *popAvg)
	})
	return cmd
}

func newCmdConvert() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "convert",
		Short:    "Convert bit vector files between the text and json formats",
		ArgsName: "srcpath... destdir",
	}
	format := cmd.Flags.String("format", "json", "Output format, text or json")
	faPath := cmd.Flags.String("fa", "", "Reference FASTA; required to write text from json")
	compress := cmd.Flags.Bool("compress", false, "Write compressed output")
	dataType := cmd.Flags.String("data-type", mapseq.DefaultOpts.DataType, "Data type written to text headers")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) < 2 {
			return fmt.Errorf("convert takes srcpath... destdir, but found %v", argv)
		}
		f, err := bitvector.ParseStorageFormat(*format)
		if err != nil {
			return err
		}
		return convert(argv[:len(argv)-1], argv[len(argv)-1], f, *faPath, *compress, *dataType)
	})
	return cmd
}

func newCmdChecksum() *cmdline.Command {
	cmd := &cmdline.Command{
		Name: "checksum",
		Short: `Compute a checksum of bit vector files.
The checksum is a JSON string; two sets of files carry the same bit vectors iff
their checksums are equal, regardless of format or read order`,
		ArgsName: "path...",
	}
	name := cmd.Flags.Bool("name", false, "Checksum the query names")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) == 0 {
			return fmt.Errorf("checksum takes one or more paths")
		}
		return checksum(env.Stdout, argv, *name)
	})
	return cmd
}

func newCmdSummary() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "summary",
		Short:    "Write the summary table of a histogram snapshot to stdout",
		ArgsName: "snapshot",
	}
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 1 {
			return fmt.Errorf("summary takes one snapshot path, but got %v", argv)
		}
		return summary(env.Stdout, argv[0])
	})
	return cmd
}

// Run runs the bio-bitvector command line.
func Run() {
	cmdline.HideGlobalFlagsExcept()
	cmdline.Main(
		&cmdline.Command{
			Name:     "bio-bitvector",
			Short:    "Tools for DMS-MaP bit vectors",
			LookPath: false,
			Children: []*cmdline.Command{
				newCmdGenerate(),
				newCmdMerge(),
				newCmdConvert(),
				newCmdChecksum(),
				newCmdSummary(),
			},
		})
}
