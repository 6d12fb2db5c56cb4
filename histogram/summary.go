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
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/rnamap/bitvector"
)

// SummaryFileName is the name of the per-reference summary table.
const SummaryFileName = "summary.tsv"

// UnassignedRowName names the summary row of unattributed templates.
const UnassignedRowName = "*"

// PopAvgFileName returns the name of the per-position table of ref.
func PopAvgFileName(ref string) string { return ref + "_pop_avg.tsv" }

func mutationColumn(k int) string {
	if k == 1 {
		return "1_mutation"
	}
	return strconv.Itoa(k) + "_mutations"
}

func formatFloat(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }

// WriteSummary writes one row per reference, in name order, followed by
// the unassigned row.
func WriteSummary(w io.Writer, s *Store) error {
	names := s.Names()
	maxMut := 0
	for _, name := range names {
		if n := len(s.Histos[name].NumOfMutations); n > maxMut {
			maxMut = n
		}
	}
	tw := tsv.NewWriter(w)
	for _, col := range []string{"name", "num_reads", "num_aligned", "aligned_pct", "signal_to_noise"} {
		tw.WriteString(col)
	}
	for _, reason := range bitvector.SkipReasons {
		tw.WriteString(string(reason))
	}
	for k := 0; k < maxMut; k++ {
		tw.WriteString(mutationColumn(k))
	}
	if err := tw.EndLine(); err != nil {
		return err
	}
	for _, name := range names {
		h := s.Histos[name]
		tw.WriteString(h.Name)
		tw.WriteInt64(h.NumReads)
		tw.WriteInt64(h.NumAligned)
		pct := 0.0
		if h.NumReads > 0 {
			pct = round(float64(h.NumAligned)/float64(h.NumReads)*100, 2)
		}
		tw.WriteString(formatFloat(pct))
		tw.WriteString(formatFloat(h.SignalToNoise()))
		for _, reason := range bitvector.SkipReasons {
			tw.WriteInt64(h.Skips[string(reason)])
		}
		for k := 0; k < maxMut; k++ {
			var n int64
			if k < len(h.NumOfMutations) {
				n = h.NumOfMutations[k]
			}
			tw.WriteInt64(n)
		}
		if err := tw.EndLine(); err != nil {
			return err
		}
	}
	tw.WriteString(UnassignedRowName)
	tw.WriteInt64(s.NumUnassigned)
	tw.WriteInt64(0)
	tw.WriteString("0")
	tw.WriteString("0")
	for _, reason := range bitvector.SkipReasons {
		tw.WriteInt64(s.Unassigned[string(reason)])
	}
	for k := 0; k < maxMut; k++ {
		tw.WriteInt64(0)
	}
	if err := tw.EndLine(); err != nil {
		return err
	}
	return tw.Flush()
}

// PopAvgRow is one row of a <ref>_pop_avg.tsv file.
type PopAvgRow struct {
	Position    int64   `tsv:"position"`
	Nuc         string  `tsv:"nuc"`
	Mismatches  float64 `tsv:"mismatches"`
	MismatchDel float64 `tsv:"mismatch_del"`
}

// WritePopAvg writes the per-position mutation rates of h.
func WritePopAvg(w io.Writer, h *Histogram) error {
	mis, misDel := h.PopAvg(false), h.PopAvg(true)
	rw := tsv.NewRowWriter(w)
	for i := 0; i < h.Len(); i++ {
		row := PopAvgRow{
			Position:    int64(i + 1),
			Nuc:         h.Sequence[i : i+1],
			Mismatches:  mis[i],
			MismatchDel: misDel[i],
		}
		if err := rw.Write(&row); err != nil {
			return err
		}
	}
	return rw.Flush()
}

// LogSummary logs one line per reference.
func LogSummary(s *Store) {
	for _, name := range s.Names() {
		h := s.Histos[name]
		pct := h.PercentMutations()
		log.Printf("%s: %d reads, %d aligned, %d skipped, signal/noise %v, mutations 0:%v%% 1:%v%% 2:%v%% 3:%v%% >3:%v%%",
			name, h.NumReads, h.NumAligned, h.NumSkipped(), h.SignalToNoise(), pct[0], pct[1], pct[2], pct[3], pct[4])
	}
	if s.NumUnassigned > 0 {
		log.Printf("unassigned: %d reads %v", s.NumUnassigned, s.Unassigned)
	}
}

// WriteReports writes summary.tsv and, when popAvg is set, one
// <ref>_pop_avg.tsv per reference under dir.
func WriteReports(ctx context.Context, dir string, s *Store, popAvg bool) error {
	if err := writeFile(ctx, file.Join(dir, SummaryFileName), func(w io.Writer) error {
		return WriteSummary(w, s)
	}); err != nil {
		return err
	}
	if !popAvg {
		return nil
	}
	for _, name := range s.Names() {
		h := s.Histos[name]
		if err := writeFile(ctx, file.Join(dir, PopAvgFileName(name)), func(w io.Writer) error {
			return WritePopAvg(w, h)
		}); err != nil {
			return err
		}
	}
	return nil
}

func writeFile(ctx context.Context, path string, fn func(io.Writer) error) (err error) {
	f, err := file.Create(ctx, path)
	if err != nil {
		return errors.E(err, fmt.Sprintf("histogram: create %s", path))
	}
	defer file.CloseAndReport(ctx, f, &err)
	return fn(f.Writer(ctx))
}
