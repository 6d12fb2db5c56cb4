package alignment_test

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/rnamap/encoding/alignment"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

const testSAM = "@HD\tVN:1.6\tSO:unsorted\n" +
	"@SQ\tSN:rnaA\tLN:8\n" +
	"r1\t99\trnaA\t1\t42\t4M\t=\t5\t8\tacgt\tIIII\n" +
	"r2\t4\t*\t0\t0\t*\t*\t0\t0\tACGT\t*\n" +
	"\n" +
	"r3\t0\trnaA\t3\t9\t2Q2M\t*\t0\t0\tACGT\t!!+I"

func readAll(t *testing.T, r alignment.Reader) []*alignment.Record {
	var recs []*alignment.Record
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		assert.NoError(t, err)
		recs = append(recs, rec)
	}
	return recs
}

func TestSAMReader(t *testing.T) {
	r, err := alignment.NewSAMReader(strings.NewReader(testSAM))
	assert.NoError(t, err)
	refs := r.Header().Refs()
	assert.EQ(t, len(refs), 1)
	expect.EQ(t, refs[0].Name(), "rnaA")
	expect.EQ(t, refs[0].Len(), 8)

	recs := readAll(t, r)
	assert.EQ(t, len(recs), 3)
	expect.EQ(t, recs[0], &alignment.Record{
		QueryName: "r1",
		Flags:     sam.Flags(99),
		RefName:   "rnaA",
		Pos:       1,
		MapQ:      42,
		Cigar:     "4M",
		Seq:       "ACGT",
		Qual:      []byte{40, 40, 40, 40},
	})
	expect.True(t, recs[0].IsPaired())
	expect.True(t, recs[0].IsFirstMate())
	expect.False(t, recs[0].IsUnmapped())

	expect.True(t, recs[1].IsUnmapped())
	expect.Nil(t, recs[1].Qual)

	// The reader does not validate the CIGAR.
	expect.EQ(t, recs[2].Cigar, "2Q2M")
	expect.EQ(t, recs[2].Qual, []byte{0, 0, 10, 40})
	assert.NoError(t, r.Close())
}

func TestSAMReaderMalformed(t *testing.T) {
	const good = "r2\t0\trnaA\t1\t42\t4M\t*\t0\t0\tACGT\tIIII\n"
	for _, line := range []string{
		"r1\t0\trnaA\t1\n",
		"r1\tx\trnaA\t1\t42\t4M\t*\t0\t0\tACGT\tIIII\n",
		"r1\t0\trnaA\t-3\t42\t4M\t*\t0\t0\tACGT\tIIII\n",
		"r1\t0\trnaA\t1\t420\t4M\t*\t0\t0\tACGT\tIIII\n",
		"r1\t0\trnaA\t1\t42\t4M\t*\t0\t0\tACGT\tII\x1fI\n",
	} {
		r, err := alignment.NewSAMReader(strings.NewReader(line + good))
		assert.NoError(t, err)
		_, err = r.Read()
		expect.True(t, alignment.IsMalformed(err), "line %q: %v", line, err)

		// The bad line is consumed; the next one still reads.
		rec, err := r.Read()
		assert.NoError(t, err, "line %q", line)
		expect.EQ(t, rec.QueryName, "r2")
		_, err = r.Read()
		expect.EQ(t, err, io.EOF)
	}
}

func TestBAMReader(t *testing.T) {
	ref, err := sam.NewReference("rnaA", "", "", 8, nil, nil)
	assert.NoError(t, err)
	header, err := sam.NewHeader(nil, []*sam.Reference{ref})
	assert.NoError(t, err)

	var buf bytes.Buffer
	w, err := bam.NewWriter(&buf, header, 1)
	assert.NoError(t, err)
	records := []*sam.Record{
		{
			Name:  "r1",
			Ref:   ref,
			Pos:   2,
			MapQ:  30,
			Flags: sam.Paired | sam.Read2,
			Cigar: sam.Cigar{sam.NewCigarOp(sam.CigarMatch, 3), sam.NewCigarOp(sam.CigarDeletion, 1), sam.NewCigarOp(sam.CigarMatch, 1)},
			Seq:   sam.NewSeq([]byte("ACGT")),
			Qual:  []byte{30, 31, 32, 33},
		},
		{
			Name:  "r2",
			Pos:   -1,
			Flags: sam.Unmapped,
			Seq:   sam.NewSeq([]byte("ACGT")),
			Qual:  []byte{0xff, 0xff, 0xff, 0xff},
		},
	}
	for _, rec := range records {
		rec.MatePos = -1
		assert.NoError(t, w.Write(rec))
	}
	assert.NoError(t, w.Close())

	r, err := alignment.NewBAMReader(&buf)
	assert.NoError(t, err)
	recs := readAll(t, r)
	assert.EQ(t, len(recs), 2)
	expect.EQ(t, recs[0], &alignment.Record{
		QueryName: "r1",
		Flags:     sam.Paired | sam.Read2,
		RefName:   "rnaA",
		Pos:       3,
		MapQ:      30,
		Cigar:     "3M1D1M",
		Seq:       "ACGT",
		Qual:      []byte{30, 31, 32, 33},
	})
	expect.False(t, recs[0].IsFirstMate())
	expect.EQ(t, recs[1].RefName, alignment.Unset)
	expect.EQ(t, recs[1].Cigar, alignment.Unset)
	expect.Nil(t, recs[1].Qual)
	assert.NoError(t, r.Close())
}
