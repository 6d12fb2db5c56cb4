package fasta_test

import (
	"strings"
	"testing"

	"github.com/grailbio/rnamap/encoding/fasta"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

var fastaData = ">seq1\n" + "ACGTA\nCGUAC\nGT\n" + ">seq2 A viral sequence\n" + "acgt\r\n" + "ACGN\n"

func TestReferences(t *testing.T) {
	fa, err := fasta.New(strings.NewReader(fastaData))
	assert.NoError(t, err)
	refs := fa.References()
	assert.EQ(t, len(refs), 2)
	expect.EQ(t, refs[0], fasta.Reference{Name: "seq1", Seq: "ACGTACGUACGT"})
	expect.EQ(t, refs[1], fasta.Reference{Name: "seq2", Seq: "ACGTACGN"})
	expect.EQ(t, refs[0].Len(), 12)
}

func TestMalformed(t *testing.T) {
	tests := []struct {
		data   string
		errStr string
	}{
		{"", "empty FASTA file"},
		{"ACGT\n", "precedes the first"},
		{">\nACGT\n", "without a name"},
		{">a\n>b\nACGT\n", "empty sequence a"},
		{">a\nACGT\n>a\nACGT\n", "duplicate sequence a"},
		{">a\nACXT\n", "invalid character 'X'"},
	}
	for _, tt := range tests {
		_, err := fasta.New(strings.NewReader(tt.data))
		assert.True(t, err != nil, "%q", tt.data)
		assert.HasSubstr(t, err.Error(), tt.errStr)
	}
}
