// Package fasta contains code for parsing the FASTA files that hold the
// reference RNA constructs of a mutational-profiling experiment.  FASTA files
// consist of a number of named sequences that may be interrupted by newlines.
// For example:
//
// >rnaA
// GGAAGAUC
// GAGUAC
// >rnaB
// ACGU
//
// Note: Sequence names are defined to be the stretch of characters excluding
// spaces immediately after '>'.  Any text appear after a space are ignored.
// For example, '>rnaA MTT riboswitch' becomes 'rnaA'.
package fasta

import (
	"bufio"
	"io"
	"strings"

	"github.com/pkg/errors"
)

const (
	bufferInitSize = 1024 * 1024 * 16 // 16 MB
)

// Reference is a named reference sequence.  Seq is upper-cased and only
// contains A, C, G, T, U and N.
type Reference struct {
	Name string
	Seq  string
}

// Len returns the sequence length.
func (r Reference) Len() int { return len(r.Seq) }

// Fasta represents FASTA-formatted data, consisting of a set of named
// sequences.
type Fasta interface {
	// References returns all sequences in the order of appearance.
	References() []Reference
}

type fasta struct {
	seqs     map[string]string
	seqNames []string
}

// New creates a new Fasta that holds all the FASTA data from the given reader
// in memory.  It fails on a sequence without a name, a duplicate name, an
// empty sequence, or a character outside ACGTUN.
func New(r io.Reader) (Fasta, error) {
	f := &fasta{seqs: make(map[string]string)}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(nil, bufferInitSize)
	var (
		seqName string
		seq     strings.Builder
		started bool
		lineNum int
	)
	flush := func() error {
		if !started {
			return nil
		}
		if seqName == "" {
			return errors.Errorf("malformed FASTA file: sequence without a name")
		}
		if seq.Len() == 0 {
			return errors.Errorf("malformed FASTA file: empty sequence %s", seqName)
		}
		if _, ok := f.seqs[seqName]; ok {
			return errors.Errorf("malformed FASTA file: duplicate sequence %s", seqName)
		}
		f.seqs[seqName] = seq.String()
		f.seqNames = append(f.seqNames, seqName)
		seq.Reset()
		return nil
	}
	for scanner.Scan() {
		lineNum++
		line := strings.TrimRight(scanner.Text(), "\r")
		if len(line) == 0 {
			continue
		}
		if line[0] == '>' { // Start a new sequence.
			if err := flush(); err != nil {
				return nil, err
			}
			started = true
			seqName = strings.Split(line[1:], " ")[0]
			continue
		}
		if !started {
			return nil, errors.Errorf("malformed FASTA file: line %d precedes the first '>'", lineNum)
		}
		for i := 0; i < len(line); i++ {
			c := upper(line[i])
			switch c {
			case 'A', 'C', 'G', 'T', 'U', 'N':
				seq.WriteByte(c)
			default:
				return nil, errors.Errorf("sequence %s: invalid character %q at line %d", seqName, line[i], lineNum)
			}
		}
	}
	if scanner.Err() != nil {
		return nil, errors.Wrap(scanner.Err(), "couldn't read FASTA data")
	}
	if err := flush(); err != nil {
		return nil, err
	}
	if len(f.seqNames) == 0 {
		return nil, errors.Errorf("empty FASTA file")
	}
	return f, nil
}

func upper(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - ('a' - 'A')
	}
	return c
}

// References implements Fasta.References().
func (f *fasta) References() []Reference {
	refs := make([]Reference, len(f.seqNames))
	for i, name := range f.seqNames {
		refs[i] = Reference{Name: name, Seq: f.seqs[name]}
	}
	return refs
}
