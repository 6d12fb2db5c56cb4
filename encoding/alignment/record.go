// Package alignment reads aligned sequencing reads from SAM or BAM files
// into a flat Record that keeps the CIGAR string exactly as the aligner
// emitted it.
package alignment

import (
	"github.com/grailbio/hts/sam"
)

// Unset is the SAM placeholder for a missing RNAME, CIGAR, SEQ or QUAL.
const Unset = "*"

// Record is one alignment line.
type Record struct {
	QueryName string
	Flags     sam.Flags
	// RefName is "*" for an unplaced read.
	RefName string
	// Pos is the 1-based leftmost reference position, 0 when unplaced.
	Pos  int
	MapQ int
	// Cigar is the raw CIGAR string; "*" when unavailable.
	Cigar string
	// Seq is the read sequence as stored in the file (upper case); empty when
	// SEQ is "*".
	Seq string
	// Qual holds phred scores (no +33 offset), one per base of Seq, or nil when
	// QUAL is "*".
	Qual []byte
}

// IsPaired reports whether the template has multiple segments.
func (r *Record) IsPaired() bool { return r.Flags&sam.Paired != 0 }

// IsFirstMate reports whether the record is the first segment of a pair.
func (r *Record) IsFirstMate() bool { return r.Flags&sam.Read1 != 0 }

// IsUnmapped reports whether the segment is unmapped.  A record without a
// reference name is treated as unmapped even when the flag is clear.
func (r *Record) IsUnmapped() bool {
	return r.Flags&sam.Unmapped != 0 || r.RefName == Unset || r.RefName == ""
}

// MateUnmapped reports whether the next segment of the template is unmapped.
func (r *Record) MateUnmapped() bool { return r.Flags&sam.MateUnmapped != 0 }

// IsSecondary reports whether the record is a secondary or supplementary
// alignment.
func (r *Record) IsSecondary() bool {
	return r.Flags&(sam.Secondary|sam.Supplementary) != 0
}

// FromSAM converts a decoded hts record.
func FromSAM(r *sam.Record) *Record {
	rec := &Record{
		QueryName: r.Name,
		Flags:     r.Flags,
		RefName:   Unset,
		Pos:       r.Pos + 1,
		MapQ:      int(r.MapQ),
		Cigar:     Unset,
		Seq:       string(r.Seq.Expand()),
	}
	if r.Ref != nil {
		rec.RefName = r.Ref.Name()
	} else {
		rec.Pos = 0
	}
	if len(r.Cigar) > 0 {
		rec.Cigar = r.Cigar.String()
	}
	// BAM stores 0xff for every base when QUAL is absent.
	for _, q := range r.Qual {
		if q != 0xff {
			rec.Qual = append([]byte(nil), r.Qual...)
			break
		}
	}
	return rec
}
