package alignment

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"strconv"
	"strings"

	"github.com/grailbio/base/compress"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"
)

// Reader yields alignment records in file order.
type Reader interface {
	// Header returns the parsed file header.
	Header() *sam.Header
	// Read returns the next record, or io.EOF after the last one.  An error
	// satisfying IsMalformed concerns a single line; reading may continue.
	Read() (*Record, error)
	// Close releases the underlying resources.
	Close() error
}

// number of mandatory SAM columns.
const samColumns = 11

type samReader struct {
	r      *bufio.Reader
	header *sam.Header
	lineNo int
	closer io.Closer
}

// NewSAMReader parses the header of SAM text read from r and returns a Reader
// positioned at the first alignment line.  Records are split by hand rather
// than through sam.Record.UnmarshalSAM so that a CIGAR string the decoder
// would reject still reaches the caller verbatim.
func NewSAMReader(r io.Reader) (Reader, error) {
	sr := &samReader{r: bufio.NewReaderSize(r, 1<<20)}
	var text bytes.Buffer
	for {
		b, err := sr.r.Peek(1)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if b[0] != '@' {
			break
		}
		line, err := sr.r.ReadBytes('\n')
		if err != nil && err != io.EOF {
			return nil, err
		}
		sr.lineNo++
		text.Write(line)
		if len(line) == 0 || line[len(line)-1] != '\n' {
			text.WriteByte('\n')
		}
		if err == io.EOF {
			break
		}
	}
	h, err := sam.NewHeader(text.Bytes(), nil)
	if err != nil {
		return nil, errors.E(errors.Invalid, err, "alignment: bad SAM header")
	}
	sr.header = h
	return sr, nil
}

func (sr *samReader) Header() *sam.Header { return sr.header }

func (sr *samReader) Read() (*Record, error) {
	for {
		line, err := sr.r.ReadString('\n')
		if err != nil && (err != io.EOF || len(line) == 0) {
			return nil, err
		}
		sr.lineNo++
		line = strings.TrimRight(line, "\r\n")
		if len(line) == 0 {
			if err == io.EOF {
				return nil, io.EOF
			}
			continue
		}
		return sr.parse(line)
	}
}

func (sr *samReader) parse(line string) (*Record, error) {
	fields := strings.SplitN(line, "\t", samColumns+1)
	if len(fields) < samColumns {
		return nil, lineErrorf(sr.lineNo, "%d columns, want at least %d", len(fields), samColumns)
	}
	flags, err := strconv.ParseUint(fields[1], 10, 16)
	if err != nil {
		return nil, lineErrorf(sr.lineNo, "bad FLAG %q", fields[1])
	}
	pos, err := strconv.Atoi(fields[3])
	if err != nil || pos < 0 {
		return nil, lineErrorf(sr.lineNo, "bad POS %q", fields[3])
	}
	mapq, err := strconv.Atoi(fields[4])
	if err != nil || mapq < 0 || mapq > 255 {
		return nil, lineErrorf(sr.lineNo, "bad MAPQ %q", fields[4])
	}
	rec := &Record{
		QueryName: fields[0],
		Flags:     sam.Flags(flags),
		RefName:   fields[2],
		Pos:       pos,
		MapQ:      mapq,
		Cigar:     fields[5],
	}
	if fields[9] != Unset {
		rec.Seq = strings.ToUpper(fields[9])
	}
	if q := fields[10]; q != Unset {
		rec.Qual = make([]byte, len(q))
		for i := 0; i < len(q); i++ {
			if q[i] < 33 {
				return nil, lineErrorf(sr.lineNo, "bad QUAL character %q", q[i])
			}
			rec.Qual[i] = q[i] - 33
		}
	}
	return rec, nil
}

func (sr *samReader) Close() error {
	if sr.closer != nil {
		return sr.closer.Close()
	}
	return nil
}

type bamReader struct {
	r *bam.Reader
}

// NewBAMReader returns a Reader over BAM data.
func NewBAMReader(r io.Reader) (Reader, error) {
	br, err := bam.NewReader(r, 1)
	if err != nil {
		return nil, errors.E(errors.Invalid, err, "alignment: bad BAM stream")
	}
	return &bamReader{r: br}, nil
}

func (br *bamReader) Header() *sam.Header { return br.r.Header() }

func (br *bamReader) Read() (*Record, error) {
	r, err := br.r.Read()
	if err != nil {
		return nil, err
	}
	rec := FromSAM(r)
	sam.PutInFreePool(r)
	return rec, nil
}

func (br *bamReader) Close() error { return br.r.Close() }

type fileReader struct {
	Reader
	ctx context.Context
	in  file.File
	rc  io.Closer
}

// Open opens a SAM (optionally gzip, bzip2 or zstd compressed) or BAM file.
// The format is chosen by the ".bam" suffix.
func Open(ctx context.Context, path string) (Reader, error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.E(err, "alignment: open", path)
	}
	fr := &fileReader{ctx: ctx, in: in}
	if strings.HasSuffix(path, ".bam") {
		fr.Reader, err = NewBAMReader(in.Reader(ctx))
	} else {
		rc, _ := compress.NewReader(in.Reader(ctx))
		fr.rc = rc
		fr.Reader, err = NewSAMReader(rc)
	}
	if err != nil {
		_ = fr.closeFiles()
		return nil, errors.E(err, path)
	}
	return fr, nil
}

func (fr *fileReader) closeFiles() error {
	var err error
	if fr.rc != nil {
		err = fr.rc.Close()
	}
	if e := fr.in.Close(fr.ctx); e != nil && err == nil {
		err = e
	}
	return err
}

func (fr *fileReader) Close() error {
	err := fr.Reader.Close()
	if e := fr.closeFiles(); e != nil && err == nil {
		err = e
	}
	return err
}
