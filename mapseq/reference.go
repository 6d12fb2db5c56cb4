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

package mapseq

import (
	"context"
	"fmt"

	"github.com/grailbio/base/compress"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/rnamap/encoding/fasta"
)

// LoadReferences reads all sequences of the (optionally compressed) FASTA
// file at fapath.
func LoadReferences(ctx context.Context, fapath string) (refs []fasta.Reference, err error) {
	var infile file.File
	if infile, err = file.Open(ctx, fapath); err != nil {
		return
	}
	defer func() {
		if e := infile.Close(ctx); e != nil && err == nil {
			err = e
		}
	}()
	reader, _ := compress.NewReader(infile.Reader(ctx))
	defer func() {
		if e := reader.Close(); e != nil && err == nil {
			err = e
		}
	}()
	fa, err := fasta.New(reader)
	if err != nil {
		return nil, errors.E(errors.Invalid, err, fapath)
	}
	refs = fa.References()
	log.Printf("mapseq: loaded %d references from %s", len(refs), fapath)
	return refs, nil
}

// CheckHeader verifies that every @SQ line of header naming a loaded
// reference agrees on its length.  References present on only one side are
// logged; reads aligned to a reference missing from the FASTA are later
// skipped as unknown_reference.
func CheckHeader(refs []fasta.Reference, header *sam.Header) error {
	if header == nil {
		return nil
	}
	lens := make(map[string]int, len(refs))
	for _, ref := range refs {
		lens[ref.Name] = ref.Len()
	}
	nMissingFromFa := 0
	for _, sq := range header.Refs() {
		refLen, ok := lens[sq.Name()]
		if !ok {
			nMissingFromFa++
			continue
		}
		if refLen != sq.Len() {
			return errors.E(errors.Precondition,
				fmt.Sprintf("mapseq: inconsistent lengths for reference %s (%d in SAM/BAM header, %d in FASTA)", sq.Name(), sq.Len(), refLen))
		}
	}
	if nMissingFromFa != 0 {
		log.Printf("mapseq: warning: %d reference(s) present in SAM/BAM header but missing from FASTA", nMissingFromFa)
	}
	if nMissingFromXam := len(refs) + nMissingFromFa - len(header.Refs()); len(header.Refs()) > 0 && nMissingFromXam != 0 {
		log.Printf("mapseq: warning: %d reference(s) present in FASTA but missing from SAM/BAM header", nMissingFromXam)
	}
	return nil
}
