package fasta

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

// Dataset holds an ordered collection of labeled sequences read from a
// FASTA source. Order is the file order and is preserved through
// batching so activation rows can be mapped back to their sequences.
type Dataset struct {
	labels []string
	seqs   []string
}

// FromFile reads a FASTA file into a Dataset.
func FromFile(path string) (*Dataset, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open fasta file: %w", err)
	}
	defer file.Close()

	ds, err := Parse(file)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return ds, nil
}

// Parse reads FASTA records from r. Lines beginning with '>' denote
// headers; sequence lines are concatenated. Zero records is not an
// error. Sequence data before the first header is.
func Parse(r io.Reader) (*Dataset, error) {
	ds := &Dataset{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var header string
	var seq strings.Builder
	seen := false

	flush := func() {
		ds.labels = append(ds.labels, header)
		ds.seqs = append(ds.seqs, seq.String())
		seq.Reset()
	}

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, ">") {
			if seen {
				flush()
			}
			header = strings.TrimSpace(line[1:])
			seen = true
			continue
		}
		if !seen {
			return nil, fmt.Errorf("sequence data before first header: %q", line)
		}
		seq.WriteString(line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read failed: %w", err)
	}
	if seen {
		flush()
	}
	return ds, nil
}

// Len returns the number of sequences.
func (d *Dataset) Len() int { return len(d.labels) }

// Get returns the header label and residue string at index i.
func (d *Dataset) Get(i int) (label, seq string) {
	return d.labels[i], d.seqs[i]
}

// BatchIndices groups sequence indices into batches whose total token
// count (per-sequence length plus extraToksPerSeq overhead, padded to
// the batch's longest member) stays within toksPerBatch. Sequences are
// packed shortest-first; within a batch, indices keep dataset order of
// the sorted walk. A single sequence longer than the budget still gets
// its own batch.
func (d *Dataset) BatchIndices(toksPerBatch, extraToksPerSeq int) ([][]int, error) {
	if toksPerBatch <= 0 {
		return nil, fmt.Errorf("toks per batch must be positive, got %d", toksPerBatch)
	}

	type sized struct {
		n   int
		idx int
	}
	sizes := make([]sized, d.Len())
	for i, s := range d.seqs {
		sizes[i] = sized{n: len(s), idx: i}
	}
	sort.Slice(sizes, func(a, b int) bool {
		if sizes[a].n != sizes[b].n {
			return sizes[a].n < sizes[b].n
		}
		return sizes[a].idx < sizes[b].idx
	})

	var batches [][]int
	var buf []int
	maxLen := 0

	flush := func() {
		if len(buf) == 0 {
			return
		}
		batches = append(batches, buf)
		buf = nil
		maxLen = 0
	}

	for _, s := range sizes {
		n := s.n + extraToksPerSeq
		if max(n, maxLen)*(len(buf)+1) > toksPerBatch {
			flush()
		}
		maxLen = max(maxLen, n)
		buf = append(buf, s.idx)
	}
	flush()

	return batches, nil
}
