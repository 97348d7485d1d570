package alphabet

import (
	"fmt"
	"strings"
)

// proteinseqToks is the standard residue vocabulary shared by the
// supported model families, in canonical order.
var proteinseqToks = []string{
	"L", "A", "G", "V", "S", "E", "R", "T", "I", "D",
	"P", "K", "Q", "N", "F", "Y", "M", "H", "W", "C",
	"X", "B", "U", "Z", "O", ".", "-",
}

// Alphabet maps residue and marker tokens to vocabulary indices. The
// layout matches the pretrained models: <cls>, <pad>, <eos>, <unk>
// lead, residues follow, <null_1> and <mask> close the table.
type Alphabet struct {
	toks  []string
	toIdx map[string]int

	clsIdx  int
	padIdx  int
	eosIdx  int
	unkIdx  int
	maskIdx int

	prependBOS bool
	appendEOS  bool
}

// Protein returns the alphabet used by the single-sequence protein
// models (beginning-of-sequence and end-of-sequence markers enabled).
func Protein() *Alphabet {
	a := &Alphabet{
		toIdx:      make(map[string]int),
		prependBOS: true,
		appendEOS:  true,
	}
	add := func(tok string) int {
		idx := len(a.toks)
		a.toks = append(a.toks, tok)
		a.toIdx[tok] = idx
		return idx
	}

	a.clsIdx = add("<cls>")
	a.padIdx = add("<pad>")
	a.eosIdx = add("<eos>")
	a.unkIdx = add("<unk>")
	for _, tok := range proteinseqToks {
		add(tok)
	}
	add("<null_1>")
	a.maskIdx = add("<mask>")

	return a
}

// Size returns the vocabulary size.
func (a *Alphabet) Size() int { return len(a.toks) }

// Index returns the vocabulary index for tok, or the <unk> index when
// the token is not in the vocabulary.
func (a *Alphabet) Index(tok string) int {
	if idx, ok := a.toIdx[tok]; ok {
		return idx
	}
	return a.unkIdx
}

// PadIdx returns the padding token index.
func (a *Alphabet) PadIdx() int { return a.padIdx }

// ClsIdx returns the beginning-of-sequence marker index.
func (a *Alphabet) ClsIdx() int { return a.clsIdx }

// EosIdx returns the end-of-sequence marker index.
func (a *Alphabet) EosIdx() int { return a.eosIdx }

// ExtraToksPerSeq returns the number of marker tokens added around each
// sequence. Used as the per-sequence overhead in the token budget.
func (a *Alphabet) ExtraToksPerSeq() int {
	n := 0
	if a.prependBOS {
		n++
	}
	if a.appendEOS {
		n++
	}
	return n
}

// Batch is one converted inference batch. Row i of Tokens corresponds
// to Labels[i] and Strs[i]; that alignment must be preserved by every
// consumer.
type Batch struct {
	Labels []string
	Strs   []string
	Tokens [][]int64
}

// PaddedLen returns the token width of the batch.
func (b *Batch) PaddedLen() int {
	if len(b.Tokens) == 0 {
		return 0
	}
	return len(b.Tokens[0])
}

// BatchConverter turns labeled residue strings into a padded token
// matrix, truncating sequences longer than truncationSeqLength.
type BatchConverter struct {
	alphabet            *Alphabet
	truncationSeqLength int
}

// NewBatchConverter creates a converter for the given alphabet.
func NewBatchConverter(a *Alphabet, truncationSeqLength int) (*BatchConverter, error) {
	if truncationSeqLength <= 0 {
		return nil, fmt.Errorf("truncation length must be positive, got %d", truncationSeqLength)
	}
	return &BatchConverter{alphabet: a, truncationSeqLength: truncationSeqLength}, nil
}

// Convert tokenizes a batch of sequences. The returned batch keeps the
// input order; tokens are padded to the longest truncated member plus
// marker overhead.
func (c *BatchConverter) Convert(labels, seqs []string) (*Batch, error) {
	if len(labels) != len(seqs) {
		return nil, fmt.Errorf("labels/sequences length mismatch: %d vs %d", len(labels), len(seqs))
	}

	a := c.alphabet
	maxLen := 0
	truncated := make([]string, len(seqs))
	for i, seq := range seqs {
		s := strings.ToUpper(seq)
		if len(s) > c.truncationSeqLength {
			s = s[:c.truncationSeqLength]
		}
		truncated[i] = s
		if len(s) > maxLen {
			maxLen = len(s)
		}
	}

	width := maxLen + a.ExtraToksPerSeq()
	tokens := make([][]int64, len(seqs))
	for i, s := range truncated {
		row := make([]int64, width)
		for j := range row {
			row[j] = int64(a.padIdx)
		}
		pos := 0
		if a.prependBOS {
			row[pos] = int64(a.clsIdx)
			pos++
		}
		for _, r := range s {
			row[pos] = int64(a.Index(string(r)))
			pos++
		}
		if a.appendEOS {
			row[pos] = int64(a.eosIdx)
		}
		tokens[i] = row
	}

	return &Batch{
		Labels: append([]string(nil), labels...),
		Strs:   append([]string(nil), seqs...),
		Tokens: tokens,
	}, nil
}
