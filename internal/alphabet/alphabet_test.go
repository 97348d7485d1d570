package alphabet

import (
	"strings"
	"testing"
)

func TestProteinAlphabet(t *testing.T) {
	a := Protein()

	t.Run("MarkerIndices", func(t *testing.T) {
		if a.ClsIdx() != 0 {
			t.Errorf("cls index = %d, want 0", a.ClsIdx())
		}
		if a.PadIdx() != 1 {
			t.Errorf("pad index = %d, want 1", a.PadIdx())
		}
		if a.EosIdx() != 2 {
			t.Errorf("eos index = %d, want 2", a.EosIdx())
		}
		if a.Size() != 33 {
			t.Errorf("vocabulary size = %d, want 33", a.Size())
		}
	})

	t.Run("UnknownResidue", func(t *testing.T) {
		if got, want := a.Index("J"), a.Index("<unk>"); got != want {
			t.Errorf("unknown residue index = %d, want unk index %d", got, want)
		}
	})

	t.Run("ExtraToksPerSeq", func(t *testing.T) {
		if a.ExtraToksPerSeq() != 2 {
			t.Errorf("extra toks per seq = %d, want 2 (bos+eos)", a.ExtraToksPerSeq())
		}
	})
}

func TestBatchConverter(t *testing.T) {
	a := Protein()

	t.Run("TokenLayout", func(t *testing.T) {
		c, err := NewBatchConverter(a, 1022)
		if err != nil {
			t.Fatalf("NewBatchConverter failed: %v", err)
		}
		batch, err := c.Convert([]string{"s1", "s2"}, []string{"MK", "GAVL"})
		if err != nil {
			t.Fatalf("Convert failed: %v", err)
		}

		if batch.PaddedLen() != 6 { // longest (4) + bos + eos
			t.Fatalf("padded len = %d, want 6", batch.PaddedLen())
		}

		row := batch.Tokens[0]
		if row[0] != int64(a.ClsIdx()) {
			t.Errorf("position 0 = %d, want cls %d", row[0], a.ClsIdx())
		}
		if row[1] != int64(a.Index("M")) || row[2] != int64(a.Index("K")) {
			t.Errorf("content positions wrong: %v", row[:4])
		}
		if row[3] != int64(a.EosIdx()) {
			t.Errorf("position after content = %d, want eos %d", row[3], a.EosIdx())
		}
		if row[4] != int64(a.PadIdx()) || row[5] != int64(a.PadIdx()) {
			t.Errorf("trailing positions should be pad: %v", row[4:])
		}
	})

	t.Run("Truncation", func(t *testing.T) {
		c, _ := NewBatchConverter(a, 3)
		batch, err := c.Convert([]string{"long"}, []string{"MKTAYIAK"})
		if err != nil {
			t.Fatalf("Convert failed: %v", err)
		}
		if batch.PaddedLen() != 5 { // 3 content + bos + eos
			t.Errorf("padded len = %d, want 5", batch.PaddedLen())
		}
		if batch.Tokens[0][4] != int64(a.EosIdx()) {
			t.Errorf("eos should follow the truncated window")
		}
		// Raw string is kept untruncated for downstream length math.
		if batch.Strs[0] != "MKTAYIAK" {
			t.Errorf("original string not preserved: %q", batch.Strs[0])
		}
	})

	t.Run("LowercaseInput", func(t *testing.T) {
		c, _ := NewBatchConverter(a, 1022)
		batch, err := c.Convert([]string{"s"}, []string{strings.ToLower("MK")})
		if err != nil {
			t.Fatalf("Convert failed: %v", err)
		}
		if batch.Tokens[0][1] != int64(a.Index("M")) {
			t.Errorf("lowercase residues should be uppercased before lookup")
		}
	})

	t.Run("LengthMismatch", func(t *testing.T) {
		c, _ := NewBatchConverter(a, 1022)
		if _, err := c.Convert([]string{"a", "b"}, []string{"MK"}); err == nil {
			t.Error("expected error for mismatched labels/sequences")
		}
	})

	t.Run("InvalidTruncation", func(t *testing.T) {
		if _, err := NewBatchConverter(a, 0); err == nil {
			t.Error("expected error for non-positive truncation length")
		}
	})
}
