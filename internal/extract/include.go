package extract

import (
	"fmt"
	"strings"
)

// IncludeSet is the set of representation kinds to extract. It is
// resolved once from configuration and checked per extraction call;
// kinds left false are skipped entirely.
type IncludeSet struct {
	PerTok    bool
	AvgPerTok bool
	Mean      bool
	Bos       bool
	Contacts  bool
}

// ParseIncludeSet parses representation kind names. The set must be
// non-empty and drawn from {mean, per_tok, avg_per_tok, bos, contacts}.
func ParseIncludeSet(kinds []string) (IncludeSet, error) {
	var set IncludeSet
	if len(kinds) == 0 {
		return set, fmt.Errorf("at least one representation kind must be requested")
	}
	for _, kind := range kinds {
		switch strings.TrimSpace(kind) {
		case "per_tok":
			set.PerTok = true
		case "avg_per_tok":
			set.AvgPerTok = true
		case "mean":
			set.Mean = true
		case "bos":
			set.Bos = true
		case "contacts":
			set.Contacts = true
		default:
			return IncludeSet{}, fmt.Errorf("unknown representation kind: %q", kind)
		}
	}
	return set, nil
}

// NeedsPerTokSlices reports whether any requested kind consumes the
// content-position window of the activations.
func (s IncludeSet) NeedsPerTokSlices() bool {
	return s.PerTok || s.AvgPerTok || s.Mean
}

// String lists the requested kinds in a stable order.
func (s IncludeSet) String() string {
	var kinds []string
	if s.Mean {
		kinds = append(kinds, "mean")
	}
	if s.PerTok {
		kinds = append(kinds, "per_tok")
	}
	if s.AvgPerTok {
		kinds = append(kinds, "avg_per_tok")
	}
	if s.Bos {
		kinds = append(kinds, "bos")
	}
	if s.Contacts {
		kinds = append(kinds, "contacts")
	}
	return strings.Join(kinds, ",")
}
