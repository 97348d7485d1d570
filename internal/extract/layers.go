package extract

import (
	"errors"
	"fmt"
)

// ErrInvalidLayerIndex marks layer requests outside the model's legal
// range. It is raised before any inference work begins.
var ErrInvalidLayerIndex = errors.New("invalid layer index")

// ResolveLayers normalizes requested layer indices, which may be
// negative (counting from the end), into absolute indices. With
// numLayers total layers, legal requests lie in [-(numLayers+1),
// numLayers]; layer 0 is the input embedding and layer numLayers the
// final transform. Duplicate requests collapse to one, keeping first
// occurrence order.
func ResolveLayers(numLayers int, requested []int) ([]int, error) {
	if numLayers <= 0 {
		return nil, fmt.Errorf("model must have a positive layer count, got %d", numLayers)
	}
	if len(requested) == 0 {
		return nil, fmt.Errorf("%w: no layers requested", ErrInvalidLayerIndex)
	}

	resolved := make([]int, 0, len(requested))
	seen := make(map[int]bool, len(requested))
	for _, i := range requested {
		if i < -(numLayers+1) || i > numLayers {
			return nil, fmt.Errorf("%w: %d outside [%d, %d]", ErrInvalidLayerIndex, i, -(numLayers + 1), numLayers)
		}
		// i + numLayers + 1 is non-negative for all legal i.
		abs := (i + numLayers + 1) % (numLayers + 1)
		if !seen[abs] {
			seen[abs] = true
			resolved = append(resolved, abs)
		}
	}
	return resolved, nil
}
