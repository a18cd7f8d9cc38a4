package imagewriter

import (
	"strconv"

	"github.com/bcmrecovery/installer/internal/platform"
)

// LabelFinder probes whether a filesystem label is already in use on the
// live system, via `findfs LABEL=<label>` (spec §4.5 step 1).
type LabelFinder func(label string) bool

// findfsLabelExists is the production LabelFinder: findfs exits
// non-zero when no filesystem carries the label.
func findfsLabelExists(label string) bool {
	return platform.Command{}.Run("probe label "+label, "findfs", "LABEL="+label) == nil
}

// AdjustLabel implements spec §4.5 step 1: clear a label over 15 bytes;
// otherwise, if it collides with an existing filesystem, append 0..9
// until one doesn't collide. If none of the ten suffixes works, the
// original (colliding) label is returned unchanged — the first
// non-clashing candidate wins, and a persistent clash is left as-is
// rather than failing the install (spec §7 "Non-fatal: label collision").
func AdjustLabel(label string, exists LabelFinder) string {
	if len(label) > 15 {
		return ""
	}
	if !exists(label) {
		return label
	}
	for i := 0; i < 10; i++ {
		candidate := label + strconv.Itoa(i)
		if !exists(candidate) {
			return candidate
		}
	}
	return label
}
