package manifest

import (
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

var knownCompressionSuffixes = []string{".gz", ".xz", ".bz2", ".lzo", ".zip"}

// ValidationError marks a failure as a validation-class error (spec §7):
// surfaced to the caller as HTTP 400, never touches disk.
type ValidationError struct {
	cause error
}

func (e *ValidationError) Error() string { return e.cause.Error() }
func (e *ValidationError) Unwrap() error  { return e.cause }

func validationErrorf(format string, args ...interface{}) error {
	return &ValidationError{cause: errors.Errorf(format, args...)}
}

// Validate checks the invariants spec §3 places on an OSManifest, against
// the board's model string. It accumulates every violation it finds
// rather than stopping at the first, via go-multierror, so a caller gets
// the complete picture of what is wrong with a manifest in one response.
func (m *OSManifest) Validate(boardModel string) error {
	var result *multierror.Error

	if m.Name == "" {
		result = multierror.Append(result, validationErrorf("manifest is missing required field 'name'"))
	}

	if !m.SupportsModel(boardModel) {
		result = multierror.Append(result, validationErrorf(
			"manifest %q does not support this board model %q", m.Name, boardModel))
	}

	if len(m.Partitions) == 0 {
		result = multierror.Append(result, validationErrorf("manifest %q has no partitions", m.Name))
	}

	if !m.Bootable {
		allUnformatted := true
		for _, p := range m.Partitions {
			if p.FSType != FSUnformatted {
				allUnformatted = false
				break
			}
		}
		if !allUnformatted {
			result = multierror.Append(result, validationErrorf(
				"manifest %q is not bootable and is not a pure data partition set", m.Name))
		}
	}

	if len(m.Tarballs) > len(m.Partitions) {
		result = multierror.Append(result, validationErrorf(
			"manifest %q has more tarballs (%d) than partitions (%d)",
			m.Name, len(m.Tarballs), len(m.Partitions)))
	}

	for _, t := range m.Tarballs {
		if err := ValidateTarballSuffix(t); err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "tarball %q of %q", t, m.Name))
		}
	}

	for i := range m.Partitions {
		if err := m.Partitions[i].validate(); err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "partition %d of %q", i, m.Name))
		}
	}

	if result != nil {
		result.ErrorFormat = func(es []error) string {
			msgs := make([]string, len(es))
			for i, e := range es {
				msgs[i] = e.Error()
			}
			return joinLines(msgs)
		}
		return &ValidationError{cause: result}
	}
	return nil
}

func joinLines(lines []string) string {
	out := ""
	for i, l := range lines {
		if i > 0 {
			out += "; "
		}
		out += l
	}
	return out
}

func (p *PartitionSpec) validate() error {
	if p.FSType == "" {
		return validationErrorf("partition is missing fsType")
	}

	if p.RequiresPartitionNumber == 1 || p.RequiresPartitionNumber == 5 {
		return validationErrorf("cannot require a system partition (1, 5)")
	}
	if p.RequiresPartitionNumber == 3 {
		return validationErrorf("partition 3 is reserved for compatibility and cannot be required")
	}

	if len(p.Label) > 0 && p.AdjustedLabel() == "" {
		return validationErrorf("label %q is longer than 15 bytes and cannot be adjusted to fit", p.Label)
	}

	return nil
}

// ValidateTarballSuffix checks a tarball/image URL or path against the
// known decompressor dispatch table (spec §4.5 step 3); an unknown
// suffix is a validation-class error at manifest-accept time, even
// though the original program only discovers it mid-stream (spec §9
// Design Notes, S5 "documented footgun").
func ValidateTarballSuffix(path string) error {
	for _, suf := range knownCompressionSuffixes {
		if strings.HasSuffix(path, suf) {
			return nil
		}
	}
	return validationErrorf("unknown compression format for %q (expected one of %v)", path, knownCompressionSuffixes)
}
