// Package imagewriter implements the per-partition image writer (spec
// §4.5): label adjustment, fsType dispatch (raw/partclone/unformatted/
// mkfs+tar), the composed download-and-decompress shell pipeline, and
// the per-OS os_config.json / config.txt artifacts.
package imagewriter

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/bcmrecovery/installer/internal/fetcher"
)

// decompressors maps a source suffix to the shell decompressor it feeds
// through (spec §4.5 step 3).
var decompressors = map[string]string{
	".gz":  "gzip -dc",
	".xz":  "xz -dc",
	".bz2": "bzip2 -dc",
	".lzo": "lzop -dc",
	".zip": "unzip -p",
}

// ErrUnknownCompression is returned by buildPipeline for any source
// whose suffix isn't in the decompressor table (spec §7, S5).
var ErrUnknownCompression = errors.New("unknown compression format file extension; expecting .lzo, .gz, .xz, .bz2 or .zip")

// decompressorFor returns the shell decompressor command for source's
// suffix, or ErrUnknownCompression.
func decompressorFor(source string) (string, error) {
	for suf, cmd := range decompressors {
		if strings.HasSuffix(source, suf) {
			return cmd, nil
		}
	}
	return "", ErrUnknownCompression
}

// buildPipeline composes the shell pipeline that produces a decompressed
// byte stream from source, optionally fed through wget first when source
// is a URL (spec §4.5 step 3, "Stream" definition). sink is appended
// after the decompressor behind a " | " separator, e.g. "tar x -C /mnt2"
// or "dd of=/dev/mmcblk0p6 conv=fsync obs=4M".
func buildPipeline(source, sink string) (string, error) {
	decompress, err := decompressorFor(source)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	if fetcher.IsURL(source) {
		fmt.Fprintf(&b, "wget --no-verbose --tries=inf -O- %s | %s", source, decompress)
	} else {
		fmt.Fprintf(&b, "%s %s", decompress, source)
	}
	b.WriteString(" | ")
	b.WriteString(sink)
	return b.String(), nil
}

// ddPipeline composes the raw dd-write pipeline (spec §4.5 step 2 "raw").
func ddPipeline(source, device string) (string, error) {
	return buildPipeline(source, fmt.Sprintf("dd of=%s conv=fsync obs=4M", device))
}

// partcloneRestorePipeline composes the partclone.restore pipeline
// (spec §4.5 step 2 "partclone*").
func partcloneRestorePipeline(source, device string) (string, error) {
	return buildPipeline(source, fmt.Sprintf("partclone.restore -q -s - -o %s", device))
}

// tarExtractPipeline composes the tar-extraction pipeline (spec §4.5
// step 2, else branch).
func tarExtractPipeline(source, mountpoint string) (string, error) {
	return buildPipeline(source, fmt.Sprintf("tar x -C %s", mountpoint))
}
