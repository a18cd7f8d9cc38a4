// Package manifest defines the typed, validated in-memory description of
// what to install (spec §3 OSManifest / PartitionSpec).
package manifest

import (
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// FSType enumerates the filesystem dispatch kinds a PartitionSpec may
// request (spec §3, §4.5).
type FSType string

const (
	FSFat         FSType = "fat"
	FSFatUpper    FSType = "FAT"
	FSExt4        FSType = "ext4"
	FSNTFS        FSType = "ntfs"
	FSSwap        FSType = "swap"
	FSRaw         FSType = "raw"
	FSPartclone   FSType = "partclone"
	FSUnformatted FSType = "unformatted"
)

// IsPartclone reports whether fsType is any partclone* variant
// (spec §3: `partclone*`).
func (f FSType) IsPartclone() bool {
	return strings.HasPrefix(string(f), "partclone")
}

// IsFat reports whether fsType is the fat/FAT filesystem kind.
func (f FSType) IsFat() bool {
	return f == FSFat || f == FSFatUpper
}

// PartitionSpec is one partition of an OS (spec §3).
type PartitionSpec struct {
	FSType                  FSType   `json:"fsType"`
	PartitionType           string   `json:"partitionType,omitempty"`
	Label                   string   `json:"label"`
	MkfsOptions             string   `json:"mkfsOptions,omitempty"`
	PartitionSizeNominal    int      `json:"partitionSizeNominal"`
	UncompressedTarballSize int      `json:"uncompressedTarballSize,omitempty"`
	RequiresPartitionNumber int      `json:"requiresPartitionNumber,omitempty"`
	Offset                  uint64   `json:"offset,omitempty"`
	WantMaximised           bool     `json:"wantMaximised,omitempty"`
	EmptyFS                 bool     `json:"emptyFS,omitempty"`
	Active                  bool     `json:"active,omitempty"`

	// Runtime fields, populated by the planner / writer / image writer.
	PartitionDevice      string `json:"-"`
	PartitionSizeSectors uint64 `json:"-"`
	MountedAt            string `json:"-"`
}

// ResolvedPartitionType returns the MBR partition type byte (hex string),
// defaulting from FSType when PartitionType was not set explicitly
// (spec §3: "defaulted from fsType when absent").
func (p *PartitionSpec) ResolvedPartitionType() string {
	if p.PartitionType != "" {
		return p.PartitionType
	}
	switch {
	case p.FSType.IsFat():
		return "0c"
	case p.FSType == FSSwap:
		return "82"
	case p.FSType == FSNTFS:
		return "07"
	default:
		return "83"
	}
}

// AdjustedLabel returns label unchanged, or "" when it exceeds the
// 15-byte MBR/FAT limit (spec §3: "≤15 chars after adjustment").
func (p *PartitionSpec) AdjustedLabel() string {
	if len(p.Label) > 15 {
		return ""
	}
	return p.Label
}

// OSManifest describes one installable operating system (spec §3).
type OSManifest struct {
	Name                 string          `json:"name"`
	Flavour              string          `json:"flavour"`
	Description          string          `json:"description"`
	Version              string          `json:"version,omitempty"`
	ReleaseDate          string          `json:"releaseDate"`
	Bootable             bool            `json:"bootable"`
	RiscosOffset         int             `json:"riscosOffset,omitempty"`
	SupportedModels      []string        `json:"supportedModels,omitempty"`
	Tarballs             []string        `json:"tarballs,omitempty"`
	Partitions           []PartitionSpec `json:"partitions"`
	PartitionSetupScript []byte          `json:"partitionSetupScript,omitempty"`

	// MetadataURL points at a nested JSON document (the original program's
	// "os_info") overlaying description/version/releaseDate onto this
	// manifest. PartitionSetupScriptURL is fetched into
	// PartitionSetupScript when the script wasn't already supplied inline.
	MetadataURL             string `json:"metadataUrl,omitempty"`
	PartitionSetupScriptURL string `json:"partitionSetupScriptUrl,omitempty"`
}

// remoteMetadata is the shape of the document MetadataURL points at
// (spec §2 "Fetcher... nested metadata documents").
type remoteMetadata struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`
	ReleaseDate string `json:"releaseDate"`
	Bootable    *bool  `json:"bootable"`
}

// ResolveRemote fetches MetadataURL and PartitionSetupScriptURL, if set,
// using get (production callers pass (*fetcher.Fetcher).Get), overlaying
// the nested metadata onto this manifest and populating
// PartitionSetupScript (spec §2 component 3, §7 "Transient external").
// A manifest with neither URL set performs no network I/O.
func (m *OSManifest) ResolveRemote(get func(url string) ([]byte, error)) error {
	if m.MetadataURL != "" {
		body, err := get(m.MetadataURL)
		if err != nil {
			return errors.Wrapf(err, "fetching metadata for %q", m.Name)
		}
		var meta remoteMetadata
		if err := json.Unmarshal(body, &meta); err != nil {
			return errors.Wrapf(err, "parsing metadata for %q", m.Name)
		}
		if meta.Name != "" {
			m.Name = meta.Name
		}
		if meta.Description != "" {
			m.Description = meta.Description
		}
		if meta.Version != "" {
			m.Version = meta.Version
		}
		if meta.ReleaseDate != "" {
			m.ReleaseDate = meta.ReleaseDate
		}
		if meta.Bootable != nil {
			m.Bootable = *meta.Bootable
		}
	}

	if m.PartitionSetupScriptURL != "" && len(m.PartitionSetupScript) == 0 {
		script, err := get(m.PartitionSetupScriptURL)
		if err != nil {
			return errors.Wrapf(err, "fetching partition setup script for %q", m.Name)
		}
		m.PartitionSetupScript = script
	}

	return nil
}

// RISCOSSectorOffset is the fixed sector at which RISC-OS images demand
// to start (spec Glossary).
const RISCOSSectorOffset = 1760 * 2048

// IsRiscOS reports whether the manifest names a RISC-OS family image
// (spec §3: "name matches 'risc' (case-insensitive)").
func (m *OSManifest) IsRiscOS() bool {
	return strings.Contains(strings.ToLower(m.Name), "risc")
}

// Folder derives the logical install-folder identifier from Name
// (spec §3: "spaces→_").
func (m *OSManifest) Folder() string {
	return strings.ReplaceAll(m.Name, " ", "_")
}

// SupportsModel reports whether the board's model string matches one of
// the manifest's supported-model substrings, or whether no constraint was
// declared at all (spec §3: "must match the board's model string, if
// present").
func (m *OSManifest) SupportsModel(boardModel string) bool {
	if len(m.SupportedModels) == 0 {
		return true
	}
	for _, sub := range m.SupportedModels {
		if strings.Contains(boardModel, sub) {
			return true
		}
	}
	return false
}
