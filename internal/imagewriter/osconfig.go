package imagewriter

import (
	"os"
	"path/filepath"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"github.com/bcmrecovery/installer/internal/config"
	"github.com/bcmrecovery/installer/internal/manifest"
	"github.com/bcmrecovery/installer/internal/platform"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// osConfig is the machine-readable document written into an OS's first
// partition after all its partitions are written (spec §4.5 final
// paragraph).
type osConfig struct {
	Flavour     string   `json:"flavour"`
	ReleaseDate string   `json:"release_date"`
	Imagefolder string   `json:"imagefolder"`
	Description string   `json:"description"`
	Videomode   int      `json:"videomode"`
	Partitions  []string `json:"partitions"`
	Language    string   `json:"language"`
	Keyboard    string   `json:"keyboard"`
}

// configTxtLines is the fixed videomode append table (spec §4.5).
var configTxtLines = map[config.DisplayMode][]string{
	config.DisplayHDMIPreferred: {"hdmi_force_hotplug=1"},
	config.DisplayHDMIVGA:       {"hdmi_ignore_edid=0xa5000080", "hdmi_force_hotplug=1", "hdmi_group=2", "hdmi_mode=4"},
	config.DisplayPAL:           {"hdmi_ignore_hotplug=1", "sdtv_mode=2"},
	config.DisplayNTSC:          {"hdmi_ignore_hotplug=1", "sdtv_mode=0"},
}

// WriteOSConfig mounts os's first partition at MountPoint, writes
// os_config.json, and appends the display-mode-specific lines to
// config.txt (spec §4.5 final paragraph).
func (w *Writer) WriteOSConfig(os *manifest.OSManifest, conf config.NoobsConf) error {
	if len(os.Partitions) == 0 {
		return errors.Errorf("OS %q has no partitions to mount os_config.json onto", os.Name)
	}
	first := &os.Partitions[0]

	devices := make([]string, len(os.Partitions))
	for i := range os.Partitions {
		devices[i] = os.Partitions[i].PartitionDevice
	}

	doc := osConfig{
		Flavour:     os.Flavour,
		ReleaseDate: os.ReleaseDate,
		Imagefolder: os.Folder(),
		Description: os.Description,
		Videomode:   int(conf.DisplayMode),
		Partitions:  devices,
		Language:    conf.Language,
		Keyboard:    conf.Keyboard,
	}

	return platform.WithMount(first.PartitionDevice, MountPoint, mountFSType(first.FSType), func() error {
		if err := writeOSConfigJSON(doc); err != nil {
			return err
		}
		return appendConfigTxt(conf.DisplayMode)
	})
}

func writeOSConfigJSON(doc osConfig) error {
	body, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshalling os_config.json")
	}
	path := filepath.Join(MountPoint, "os_config.json")
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return errors.Wrap(err, "writing os_config.json")
	}
	return nil
}

// appendConfigTxt appends the fixed videomode line set to config.txt,
// never truncating it (spec §6: "appended-to, never truncated").
func appendConfigTxt(mode config.DisplayMode) error {
	lines, ok := configTxtLines[mode]
	if !ok {
		return errors.Errorf("unknown videomode %d", mode)
	}

	path := filepath.Join(MountPoint, "config.txt")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrap(err, "opening config.txt")
	}
	defer f.Close()

	for _, line := range lines {
		if _, err := f.WriteString(line + "\n"); err != nil {
			return errors.Wrap(err, "appending to config.txt")
		}
	}
	return nil
}
