// Package state implements the installed-state store (spec §4.7,
// §3 "Installed-state"): installed_os.json and default_boot_partition on
// the settings partition.
package state

import (
	"os"
	"strings"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	// DefaultSettingsDir is where installed_os.json and
	// default_boot_partition live (spec §6 "Persisted state").
	DefaultSettingsDir = "/settings"

	installedOSFile     = "installed_os.json"
	defaultBootPartFile = "default_boot_partition"
)

// Entry is one record in installed_os.json (spec §3).
type Entry struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Folder      string   `json:"folder"`
	ReleaseDate string   `json:"releaseDate"`
	Partitions  []string `json:"partitions"`
	Bootable    bool     `json:"bootable"`
}

// Store reads and writes installed-state files under a settings
// directory. All mutating operations are guarded by a mutex: the install
// pipeline is single-threaded per spec §5, but the HTTP handlers that
// read default-boot state run on the same process and must not race a
// concurrent install response being written.
type Store struct {
	mu  sync.Mutex
	Dir string
}

// NewStore returns a Store rooted at dir ("" defaults to
// DefaultSettingsDir).
func NewStore(dir string) *Store {
	if dir == "" {
		dir = DefaultSettingsDir
	}
	return &Store{Dir: dir}
}

func (s *Store) installedOSPath() string     { return s.Dir + "/" + installedOSFile }
func (s *Store) defaultBootPartPath() string { return s.Dir + "/" + defaultBootPartFile }

// HasInstalledOS reports whether installed_os.json exists and lists at
// least one OS (spec §4.1 "no installed_os.json exists" enters setup,
// and §4.2's first-install check).
func (s *Store) HasInstalledOS() bool {
	entries, err := s.LoadInstalledOS()
	return err == nil && len(entries) > 0
}

// LoadInstalledOS reads installed_os.json. A missing file is not an
// error; it returns an empty slice (spec §7: "missing default-boot file
// is absent... enter setup" applies the same tolerant read to this file).
func (s *Store) LoadInstalledOS() ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadInstalledOSLocked()
}

// AppendInstalledOS appends entry to installed_os.json, preserving the
// order of prior entries (spec §4.7, testable property 5: round-trip of
// state).
func (s *Store) AppendInstalledOS(entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.loadInstalledOSLocked()
	if err != nil {
		return err
	}
	entries = append(entries, entry)

	raw, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshaling installed_os.json")
	}
	return os.WriteFile(s.installedOSPath(), raw, 0o644)
}

func (s *Store) loadInstalledOSLocked() ([]Entry, error) {
	raw, err := os.ReadFile(s.installedOSPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "reading installed_os.json")
	}
	var entries []Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, errors.Wrap(err, "parsing installed_os.json")
	}
	return entries, nil
}

// DeleteInstalledOS removes installed_os.json (spec §4.4 step 2: "the
// previous state is no longer valid" once the table is about to be
// rewritten). Deleting a file that doesn't exist is not an error.
func (s *Store) DeleteInstalledOS() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.installedOSPath())
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "deleting installed_os.json")
	}
	return nil
}

// SetDefaultBootPartition records device as the next-boot target
// (spec §4.7, §6). It validates the device string shape first
// (testable property 8).
func (s *Store) SetDefaultBootPartition(device string) error {
	if !IsValidBootDevice(device) {
		return errors.Errorf("%q does not look like an SD card partition device", device)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Delete-then-write: consumers must tolerate a brief absence
	// (spec §5 "replaced atomically from the caller's perspective").
	_ = os.Remove(s.defaultBootPartPath())
	return os.WriteFile(s.defaultBootPartPath(), []byte(device), 0o644)
}

// DefaultBootPartition reads the current default-boot device. A missing
// or malformed file is reported via ok=false rather than an error, so
// callers can treat it as "enter setup" per spec §7.
func (s *Store) DefaultBootPartition() (device string, ok bool) {
	raw, err := os.ReadFile(s.defaultBootPartPath())
	if err != nil {
		return "", false
	}
	device = strings.TrimSpace(string(raw))
	if !IsValidBootDevice(device) {
		return "", false
	}
	return device, true
}

// bootDevicePrefix is the only shape SetDefaultBootPartition and
// DefaultBootPartition accept (spec §6, testable property 8:
// "^/dev/mmcblk0p\d+$").
const bootDevicePrefix = "/dev/mmcblk0p"

// IsValidBootDevice reports whether device matches
// ^/dev/mmcblk0p\d+$ exactly.
func IsValidBootDevice(device string) bool {
	if !strings.HasPrefix(device, bootDevicePrefix) {
		return false
	}
	suffix := device[len(bootDevicePrefix):]
	if suffix == "" {
		return false
	}
	for _, r := range suffix {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// PartitionNumber extracts N from a validated /dev/mmcblk0pN device
// string.
func PartitionNumber(device string) (int, error) {
	if !IsValidBootDevice(device) {
		return 0, errors.Errorf("%q is not a valid boot device", device)
	}
	suffix := device[len(bootDevicePrefix):]
	n := 0
	for _, r := range suffix {
		n = n*10 + int(r-'0')
	}
	return n, nil
}
