// Package menu implements the interactive numeric menu shown when the
// installer is started with -no-webserver, in place of the HTTP
// listener (spec §6 "Interactive menu").
package menu

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/bcmrecovery/installer/internal/boot"
	"github.com/bcmrecovery/installer/internal/manifest"
)

// Installer is the subset of install.Installer the menu drives.
type Installer interface {
	Run(oses []manifest.OSManifest) error
}

// Menu reads numeric selections from in and prints prompts to out, until
// the user selects "exit to shell" or in is exhausted.
type Menu struct {
	In         io.Reader
	Out        io.Writer
	Installer  Installer
	Dispatcher *boot.Dispatcher
}

const prompt = `
1) Reboot to default partition
2) Reboot into a specific partition
3) Set default boot partition
4) Install Raspbian
5) Exit to recovery shell
Select an option: `

// Run prints the menu and processes one selection per line of input
// until the user exits or input ends (spec §6, grounded on the
// original program's boot menu loop).
func (m *Menu) Run() error {
	scanner := bufio.NewScanner(m.In)
	for {
		fmt.Fprint(m.Out, prompt)
		if !scanner.Scan() {
			return scanner.Err()
		}

		switch strings.TrimSpace(scanner.Text()) {
		case "1":
			m.rebootDefault()
		case "2":
			m.rebootInto(scanner)
		case "3":
			m.setDefault(scanner)
		case "4":
			m.installRaspbian()
		case "5":
			fmt.Fprintln(m.Out, "exiting to recovery shell")
			return nil
		default:
			fmt.Fprintln(m.Out, "unrecognized selection")
		}
	}
}

func (m *Menu) rebootDefault() {
	device, ok := m.Dispatcher.Store.DefaultBootPartition()
	if !ok {
		fmt.Fprintln(m.Out, "no default boot partition is set")
		return
	}
	if err := m.Dispatcher.BootInto(device); err != nil {
		logrus.WithError(err).Error("reboot to default partition failed")
	}
}

func (m *Menu) rebootInto(scanner *bufio.Scanner) {
	fmt.Fprint(m.Out, "partition device (e.g. /dev/mmcblk0p6): ")
	if !scanner.Scan() {
		return
	}
	device := strings.TrimSpace(scanner.Text())
	if err := m.Dispatcher.BootInto(device); err != nil {
		logrus.WithError(err).Error("reboot into partition failed")
	}
}

func (m *Menu) setDefault(scanner *bufio.Scanner) {
	fmt.Fprint(m.Out, "partition device (e.g. /dev/mmcblk0p6): ")
	if !scanner.Scan() {
		return
	}
	device := strings.TrimSpace(scanner.Text())
	if err := m.Dispatcher.SetDefaultBoot(device); err != nil {
		fmt.Fprintln(m.Out, "error:", err)
	}
}

func (m *Menu) installRaspbian() {
	oses := []manifest.OSManifest{raspbianManifest()}
	if err := m.Installer.Run(oses); err != nil {
		fmt.Fprintln(m.Out, "install failed:", err)
		return
	}
	fmt.Fprintln(m.Out, "install complete")
}

// raspbianManifest is the built-in manifest used by option 4, standing
// in for the original program's getRaspbianJSON() bundled default.
func raspbianManifest() manifest.OSManifest {
	return manifest.OSManifest{
		Name:        "Raspbian",
		Flavour:     "raspbian",
		Description: "Raspbian",
		ReleaseDate: "",
		Bootable:    true,
		Tarballs:    []string{"http://downloads.raspberrypi.org/raspbian_lite.tar.xz"},
		Partitions: []manifest.PartitionSpec{
			{FSType: manifest.FSExt4, Label: "RASPBIAN", PartitionSizeNominal: 3000, WantMaximised: true, Active: true},
		},
	}
}
