// Command sdrecovery is the headless SD-card recovery/installer binary:
// on boot it either chain-boots the recorded default OS or enters setup
// mode and serves the HTTP install surface (or the interactive menu with
// -no-webserver).
package main

import (
	"fmt"
	"os"
	"strings"

	flags "github.com/jessevdk/go-flags"
	"github.com/sirupsen/logrus"

	"github.com/bcmrecovery/installer/internal/boot"
	"github.com/bcmrecovery/installer/internal/install"
	"github.com/bcmrecovery/installer/internal/menu"
	"github.com/bcmrecovery/installer/internal/platform"
	"github.com/bcmrecovery/installer/internal/server"
	"github.com/bcmrecovery/installer/internal/state"
)

// options mirrors the CLI flags on the installer binary (spec §6 "CLI
// flags").
type options struct {
	RunInstaller bool   `long:"runinstaller" description:"force setup mode this boot"`
	Partition    string `long:"partition" description:"set default boot partition, then continue normal flow"`
	NoWebserver  bool   `long:"no-webserver" description:"start the interactive numeric-menu mode instead of the HTTP listener"`
}

func main() {
	var opts options
	parser := flags.NewParser(&opts, flags.Default)
	// go-flags treats only "--name" as a long option; rewrite the
	// single-dash spellings (-runinstaller, -partition, -no-webserver).
	args := make([]string, 0, len(os.Args)-1)
	for _, a := range os.Args[1:] {
		if len(a) > 2 && a[0] == '-' && a[1] != '-' {
			a = "-" + a
		}
		args = append(args, a)
	}
	if _, err := parser.ParseArgs(args); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := run(opts); err != nil {
		logrus.WithError(err).Error("fatal initialization failure")
		os.Exit(1)
	}
}

func run(opts options) error {
	if err := platform.Mount("/dev/mmcblk0p5", state.DefaultSettingsDir, "ext4"); err != nil {
		return err
	}

	store := state.NewStore(state.DefaultSettingsDir)
	dispatcher := boot.New(store)

	enterSetup, err := dispatcher.Run(boot.Flags{
		RunInstaller: opts.RunInstaller,
		Partition:    opts.Partition,
		NoWebserver:  opts.NoWebserver,
	})
	if err != nil {
		return err
	}
	if !enterSetup {
		// dispatcher.Run only returns with enterSetup=false after a
		// successful bootInto, which never returns; this is unreachable
		// in practice but keeps the function total.
		return nil
	}

	_, p2Err := platform.BlockDeviceStart("mmcblk0p2")
	_, p5Err := platform.BlockDeviceStart("mmcblk0p5")
	if !store.HasInstalledOS() && p2Err != nil && p5Err != nil {
		if err := boot.PrepareSDCard(boot.RecoveryMountPoint); err != nil {
			return err
		}
	}

	if model, err := os.ReadFile("/proc/device-tree/model"); err == nil {
		install.BoardModel = strings.TrimRight(string(model), "\x00\n")
	}
	installer := install.New(store)

	if opts.NoWebserver {
		m := &menu.Menu{In: os.Stdin, Out: os.Stdout, Installer: installer, Dispatcher: dispatcher}
		return m.Run()
	}

	srv := server.New(installer, dispatcher)
	return srv.ListenAndServe()
}
