// Package postinstall runs an OS's optional partitionSetupScript after
// all of its partitions have been written (spec §4.6).
package postinstall

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/bcmrecovery/installer/internal/manifest"
)

const (
	workingDir  = "/mnt2"
	shellBinary = "/bin/sh"
	runnerPath  = "/bin:/usr/bin:/sbin:/usr/sbin"
)

// IDResolver resolves the `LABEL=`/`UUID=` identifier blkid reports for a
// partition device (spec §4.6: "id<N> prefers LABEL=...falls back to
// UUID=..."). Swappable in tests; defaults to shelling out to blkid.
type IDResolver func(device string) (string, error)

// Runner executes an OS's partition-setup script. Dir overrides the
// working directory the script runs in (spec §4.6 names `/mnt2`);
// swappable in tests that don't have that mountpoint available.
type Runner struct {
	Dir string
}

func (r Runner) dir() string {
	if r.Dir != "" {
		return r.Dir
	}
	return workingDir
}

// Run executes image.PartitionSetupScript, if present, with part<N>/id<N>
// exported both as argv and as environment variables (spec §4.6). A nil
// or empty script is a no-op success.
func (r Runner) Run(image *manifest.OSManifest, resolve IDResolver) error {
	if len(image.PartitionSetupScript) == 0 {
		return nil
	}
	if resolve == nil {
		resolve = blkidResolve
	}

	path := filepath.Join(os.TempDir(), "post-install-"+uuid.NewString()+".sh")
	if err := os.WriteFile(path, image.PartitionSetupScript, 0o755); err != nil {
		return errors.Wrap(err, "writing post-install script")
	}

	args := []string{path}
	env := append(os.Environ(), "PATH="+runnerPath)

	for i := range image.Partitions {
		p := &image.Partitions[i]
		n := i + 1

		id, err := resolve(p.PartitionDevice)
		if err != nil {
			return errors.Wrapf(err, "resolving id for partition %d (%s)", n, p.PartitionDevice)
		}

		partKV := fmt.Sprintf("part%d=%s", n, p.PartitionDevice)
		idKV := fmt.Sprintf("id%d=%s", n, id)
		args = append(args, partKV, idKV)
		env = append(env, partKV, idKV)
	}

	cmd := exec.Command(shellBinary, args...)
	cmd.Env = env
	cmd.Dir = r.dir()

	out, err := cmd.CombinedOutput()
	if err != nil {
		return errors.Wrapf(err, "post-install script failed, output: %s", out)
	}
	logrus.WithField("output", string(out)).Debug("post-install script succeeded")

	if err := os.Remove(path); err != nil {
		logrus.WithError(err).Warn("failed to remove post-install script after success")
	}
	return nil
}

// Run executes image.PartitionSetupScript with the production working
// directory (spec §4.6 "working directory /mnt2").
func Run(image *manifest.OSManifest, resolve IDResolver) error {
	return Runner{}.Run(image, resolve)
}

// blkidResolve is the production IDResolver.
func blkidResolve(device string) (string, error) {
	if label, err := blkidValue(device, "LABEL"); err == nil && label != "" {
		return "LABEL=" + label, nil
	}
	uuidVal, err := blkidValue(device, "UUID")
	if err != nil {
		return "", err
	}
	return "UUID=" + uuidVal, nil
}

func blkidValue(device, tag string) (string, error) {
	out, err := exec.Command("blkid", "-s", tag, "-o", "value", device).Output()
	if err != nil {
		return "", errors.Wrapf(err, "blkid -s %s %s", tag, device)
	}
	return strings.TrimSpace(string(out)), nil
}
