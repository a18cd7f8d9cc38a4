// Package platform implements the sysfs-style queries, block-device
// writes, external process orchestration, and reboot primitive that the
// rest of the installer treats as a collaborator contract (spec §4.1).
package platform

import (
	"bytes"
	"os/exec"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Command runs an external tool the way the teacher's debos.Command does:
// merged stdout/stderr, a human label logged before the run, and the exit
// code as the only thing callers branch on. Output is captured lazily into
// a bounded tail rather than buffered wholesale, so a multi-gigabyte tar
// or dd stream never sits fully in memory.
type Command struct {
	// TailBytes bounds how much combined output is kept for error
	// messages. Zero uses a sane default.
	TailBytes int
}

const defaultTailBytes = 4096

// Run executes name with args, logging label at Debug before starting and
// returning a wrapped error including a bounded output tail on failure.
func (c Command) Run(label string, name string, args ...string) error {
	logrus.WithField("cmd", append([]string{name}, args...)).Debug(label)

	cmd := exec.Command(name, args...)
	tail := newTailBuffer(c.tailBytes())
	cmd.Stdout = tail
	cmd.Stderr = tail

	if err := cmd.Run(); err != nil {
		return errors.Wrapf(err, "%s: %s failed, output: %s", label, name, tail.String())
	}
	return nil
}

// RunShell executes a composed `sh -o pipefail -c <script>` pipeline, the
// shape every tarball/image stream in imagewriter uses.
func (c Command) RunShell(label string, script string) error {
	return c.Run(label, "sh", "-o", "pipefail", "-c", script)
}

// Pipe executes name with args, feeding stdin from in and merging
// stdout/stderr into the returned error's bounded tail on failure.
func (c Command) Pipe(label string, in []byte, name string, args ...string) error {
	logrus.WithField("cmd", append([]string{name}, args...)).Debug(label)

	cmd := exec.Command(name, args...)
	cmd.Stdin = bytes.NewReader(in)
	tail := newTailBuffer(c.tailBytes())
	cmd.Stdout = tail
	cmd.Stderr = tail

	if err := cmd.Run(); err != nil {
		return errors.Wrapf(err, "%s: %s failed, output: %s", label, name, tail.String())
	}
	return nil
}

func (c Command) tailBytes() int {
	if c.TailBytes <= 0 {
		return defaultTailBytes
	}
	return c.TailBytes
}

// tailBuffer keeps only the last N bytes written to it, so commands that
// stream gigabytes of image data never get fully buffered just to report
// an error tail.
type tailBuffer struct {
	limit int
	buf   bytes.Buffer
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf.Write(p)
	if extra := t.buf.Len() - t.limit; extra > 0 {
		t.buf.Next(extra)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	return t.buf.String()
}
