// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hii

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/linuxboot/uefisettings/internal/ulog"
	"github.com/linuxboot/uefisettings/pkg/guid"
	"github.com/linuxboot/uefisettings/pkg/settingserr"
)

var varstoreLog = ulog.Tagged("hii")

// fsImmutableFL is the FS_IMMUTABLE_FL extended attribute bit (see
// include/uapi/linux/fs.h); efivarfs entries carry it by default and it
// must be cleared for the duration of a write.
const fsImmutableFL = 0x00000010

// varStorePath builds the efivarfs file path for a named, GUID-scoped
// variable store: "<Name>-<guid>", GUID lowercased per the convention
// the kernel itself uses for efivarfs file names.
func varStorePath(opts LocatorOptions, name string, g *guid.GUID) string {
	return fmt.Sprintf("%s/%s-%s", opts.efivarsMount(), name, strings.ToLower(g.String()))
}

// ReadVarStore reads the full contents of a named variable store,
// attribute-flag prefix included.
func ReadVarStore(opts LocatorOptions, name string, g *guid.GUID) ([]byte, error) {
	path := varStorePath(opts, name, g)
	buf, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, settingserr.New(settingserr.NotFound, "hii.ReadVarStore", err)
		}
		return nil, settingserr.New(settingserr.Permission, "hii.ReadVarStore", err)
	}
	if len(buf) < 4 {
		return nil, settingserr.New(settingserr.ParseError, "hii.ReadVarStore",
			fmt.Errorf("%s shorter than the 4-byte attribute prefix", path))
	}
	return buf, nil
}

// ReadAnswerBytes reads the width-byte field at offset (after the 4-byte
// attribute prefix) out of a variable store.
func ReadAnswerBytes(opts LocatorOptions, name string, g *guid.GUID, offset uint16, width byte) (uint64, error) {
	buf, err := ReadVarStore(opts, name, g)
	if err != nil {
		return 0, err
	}
	start := 4 + int(offset)
	if start+int(width) > len(buf) {
		return 0, settingserr.New(settingserr.ParseError, "hii.ReadAnswerBytes",
			fmt.Errorf("offset %d width %d exceeds store size %d", offset, width, len(buf)-4))
	}
	return decodeWidth(buf[start:start+int(width)], width), nil
}

// WriteAnswerBytes performs the read-modify-write-verify sequence
// described in spec §4.4/§4.9: open the file, clear immutability and
// remount RW for the duration of the write only, overwrite the width
// bytes at offset while preserving everything else (including the
// attribute prefix), rewrite at the file's original length, then read
// back and compare. A verify mismatch surfaces as NotModified rather than
// a retry, per the VarStore write state machine.
func WriteAnswerBytes(opts LocatorOptions, name string, g *guid.GUID, offset uint16, width byte, value uint64) error {
	path := varStorePath(opts, name, g)

	lock, err := lockFile(path + ".lock")
	if err != nil {
		return settingserr.New(settingserr.Permission, "hii.WriteAnswerBytes", err)
	}
	defer lock.unlock()

	mg, err := newMountGuard(opts.efivarsMount())
	if err != nil {
		varstoreLog.Warnf("hii: could not inspect mount flags for %s: %v", opts.efivarsMount(), err)
	} else {
		defer mg.release()
	}

	buf, err := os.ReadFile(path)
	if err != nil {
		return settingserr.New(settingserr.Permission, "hii.WriteAnswerBytes", err)
	}
	start := 4 + int(offset)
	if start+int(width) > len(buf) {
		return settingserr.New(settingserr.ParseError, "hii.WriteAnswerBytes",
			fmt.Errorf("offset %d width %d exceeds store size %d", offset, width, len(buf)-4))
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return settingserr.New(settingserr.Permission, "hii.WriteAnswerBytes", err)
	}
	defer f.Close()

	ig, err := newImmutabilityGuard(int(f.Fd()))
	if err != nil {
		varstoreLog.Warnf("hii: could not inspect immutability attribute for %s: %v", path, err)
	} else {
		defer ig.release()
	}

	encodeWidth(buf[start:start+int(width)], width, value)

	if err := f.Truncate(0); err != nil {
		return settingserr.New(settingserr.Permission, "hii.WriteAnswerBytes", err)
	}
	if _, err := f.WriteAt(buf, 0); err != nil {
		return settingserr.New(settingserr.Permission, "hii.WriteAnswerBytes", err)
	}
	if err := f.Sync(); err != nil {
		return settingserr.New(settingserr.Permission, "hii.WriteAnswerBytes", err)
	}

	readBack, err := os.ReadFile(path)
	if err != nil || start+int(width) > len(readBack) {
		return settingserr.New(settingserr.NotModified, "hii.WriteAnswerBytes",
			fmt.Errorf("could not verify write to %s", path))
	}
	if decodeWidth(readBack[start:start+int(width)], width) != value {
		return settingserr.New(settingserr.NotModified, "hii.WriteAnswerBytes",
			fmt.Errorf("%s: read-back value does not match written value", path))
	}
	return nil
}

func decodeWidth(b []byte, width byte) uint64 {
	switch width {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(b))
	case 4:
		return uint64(binary.LittleEndian.Uint32(b))
	case 8:
		return binary.LittleEndian.Uint64(b)
	default:
		return uint64(b[0])
	}
}

func encodeWidth(b []byte, width byte, value uint64) {
	switch width {
	case 1:
		b[0] = byte(value)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(value))
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(value))
	case 8:
		binary.LittleEndian.PutUint64(b, value)
	default:
		b[0] = byte(value)
	}
}

// fileLock is an exclusive, process-scoped flock() held across a
// variable-store write so concurrent invocations of this tool against
// the same store serialize (spec §5 notes the core offers no
// cross-process locking beyond this).
type fileLock struct {
	fd int
}

func lockFile(path string) (*fileLock, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file %s: %w", path, err)
	}
	if err := unix.Flock(fd, unix.LOCK_EX); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("flock %s: %w", path, err)
	}
	return &fileLock{fd: fd}, nil
}

func (l *fileLock) unlock() {
	_ = unix.Flock(l.fd, unix.LOCK_UN)
	_ = unix.Close(l.fd)
}

// immutabilityGuard clears FS_IMMUTABLE_FL on construction if set, and
// restores it on release; efivarfs is virtual so restoring on process
// crash isn't load-bearing the way it would be on a real block device,
// but the guard still exists for the happy path.
type immutabilityGuard struct {
	fd           int
	wasImmutable bool
}

func newImmutabilityGuard(fd int) (*immutabilityGuard, error) {
	attrs, err := unix.IoctlGetInt(fd, unix.FS_IOC_GETFLAGS)
	if err != nil {
		return nil, err
	}
	g := &immutabilityGuard{fd: fd, wasImmutable: attrs&fsImmutableFL != 0}
	if g.wasImmutable {
		cleared := int32(attrs &^ fsImmutableFL)
		if err := unix.IoctlSetPointerInt(fd, unix.FS_IOC_SETFLAGS, int(cleared)); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func (g *immutabilityGuard) release() {
	if !g.wasImmutable {
		return
	}
	attrs, err := unix.IoctlGetInt(g.fd, unix.FS_IOC_GETFLAGS)
	if err != nil {
		varstoreLog.Warnf("hii: could not restore immutability attribute: %v", err)
		return
	}
	restored := int32(attrs | fsImmutableFL)
	if err := unix.IoctlSetPointerInt(g.fd, unix.FS_IOC_SETFLAGS, int(restored)); err != nil {
		varstoreLog.Warnf("hii: could not restore immutability attribute: %v", err)
	}
}

// mountGuard remounts efivarfs read-write for the duration of a write if
// it is currently mounted read-only, and restores read-only on release.
type mountGuard struct {
	mountPath string
	wasRO     bool
}

func newMountGuard(mountPath string) (*mountGuard, error) {
	ro, err := isMountedReadOnly(mountPath)
	if err != nil {
		return nil, err
	}
	g := &mountGuard{mountPath: mountPath, wasRO: ro}
	if ro {
		if err := unix.Mount("", mountPath, "", unix.MS_REMOUNT, "rw"); err != nil {
			return nil, fmt.Errorf("remount %s rw: %w", mountPath, err)
		}
	}
	return g, nil
}

func (g *mountGuard) release() {
	if !g.wasRO {
		return
	}
	if err := unix.Mount("", g.mountPath, "", unix.MS_REMOUNT, "ro"); err != nil {
		varstoreLog.Warnf("hii: could not restore %s to read-only: %v", g.mountPath, err)
	}
}

// isMountedReadOnly scans /proc/mounts for mountPath's current option set.
func isMountedReadOnly(mountPath string) (bool, error) {
	f, err := os.Open("/proc/mounts")
	if err != nil {
		return false, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 {
			continue
		}
		if fields[1] != mountPath {
			continue
		}
		for _, opt := range strings.Split(fields[3], ",") {
			if opt == "ro" {
				return true, nil
			}
		}
		return false, nil
	}
	return false, fmt.Errorf("%s not found in /proc/mounts", mountPath)
}
