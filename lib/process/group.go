// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/workbench/lib/clock"
)

// GroupAttr returns SysProcAttr placing the child in a new process
// group led by itself.
func GroupAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

// SignalGroup sends sig to the process group led by pid. A group that
// no longer exists is not an error.
func SignalGroup(pid int, sig unix.Signal) error {
	if pid <= 0 {
		return fmt.Errorf("process: invalid pid %d", pid)
	}
	err := unix.Kill(-pid, sig)
	if err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("process: signal %v to group %d: %w", sig, pid, err)
	}
	return nil
}

// Terminate stops the process group led by pid: SIGTERM, then SIGKILL
// if exited has not closed within grace. It returns once the group has
// been killed or exited closes, or when ctx ends. The boolean reports
// whether SIGKILL was needed. No signal is sent once exited has
// closed, since the reaped pid may belong to a new group.
func Terminate(ctx context.Context, pid int, exited <-chan struct{}, grace time.Duration, c clock.Clock) (bool, error) {
	select {
	case <-exited:
		return false, nil
	default:
	}
	if err := SignalGroup(pid, unix.SIGTERM); err != nil {
		return false, err
	}
	select {
	case <-exited:
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	case <-c.After(grace):
	}
	if err := SignalGroup(pid, unix.SIGKILL); err != nil {
		return true, err
	}
	return true, nil
}
