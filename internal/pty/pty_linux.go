//go:build linux

package pty

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// ptmxTerminal drives the master side of a /dev/ptmx pair.
type ptmxTerminal struct {
	master *os.File
}

func (t *ptmxTerminal) Read(b []byte) (int, error)  { return t.master.Read(b) }
func (t *ptmxTerminal) Write(b []byte) (int, error) { return t.master.Write(b) }
func (t *ptmxTerminal) Close() error                { return t.master.Close() }

func (t *ptmxTerminal) Resize(rows, cols uint16) error {
	return unix.IoctlSetWinsize(int(t.master.Fd()), unix.TIOCSWINSZ, &unix.Winsize{
		Row: rows,
		Col: cols,
	})
}

// execChild adapts an exec.Cmd to the child handle interface.
type execChild struct {
	cmd *exec.Cmd
}

func (c *execChild) PID() int {
	if c.cmd.Process == nil {
		return 0
	}
	return c.cmd.Process.Pid
}

// Wait returns the shell's exit code; a shell killed by a signal
// reports -1.
func (c *execChild) Wait() (int, error) {
	err := c.cmd.Wait()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return exitErr.ExitCode(), nil
		}
		return -1, err
	}
	return 0, nil
}

func (c *execChild) Kill() error {
	if c.cmd.Process == nil {
		return nil
	}
	return c.cmd.Process.Kill()
}

// Spawn starts the shell on a fresh pseudo-terminal. The child gets the
// slave as its controlling terminal in a new session; the parent keeps
// only the master.
func Spawn(cfg SpawnConfig) (*Process, error) {
	master, err := os.OpenFile("/dev/ptmx", os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open /dev/ptmx: %w", err)
	}

	slave, err := openSlave(master)
	if err != nil {
		master.Close()
		return nil, err
	}
	defer slave.Close()

	if cfg.Rows > 0 && cfg.Cols > 0 {
		ws := &unix.Winsize{Row: cfg.Rows, Col: cfg.Cols}
		if err := unix.IoctlSetWinsize(int(master.Fd()), unix.TIOCSWINSZ, ws); err != nil {
			master.Close()
			return nil, fmt.Errorf("failed to set window size: %w", err)
		}
	}

	cmd := exec.Command(cfg.Shell, cfg.Args...)
	cmd.Env = cfg.Env
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}
	cmd.Dir = cfg.Dir
	cmd.Stdin = slave
	cmd.Stdout = slave
	cmd.Stderr = slave
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid:  true,
		Setctty: true,
	}

	if err := cmd.Start(); err != nil {
		master.Close()
		return nil, fmt.Errorf("failed to start process: %w", err)
	}

	return &Process{term: &ptmxTerminal{master: master}, proc: &execChild{cmd: cmd}}, nil
}

// openSlave unlocks the master's peer and opens it. The slave must not
// become our controlling terminal; the child claims it via Setctty.
func openSlave(master *os.File) (*os.File, error) {
	fd := int(master.Fd())

	if err := unix.IoctlSetPointerInt(fd, unix.TIOCSPTLCK, 0); err != nil {
		return nil, fmt.Errorf("failed to unlock PTY: %w", err)
	}

	n, err := unix.IoctlGetInt(fd, unix.TIOCGPTN)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve PTY peer: %w", err)
	}

	slave, err := os.OpenFile(fmt.Sprintf("/dev/pts/%d", n), os.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open PTY peer: %w", err)
	}
	return slave, nil
}
