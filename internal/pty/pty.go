// Package pty owns pseudo-terminal shell sessions: process spawning,
// multi-listener output fan-out with replay, exit notification, and
// idle eviction.
package pty

import "io"

// terminal is the platform-specific master side of a pseudo-terminal.
type terminal interface {
	io.ReadWriteCloser

	// Resize changes the terminal window dimensions.
	Resize(rows, cols uint16) error
}

// child is the platform-specific handle on the spawned shell process.
type child interface {
	// PID returns the process ID.
	PID() int

	// Wait blocks until the process exits and returns its exit code.
	Wait() (int, error)

	// Kill terminates the process; Wait observes the resulting exit.
	Kill() error
}

// SpawnConfig describes the shell process to start.
type SpawnConfig struct {
	// Shell is the program to run.
	Shell string

	// Args are passed to the shell.
	Args []string

	// Env is the process environment; nil inherits the server's.
	Env []string

	// Dir is the working directory; empty inherits the server's.
	Dir string

	// Rows and Cols set the initial window size.
	Rows uint16
	Cols uint16
}

// Process is a running shell attached to a pseudo-terminal. Reads and
// writes go through the PTY master; the slave side belongs to the
// child.
type Process struct {
	term terminal
	proc child
}

// Read reads output the shell produced.
func (p *Process) Read(b []byte) (int, error) {
	return p.term.Read(b)
}

// Write sends input to the shell.
func (p *Process) Write(b []byte) (int, error) {
	return p.term.Write(b)
}

// Resize changes the terminal window size.
func (p *Process) Resize(rows, cols uint16) error {
	return p.term.Resize(rows, cols)
}

// PID returns the shell's process ID.
func (p *Process) PID() int {
	return p.proc.PID()
}

// Wait blocks until the shell exits and returns its exit code. A shell
// killed by a signal reports -1.
func (p *Process) Wait() (int, error) {
	return p.proc.Wait()
}

// Kill terminates the shell. Wait observes the resulting exit.
func (p *Process) Kill() error {
	return p.proc.Kill()
}

// Close releases the PTY master.
func (p *Process) Close() error {
	return p.term.Close()
}
