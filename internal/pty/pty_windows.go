//go:build windows

package pty

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	kernel32                = windows.NewLazySystemDLL("kernel32.dll")
	procCreatePseudoConsole = kernel32.NewProc("CreatePseudoConsole")
	procResizePseudoConsole = kernel32.NewProc("ResizePseudoConsole")
	procClosePseudoConsole  = kernel32.NewProc("ClosePseudoConsole")
)

// conTerminal backs the terminal interface with a ConPTY pseudo
// console (Windows 10 1809+).
type conTerminal struct {
	console windows.Handle
	out     *os.File // console output arrives here
	in      *os.File // input written here reaches the console
}

func (t *conTerminal) Read(b []byte) (int, error)  { return t.out.Read(b) }
func (t *conTerminal) Write(b []byte) (int, error) { return t.in.Write(b) }

func (t *conTerminal) Close() error {
	var first error
	if err := t.out.Close(); err != nil {
		first = err
	}
	if err := t.in.Close(); err != nil && first == nil {
		first = err
	}
	if t.console != 0 {
		procClosePseudoConsole.Call(uintptr(t.console))
	}
	return first
}

func (t *conTerminal) Resize(rows, cols uint16) error {
	ret, _, err := procResizePseudoConsole.Call(uintptr(t.console), uintptr(conSize(rows, cols)))
	if ret != 0 {
		return fmt.Errorf("ResizePseudoConsole failed: %w", err)
	}
	return nil
}

// conSize packs a window size the way ConPTY expects: rows in the high
// word, columns in the low word.
func conSize(rows, cols uint16) int32 {
	return (int32(rows) << 16) | int32(cols)
}

// conChild is the native handle on a ConPTY-bound shell process.
type conChild struct {
	handle windows.Handle
	pid    int
}

func (c *conChild) PID() int { return c.pid }

func (c *conChild) Wait() (int, error) {
	if _, err := windows.WaitForSingleObject(c.handle, windows.INFINITE); err != nil {
		return -1, fmt.Errorf("failed to wait for process: %w", err)
	}
	var code uint32
	if err := windows.GetExitCodeProcess(c.handle, &code); err != nil {
		return -1, fmt.Errorf("failed to read exit code: %w", err)
	}
	windows.CloseHandle(c.handle)
	return int(code), nil
}

func (c *conChild) Kill() error {
	return windows.TerminateProcess(c.handle, 1)
}

// Spawn starts the shell on a fresh pseudo console and binds the child
// to it through its process thread attribute list, so everything the
// shell writes flows out the console's output pipe.
func Spawn(cfg SpawnConfig) (*Process, error) {
	if err := procCreatePseudoConsole.Find(); err != nil {
		return nil, fmt.Errorf("ConPTY not available: %w", err)
	}

	// Two pipes: the console writes output into outW (we read outR),
	// and reads input from inR (we write inW).
	var outR, outW, inR, inW windows.Handle
	if err := windows.CreatePipe(&outR, &outW, nil, 0); err != nil {
		return nil, fmt.Errorf("failed to create output pipe: %w", err)
	}
	if err := windows.CreatePipe(&inR, &inW, nil, 0); err != nil {
		windows.CloseHandle(outR)
		windows.CloseHandle(outW)
		return nil, fmt.Errorf("failed to create input pipe: %w", err)
	}

	rows, cols := cfg.Rows, cfg.Cols
	if rows == 0 {
		rows = 24
	}
	if cols == 0 {
		cols = 80
	}

	var console windows.Handle
	ret, _, err := procCreatePseudoConsole.Call(
		uintptr(conSize(rows, cols)),
		uintptr(inR),
		uintptr(outW),
		0,
		uintptr(unsafe.Pointer(&console)),
	)
	if ret != 0 {
		windows.CloseHandle(outR)
		windows.CloseHandle(outW)
		windows.CloseHandle(inR)
		windows.CloseHandle(inW)
		return nil, fmt.Errorf("CreatePseudoConsole failed: %w", err)
	}

	// The console now owns its ends of both pipes.
	windows.CloseHandle(inR)
	windows.CloseHandle(outW)

	pi, err := startWithConsole(cfg, console)
	if err != nil {
		procClosePseudoConsole.Call(uintptr(console))
		windows.CloseHandle(outR)
		windows.CloseHandle(inW)
		return nil, err
	}
	windows.CloseHandle(pi.Thread)

	return &Process{
		term: &conTerminal{
			console: console,
			out:     os.NewFile(uintptr(outR), "conpty-output"),
			in:      os.NewFile(uintptr(inW), "conpty-input"),
		},
		proc: &conChild{handle: pi.Process, pid: int(pi.ProcessId)},
	}, nil
}

// startWithConsole launches the shell with the pseudo console attached
// via PROC_THREAD_ATTRIBUTE_PSEUDOCONSOLE. exec.Cmd cannot carry a
// STARTUPINFOEX, so the process is created directly.
func startWithConsole(cfg SpawnConfig, console windows.Handle) (*windows.ProcessInformation, error) {
	attrs, err := windows.NewProcThreadAttributeList(1)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate attribute list: %w", err)
	}
	defer attrs.Delete()
	if err := attrs.Update(
		windows.PROC_THREAD_ATTRIBUTE_PSEUDOCONSOLE,
		unsafe.Pointer(console),
		unsafe.Sizeof(console),
	); err != nil {
		return nil, fmt.Errorf("failed to bind pseudo console: %w", err)
	}

	cmdline, err := windows.UTF16PtrFromString(
		windows.ComposeCommandLine(append([]string{cfg.Shell}, cfg.Args...)))
	if err != nil {
		return nil, fmt.Errorf("invalid command line: %w", err)
	}

	var dir *uint16
	if cfg.Dir != "" {
		if dir, err = windows.UTF16PtrFromString(cfg.Dir); err != nil {
			return nil, fmt.Errorf("invalid working directory: %w", err)
		}
	}

	env, err := environBlock(cfg.Env)
	if err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}

	si := new(windows.StartupInfoEx)
	si.Cb = uint32(unsafe.Sizeof(*si))
	si.ProcThreadAttributeList = attrs.List()

	var pi windows.ProcessInformation
	flags := uint32(windows.CREATE_UNICODE_ENVIRONMENT | windows.EXTENDED_STARTUPINFO_PRESENT)
	if err := windows.CreateProcess(nil, cmdline, nil, nil, false, flags, env, dir, &si.StartupInfo, &pi); err != nil {
		return nil, fmt.Errorf("failed to start process: %w", err)
	}
	return &pi, nil
}

// environBlock renders env as a UTF-16 double-NUL-terminated block.
// A nil env inherits the server's environment.
func environBlock(env []string) (*uint16, error) {
	if env == nil {
		return nil, nil
	}
	var block []uint16
	for _, kv := range env {
		u, err := windows.UTF16FromString(kv)
		if err != nil {
			return nil, err
		}
		block = append(block, u...)
	}
	block = append(block, 0)
	return &block[0], nil
}
