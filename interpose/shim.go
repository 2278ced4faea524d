// Package interpose implements the dlopen, fopen and execve wrappers that
// rewrite their path argument before calling the original implementation.
// C strings are passed around as *byte and argument vectors as **byte.
//
// Every call carries the caller's errno in and returns the errno the caller
// must see afterwards.
package interpose

import (
	"runtime"
	"syscall"

	"github.com/glassechidna/rlarch/symbol"
	"golang.org/x/sys/unix"
)

type (
	DlopenFunc func(path *byte, mode int32, errno syscall.Errno) (uintptr, syscall.Errno)
	FopenFunc  func(path, mode *byte, errno syscall.Errno) (uintptr, syscall.Errno)
	ExecveFunc func(path *byte, argv, envp **byte, errno syscall.Errno) (int32, syscall.Errno)
)

type Shim struct {
	Symbols *symbol.Table
	Rewrite func(path string) string
}

func New(symbols *symbol.Table, rewrite func(string) string) *Shim {
	return &Shim{Symbols: symbols, Rewrite: rewrite}
}

// Dlopen returns a null handle for a null path without touching the
// original dlopen.
func (s *Shim) Dlopen(path *byte, mode int32, errno syscall.Errno) (uintptr, syscall.Errno) {
	if path == nil {
		return 0, errno
	}

	var orig DlopenFunc
	s.Symbols.MustResolve("dlopen", &orig)

	requested, effective, buf := s.effective(path)
	traceBefore("dlopen", requested)

	ret, errno := orig(buf, mode, errno)
	runtime.KeepAlive(buf)

	traceAfter("dlopen", effective, ret, errno)
	return ret, errno
}

func (s *Shim) Fopen(path, mode *byte, errno syscall.Errno) (uintptr, syscall.Errno) {
	var orig FopenFunc
	s.Symbols.MustResolve("fopen", &orig)

	if path == nil {
		return orig(path, mode, errno)
	}

	requested, effective, buf := s.effective(path)
	traceBefore("fopen", requested)

	ret, errno := orig(buf, mode, errno)
	runtime.KeepAlive(buf)

	traceAfter("fopen", effective, ret, errno)
	return ret, errno
}

// Execve only returns on failure. argv and envp are forwarded as given.
func (s *Shim) Execve(path *byte, argv, envp **byte, errno syscall.Errno) (int32, syscall.Errno) {
	var orig ExecveFunc
	s.Symbols.MustResolve("execve", &orig)

	if path == nil {
		return orig(path, argv, envp, errno)
	}

	requested, effective, buf := s.effective(path)
	traceBefore("execve", requested)
	traceArgs(argv, envp)

	ret, errno := orig(buf, argv, envp, errno)
	runtime.KeepAlive(buf)

	traceAfter("execve", effective, ret, errno)
	return ret, errno
}

// effective returns the requested and effective paths and the C string to
// hand to the original. When nothing is rewritten that is the caller's own
// pointer.
func (s *Shim) effective(path *byte) (string, string, *byte) {
	requested := unix.BytePtrToString(path)

	effective := s.Rewrite(requested)
	if effective == requested {
		return requested, effective, path
	}

	buf, err := unix.BytePtrFromString(effective)
	if err != nil {
		// a rewritten path containing NUL cannot be expressed as a C string
		return requested, requested, path
	}

	return requested, effective, buf
}
