//go:build linux && cgo

// Command preload is the LD_PRELOAD shim. Build it with
//
//	go build -buildmode=c-shared -o rlarch.so ./preload
//
// Each wrapper reads the caller's errno on entry and leaves errno exactly as
// the original call did.
//
// Pointer results are returned as uintptr, which has the same calling
// convention as the void * and FILE * of the functions shadowed here.
package main

// #include <stdlib.h>
import "C"
import (
	"unsafe"

	"github.com/glassechidna/rlarch"
	"github.com/glassechidna/rlarch/interpose"
	"github.com/glassechidna/rlarch/symbol"
	"github.com/glassechidna/rlarch/symbol/next"
)

func main() {}

var shim = interpose.New(symbol.NewTable(next.Loader{}), rlarch.RewritePath)

//export dlopen
func dlopen(path *C.char, mode C.int) uintptr {
	saved := next.Errno()
	handle, errno := shim.Dlopen(bytePtr(path), int32(mode), saved)
	next.SetErrno(errno)
	return handle
}

//export fopen
func fopen(path *C.char, mode *C.char) uintptr {
	saved := next.Errno()
	stream, errno := shim.Fopen(bytePtr(path), bytePtr(mode), saved)
	next.SetErrno(errno)
	return stream
}

//export execve
func execve(path *C.char, argv **C.char, envp **C.char) C.int {
	saved := next.Errno()
	ret, errno := shim.Execve(bytePtr(path), (**byte)(unsafe.Pointer(argv)), (**byte)(unsafe.Pointer(envp)), saved)
	next.SetErrno(errno)
	return C.int(ret)
}

func bytePtr(s *C.char) *byte {
	return (*byte)(unsafe.Pointer(s))
}
