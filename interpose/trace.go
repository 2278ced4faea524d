package interpose

import (
	"fmt"
	"io"
	"os"
	"syscall"
	"unsafe"

	"github.com/davecgh/go-spew/spew"
	"golang.org/x/sys/unix"
)

var (
	tracing            = traceBuild
	traceOut io.Writer = os.Stderr
)

func traceBefore(call, requested string) {
	if !tracing {
		return
	}

	fmt.Fprintf(traceOut, "[rlarch] %s: requested %s\n", call, requested)
}

func traceAfter(call, effective string, ret interface{}, errno syscall.Errno) {
	if !tracing {
		return
	}

	fmt.Fprintf(traceOut, "[rlarch] %s: effective %s, returned %#x (errno %d)\n", call, effective, ret, int(errno))
}

func traceArgs(argv, envp **byte) {
	if !tracing {
		return
	}

	fmt.Fprintf(traceOut, "[rlarch] argv: %s", spew.Sdump(cStrings(argv)))
	fmt.Fprintf(traceOut, "[rlarch] envp: %s", spew.Sdump(cStrings(envp)))
}

// cStrings copies a NULL-terminated C string vector.
func cStrings(vec **byte) []string {
	if vec == nil {
		return nil
	}

	var out []string
	for p := vec; *p != nil; p = (**byte)(unsafe.Add(unsafe.Pointer(p), unsafe.Sizeof(p))) {
		out = append(out, unix.BytePtrToString(*p))
	}

	return out
}
