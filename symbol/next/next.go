//go:build linux && cgo

// Package next resolves symbols from the objects loaded after the calling
// shared object, the way an LD_PRELOAD shim reaches the real libc.
package next

/*
#cgo LDFLAGS: -ldl
#define _GNU_SOURCE
#include <dlfcn.h>
#include <errno.h>
#include <stdint.h>
#include <stdlib.h>

typedef void *(*rlarch_dlopen_fn)(const char *, int);
typedef void *(*rlarch_fopen_fn)(const char *, const char *);
typedef int (*rlarch_execve_fn)(const char *, char *const [], char *const []);

static uintptr_t rlarch_next(const char *name) {
	return (uintptr_t)dlsym(RTLD_NEXT, name);
}

// Each call runs with errno set to the caller's value and reports the errno
// left behind through out.
static uintptr_t rlarch_call_dlopen(uintptr_t fn, const char *path, int mode, int saved, int *out) {
	errno = saved;
	uintptr_t ret = (uintptr_t)((rlarch_dlopen_fn)fn)(path, mode);
	*out = errno;
	return ret;
}

static uintptr_t rlarch_call_fopen(uintptr_t fn, const char *path, const char *mode, int saved, int *out) {
	errno = saved;
	uintptr_t ret = (uintptr_t)((rlarch_fopen_fn)fn)(path, mode);
	*out = errno;
	return ret;
}

static int rlarch_call_execve(uintptr_t fn, const char *path, char **argv, char **envp, int saved, int *out) {
	errno = saved;
	int ret = ((rlarch_execve_fn)fn)(path, argv, envp);
	*out = errno;
	return ret;
}

static int rlarch_get_errno(void) {
	return errno;
}

static void rlarch_set_errno(int e) {
	errno = e;
}
*/
import "C"

import (
	"reflect"
	"syscall"
	"unsafe"

	"github.com/pkg/errors"
)

var (
	dlopenType = reflect.TypeOf(func(*byte, int32, syscall.Errno) (uintptr, syscall.Errno) { return 0, 0 })
	fopenType  = reflect.TypeOf(func(*byte, *byte, syscall.Errno) (uintptr, syscall.Errno) { return 0, 0 })
	execveType = reflect.TypeOf(func(*byte, **byte, **byte, syscall.Errno) (int32, syscall.Errno) { return 0, 0 })
)

// Loader binds symbols found with dlsym(RTLD_NEXT). Only the dlopen, fopen
// and execve call shapes are supported. Bound functions take the errno to
// install before the call and return the errno left after it.
type Loader struct{}

func (Loader) Sym(name string, out interface{}) error {
	dst := reflect.ValueOf(out)
	if dst.Kind() != reflect.Ptr || dst.IsNil() {
		return errors.Errorf("%s: out must be a non-nil pointer, got %T", name, out)
	}

	var bind func(fn C.uintptr_t) interface{}
	want := dst.Elem().Type()
	switch {
	case dlopenType.ConvertibleTo(want):
		bind = func(fn C.uintptr_t) interface{} {
			return func(path *byte, mode int32, saved syscall.Errno) (uintptr, syscall.Errno) {
				var after C.int
				ret := C.rlarch_call_dlopen(fn, cstr(path), C.int(mode), C.int(saved), &after)
				return uintptr(ret), syscall.Errno(after)
			}
		}
	case fopenType.ConvertibleTo(want):
		bind = func(fn C.uintptr_t) interface{} {
			return func(path, mode *byte, saved syscall.Errno) (uintptr, syscall.Errno) {
				var after C.int
				ret := C.rlarch_call_fopen(fn, cstr(path), cstr(mode), C.int(saved), &after)
				return uintptr(ret), syscall.Errno(after)
			}
		}
	case execveType.ConvertibleTo(want):
		bind = func(fn C.uintptr_t) interface{} {
			return func(path *byte, argv, envp **byte, saved syscall.Errno) (int32, syscall.Errno) {
				var after C.int
				ret := C.rlarch_call_execve(fn, cstr(path), (**C.char)(unsafe.Pointer(argv)), (**C.char)(unsafe.Pointer(envp)), C.int(saved), &after)
				return int32(ret), syscall.Errno(after)
			}
		}
	default:
		return errors.Errorf("%s: unsupported call shape %s", name, want)
	}

	cname := C.CString(name)
	fn := C.rlarch_next(cname)
	C.free(unsafe.Pointer(cname))
	if fn == 0 {
		return errors.Errorf("%s: not found in any object after this one", name)
	}

	dst.Elem().Set(reflect.ValueOf(bind(fn)).Convert(want))
	return nil
}

// Errno returns the calling thread's errno.
func Errno() syscall.Errno {
	return syscall.Errno(C.rlarch_get_errno())
}

// SetErrno sets the calling thread's errno.
func SetErrno(e syscall.Errno) {
	C.rlarch_set_errno(C.int(e))
}

func cstr(p *byte) *C.char {
	return (*C.char)(unsafe.Pointer(p))
}
