package main

import (
	"fmt"
	"io"

	"github.com/glassechidna/rlarch"
	"github.com/glassechidna/rlarch/symbol"
	"github.com/pkg/errors"
	"github.com/rainycape/dl"
	"github.com/spf13/afero"
)

// libdl provides dlopen on glibc older than 2.34.
const libdl = "libdl.so.2"

func doctor(w io.Writer, libc string, tr *rlarch.Translator, fs afero.Fs) error {
	lib, err := dl.Open(libc, dl.RTLD_LAZY)
	if err != nil {
		return errors.Wrapf(err, "opening %s", libc)
	}
	defer lib.Close()

	table := symbol.NewTable(lib)

	var (
		dlopenFn func(path *byte, mode int32) uintptr
		fopenFn  func(path, mode *byte) uintptr
		execveFn func(path *byte, argv, envp **byte) int32
	)

	missing := 0
	check := func(t *symbol.Table, from, name string, out interface{}) bool {
		err := t.Resolve(name, out)
		if err != nil {
			fmt.Fprintf(w, "%-8s missing from %s: %v\n", name, from, err)
			return false
		}
		fmt.Fprintf(w, "%-8s ok (%s)\n", name, from)
		return true
	}

	if !check(table, libc, "dlopen", &dlopenFn) {
		if dlib, err := dl.Open(libdl, dl.RTLD_LAZY); err == nil {
			defer dlib.Close()
			if !check(symbol.NewTable(dlib), libdl, "dlopen", &dlopenFn) {
				missing++
			}
		} else {
			missing++
		}
	}

	if !check(table, libc, "fopen", &fopenFn) {
		missing++
	}

	if !check(table, libc, "execve", &execveFn) {
		missing++
	}

	reportRoot(w, tr, fs)

	if missing > 0 {
		return errors.Errorf("%d intercepted symbols cannot be resolved", missing)
	}

	return nil
}

func reportRoot(w io.Writer, tr *rlarch.Translator, fs afero.Fs) {
	root, ok := tr.Root()
	if !ok {
		fmt.Fprintf(w, "%s not set: calls pass through unchanged\n", rlarch.RootEnv)
		return
	}

	fi, err := fs.Stat(root)
	switch {
	case err != nil:
		fmt.Fprintf(w, "root %s: %v\n", root, err)
		return
	case !fi.IsDir():
		fmt.Fprintf(w, "root %s: not a directory\n", root)
		return
	}

	fmt.Fprintf(w, "root %s\n", root)
	for _, prefix := range rlarch.Prefixes {
		status := "absent, falls through"
		if _, err := fs.Stat(root + prefix); err == nil {
			status = "present"
		}
		fmt.Fprintf(w, "  %s%s: %s\n", root, prefix, status)
	}
}
