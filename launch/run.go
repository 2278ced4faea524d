package main

import (
	"context"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/glassechidna/rlarch"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

const preloadEnv = "LD_PRELOAD"

type runner struct {
	root    string
	preload string
	grace   time.Duration
	args    []string
}

// env returns environ with the shim placed first in LD_PRELOAD and the
// root set. Other LD_PRELOAD entries are kept after the shim.
func (r *runner) env(environ []string) []string {
	out := make([]string, 0, len(environ)+2)
	preloads := []string{r.preload}

	for _, kv := range environ {
		switch {
		case strings.HasPrefix(kv, preloadEnv+"="):
			for _, p := range strings.FieldsFunc(strings.TrimPrefix(kv, preloadEnv+"="), isPreloadSep) {
				if p != r.preload {
					preloads = append(preloads, p)
				}
			}
		case strings.HasPrefix(kv, rlarch.RootEnv+"="):
			// replaced below
		default:
			out = append(out, kv)
		}
	}

	out = append(out, preloadEnv+"="+strings.Join(preloads, ":"))
	if r.root != "" {
		out = append(out, rlarch.RootEnv+"="+r.root)
	}

	return out
}

func isPreloadSep(r rune) bool {
	return r == ':' || r == ' '
}

func (r *runner) command() (string, error) {
	if len(r.args) == 0 {
		return "", errors.New("no command given")
	}

	path, err := exec.LookPath(r.args[0])
	if err != nil {
		return "", errors.WithStack(err)
	}

	return path, nil
}

// exec replaces the current process.
func (r *runner) exec() error {
	path, err := r.command()
	if err != nil {
		return err
	}

	err = unix.Exec(path, r.args, r.env(os.Environ()))
	return errors.Wrapf(err, "exec %s", path)
}

// start runs the command to completion, forwarding signals, and returns its
// exit status.
func (r *runner) start(ctx context.Context) (int, error) {
	path, err := r.command()
	if err != nil {
		return -1, err
	}

	cmd := exec.Command(path, r.args[1:]...)
	cmd.Args[0] = r.args[0]
	cmd.Env = r.env(os.Environ())
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, unix.SIGINT, unix.SIGTERM, unix.SIGHUP, unix.SIGQUIT)
	defer signal.Stop(sigs)

	err = cmd.Start()
	if err != nil {
		return -1, errors.WithStack(err)
	}

	done := make(chan struct{})
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(done)
		return waitOrStop(ctx, cmd, r.grace)
	})

	g.Go(func() error {
		for {
			select {
			case sig := <-sigs:
				_ = cmd.Process.Signal(sig)
			case <-done:
				return nil
			}
		}
	})

	return exitCode(g.Wait())
}

// waitOrStop waits for cmd. If ctx ends first the process is interrupted,
// then killed once killDelay has passed.
func waitOrStop(ctx context.Context, cmd *exec.Cmd, killDelay time.Duration) error {
	errc := make(chan error, 1)
	go func() {
		errc <- cmd.Wait()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	_ = cmd.Process.Signal(os.Interrupt)

	timer := time.NewTimer(killDelay)
	defer timer.Stop()

	select {
	case err := <-errc:
		return err
	case <-timer.C:
		_ = cmd.Process.Kill()
		return <-errc
	}
}

func exitCode(err error) (int, error) {
	if err == nil {
		return 0, nil
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return -1, errors.WithStack(err)
	}

	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal()), nil
	}

	return exitErr.ExitCode(), nil
}

func defaultPreload() string {
	if p := os.Getenv("RLARCH_PRELOAD"); p != "" {
		return p
	}

	exe, err := os.Executable()
	if err != nil {
		return "rlarch.so"
	}

	return filepath.Join(filepath.Dir(exe), "rlarch.so")
}
