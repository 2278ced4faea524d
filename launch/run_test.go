package main

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/glassechidna/rlarch"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunnerEnv(t *testing.T) {
	r := &runner{root: "/alt", preload: "/opt/rlarch.so"}

	env := r.env([]string{
		"PATH=/usr/bin",
		"LD_PRELOAD=/lib/other.so /opt/rlarch.so:/lib/third.so",
		"RLARCH_PREFIX=/old",
		"HOME=/root",
	})

	assert.Equal(t, []string{
		"PATH=/usr/bin",
		"HOME=/root",
		"LD_PRELOAD=/opt/rlarch.so:/lib/other.so:/lib/third.so",
		"RLARCH_PREFIX=/alt",
	}, env)
}

func TestRunnerEnvWithoutRoot(t *testing.T) {
	r := &runner{preload: "/opt/rlarch.so"}

	env := r.env([]string{"RLARCH_PREFIX=/old", "TERM=xterm"})
	assert.Equal(t, []string{"TERM=xterm", "LD_PRELOAD=/opt/rlarch.so"}, env)
}

func TestRunnerNoCommand(t *testing.T) {
	r := &runner{preload: "/opt/rlarch.so"}

	_, err := r.start(context.Background())
	assert.EqualError(t, err, "no command given")
}

func TestExitCode(t *testing.T) {
	code, err := exitCode(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	err = exec.Command("sh", "-c", "exit 3").Run()
	code, err = exitCode(err)
	require.NoError(t, err)
	assert.Equal(t, 3, code)

	err = exec.Command("sh", "-c", "kill -TERM $$").Run()
	code, err = exitCode(err)
	require.NoError(t, err)
	assert.Equal(t, 128+15, code)
}

func TestWaitOrStopInterrupts(t *testing.T) {
	cmd := exec.Command("sleep", "30")
	require.NoError(t, cmd.Start())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := waitOrStop(ctx, cmd, 5*time.Second)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestWaitOrStopKillsAfterDelay(t *testing.T) {
	cmd := exec.Command("sh", "-c", "trap '' INT; sleep 30")
	require.NoError(t, cmd.Start())
	time.Sleep(200 * time.Millisecond) // let the trap install

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := waitOrStop(ctx, cmd, 100*time.Millisecond)
	code, err := exitCode(err)
	require.NoError(t, err)
	assert.Equal(t, 128+9, code)
}

func TestRunnerStartPropagatesExitCode(t *testing.T) {
	r := &runner{preload: "/nonexistent/rlarch.so", grace: time.Second, args: []string{"sh", "-c", "exit 7"}}

	code, err := r.start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, code)
}

func TestTranslateCommand(t *testing.T) {
	alt := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(alt, "etc"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(alt, "etc", "passwd"), nil, 0644))

	root = alt
	defer func() { root = "" }()

	out := &bytes.Buffer{}
	translateCmd.SetOut(out)
	require.NoError(t, translateCmd.RunE(translateCmd, []string{"/etc/passwd", "/etc/missing", "/home"}))

	assert.Equal(t, "/etc/passwd -> "+alt+"/etc/passwd\n/etc/missing -> /etc/missing\n/home -> /home\n", out.String())
}

func TestReportRoot(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/alt/etc", 0755))

	out := &bytes.Buffer{}
	reportRoot(out, rlarch.NewTranslator("/alt", fs), fs)
	assert.Equal(t, "root /alt\n  /alt/usr: absent, falls through\n  /alt/etc: present\n  /alt/lib: absent, falls through\n", out.String())

	out.Reset()
	reportRoot(out, rlarch.NewTranslator("", fs), fs)
	assert.Equal(t, "RLARCH_PREFIX not set: calls pass through unchanged\n", out.String())
}

func TestDoctorUnknownLibrary(t *testing.T) {
	out := &bytes.Buffer{}
	err := doctor(out, "librlarch-does-not-exist.so.9", rlarch.NewTranslator("", afero.NewMemMapFs()), afero.NewMemMapFs())
	assert.Error(t, err)
}
