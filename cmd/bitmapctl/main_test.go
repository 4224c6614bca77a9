package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/urfave/cli/v2"

	"github.com/spin-stack/bitmap-planner/internal/bitmaps"
)

const testConfig = "testdata/vda.toml"

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &out
	// Keep cli.Exit from terminating the test binary.
	app.ExitErrHandler = func(*cli.Context, error) {}

	err := app.Run(append([]string{"bitmapctl", "--log-level", "error"}, args...))
	return out.String(), err
}

func TestIncremental(t *testing.T) {
	out, err := run(t, "-c", testConfig, "-o", "text", "incremental", "--from", "current")
	if err != nil {
		t.Fatal(err)
	}
	if want := "libvirt-1-format/current\n"; out != want {
		t.Errorf("output = %q, want %q", out, want)
	}

	_, err = run(t, "-c", testConfig, "incremental", "--from", "a")
	var broken *bitmaps.ChainBrokenError
	if !errors.As(err, &broken) {
		t.Fatalf("incremental --from a: got %v, want *ChainBrokenError", err)
	}
	if broken.Bitmap != "d" || broken.Disk() != "vda" {
		t.Errorf("broken bitmap = %s on disk %s, want d on vda", broken.Bitmap, broken.Disk())
	}
}

func TestDeleteCheckpoint(t *testing.T) {
	out, err := run(t, "-c", testConfig, "-o", "text", "delete-checkpoint", "--name", "b")
	if err != nil {
		t.Fatal(err)
	}

	want := strings.Join([]string{
		"merge libvirt-1-format/a <- libvirt-1-format/b",
		"remove libvirt-1-format/b",
		"merge libvirt-2-format/a <- libvirt-2-format/b",
		"remove libvirt-2-format/b",
		"add libvirt-3-format/a granularity=65536 persistent=true disabled=false",
		"merge libvirt-3-format/a <- libvirt-3-format/b",
		"remove libvirt-3-format/b",
		"merge libvirt-4-format/a <- libvirt-4-format/b",
		"remove libvirt-4-format/b",
		"reopen nodes:",
		"libvirt-2-format",
		"libvirt-3-format",
		"libvirt-4-format",
	}, "\n") + "\n"
	if out != want {
		t.Errorf("output mismatch:\ngot:\n%s\nwant:\n%s", out, want)
	}
}

func TestCopyJSON(t *testing.T) {
	out, err := run(t, "-c", testConfig, "copy", "--mirror", "dest")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{`"block-dirty-bitmap-add"`, `"node": "dest"`, `"target": "current"`} {
		if !strings.Contains(out, want) {
			t.Errorf("output should contain %s:\n%s", want, out)
		}
	}
	// a and d have broken lineages and are not copied.
	if strings.Contains(out, `"target": "d"`) {
		t.Errorf("broken bitmap d should not be copied:\n%s", out)
	}
}

func TestCommit(t *testing.T) {
	out, err := run(t, "-c", testConfig, "-o", "text", "commit", "--top", "1", "--base", "2")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		"pre job bitmap disable:",
		"disable libvirt-1-format/current",
		"busy bitmaps left enabled: [backup-vda]",
		"merge bitmaps:",
		"add libvirt-2-format/current granularity=65536 persistent=true disabled=true",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output should contain %q:\n%s", want, out)
		}
	}

	if _, err := run(t, "-c", testConfig, "commit", "--top", "2", "--base", "2"); err == nil {
		t.Error("commit into the same layer should fail")
	}
}

func TestValidate(t *testing.T) {
	out, err := run(t, "-c", testConfig, "validate", "a", "b")
	if err == nil {
		t.Fatal("validate should fail when a bitmap is broken")
	}
	var exit cli.ExitCoder
	if !errors.As(err, &exit) || exit.ExitCode() != 2 {
		t.Errorf("got %v, want exit code 2", err)
	}
	want := "a: bitmap \"a\" reappears after a gap on node libvirt-4-format\nb: valid\n"
	if out != want {
		t.Errorf("output = %q, want %q", out, want)
	}
}

func TestCheck(t *testing.T) {
	out, err := run(t, "check", testConfig, testConfig)
	if err == nil {
		t.Fatal("check should report the broken checkpoint")
	}
	a := "vda: bitmap \"a\" reappears after a gap on node libvirt-4-format of disk vda\n"
	d := "vda: bitmap \"d\" reappears after a gap on node libvirt-3-format of disk vda\n"
	if want := a + a + d + d; out != want {
		t.Errorf("output = %q, want %q", out, want)
	}
}

func TestShowOldestFirst(t *testing.T) {
	out, err := run(t, "-c", testConfig, "show")
	if err != nil {
		t.Fatal(err)
	}
	want := "libvirt-5-format:\n" +
		"         a: record:1 busy:0 persist:1 inconsist:0 gran:65536 dirty:0\n" +
		"libvirt-4-format:\n"
	if !strings.HasPrefix(out, want) {
		t.Errorf("output should start with the base layer:\n%s", out)
	}
	if i := strings.Index(out, "libvirt-1-format:"); i < 0 || strings.Contains(out[i:], "libvirt-2-format:") {
		t.Errorf("active layer should be listed last:\n%s", out)
	}
}

func TestConfigRequired(t *testing.T) {
	t.Setenv("BITMAPCTL_CONFIG", "")
	if _, err := run(t, "show"); err == nil {
		t.Error("show without --config should fail")
	}
}
