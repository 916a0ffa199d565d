package pairing

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

var pngMagic = []byte{0x89, 'P', 'N', 'G'}

func TestRenderProducesPNGAndDataURL(t *testing.T) {
	r := NewRenderer(0)
	a, err := r.Render("2@abc,def,ghi")
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if a.Code != "2@abc,def,ghi" {
		t.Errorf("Code = %q", a.Code)
	}
	if !bytes.HasPrefix(a.PNG, pngMagic) {
		t.Error("PNG does not start with PNG magic")
	}
	if !strings.HasPrefix(a.Image, "data:image/png;base64,") {
		t.Errorf("Image = %q, want data URL", a.Image[:32])
	}
	if a.IssuedAt.IsZero() {
		t.Error("IssuedAt not set")
	}
}

func TestRenderEmptyCode(t *testing.T) {
	if _, err := NewRenderer(128).Render(""); err == nil {
		t.Error("Render(\"\") should fail")
	}
}

func TestTerminal(t *testing.T) {
	out, err := Terminal("hello")
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) < 10 {
		t.Errorf("got %d lines, want a full QR block", len(lines))
	}
	if !strings.ContainsRune(out, '█') {
		t.Error("output contains no full blocks")
	}
}

func TestFileSinkStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "SCAN_ME.png")
	sink := NewFileSink(path)

	a, err := NewRenderer(64).Render("code-1")
	if err != nil {
		t.Fatal(err)
	}
	if err := sink.Store(a); err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, a.PNG) {
		t.Error("file content differs from artifact PNG")
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("permission = %o, want 0600", perm)
	}

	// A second store replaces the first.
	b, _ := NewRenderer(64).Render("code-2")
	if err := sink.Store(b); err != nil {
		t.Fatal(err)
	}
	got, _ = os.ReadFile(path)
	if !bytes.Equal(got, b.PNG) {
		t.Error("second Store() did not replace file")
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("dir has %d entries, want 1 (temp files left behind)", len(entries))
	}
}

func TestFileSinkRejectsEmpty(t *testing.T) {
	sink := NewFileSink(filepath.Join(t.TempDir(), "qr.png"))
	if err := sink.Store(nil); err == nil {
		t.Error("Store(nil) should fail")
	}
	if err := sink.Store(&Artifact{Code: "x"}); err == nil {
		t.Error("Store() without PNG should fail")
	}
}
