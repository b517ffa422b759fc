package settings

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDataDirAndFilePathUseXDGDataHome(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("XDG_DATA_HOME", tmp)

	dir, err := DataDir()
	if err != nil {
		t.Fatalf("DataDir() error: %v", err)
	}
	if want := filepath.Join(tmp, "translatr"); dir != want {
		t.Fatalf("DataDir() = %q, want %q", dir, want)
	}
	if got, want := FilePath(), filepath.Join(tmp, "translatr", "auth.json"); got != want {
		t.Fatalf("FilePath() = %q, want %q", got, want)
	}
}

func TestServiceID(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"https://Translate.Example.com/v1/", "https://translate.example.com/v1"},
		{"https://translate.example.com/v1?x=1", "https://translate.example.com/v1"},
		{"http://localhost:8787", "http://localhost:8787"},
		{" not a url/ ", "not a url"},
	}
	for _, tt := range tests {
		if got := ServiceID(tt.in); got != tt.want {
			t.Errorf("ServiceID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestAPIKeyLifecycle(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("XDG_DATA_HOME", tmp)

	const prod = "https://translate.example.com/v1"
	const dev = "http://localhost:8787"

	if err := SetAPIKey(prod, "  prod-key-123456 "); err != nil {
		t.Fatalf("SetAPIKey() error: %v", err)
	}
	if err := SetAPIKey(dev, "dev"); err != nil {
		t.Fatalf("SetAPIKey() error: %v", err)
	}
	if err := SetAPIKey(dev, " "); err == nil {
		t.Error("SetAPIKey() accepted an empty key")
	}

	info, err := os.Stat(filepath.Join(tmp, "translatr", "auth.json"))
	if err != nil {
		t.Fatalf("stat auth.json: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Fatalf("auth.json mode = %o, want 600", info.Mode().Perm())
	}

	if got := GetAPIKey(prod + "/"); got != "prod-key-123456" {
		t.Errorf("GetAPIKey(prod) = %q", got)
	}
	if got := GetAPIKey(dev); got != "dev" {
		t.Errorf("GetAPIKey(dev) = %q", got)
	}
	if got := GetAPIKey("https://other.example.com"); got != "" {
		t.Errorf("GetAPIKey(other) = %q, want empty", got)
	}

	removed, err := Remove(prod)
	if err != nil || !removed {
		t.Fatalf("Remove(prod) = %v, %v", removed, err)
	}
	if got := GetAPIKey(prod); got != "" {
		t.Errorf("GetAPIKey after remove = %q", got)
	}
	if GetAPIKey(dev) != "dev" {
		t.Error("dev key should remain")
	}
	if removed, err := Remove(prod); err != nil || removed {
		t.Errorf("second Remove() = %v, %v, want no-op", removed, err)
	}

	if err := RemoveAll(); err != nil {
		t.Fatalf("RemoveAll() error: %v", err)
	}
	if got := Load(); len(got) != 0 {
		t.Fatalf("Load() after RemoveAll = %#v", got)
	}
}

func TestLoadIgnoresCorruptFile(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("XDG_DATA_HOME", tmp)
	dir := filepath.Join(tmp, "translatr")
	if err := os.MkdirAll(dir, 0700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "auth.json"), []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}
	if got := Load(); len(got) != 0 {
		t.Fatalf("Load() = %#v, want empty", got)
	}
}

func TestMaskKey(t *testing.T) {
	if got := MaskKey("short"); got != "****" {
		t.Errorf("MaskKey(short) = %q", got)
	}
	if got := MaskKey("abcdefghijkl"); got != "abcd...ijkl" {
		t.Errorf("MaskKey(long) = %q", got)
	}
}
