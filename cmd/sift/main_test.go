package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jamesainslie/sift/pkg/sift/config"
	"github.com/jamesainslie/sift/pkg/sift/metadata"
	"github.com/jamesainslie/sift/pkg/sift/types"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

// execute runs the CLI with args and returns what it wrote to stdout.
// Flags are reset afterwards since the commands are package globals.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	defer resetFlags(rootCmd)

	err := rootCmd.Execute()
	return out.String(), err
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

// workspace lays out a tree to index and a config file pointing at it.
func workspace(t *testing.T) (root, cfgPath string) {
	t.Helper()
	base := t.TempDir()
	root = filepath.Join(base, "home")

	writeFile(t, filepath.Join(root, "photo.png"), pngHeader)
	writeFile(t, filepath.Join(root, "docs", "notes.pdf"), []byte("minutes"))
	writeFile(t, filepath.Join(root, "docs", "draft.bak"), []byte("old"))
	writeFile(t, filepath.Join(root, "big.iso"), bytes.Repeat([]byte{1}, 8*1024))
	writeFile(t, filepath.Join(root, "a", "same.dat"), bytes.Repeat([]byte{2}, 20*1024))
	writeFile(t, filepath.Join(root, "b", "same.dat"), bytes.Repeat([]byte{2}, 20*1024))
	writeFile(t, filepath.Join(root, "Downloads", "setup.run"), []byte("installer"))
	writeFile(t, filepath.Join(base, "cache", "app", "blob"), []byte("cached"))

	cfgPath = filepath.Join(base, "config.yaml")
	content := fmt.Sprintf(`large_threshold: 4KiB
cache_dirs: [%q]
downloads_dir: %q
index:
  path: %q
  root: %q
logging:
  path: %q
`, filepath.Join(base, "cache"), filepath.Join(root, "Downloads"),
		filepath.Join(base, "index"), root, filepath.Join(base, "sift.log"))
	writeFile(t, cfgPath, []byte(content))
	return root, cfgPath
}

type scanDoc struct {
	Cancelled  bool `json:"cancelled"`
	TotalFiles int  `json:"totalFiles"`
	Categories map[string]struct {
		Count int                `json:"count"`
		Files []types.FileRecord `json:"files"`
	} `json:"categories"`
}

func TestIndexBuildThenScan(t *testing.T) {
	root, cfgPath := workspace(t)

	out, err := execute(t, "--config", cfgPath, "-q", "index", "build")
	if err != nil {
		t.Fatalf("index build: %v", err)
	}
	if !strings.Contains(out, "Indexed 7 files") {
		t.Errorf("index build output = %q, want it to report 7 files", out)
	}

	out, err = execute(t, "--config", cfgPath, "-q", "scan", "-o", "json")
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	var doc scanDoc
	if err := json.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("scan output is not JSON: %v\n%s", err, out)
	}

	want := map[string]int{
		"junk":       1,
		"cache":      1,
		"images":     1,
		"videos":     0,
		"audio":      0,
		"documents":  1,
		"downloads":  1,
		"large":      3,
		"duplicates": 2,
		"temporary":  1,
	}
	for name, count := range want {
		got, ok := doc.Categories[name]
		if !ok {
			t.Errorf("category %s missing", name)
			continue
		}
		if got.Count != count {
			t.Errorf("%s count = %d, want %d", name, got.Count, count)
		}
	}
	if doc.Cancelled {
		t.Error("scan reported cancelled")
	}

	images := doc.Categories["images"].Files
	if len(images) != 1 || images[0].Path != filepath.Join(root, "photo.png") {
		t.Fatalf("images = %+v", images)
	}
	if images[0].ID == nil {
		t.Error("indexed record has no id")
	}
}

func TestScanSelectedCategories(t *testing.T) {
	_, cfgPath := workspace(t)
	if _, err := execute(t, "--config", cfgPath, "-q", "index", "build"); err != nil {
		t.Fatalf("index build: %v", err)
	}

	out, err := execute(t, "--config", cfgPath, "-q", "scan", "-o", "json", "-c", "large", "--large-threshold", "16KiB")
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	var doc scanDoc
	if err := json.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("scan output is not JSON: %v", err)
	}
	if len(doc.Categories) != 1 {
		t.Errorf("categories = %d, want 1", len(doc.Categories))
	}
	if got := doc.Categories["large"].Count; got != 2 {
		t.Errorf("large count = %d, want 2", got)
	}
}

func TestScanPlainFiles(t *testing.T) {
	root, cfgPath := workspace(t)
	if _, err := execute(t, "--config", cfgPath, "-q", "index", "build"); err != nil {
		t.Fatalf("index build: %v", err)
	}

	out, err := execute(t, "--config", cfgPath, "-q", "scan", "-o", "plain", "--files", "-c", "images")
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if !strings.Contains(out, filepath.Join(root, "photo.png")) {
		t.Errorf("plain output does not list photo.png:\n%s", out)
	}
}

func TestScanRejectsBadInput(t *testing.T) {
	_, cfgPath := workspace(t)
	tests := []struct {
		name string
		args []string
	}{
		{"unknown format", []string{"scan", "-o", "xml"}},
		{"unknown category", []string{"scan", "-c", "music"}},
		{"bad threshold", []string{"scan", "--large-threshold", "lots"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"--config", cfgPath, "-q"}, tt.args...)
			if _, err := execute(t, args...); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestParseCategories(t *testing.T) {
	cats, err := parseCategories([]string{"large", "JUNK"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cats) != 2 || cats[0] != types.Large || cats[1] != types.Junk {
		t.Errorf("got %v", cats)
	}

	cats, err = parseCategories(nil)
	if err != nil || cats != nil {
		t.Errorf("empty input: got %v, %v", cats, err)
	}

	if _, err := parseCategories([]string{"music"}); !errors.Is(err, types.ErrUnknownCategory) {
		t.Errorf("expected ErrUnknownCategory, got %v", err)
	}
}

func TestScannerOptions(t *testing.T) {
	c := &config.Config{
		BatchSize:      50,
		LargeThreshold: "1G",
		DuplicateFloor: "1MiB",
		Pacing:         time.Second,
		MaxDepth:       8,
		CacheDirs:      []string{"/tmp/cache"},
	}
	c.Duplicates.Verify = true
	c.Duplicates.Workers = 3

	src := metadata.NewMemorySource()
	opts, err := scannerOptions(c, src, []types.Category{types.Large})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.Match.LargeThreshold != types.GiB {
		t.Errorf("LargeThreshold = %d", opts.Match.LargeThreshold)
	}
	if opts.Match.DuplicateFloor != types.MiB {
		t.Errorf("DuplicateFloor = %d", opts.Match.DuplicateFloor)
	}
	if opts.BatchSize != 50 || opts.MaxDepth != 8 || opts.Pacing != time.Second {
		t.Errorf("opts = %+v", opts)
	}
	if !opts.Verify || opts.VerifyWorkers != 3 {
		t.Errorf("verify = %t, workers = %d", opts.Verify, opts.VerifyWorkers)
	}
	if len(opts.Categories) != 1 || opts.Source == nil {
		t.Errorf("opts = %+v", opts)
	}

	c.LargeThreshold = "huge"
	if _, err := scannerOptions(c, src, nil); err == nil {
		t.Error("expected an error for an invalid threshold")
	}
}

func TestFormatSizeCommand(t *testing.T) {
	_, cfgPath := workspace(t)
	tests := map[string]string{
		"0":    "0 B",
		"1536": "1.5 KB",
		"2GiB": "2.0 GB",
		"1.5M": "1.5 MB",
	}
	for in, want := range tests {
		out, err := execute(t, "--config", cfgPath, "-q", "format-size", in)
		if err != nil {
			t.Fatalf("format-size %s: %v", in, err)
		}
		if strings.TrimSpace(out) != want {
			t.Errorf("format-size %s = %q, want %q", in, out, want)
		}
	}
}

func TestVersionCommand(t *testing.T) {
	_, cfgPath := workspace(t)
	out, err := execute(t, "--config", cfgPath, "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "sift dev") {
		t.Errorf("version output = %q", out)
	}
}
