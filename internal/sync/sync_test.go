package sync

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"

	"github.com/memsister/memsister/internal/cache"
	"github.com/memsister/memsister/internal/checksum"
	"github.com/memsister/memsister/internal/logging"
	"github.com/memsister/memsister/internal/records"
)

const testDir = "/data"

// setupFS creates an in-memory filesystem holding the given files in testDir.
func setupFS(t *testing.T, files map[string]string) afero.Fs {
	t.Helper()

	fs := afero.NewMemMapFs()
	if err := fs.MkdirAll(testDir, 0755); err != nil {
		t.Fatalf("Failed to create dir: %v", err)
	}
	for name, content := range files {
		if err := afero.WriteFile(fs, filepath.Join(testDir, name), []byte(content), 0644); err != nil {
			t.Fatalf("Failed to write %s: %v", name, err)
		}
	}
	return fs
}

// mustCandidate builds a candidate for a file in testDir.
func mustCandidate(t *testing.T, name string) Candidate {
	t.Helper()

	c, err := NewCandidate(filepath.Join(testDir, name))
	if err != nil {
		t.Fatalf("NewCandidate(%s) failed: %v", name, err)
	}
	return c
}

func TestIsCandidateName(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"metrics.base", true},
		{"a.b.base", true},
		{"metrics.base_old", false},
		{"metrics.txt", false},
		{"metrics.base.tmp", false},
		{".base", true},
		{"base", false},
	}

	for _, tt := range tests {
		if got := IsCandidateName(tt.name); got != tt.want {
			t.Errorf("IsCandidateName(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestCandidate_Keys(t *testing.T) {
	c := mustCandidate(t, "data.base")

	if c.BaseName != "data" {
		t.Errorf("BaseName = %q, want data", c.BaseName)
	}
	if got := c.RecordKey("foo"); got != "data_foo" {
		t.Errorf("RecordKey(foo) = %q, want data_foo", got)
	}
	if got := c.ChecksumKey(); got != "data.base_checksum" {
		t.Errorf("ChecksumKey() = %q, want data.base_checksum", got)
	}
	if got := c.ProcessedPath(); got != "/data/data.base_old" {
		t.Errorf("ProcessedPath() = %q, want /data/data.base_old", got)
	}

	if _, err := NewCandidate("/data/data.base_old"); err == nil {
		t.Error("NewCandidate() should reject processed files")
	}
}

func TestListCandidates(t *testing.T) {
	fs := setupFS(t, map[string]string{
		"a.base":     "k|v",
		"b.base":     "k|v",
		"c.base_old": "k|v",
		"notes.txt":  "hello",
	})
	if err := fs.MkdirAll(filepath.Join(testDir, "dir.base"), 0755); err != nil {
		t.Fatalf("Failed to create subdir: %v", err)
	}

	got, err := ListCandidates(fs, testDir)
	if err != nil {
		t.Fatalf("ListCandidates() failed: %v", err)
	}

	var names []string
	for _, c := range got {
		names = append(names, c.Name)
	}
	want := []string{"a.base", "b.base"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("ListCandidates() mismatch (-want +got):\n%s", diff)
	}

	if _, err := ListCandidates(fs, "/missing"); err == nil {
		t.Error("Expected error listing missing directory")
	}
}

func TestPublish_RoundTrip(t *testing.T) {
	fs := setupFS(t, map[string]string{"data.base": "foo|bar\nbaz|qux"})
	client := cache.NewMemory()
	p := NewPublisher(fs, logging.Discard(), PublisherOptions{})

	res, err := p.Publish(context.Background(), client, mustCandidate(t, "data.base"))
	if err != nil {
		t.Fatalf("Publish() failed: %v", err)
	}
	if res.Written != 2 {
		t.Errorf("Written = %d, want 2", res.Written)
	}

	want := map[string]string{"data_foo": "bar", "data_baz": "qux"}
	if diff := cmp.Diff(want, client.Snapshot()); diff != "" {
		t.Errorf("cache mismatch (-want +got):\n%s", diff)
	}
}

func TestPublish_EmptyFile(t *testing.T) {
	fs := setupFS(t, map[string]string{"empty.base": ""})
	client := cache.NewMemory()
	p := NewPublisher(fs, logging.Discard(), PublisherOptions{})

	res, err := p.Publish(context.Background(), client, mustCandidate(t, "empty.base"))
	if err != nil {
		t.Fatalf("Publish() failed: %v", err)
	}
	if res.Written != 0 || client.SetCount() != 0 {
		t.Errorf("Expected no writes, got Written=%d SetCount=%d", res.Written, client.SetCount())
	}
}

func TestPublish_Idempotent(t *testing.T) {
	fs := setupFS(t, map[string]string{"data.base": "foo|bar\nbaz|qux"})
	client := cache.NewMemory()
	p := NewPublisher(fs, logging.Discard(), PublisherOptions{})
	c := mustCandidate(t, "data.base")

	if _, err := p.Publish(context.Background(), client, c); err != nil {
		t.Fatalf("first Publish() failed: %v", err)
	}
	first := client.Snapshot()

	if _, err := p.Publish(context.Background(), client, c); err != nil {
		t.Fatalf("second Publish() failed: %v", err)
	}
	if diff := cmp.Diff(first, client.Snapshot()); diff != "" {
		t.Errorf("republish changed cache (-first +second):\n%s", diff)
	}
}

func TestPublish_MalformedLine(t *testing.T) {
	content := "a|1\nbroken\nb|2\n"

	t.Run("strict aborts file", func(t *testing.T) {
		fs := setupFS(t, map[string]string{"bad.base": content})
		client := cache.NewMemory()
		p := NewPublisher(fs, logging.Discard(), PublisherOptions{})

		res, err := p.Publish(context.Background(), client, mustCandidate(t, "bad.base"))
		var perr *PublishError
		if !errors.As(err, &perr) {
			t.Fatalf("Expected *PublishError, got %v", err)
		}
		if !IsParse(err) {
			t.Error("Expected error to wrap a records.ParseError")
		}
		if IsConnection(err) {
			t.Error("Parse failure must not be a connection error")
		}
		// The line before the bad one was already written.
		if res.Written != 1 {
			t.Errorf("Written = %d, want 1", res.Written)
		}
		if _, ok := client.Snapshot()["bad_b"]; ok {
			t.Error("Lines after the malformed line must not be published")
		}
	})

	t.Run("lenient skips line", func(t *testing.T) {
		fs := setupFS(t, map[string]string{"bad.base": content})
		client := cache.NewMemory()
		p := NewPublisher(fs, logging.Discard(), PublisherOptions{SkipMalformed: true})

		res, err := p.Publish(context.Background(), client, mustCandidate(t, "bad.base"))
		if err != nil {
			t.Fatalf("Publish() failed: %v", err)
		}
		if res.Written != 2 || res.Skipped != 1 {
			t.Errorf("Written=%d Skipped=%d, want 2 and 1", res.Written, res.Skipped)
		}
		want := map[string]string{"bad_a": "1", "bad_b": "2"}
		if diff := cmp.Diff(want, client.Snapshot()); diff != "" {
			t.Errorf("cache mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestPublish_MissingFile(t *testing.T) {
	fs := setupFS(t, nil)
	p := NewPublisher(fs, logging.Discard(), PublisherOptions{})

	_, err := p.Publish(context.Background(), cache.NewMemory(), mustCandidate(t, "gone.base"))
	var ferr *FileError
	if !errors.As(err, &ferr) {
		t.Fatalf("Expected *FileError, got %v", err)
	}
	if !IsPerFile(err) {
		t.Error("FileError should be per-file")
	}
}

func TestPublish_ConnectionLost(t *testing.T) {
	fs := setupFS(t, map[string]string{"data.base": "foo|bar\nbaz|qux"})
	client := cache.NewMemory()
	client.FailSet = func(key, _ string) error {
		if key == "data_baz" {
			return &cache.ConnectionError{Op: "set", Addr: "memory://", Err: errors.New("broken pipe")}
		}
		return nil
	}
	p := NewPublisher(fs, logging.Discard(), PublisherOptions{})

	res, err := p.Publish(context.Background(), client, mustCandidate(t, "data.base"))
	if !IsConnection(err) {
		t.Fatalf("Expected connection error, got %v", err)
	}
	var perr *PublishError
	if !errors.As(err, &perr) || perr.Key != "data_baz" {
		t.Errorf("Expected PublishError for data_baz, got %v", err)
	}
	if res.Written != 1 {
		t.Errorf("Written = %d, want 1", res.Written)
	}
}

func TestClassify(t *testing.T) {
	ctx := context.Background()
	fs := setupFS(t, map[string]string{"metrics.base": "count|42"})
	tr := NewTracker(fs, logging.Discard())
	c := mustCandidate(t, "metrics.base")
	client := cache.NewMemory()

	state, fp, err := tr.Classify(ctx, client, c)
	if err != nil {
		t.Fatalf("Classify() failed: %v", err)
	}
	if state != Unknown {
		t.Errorf("first Classify() = %s, want unknown", state)
	}
	if fp != checksum.Sum([]byte("count|42")) {
		t.Errorf("fingerprint = %s, want digest of content", fp)
	}

	if err := tr.RecordFingerprint(ctx, client, c, fp); err != nil {
		t.Fatalf("RecordFingerprint() failed: %v", err)
	}
	if got := client.Snapshot()["metrics.base_checksum"]; got != fp.String() {
		t.Errorf("stored checksum = %q, want %q", got, fp)
	}

	state, _, err = tr.Classify(ctx, client, c)
	if err != nil {
		t.Fatalf("Classify() failed: %v", err)
	}
	if state != Unchanged {
		t.Errorf("Classify() after record = %s, want unchanged", state)
	}

	if err := afero.WriteFile(fs, c.Path, []byte("count|43"), 0644); err != nil {
		t.Fatalf("Failed to rewrite file: %v", err)
	}
	state, _, err = tr.Classify(ctx, client, c)
	if err != nil {
		t.Fatalf("Classify() failed: %v", err)
	}
	if state != Changed {
		t.Errorf("Classify() after edit = %s, want changed", state)
	}
	if !state.NeedsPublish() || Unchanged.NeedsPublish() {
		t.Error("NeedsPublish() wrong")
	}
}

func TestClassify_Errors(t *testing.T) {
	ctx := context.Background()
	fs := setupFS(t, map[string]string{"metrics.base": "count|42"})
	tr := NewTracker(fs, logging.Discard())

	_, _, err := tr.Classify(ctx, cache.NewMemory(), mustCandidate(t, "gone.base"))
	var ferr *FileError
	if !errors.As(err, &ferr) {
		t.Errorf("Expected *FileError for missing file, got %v", err)
	}

	down := cache.NewMemory()
	down.FailGet = func(string) error {
		return &cache.ConnectionError{Op: "get", Addr: "memory://", Err: errors.New("refused")}
	}
	_, _, err = tr.Classify(ctx, down, mustCandidate(t, "metrics.base"))
	if !IsConnection(err) {
		t.Errorf("Expected connection error, got %v", err)
	}
}

func TestMarkProcessed_MemFS(t *testing.T) {
	fs := setupFS(t, map[string]string{"metrics.base": "count|42"})
	tr := NewTracker(fs, logging.Discard())
	c := mustCandidate(t, "metrics.base")

	if err := tr.MarkProcessed(c); err != nil {
		t.Fatalf("MarkProcessed() failed: %v", err)
	}

	data, err := afero.ReadFile(fs, "/data/metrics.base_old")
	if err != nil {
		t.Fatalf("processed file missing: %v", err)
	}
	if string(data) != "count|42" {
		t.Errorf("processed content = %q, want count|42", data)
	}

	got, err := ListCandidates(fs, testDir)
	if err != nil {
		t.Fatalf("ListCandidates() failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("processed file still listed as candidate: %v", got)
	}
}

func TestMarkProcessed_TargetExists(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T) (afero.Fs, Candidate)
	}{
		{
			name: "memfs",
			setup: func(t *testing.T) (afero.Fs, Candidate) {
				fs := setupFS(t, map[string]string{
					"metrics.base":     "count|43",
					"metrics.base_old": "count|42",
				})
				return fs, mustCandidate(t, "metrics.base")
			},
		},
		{
			name: "osfs",
			setup: func(t *testing.T) (afero.Fs, Candidate) {
				dir := t.TempDir()
				for name, content := range map[string]string{
					"metrics.base":     "count|43",
					"metrics.base_old": "count|42",
				} {
					if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
						t.Fatalf("Failed to write %s: %v", name, err)
					}
				}
				c, err := NewCandidate(filepath.Join(dir, "metrics.base"))
				if err != nil {
					t.Fatalf("NewCandidate() failed: %v", err)
				}
				return afero.NewOsFs(), c
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs, c := tt.setup(t)
			tr := NewTracker(fs, logging.Discard())

			err := tr.MarkProcessed(c)
			var rerr *RenameError
			if !errors.As(err, &rerr) {
				t.Fatalf("Expected *RenameError, got %v", err)
			}
			if !errors.Is(err, os.ErrExist) {
				t.Errorf("Expected os.ErrExist, got %v", err)
			}

			// Neither file was touched.
			old, _ := afero.ReadFile(fs, c.ProcessedPath())
			if string(old) != "count|42" {
				t.Errorf("existing processed file overwritten: %q", old)
			}
			if _, err := fs.Stat(c.Path); err != nil {
				t.Errorf("candidate file disappeared: %v", err)
			}
		})
	}
}

func TestMarkProcessed_OsFS(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "metrics.base")
	if err := os.WriteFile(path, []byte("count|42"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	c, err := NewCandidate(path)
	if err != nil {
		t.Fatalf("NewCandidate() failed: %v", err)
	}
	tr := NewTracker(afero.NewOsFs(), logging.Discard())

	if err := tr.MarkProcessed(c); err != nil {
		t.Fatalf("MarkProcessed() failed: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("source file still present: %v", err)
	}
	data, err := os.ReadFile(path + "_old")
	if err != nil || string(data) != "count|42" {
		t.Errorf("processed file = %q, %v", data, err)
	}
}

func TestErrorHelpers(t *testing.T) {
	conn := &cache.ConnectionError{Op: "set", Addr: "x", Err: errors.New("down")}
	parse := &records.ParseError{Line: 1, Text: "x"}

	tests := []struct {
		name       string
		err        error
		connection bool
		perFile    bool
	}{
		{name: "nil", err: nil},
		{name: "connection", err: &PublishError{Path: "p", Key: "k", Err: conn}, connection: true},
		{name: "parse", err: &PublishError{Path: "p", Err: parse}, perFile: true},
		{name: "file", err: &FileError{Path: "p", Op: "open", Err: os.ErrPermission}, perFile: true},
		{name: "rename", err: &RenameError{OldPath: "a", NewPath: "b", Err: os.ErrExist}, perFile: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsConnection(tt.err); got != tt.connection {
				t.Errorf("IsConnection() = %v, want %v", got, tt.connection)
			}
			if got := IsPerFile(tt.err); got != tt.perFile {
				t.Errorf("IsPerFile() = %v, want %v", got, tt.perFile)
			}
		})
	}
}
