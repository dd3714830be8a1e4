package statefile

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestWriteAtomic_CreatesParentAndAppendsNewline(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mesh", "resource_state.json")

	if err := WriteAtomic(path, []byte(`{"throttled":false}`)); err != nil {
		t.Fatalf("WriteAtomic() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read back: %v", err)
	}
	if string(data) != "{\"throttled\":false}\n" {
		t.Errorf("unexpected contents %q", data)
	}
	if tmp := tempFiles(t, filepath.Dir(path)); len(tmp) != 0 {
		t.Errorf("temporary files should not remain after a successful write: %v", tmp)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0644 {
		t.Errorf("expected mode 0644, got %o", perm)
	}
}

// tempFiles lists leftover temp files in dir
func tempFiles(t *testing.T, dir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "*.tmp"))
	if err != nil {
		t.Fatal(err)
	}
	return matches
}

func TestWriteAtomic_Overwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	for _, payload := range []string{"first", "second-and-longer", "3"} {
		if err := WriteAtomic(path, []byte(payload)); err != nil {
			t.Fatalf("WriteAtomic(%q) error = %v", payload, err)
		}
	}

	data, _ := os.ReadFile(path)
	if string(data) != "3\n" {
		t.Errorf("expected last payload only, got %q", data)
	}
}

// An interrupted write leaves a stale temp file behind but never touches
// the target, and later writes are unaffected by it.
func TestWriteAtomic_InterruptedBeforeRenameKeepsPrevious(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := WriteAtomic(path, []byte("previous")); err != nil {
		t.Fatalf("WriteAtomic() error = %v", err)
	}

	// Simulate a crash after the temp write but before the rename
	if err := os.WriteFile(path+".tmp", []byte("half-writ"), 0644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}

	data, _ := os.ReadFile(path)
	if string(data) != "previous\n" {
		t.Errorf("target changed before rename: %q", data)
	}

	if err := WriteAtomic(path, []byte("next")); err != nil {
		t.Fatalf("WriteAtomic() after interruption error = %v", err)
	}
	data, _ = os.ReadFile(path)
	if string(data) != "next\n" {
		t.Errorf("unexpected contents %q", data)
	}
}

func TestWriteAtomic_RenameFailureKeepsPrevious(t *testing.T) {
	dir := t.TempDir()
	// A non-empty directory at the target path makes the rename fail
	path := filepath.Join(dir, "state.json")
	if err := os.MkdirAll(filepath.Join(path, "child"), 0755); err != nil {
		t.Fatalf("failed to create blocking directory: %v", err)
	}

	err := WriteAtomic(path, []byte("payload"))
	if err == nil {
		t.Fatal("expected rename failure")
	}
	if !strings.Contains(err.Error(), "failed to move") {
		t.Errorf("unexpected error %v", err)
	}
	if tmp := tempFiles(t, dir); len(tmp) != 0 {
		t.Errorf("temporary file should be removed after a failed rename: %v", tmp)
	}
	if info, err := os.Stat(path); err != nil || !info.IsDir() {
		t.Error("target should be left untouched")
	}
}

func TestWriteAtomic_ParentIsFile(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "mesh")
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := WriteAtomic(filepath.Join(blocker, "state.json"), []byte("{}")); err == nil {
		t.Fatal("expected error when parent is a regular file")
	}
}

func TestWriteAtomic_ConcurrentWriters(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	const writers, writes = 8, 50
	errs := make(chan error, writers*writes)
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < writes; i++ {
				if err := WriteAtomic(path, []byte(`{"throttled":true}`)); err != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent WriteAtomic failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "{\"throttled\":true}\n" {
		t.Errorf("unexpected final contents %q (err %v)", data, err)
	}
	if tmp := tempFiles(t, dir); len(tmp) != 0 {
		t.Errorf("temporary files left behind: %v", tmp)
	}
}

// Concurrent readers only ever see one complete document.
func TestWriteAtomic_ReadersNeverSeePartialWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	big := strings.Repeat("x", 256*1024)
	docA, _ := json.Marshal(map[string]string{"v": "a" + big})
	docB, _ := json.Marshal(map[string]string{"v": "b" + big})
	if err := WriteAtomic(path, docA); err != nil {
		t.Fatal(err)
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			doc := docA
			if i%2 == 0 {
				doc = docB
			}
			if err := WriteAtomic(path, doc); err != nil {
				t.Errorf("WriteAtomic() error = %v", err)
				break
			}
		}
		close(stop)
	}()

	for {
		select {
		case <-stop:
			wg.Wait()
			return
		default:
		}
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("read error: %v", err)
		}
		var v map[string]string
		if err := json.Unmarshal(data, &v); err != nil {
			t.Fatalf("observed partial document (%d bytes): %v", len(data), err)
		}
	}
}

func TestFileWriter(t *testing.T) {
	if _, err := NewFileWriter(""); err == nil {
		t.Error("expected error for empty path")
	}

	path := filepath.Join(t.TempDir(), "out.json")
	fw, err := NewFileWriter(path)
	if err != nil {
		t.Fatalf("NewFileWriter() error = %v", err)
	}
	if fw.Path() != path {
		t.Errorf("Path() = %q, want %q", fw.Path(), path)
	}

	if err := fw.WriteJSON(map[string]int{"n": 1}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "{\"n\":1}\n" {
		t.Errorf("unexpected contents %q", data)
	}

	if err := fw.WriteJSON(make(chan int)); err == nil {
		t.Error("expected marshal error")
	}
}
