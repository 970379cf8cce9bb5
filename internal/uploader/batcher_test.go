package uploader

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, root string, rel string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(p, []byte("{}"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func remoteSet(tasks []Task) map[string]bool {
	out := make(map[string]bool, len(tasks))
	for _, task := range tasks {
		out[task.Remote] = true
	}
	return out
}

// TestEnumerate: a/b.json and c.json under prefix "pref/" yield exactly
// {pref/a/b.json, pref/c.json} as a set.
func TestEnumerate(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "a/b.json")
	writeFile(t, root, "c.json")

	tasks, err := Enumerate(root, "pref/")
	if err != nil {
		t.Fatalf("Enumerate: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("got %d tasks, want 2: %v", len(tasks), tasks)
	}

	got := remoteSet(tasks)
	for _, want := range []string{"pref/a/b.json", "pref/c.json"} {
		if !got[want] {
			t.Fatalf("missing remote %q in %v", want, got)
		}
	}
}

func TestEnumerate_EmptyPrefixMapsToRoot(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "10/slug/meta.json")

	tasks, err := Enumerate(root, "")
	if err != nil {
		t.Fatalf("Enumerate: %v", err)
	}
	if len(tasks) != 1 || tasks[0].Remote != "10/slug/meta.json" {
		t.Fatalf("tasks = %v", tasks)
	}
}

func TestEnumerate_SkipsDirectories(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "a/b.json")
	if err := os.MkdirAll(filepath.Join(root, "empty", "nested"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	tasks, err := Enumerate(root, "")
	if err != nil {
		t.Fatalf("Enumerate: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("directories leaked into tasks: %v", tasks)
	}
}

func TestEnumerate_Deterministic(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	for _, rel := range []string{"b/x.json", "a/y.json", "z.json", "a/a.json"} {
		writeFile(t, root, rel)
	}

	first, err := Enumerate(root, "p")
	if err != nil {
		t.Fatalf("Enumerate: %v", err)
	}
	second, err := Enumerate(root, "p")
	if err != nil {
		t.Fatalf("Enumerate: %v", err)
	}

	if len(first) != 4 || len(second) != 4 {
		t.Fatalf("lengths = %d, %d, want 4", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("walk not deterministic: %v vs %v", first, second)
		}
	}

	seen := map[string]bool{}
	for _, task := range first {
		if seen[task.Remote] {
			t.Fatalf("duplicate remote %q", task.Remote)
		}
		seen[task.Remote] = true
	}
}

func TestNormalizePrefix(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"pref", "pref/"},
		{"pref/", "pref/"},
		{"/pref", "pref/"},
		{"/a/b", "a/b/"},
	}
	for _, tt := range tests {
		if got := NormalizePrefix(tt.in); got != tt.want {
			t.Fatalf("NormalizePrefix(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
