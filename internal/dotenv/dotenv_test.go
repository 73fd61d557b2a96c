package dotenv

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFileMissingIsNoop(t *testing.T) {
	t.Parallel()
	if err := LoadFile(filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Fatalf("LoadFile missing file: %v", err)
	}
}

func TestLoadFileValuesAndPrecedence(t *testing.T) {
	envPath := filepath.Join(t.TempDir(), ".env")
	content := "" +
		"# comment\n" +
		"PLAIN=loaded\n" +
		"QUOTED=\"hello world\"\n" +
		"SINGLE='single quoted'\n" +
		"export EXPORTED=ok\n" +
		"EXISTING=from_file\n" +
		"=no_key\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	t.Setenv("EXISTING", "already_set")

	if err := LoadFile(envPath); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	for key, want := range map[string]string{
		"PLAIN":    "loaded",
		"QUOTED":   "hello world",
		"SINGLE":   "single quoted",
		"EXPORTED": "ok",
		"EXISTING": "already_set",
	} {
		if got := os.Getenv(key); got != want {
			t.Fatalf("%s=%q, want %q", key, got, want)
		}
	}
}
