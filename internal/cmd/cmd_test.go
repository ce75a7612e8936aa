package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/portaldocs/internal/config"
	"github.com/Iron-Ham/portaldocs/internal/docstore"
	"github.com/Iron-Ham/portaldocs/internal/filelock"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// syncBuffer is a bytes.Buffer safe to read while a command writes to it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// setupTestEnvironment points the config and data directories at temporary
// directories and returns the document directory.
func setupTestEnvironment(t *testing.T) string {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	dataHome := t.TempDir()
	t.Setenv("XDG_DATA_HOME", dataHome)
	t.Cleanup(viper.Reset)
	return filepath.Join(dataHome, "portaldocs")
}

// resetCommands clears global state left over from a previous execution.
func resetCommands(ctx context.Context) {
	viper.Reset()
	var walk func(c *cobra.Command)
	walk = func(c *cobra.Command) {
		reset := func(f *pflag.Flag) {
			_ = f.Value.Set(f.DefValue)
			f.Changed = false
		}
		c.Flags().VisitAll(reset)
		c.PersistentFlags().VisitAll(reset)
		c.SetContext(ctx)
		for _, sub := range c.Commands() {
			walk(sub)
		}
	}
	walk(rootCmd)
}

// executeCommand runs the root command with args and returns captured output
func executeCommand(t *testing.T, stdin string, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	return executeCommandContext(context.Background(), stdin, args...)
}

func executeCommandContext(ctx context.Context, stdin string, args ...string) (stdout, stderr string, err error) {
	resetCommands(ctx)
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	err = rootCmd.ExecuteContext(ctx)
	return out.String(), errOut.String(), err
}

func mustExecute(t *testing.T, args ...string) string {
	t.Helper()
	out, stderr, err := executeCommand(t, "", args...)
	if err != nil {
		t.Fatalf("%v: %v\nstderr: %s", args, err, stderr)
	}
	return out
}

func readDoc(t *testing.T, dir, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, name+docstore.DocumentExt))
	if err != nil {
		t.Fatalf("failed to read %s: %v", name, err)
	}
	return string(data)
}

func TestRootCommand(t *testing.T) {
	if rootCmd.Use != "portaldocs" {
		t.Errorf("rootCmd.Use = %q, want %q", rootCmd.Use, "portaldocs")
	}

	// Check for expected subcommands (compare by Name(), not Use which includes args)
	expectedCmds := []string{"read", "write", "update", "append", "delete", "backups", "ls", "check", "diff", "watch", "config"}
	cmdMap := make(map[string]bool)
	for _, cmd := range rootCmd.Commands() {
		cmdMap[cmd.Name()] = true
	}
	for _, expected := range expectedCmds {
		if !cmdMap[expected] {
			t.Errorf("expected subcommand %q not found", expected)
		}
	}
}

func TestReadSeedsMissingDocument(t *testing.T) {
	dir := setupTestEnvironment(t)

	out, stderr, err := executeCommand(t, "", "read", "rbac")
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if out != "{}\n" {
		t.Errorf("stdout = %q, want %q", out, "{}\n")
	}
	if !strings.Contains(stderr, "created") {
		t.Errorf("stderr = %q, want a created note", stderr)
	}
	if got := readDoc(t, dir, "rbac"); got != "{}\n" {
		t.Errorf("document = %q", got)
	}
}

func TestReadWithDefault(t *testing.T) {
	dir := setupTestEnvironment(t)

	out := mustExecute(t, "read", "weblinks", "--default", `{"links": []}`)
	want := "{\n    \"links\": []\n}\n"
	if out != want {
		t.Errorf("stdout = %q, want %q", out, want)
	}
	if got := readDoc(t, dir, "weblinks"); got != want {
		t.Errorf("document = %q, want %q", got, want)
	}

	if _, _, err := executeCommand(t, "", "read", "other", "--default", "{nope"); err == nil {
		t.Error("expected an error for an invalid default")
	}
}

func TestReadRecoversCorruptDocument(t *testing.T) {
	dir := setupTestEnvironment(t)
	mustExecute(t, "write", "settings", `{"theme": "dark"}`)
	mustExecute(t, "write", "settings", `{"theme": "light"}`)

	if err := os.WriteFile(filepath.Join(dir, "settings.json"), []byte("{broken"), 0o644); err != nil {
		t.Fatal(err)
	}

	out, stderr, err := executeCommand(t, "", "read", "settings")
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if !strings.Contains(out, `"dark"`) {
		t.Errorf("stdout = %q, want the backed-up value", out)
	}
	if !strings.Contains(stderr, "recovered") {
		t.Errorf("stderr = %q, want a recovered note", stderr)
	}
}

func TestWriteFromArgumentAndStdin(t *testing.T) {
	dir := setupTestEnvironment(t)

	mustExecute(t, "write", "rbac", `{"admins": ["alice"]}`)
	if got := readDoc(t, dir, "rbac"); !strings.Contains(got, `"alice"`) {
		t.Errorf("document = %q", got)
	}

	if _, stderr, err := executeCommand(t, `{"admins": ["bob"]}`, "write", "rbac"); err != nil {
		t.Fatalf("write from stdin failed: %v\n%s", err, stderr)
	}
	if got := readDoc(t, dir, "rbac"); !strings.Contains(got, `"bob"`) {
		t.Errorf("document = %q", got)
	}

	if _, _, err := executeCommand(t, "not json", "write", "rbac", "-"); err == nil {
		t.Error("expected an error for invalid stdin")
	}
	if got := readDoc(t, dir, "rbac"); !strings.Contains(got, `"bob"`) {
		t.Errorf("failed write changed the document: %q", got)
	}
}

func TestWriteNoBackup(t *testing.T) {
	setupTestEnvironment(t)

	mustExecute(t, "write", "doc", `{"v": 1}`)
	mustExecute(t, "write", "doc", `{"v": 2}`, "--no-backup")
	if out := mustExecute(t, "backups", "list", "doc"); out != "" {
		t.Errorf("backups after --no-backup = %q, want none", out)
	}

	mustExecute(t, "write", "doc", `{"v": 3}`)
	if out := mustExecute(t, "backups", "list", "doc"); strings.Count(out, "\n") != 1 {
		t.Errorf("backups = %q, want one", out)
	}
}

func TestFieldCommands(t *testing.T) {
	dir := setupTestEnvironment(t)

	out := mustExecute(t, "update", "settings", "theme", "dark")
	if !strings.Contains(out, `+ theme: "dark"`) {
		t.Errorf("update output = %q", out)
	}

	out = mustExecute(t, "update", "settings", "theme", "light")
	if !strings.Contains(out, `~ theme: "dark" -> "light"`) {
		t.Errorf("update output = %q", out)
	}
	if !strings.Contains(out, "backup: settings_") {
		t.Errorf("update output = %q, want the backup name", out)
	}

	out = mustExecute(t, "update", "settings", "retries", "5")
	if !strings.Contains(out, "+ retries: 5") {
		t.Errorf("update output = %q, want a JSON number", out)
	}

	out = mustExecute(t, "append", "settings", "admins", "alice")
	if !strings.Contains(out, `+ admins: ["alice"]`) {
		t.Errorf("append output = %q", out)
	}
	mustExecute(t, "append", "settings", "admins", "bob")

	out = mustExecute(t, "delete", "settings", "retries")
	if !strings.Contains(out, "- retries: 5") {
		t.Errorf("delete output = %q", out)
	}

	_, stderr, err := executeCommand(t, "", "delete", "settings", "retries")
	if err != nil {
		t.Fatalf("second delete failed: %v", err)
	}
	if !strings.Contains(stderr, "no change") {
		t.Errorf("stderr = %q, want a no change note", stderr)
	}

	want := "{\n    \"admins\": [\n        \"alice\",\n        \"bob\"\n    ],\n    \"theme\": \"light\"\n}\n"
	if got := readDoc(t, dir, "settings"); got != want {
		t.Errorf("document = %q, want %q", got, want)
	}
}

func TestFieldCommandErrors(t *testing.T) {
	setupTestEnvironment(t)
	mustExecute(t, "write", "list", `[1, 2]`)
	mustExecute(t, "write", "obj", `{"name": "x"}`)

	tests := []struct {
		name string
		args []string
		want error
		code int
	}{
		{name: "update non-object", args: []string{"update", "list", "k", "1"}, want: docstore.ErrNotObject, code: ExitUsage},
		{name: "append to string", args: []string{"append", "obj", "name", "y"}, want: docstore.ErrNotArray, code: ExitUsage},
		{name: "invalid name", args: []string{"update", "../escape", "k", "1"}, want: docstore.ErrInvalidName, code: ExitUsage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := executeCommand(t, "", tt.args...)
			if !errors.Is(err, tt.want) {
				t.Fatalf("error = %v, want %v", err, tt.want)
			}
			if code := ExitCode(err); code != tt.code {
				t.Errorf("ExitCode = %d, want %d", code, tt.code)
			}
		})
	}
}

func TestYAMLOutput(t *testing.T) {
	setupTestEnvironment(t)
	mustExecute(t, "write", "settings", `{"retries": 5, "ratio": 0.5, "name": "x"}`)

	out := mustExecute(t, "read", "settings", "-o", "yaml")
	for _, want := range []string{"retries: 5\n", "ratio: 0.5\n", "name: x\n"} {
		if !strings.Contains(out, want) {
			t.Errorf("yaml output %q missing %q", out, want)
		}
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	setupTestEnvironment(t)
	t.Setenv("PORTALDOCS_OUTPUT_FORMAT", "yaml")

	out := mustExecute(t, "read", "doc", "--default", `{"a": 1}`)
	if out != "a: 1\n" {
		t.Errorf("stdout = %q, want yaml", out)
	}
}

func TestBaseDirFlag(t *testing.T) {
	setupTestEnvironment(t)
	base := filepath.Join(t.TempDir(), "docs")

	mustExecute(t, "--base-dir", base, "write", "rbac", `{}`)
	if _, err := os.Stat(filepath.Join(base, "rbac.json")); err != nil {
		t.Errorf("document not created under --base-dir: %v", err)
	}
	if out := mustExecute(t, "--base-dir", base, "ls"); out != "rbac\n" {
		t.Errorf("ls = %q, want rbac", out)
	}
}

func TestBackupsCommands(t *testing.T) {
	dir := setupTestEnvironment(t)
	mustExecute(t, "write", "doc", `{"v": 1}`)
	mustExecute(t, "write", "doc", `{"v": 2}`)
	mustExecute(t, "write", "doc", `{"v": 3}`)

	out := mustExecute(t, "backups", "list", "doc")
	names := strings.Fields(out)
	if len(names) != 2 {
		t.Fatalf("backups = %q, want two", out)
	}
	for _, n := range names {
		if !strings.HasPrefix(n, "doc_") || !strings.HasSuffix(n, docstore.BackupExt) {
			t.Errorf("unexpected backup name %q", n)
		}
	}

	long := mustExecute(t, "backups", "list", "doc", "--long")
	if !strings.HasPrefix(long, "TIME") || !strings.Contains(long, names[0]) {
		t.Errorf("long listing = %q", long)
	}

	// The oldest backup holds the first version.
	_, stderr, err := executeCommand(t, "", "backups", "restore", "doc", names[0])
	if err != nil {
		t.Fatalf("restore failed: %v", err)
	}
	if !strings.Contains(stderr, names[0]) {
		t.Errorf("stderr = %q, want the backup name", stderr)
	}
	if got := readDoc(t, dir, "doc"); !strings.Contains(got, `"v": 1`) {
		t.Errorf("restored document = %q", got)
	}

	// Restoring keeps the replaced version as the newest backup.
	after := strings.Fields(mustExecute(t, "backups", "list", "doc"))
	if len(after) != 3 {
		t.Fatalf("backups after restore = %v, want three", after)
	}
	if got, err := os.ReadFile(filepath.Join(dir, "backups", after[2])); err != nil || !strings.Contains(string(got), `"v": 3`) {
		t.Errorf("newest backup = %q (%v), want the replaced version", got, err)
	}

	out = mustExecute(t, "backups", "prune", "doc", "--keep", "1")
	if strings.Count(out, "removed") != 2 {
		t.Errorf("prune output = %q, want two removals", out)
	}
	if out := mustExecute(t, "backups", "list", "doc"); strings.TrimSpace(out) != after[2] {
		t.Errorf("backups after prune = %q, want %q", out, after[2])
	}

	if _, _, err := executeCommand(t, "", "backups", "prune", "doc", "--keep", "-1"); err == nil {
		t.Error("expected an error for a negative --keep")
	}
}

func TestBackupsRestoreWithoutBackups(t *testing.T) {
	setupTestEnvironment(t)
	mustExecute(t, "write", "doc", `{}`)

	_, _, err := executeCommand(t, "", "backups", "restore", "doc")
	if !errors.Is(err, docstore.ErrNoBackup) {
		t.Fatalf("error = %v, want ErrNoBackup", err)
	}
	if code := ExitCode(err); code != ExitNoBackup {
		t.Errorf("ExitCode = %d, want %d", code, ExitNoBackup)
	}
}

func TestCheckCommand(t *testing.T) {
	dir := setupTestEnvironment(t)
	mustExecute(t, "write", "good", `{"ok": true}`)

	out := mustExecute(t, "check")
	if !strings.Contains(out, "ok      good") {
		t.Errorf("check output = %q", out)
	}

	mustExecute(t, "write", "healable", `{"v": 1}`)
	mustExecute(t, "write", "healable", `{"v": 2}`)
	if err := os.WriteFile(filepath.Join(dir, "healable.json"), []byte("{oops"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "broken.json"), []byte("]["), 0o644); err != nil {
		t.Fatal(err)
	}

	out, _, err := executeCommand(t, "", "check")
	if !errors.Is(err, errCheckFailed) {
		t.Fatalf("error = %v, want errCheckFailed", err)
	}
	if code := ExitCode(err); code != ExitCheckFailed {
		t.Errorf("ExitCode = %d, want %d", code, ExitCheckFailed)
	}
	if !strings.Contains(out, "repair  healable") {
		t.Errorf("check output = %q, want healable as repairable", out)
	}
	if !strings.Contains(out, "FAIL    broken") {
		t.Errorf("check output = %q, want broken as failed", out)
	}

	if out := mustExecute(t, "check", "good"); strings.Contains(out, "broken") {
		t.Errorf("check good = %q, should only check good", out)
	}
}

func TestDiffCommand(t *testing.T) {
	setupTestEnvironment(t)
	dir := t.TempDir()
	oldPath := filepath.Join(dir, "old.json")
	newPath := filepath.Join(dir, "new.json")
	if err := os.WriteFile(oldPath, []byte(`{"a": 1, "b": {"c": 2, "d": 3}, "gone": true}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(newPath, []byte(`{"a": 1, "b": {"c": 5, "d": 3}, "new": "x"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	out := mustExecute(t, "diff", oldPath, newPath)
	want := "~ b.c: 2 -> 5\n- gone: true\n+ new: \"x\"\n"
	if out != want {
		t.Errorf("diff = %q, want %q", out, want)
	}

	raw := mustExecute(t, "diff", "--raw", oldPath, newPath)
	wantRaw := "{\n    \"b\": {\n        \"c\": 5\n    },\n    \"gone\": null,\n    \"new\": \"x\"\n}\n"
	if raw != wantRaw {
		t.Errorf("diff --raw = %q, want %q", raw, wantRaw)
	}

	arrayPath := filepath.Join(dir, "array.json")
	if err := os.WriteFile(arrayPath, []byte(`[]`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := executeCommand(t, "", "diff", oldPath, arrayPath); !errors.Is(err, docstore.ErrNotObject) {
		t.Errorf("error = %v, want ErrNotObject", err)
	}
}

func TestLockTimeoutExitCode(t *testing.T) {
	dir := setupTestEnvironment(t)
	t.Setenv("PORTALDOCS_LOCK_TIMEOUT", "50ms")
	t.Setenv("PORTALDOCS_LOCK_POLL_INTERVAL", "5ms")
	mustExecute(t, "write", "doc", `{}`)

	lock, err := filelock.NewManager().Acquire(context.Background(), filepath.Join(dir, "doc.json"))
	if err != nil {
		t.Fatal(err)
	}
	defer lock.Release()

	_, _, err = executeCommand(t, "", "update", "doc", "k", "v")
	if !errors.Is(err, filelock.ErrTimeout) {
		t.Fatalf("error = %v, want ErrTimeout", err)
	}
	if code := ExitCode(err); code != ExitLock {
		t.Errorf("ExitCode = %d, want %d", code, ExitLock)
	}
}

func TestWatchCommand(t *testing.T) {
	setupTestEnvironment(t)
	mustExecute(t, "write", "rbac", `{"admins": []}`)
	dir := config.DefaultBaseDir()

	opts := docstore.DefaultOptions(dir)
	opts.Backup = false
	store, err := docstore.New(opts)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	resetCommands(ctx)
	out := &syncBuffer{}
	rootCmd.SetOut(out)
	rootCmd.SetErr(&syncBuffer{})
	rootCmd.SetArgs([]string{"watch", "rbac", "--debounce", "10ms"})

	done := make(chan error, 1)
	go func() { done <- rootCmd.ExecuteContext(ctx) }()

	// Keep committing until the watcher has reported a change.
	deadline := time.After(5 * time.Second)
	for i := 0; !strings.Contains(out.String(), "+ admins.") && !strings.Contains(out.String(), "~ admins"); i++ {
		select {
		case <-deadline:
			cancel()
			t.Fatalf("no change reported; output: %q", out.String())
		case <-time.After(50 * time.Millisecond):
		}
		if _, err := store.Update(context.Background(), "rbac", "admins", []any{fmt.Sprintf("user%d", i)}); err != nil {
			t.Fatal(err)
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("watch returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop after cancel")
	}
	if !strings.Contains(out.String(), "rbac") {
		t.Errorf("output = %q, want the document name", out.String())
	}
}

func TestConfigInitSetShow(t *testing.T) {
	setupTestEnvironment(t)

	out := mustExecute(t, "config", "init")
	if !strings.Contains(out, config.ConfigFile()) {
		t.Errorf("init output = %q", out)
	}
	if _, _, err := executeCommand(t, "", "config", "init"); err == nil {
		t.Error("second init should fail")
	}

	// The generated file must load.
	mustExecute(t, "ls")

	mustExecute(t, "config", "set", "lock.timeout", "30s")
	mustExecute(t, "config", "set", "backup.keep", "4")

	out = mustExecute(t, "config", "show")
	for _, want := range []string{"# Config file: " + config.ConfigFile(), "timeout: 30s", "keep: 4"} {
		if !strings.Contains(out, want) {
			t.Errorf("config show %q missing %q", out, want)
		}
	}

	out = mustExecute(t, "config", "path")
	if !strings.Contains(out, "Active config: "+config.ConfigFile()) {
		t.Errorf("config path = %q", out)
	}
}

func TestConfigSetRejectsInvalidValues(t *testing.T) {
	setupTestEnvironment(t)

	tests := []struct {
		name  string
		key   string
		value string
	}{
		{name: "unknown key", key: "store.nope", value: "x"},
		{name: "bad int", key: "backup.keep", value: "many"},
		{name: "bad bool", key: "write.backup", value: "sometimes"},
		{name: "bad duration", key: "lock.timeout", value: "soon"},
		{name: "invalid format", key: "output.format", value: "xml"},
		{name: "negative keep", key: "backup.keep", value: "-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := executeCommand(t, "", "config", "set", tt.key, tt.value); err == nil {
				t.Errorf("config set %s %s should fail", tt.key, tt.value)
			}
		})
	}
	if _, err := os.Stat(config.ConfigFile()); !os.IsNotExist(err) {
		t.Error("rejected values should not create a config file")
	}
}

func TestInvalidConfigurationExitCode(t *testing.T) {
	setupTestEnvironment(t)
	t.Setenv("PORTALDOCS_OUTPUT_FORMAT", "xml")

	_, _, err := executeCommand(t, "", "ls")
	if err == nil {
		t.Fatal("expected a configuration error")
	}
	if code := ExitCode(err); code != ExitConfig {
		t.Errorf("ExitCode = %d, want %d", code, ExitConfig)
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "nil", err: nil, want: ExitOK},
		{name: "cancelled", err: fmt.Errorf("read: %w", context.Canceled), want: ExitInterrupted},
		{name: "configuration", err: &docstore.ConfigurationError{Path: "/x", Err: errors.New("boom")}, want: ExitConfig},
		{name: "lock", err: &docstore.LockError{Document: "d", Err: filelock.ErrTimeout}, want: ExitLock},
		{name: "decode", err: &docstore.DecodeError{Document: "d", Err: errors.New("bad")}, want: ExitDecode},
		{name: "write", err: &docstore.WriteError{Document: "d", Attempts: 3, Err: errors.New("disk")}, want: ExitWrite},
		{name: "no backup", err: docstore.ErrNoBackup, want: ExitNoBackup},
		{name: "other", err: errors.New("unknown"), want: ExitError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}
