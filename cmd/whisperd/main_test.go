package main

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"whisperd/internal/services"
	"whisperd/internal/testsupport"
)

func TestConfigInitAndValidate(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"config", "validate"}, env.configPath)
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")
	requireContains(t, out, env.cacheDir)

	target := filepath.Join(t.TempDir(), "nested", "config.toml")
	out, _, err = runCLI(t, []string{"config", "init", "--path", target}, "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}

	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}, ""); err == nil {
		t.Fatal("expected init to refuse overwriting without --overwrite")
	}
	if _, _, err := runCLI(t, []string{"config", "init", "--path", target, "--overwrite"}, ""); err != nil {
		t.Fatalf("config init --overwrite: %v", err)
	}
}

func TestPredictPrintsTranscriptionJSON(t *testing.T) {
	env := setupCLITestEnv(t)
	audio := testsupport.WriteAudio(t, "talk.wav", 32)

	out, _, err := runCLI(t, []string{"predict", "--audio", audio, "--language", "German"}, env.configPath)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	var result struct {
		Segments []map[string]any `json:"segments"`
		Language string           `json:"language"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &result); err != nil {
		t.Fatalf("stdout is not JSON: %v\n%s", err, out)
	}
	if result.Language != "de" || len(result.Segments) != 2 {
		t.Fatalf("unexpected result %+v", result)
	}
	if !env.engine.Closed() {
		t.Fatal("expected engine closed after predict")
	}
}

func TestPredictAlignReadsSegmentsFile(t *testing.T) {
	env := setupCLITestEnv(t)
	audio := testsupport.WriteAudio(t, "talk.wav", 32)
	segmentsPath := filepath.Join(t.TempDir(), "segments.json")
	if err := os.WriteFile(segmentsPath, []byte(`[{"text":"Grüß Gott","start":0,"end":2}]`), 0o644); err != nil {
		t.Fatal(err)
	}

	out, _, err := runCLI(t, []string{"predict", "--audio", audio, "--mode", "align", "--segments", "@" + segmentsPath}, env.configPath)
	if err != nil {
		t.Fatalf("predict align: %v", err)
	}
	requireContains(t, out, `"text":"Grüß Gott"`)
	requireContains(t, out, `"word":"Gott"`)
	if env.engine.Calls("transcribe") != 0 {
		t.Fatal("align mode must not transcribe")
	}
}

func TestPredictRejectsInvalidInput(t *testing.T) {
	env := setupCLITestEnv(t)
	audio := testsupport.WriteAudio(t, "talk.wav", 32)

	_, _, err := runCLI(t, []string{"predict", "--audio", audio, "--mode", "align"}, env.configPath)
	if !errors.Is(err, services.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	_, _, err = runCLI(t, []string{"predict", "--audio", audio, "--language", "tlh"}, env.configPath)
	if !errors.Is(err, services.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument for unsupported language, got %v", err)
	}
	_, _, err = runCLI(t, []string{"predict", "--audio", audio + ".gone"}, env.configPath)
	if !errors.Is(err, services.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument for missing audio, got %v", err)
	}
	if n := env.engine.Calls("load_model") + env.engine.Calls("load_align_model"); n != 0 {
		t.Fatalf("invalid input must be rejected before loading models, got %d loads", n)
	}
	_, _, err = runCLI(t, []string{"predict", "--audio", audio, "--segments", "@/does/not/exist"}, env.configPath)
	if err == nil {
		t.Fatal("expected error for unreadable segments file")
	}
}

func TestDownloadModelsPreloadsLanguages(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"download-models", "--languages", "fr,German"}, env.configPath)
	if err != nil {
		t.Fatalf("download-models: %v", err)
	}
	requireContains(t, out, "Alignment models ready for 3 languages")

	var loaded []string
	for _, spec := range env.engine.AlignSpecs() {
		loaded = append(loaded, spec.Language)
	}
	slices.Sort(loaded)
	if !slices.Equal(loaded, []string{"de", "en", "fr"}) {
		t.Fatalf("unexpected alignment loads %v", loaded)
	}

	out, _, err = runCLI(t, []string{"models"}, env.configPath)
	if err != nil {
		t.Fatalf("models: %v", err)
	}
	requireContains(t, out, "transcription")
	requireContains(t, out, "large-v2")
	requireContains(t, out, "fr (French)")
}

func TestDownloadModelsRejectsUnknownLanguage(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, _, err := runCLI(t, []string{"download-models", "--languages", "qq"}, env.configPath); err == nil {
		t.Fatal("expected unknown language to fail validation")
	}
	if env.engine.Calls("load_model") != 0 {
		t.Fatal("no models should load after a validation failure")
	}
}

func TestModelsEmptyCache(t *testing.T) {
	env := setupCLITestEnv(t)
	out, _, err := runCLI(t, []string{"models"}, env.configPath)
	if err != nil {
		t.Fatalf("models: %v", err)
	}
	requireContains(t, out, "No models recorded")
}

func TestStatusRendersSections(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"status"}, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	for _, want := range []string{"== Configuration ==", "== Dependencies ==", "== Checks ==", "== Server ==", "Model cache", "not running"} {
		requireContains(t, out, want)
	}
	if strings.Contains(out, "\x1b[") {
		t.Fatal("status output to a buffer must not be colorized")
	}
}

func TestReadSegmentsFlag(t *testing.T) {
	inline := `[{"text":"a","start":0,"end":1}]`
	if got, err := readSegmentsFlag(inline); err != nil || got != inline {
		t.Fatalf("inline segments changed: %q %v", got, err)
	}
	path := filepath.Join(t.TempDir(), "s.json")
	if err := os.WriteFile(path, []byte(inline), 0o644); err != nil {
		t.Fatal(err)
	}
	if got, err := readSegmentsFlag("@" + path); err != nil || got != inline {
		t.Fatalf("file segments: %q %v", got, err)
	}
}
