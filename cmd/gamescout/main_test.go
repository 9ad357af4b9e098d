package main

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, extra string) (string, string) {
	t.Helper()
	root := t.TempDir()
	kb := filepath.Join(root, "kb")
	require.NoError(t, os.MkdirAll(kb, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(kb, "grymforge.md"),
		[]byte("# Grymforge\n\nDuergar guard the Adamantine Forge deep in the Underdark."), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(kb, "grove.md"),
		[]byte("# Emerald Grove\n\nDruids and tieflings argue over the ritual in the grove."), 0644))

	yaml := fmt.Sprintf(`embedding:
  provider: hash
  dimension: 64
store:
  driver: sqlite
  path: %s
index:
  snapshot_dir: %s
corpus:
  dir: %s
log:
  level: error
%s`, filepath.Join(root, "data"), filepath.Join(root, "snapshots"), kb, extra)

	path := filepath.Join(root, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))
	return path, kb
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(new(bytes.Buffer))
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)

	err := rootCmd.Execute()
	return buf.String(), err
}

func TestRootCmd_Commands(t *testing.T) {
	var names []string
	for _, c := range rootCmd.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"scrape", "rebuild", "optimize", "smoke", "ask", "serve"} {
		assert.Contains(t, names, want)
	}

	flag := rootCmd.PersistentFlags().Lookup("config")
	require.NotNil(t, flag)
	assert.Equal(t, "c", flag.Shorthand)
}

func TestRebuildOptimizeSmoke(t *testing.T) {
	path, _ := writeConfig(t, "")

	out, err := execute(t, "--config", path, "rebuild")
	require.NoError(t, err)
	assert.Contains(t, out, "Built generation 1: 2 documents")
	assert.Contains(t, out, "hash/64")

	out, err = execute(t, "--config", path, "optimize")
	require.NoError(t, err)
	assert.Contains(t, out, "Optimized generation 2")

	out, err = execute(t, "--config", path, "smoke", "adamantine forge")
	require.NoError(t, err)
	assert.Contains(t, out, "adamantine forge")
	assert.Contains(t, out, "[1] Grymforge")
	assert.Contains(t, out, "1/1 queries returned passages")
}

func TestInvalidConfig(t *testing.T) {
	path, _ := writeConfig(t, "llm:\n  provider: carrier-pigeon\n")

	_, err := execute(t, "--config", path, "rebuild")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "llm.provider")
}

func TestAsk_RequiresQueryOrState(t *testing.T) {
	path, _ := writeConfig(t, "")

	_, err := execute(t, "--config", path, "ask")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "give a question")
}

func TestScrape_WritesCorpus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/wiki/Halsin" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprintf(w, `<html><head><title>Halsin | bg3.wiki</title></head><body>
<div id="wiki-content"><p>%s</p></div></body></html>`,
			strings.Repeat("Halsin is an archdruid held in the goblin camp. ", 5))
	}))
	defer ts.Close()

	path, _ := writeConfig(t, "")
	out := t.TempDir()

	stdout, err := execute(t, "--config", path, "scrape", ts.URL+"/wiki/Halsin", "--out", out, "--depth", "1")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Scraped 1 documents")

	files, err := filepath.Glob(filepath.Join(out, "*.json"))
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.True(t, strings.HasSuffix(files[0], "_wiki_Halsin.json"))
}
