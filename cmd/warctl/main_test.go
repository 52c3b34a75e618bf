package main

import (
	"bytes"
	"path/filepath"
	"testing"
	"text/tabwriter"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigRoundTrip(t *testing.T) {
	t.Setenv("WARCTL_CONFIG", filepath.Join(t.TempDir(), "nested", "config.json"))

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, defaultAPIBase, cfg.APIBaseURL)
	assert.Empty(t, cfg.AccessToken)

	cfg.AccessToken = "tok"
	cfg.Username = "alice"
	require.NoError(t, saveConfig(cfg))

	loaded, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestSessionRequiresLogin(t *testing.T) {
	t.Setenv("WARCTL_CONFIG", filepath.Join(t.TempDir(), "config.json"))
	_, _, _, err := session()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "warctl login")
}

func TestParseID(t *testing.T) {
	id, err := parseID("42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	for _, raw := range []string{"", "0", "-3", "abc"} {
		_, err := parseID(raw)
		assert.Error(t, err, raw)
	}
}

func TestRenderFormats(t *testing.T) {
	defer func(prev string) { outputFlag = prev }(outputFlag)
	v := map[string]int{"pending": 2}
	table := func(tw *tabwriter.Writer) { tw.Write([]byte("pending\t2\n")) }

	var buf bytes.Buffer
	outputFlag = "json"
	require.NoError(t, render(&buf, v, table))
	assert.JSONEq(t, `{"pending":2}`, buf.String())

	buf.Reset()
	outputFlag = "yaml"
	require.NoError(t, render(&buf, v, table))
	assert.Equal(t, "pending: 2\n", buf.String())

	buf.Reset()
	outputFlag = "table"
	require.NoError(t, render(&buf, v, table))
	assert.Equal(t, "pending  2\n", buf.String())

	outputFlag = "xml"
	assert.Error(t, render(&buf, v, table))
}
