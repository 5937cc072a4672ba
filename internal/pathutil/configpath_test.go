package pathutil

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindConfigPath(t *testing.T) {
	dir, err := ioutil.TempDir("", "pathutil")
	require.NoError(t, err)
	defer func() { require.NoError(t, os.RemoveAll(dir)) }()

	existing := filepath.Join(dir, "local.json")
	require.NoError(t, ioutil.WriteFile(existing, []byte("{}"), 0600))
	defaults := ConfigPaths{
		WorkingDirLoc: filepath.Join(dir, "missing.json"),
		LocalLoc:      existing,
	}

	const env = "RUDP_PATHUTIL_TEST_CONFIG"
	require.NoError(t, os.Setenv(env, "/from/env.json"))
	defer func() { require.NoError(t, os.Unsetenv(env)) }()

	cases := []struct {
		name      string
		args      []string
		argsIndex int
		env       string
		want      string
	}{
		{"argument", []string{"/from/arg.json"}, 0, env, "/from/arg.json"},
		{"arguments ignored", []string{"/from/arg.json"}, -1, env, "/from/env.json"},
		{"env", nil, 0, env, "/from/env.json"},
		{"defaults", nil, 0, "", existing},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := FindConfigPath(tc.args, tc.argsIndex, tc.env, defaults)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err = FindConfigPath(nil, 0, "", ConfigPaths{HomeLoc: filepath.Join(dir, "nope.json")})
	assert.Contains(t, err.Error(), ErrConfigNotFound.Error())
}

func TestWriteJSONConfig(t *testing.T) {
	dir, err := ioutil.TempDir("", "pathutil")
	require.NoError(t, err)
	defer func() { require.NoError(t, os.RemoveAll(dir)) }()

	out := filepath.Join(dir, "nested", "conf.json")
	conf := map[string]int{"a": 1}
	require.NoError(t, WriteJSONConfig(conf, out, false))
	assert.Error(t, WriteJSONConfig(conf, out, false))
	require.NoError(t, WriteJSONConfig(conf, out, true))

	raw, err := ioutil.ReadFile(out) // nolint: gosec
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(raw))
}

func TestConfigPaths_Get(t *testing.T) {
	paths := NodeDefaults()
	p, err := paths.Get(LocalLoc)
	require.NoError(t, err)
	assert.Equal(t, "/usr/local/rudp/rudp-config.json", p)

	_, err = paths.Get(ConfigLocationType("NOPE"))
	assert.Error(t, err)
}
