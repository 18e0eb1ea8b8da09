package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nspcc-dev/neo-go/pkg/encoding/address"
	"github.com/nspcc-dev/neo-go/pkg/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/diamond_layer/internal/diamond"
	"github.com/R3E-Network/diamond_layer/internal/selector"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, StorageMemory, cfg.Storage)
	assert.Equal(t, 5*time.Second, cfg.ScriptTimeout)
	assert.False(t, cfg.TrustSenderHeader)
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("DIAMOND_LISTEN_ADDR", ":9000")
	t.Setenv("DIAMOND_STORAGE", "Redis")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("DIAMOND_SCRIPT_TIMEOUT", "250ms")
	t.Setenv("DIAMOND_TRUST_SENDER_HEADER", "true")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.ListenAddr)
	assert.Equal(t, StorageRedis, cfg.Storage)
	assert.Equal(t, 3, cfg.RedisDB)
	assert.Equal(t, 250*time.Millisecond, cfg.ScriptTimeout)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.True(t, cfg.TrustSenderHeader)
	assert.Equal(t, 10*time.Minute, cfg.LimiterIdle)
}

func TestLoad_EnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("DIAMOND_LOG_LEVEL=debug\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("DIAMOND_LOG_LEVEL") })

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)

	_, err = Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.NoError(t, err)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Storage = StoragePostgres }, wantErr: true},
		{name: "postgres with dsn", mutate: func(c *Config) { c.Storage = StoragePostgres; c.PostgresDSN = "postgres://x" }},
		{name: "unknown backend", mutate: func(c *Config) { c.Storage = "etcd" }, wantErr: true},
		{name: "zero rate", mutate: func(c *Config) { c.CallRate = 0 }, wantErr: true},
		{name: "zero burst", mutate: func(c *Config) { c.CallBurst = 0 }, wantErr: true},
		{name: "zero timeout", mutate: func(c *Config) { c.ScriptTimeout = 0 }, wantErr: true},
		{name: "zero limiter idle", mutate: func(c *Config) { c.LimiterIdle = 0 }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

var ownerAddress = address.Uint160ToString(diamond.HandleFor("owner"))

func manifestYAML() string {
	return `
diamond:
  name: example
  owner: ` + ownerAddress + `
facets:
  - name: counter
    script: facets/counter.js
    namespace: example.counter.storage
    functions: ["increment()", "getCount()"]
  - name: init
    script: facets/init.js
cut:
  - facet: counter
    action: add
  - action: remove
    functions: ["0x12345678"]
init:
  facet: init
  calldata: "0x2a"
interfaces: ["0x36372b07"]
`
}

func TestParseManifest(t *testing.T) {
	m, err := ParseManifest([]byte(manifestYAML()))
	require.NoError(t, err)

	addr, err := m.Address()
	require.NoError(t, err)
	assert.Equal(t, diamond.HandleFor("example"), addr)
	owner, err := m.Owner()
	require.NoError(t, err)
	assert.Equal(t, diamond.HandleFor("owner"), owner)

	require.NotNil(t, m.Init)
	assert.Equal(t, []byte{0x2a}, []byte(m.Init.Calldata))

	counter := diamond.HandleFor("counter")
	cuts, err := m.Cuts(map[string]util.Uint160{"counter": counter})
	require.NoError(t, err)
	require.Len(t, cuts, 2)
	assert.Equal(t, diamond.Add, cuts[0].Action)
	assert.Equal(t, counter, cuts[0].Facet)
	assert.Equal(t, []selector.Selector{
		selector.FromSignature("increment()"),
		selector.FromSignature("getCount()"),
	}, cuts[0].Selectors)
	assert.Equal(t, diamond.Remove, cuts[1].Action)
	assert.Equal(t, []selector.Selector{selector.MustParse("0x12345678")}, cuts[1].Selectors)

	_, err = m.Cuts(nil)
	assert.Error(t, err)
}

func TestParseManifest_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{name: "no name", yaml: "diamond: {owner: " + ownerAddress + "}"},
		{name: "no owner", yaml: "diamond: {name: x}"},
		{name: "bad owner", yaml: "diamond: {name: x, owner: nope}"},
		{name: "duplicate facet", yaml: "diamond: {name: x, owner: " + ownerAddress + "}\nfacets: [{name: a, script: a.js}, {name: a, script: b.js}]"},
		{name: "facet without script", yaml: "diamond: {name: x, owner: " + ownerAddress + "}\nfacets: [{name: a}]"},
		{name: "unknown cut facet", yaml: "diamond: {name: x, owner: " + ownerAddress + "}\ncut: [{facet: a, action: add}]"},
		{name: "bad action", yaml: "diamond: {name: x, owner: " + ownerAddress + "}\nfacets: [{name: a, script: a.js}]\ncut: [{facet: a, action: upgrade}]"},
		{name: "remove without functions", yaml: "diamond: {name: x, owner: " + ownerAddress + "}\ncut: [{action: remove}]"},
		{name: "bad selector", yaml: "diamond: {name: x, owner: " + ownerAddress + "}\nfacets: [{name: a, script: a.js, functions: ['0x12']}]"},
		{name: "unknown init", yaml: "diamond: {name: x, owner: " + ownerAddress + "}\ninit: {facet: a}"},
		{name: "bad interface", yaml: "diamond: {name: x, owner: " + ownerAddress + "}\ninterfaces: ['zz']"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseManifest([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadManifest_ResolvesScripts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "diamond.yaml")
	require.NoError(t, os.WriteFile(path, []byte(manifestYAML()), 0o600))

	m, err := LoadManifest(path)
	require.NoError(t, err)
	f, ok := m.Facet("counter")
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "facets", "counter.js"), f.Script)

	_, err = LoadManifest(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestParseHandle(t *testing.T) {
	h := diamond.HandleFor("x")

	got, err := ParseHandle("0x" + h.StringLE())
	require.NoError(t, err)
	assert.Equal(t, h, got)

	got, err = ParseHandle(address.Uint160ToString(h))
	require.NoError(t, err)
	assert.Equal(t, h, got)

	_, err = ParseHandle("0x1234")
	assert.Error(t, err)
}
