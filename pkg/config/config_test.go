package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testHash = "44ebba8d5312b8d611474411f56989ae"

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chapcrack.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, `
input: capture.pcap
output: decrypted.pcap
report_file: handshakes.json
workers: 8
nt_hash: `+testHash+`
logging:
  level: debug
metrics:
  enabled: true
  textfile: /var/lib/node_exporter/chapcrack.prom
mppe:
  resync_on_flush: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "capture.pcap", cfg.Input)
	assert.Equal(t, "decrypted.pcap", cfg.Output)
	assert.Equal(t, "handshakes.json", cfg.ReportFile)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "/var/lib/node_exporter/chapcrack.prom", cfg.Metrics.Textfile)
	assert.True(t, cfg.MPPE.ResyncOnFlush)

	assert.Empty(t, cfg.NTHashStr, "plaintext hash must be cleared")
	require.True(t, cfg.NTHash.IsSet())
	hash, err := cfg.NTHash.Copy()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x44, 0xeb, 0xba, 0x8d, 0x53, 0x12, 0xb8, 0xd6, 0x11, 0x47, 0x44, 0x11, 0xf5, 0x69, 0x89, 0xae}, hash)
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, "input: from-file.pcap\nworkers: 2\n")
	t.Setenv("CHAPCRACK_INPUT", "from-env.pcap")
	t.Setenv("CHAPCRACK_LOGGING_LEVEL", "warn")
	t.Setenv("CHAPCRACK_NT_HASH", testHash)
	t.Setenv("CHAPCRACK_MPPE_RESYNC_ON_FLUSH", "true")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env.pcap", cfg.Input)
	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.True(t, cfg.MPPE.ResyncOnFlush)
	assert.True(t, cfg.NTHash.IsSet())
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Nil(t, cfg.NTHash)
	assert.False(t, cfg.MPPE.ResyncOnFlush)
	assert.Equal(t, 0, cfg.Workers)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		isHash  bool
	}{
		{"bad yaml", "input: [unclosed", false},
		{"short hash", "nt_hash: 44ebba8d", true},
		{"non hex hash", "nt_hash: zzebba8d5312b8d611474411f56989ae", true},
		{"negative workers", "workers: -1", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			if tt.isHash {
				assert.ErrorIs(t, err, ErrInvalidNTHash)
			}
		})
	}
}

func TestSetNTHashReplaces(t *testing.T) {
	var cfg Config
	require.NoError(t, cfg.SetNTHash(testHash))
	first := cfg.NTHash

	require.NoError(t, cfg.SetNTHash("00000000000000000000000000000000"))
	assert.NotSame(t, first, cfg.NTHash)
	hash, err := cfg.NTHash.Copy()
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 16), hash)

	require.NoError(t, cfg.SetNTHash(""))
	assert.True(t, cfg.NTHash.IsSet())
}
