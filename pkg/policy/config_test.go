package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDocFromFileParsesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	content := `
allowed_domains:
  - api.example.com
  - "*.internal.example.com"
denied_cidrs:
  - 169.254.169.254/32
bandwidth_cap_kbps: 512
max_concurrent_conns: 4
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	doc, err := LoadDocFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"api.example.com", "*.internal.example.com"}, doc.AllowedDomains)
	assert.Equal(t, []string{"169.254.169.254/32"}, doc.DeniedCIDRs)
	assert.Equal(t, 512, doc.BandwidthCapKBps)
	assert.Equal(t, 4, doc.MaxConcurrentConns)
}

func TestLoadDocFromFileMissingFileErrors(t *testing.T) {
	_, err := LoadDocFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadDocFromFileInvalidYAMLErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("not: [valid: yaml"), 0o644))

	_, err := LoadDocFromFile(path)
	assert.Error(t, err)
}
