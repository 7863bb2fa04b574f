package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, yamlBody string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "roomcore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlBody), 0644))
	return path
}

func TestConfigValidateSucceedsOnWellFormedFile(t *testing.T) {
	path := writeTempConfig(t, "room_id: room-a\ntick_ms: 250\nbroker:\n  address: tcp://localhost:1883\nlogging:\n  level: INFO\n  format: text\n  output: stdout\n")
	cfgFile = path
	defer func() { cfgFile = "" }()

	var out bytes.Buffer
	configValidateCmd.SetOut(&out)
	require.NoError(t, configValidateCmd.RunE(configValidateCmd, nil))
}

func TestConfigValidateFailsOnMissingRoomID(t *testing.T) {
	path := writeTempConfig(t, "tick_ms: 250\nbroker:\n  address: tcp://localhost:1883\nlogging:\n  level: INFO\n  format: text\n  output: stdout\n")
	cfgFile = path
	defer func() { cfgFile = "" }()

	err := configValidateCmd.RunE(configValidateCmd, nil)
	require.Error(t, err)
}

func TestConfigShowPrintsYAML(t *testing.T) {
	path := writeTempConfig(t, "room_id: room-a\ntick_ms: 250\nbroker:\n  address: tcp://localhost:1883\nlogging:\n  level: INFO\n  format: text\n  output: stdout\n")
	cfgFile = path
	defer func() { cfgFile = "" }()

	require.NoError(t, configShowCmd.RunE(configShowCmd, nil))
}
