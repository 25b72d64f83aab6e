package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tracker.conf")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

const validConfig = `# tracker configuration
MQTT_BROKER=tcp://localhost:1883
MQTT_CLIENT_ID_TRACKER=tracker

TOPIC_RAW=tracker/raw
TOPIC_TELEMETRY=tracker/telemetry
TOPIC_MAGNET=tracker/magnet

SESSION_NAME=bench
SAMPLE_INTERVAL=20
CONSOLE_LOG_INTERVAL=500

MAG_TRUST=0.8
DETECTOR_POSSIBLE_UT=10
DETECTOR_LIKELY_UT=20
DETECTOR_CONFIRMED_UT=35
`

func TestLoadValid(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)

	assert.Equal(t, "tcp://localhost:1883", cfg.MQTTBroker)
	assert.Equal(t, "tracker/raw", cfg.TopicRaw)
	assert.Equal(t, "bench", cfg.SessionName)
	assert.Equal(t, 20, cfg.SampleInterval)
	assert.InDelta(t, 0.8, cfg.MagTrust, 1e-12)
	assert.InDelta(t, 35, cfg.DetectorConfirmedUT, 1e-12)
	assert.False(t, cfg.HasGeomagOverride())
}

func TestLoadGeomagOverride(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig+`
GEOMAG_HORIZONTAL_UT=19.5
GEOMAG_VERTICAL_UT=44.2
GEOMAG_DECLINATION_DEG=3.4
`))
	require.NoError(t, err)

	assert.True(t, cfg.HasGeomagOverride())
	assert.InDelta(t, 19.5, cfg.GeomagHorizontalUT, 1e-12)
}

func TestLoadMissingRequired(t *testing.T) {
	_, err := Load(writeConfig(t, "MQTT_BROKER=tcp://localhost:1883\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TOPIC_RAW")
}

func TestLoadUnknownKey(t *testing.T) {
	_, err := Load(writeConfig(t, validConfig+"NO_SUCH_KEY=1\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NO_SUCH_KEY")
}

func TestLoadBadValue(t *testing.T) {
	_, err := Load(writeConfig(t, validConfig+"MAG_TRUST=2.5\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MAG_TRUST")
}

func TestLoadBadLine(t *testing.T) {
	_, err := Load(writeConfig(t, "not a key value pair\n"))
	assert.Error(t, err)
}
