package app

import (
	"bufio"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/magnet_tracker/internal/imu"
	"github.com/relabs-tech/magnet_tracker/internal/vec"
)

func newTestBridge(input string) *bridgeSource {
	return &bridgeSource{
		reader:  bufio.NewReader(strings.NewReader(input)),
		session: "bench",
	}
}

func TestBridgeParsesSampleFrame(t *testing.T) {
	b := newTestBridge(`{"session":"field","t":1700000000000,"ax":100,"ay":-50,"az":16384,"gx":1,"gy":2,"gz":3,"mx":200,"my":300,"mz":-400,"mag_valid":true}` + "\n")

	s, err := b.NextRaw()
	require.NoError(t, err)

	assert.Equal(t, "field", s.Session)
	assert.Equal(t, int64(1700000000000), s.T)
	assert.Equal(t, int16(16384), s.Az)
	assert.Equal(t, int16(-400), s.Mz)
	assert.True(t, s.MagValid)
}

func TestBridgeSkipsGarbledLines(t *testing.T) {
	b := newTestBridge("\r\n" +
		"boot: bridge v2.1\n" +
		`{"ax":1,` + "\n" + // truncated frame
		`{"ax":7,"ay":8,"az":9,"gx":0,"gy":0,"gz":0,"mx":0,"my":0,"mz":0,"mag_valid":false}` + "\n")

	s, err := b.NextRaw()
	require.NoError(t, err)
	assert.Equal(t, int16(7), s.Ax)
	assert.False(t, s.MagValid)
}

func TestBridgeStampsSessionAndTime(t *testing.T) {
	b := newTestBridge(`{"ax":1,"ay":2,"az":3,"gx":0,"gy":0,"gz":0,"mx":0,"my":0,"mz":0,"mag_valid":false}` + "\n")

	s, err := b.NextRaw()
	require.NoError(t, err)
	assert.Equal(t, "bench", s.Session)
	assert.NotZero(t, s.T)
}

func TestBridgeEOFIsError(t *testing.T) {
	b := newTestBridge("")
	_, err := b.NextRaw()
	assert.Error(t, err)
}

func TestMagBodyFrameMapping(t *testing.T) {
	raw := imu.RawSample{Mx: 100, My: 250, Mz: 300, MagValid: true}

	got := magBodyUT(raw)
	assert.Equal(t, vec.Vector3{X: 25, Y: 10, Z: -30}, got)
}
