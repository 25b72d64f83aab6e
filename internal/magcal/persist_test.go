package magcal

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/magnet_tracker/internal/vec"
)

func TestSnapshotRoundTrip(t *testing.T) {
	cal := NewIronCalibrator(Config{})
	offset := vec.Vector3{X: 20, Y: -15, Z: 5}
	pts := spherePoints(300, offset, 50)
	require.True(t, cal.RunHardIron(pts).OK)
	require.True(t, cal.RunSoftIron(pts).OK)

	earth := NewEarthFieldEstimator(EarthConfig{}, cal)
	field := vec.Vector3{X: 30, Z: -40}
	for i := 0; i < 120; i++ {
		earth.Update(field.Add(offset), vec.IdentityQuaternion())
	}
	batch := make([]vec.Vector3, 40)
	for i := range batch {
		batch[i] = vec.Vector3{X: 2}
	}
	require.True(t, earth.CaptureBaseline(batch).OK)

	snap := TakeSnapshot(cal, earth)
	path := filepath.Join(t.TempDir(), "calibration.json")
	require.NoError(t, SaveFile(path, snap))

	loaded, err := LoadFile(path)
	require.NoError(t, err)
	if diff := cmp.Diff(snap, loaded); diff != "" {
		t.Errorf("snapshot changed across save/load (-want +got):\n%s", diff)
	}
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestRestoreKeepsWizardPriority(t *testing.T) {
	cal := NewIronCalibrator(Config{})
	offset := vec.Vector3{X: 20, Y: -15, Z: 5}
	require.True(t, cal.RunHardIron(spherePoints(300, offset, 50)).OK)

	earth := NewEarthFieldEstimator(EarthConfig{}, cal)
	for i := 0; i < 120; i++ {
		earth.Update(vec.Vector3{X: 30, Z: -40}, vec.IdentityQuaternion())
	}

	snap := TakeSnapshot(cal, earth)

	cal2 := NewIronCalibrator(Config{})
	earth2 := NewEarthFieldEstimator(EarthConfig{}, cal2)
	Restore(snap, cal2, earth2)

	assert.True(t, cal2.CalibratedByWizard())
	assert.True(t, earth2.Ready())
	assert.InDelta(t, earth.FieldMagnitudeUT(), earth2.FieldMagnitudeUT(), 1e-9)

	want := cal.ApplyCorrection(vec.Vector3{X: 35, Y: 10, Z: -8})
	got := cal2.ApplyCorrection(vec.Vector3{X: 35, Y: 10, Z: -8})
	assert.InDelta(t, want.X, got.X, 1e-9)
	assert.InDelta(t, want.Y, got.Y, 1e-9)
	assert.InDelta(t, want.Z, got.Z, 1e-9)
}
