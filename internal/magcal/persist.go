package magcal

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/relabs-tech/magnet_tracker/internal/vec"
)

// Snapshot is the persisted calibration state: iron model, Earth-field
// estimate and the optional extended baseline. All field values are µT.
type Snapshot struct {
	HardIronOffsetUT     vec.Vector3       `json:"hard_iron_offset_ut"`
	SoftIronMatrix       vec.Matrix3       `json:"soft_iron_matrix"`
	CalibratedByWizard   bool              `json:"calibrated_by_wizard"`
	ExtendedBaseline     *ExtendedBaseline `json:"extended_baseline,omitempty"`
	EarthFieldWorldUT    vec.Vector3       `json:"earth_field_world_ut"`
	EarthFieldMagnitudeUT float64          `json:"earth_field_magnitude_ut"`
	SavedAt              time.Time         `json:"saved_at"`
}

// TakeSnapshot captures the current calibration for persistence. The iron
// part is the effective correction; an uncalibrated session saves a zero
// offset with the identity matrix.
func TakeSnapshot(cal *IronCalibrator, earth *EarthFieldEstimator) Snapshot {
	offset, m, hasMatrix, _ := cal.effective()
	if !hasMatrix {
		m = vec.Identity()
	}
	s := Snapshot{
		HardIronOffsetUT:      offset,
		SoftIronMatrix:        m,
		CalibratedByWizard:    cal.CalibratedByWizard(),
		EarthFieldWorldUT:     earth.FieldWorld(),
		EarthFieldMagnitudeUT: earth.FieldMagnitudeUT(),
		SavedAt:               time.Now().UTC(),
	}
	if b := earth.Baseline(); b.Active {
		bl := b
		s.ExtendedBaseline = &bl
	}
	return s
}

// Restore installs a snapshot into a fresh calibrator and estimator. The
// iron model is restored as a wizard-grade calibration so it keeps
// priority over the automatic tracker of the new session.
func Restore(s Snapshot, cal *IronCalibrator, earth *EarthFieldEstimator) {
	cal.wizardOffset = s.HardIronOffsetUT
	cal.wizardMatrix = s.SoftIronMatrix
	cal.wizardHasMatrix = !s.SoftIronMatrix.IsIdentity()
	cal.calibratedWizard = s.CalibratedByWizard ||
		s.HardIronOffsetUT != (vec.Vector3{}) || cal.wizardHasMatrix

	earth.restore(s.EarthFieldWorldUT, s.EarthFieldMagnitudeUT)
	if s.ExtendedBaseline != nil {
		earth.SetBaseline(*s.ExtendedBaseline)
	}
}

// SaveFile writes the snapshot as indented JSON.
func SaveFile(path string, s Snapshot) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("calibration: marshal snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("calibration: write %s: %w", path, err)
	}
	return nil
}

// LoadFile reads a snapshot written by SaveFile.
func LoadFile(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("calibration: read %s: %w", path, err)
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return Snapshot{}, fmt.Errorf("calibration: parse %s: %w", path, err)
	}
	return s, nil
}
