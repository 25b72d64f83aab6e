// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// ./cmd/calibration/main.go
//
// Guided magnetometer calibration for the wearable.
// Calibrates:
//  1. Hard iron: guided 3D rotation to find the per-axis field midpoint
//  2. Soft iron: longer guided rotation to equalize per-axis spreads
//  3. Extended baseline (optional): constant offset from ferromagnetic
//     equipment the wearable is mounted on
//
// Output:
//
//	Writes the calibration snapshot JSON to the configured calibration
//	file, the same file the tracker restores on startup.
//
// Run:
//
//	go run ./cmd/calibration
//
// Notes / assumptions:
//   - Reads raw samples from the configured source (I2C sensor, serial
//     bridge, or mock) and converts them to body-frame µT before fitting.
//   - The soft-iron model is a diagonal approximation. It is robust and
//     easy to collect; the runtime optimizer refines the full matrix once
//     orientation data is available.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/relabs-tech/magnet_tracker/internal/app"
	"github.com/relabs-tech/magnet_tracker/internal/config"
	"github.com/relabs-tech/magnet_tracker/internal/imu"
	"github.com/relabs-tech/magnet_tracker/internal/magcal"
	"github.com/relabs-tech/magnet_tracker/internal/vec"
)

const (
	hardIronSamples = 300 // guided rotation, roughly 30s at 100 Hz/10
	softIronSamples = 400
	baselineSamples = 60 // per still capture

	maxRetries = 3
)

func main() {
	in := bufio.NewReader(os.Stdin)

	configPath := flag.String("config", "./tracker_config.txt", "path to configuration file")
	flag.Parse()

	fmt.Println("=== Guided Magnetometer Calibration (hard iron + soft iron) ===")
	fmt.Println("This workflow will prompt you in the console and store the snapshot for the tracker.")
	fmt.Println()

	if err := config.InitGlobal(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to load config from %s: %v\n", *configPath, err)
		os.Exit(1)
	}
	cfg := config.Get()

	src, err := app.NewRawSource(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: sample source init failed: %v\n", err)
		os.Exit(1)
	}

	cal := magcal.NewIronCalibrator(magcal.Config{})

	// ---------------- Hard iron ----------------
	fmt.Println("Step 1/3 — Hard iron offset")
	fmt.Println("Rotate the wearable slowly through all orientations (3D, figure-eight works well).")
	fmt.Println("Move away from large metal objects and power cables if possible.")

	var hard magcal.HardIronResult
	for attempt := 1; ; attempt++ {
		waitEnter(in, "Press ENTER to start hard-iron capture...")

		samples, err := captureMag(src, cfg, hardIronSamples)
		if err != nil {
			fatal(err)
		}

		hard = cal.RunHardIron(samples)
		if hard.OK {
			break
		}
		fmt.Printf("Hard iron failed (%s): %s\n", hard.Reason, hard.Remediation)
		if attempt >= maxRetries {
			fatal(fmt.Errorf("hard iron did not converge after %d attempts", maxRetries))
		}
	}

	fmt.Printf("Hard iron offset (µT): X=%.1f Y=%.1f Z=%.1f\n",
		hard.OffsetUT.X, hard.OffsetUT.Y, hard.OffsetUT.Z)
	fmt.Printf("Sphericity=%.2f coverage=%.2f quality=%s\n",
		hard.Sphericity, hard.Coverage, hard.Quality)

	// ---------------- Soft iron ----------------
	fmt.Println("\nStep 2/3 — Soft iron matrix")
	fmt.Println("Same motion as before, but longer: keep rotating through all three axes.")

	var soft magcal.SoftIronResult
	for attempt := 1; ; attempt++ {
		waitEnter(in, "Press ENTER to start soft-iron capture...")

		samples, err := captureMag(src, cfg, softIronSamples)
		if err != nil {
			fatal(err)
		}

		soft = cal.RunSoftIron(samples)
		if soft.OK {
			break
		}
		fmt.Printf("Soft iron failed (%s): %s\n", soft.Reason, soft.Remediation)
		if attempt >= maxRetries {
			fatal(fmt.Errorf("soft iron did not converge after %d attempts", maxRetries))
		}
	}

	fmt.Printf("Soft iron scales: X=%.3f Y=%.3f Z=%.3f | quality=%.2f\n",
		soft.Matrix[0], soft.Matrix[4], soft.Matrix[8], soft.Quality)

	// ---------------- Extended baseline (optional) ----------------
	earth := magcal.NewEarthFieldEstimator(magcal.EarthConfig{}, cal)

	fmt.Println("\nStep 3/3 — Extended baseline (optional)")
	fmt.Println("Only needed when the wearable is mounted on ferromagnetic equipment")
	fmt.Println("(a tool frame, a harness buckle) that adds a constant field offset.")

	if askYesNo(in, "Capture an extended baseline? [y/N]: ") {
		captureExtendedBaseline(in, src, cfg, cal, earth)
	}

	// ---------------- Store ----------------
	path := cfg.CalibrationFile
	if path == "" {
		path = "magnet_calibration.json"
	}
	snapshot := magcal.TakeSnapshot(cal, earth)
	if err := magcal.SaveFile(path, snapshot); err != nil {
		fatal(err)
	}

	fmt.Println("\nCalibration complete.")
	fmt.Printf("Saved to %s\n", path)
}

// captureExtendedBaseline measures the equipment's field contribution by
// comparing two still captures in the same orientation: one away from the
// equipment as the reference, one mounted on it.
func captureExtendedBaseline(in *bufio.Reader, src imu.RawSource, cfg *config.Config, cal *magcal.IronCalibrator, earth *magcal.EarthFieldEstimator) {
	fmt.Println("Hold the wearable still in a clean area, away from the equipment.")
	waitEnter(in, "Press ENTER to capture the reference...")

	refSamples, err := captureMag(src, cfg, baselineSamples)
	if err != nil {
		fmt.Printf("Warning: reference capture failed: %v\n", err)
		return
	}
	ref := meanCorrected(cal, refSamples)

	fmt.Println("Now mount the wearable on the equipment, keeping the SAME orientation.")
	waitEnter(in, "Press ENTER to capture the mounted baseline...")

	mountedSamples, err := captureMag(src, cfg, baselineSamples)
	if err != nil {
		fmt.Printf("Warning: mounted capture failed: %v\n", err)
		return
	}

	residuals := make([]vec.Vector3, 0, len(mountedSamples))
	for _, s := range mountedSamples {
		residuals = append(residuals, cal.ApplyCorrection(s).Sub(ref))
	}

	result := earth.CaptureBaseline(residuals)
	if !result.OK {
		fmt.Printf("Baseline rejected (%s): %s\n", result.Reason, result.Remediation)
		return
	}
	if !result.Established {
		fmt.Println("Baseline below the noise floor, nothing to subtract.")
		return
	}
	fmt.Printf("Extended baseline (µT): X=%.1f Y=%.1f Z=%.1f\n",
		result.Offset.X, result.Offset.Y, result.Offset.Z)
}

// captureMag collects body-frame magnetometer samples in µT at the
// configured sample interval, with a coarse progress indicator.
func captureMag(src imu.RawSource, cfg *config.Config, count int) ([]vec.Vector3, error) {
	interval := time.Duration(cfg.SampleInterval) * time.Millisecond
	if interval == 0 {
		interval = 20 * time.Millisecond
	}

	samples := make([]vec.Vector3, 0, count)
	lastDot := 0
	for i := 0; i < count; i++ {
		reading, err := src.NextRaw()
		if err != nil {
			return nil, fmt.Errorf("sample read: %w", err)
		}
		if reading.MagValid {
			// Same body-frame axis mapping the tracker applies.
			samples = append(samples, vec.Vector3{
				X: float64(reading.My) / 10,
				Y: float64(reading.Mx) / 10,
				Z: -float64(reading.Mz) / 10,
			})
		}

		if dots := 40 * i / count; dots > lastDot {
			fmt.Print(strings.Repeat(".", dots-lastDot))
			lastDot = dots
		}
		time.Sleep(interval)
	}
	fmt.Println(" done")
	return samples, nil
}

func meanCorrected(cal *magcal.IronCalibrator, samples []vec.Vector3) vec.Vector3 {
	var sum vec.Vector3
	n := 0
	for _, s := range samples {
		sum = sum.Add(cal.ApplyCorrection(s))
		n++
	}
	if n == 0 {
		return vec.Vector3{}
	}
	return sum.Scale(1 / float64(n))
}

func waitEnter(in *bufio.Reader, prompt string) {
	fmt.Print(prompt)
	_, _ = in.ReadString('\n')
}

func askYesNo(in *bufio.Reader, prompt string) bool {
	fmt.Print(prompt)
	line, _ := in.ReadString('\n')
	line = strings.TrimSpace(strings.ToUpper(line))
	return line == "Y" || line == "YES"
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
	os.Exit(1)
}
