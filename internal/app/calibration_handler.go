// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relabs-tech/magnet_tracker/internal/config"
	"github.com/relabs-tech/magnet_tracker/internal/imu"
	"github.com/relabs-tech/magnet_tracker/internal/magcal"
	"github.com/relabs-tech/magnet_tracker/internal/vec"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// Wizard batch sizes. Hard iron needs full-sphere coverage; soft iron
// wants a longer cloud for stable per-axis spreads.
const (
	wizardHardIronSamples = 150
	wizardSoftIronSamples = 250
)

// CalibrationSession holds the state of an active guided calibration run.
type CalibrationSession struct {
	Conn *websocket.Conn
	mu   sync.Mutex

	src          imu.RawSource
	cal          *magcal.IronCalibrator
	currentPhase string

	hardResult magcal.HardIronResult
	softResult magcal.SoftIronResult
}

// WebSocket message types
type WSMessage struct {
	Action string `json:"action"` // init, next, cancel
}

type WSResponse struct {
	Type     string                 `json:"type"` // phase, step, progress, stats, action, complete, error
	Phase    string                 `json:"phase,omitempty"`
	Step     string                 `json:"step,omitempty"`
	Progress float64                `json:"progress,omitempty"`
	Stats    map[string]interface{} `json:"stats,omitempty"`
	Results  interface{}            `json:"results,omitempty"`
	Message  string                 `json:"message,omitempty"`
}

// magBodyUT converts raw magnetometer counts to the body frame in µT,
// the same axis mapping the tracker applies to every raw sample.
func magBodyUT(s imu.RawSample) vec.Vector3 {
	return vec.Vector3{
		X: float64(s.My) / 10,
		Y: float64(s.Mx) / 10,
		Z: -float64(s.Mz) / 10,
	}
}

// HandleCalibrationWS handles the WebSocket connection for the guided
// magnetometer calibration wizard.
func HandleCalibrationWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("calibration: websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	session := &CalibrationSession{
		Conn: conn,
		cal:  magcal.NewIronCalibrator(magcal.Config{}),
	}

	// Main message loop
	for {
		var msg WSMessage
		err := conn.ReadJSON(&msg)
		if err != nil {
			log.Printf("calibration: websocket read error: %v", err)
			break
		}

		switch msg.Action {
		case "init":
			src, err := NewRawSource(config.Get())
			if err != nil {
				session.sendError(err.Error())
				continue
			}
			session.src = src
			log.Println("calibration: sample source initialized")
			session.sendActionReady()

		case "next":
			session.mu.Lock()
			err := session.runNextStep()
			session.mu.Unlock()
			if err != nil {
				session.sendError(err.Error())
			}

		case "cancel":
			log.Printf("calibration: cancelled by user")
			return
		}
	}
}

func (s *CalibrationSession) runNextStep() error {
	if s.src == nil {
		return fmt.Errorf("calibration not initialized, send init first")
	}

	// State machine for calibration phases. A failed phase stays current
	// so the next action retries it with a fresh batch.
	switch s.currentPhase {
	case "":
		s.currentPhase = "hardiron"
		return s.runHardIronStep()

	case "hardiron":
		if !s.hardResult.OK {
			return s.runHardIronStep()
		}
		s.currentPhase = "softiron"
		return s.runSoftIronStep()

	case "softiron":
		if !s.softResult.OK {
			return s.runSoftIronStep()
		}
		return s.complete()
	}

	return nil
}

func (s *CalibrationSession) collectMagBatch(count int) ([]vec.Vector3, error) {
	cfg := config.Get()
	interval := time.Duration(cfg.SampleInterval) * time.Millisecond

	samples := make([]vec.Vector3, 0, count)
	for i := 0; i < count; i++ {
		reading, err := s.src.NextRaw()
		if err != nil {
			return nil, err
		}
		if reading.MagValid {
			samples = append(samples, magBodyUT(reading))
		}
		s.sendProgress(100 * float64(i) / float64(count))
		time.Sleep(interval)
	}
	return samples, nil
}

func (s *CalibrationSession) runHardIronStep() error {
	s.sendPhase("hardiron")
	s.sendStep("hardiron-rotate", "hardiron")
	s.sendProgress(0)

	time.Sleep(2 * time.Second) // Give user time to start rotating

	samples, err := s.collectMagBatch(wizardHardIronSamples)
	if err != nil {
		return err
	}

	s.hardResult = s.cal.RunHardIron(samples)
	s.sendStats()

	if !s.hardResult.OK {
		s.sendError(fmt.Sprintf("hard iron failed (%s): %s",
			s.hardResult.Reason, s.hardResult.Remediation))
		s.sendActionReady()
		return nil
	}

	log.Printf("calibration: hard iron offset X=%.1f Y=%.1f Z=%.1f µT, quality %s",
		s.hardResult.OffsetUT.X, s.hardResult.OffsetUT.Y, s.hardResult.OffsetUT.Z,
		s.hardResult.Quality)
	s.sendActionReady()
	return nil
}

func (s *CalibrationSession) runSoftIronStep() error {
	s.sendPhase("softiron")
	s.sendStep("softiron-rotate", "softiron")
	s.sendProgress(0)

	time.Sleep(2 * time.Second)

	samples, err := s.collectMagBatch(wizardSoftIronSamples)
	if err != nil {
		return err
	}

	s.softResult = s.cal.RunSoftIron(samples)
	s.sendStats()

	if !s.softResult.OK {
		s.sendError(fmt.Sprintf("soft iron failed (%s): %s",
			s.softResult.Reason, s.softResult.Remediation))
		s.sendActionReady()
		return nil
	}

	log.Printf("calibration: soft iron scales %.3f %.3f %.3f, quality %.2f",
		s.softResult.Matrix[0], s.softResult.Matrix[4], s.softResult.Matrix[8],
		s.softResult.Quality)

	// Soft iron is the last guided phase; proceed straight to saving.
	time.Sleep(1 * time.Second)
	return s.complete()
}

func (s *CalibrationSession) complete() error {
	cfg := config.Get()
	path := cfg.CalibrationFile
	if path == "" {
		path = "magnet_calibration.json"
	}

	// The earth-field estimate is rebuilt at runtime; a wizard snapshot
	// carries only the iron model.
	earth := magcal.NewEarthFieldEstimator(magcal.EarthConfig{}, s.cal)
	snapshot := magcal.TakeSnapshot(s.cal, earth)

	if err := magcal.SaveFile(path, snapshot); err != nil {
		return err
	}
	log.Printf("calibration: saved results to %s", path)

	s.Conn.WriteJSON(WSResponse{
		Type: "complete",
		Results: map[string]interface{}{
			"filename":  path,
			"hard_iron": s.hardResult,
			"soft_iron": s.softResult,
		},
	})
	return nil
}

func (s *CalibrationSession) sendPhase(phase string) {
	s.Conn.WriteJSON(WSResponse{
		Type:  "phase",
		Phase: phase,
	})
}

func (s *CalibrationSession) sendStep(step, phase string) {
	s.Conn.WriteJSON(WSResponse{
		Type:  "step",
		Step:  step,
		Phase: phase,
	})
}

func (s *CalibrationSession) sendProgress(progress float64) {
	s.Conn.WriteJSON(WSResponse{
		Type:     "progress",
		Progress: progress,
	})
}

func (s *CalibrationSession) sendStats() {
	stats := map[string]interface{}{
		"hard_iron_quality":    s.hardResult.Quality,
		"hard_iron_sphericity": s.hardResult.Sphericity,
		"hard_iron_coverage":   s.hardResult.Coverage,
		"soft_iron_quality":    s.softResult.Quality,
		"samples":              s.hardResult.Samples + s.softResult.Samples,
	}
	s.Conn.WriteJSON(WSResponse{
		Type:  "stats",
		Stats: stats,
	})
}

func (s *CalibrationSession) sendActionReady() {
	s.Conn.WriteJSON(WSResponse{
		Type:    "action",
		Message: "ready",
	})
}

func (s *CalibrationSession) sendError(message string) {
	s.Conn.WriteJSON(WSResponse{
		Type:    "error",
		Message: message,
	})
}
