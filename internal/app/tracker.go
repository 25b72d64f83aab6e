package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/magnet_tracker/internal/config"
	"github.com/relabs-tech/magnet_tracker/internal/detector"
	"github.com/relabs-tech/magnet_tracker/internal/geomag"
	"github.com/relabs-tech/magnet_tracker/internal/imu"
	"github.com/relabs-tech/magnet_tracker/internal/magcal"
	"github.com/relabs-tech/magnet_tracker/internal/telemetry"
)

// MagnetEvent is published on the magnet topic whenever the detector
// commits a status transition.
type MagnetEvent struct {
	Session     string  `json:"session,omitempty"`
	T           int64   `json:"t"`
	From        string  `json:"from"`
	To          string  `json:"to"`
	DeviationUT float64 `json:"deviation_ut"`
	Confidence  float64 `json:"confidence"`
}

// RunTracker subscribes to the raw topic, runs every sample through the
// processing pipeline and publishes decorated telemetry plus magnet status
// transitions. Calibration is restored from disk on start and saved on
// shutdown.
func RunTracker() error {
	cfg := config.Get()

	proc := telemetry.NewProcessor(telemetry.Config{
		SampleIntervalSec: float64(cfg.SampleInterval) / 1000.0,
		MagTrust:          cfg.MagTrust,
		Detector: detector.Config{
			PossibleUT:  cfg.DetectorPossibleUT,
			LikelyUT:    cfg.DetectorLikelyUT,
			ConfirmedUT: cfg.DetectorConfirmedUT,
		},
	})

	if cfg.CalibrationFile != "" {
		snapshot, err := magcal.LoadFile(cfg.CalibrationFile)
		switch {
		case err == nil:
			magcal.Restore(snapshot, proc.Calibrator(), proc.EarthField())
			log.Printf("tracker: restored calibration from %s (saved %s, wizard=%v)",
				cfg.CalibrationFile, snapshot.SavedAt.Format(time.RFC3339), snapshot.CalibratedByWizard)
		case errors.Is(err, os.ErrNotExist):
			log.Printf("tracker: no calibration file at %s, starting uncalibrated", cfg.CalibrationFile)
		default:
			log.Printf("tracker: calibration load error (starting uncalibrated): %v", err)
		}
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDTracker)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("tracker: MQTT connect: %w", token.Error())
	}
	defer client.Disconnect(250)
	log.Printf("tracker: connected to MQTT broker at %s", cfg.MQTTBroker)

	// The processor is single-threaded: MQTT callbacks only feed channels,
	// all processing happens on this goroutine.
	rawCh := make(chan imu.RawSample, 64)
	refCh := make(chan geomag.Reference, 1)

	token := client.Subscribe(cfg.TopicRaw, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var s imu.RawSample
		if err := json.Unmarshal(msg.Payload(), &s); err != nil {
			log.Printf("tracker: raw payload unmarshal error: %v", err)
			return
		}
		select {
		case rawCh <- s:
		default:
			log.Println("tracker: sample queue full, dropping sample")
		}
	})
	if token.Wait(); token.Error() != nil {
		return fmt.Errorf("tracker: subscribe %s: %w", cfg.TopicRaw, token.Error())
	}
	log.Printf("tracker: subscribed to %s", cfg.TopicRaw)

	if cfg.HasGeomagOverride() {
		ref := geomag.Reference{
			HorizontalUT:   cfg.GeomagHorizontalUT,
			VerticalUT:     cfg.GeomagVerticalUT,
			DeclinationDeg: cfg.GeomagDeclinationDeg,
		}
		proc.SetGeomagneticReference(ref)
		log.Printf("tracker: geomagnetic reference from config: H=%.1fµT V=%.1fµT decl=%.1f°",
			ref.HorizontalUT, ref.VerticalUT, ref.DeclinationDeg)
	} else if cfg.TopicGeomag != "" {
		token := client.Subscribe(cfg.TopicGeomag, 0, func(_ mqtt.Client, msg mqtt.Message) {
			var ref geomag.Reference
			if err := json.Unmarshal(msg.Payload(), &ref); err != nil {
				log.Printf("tracker: geomag payload unmarshal error: %v", err)
				return
			}
			select {
			case refCh <- ref:
			default:
			}
		})
		if token.Wait(); token.Error() != nil {
			return fmt.Errorf("tracker: subscribe %s: %w", cfg.TopicGeomag, token.Error())
		}
		log.Printf("tracker: awaiting geomagnetic reference on %s", cfg.TopicGeomag)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	logEvery := time.Duration(cfg.ConsoleLogInterval) * time.Millisecond
	lastLog := time.Now()
	processed := 0
	haveRef := cfg.HasGeomagOverride()

	for {
		select {
		case ref := <-refCh:
			proc.SetGeomagneticReference(ref)
			if !haveRef {
				haveRef = true
				log.Printf("tracker: geomagnetic reference received: H=%.1fµT V=%.1fµT decl=%.1f°",
					ref.HorizontalUT, ref.VerticalUT, ref.DeclinationDeg)
			}

		case raw := <-rawCh:
			dec := proc.Process(raw)
			processed++

			payload, err := json.Marshal(dec)
			if err != nil {
				log.Printf("tracker: telemetry marshal error: %v", err)
			} else if token := client.Publish(cfg.TopicTelemetry, 0, false, payload); token.Wait() && token.Error() != nil {
				log.Printf("tracker: telemetry publish error: %v", token.Error())
			}

			if dec.MagnetChange != nil {
				event := MagnetEvent{
					Session:     raw.Session,
					T:           raw.T,
					From:        dec.MagnetChange.From.String(),
					To:          dec.MagnetChange.To.String(),
					DeviationUT: proc.Detector().DeviationUT(),
					Confidence:  dec.MagnetConfidence,
				}
				log.Printf("tracker: magnet status %s -> %s (deviation %.1fµT, confidence %.2f)",
					event.From, event.To, event.DeviationUT, event.Confidence)
				if payload, err := json.Marshal(event); err != nil {
					log.Printf("tracker: magnet event marshal error: %v", err)
				} else if token := client.Publish(cfg.TopicMagnet, 0, false, payload); token.Wait() && token.Error() != nil {
					log.Printf("tracker: magnet publish error: %v", token.Error())
				}
			}

			if now := time.Now(); now.Sub(lastLog) >= logEvery {
				log.Printf("tracker: %d samples | roll=%.1f pitch=%.1f yaw=%.1f | readiness=%.2f | earth=%.1fµT conf=%.2f | residual=%.1fµT | magnet=%s",
					processed,
					dec.Euler.Roll, dec.Euler.Pitch, dec.Euler.Yaw,
					dec.CalibrationReadiness,
					dec.EarthFieldUT, dec.EarthFieldConfidence,
					dec.ResidualMagnitudeUT,
					dec.MagnetStatus,
				)
				lastLog = now
			}

		case sig := <-sigCh:
			log.Printf("tracker: received %v, shutting down", sig)
			if cfg.CalibrationFile != "" {
				snapshot := magcal.TakeSnapshot(proc.Calibrator(), proc.EarthField())
				if err := magcal.SaveFile(cfg.CalibrationFile, snapshot); err != nil {
					log.Printf("tracker: calibration save error: %v", err)
				} else {
					log.Printf("tracker: calibration saved to %s", cfg.CalibrationFile)
				}
			}
			return nil
		}
	}
}
