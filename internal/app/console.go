package app

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/magnet_tracker/internal/config"
	"github.com/relabs-tech/magnet_tracker/internal/telemetry"
)

// RunConsole subscribes to the telemetry and magnet topics and prints a
// periodic dashboard line plus every magnet transition as it happens.
func RunConsole() error {
	cfg := config.Get()

	var (
		mu         sync.RWMutex
		last       telemetry.Decorated
		haveSample bool
	)

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDConsole)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("console: MQTT connect: %w", token.Error())
	}
	defer client.Disconnect(250)
	log.Printf("console: connected to MQTT broker at %s", cfg.MQTTBroker)

	token := client.Subscribe(cfg.TopicTelemetry, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var dec telemetry.Decorated
		if err := json.Unmarshal(msg.Payload(), &dec); err != nil {
			log.Printf("console: telemetry unmarshal error: %v", err)
			return
		}
		mu.Lock()
		last = dec
		haveSample = true
		mu.Unlock()
	})
	if token.Wait(); token.Error() != nil {
		return fmt.Errorf("console: subscribe %s: %w", cfg.TopicTelemetry, token.Error())
	}

	token = client.Subscribe(cfg.TopicMagnet, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var event MagnetEvent
		if err := json.Unmarshal(msg.Payload(), &event); err != nil {
			log.Printf("console: magnet event unmarshal error: %v", err)
			return
		}
		fmt.Printf("\n*** MAGNET %s -> %s | deviation %.1fµT | confidence %.2f ***\n",
			event.From, event.To, event.DeviationUT, event.Confidence)
	})
	if token.Wait(); token.Error() != nil {
		return fmt.Errorf("console: subscribe %s: %w", cfg.TopicMagnet, token.Error())
	}
	log.Printf("console: subscribed to %s and %s", cfg.TopicTelemetry, cfg.TopicMagnet)

	ticker := time.NewTicker(time.Duration(cfg.ConsoleLogInterval) * time.Millisecond)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	for {
		select {
		case <-ticker.C:
			mu.RLock()
			dec, ok := last, haveSample
			mu.RUnlock()
			if !ok {
				fmt.Println("waiting for telemetry...")
				continue
			}

			motion := "still"
			if dec.Motion.IsMoving {
				motion = "moving"
			}
			fmt.Printf("R=%6.1f P=%6.1f Y=%6.1f | %-6s | cal=%4.2f trust=%4.2f | earth=%5.1fµT conf=%4.2f | residual=%5.1fµT | magnet=%-9s conf=%4.2f\n",
				dec.Euler.Roll, dec.Euler.Pitch, dec.Euler.Yaw,
				motion,
				dec.CalibrationReadiness, dec.MagTrust,
				dec.EarthFieldUT, dec.EarthFieldConfidence,
				dec.ResidualMagnitudeUT,
				dec.MagnetStatus, dec.MagnetConfidence,
			)

		case sig := <-sigCh:
			log.Printf("console: received %v, exiting", sig)
			return nil
		}
	}
}
