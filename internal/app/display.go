package app

import (
	"encoding/json"
	"fmt"
	"image"
	"log"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/magnet_tracker/internal/config"
	"github.com/relabs-tech/magnet_tracker/internal/telemetry"
)

// eventFlash is how long a fresh magnet transition stays highlighted on
// the panel before the regular status view returns.
const eventFlash = 3 * time.Second

// DisplayData holds the latest data for the status panel
type DisplayData struct {
	mu sync.RWMutex

	sample     telemetry.Decorated
	haveSample bool

	lastEvent MagnetEvent
	eventAt   time.Time
}

// RunDisplay drives the wearable's SSD1306 status panel: magnet presence,
// detection confidence and the live residual, fed from the telemetry and
// magnet topics.
func RunDisplay() error {
	cfg := config.Get()

	// Initialize periph
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("display: failed to initialize periph: %w", err)
	}

	// Open I2C bus
	bus, err := i2creg.Open("")
	if err != nil {
		return fmt.Errorf("display: failed to open I2C bus: %w", err)
	}
	defer bus.Close()

	dev, err := ssd1306.NewI2C(bus, &ssd1306.DefaultOpts)
	if err != nil {
		return fmt.Errorf("display: failed to initialize panel: %w", err)
	}
	log.Println("display: panel initialized")

	if err := showSplash(dev); err != nil {
		log.Printf("display: error showing splash: %v", err)
	}

	data := &DisplayData{}

	// Connect to MQTT
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDDisplay)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	defer client.Disconnect(250)
	log.Printf("display: connected to MQTT broker at %s", cfg.MQTTBroker)

	token := client.Subscribe(cfg.TopicTelemetry, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var dec telemetry.Decorated
		if err := json.Unmarshal(msg.Payload(), &dec); err != nil {
			log.Printf("display: telemetry unmarshal error: %v", err)
			return
		}
		data.mu.Lock()
		data.sample = dec
		data.haveSample = true
		data.mu.Unlock()
	})
	if token.Wait(); token.Error() != nil {
		return fmt.Errorf("display: subscribe %s: %w", cfg.TopicTelemetry, token.Error())
	}

	token = client.Subscribe(cfg.TopicMagnet, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var event MagnetEvent
		if err := json.Unmarshal(msg.Payload(), &event); err != nil {
			log.Printf("display: magnet event unmarshal error: %v", err)
			return
		}
		data.mu.Lock()
		data.lastEvent = event
		data.eventAt = time.Now()
		data.mu.Unlock()
	})
	if token.Wait(); token.Error() != nil {
		return fmt.Errorf("display: subscribe %s: %w", cfg.TopicMagnet, token.Error())
	}
	log.Printf("display: subscribed to %s and %s", cfg.TopicTelemetry, cfg.TopicMagnet)

	interval := cfg.DisplayUpdateInterval
	if interval == 0 {
		interval = 250
	}
	ticker := time.NewTicker(time.Duration(interval) * time.Millisecond)
	defer ticker.Stop()

	log.Println("display: starting update loop")

	for range ticker.C {
		data.mu.RLock()
		sample := data.sample
		haveSample := data.haveSample
		event := data.lastEvent
		eventAt := data.eventAt
		data.mu.RUnlock()

		if !eventAt.IsZero() && time.Since(eventAt) < eventFlash {
			if err := drawLines(dev,
				"** MAGNET **",
				strings.ToUpper(event.To),
				fmt.Sprintf("dev %.1fuT", event.DeviationUT),
				fmt.Sprintf("conf %.0f%%", event.Confidence*100),
			); err != nil {
				log.Printf("display: error updating panel: %v", err)
			}
			continue
		}

		if err := updateStatusDisplay(dev, sample, haveSample); err != nil {
			log.Printf("display: error updating panel: %v", err)
		}
	}

	return nil
}

func updateStatusDisplay(dev *ssd1306.Dev, sample telemetry.Decorated, haveData bool) error {
	if !haveData {
		return drawLines(dev, "Magnet Tracker", "Waiting...")
	}

	return drawLines(dev,
		fmt.Sprintf("mag: %s", sample.MagnetStatus),
		fmt.Sprintf("res %5.1fuT", sample.ResidualMagnitudeUT),
		fmt.Sprintf("cal %3.0f%% E %4.1f", sample.CalibrationReadiness*100, sample.EarthFieldUT),
		fmt.Sprintf("Y %6.1f", sample.Euler.Yaw),
	)
}

func showSplash(dev *ssd1306.Dev) error {
	return drawLines(dev, "Magnet Tracker", "", "Waiting for", "telemetry")
}

// drawLines renders up to four 7x13 text rows onto the 128x64 panel.
func drawLines(dev *ssd1306.Dev, lines ...string) error {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, 128, 64))

	// Blank image
	for i := 0; i < 1024; i++ {
		img.Pix[i] = 0
	}

	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}

	for i, line := range lines {
		if line == "" {
			continue
		}
		drawer.Dot = fixed.P(0, 13+i*13)
		drawer.DrawBytes([]byte(line))
	}

	return dev.Draw(dev.Bounds(), img, image.Point{})
}
