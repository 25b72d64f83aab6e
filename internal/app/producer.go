package app

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	serial "github.com/jacobsa/go-serial/serial"

	"github.com/relabs-tech/magnet_tracker/internal/config"
	"github.com/relabs-tech/magnet_tracker/internal/imu"
	"github.com/relabs-tech/magnet_tracker/internal/sensors"
)

// bridgeSource reads newline-delimited raw sample JSON from the wearable's
// serial bridge.
type bridgeSource struct {
	port    io.ReadWriteCloser
	reader  *bufio.Reader
	session string
}

func newBridgeSource(portName string, baud int, session string) (*bridgeSource, error) {
	if baud == 0 {
		baud = 115200
	}
	port, err := serial.Open(serial.OpenOptions{
		PortName:        portName,
		BaudRate:        uint(baud),
		DataBits:        8,
		StopBits:        1,
		MinimumReadSize: 1,
		ParityMode:      serial.PARITY_NONE,
	})
	if err != nil {
		return nil, fmt.Errorf("producer: open serial bridge %s: %w", portName, err)
	}
	log.Printf("producer: serial bridge opened on %s at %d baud", portName, baud)
	return &bridgeSource{port: port, reader: bufio.NewReader(port), session: session}, nil
}

// NextRaw reads lines until one parses as a sample frame. Partial or
// garbled lines from the bridge are skipped, not fatal.
func (b *bridgeSource) NextRaw() (imu.RawSample, error) {
	for {
		line, err := b.reader.ReadString('\n')
		if err != nil {
			return imu.RawSample{}, fmt.Errorf("producer: serial read: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" || !strings.HasPrefix(line, "{") {
			continue
		}
		var s imu.RawSample
		if err := json.Unmarshal([]byte(line), &s); err != nil {
			log.Printf("producer: skipping unparseable bridge frame: %v", err)
			continue
		}
		if s.Session == "" {
			s.Session = b.session
		}
		if s.T == 0 {
			s.T = time.Now().UnixMilli()
		}
		return s, nil
	}
}

func (b *bridgeSource) Close() error {
	return b.port.Close()
}

// NewRawSource picks the sample source from the configuration: the serial
// bridge when a bridge port is set, the on-board MPU-9250 when an I2C bus
// is set, otherwise the mock.
func NewRawSource(cfg *config.Config) (imu.RawSource, error) {
	switch {
	case cfg.BridgeSerialPort != "":
		return newBridgeSource(cfg.BridgeSerialPort, cfg.BridgeBaudRate, cfg.SessionName)
	case cfg.IMUI2CBus != "":
		return sensors.NewIMUSource(cfg.SessionName)
	default:
		log.Println("producer: no bridge port or I2C bus configured, using mock source")
		return imu.NewMockSource(), nil
	}
}

// RunProducer reads raw 9-axis samples from the configured source and
// publishes them as JSON to the raw topic at the configured sample rate.
func RunProducer() error {
	cfg := config.Get()

	source, err := NewRawSource(cfg)
	if err != nil {
		return err
	}
	if closer, ok := source.(io.Closer); ok {
		defer closer.Close()
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDProducer)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("producer: MQTT connect: %w", token.Error())
	}
	defer client.Disconnect(250)
	log.Printf("producer: connected to MQTT broker at %s, publishing to %s",
		cfg.MQTTBroker, cfg.TopicRaw)

	logEvery := time.Duration(cfg.ConsoleLogInterval) * time.Millisecond
	lastLog := time.Now()
	published := 0

	ticker := time.NewTicker(time.Duration(cfg.SampleInterval) * time.Millisecond)
	defer ticker.Stop()

	for t := range ticker.C {
		sample, err := source.NextRaw()
		if err != nil {
			log.Printf("producer: sample read error: %v", err)
			continue
		}

		payload, err := json.Marshal(sample)
		if err != nil {
			log.Printf("producer: json marshal error: %v", err)
			continue
		}
		if token := client.Publish(cfg.TopicRaw, 0, false, payload); token.Wait() && token.Error() != nil {
			log.Printf("producer: MQTT publish error: %v", token.Error())
			continue
		}
		published++

		if t.Sub(lastLog) >= logEvery {
			log.Printf("producer: %d samples published | accel ax=%d ay=%d az=%d | gyro gx=%d gy=%d gz=%d | mag mx=%d my=%d mz=%d valid=%v",
				published,
				sample.Ax, sample.Ay, sample.Az,
				sample.Gx, sample.Gy, sample.Gz,
				sample.Mx, sample.My, sample.Mz, sample.MagValid,
			)
			lastLog = t
		}
	}
	return nil
}
