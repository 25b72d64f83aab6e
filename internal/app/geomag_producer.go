package app

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"strings"

	nmea "github.com/adrianmo/go-nmea"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	serial "github.com/jacobsa/go-serial/serial"

	"github.com/relabs-tech/magnet_tracker/internal/config"
	"github.com/relabs-tech/magnet_tracker/internal/geomag"
	"github.com/relabs-tech/magnet_tracker/internal/gps"
)

// RunGeomagProducer reads NMEA sentences from the GPS serial port and
// publishes the geomagnetic reference for the wearer's location as a
// retained message, so the tracker picks it up even when it starts later.
func RunGeomagProducer() error {
	cfg := config.Get()

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDGeomag)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("geomag: MQTT connect: %w", token.Error())
	}
	defer client.Disconnect(250)
	log.Printf("geomag: connected to MQTT broker at %s", cfg.MQTTBroker)

	portName := cfg.GPSSerialPort
	if portName == "" {
		portName = "/dev/serial0"
	}
	baud := cfg.GPSBaudRate
	if baud == 0 {
		baud = 9600
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
		return fmt.Errorf("geomag: open GPS serial %s: %w", portName, err)
	}
	defer port.Close()
	log.Printf("geomag: GPS serial port opened on %s at %d baud", portName, baud)

	reader := bufio.NewReader(port)

	// The reference only changes when the wearer relocates; republish when
	// the fix moves far enough to matter for the field model.
	var (
		haveRef bool
		lastLat float64
		lastLon float64
	)
	const republishDeg = 0.1

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("geomag: GPS read: %w", err)
		}

		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "$") {
			continue
		}

		sentence, err := nmea.Parse(line)
		if err != nil {
			continue
		}
		if sentence.DataType() != nmea.TypeRMC {
			continue
		}
		m := sentence.(nmea.RMC)

		fix := gps.Fix{
			Time:       m.Time.String(),
			Date:       m.Date.String(),
			Latitude:   m.Latitude,
			Longitude:  m.Longitude,
			SpeedKnots: m.Speed,
			CourseDeg:  m.Course,
			Validity:   string(m.Validity),
		}
		if !fix.Valid() {
			continue
		}

		if haveRef &&
			math.Abs(fix.Latitude-lastLat) < republishDeg &&
			math.Abs(fix.Longitude-lastLon) < republishDeg {
			continue
		}

		ref := geomag.FromLocation(fix.Latitude, fix.Longitude)
		payload, err := json.Marshal(ref)
		if err != nil {
			log.Printf("geomag: reference marshal error: %v", err)
			continue
		}
		if token := client.Publish(cfg.TopicGeomag, 0, true, payload); token.Wait() && token.Error() != nil {
			log.Printf("geomag: publish error: %v", token.Error())
			continue
		}

		haveRef = true
		lastLat, lastLon = fix.Latitude, fix.Longitude
		log.Printf("geomag: published reference for %.4f,%.4f: H=%.1fµT V=%.1fµT decl=%.1f°",
			fix.Latitude, fix.Longitude,
			ref.HorizontalUT, ref.VerticalUT, ref.DeclinationDeg)
	}
}
