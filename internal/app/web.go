package app

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/websocket"

	"github.com/relabs-tech/magnet_tracker/internal/config"
	"github.com/relabs-tech/magnet_tracker/internal/telemetry"
)

// liveHub fans telemetry and magnet events out to connected websocket
// clients. Slow or dead clients are dropped on write error.
type liveHub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]bool
}

func newLiveHub() *liveHub {
	return &liveHub{clients: make(map[*websocket.Conn]bool)}
}

func (h *liveHub) add(conn *websocket.Conn) {
	h.mu.Lock()
	h.clients[conn] = true
	h.mu.Unlock()
}

func (h *liveHub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
	conn.Close()
}

func (h *liveHub) broadcast(kind string, data json.RawMessage) {
	envelope, err := json.Marshal(struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}{Type: kind, Data: data})
	if err != nil {
		log.Printf("web: broadcast marshal error: %v", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		if err := conn.WriteMessage(websocket.TextMessage, envelope); err != nil {
			delete(h.clients, conn)
			conn.Close()
		}
	}
}

// RunWeb serves the dashboard: a JSON snapshot endpoint, a live websocket
// feed of telemetry and magnet events, the calibration wizard websocket
// and the static frontend.
func RunWeb() error {
	cfg := config.Get()

	var (
		mu         sync.RWMutex
		lastSample telemetry.Decorated
		haveSample bool
	)
	hub := newLiveHub()

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDWeb)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("web: MQTT connect: %w", token.Error())
	}
	log.Printf("web: connected to MQTT broker at %s", cfg.MQTTBroker)

	token := client.Subscribe(cfg.TopicTelemetry, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var dec telemetry.Decorated
		if err := json.Unmarshal(msg.Payload(), &dec); err != nil {
			log.Printf("web: telemetry unmarshal error: %v", err)
			return
		}
		mu.Lock()
		lastSample = dec
		haveSample = true
		mu.Unlock()

		hub.broadcast("telemetry", json.RawMessage(msg.Payload()))
	})
	if token.Wait(); token.Error() != nil {
		return fmt.Errorf("web: subscribe %s: %w", cfg.TopicTelemetry, token.Error())
	}

	token = client.Subscribe(cfg.TopicMagnet, 0, func(_ mqtt.Client, msg mqtt.Message) {
		hub.broadcast("magnet", json.RawMessage(msg.Payload()))
	})
	if token.Wait(); token.Error() != nil {
		return fmt.Errorf("web: subscribe %s: %w", cfg.TopicMagnet, token.Error())
	}
	log.Printf("web: subscribed to %s and %s", cfg.TopicTelemetry, cfg.TopicMagnet)

	http.HandleFunc("/api/state", func(w http.ResponseWriter, r *http.Request) {
		mu.RLock()
		defer mu.RUnlock()

		if !haveSample {
			http.Error(w, "no data yet", http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(lastSample); err != nil {
			log.Printf("web: json encode error: %v", err)
		}
	})

	http.HandleFunc("/ws/live", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("web: websocket upgrade error: %v", err)
			return
		}
		hub.add(conn)
		log.Printf("web: live client connected from %s", r.RemoteAddr)

		// Reads are discarded; the read loop only detects disconnects.
		go func() {
			defer hub.remove(conn)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	})

	http.HandleFunc("/ws/calibration", HandleCalibrationWS)

	fs := http.FileServer(http.Dir("web"))
	http.Handle("/", fs)

	addr := fmt.Sprintf(":%d", cfg.WebServerPort)
	log.Printf("web: server listening on %s", addr)
	return http.ListenAndServe(addr, nil)
}
