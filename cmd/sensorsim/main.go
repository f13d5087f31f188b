package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/RobertoIHH/MQ7ServerWifi/models"

	"github.com/gorilla/websocket"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"
)

var (
	relayAddr = flag.String("addr", "localhost:3000", "Relay address (host:port)")
	interval  = flag.Duration("interval", time.Second, "Interval between data reports")
	heartbeat = flag.Duration("heartbeat", 5*time.Second, "Interval between status heartbeats, 0 to disable")
	startGas  = flag.String("gas", "CO", "Initial gas mode")
)

// MQ-7 board constants: 12-bit ADC on a 3.3 V rail, heater circuit at 5 V,
// 10 kOhm load resistor, clean-air R0 of 10 kOhm.
const (
	adcMax = 4095.0
	vRef   = 3.3
	vc     = 5.0
	rl     = 10.0
	r0     = 10.0
)

// curve is the ppm = a * (Rs/R0)^b fit for one gas.
type curve struct{ a, b float64 }

var curves = map[models.Mode]curve{
	models.ModeCO:      {99.042, -1.518},
	models.ModeH2:      {69.014, -1.374},
	models.ModeLPG:     {700000000, -7.703},
	models.ModeCH4:     {60000000000000, -10.54},
	models.ModeAlcohol: {40000000000000000, -14.2},
}

type MockSensor struct {
	gas    models.Mode
	adc    float64
	start  time.Time
	logger *zap.Logger
}

func NewMockSensor(gas models.Mode, logger *zap.Logger) *MockSensor {
	return &MockSensor{
		gas:    gas,
		adc:    900 + rand.Float64()*200,
		start:  time.Now(),
		logger: logger,
	}
}

// Reading produces the next measurement as a random walk on the ADC value.
func (m *MockSensor) Reading(now time.Time) map[string]any {
	m.adc += rand.Float64()*60 - 30
	m.adc = math.Max(200, math.Min(3800, m.adc))

	adc := math.Round(m.adc)
	v := adc / adcMax * vRef
	rs := (vc - v) / v * rl
	ratio := rs / r0
	c := curves[m.gas]
	ppm := c.a * math.Pow(ratio, c.b)

	index := 0
	for i, mode := range models.Modes {
		if mode == m.gas {
			index = i
		}
	}

	return map[string]any{
		"timestamp": now.UnixMilli(),
		"ADC":       adc,
		"V":         round(v, 3),
		"Rs":        round(rs, 3),
		"Rs/R0":     round(ratio, 4),
		"ppm":       round(ppm, 6),
		"gas":       string(m.gas),
		"gas_index": index,
	}
}

func (m *MockSensor) Heartbeat() map[string]any {
	return map[string]any{
		"status":      "ok",
		"current_gas": string(m.gas),
		"uptime":      int64(time.Since(m.start).Seconds()),
		"rssi":        -50 - rand.Intn(30),
	}
}

// HandleCommand applies a change_gas command and returns the confirmation,
// or nil if the message is not a command for the sensor.
func (m *MockSensor) HandleCommand(raw []byte) map[string]any {
	var cmd struct {
		Command string `json:"command"`
		Gas     string `json:"gas"`
	}
	if err := json.Unmarshal(raw, &cmd); err != nil || cmd.Command != models.CommandChangeGas {
		return nil
	}

	from := m.gas
	mode, err := models.ParseMode(cmd.Gas)
	if err != nil {
		m.logger.Warn("Rejecting unknown gas", zap.String("gas", cmd.Gas))
		return map[string]any{"command": models.CommandGasChange, "success": false, "from": string(from), "to": cmd.Gas}
	}
	m.gas = mode
	m.logger.Info("Switched gas", zap.String("from", string(from)), zap.String("to", string(mode)))
	return map[string]any{"command": models.CommandGasChange, "success": true, "from": string(from), "to": string(mode)}
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func main() {
	flag.Parse()

	// Initialize logger
	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	gas, err := models.ParseMode(*startGas)
	if err != nil {
		logger.Fatal("Invalid gas", zap.Error(err))
	}

	u := url.URL{Scheme: "ws", Host: *relayAddr, Path: "/ws"}
	logger.Info("Mock MQ-7 sensor started",
		zap.String("url", u.String()),
		zap.Duration("interval", *interval),
		zap.String("gas", string(gas)))
	logger.Info("Press Ctrl+C to stop gracefully")

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		logger.Fatal("Failed to connect to relay", zap.Error(err))
	}
	defer conn.Close()

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, stopping sensor")
		cancel()
	}()

	// All writes happen on this goroutine; the reader only forwards frames.
	commands := make(chan []byte, 8)
	go func() {
		defer cancel()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				logger.Warn("Relay connection closed", zap.Error(err))
				return
			}
			commands <- msg
		}
	}()

	sensor := NewMockSensor(gas, logger)

	dataTicker := time.NewTicker(*interval)
	defer dataTicker.Stop()

	var heartbeatC <-chan time.Time
	if *heartbeat > 0 {
		hbTicker := time.NewTicker(*heartbeat)
		defer hbTicker.Stop()
		heartbeatC = hbTicker.C
	}

	sent := 0
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			logger.Info("Shutdown complete", zap.Int("total_reports", sent))
			return

		case msg := <-commands:
			reply := sensor.HandleCommand(msg)
			if reply == nil {
				logger.Debug("Ignoring relay message", zap.ByteString("message", msg))
				continue
			}
			if err := conn.WriteJSON(reply); err != nil {
				logger.Error("Failed to confirm gas change", zap.Error(err))
			}

		case now := <-dataTicker.C:
			report := map[string]any{
				"source": models.SensorSource,
				"data":   sensor.Reading(now),
			}
			if err := conn.WriteJSON(report); err != nil {
				logger.Error("Failed to send report", zap.Error(err))
				continue
			}
			sent++
			if sent%100 == 0 {
				logger.Info(fmt.Sprintf("%d reports sent", sent))
			}

		case <-heartbeatC:
			if err := conn.WriteJSON(sensor.Heartbeat()); err != nil {
				logger.Error("Failed to send heartbeat", zap.Error(err))
			}
		}
	}
}
