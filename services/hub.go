package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/RobertoIHH/MQ7ServerWifi/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrNoSensor is returned when a mode change is requested through the REST
// API while no sensor peer is connected.
var ErrNoSensor = errors.New("no sensor connected")

// notifyBuffer bounds the sensor events waiting for a slow notifier.
const notifyBuffer = 32

// Role is what a peer has been identified as.
type Role int

const (
	RoleUnknown Role = iota
	RoleSensor
	RoleViewer
)

func (r Role) String() string {
	switch r {
	case RoleSensor:
		return "sensor"
	case RoleViewer:
		return "viewer"
	default:
		return "unknown"
	}
}

// Peer is one live connection. Its role is decided by its first message and
// never changes afterwards. The hub owns the peer's outbound queue; the
// transport drains it with Outbound.
type Peer struct {
	ID   string
	Addr string

	role   Role
	send   chan []byte
	closed bool
}

func NewPeer(addr string, buffer int) *Peer {
	return &Peer{
		ID:   uuid.NewString(),
		Addr: addr,
		send: make(chan []byte, buffer),
	}
}

// Outbound yields the encoded messages queued for this peer. It is closed
// when the hub unregisters the peer.
func (p *Peer) Outbound() <-chan []byte {
	return p.send
}

// RecordMirror receives every record the hub builds. Enqueue must not block.
type RecordMirror interface {
	Enqueue(rec *models.Record)
}

// StatusNotifier is told about sensor connectivity transitions.
type StatusNotifier interface {
	NotifySensorEvent(ev models.SensorEvent)
}

type sessionState struct {
	currentGas      models.Mode
	lastData        json.RawMessage
	status          models.SensorStatus
	lastContact     time.Time
	pendingGas      models.Mode
	pendingDeadline time.Time
}

// Hub owns the peer set and the shared session state. Every mutation happens
// under mu, so handlers can read and write across peers, state and extrema
// as one unit.
type Hub struct {
	mu      sync.Mutex
	peers   map[*Peer]struct{}
	state   sessionState
	extrema *ExtremaTracker
	store   LogStore

	mirror            RecordMirror
	notifier          StatusNotifier
	events            chan models.SensorEvent
	stopped           bool
	modeChangeTimeout time.Duration
	now               func() time.Time
	logger            *zap.Logger
}

type HubOption func(*Hub)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) HubOption {
	return func(h *Hub) {
		h.now = now
	}
}

func WithMirror(m RecordMirror) HubOption {
	return func(h *Hub) {
		h.mirror = m
	}
}

func WithNotifier(n StatusNotifier) HubOption {
	return func(h *Hub) {
		h.notifier = n
	}
}

// WithDefaultGas sets the mode assumed before the sensor reports one.
func WithDefaultGas(m models.Mode) HubOption {
	return func(h *Hub) {
		h.state.currentGas = m
	}
}

// WithModeChangeTimeout sets how long a mode change may stay unconfirmed.
func WithModeChangeTimeout(d time.Duration) HubOption {
	return func(h *Hub) {
		h.modeChangeTimeout = d
	}
}

func NewHub(store LogStore, extrema *ExtremaTracker, logger *zap.Logger, opts ...HubOption) *Hub {
	h := &Hub{
		peers:             make(map[*Peer]struct{}),
		state:             sessionState{currentGas: models.ModeCO},
		extrema:           extrema,
		store:             store,
		modeChangeTimeout: 5 * time.Second,
		now:               time.Now,
		logger:            logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.notifier != nil {
		h.events = make(chan models.SensorEvent, notifyBuffer)
		go h.dispatchEvents()
	}
	return h
}

// Register adds a peer. If a measurement has been seen, the peer gets it
// right away so viewers do not start blank.
func (h *Hub) Register(p *Peer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.peers[p] = struct{}{}
	h.logger.Info("Peer connected",
		zap.String("peer_id", p.ID),
		zap.String("addr", p.Addr),
		zap.Int("peers", len(h.peers)))

	if h.state.lastData != nil {
		gas := h.state.currentGas
		h.sendLocked(p, models.NewDataUpdate(h.state.lastData, gas, h.extrema.Get(gas), h.now()))
	}
}

// Unregister removes a peer and closes its outbound queue. Losing the sensor
// marks it disconnected and tells every viewer.
func (h *Hub) Unregister(p *Peer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.peers[p]; !ok {
		return
	}
	delete(h.peers, p)
	p.closed = true
	close(p.send)

	h.logger.Info("Peer disconnected",
		zap.String("peer_id", p.ID),
		zap.String("role", p.role.String()),
		zap.Int("peers", len(h.peers)))

	if p.role != RoleSensor {
		return
	}

	now := h.now()
	wasConnected := h.state.status.Connected
	h.state.status.Connected = false
	h.state.status.LastUpdate = now.UnixMilli()
	h.state.lastContact = now
	h.broadcastLocked(nil, models.NewStatusBroadcast(h.state.status.Clone(), now))

	if wasConnected {
		h.notifyLocked(models.SensorEvent{Connected: false, Reason: "disconnect", At: now, LastSeen: now})
	}
}

// Shutdown unregisters every peer, which makes their transports close, and
// stops event delivery once the pending events are handed over.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	peers := make([]*Peer, 0, len(h.peers))
	for p := range h.peers {
		peers = append(peers, p)
	}
	h.mu.Unlock()

	for _, p := range peers {
		h.Unregister(p)
	}

	h.mu.Lock()
	if !h.stopped {
		h.stopped = true
		if h.events != nil {
			close(h.events)
		}
	}
	h.mu.Unlock()
}

// HandleMessage processes one inbound frame from p. Malformed or unknown
// messages are logged and dropped; the connection stays open.
func (h *Hub) HandleMessage(p *Peer, raw []byte) {
	in, err := models.ParseInbound(raw)

	h.mu.Lock()
	defer h.mu.Unlock()

	if err != nil {
		h.assignRoleLocked(p, false)
		h.logger.Warn("Dropping malformed message",
			zap.String("peer_id", p.ID),
			zap.String("role", p.role.String()),
			zap.Error(err))
		return
	}
	kind := in.Kind()
	h.assignRoleLocked(p, kind.FromSensor())

	if kind == models.KindUnknown {
		h.logger.Warn("Dropping unrecognized message",
			zap.String("peer_id", p.ID),
			zap.String("role", p.role.String()),
			zap.ByteString("message", raw))
		return
	}
	if kind.FromSensor() != (p.role == RoleSensor) {
		h.logger.Warn("Dropping message not allowed for peer role",
			zap.String("peer_id", p.ID),
			zap.String("role", p.role.String()),
			zap.Stringer("kind", kind))
		return
	}

	h.logger.Debug("Message received",
		zap.String("peer_id", p.ID),
		zap.Stringer("kind", kind))

	switch kind {
	case models.KindSensorData:
		h.handleSensorDataLocked(p, in)
	case models.KindChangeGas:
		h.handleChangeGasLocked(p, in)
	case models.KindGasChanged:
		h.handleGasChangedLocked(p, in)
	case models.KindHeartbeat:
		h.handleHeartbeatLocked(p, in)
	case models.KindStatusQuery:
		h.handleStatusQueryLocked(p)
	}
}

// assignRoleLocked settles the role of a peer on its first message. Anything
// that is not a sensor shape, malformed frames included, makes a viewer.
func (h *Hub) assignRoleLocked(p *Peer, fromSensor bool) {
	if p.role != RoleUnknown {
		return
	}
	if fromSensor {
		p.role = RoleSensor
	} else {
		p.role = RoleViewer
	}
	h.logger.Info("Peer role assigned",
		zap.String("peer_id", p.ID),
		zap.String("role", p.role.String()))
}

func (h *Hub) handleSensorDataLocked(p *Peer, in *models.Inbound) {
	now := h.now()
	h.touchSensorLocked(now)

	m, err := in.Measurement()
	if err != nil {
		h.logger.Warn("Dropping sensor report without usable data",
			zap.String("peer_id", p.ID),
			zap.Error(err))
		return
	}

	if m.Gas != "" && models.Mode(m.Gas) != h.state.currentGas {
		if mode, err := models.ParseMode(m.Gas); err == nil {
			h.logger.Info("Sensor reports a different gas, adopting it",
				zap.String("from", string(h.state.currentGas)),
				zap.String("to", string(mode)))
			h.state.currentGas = mode
		} else {
			h.logger.Warn("Sensor reported an unsupported gas", zap.String("gas", m.Gas))
		}
	}
	gas := h.state.currentGas
	if h.state.pendingGas != "" && h.state.pendingGas == gas && models.Mode(m.Gas) == gas {
		h.clearPendingLocked()
	}
	h.state.lastData = m.Raw

	rec := models.NewRecord(m, gas, now)
	if err := h.store.Append(rec); err != nil {
		h.logger.Error("Failed to persist measurement, record dropped from history",
			zap.String("gas", string(gas)),
			zap.Error(err))
	}
	if m.PPM != nil {
		h.extrema.Observe(gas, *m.PPM)
	}
	if h.mirror != nil {
		h.mirror.Enqueue(rec)
	}

	h.broadcastLocked(p, models.NewDataUpdate(m.Raw, gas, h.extrema.Get(gas), now))
}

func (h *Hub) handleChangeGasLocked(p *Peer, in *models.Inbound) {
	now := h.now()
	requested := in.Text("gas")
	mode, err := models.ParseMode(requested)
	if err != nil {
		h.logger.Warn("Rejecting mode change",
			zap.String("peer_id", p.ID),
			zap.String("gas", requested))
		h.sendLocked(p, models.NewErrorMessage(fmt.Sprintf("Invalid gas type: %q", requested), now))
		return
	}

	h.state.currentGas = mode
	h.setPendingLocked(mode, now)

	sensors := 0
	for peer := range h.peers {
		if peer.role == RoleSensor {
			h.enqueueLocked(peer, in.Raw)
			sensors++
		}
	}

	h.logger.Info("Mode change forwarded",
		zap.String("peer_id", p.ID),
		zap.String("gas", string(mode)),
		zap.Int("sensors", sensors))

	h.sendLocked(p, models.NewCommandSent(mode, h.extrema.Get(mode), now))
}

func (h *Hub) handleGasChangedLocked(p *Peer, in *models.Inbound) {
	h.clearPendingLocked()

	if !in.Flag("success") {
		h.logger.Warn("Sensor reported a failed mode change",
			zap.String("peer_id", p.ID),
			zap.String("to", in.Text("to")))
		return
	}
	mode, err := models.ParseMode(in.Text("to"))
	if err != nil {
		h.logger.Warn("Sensor confirmed an unsupported gas", zap.Error(err))
		return
	}

	now := h.now()
	h.state.currentGas = mode
	h.logger.Info("Sensor confirmed mode change", zap.String("gas", string(mode)))
	h.broadcastLocked(p, models.NewGasChanged(mode, h.extrema.Get(mode), now))
}

func (h *Hub) handleHeartbeatLocked(p *Peer, in *models.Inbound) {
	now := h.now()

	if h.state.status.Extra == nil {
		h.state.status.Extra = make(map[string]json.RawMessage, len(in.Fields))
	}
	for k, v := range in.Fields {
		if k == "connected" || k == "lastUpdate" {
			continue
		}
		h.state.status.Extra[k] = v
	}
	h.touchSensorLocked(now)

	if gas := in.Text("current_gas"); gas != "" {
		if mode, err := models.ParseMode(gas); err == nil {
			h.state.currentGas = mode
		}
	}

	h.broadcastLocked(p, models.NewStatusBroadcast(h.state.status.Clone(), now))
}

func (h *Hub) handleStatusQueryLocked(p *Peer) {
	gas := h.state.currentGas
	h.sendLocked(p, models.NewStatusReply(h.state.status.Clone(), gas, h.extrema.Get(gas), h.now()))
}

// CheckLiveness marks the sensor disconnected when nothing has been heard
// from it for longer than timeout, and expires an unconfirmed mode change.
// It reports whether the sensor was marked disconnected.
func (h *Hub) CheckLiveness(timeout time.Duration) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now()
	if h.state.pendingGas != "" && now.After(h.state.pendingDeadline) {
		h.logger.Warn("Mode change was not confirmed by the sensor",
			zap.String("gas", string(h.state.pendingGas)))
		h.clearPendingLocked()
	}

	if !h.state.status.Connected {
		return false
	}
	silence := now.Sub(h.state.lastContact)
	if silence <= timeout {
		return false
	}

	h.state.status.Connected = false
	h.logger.Warn("Sensor timed out",
		zap.Time("last_contact", h.state.lastContact),
		zap.Duration("silence", silence))
	h.broadcastLocked(nil, models.NewStatusBroadcast(h.state.status.Clone(), now))
	h.notifyLocked(models.SensorEvent{Connected: false, Reason: "timeout", At: now, LastSeen: h.state.lastContact})
	return true
}

// RequestModeChange is the REST entry point for mode changes. Unlike the
// WebSocket command it refuses when no sensor is connected.
func (h *Hub) RequestModeChange(mode models.Mode) error {
	if !mode.Valid() {
		return fmt.Errorf("unsupported gas type %q", mode)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now()
	data, err := json.Marshal(models.NewChangeGasCommand(mode, now))
	if err != nil {
		return err
	}

	sensors := 0
	for peer := range h.peers {
		if peer.role == RoleSensor {
			h.enqueueLocked(peer, data)
			sensors++
		}
	}
	if sensors == 0 {
		return ErrNoSensor
	}

	h.state.currentGas = mode
	h.setPendingLocked(mode, now)
	h.logger.Info("Mode change requested via API",
		zap.String("gas", string(mode)),
		zap.Int("sensors", sensors))
	return nil
}

// Snapshot returns a consistent copy of the shared state.
func (h *Hub) Snapshot() models.Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()

	gas := h.state.currentGas
	snap := models.Snapshot{
		LastData:   h.state.lastData,
		CurrentGas: gas,
		Status:     h.state.status.Clone(),
		MinMax:     h.extrema.Get(gas),
		PendingGas: h.state.pendingGas,
	}
	if snap.LastData == nil {
		snap.LastData = json.RawMessage("{}")
	}
	for p := range h.peers {
		switch p.role {
		case RoleSensor:
			snap.SensorPeers++
		case RoleViewer:
			snap.ViewerPeers++
		}
	}
	return snap
}

func (h *Hub) touchSensorLocked(now time.Time) {
	wasConnected := h.state.status.Connected
	h.state.status.Connected = true
	h.state.status.LastUpdate = now.UnixMilli()
	h.state.lastContact = now
	if !wasConnected {
		h.logger.Info("Sensor connected")
		h.notifyLocked(models.SensorEvent{Connected: true, Reason: "contact", At: now, LastSeen: now})
	}
}

func (h *Hub) setPendingLocked(mode models.Mode, now time.Time) {
	h.state.pendingGas = mode
	h.state.pendingDeadline = now.Add(h.modeChangeTimeout)
}

func (h *Hub) clearPendingLocked() {
	h.state.pendingGas = ""
	h.state.pendingDeadline = time.Time{}
}

// notifyLocked queues the event for the notifier without holding up the hub.
// Events are queued under mu and delivered by one goroutine, so the notifier
// sees transitions in the order they happened.
func (h *Hub) notifyLocked(ev models.SensorEvent) {
	if h.events == nil || h.stopped {
		return
	}
	select {
	case h.events <- ev:
	default:
		h.logger.Warn("Sensor event queue full, event dropped",
			zap.Bool("connected", ev.Connected),
			zap.String("reason", ev.Reason))
	}
}

func (h *Hub) dispatchEvents() {
	for ev := range h.events {
		h.notifier.NotifySensorEvent(ev)
	}
}

// broadcastLocked sends v to every non-sensor peer except sender.
func (h *Hub) broadcastLocked(sender *Peer, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("Failed to encode broadcast", zap.Error(err))
		return
	}
	for peer := range h.peers {
		if peer == sender || peer.role == RoleSensor {
			continue
		}
		h.enqueueLocked(peer, data)
	}
}

func (h *Hub) sendLocked(p *Peer, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("Failed to encode message", zap.Error(err))
		return
	}
	h.enqueueLocked(p, data)
}

// enqueueLocked never blocks: a peer whose queue is full misses the message.
func (h *Hub) enqueueLocked(p *Peer, data []byte) {
	if p.closed {
		return
	}
	select {
	case p.send <- data:
	default:
		h.logger.Warn("Peer outbound queue full, message dropped",
			zap.String("peer_id", p.ID),
			zap.String("role", p.role.String()))
	}
}
