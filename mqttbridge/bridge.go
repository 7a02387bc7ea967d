package mqttbridge

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/arloliu/go-xsig/device"
	"github.com/arloliu/go-xsig/logger"
	"github.com/arloliu/go-xsig/xsig"
)

// Engine is the XSIG engine surface driven by the bridge.
type Engine interface {
	xsig.JoinIO
	RequestUpdate() error
}

// Bridge mirrors join values to MQTT and applies MQTT commands to joins.
//
// Topics, relative to the prefix:
//   - state/<join-id>: retained value of a join ("1"/"0", decimal or text). The retained values
//     are cleared when the control system disconnects.
//   - status: retained "online" or "offline", following the control-system availability.
//   - command/<join-id>: sets a join; digital payloads accept 1/0, true/false and on/off.
//   - command/pulse/<n>: pulses digital join n; an optional payload sets the duration in milliseconds.
//   - command/sync: requests a full update from the control system.
type Bridge struct {
	engine Engine
	client Client
	topics Topics
	qos    byte
	pulse  time.Duration
	logger logger.Logger

	mu          sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	unregisters []func()
	pulses      sync.WaitGroup

	statesMu sync.Mutex
	states   map[xsig.JoinID]struct{}
}

// Option configures a Bridge.
type Option func(*Bridge) error

// WithTopicPrefix sets the topic prefix. The default is DefaultTopicPrefix.
func WithTopicPrefix(prefix string) Option {
	return func(b *Bridge) error {
		prefix = strings.Trim(prefix, "/")
		if prefix == "" || strings.ContainsAny(prefix, "#+") {
			return fmt.Errorf("%w: invalid mqtt topic prefix %q", xsig.ErrValidation, prefix)
		}
		b.topics.Prefix = prefix

		return nil
	}
}

// WithQoS sets the QoS of publications and the command subscription. The default is 1.
func WithQoS(qos byte) Option {
	return func(b *Bridge) error {
		if qos > 2 {
			return fmt.Errorf("%w: invalid mqtt qos %d", xsig.ErrValidation, qos)
		}
		b.qos = qos

		return nil
	}
}

// WithPulseDuration sets the pulse duration used when a pulse command has no payload.
func WithPulseDuration(d time.Duration) Option {
	return func(b *Bridge) error {
		b.pulse = device.ClampPulseDuration(d)
		return nil
	}
}

func WithLogger(l logger.Logger) Option {
	return func(b *Bridge) error {
		if l != nil {
			b.logger = l
		}
		return nil
	}
}

// New creates a bridge between engine and client.
func New(engine Engine, client Client, opts ...Option) (*Bridge, error) {
	b := &Bridge{
		engine: engine,
		client: client,
		topics: Topics{Prefix: DefaultTopicPrefix},
		qos:    1,
		pulse:  device.DefaultPulseDuration,
		logger: logger.GetLogger(),
		states: make(map[xsig.JoinID]struct{}),
	}

	for _, opt := range opts {
		if err := opt(b); err != nil {
			return nil, err
		}
	}

	return b, nil
}

// Topics returns the topic names used by the bridge.
func (b *Bridge) Topics() Topics {
	return b.topics
}

// Start subscribes to the command topics, registers the join and system callbacks and publishes
// the current status.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.cancel != nil {
		b.mu.Unlock()
		return nil
	}

	b.ctx, b.cancel = context.WithCancel(ctx)
	b.unregisters = append(b.unregisters,
		b.engine.RegisterCallback(xsig.AnyJoinID, b.publishJoin),
		b.engine.RegisterCallback(xsig.SystemID, b.publishSystem),
	)
	b.mu.Unlock()

	// command handlers take b.mu, so the subscription is made without holding it
	if err := b.client.Subscribe(b.topics.Command(), b.qos, b.handleCommand); err != nil {
		_ = b.Stop()
		return err
	}

	b.publishStatus(b.engine.Available())
	b.logger.Info("mqtt bridge started", "prefix", b.topics.Prefix)

	return nil
}

// Stop unregisters the callbacks, waits for running pulses, unsubscribes and publishes "offline".
func (b *Bridge) Stop() error {
	b.mu.Lock()
	if b.cancel == nil {
		b.mu.Unlock()
		return nil
	}

	for _, unregister := range b.unregisters {
		unregister()
	}
	b.unregisters = nil

	b.cancel()
	b.cancel = nil
	b.mu.Unlock()

	// no pulse starts once cancel is cleared
	b.pulses.Wait()

	err := b.client.Unsubscribe(b.topics.Command())
	b.publishStatus(false)
	b.logger.Info("mqtt bridge stopped")

	return err
}

func (b *Bridge) publishJoin(ev xsig.Event) error {
	b.statesMu.Lock()
	b.states[ev.ID] = struct{}{}
	b.statesMu.Unlock()

	return b.client.Publish(b.topics.State(ev.ID), b.qos, true, []byte(ev.Text()))
}

func (b *Bridge) publishSystem(ev xsig.Event) error {
	if ev.System == xsig.SystemDisconnected {
		b.clearStates()
	}
	b.publishStatus(ev.System == xsig.SystemConnected)

	return nil
}

// clearStates removes the retained state topics published so far. An empty retained payload
// deletes the retained message on the broker.
func (b *Bridge) clearStates() {
	b.statesMu.Lock()
	ids := make([]xsig.JoinID, 0, len(b.states))
	for id := range b.states {
		ids = append(ids, id)
	}
	clear(b.states)
	b.statesMu.Unlock()

	for _, id := range ids {
		if err := b.client.Publish(b.topics.State(id), b.qos, true, nil); err != nil {
			b.logger.Warn("failed to clear retained state", "join_id", id, "error", err)
		}
	}
}

func (b *Bridge) publishStatus(online bool) {
	payload := StatusOffline
	if online {
		payload = StatusOnline
	}

	if err := b.client.Publish(b.topics.Status(), b.qos, true, []byte(payload)); err != nil {
		b.logger.Warn("failed to publish status", "status", payload, "error", err)
	}
}

func (b *Bridge) handleCommand(topic string, payload []byte) {
	cmd, ok := b.topics.commandSuffix(topic)
	if !ok {
		return
	}

	if err := b.applyCommand(cmd, string(payload)); err != nil {
		b.logger.Warn("failed to apply mqtt command", "topic", topic, "error", err)
	}
}

func (b *Bridge) applyCommand(cmd string, payload string) error {
	payload = strings.TrimSpace(payload)

	if cmd == "sync" {
		return b.engine.RequestUpdate()
	}

	if n, ok := strings.CutPrefix(cmd, "pulse/"); ok {
		return b.startPulse(n, payload)
	}

	t, join, err := xsig.JoinID(cmd).Parse()
	if err != nil {
		return err
	}

	switch t {
	case xsig.Digital:
		v, err := ParseDigital(payload)
		if err != nil {
			return err
		}
		return b.engine.SetDigital(join, v)

	case xsig.Analog:
		v, err := strconv.ParseUint(payload, 10, 16)
		if err != nil {
			return fmt.Errorf("%w: analog payload %q", xsig.ErrValidation, payload)
		}
		return b.engine.SetAnalog(join, uint16(v))

	default:
		return b.engine.SetSerial(join, payload)
	}
}

// startPulse pulses a digital join on its own goroutine, so the MQTT client isn't blocked.
func (b *Bridge) startPulse(joinText string, payload string) error {
	join, err := strconv.Atoi(joinText)
	if err != nil {
		return fmt.Errorf("%w: pulse join %q", xsig.ErrValidation, joinText)
	}
	if err := xsig.ValidateJoin(xsig.Digital, join); err != nil {
		return err
	}

	d := b.pulse
	if payload != "" {
		ms, err := strconv.Atoi(payload)
		if err != nil {
			return fmt.Errorf("%w: pulse duration %q", xsig.ErrValidation, payload)
		}
		d = time.Duration(ms) * time.Millisecond
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel == nil {
		return nil
	}

	ctx := b.ctx
	b.pulses.Add(1)
	go func() {
		defer b.pulses.Done()
		if err := device.Pulse(ctx, b.engine, join, d); err != nil {
			b.logger.Warn("failed to pulse join", "join", join, "error", err)
		}
	}()

	return nil
}

// ParseDigital parses a digital command payload.
func ParseDigital(payload string) (bool, error) {
	switch strings.ToLower(payload) {
	case "1", "true", "on":
		return true, nil
	case "0", "false", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%w: digital payload %q", xsig.ErrValidation, payload)
	}
}
