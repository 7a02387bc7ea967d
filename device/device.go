package device

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/arloliu/go-xsig/xsig"
)

func checkJoin(t xsig.JoinType, join int) error {
	if err := xsig.ValidateJoin(t, join); err != nil {
		return err
	}

	limit := xsig.MaxAnalogWireJoin
	if t == xsig.Digital {
		limit = xsig.MaxDigitalWireJoin
	}
	if join > limit {
		return fmt.Errorf("%w: %s join %d beyond wire range [1, %d]", xsig.ErrValidation, t, join, limit)
	}

	return nil
}

// Switch is an on/off output with feedback on one digital join.
type Switch struct {
	io   xsig.JoinIO
	join int
}

// NewSwitch creates a switch on a digital join.
func NewSwitch(io xsig.JoinIO, join int) (*Switch, error) {
	if err := checkJoin(xsig.Digital, join); err != nil {
		return nil, err
	}

	return &Switch{io: io, join: join}, nil
}

// Join returns the digital join number.
func (s *Switch) Join() int { return s.join }

// IsOn reports the last known state.
func (s *Switch) IsOn() bool { return s.io.GetDigital(s.join) }

// TurnOn sets the join high.
func (s *Switch) TurnOn() error { return s.io.SetDigital(s.join, true) }

// TurnOff sets the join low.
func (s *Switch) TurnOff() error { return s.io.SetDigital(s.join, false) }

// Toggle inverts the last known state.
func (s *Switch) Toggle() error { return s.io.SetDigital(s.join, !s.IsOn()) }

// OnChange calls fn with every state reported for the join.
func (s *Switch) OnChange(fn func(on bool)) (unregister func()) {
	return onDigital(s.io, s.join, fn)
}

// BinarySensor is a read-only digital input.
type BinarySensor struct {
	io   xsig.JoinIO
	join int
}

// NewBinarySensor creates a sensor on a digital join.
func NewBinarySensor(io xsig.JoinIO, join int) (*BinarySensor, error) {
	if err := checkJoin(xsig.Digital, join); err != nil {
		return nil, err
	}

	return &BinarySensor{io: io, join: join}, nil
}

// IsOn reports the last known input state.
func (b *BinarySensor) IsOn() bool { return b.io.GetDigital(b.join) }

// OnChange calls fn with every state reported for the join.
func (b *BinarySensor) OnChange(fn func(on bool)) (unregister func()) {
	return onDigital(b.io, b.join, fn)
}

func onDigital(io xsig.JoinIO, join int, fn func(bool)) func() {
	return io.RegisterCallback(xsig.DigitalID(join), func(ev xsig.Event) error {
		fn(ev.Digital)
		return nil
	})
}

func onAnalog(io xsig.JoinIO, join int, fn func(uint16)) func() {
	return io.RegisterCallback(xsig.AnalogID(join), func(ev xsig.Event) error {
		fn(ev.Analog)
		return nil
	})
}

// Light is a dimmer driven by one analog join. Brightness is expressed as 0-255 and mapped
// linearly onto the full analog range.
type Light struct {
	io   xsig.JoinIO
	join int
}

// NewLight creates a dimmer on an analog join.
func NewLight(io xsig.JoinIO, join int) (*Light, error) {
	if err := checkJoin(xsig.Analog, join); err != nil {
		return nil, err
	}

	return &Light{io: io, join: join}, nil
}

// BrightnessToAnalog maps a 0-255 brightness onto 0-65535.
func BrightnessToAnalog(b uint8) uint16 { return uint16(b) * 257 }

// AnalogToBrightness maps an analog value onto the nearest 0-255 brightness.
func AnalogToBrightness(v uint16) uint8 {
	return uint8(math.Round(float64(v) / 257))
}

// Brightness returns the last known brightness, 0-255.
func (l *Light) Brightness() uint8 { return AnalogToBrightness(l.io.GetAnalog(l.join)) }

// IsOn reports a non-zero brightness.
func (l *Light) IsOn() bool { return l.Brightness() > 0 }

// SetBrightness sends b scaled onto the analog range.
func (l *Light) SetBrightness(b uint8) error {
	return l.io.SetAnalog(l.join, BrightnessToAnalog(b))
}

// TurnOn sets full brightness.
func (l *Light) TurnOn() error { return l.SetBrightness(math.MaxUint8) }

// TurnOff sets zero brightness.
func (l *Light) TurnOff() error { return l.SetBrightness(0) }

// OnChange calls fn with the brightness of every analog update.
func (l *Light) OnChange(fn func(brightness uint8)) (unregister func()) {
	return l.io.RegisterCallback(xsig.AnalogID(l.join), func(ev xsig.Event) error {
		fn(AnalogToBrightness(ev.Analog))
		return nil
	})
}

// Shade position limits on the analog join.
const (
	ShadeClosed uint16 = 0
	ShadeOpen   uint16 = math.MaxUint16

	shadeStopPulse = 100 * time.Millisecond
)

// Shade is a motorized cover: an analog position join (set and feedback), a digital join
// reporting the closed state and a digital join pulsed to stop movement.
type Shade struct {
	io           xsig.JoinIO
	positionJoin int
	closedJoin   int
	stopJoin     int
}

// NewShade creates a shade. A zero stopJoin reuses closedJoin for the stop pulse.
func NewShade(io xsig.JoinIO, positionJoin, closedJoin, stopJoin int) (*Shade, error) {
	if stopJoin == 0 {
		stopJoin = closedJoin
	}

	if err := checkJoin(xsig.Analog, positionJoin); err != nil {
		return nil, err
	}
	if err := checkJoin(xsig.Digital, closedJoin); err != nil {
		return nil, err
	}
	if err := checkJoin(xsig.Digital, stopJoin); err != nil {
		return nil, err
	}

	return &Shade{io: io, positionJoin: positionJoin, closedJoin: closedJoin, stopJoin: stopJoin}, nil
}

// Position returns the position in percent, 0 is closed and 100 fully open.
func (s *Shade) Position() int {
	return int(math.Round(float64(s.io.GetAnalog(s.positionJoin)) * 100 / math.MaxUint16))
}

// SetPosition moves the shade to percent, clamped to 0..100.
func (s *Shade) SetPosition(percent int) error {
	percent = min(max(percent, 0), 100)
	value := uint16(math.Round(float64(percent) * math.MaxUint16 / 100))

	return s.io.SetAnalog(s.positionJoin, value)
}

// Open drives the shade fully open.
func (s *Shade) Open() error { return s.io.SetAnalog(s.positionJoin, ShadeOpen) }

// Close drives the shade fully closed.
func (s *Shade) Close() error { return s.io.SetAnalog(s.positionJoin, ShadeClosed) }

// IsClosed reports the closed feedback join.
func (s *Shade) IsClosed() bool { return s.io.GetDigital(s.closedJoin) }

// Stop pulses the stop join.
func (s *Shade) Stop(ctx context.Context) error {
	return Pulse(ctx, s.io, s.stopJoin, shadeStopPulse)
}

// OnPositionChange calls fn with every position update in percent.
func (s *Shade) OnPositionChange(fn func(percent int)) (unregister func()) {
	return s.io.RegisterCallback(xsig.AnalogID(s.positionJoin), func(ev xsig.Event) error {
		fn(int(math.Round(float64(ev.Analog) * 100 / math.MaxUint16)))
		return nil
	})
}

// Button press duration limits.
const (
	DefaultPressDuration = 250 * time.Millisecond
	MinPressDuration     = 10 * time.Millisecond
	MaxPressDuration     = time.Second
)

// Button is a momentary output: each press pulses a digital join.
type Button struct {
	io       xsig.JoinIO
	join     int
	duration time.Duration
}

// NewButton creates a button. The press duration is clamped to MinPressDuration..MaxPressDuration;
// zero selects DefaultPressDuration.
func NewButton(io xsig.JoinIO, join int, duration time.Duration) (*Button, error) {
	if err := checkJoin(xsig.Digital, join); err != nil {
		return nil, err
	}

	if duration == 0 {
		duration = DefaultPressDuration
	}

	return &Button{io: io, join: join, duration: min(max(duration, MinPressDuration), MaxPressDuration)}, nil
}

// PressDuration returns the effective pulse length.
func (b *Button) PressDuration() time.Duration { return b.duration }

// Press pulses the join for the press duration.
func (b *Button) Press(ctx context.Context) error {
	return Pulse(ctx, b.io, b.join, b.duration)
}

// Thermostat is a climate control on four analog joins: current temperature, mode, heat
// setpoint and cool setpoint. Values pass through raw; their units and the mode encoding
// are defined by the control program.
type Thermostat struct {
	io               xsig.JoinIO
	currentTempJoin  int
	modeJoin         int
	heatSetpointJoin int
	coolSetpointJoin int
}

// NewThermostat creates a thermostat on the given analog joins.
func NewThermostat(io xsig.JoinIO, currentTempJoin, modeJoin, heatSetpointJoin, coolSetpointJoin int) (*Thermostat, error) {
	for _, join := range []int{currentTempJoin, modeJoin, heatSetpointJoin, coolSetpointJoin} {
		if err := checkJoin(xsig.Analog, join); err != nil {
			return nil, err
		}
	}

	return &Thermostat{
		io:               io,
		currentTempJoin:  currentTempJoin,
		modeJoin:         modeJoin,
		heatSetpointJoin: heatSetpointJoin,
		coolSetpointJoin: coolSetpointJoin,
	}, nil
}

// CurrentTemperature returns the last reported temperature.
func (t *Thermostat) CurrentTemperature() uint16 { return t.io.GetAnalog(t.currentTempJoin) }

// Mode returns the last known mode value.
func (t *Thermostat) Mode() uint16 { return t.io.GetAnalog(t.modeJoin) }

// HeatSetpoint returns the last known heat setpoint.
func (t *Thermostat) HeatSetpoint() uint16 { return t.io.GetAnalog(t.heatSetpointJoin) }

// CoolSetpoint returns the last known cool setpoint.
func (t *Thermostat) CoolSetpoint() uint16 { return t.io.GetAnalog(t.coolSetpointJoin) }

// SetMode sends a raw mode value.
func (t *Thermostat) SetMode(v uint16) error { return t.io.SetAnalog(t.modeJoin, v) }

// SetHeatSetpoint sends the heat setpoint.
func (t *Thermostat) SetHeatSetpoint(v uint16) error { return t.io.SetAnalog(t.heatSetpointJoin, v) }

// SetCoolSetpoint sends the cool setpoint.
func (t *Thermostat) SetCoolSetpoint(v uint16) error { return t.io.SetAnalog(t.coolSetpointJoin, v) }

// OnCurrentTemperatureChange calls fn with every temperature update.
func (t *Thermostat) OnCurrentTemperatureChange(fn func(v uint16)) (unregister func()) {
	return onAnalog(t.io, t.currentTempJoin, fn)
}

// OnModeChange calls fn with every mode update.
func (t *Thermostat) OnModeChange(fn func(v uint16)) (unregister func()) {
	return onAnalog(t.io, t.modeJoin, fn)
}

// OnHeatSetpointChange calls fn with every heat setpoint update.
func (t *Thermostat) OnHeatSetpointChange(fn func(v uint16)) (unregister func()) {
	return onAnalog(t.io, t.heatSetpointJoin, fn)
}

// OnCoolSetpointChange calls fn with every cool setpoint update.
func (t *Thermostat) OnCoolSetpointChange(fn func(v uint16)) (unregister func()) {
	return onAnalog(t.io, t.coolSetpointJoin, fn)
}
