// Package device maps common home-automation devices onto XSIG joins.
//
// Every device works against an xsig.JoinIO, so it runs on top of the xsigserver engine or on a
// test double:
//   - Switch: a digital join, on/off with feedback.
//   - BinarySensor: a read-only digital join.
//   - Light: an analog brightness join, scaled to 0-255.
//   - Shade: an analog position join with a digital closed feedback and a stop pulse.
//   - Button: a momentary digital press.
//   - Thermostat: four analog joins for temperature, mode and the heat and cool setpoints.
//
// Pulse drives a digital join high, waits, then drives it low again.
package device
