// Package actuator provides the side-effecting backends driven by the
// device controller.
//
// Two implementations of Backend exist:
//
//   - Pin: a relay on a GPIO output line via the Linux GPIO character
//     device. The line is acquired as an output at construction and
//     released on Close (idempotent). Only built on Linux; other
//     platforms get a stub that fails at construction.
//   - Remote: a cloud humidifier session. Login and device discovery
//     happen once at construction; ApplyState maps to the turn-on and
//     turn-off endpoints and Refresh re-syncs the cached state.
//
// A scripted Fake backend is provided for tests.
//
// ApplyState reports nothing about prior state. Callers track that
// themselves through the device status log.
package actuator
