// Package mqtt wraps paho.mqtt.golang for the vivarium controller.
//
// The controller publishes retained per-device status on every state
// transition and sensor readings as telemetry, and subscribes to
// per-device command topics for manual control. A Last Will and
// Testament on the system status topic lets watchers distinguish a
// crash from a graceful shutdown.
//
// Topic hierarchy:
//
//	vivarium/device/{device_id}/status   retained state (on/off + payload)
//	vivarium/device/{device_id}/command  manual on/off requests
//	vivarium/sensor/{sensor_id}/reading  telemetry, not retained
//	vivarium/system/status               online/offline, retained, LWT
//
// Subscriptions are tracked and restored automatically on reconnect.
// All methods are safe for concurrent use.
package mqtt
