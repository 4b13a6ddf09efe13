package mqtt

import "fmt"

// Topic prefixes for the vivarium controller.
const (
	// TopicPrefix is the base for all controller topics.
	TopicPrefix = "vivarium"

	// TopicPrefixDevice is the base for per-device topics.
	TopicPrefixDevice = "vivarium/device"

	// TopicPrefixSensor is the base for telemetry topics.
	TopicPrefixSensor = "vivarium/sensor"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "vivarium/system"
)

// Topics provides builders for controller MQTT topics.
// Using these helpers keeps topic naming consistent across the codebase.
type Topics struct{}

// DeviceStatus returns the retained state topic for a device.
//
// Example: vivarium/device/mister/status
func (Topics) DeviceStatus(deviceID string) string {
	return fmt.Sprintf("%s/%s/status", TopicPrefixDevice, deviceID)
}

// DeviceCommand returns the manual control topic for a device.
//
// Example: vivarium/device/mister/command
func (Topics) DeviceCommand(deviceID string) string {
	return fmt.Sprintf("%s/%s/command", TopicPrefixDevice, deviceID)
}

// SensorReading returns the telemetry topic for a sensor.
//
// Example: vivarium/sensor/terrarium_dht22/reading
func (Topics) SensorReading(sensorID string) string {
	return fmt.Sprintf("%s/%s/reading", TopicPrefixSensor, sensorID)
}

// SystemStatus returns the controller online/offline topic.
//
// Example: vivarium/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllDeviceCommands returns a pattern matching every device command topic.
//
// Pattern: vivarium/device/+/command
func (Topics) AllDeviceCommands() string {
	return fmt.Sprintf("%s/+/command", TopicPrefixDevice)
}

// AllDeviceStatuses returns a pattern matching every device status topic.
//
// Pattern: vivarium/device/+/status
func (Topics) AllDeviceStatuses() string {
	return fmt.Sprintf("%s/+/status", TopicPrefixDevice)
}

// DeviceIDFromCommandTopic extracts the device id from a command topic.
//
// Returns:
//   - string: The device id segment
//   - bool: false when the topic is not a device command topic
func DeviceIDFromCommandTopic(topic string) (string, bool) {
	prefix := TopicPrefixDevice + "/"
	suffix := "/command"
	if len(topic) <= len(prefix)+len(suffix) {
		return "", false
	}
	if topic[:len(prefix)] != prefix || topic[len(topic)-len(suffix):] != suffix {
		return "", false
	}
	id := topic[len(prefix) : len(topic)-len(suffix)]
	if id == "" || containsSlash(id) {
		return "", false
	}
	return id, true
}

func containsSlash(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == '/' {
			return true
		}
	}
	return false
}
