package bridge

// SwitchConfig is the Home Assistant MQTT discovery payload of a switch.
type SwitchConfig struct {
	Name                string     `json:"name"`
	UniqueID            string     `json:"unique_id"`
	ObjectID            string     `json:"object_id"`
	Icon                string     `json:"icon,omitempty"`
	StateTopic          string     `json:"state_topic"`
	CommandTopic        string     `json:"command_topic"`
	JSONAttributesTopic string     `json:"json_attributes_topic,omitempty"`
	PayloadOn           string     `json:"payload_on"`
	PayloadOff          string     `json:"payload_off"`
	StateOn             string     `json:"state_on"`
	StateOff            string     `json:"state_off"`
	Optimistic          *bool      `json:"optimistic,omitempty"`
	QOS                 int        `json:"qos"`
	Retain              bool       `json:"retain"`
	Device              DeviceInfo `json:"device"`
	Origin              OriginInfo `json:"origin"`
}

type DeviceInfo struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
}

type OriginInfo struct {
	Name            string `json:"name"`
	SoftwareVersion string `json:"sw_version,omitempty"`
	SupportUrl      string `json:"support_url,omitempty"`
}
