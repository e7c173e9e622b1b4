package anpr

import "strings"

// Alarm is the subset of a camera alarm callback the service acts on.
type Alarm struct {
	IPAddress  string `json:"ip"`
	MACAddress string `json:"mac,omitempty"`
	ChannelID  string `json:"channel,omitempty"`
	DateTime   string `json:"datetime,omitempty"`
	EventType  string `json:"eventType"`
	EventState string `json:"eventState,omitempty"`
	TargetType string `json:"targetType,omitempty"`
}

// SourceKey identifies the physical camera that raised the alarm.
func (a Alarm) SourceKey() string {
	if a.MACAddress != "" {
		return strings.ToLower(a.MACAddress)
	}
	return a.IPAddress
}

// Actionable reports whether the alarm should lead to a snapshot capture.
func (a Alarm) Actionable() bool {
	if a.IPAddress == "" {
		return false
	}
	if a.EventState != "" && !strings.EqualFold(a.EventState, "active") {
		return false
	}
	if strings.EqualFold(a.TargetType, "vehicle") {
		return true
	}
	switch strings.ToLower(a.EventType) {
	case "anpr", "vehicledetection", "linedetection", "fielddetection":
		return true
	}
	return false
}
