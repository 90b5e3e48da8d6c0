package klhdv

import "fmt"

// fallbackNames is the documented Dynojet RT module channel-id fallback map,
// consulted when a provider's ChannelInfo table doesn't cover an id.
var fallbackNames = map[uint16]string{
	3:  "Torque",
	4:  "Horsepower",
	7:  "Speed",
	8:  "Distance",
	9:  "Acceleration",
	10: "Digital RPM 1",
	11: "Digital RPM 2",
	12: "Force Drum 1",
	19: "Force Drum 2",
	38: "Pressure",
}

// ProviderInfo is the client-side record of a discovered or subscribed-to
// provider: its advertised name and channel table.
type ProviderInfo struct {
	ID       uint16
	Name     string
	Host     string
	Port     int
	Channels map[uint16]ChannelInfo
}

// ResolveChannelName implements the documented three-tier resolution order:
// the provider's own ChannelInfo table, the fixed fallback map, then a
// synthesized chan_<id> name. Never returns an empty string.
func ResolveChannelName(p *ProviderInfo, channelID uint16) string {
	if p != nil {
		if ch, ok := p.Channels[channelID]; ok && ch.Name != "" {
			return ch.Name
		}
	}
	if name, ok := fallbackNames[channelID]; ok {
		return name
	}
	return fmt.Sprintf("chan_%d", channelID)
}

// NewProviderInfo builds a ProviderInfo from a decoded ChannelInfo payload.
func NewProviderInfo(id uint16, host string, port int, payload ChannelInfoPayload) *ProviderInfo {
	table := make(map[uint16]ChannelInfo, len(payload.Channels))
	for _, c := range payload.Channels {
		table[c.ID] = c
	}
	return &ProviderInfo{ID: id, Name: payload.ProviderName, Host: host, Port: port, Channels: table}
}
