package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/boiler-telemetry/internal/engine"
	"github.com/sweeney/boiler-telemetry/internal/telemetry"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	Ready         bool         `json:"ready"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Groups        []GroupJSON  `json:"groups"`
	OnOff         []OnOffJSON  `json:"onoff"`
	Gas           GasJSON      `json:"gas"`
	DroppedRows   int          `json:"dropped_rows"`
	LastError     *ErrorJSON   `json:"last_error,omitempty"`
	Network       *NetworkJSON `json:"network,omitempty"`
	Config        ConfigJSON   `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// GroupJSON is one analog group. Invalid values are null.
type GroupJSON struct {
	Name     string        `json:"name"`
	Due      bool          `json:"due"`
	LastSend string        `json:"last_send,omitempty"`
	Channels []ChannelJSON `json:"channels"`
}

// ChannelJSON is one analog channel.
type ChannelJSON struct {
	Name       string   `json:"name"`
	Current    *float64 `json:"current"`
	Average    *float64 `json:"average"`
	LastUpdate string   `json:"last_update,omitempty"`
}

// OnOffJSON is one binary channel.
type OnOffJSON struct {
	Name           string `json:"name"`
	State          string `json:"state"`
	OnTodaySeconds int64  `json:"on_today_seconds"`
	LastSwitch     string `json:"last_switch,omitempty"`
	Pending        int    `json:"pending"`
}

// GasJSON reports the gas day accounting.
type GasJSON struct {
	DayConsumption *float64 `json:"day_consumption"`
	DayBase        *float64 `json:"day_base"`
	Uploads        int      `json:"uploads"`
}

// ErrorJSON is the most recent error.
type ErrorJSON struct {
	Message string `json:"message"`
	At      string `json:"at"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	PollMs      int64  `json:"poll_ms"`
	DebounceMs  int64  `json:"debounce_ms"`
	HeartbeatMs int64  `json:"heartbeat_ms"`
	Broker      string `json:"broker"`
	TopicPrefix string `json:"topic_prefix"`
	HTTPAddr    string `json:"http_addr"`
	WSBroker    string `json:"ws_broker,omitempty"`
	AMQPMirror  bool   `json:"amqp_mirror"`
	Timezone    string `json:"timezone"`
}

func optional(v telemetry.Value) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.V
	return &f
}

func timestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// StateString renders a binary state for display.
func StateString(on, baselined bool) string {
	switch {
	case !baselined:
		return "UNKNOWN"
	case on:
		return "ON"
	default:
		return "OFF"
	}
}

func buildGroups(groups []engine.GroupView) []GroupJSON {
	out := make([]GroupJSON, len(groups))
	for i, g := range groups {
		gj := GroupJSON{
			Name:     g.Name,
			Due:      g.Due,
			LastSend: timestamp(g.LastSend),
			Channels: make([]ChannelJSON, len(g.Channels)),
		}
		for j, c := range g.Channels {
			gj.Channels[j] = ChannelJSON{
				Name:       c.Name,
				Current:    optional(c.Current),
				Average:    optional(c.Average),
				LastUpdate: timestamp(c.LastUpdate),
			}
		}
		out[i] = gj
	}
	return out
}

func buildOnOff(channels []engine.OnOffView) []OnOffJSON {
	out := make([]OnOffJSON, len(channels))
	for i, c := range channels {
		out[i] = OnOffJSON{
			Name:           c.Name,
			State:          StateString(c.On, c.Baselined),
			OnTodaySeconds: int64(c.OnToday / time.Second),
			LastSwitch:     timestamp(c.LastSwitch),
			Pending:        c.Pending,
		}
	}
	return out
}

func buildInner(snap Snapshot) StatusInner {
	tel := snap.Telemetry
	inner := StatusInner{
		Ready:         tel.Ready,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Groups:        buildGroups(tel.Groups),
		OnOff:         buildOnOff(tel.OnOff),
		Gas: GasJSON{
			DayConsumption: optional(tel.DayConsumption),
			DayBase:        optional(tel.DayBase),
			Uploads:        tel.GasUploads,
		},
		DroppedRows: tel.DroppedRows,
		Config: ConfigJSON{
			PollMs:      snap.Config.PollMs,
			DebounceMs:  snap.Config.DebounceMs,
			HeartbeatMs: snap.Config.HeartbeatMs,
			Broker:      snap.Config.Broker,
			TopicPrefix: snap.Config.TopicPrefix,
			HTTPAddr:    snap.Config.HTTPAddr,
			WSBroker:    snap.Config.WSBroker,
			AMQPMirror:  snap.Config.AMQPMirror,
			Timezone:    snap.Config.Timezone,
		},
	}
	if snap.LastError != "" {
		inner.LastError = &ErrorJSON{Message: snap.LastError, At: timestamp(snap.LastErrorAt)}
	}
	return inner
}

func buildNetwork(snap Snapshot, inner *StatusInner) {
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	buildNetwork(snap, &inner)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	buildNetwork(snap, &inner)

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
