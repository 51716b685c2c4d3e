package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/boiler-telemetry/internal/status"
	"github.com/sweeney/boiler-telemetry/internal/telemetry"
)

func formatDuration(d time.Duration) string {
	d = d.Truncate(time.Second)
	days := int(d.Hours()) / 24
	h := int(d.Hours()) % 24
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
	}
	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

func formatValue(v telemetry.Value) string {
	if !v.Valid {
		return "–"
	}
	return fmt.Sprintf("%.1f", v.V)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": formatDuration,
	"value":  formatValue,
	"when":   formatTime,
	"state":  status.StateString,
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Boiler Telemetry</title>
<style>
body { font-family: monospace; max-width: 700px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 30%; }
.ON { color: green; font-weight: bold; }
.OFF { color: #888; }
.UNKNOWN { color: orange; }
.connected { color: green; }
.disconnected { color: red; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
.live-dot.pending { background: orange; }
</style>
</head>
<body>
<h1>Boiler Telemetry{{if .Config.WSBroker}}<span id="live-dot" class="live-dot pending" title="connecting"></span>{{end}}</h1>

<h2>Burner &amp; Pumps</h2>
<table>
<tr><th>Channel</th><th>State</th><th>On today</th><th>Queued</th></tr>
{{range .Telemetry.OnOff}}{{$s := state .On .Baselined}}<tr><td>{{.Name}}</td><td id="state-{{.Name}}" class="{{$s}}">{{$s}}</td><td>{{uptime .OnToday}}</td><td>{{.Pending}}</td></tr>
{{end}}<tr><th>Ready</th><td colspan="3">{{if .Telemetry.Ready}}yes{{else}}no{{end}}</td></tr>
</table>

{{range .Telemetry.Groups}}<h2>{{.Name}}</h2>
<table>
<tr><th>Channel</th><th>Current</th><th>Average</th><th>Updated</th></tr>
{{range .Channels}}<tr><td>{{.Name}}</td><td>{{value .Current}}</td><td>{{value .Average}}</td><td>{{when .LastUpdate}}</td></tr>
{{end}}<tr><th>Last upload</th><td colspan="3">{{when .LastSend}}{{if .Due}} (due){{end}}</td></tr>
</table>
{{end}}
<h2>Gas Day</h2>
<table>
<tr><th>Consumption</th><td>{{value .Telemetry.DayConsumption}}</td></tr>
<tr><th>Day base</th><td>{{value .Telemetry.DayBase}}</td></tr>
<tr><th>Uploads</th><td>{{.Telemetry.GasUploads}}</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
<tr><th>AMQP mirror</th><td>{{if .Config.AMQPMirror}}enabled{{else}}disabled{{end}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}} {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
{{if .LastError}}<tr><th>Last error</th><td>{{.LastError}} at {{when .LastErrorAt}}</td></tr>{{end}}
<tr><th>Dropped rows</th><td>{{.Telemetry.DroppedRows}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{when .StartTime}}</td></tr>
<tr><th>Time zone</th><td>{{.Config.Timezone}}</td></tr>
<tr><th>Poll</th><td>{{.Config.PollMs}}ms</td></tr>
<tr><th>Debounce</th><td>{{.Config.DebounceMs}}ms</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> · <a href="/metrics">metrics</a></p>
{{if .Config.WSBroker}}
<script src="https://unpkg.com/mqtt@5/dist/mqtt.min.js"></script>
<script>
(function() {
  var broker = "{{.Config.WSBroker}}";
  var topic = "{{.Config.TopicPrefix}}/onoff/#";
  var dot = document.getElementById("live-dot");

  function setDot(cls, title) {
    dot.className = "live-dot " + cls;
    dot.title = title;
  }

  var client = mqtt.connect(broker, { reconnectPeriod: 5000 });

  client.on("connect", function() {
    setDot("ok", "live");
    client.subscribe(topic);
  });

  client.on("reconnect", function() {
    setDot("pending", "reconnecting");
  });

  client.on("offline", function() {
    setDot("err", "offline");
  });

  client.on("error", function() {
    setDot("err", "error");
  });

  client.on("message", function(t, payload) {
    try {
      var row = JSON.parse(payload.toString());
      var el = document.getElementById("state-" + row.Channel);
      if (el) {
        var s = row.ActStatus === "On" ? "ON" : "OFF";
        el.textContent = s;
        el.className = s;
      }
    } catch (e) {}
  });
})();
</script>
{{end}}
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	indexTmpl.Execute(w, data)
}
