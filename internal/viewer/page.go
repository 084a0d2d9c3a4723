package viewer

import "net/http"

// Handler serves the viewer page at / and the event socket at /ws.
func Handler(hub *Hub) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.ServeWS)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(page))
	})
	return mux
}

const page = `<!doctype html>
<html>
<head>
<meta charset="utf-8">
<title>Call Viewer</title>
<style>
body { font-family: sans-serif; margin: 2em; }
.partial { color: #888; }
.final { color: #000; }
.turn { color: #064; }
.call { color: #246; font-weight: bold; }
</style>
</head>
<body>
<h1>Live calls</h1>
<div id="log"></div>
<script>
const log = document.getElementById("log");
const ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/ws");
ws.onmessage = (m) => {
  const ev = JSON.parse(m.data);
  const p = ev.payload || {};
  const row = document.createElement("div");
  let text = "";
  if (ev.eventType.startsWith("call.transcript")) {
    row.className = ev.eventType.endsWith("final") ? "final" : "partial";
    text = "caller: " + p.text;
  } else if (ev.eventType === "call.turn") {
    row.className = "turn";
    text = "[" + p.intent + "] assistant: " + p.response + (p.escalated ? " (escalated)" : "");
  } else {
    row.className = "call";
    text = ev.eventType + " " + (p.state || "");
  }
  row.textContent = ev.callId + "  " + text;
  log.prepend(row);
};
</script>
</body>
</html>
`
