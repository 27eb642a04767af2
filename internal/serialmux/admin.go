package serialmux

import (
	"fmt"
	"html/template"
	"net/http"
	"strings"

	"tailscale.com/tsweb"
)

var sendCommandTemplate = template.Must(template.New("send-command").Parse(`<!doctype html>
<html>
<head><title>actuator</title></head>
<body>
<h1>actuator</h1>
<p>connected: {{.Connected}}</p>
<form method="post" action="/debug/send-command-api">
  <input name="command" placeholder="START" autofocus>
  <button type="submit">send</button>
</form>
<pre id="tail"></pre>
<script>
const tail = document.getElementById("tail");
const es = new EventSource("/debug/tail");
es.onmessage = (e) => { tail.textContent = e.data + "\n" + tail.textContent; };
</script>
</body>
</html>
`))

// AttachAdminRoutes attaches the actuator console to mux under /debug/.
// These routes are meant for localhost or the tailnet only.
func (l *Link) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("send-command", "send a command to the actuator", l.handleSendCommandPage)
	debug.HandleSilentFunc("send-command-api", l.handleSendCommandAPI)
	debug.HandleSilentFunc("tail", l.handleTail)
}

func (l *Link) handleSendCommandPage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := sendCommandTemplate.Execute(w, struct{ Connected bool }{l.IsConnected()}); err != nil {
		http.Error(w, "Failed to render template", http.StatusInternalServerError)
	}
}

func (l *Link) handleSendCommandAPI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	command := strings.TrimSpace(r.FormValue("command"))
	if command == "" {
		http.Error(w, "Missing command", http.StatusBadRequest)
		return
	}
	if err := l.SendCommand(command); err != nil {
		http.Error(w, fmt.Sprintf("Failed to write command: %v", err), http.StatusServiceUnavailable)
		return
	}
	fmt.Fprintf(w, "Wrote command %q to actuator", command)
}

// handleTail streams one server-sent event per line read from the actuator.
func (l *Link) handleTail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	m := l.Mux()
	id, c := m.Subscribe()
	defer m.Unsubscribe(id)

	w.Write([]byte(": ping\n\n"))
	flusher.Flush()

	for {
		select {
		case payload, ok := <-c:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
