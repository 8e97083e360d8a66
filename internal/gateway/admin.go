package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strings"
	"time"

	"tailscale.com/tsweb"
)

var sendCommandTemplate = template.Must(template.New("send-command").Parse(`<!doctype html>
<html>
<head><title>gateway command</title></head>
<body>
<form method="post" action="send-command-api">
  <label>type <input name="type" value="subscribe_changes"></label>
  <label>data <input name="data" size="60" placeholder='{"serial":"..."}'></label>
  <button type="submit">send</button>
</form>
<pre id="tail"></pre>
<script>
const tail = document.getElementById("tail");
const es = new EventSource("tail");
es.onmessage = (e) => { tail.textContent = e.data + "\n" + tail.textContent; };
</script>
</body>
</html>
`))

// AttachAdminRoutes attaches gateway debugging endpoints to mux under
// /debug/. They are reachable only from localhost or over Tailscale.
func (m *Mux) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("send-command", "send a command to the gateway", func(w http.ResponseWriter, r *http.Request) {
		buf := bytes.NewBuffer(nil)
		if err := sendCommandTemplate.Execute(buf, nil); err != nil {
			http.Error(w, "Failed to render template", http.StatusInternalServerError)
			return
		}
		io.Copy(w, buf)
	})

	// API endpoint to send one command and show the gateway's response
	debug.HandleSilentFunc("send-command-api", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		kind := strings.TrimSpace(r.FormValue("type"))
		if kind == "" {
			http.Error(w, "Missing command type", http.StatusBadRequest)
			return
		}
		var payload interface{}
		if data := strings.TrimSpace(r.FormValue("data")); data != "" {
			if !json.Valid([]byte(data)) {
				http.Error(w, "Command data is not valid JSON", http.StatusBadRequest)
				return
			}
			payload = json.RawMessage(data)
		}

		ctx, cancel := context.WithTimeout(r.Context(), m.timeout+time.Second)
		defer cancel()
		resp, err := m.SendCommand(ctx, kind, payload)
		if err != nil {
			http.Error(w, fmt.Sprintf("Command %q failed: %v", kind, err), http.StatusBadGateway)
			return
		}
		io.WriteString(w, fmt.Sprintf("Sent command %q, response: %s", kind, string(resp)))
	})

	// Server-Sent Events stream of every notification dispatched on the bus.
	debug.HandleSilentFunc("tail", func(w http.ResponseWriter, r *http.Request) {
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
		w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

		id, c := m.bus.Subscribe()
		defer m.bus.Unsubscribe(id)

		w.Write([]byte(": ping\n\n"))
		flusher.Flush()

		for {
			select {
			case ev, ok := <-c:
				if !ok {
					return
				}
				line, err := json.Marshal(Envelope{Type: string(ev.Kind), Data: ev.Payload})
				if err != nil {
					continue
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", line); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}
