// Package server exposes HTTP handlers, including WebSocket admission, the
// registry status endpoint, and the built-in test page.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"
)

// StatusResponse reports live registry state.
type StatusResponse struct {
	Connections int         `json:"connections"`
	Rooms       []RoomStats `json:"rooms"`
}

// StatusHandler reports the rooms currently tracked by the registry and
// their connection counts.
func (s *Server) StatusHandler(w http.ResponseWriter, _ *http.Request) {
	rooms := s.registry.Rooms()
	total := 0
	for _, rm := range rooms {
		total += rm.Connections
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(StatusResponse{Connections: total, Rooms: rooms}); err != nil {
		log.Debug().Err(err).Msg("error writing status response")
	}
}

// TestPageHandler serves an HTML page for trying a room from the browser.
// It connects to /ws/{room} with the token pasted into the form and shows
// the envelopes received from other members.
func TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	html := `<!DOCTYPE html>
<html>
<head>
    <title>roomchat test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #messages {
            border: 1px solid #ccc;
            height: 300px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
        }
        input[type="text"] { width: 300px; padding: 5px; margin-right: 10px; }
        input.short { width: 80px; }
        button {
            padding: 5px 15px;
            background-color: #007cba;
            color: white;
            border: none;
            cursor: pointer;
        }
        button:hover { background-color: #005a87; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
    </style>
</head>
<body>
    <h1>roomchat test</h1>

    <div id="status" class="status disconnected">Disconnected</div>

    <div>
        <input type="text" id="roomInput" class="short" placeholder="room" value="1">
        <input type="text" id="tokenInput" placeholder="access token">
        <button id="connectButton" onclick="toggleConnection()">Connect</button>
    </div>
    <div>
        <input type="text" id="messageInput" placeholder="Type a message..." disabled>
        <button id="sendButton" onclick="sendMessage()" disabled>Send</button>
    </div>

    <div id="messages"></div>

    <script>
        let ws = null;
        const messagesDiv = document.getElementById('messages');
        const messageInput = document.getElementById('messageInput');
        const sendButton = document.getElementById('sendButton');
        const connectButton = document.getElementById('connectButton');
        const statusDiv = document.getElementById('status');

        function addLine(label, text, color) {
            const line = document.createElement('div');
            line.style.margin = '5px 0';
            line.style.color = color;
            if (label) {
                const strong = document.createElement('strong');
                strong.textContent = label + ': ';
                line.appendChild(strong);
            }
            line.appendChild(document.createTextNode(text));
            messagesDiv.appendChild(line);
            messagesDiv.scrollTop = messagesDiv.scrollHeight;
        }

        function updateStatus(connected) {
            statusDiv.textContent = connected ? 'Connected' : 'Disconnected';
            statusDiv.className = 'status ' + (connected ? 'connected' : 'disconnected');
            messageInput.disabled = !connected;
            sendButton.disabled = !connected;
            connectButton.textContent = connected ? 'Disconnect' : 'Connect';
        }

        function connect() {
            const room = encodeURIComponent(document.getElementById('roomInput').value);
            const token = encodeURIComponent(document.getElementById('tokenInput').value);
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws/' + room + '?token=' + token);

            ws.onopen = function() {
                addLine('', 'Connected to room ' + decodeURIComponent(room), 'gray');
                updateStatus(true);
            };

            ws.onmessage = function(event) {
                const env = JSON.parse(event.data);
                addLine(env.user, env.msg, 'green');
            };

            ws.onclose = function() {
                addLine('', 'Connection closed', 'gray');
                updateStatus(false);
                ws = null;
            };
        }

        function toggleConnection() {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.close();
            } else {
                connect();
            }
        }

        function sendMessage() {
            const message = messageInput.value.trim();
            if (message && ws && ws.readyState === WebSocket.OPEN) {
                ws.send(message);
                addLine('You', message, 'blue');
                messageInput.value = '';
            }
        }

        messageInput.addEventListener('keypress', function(e) {
            if (e.key === 'Enter') {
                sendMessage();
            }
        });
    </script>
</body>
</html>`
	if _, err := fmt.Fprint(w, html); err != nil {
		log.Debug().Err(err).Msg("error writing HTML response")
	}
}
