// Package server exposes HTTP handlers, including WebSocket upgrades, health
// checks, the status surface, and the built-in test page.
package server

import (
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// webSocketHandler upgrades requests on /ws and hands the connection to the hub.
type webSocketHandler struct {
	hub      *Hub
	upgrader websocket.Upgrader
}

func newWebSocketHandler(hub *Hub, policy *originPolicy) *webSocketHandler {
	return &webSocketHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     policy.checkOrigin,
		},
	}
}

// ServeHTTP validates that the request uses the GET method, upgrades the HTTP
// connection to WebSocket, and registers a new Client with the hub.
func (h *webSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.hub.log.Debug("WebSocket upgrade failed", zap.Error(err))
		return
	}

	client := NewClient(conn, h.hub, r.RemoteAddr)

	// The hub launches the pump goroutines.
	if !h.hub.Register(client) {
		_ = conn.Close()
	}
}

// HealthHandler provides a simple health check endpoint that returns server status.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Chat relay is running!")
}

// StatusHandler reports live counts as JSON.
func StatusHandler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(hub.Stats()); err != nil {
			hub.log.Warn("error writing status response", zap.Error(err))
		}
	}
}

var statusPage = template.Must(template.New("status").Parse(`<html>
<head>
    <title>Chat Server Status</title>
    <style>
        body { font-family: Arial, sans-serif; max-width: 800px; margin: 50px auto; padding: 20px; background: #f5f5f5; }
        .status { background: white; padding: 20px; border-radius: 10px; box-shadow: 0 2px 10px rgba(0,0,0,0.1); }
        .success { color: #27ae60; font-weight: bold; }
        h1 { color: #2c3e50; }
    </style>
</head>
<body>
    <div class="status">
        <h1>Chat server online</h1>
        <p class="success">The WebSocket relay is accepting connections</p>
        <p>Connected users: <strong>{{.Users}}</strong></p>
        <p>Active conversations: <strong>{{.Conversations}}</strong></p>
        <p>Open connections: <strong>{{.Connections}}</strong></p>
        <p>Node: <code>{{.NodeID}}</code></p>
    </div>
</body>
</html>
`))

// StatusPageHandler renders the human-readable status page.
func StatusPageHandler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if err := statusPage.Execute(w, hub.Stats()); err != nil {
			hub.log.Warn("error writing status page", zap.Error(err))
		}
	}
}

// TestPageHandler serves an HTML page for trying the relay from a browser:
// bind a user, join a conversation, and send messages to it.
func TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	html := `<!DOCTYPE html>
<html>
<head>
    <title>Chat Relay Test</title>
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
        input[type="text"] {
            width: 200px;
            padding: 5px;
            margin-right: 10px;
        }
        button {
            padding: 5px 15px;
            background-color: #007cba;
            color: white;
            border: none;
            cursor: pointer;
        }
        button:hover { background-color: #005a87; }
        .status {
            margin: 10px 0;
            padding: 5px;
            border-radius: 3px;
        }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
    </style>
</head>
<body>
    <h1>Chat Relay Test</h1>

    <div id="status" class="status disconnected">Disconnected</div>

    <div>
        <input type="text" id="userInput" placeholder="User id">
        <input type="text" id="conversationInput" placeholder="Conversation id">
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
        const userInput = document.getElementById('userInput');
        const conversationInput = document.getElementById('conversationInput');
        const messageInput = document.getElementById('messageInput');
        const sendButton = document.getElementById('sendButton');
        const connectButton = document.getElementById('connectButton');
        const statusDiv = document.getElementById('status');

        function addMessage(text, color) {
            const el = document.createElement('div');
            el.style.margin = '5px 0';
            el.style.color = color || 'gray';
            el.textContent = text;
            messagesDiv.appendChild(el);
            messagesDiv.scrollTop = messagesDiv.scrollHeight;
        }

        function emit(event, data) {
            ws.send(JSON.stringify({event: event, data: data}));
        }

        function updateStatus(connected) {
            statusDiv.textContent = connected ? 'Connected' : 'Disconnected';
            statusDiv.className = connected ? 'status connected' : 'status disconnected';
            messageInput.disabled = !connected;
            sendButton.disabled = !connected;
            connectButton.textContent = connected ? 'Disconnect' : 'Connect';
        }

        function connect() {
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws');

            ws.onopen = function() {
                addMessage('Connected to chat relay');
                updateStatus(true);
                if (userInput.value) {
                    emit('join_user_room', {user_id: userInput.value});
                }
                if (conversationInput.value) {
                    emit('join_conversation', {conversation_id: conversationInput.value, user_id: userInput.value});
                }
            };

            ws.onmessage = function(event) {
                const frame = JSON.parse(event.data);
                const msg = frame.data || {};
                addMessage('[' + msg.sender_type + ' ' + msg.sender_id + '] ' + msg.message, 'green');
            };

            ws.onclose = function() {
                addMessage('Connection closed');
                updateStatus(false);
                ws = null;
            };

            ws.onerror = function() {
                addMessage('Connection error');
                updateStatus(false);
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
            const text = messageInput.value.trim();
            if (text && ws && ws.readyState === WebSocket.OPEN) {
                emit('send_message', {
                    conversation_id: conversationInput.value,
                    message: {sender_id: userInput.value, message: text}
                });
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
	_, _ = fmt.Fprint(w, html)
}
