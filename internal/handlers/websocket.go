package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"lowpansniff/internal/engine"
	"lowpansniff/internal/log"
	"lowpansniff/internal/models"
)

const (
	writeWait  = 5 * time.Second
	sendBuffer = 512 // drops packets when full
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WSClient wraps a WebSocket connection and implements engine.Client.
type WSClient struct {
	conn   *websocket.Conn
	eng    *engine.Engine
	sendCh chan models.WSMessage
	done   chan struct{}
}

// NewWSClient creates a WSClient, registers it with the engine and sends
// the current session, topology and stats so a late joiner can catch up.
func NewWSClient(conn *websocket.Conn, eng *engine.Engine) *WSClient {
	c := &WSClient{
		conn:   conn,
		eng:    eng,
		sendCh: make(chan models.WSMessage, sendBuffer),
		done:   make(chan struct{}),
	}
	if session, running := eng.Session(); running {
		c.send(models.MsgCaptureStarted, session)
	}
	c.send(models.MsgTopology, eng.Topology())
	c.send(models.MsgStats, eng.Stats())
	eng.RegisterClient(c)
	go c.writeLoop()
	return c
}

// SendMessage queues a message for async delivery. Non-blocking: drops if buffer full.
func (c *WSClient) SendMessage(msg models.WSMessage) error {
	select {
	case c.sendCh <- msg:
		return nil
	default:
		// Buffer full: drop the packet so the capture goroutine never blocks.
		// Control messages get a priority retry.
		if msg.Type != models.MsgPacket {
			// Force-send control messages by draining one old packet
			select {
			case <-c.sendCh:
				c.sendCh <- msg
			default:
				// Drained between checks
				select {
				case c.sendCh <- msg:
				default:
				}
			}
		}
		return nil
	}
}

// writeLoop drains the send channel and writes to the WebSocket.
func (c *WSClient) writeLoop() {
	defer c.conn.Close()
	for {
		select {
		case msg, ok := <-c.sendCh:
			if !ok {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}

			// Drain and batch-send any queued messages in a single write burst
			n := len(c.sendCh)
			for i := 0; i < n; i++ {
				msg = <-c.sendCh
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := c.conn.WriteJSON(msg); err != nil {
					return
				}
			}
		case <-c.done:
			return
		}
	}
}

// ReadLoop reads messages from the client and dispatches commands.
func (c *WSClient) ReadLoop() {
	defer func() {
		c.eng.UnregisterClient(c)
		close(c.done)
		close(c.sendCh)
	}()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg models.WSMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.sendError("invalid message format")
			continue
		}
		c.handleCommand(msg)
	}
}

// Commands a client may send.
const (
	cmdGetPackets      = "get_packets"
	cmdGetTopology     = "get_topology"
	cmdGetPacketDetail = "get_packet_detail"
	cmdGetStats        = "get_stats"
	cmdReset           = "reset"
)

func (c *WSClient) handleCommand(msg models.WSMessage) {
	switch msg.Type {
	case cmdGetPackets:
		c.send(models.MsgPackets, c.eng.Packets())

	case cmdGetTopology:
		c.send(models.MsgTopology, c.eng.Topology())

	case cmdGetPacketDetail:
		var req models.PacketDetailRequest
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			c.sendError("invalid get_packet_detail payload")
			return
		}
		info, ok := c.eng.PacketDetail(req.Number)
		if !ok {
			c.sendError("packet not retained: " + strconv.Itoa(req.Number))
			return
		}
		c.send(models.MsgPacketDetail, info)

	case cmdGetStats:
		c.send(models.MsgStats, c.eng.Stats())

	case cmdReset:
		c.eng.Reset()
		c.send(models.MsgTopology, c.eng.Topology())

	default:
		c.sendError("unknown command: " + msg.Type)
	}
}

func (c *WSClient) send(typ string, v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		log.GetLogger().WithError(err).Errorf("encode %s message", typ)
		return
	}
	c.SendMessage(models.WSMessage{Type: typ, Payload: payload})
}

func (c *WSClient) sendError(message string) {
	c.send(models.MsgError, models.ErrorPayload{Message: message})
}

// HandleWebSocket is the HTTP handler for WebSocket upgrades.
func HandleWebSocket(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.GetLogger().WithError(err).Warn("WebSocket upgrade failed")
			return
		}
		client := NewWSClient(conn, eng)
		client.ReadLoop()
	}
}
