package models

import "encoding/json"

// WSMessage is the envelope for all WebSocket communication.
type WSMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Message types sent to clients.
const (
	MsgCaptureStarted = "capture_started"
	MsgCaptureStopped = "capture_stopped"
	MsgPacket         = "packet"
	MsgPackets        = "packets"
	MsgTopology       = "topology"
	MsgTopologyEvent  = "topology_event"
	MsgPacketDetail   = "packet_detail"
	MsgStats          = "stats"
	MsgError          = "error"
)

// TopologyEventType names a graph mutation.
type TopologyEventType string

const (
	EventAddVertex TopologyEventType = "add_vertex"
	EventAddEdge   TopologyEventType = "add_edge"
)

// TopologyEvent is emitted the first time a vertex or directed edge is seen.
type TopologyEvent struct {
	Type    TopologyEventType `json:"type"`
	Address string            `json:"address,omitempty"`
	Src     string            `json:"src,omitempty"`
	Dst     string            `json:"dst,omitempty"`
}

// Edge is a directed src -> dst pair in the topology.
type Edge struct {
	Src string `json:"src"`
	Dst string `json:"dst"`
}

// TopologySnapshot is the full graph, sent to clients that join late.
type TopologySnapshot struct {
	Vertices []string `json:"vertices"`
	Edges    []Edge   `json:"edges"`
}

// NodeInfo summarizes one node for display.
type NodeInfo struct {
	Address     string `json:"address"`
	Identifier  string `json:"identifier"`
	PacketCount int    `json:"packetCount"`
}

// CaptureStarted is the payload of a capture_started message.
type CaptureStarted struct {
	SessionID string `json:"sessionId"`
	Source    string `json:"source"`
}

// CaptureStats reports pipeline statistics.
type CaptureStats struct {
	FrameCount      int `json:"frameCount"`
	PacketCount     int `json:"packetCount"`
	DecodeErrors    int `json:"decodeErrors"`
	InvalidChecksum int `json:"invalidChecksum"`
	DiscardedTails  int `json:"discardedTails"`
	NodeCount       int `json:"nodeCount"`
	EdgeCount       int `json:"edgeCount"`
}

// PacketDetailRequest asks for the decoded layers of one packet.
type PacketDetailRequest struct {
	Number int `json:"number"`
}

// ErrorPayload describes an error sent to the client.
type ErrorPayload struct {
	Message string `json:"message"`
}
