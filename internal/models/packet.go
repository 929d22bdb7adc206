package models

import (
	"encoding/hex"
	"time"
)

// Packet is one decoded sniffer frame. Everything except ChecksumValid is
// fixed once the decoder returns it.
type Packet struct {
	Raw           []byte    `json:"-"`
	Kind          Kind      `json:"kind"`
	Src           string    `json:"src"`
	Dst           string    `json:"dst"`
	SrcMAC        string    `json:"srcMac"`
	DstMAC        string    `json:"dstMac"`
	SeqNo         int       `json:"seqNo"`
	DstPAN        string    `json:"dstPan"`
	HopLimit      int       `json:"hopLimit"`
	Multicast     bool      `json:"multicast"`
	Checksum      string    `json:"checksum"`
	ChecksumValid bool      `json:"checksumValid"`
	CoapURL       string    `json:"coapUrl,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// NewPacket returns a packet over raw with every optional field set to its
// "absent" sentinel.
func NewPacket(raw []byte) *Packet {
	return &Packet{
		Raw:           raw,
		Kind:          UnknownKind(),
		SeqNo:         -1,
		HopLimit:      -1,
		ChecksumValid: true,
		CreatedAt:     time.Now(),
	}
}

// Length is the size of the raw frame including delimiters.
func (p *Packet) Length() int {
	return len(p.Raw)
}

// Hex renders the frame without its delimiters.
func (p *Packet) Hex() string {
	if len(p.Raw) < 2 {
		return ""
	}
	return hex.EncodeToString(p.Raw[1 : len(p.Raw)-1])
}

// ChecksumText is the checksum with its verdict, or "" when not applicable.
func (p *Packet) ChecksumText() string {
	if p.Checksum == "" {
		return ""
	}
	if p.ChecksumValid {
		return "0x" + p.Checksum + " (correct)"
	}
	return "0x" + p.Checksum + " (INVALID)"
}

// Info is the one-line description shown in the packet table.
func (p *Packet) Info() string {
	if p.Kind.Protocol() == ProtocolCoAP {
		switch p.Kind.Subtype() {
		case SubtypeCoapGet:
			return "Constrained Application Protocol (GET)"
		case SubtypeCoapContent:
			return "Constrained Application Protocol (CONTENT)"
		default:
			return "Constrained Application Protocol"
		}
	}
	switch p.Kind.Subtype() {
	case SubtypeDodagInfo:
		return "RPL Control (DODAG Info Object)"
	case SubtypeDodagSolicit:
		return "RPL Control (DODAG Info Solicitation)"
	case SubtypeDestAdvert:
		return "RPL Control (Destination Advertisement)"
	case SubtypeAck:
		return "ACK"
	}
	if p.Kind.Protocol() == ProtocolICMPv6 {
		return "ICMPv6"
	}
	return "Reserved"
}

// PacketInfo represents a parsed packet with all display data.
type PacketInfo struct {
	Number    int           `json:"number"`
	Timestamp string        `json:"timestamp"`
	SrcAddr   string        `json:"srcAddr"`
	DstAddr   string        `json:"dstAddr"`
	Protocol  string        `json:"protocol"`
	Length    int           `json:"length"`
	Info      string        `json:"info"`
	Checksum  string        `json:"checksum,omitempty"`
	Packet    *Packet       `json:"packet"`
	Layers    []LayerDetail `json:"layers,omitempty"`
	HexDump   string        `json:"hexDump,omitempty"`
	RawHex    string        `json:"rawHex"`
}

// LayerDetail represents one protocol layer in the packet.
type LayerDetail struct {
	Name   string       `json:"name"`
	Fields []LayerField `json:"fields"`
}

// LayerField represents a single field within a protocol layer.
type LayerField struct {
	Name     string       `json:"name"`
	Value    string       `json:"value"`
	Children []LayerField `json:"children,omitempty"`
}
