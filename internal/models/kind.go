package models

import "encoding/json"

// Protocol is the outermost protocol a decoded packet was classified as.
type Protocol int

const (
	ProtocolUnknown Protocol = iota
	ProtocolICMPv6
	ProtocolCoAP
	ProtocolIEEE802154
)

func (p Protocol) String() string {
	switch p {
	case ProtocolICMPv6:
		return "ICMPv6"
	case ProtocolCoAP:
		return "COAP"
	case ProtocolIEEE802154:
		return "IEEE 802.15.4"
	default:
		return "Unknown"
	}
}

// Subtype refines a Protocol. Only the combinations reachable through the
// Kind constructors exist.
type Subtype int

const (
	SubtypeNone Subtype = iota
	SubtypeDodagInfo
	SubtypeDodagSolicit
	SubtypeDestAdvert
	SubtypeIEEEReserved
	SubtypeAck
	SubtypeCoapGet
	SubtypeCoapContent
)

func (s Subtype) String() string {
	switch s {
	case SubtypeDodagInfo:
		return "DodagInfo"
	case SubtypeDodagSolicit:
		return "DodagSolicit"
	case SubtypeDestAdvert:
		return "DestAdvert"
	case SubtypeIEEEReserved:
		return "IeeeReserved"
	case SubtypeAck:
		return "Ack"
	case SubtypeCoapGet:
		return "CoapGet"
	case SubtypeCoapContent:
		return "CoapContent"
	default:
		return "None"
	}
}

// RPLMessage is the RPL control message carried by an ICMPv6 packet.
type RPLMessage Subtype

const (
	RPLNone         = RPLMessage(SubtypeNone)
	RPLDodagSolicit = RPLMessage(SubtypeDodagSolicit)
	RPLDodagInfo    = RPLMessage(SubtypeDodagInfo)
	RPLDestAdvert   = RPLMessage(SubtypeDestAdvert)
)

// CoAPMessage is the CoAP method or response class of a CoAP packet.
type CoAPMessage Subtype

const (
	CoAPNone    = CoAPMessage(SubtypeNone)
	CoAPGet     = CoAPMessage(SubtypeCoapGet)
	CoAPContent = CoAPMessage(SubtypeCoapContent)
)

// Kind pairs a Protocol with its Subtype. The fields are unexported so a
// Kind can only be built by the constructors below.
type Kind struct {
	protocol Protocol
	subtype  Subtype
}

func UnknownKind() Kind { return Kind{protocol: ProtocolUnknown} }

// AckKind is an IEEE 802.15.4 acknowledgement frame.
func AckKind() Kind { return Kind{protocol: ProtocolIEEE802154, subtype: SubtypeAck} }

// MACKind is a MAC frame whose payload was not (yet) classified.
func MACKind() Kind { return Kind{protocol: ProtocolIEEE802154, subtype: SubtypeIEEEReserved} }

func ICMPv6Kind(m RPLMessage) Kind { return Kind{protocol: ProtocolICMPv6, subtype: Subtype(m)} }

func CoAPKind(m CoAPMessage) Kind { return Kind{protocol: ProtocolCoAP, subtype: Subtype(m)} }

func (k Kind) Protocol() Protocol { return k.protocol }
func (k Kind) Subtype() Subtype   { return k.subtype }

func (k Kind) String() string {
	if k.subtype == SubtypeNone {
		return k.protocol.String()
	}
	return k.protocol.String() + "/" + k.subtype.String()
}

func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Protocol string `json:"protocol"`
		Subtype  string `json:"subtype"`
	}{k.protocol.String(), k.subtype.String()})
}
