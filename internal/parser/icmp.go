package parser

import (
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"lowpansniff/internal/checksum"
	"lowpansniff/internal/models"
)

// ICMPv6 type carrying RPL control messages (RFC 6550 §6).
const icmpv6TypeRPL = 155

// RPL control message codes.
const (
	rplCodeDIS = 0x00
	rplCodeDIO = 0x01
	rplCodeDAO = 0x02
)

// decodeICMPv6 classifies the ICMPv6 message left in the cursor and checks
// its checksum against the IPv6 pseudo-header built from src and dst.
func (d *decoder) decodeICMPv6(src, dst [16]byte) error {
	msg := d.c.rest()
	var icmp layers.ICMPv6
	if err := icmp.DecodeFromBytes(msg, gopacket.NilDecodeFeedback); err != nil {
		return fmt.Errorf("%w: ICMPv6 header: %v", ErrTruncated, err)
	}

	// Every ICMPv6 message on the sniffed network is taken to be RPL
	// control, so the subtype follows the code whatever the type.
	rpl := models.RPLNone
	switch icmp.TypeCode.Code() {
	case rplCodeDIS:
		rpl = models.RPLDodagSolicit
	case rplCodeDIO:
		rpl = models.RPLDodagInfo
	case rplCodeDAO:
		rpl = models.RPLDestAdvert
	}
	d.p.Kind = models.ICMPv6Kind(rpl)
	d.p.Checksum = fmt.Sprintf("%04x", icmp.Checksum)
	d.p.ChecksumValid = icmp.Checksum == ICMPv6Checksum(src, dst, msg)

	typeText := fmt.Sprintf("%d", icmp.TypeCode.Type())
	if icmp.TypeCode.Type() == icmpv6TypeRPL {
		typeText += " (RPL Control)"
	}
	d.layer("ICMPv6",
		models.LayerField{Name: "Type", Value: typeText},
		models.LayerField{Name: "Code", Value: fmt.Sprintf("%d", icmp.TypeCode.Code())},
		models.LayerField{Name: "Checksum", Value: d.p.ChecksumText()},
		models.LayerField{Name: "Message Length", Value: fmt.Sprintf("%d bytes", len(msg))},
	)
	if rpl != models.RPLNone {
		d.layer("RPL Control", models.LayerField{Name: "Message", Value: d.p.Info()})
	}
	return nil
}

// ICMPv6Checksum computes the checksum of msg over the IPv6 pseudo-header.
// The checksum field inside msg is treated as zero.
func ICMPv6Checksum(src, dst [16]byte, msg []byte) uint16 {
	var a checksum.Accumulator
	a.Write(src[:])
	a.Write(dst[:])
	a.AddUint32(uint32(len(msg)))
	a.Write([]byte{0, 0, 0, byte(layers.IPProtocolICMPv6)})
	if len(msg) < 4 {
		a.Write(msg)
		return a.Sum16()
	}
	a.Write(msg[:2])
	a.AddUint16(0)
	a.Write(msg[4:])
	return a.Sum16()
}
