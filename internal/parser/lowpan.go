package parser

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/gopacket/layers"
	"inet.af/netaddr"

	"lowpansniff/internal/models"
)

// iphc is the two-byte LOWPAN_IPHC base header (RFC 6282 §3.1).
type iphc uint16

// field returns width bits starting at pos, counting from the most
// significant bit as RFC 6282 draws the header.
func (h iphc) field(pos, width uint) uint16 {
	return uint16(h) >> (16 - pos - width) & (1<<width - 1)
}

func (h iphc) dispatch() uint16    { return h.field(0, 3) }
func (h iphc) trafficFlow() uint16 { return h.field(3, 2) }
func (h iphc) nextHeader() bool    { return h.field(5, 1) == 1 }
func (h iphc) hopLimit() uint16    { return h.field(6, 2) }
func (h iphc) contextExt() bool    { return h.field(8, 1) == 1 }
func (h iphc) srcContext() bool    { return h.field(9, 1) == 1 }
func (h iphc) srcMode() uint16     { return h.field(10, 2) }
func (h iphc) multicast() bool     { return h.field(12, 1) == 1 }
func (h iphc) dstContext() bool    { return h.field(13, 1) == 1 }
func (h iphc) dstMode() uint16     { return h.field(14, 2) }

const iphcDispatch = 0b011

// Inline traffic class / flow label bytes indexed by the TF field. Only
// TF=1 (ECN + flow label) is carried inline; the other encodings are read
// as elided.
var tfInlineLen = [4]int{0, 3, 0, 0}

// Hop limits for the compressed HLIM encodings; 0 means carried inline.
var hopLimits = [4]int{0, 1, 64, 255}

// decodeIPv6 handles the uncompressed IPv6 dispatch. The cursor sits just
// after the dispatch byte.
func (d *decoder) decodeIPv6() error {
	c := &d.c
	// version, traffic class, flow label and payload length
	if err := c.skip(6, "IPv6 header"); err != nil {
		return err
	}
	nh, err := c.byte("next header")
	if err != nil {
		return err
	}
	if layers.IPProtocol(nh) != layers.IPProtocolICMPv6 {
		return fmt.Errorf("%w: uncompressed next header %d", ErrUnsupportedHeader, nh)
	}
	hop, err := c.byte("hop limit")
	if err != nil {
		return err
	}
	d.p.HopLimit = int(hop)

	var src, dst [16]byte
	if err := readInline(c, src[:], "source address"); err != nil {
		return err
	}
	if err := readInline(c, dst[:], "destination address"); err != nil {
		return err
	}
	d.setAddresses(src, dst, false)

	d.layer("6LoWPAN", models.LayerField{Name: "Dispatch", Value: "Uncompressed IPv6 (0x41)"})
	d.ipv6Layer(layers.IPProtocol(nh), src, dst)
	return d.decodeICMPv6(src, dst)
}

// decodeIPHC handles a LOWPAN_IPHC compressed header.
func (d *decoder) decodeIPHC() error {
	c := &d.c
	v, err := c.uint16("IPHC header")
	if err != nil {
		return err
	}
	h := iphc(v)
	if h.dispatch() != iphcDispatch {
		return fmt.Errorf("%w: dispatch %#04x", ErrUnsupportedHeader, v)
	}
	d.iphcLayer(h)
	if h.srcContext() {
		return fmt.Errorf("%w: context-based source address compression", ErrUnsupportedHeader)
	}
	if h.dstContext() {
		return fmt.Errorf("%w: context-based destination address compression", ErrUnsupportedHeader)
	}
	if h.nextHeader() {
		return fmt.Errorf("%w: compressed next header", ErrUnsupportedHeader)
	}
	// The CID flag carries no inline byte here.
	if err := c.skip(tfInlineLen[h.trafficFlow()], "traffic class and flow label"); err != nil {
		return err
	}

	nh, err := c.byte("next header")
	if err != nil {
		return err
	}
	d.p.HopLimit = hopLimits[h.hopLimit()]
	if h.hopLimit() == 0 {
		hop, err := c.byte("hop limit")
		if err != nil {
			return err
		}
		d.p.HopLimit = int(hop)
	}

	src, err := unicastAddress(c, h.srcMode(), d.mac.src, "source")
	if err != nil {
		return err
	}
	var dst [16]byte
	if h.multicast() {
		dst, err = multicastAddress(c, h.dstMode())
	} else {
		dst, err = unicastAddress(c, h.dstMode(), d.mac.dst, "destination")
	}
	if err != nil {
		return err
	}
	d.setAddresses(src, dst, h.multicast())
	d.ipv6Layer(layers.IPProtocol(nh), src, dst)

	switch layers.IPProtocol(nh) {
	case layers.IPProtocolIPv6HopByHop:
		return d.decodeCoAP()
	case layers.IPProtocolICMPv6:
		return d.decodeICMPv6(src, dst)
	default:
		return fmt.Errorf("%w: next header %d", ErrUnsupportedHeader, nh)
	}
}

func (d *decoder) setAddresses(src, dst [16]byte, multicast bool) {
	d.p.Src = hex.EncodeToString(src[:])
	d.p.Dst = hex.EncodeToString(dst[:])
	d.p.Multicast = multicast || strings.HasPrefix(d.p.Dst, "ff02")
}

func (d *decoder) iphcLayer(h iphc) {
	flag := func(b bool) string {
		if b {
			return "1"
		}
		return "0"
	}
	d.layer("6LoWPAN IPHC",
		models.LayerField{Name: "Header", Value: fmt.Sprintf("0x%04x", uint16(h))},
		models.LayerField{Name: "Traffic Class/Flow Label", Value: fmt.Sprintf("%d (%d bytes inline)", h.trafficFlow(), tfInlineLen[h.trafficFlow()])},
		models.LayerField{Name: "Next Header", Value: flag(h.nextHeader())},
		models.LayerField{Name: "Hop Limit", Value: fmt.Sprintf("%d", h.hopLimit())},
		models.LayerField{Name: "Context Identifier Extension", Value: flag(h.contextExt())},
		models.LayerField{Name: "Source Address Compression", Value: flag(h.srcContext())},
		models.LayerField{Name: "Source Address Mode", Value: fmt.Sprintf("%d", h.srcMode())},
		models.LayerField{Name: "Multicast", Value: flag(h.multicast())},
		models.LayerField{Name: "Destination Address Compression", Value: flag(h.dstContext())},
		models.LayerField{Name: "Destination Address Mode", Value: fmt.Sprintf("%d", h.dstMode())},
	)
}

func (d *decoder) ipv6Layer(nh layers.IPProtocol, src, dst [16]byte) {
	d.layer("IPv6",
		models.LayerField{Name: "Next Header", Value: fmt.Sprintf("%s (%d)", nh, uint8(nh))},
		models.LayerField{Name: "Hop Limit", Value: fmt.Sprintf("%d", d.p.HopLimit)},
		models.LayerField{Name: "Source", Value: netaddr.IPv6Raw(src).String()},
		models.LayerField{Name: "Destination", Value: netaddr.IPv6Raw(dst).String()},
	)
}

func readInline(c *cursor, dst []byte, field string) error {
	b, err := c.take(len(dst), field)
	if err != nil {
		return err
	}
	copy(dst, b)
	return nil
}

// unicastAddress rebuilds a link-local unicast address from its SAM/DAM
// encoding: 0 full inline, 1 64-bit IID, 2 16-bit short id, 3 derived from
// the link-layer address.
func unicastAddress(c *cursor, mode uint16, linkAddr []byte, side string) ([16]byte, error) {
	var a [16]byte
	if mode == 0 {
		err := readInline(c, a[:], side+" address")
		return a, err
	}

	a[0], a[1] = 0xfe, 0x80
	var err error
	switch mode {
	case 1:
		err = readInline(c, a[8:], side+" interface identifier")
	case 2:
		a[11], a[12] = 0xff, 0xfe
		err = readInline(c, a[14:], side+" short address")
	default:
		var iid [8]byte
		if iid, err = interfaceID(linkAddr); err != nil {
			err = fmt.Errorf("%w: %s address elided but %v", ErrUnsupportedHeader, side, err)
		}
		copy(a[8:], iid[:])
	}
	return a, err
}

// interfaceID derives an IPv6 interface identifier from a link-layer address.
// Extended addresses get their universal/local bit inverted; short addresses
// map to 0000:00ff:fe00:XXXX.
func interfaceID(linkAddr []byte) ([8]byte, error) {
	var iid [8]byte
	switch len(linkAddr) {
	case 8:
		copy(iid[:], linkAddr)
		iid[0] ^= 0x02
	case 2:
		iid[3], iid[4] = 0xff, 0xfe
		copy(iid[6:], linkAddr)
	default:
		return iid, fmt.Errorf("no link-layer address to derive it from")
	}
	return iid, nil
}

// multicastAddress rebuilds a multicast destination from its DAM encoding
// when the M flag is set.
func multicastAddress(c *cursor, mode uint16) ([16]byte, error) {
	var a [16]byte
	a[0] = 0xff
	switch mode {
	case 0:
		if err := readInline(c, a[:], "multicast address"); err != nil {
			return a, err
		}
	case 1:
		// ffXX::00XX:XXXX:XXXX
		b, err := c.take(6, "48-bit multicast address")
		if err != nil {
			return a, err
		}
		a[1] = b[0]
		copy(a[11:], b[1:])
	case 2:
		// ffXX::00XX:XXXX
		b, err := c.take(4, "32-bit multicast address")
		if err != nil {
			return a, err
		}
		a[1] = b[0]
		copy(a[13:], b[1:])
	default:
		// ff02::00XX
		b, err := c.byte("8-bit multicast address")
		if err != nil {
			return a, err
		}
		a[1] = 0x02
		a[15] = b
	}
	return a, nil
}
