package parser

import (
	"encoding/hex"
	"fmt"
	"strings"

	"lowpansniff/internal/models"
)

const (
	// corruptPattern shows up when the sniffer glues an ACK onto the tail of
	// a frame it never finished writing.
	corruptPattern = "c0c00200"

	dispatchIPv6 = 0x41
)

// IEEE 802.15.4 addressing modes.
const (
	addrModeNone     = 0
	addrModeReserved = 1
	addrModeShort    = 2
	addrModeExtended = 3
)

var addrModeNames = [4]string{"None", "Reserved", "Short (16-bit)", "Extended (64-bit)"}

// macHeader is the decoded IEEE 802.15.4 MAC header. Addresses are kept in
// big-endian order, i.e. reversed from how they travel on air.
type macHeader struct {
	fcf       uint16
	frameType uint8
	srcMode   uint8
	dstMode   uint8
	seq       uint8
	dstPAN    string
	dst       []byte
	src       []byte
}

// decoder walks one frame body. When trace is set it also records every
// header it passes as a LayerDetail.
type decoder struct {
	c      cursor
	p      *models.Packet
	mac    *macHeader
	trace  bool
	layers []models.LayerDetail
}

func (d *decoder) layer(name string, fields ...models.LayerField) {
	if d.trace {
		d.layers = append(d.layers, models.LayerDetail{Name: name, Fields: fields})
	}
}

// Decode turns one delimited sniffer frame into a Packet. Frames that cannot
// be decoded return ErrFraming, ErrUnsupportedHeader or ErrTruncated and no
// packet. An ICMPv6 checksum mismatch is not an error; it is reported via
// Packet.ChecksumValid.
func Decode(frame []byte) (*models.Packet, error) {
	d := &decoder{}
	if err := d.run(frame); err != nil {
		return nil, err
	}
	return d.p, nil
}

func (d *decoder) run(frame []byte) error {
	if len(frame) < 2 {
		return fmt.Errorf("%w: frame of %d bytes has no delimiters", ErrTruncated, len(frame))
	}
	body := frame[1 : len(frame)-1]

	if strings.Contains(hex.EncodeToString(body), corruptPattern) {
		return fmt.Errorf("%w: frame contains %s", ErrFraming, corruptPattern)
	}

	d.p = models.NewPacket(frame)
	d.c = cursor{buf: body}
	if len(body) >= 2 && body[0] == 0x02 && body[1] == 0x00 {
		d.p.Kind = models.AckKind()
		fields := []models.LayerField{{Name: "Frame Control", Value: "0x0002"}}
		if len(body) > 2 {
			fields = append(fields, models.LayerField{Name: "Sequence Number", Value: fmt.Sprintf("%d", body[2])})
		}
		d.layer("IEEE 802.15.4 Acknowledgment", fields...)
		return nil
	}
	d.p.Kind = models.MACKind()

	if err := d.decodeMAC(); err != nil {
		return err
	}

	dispatch, err := d.c.peek("6LoWPAN dispatch")
	if err != nil {
		return err
	}
	if dispatch == dispatchIPv6 {
		d.c.off++
		return d.decodeIPv6()
	}
	return d.decodeIPHC()
}

func (d *decoder) decodeMAC() error {
	raw, err := d.c.take(2, "frame control")
	if err != nil {
		return err
	}
	fcf := uint16(raw[1])<<8 | uint16(raw[0])
	mac := &macHeader{
		fcf:       fcf,
		frameType: uint8(fcf & 0x7),
		dstMode:   uint8(fcf>>10) & 0x3,
		srcMode:   uint8(fcf>>14) & 0x3,
	}

	if mac.seq, err = d.c.byte("sequence number"); err != nil {
		return err
	}
	pan, err := d.c.take(2, "destination PAN")
	if err != nil {
		return err
	}
	mac.dstPAN = reversedHex(pan)

	if mac.dst, err = readMACAddress(&d.c, mac.dstMode, "destination address"); err != nil {
		return err
	}
	if mac.src, err = readMACAddress(&d.c, mac.srcMode, "source address"); err != nil {
		return err
	}

	d.mac = mac
	d.p.SeqNo = int(mac.seq)
	d.p.DstPAN = mac.dstPAN
	d.p.SrcMAC = hex.EncodeToString(mac.src)
	d.p.DstMAC = hex.EncodeToString(mac.dst)

	d.layer("IEEE 802.15.4",
		models.LayerField{
			Name:  "Frame Control",
			Value: fmt.Sprintf("0x%04x", fcf),
			Children: []models.LayerField{
				{Name: "Frame Type", Value: frameTypeName(mac.frameType)},
				{Name: "Destination Addressing Mode", Value: addrModeNames[mac.dstMode]},
				{Name: "Source Addressing Mode", Value: addrModeNames[mac.srcMode]},
			},
		},
		models.LayerField{Name: "Sequence Number", Value: fmt.Sprintf("%d", mac.seq)},
		models.LayerField{Name: "Destination PAN", Value: "0x" + mac.dstPAN},
		models.LayerField{Name: "Destination", Value: macAddressText(mac.dst)},
		models.LayerField{Name: "Source", Value: macAddressText(mac.src)},
	)
	return nil
}

func readMACAddress(c *cursor, mode uint8, field string) ([]byte, error) {
	var n int
	switch mode {
	case addrModeShort:
		n = 2
	case addrModeExtended:
		n = 8
	case addrModeNone, addrModeReserved:
		return nil, nil
	}
	b, err := c.take(n, field)
	if err != nil {
		return nil, err
	}
	return reversed(b), nil
}

func frameTypeName(t uint8) string {
	switch t {
	case 0:
		return "Beacon (0)"
	case 1:
		return "Data (1)"
	case 2:
		return "Ack (2)"
	case 3:
		return "Command (3)"
	default:
		return fmt.Sprintf("Reserved (%d)", t)
	}
}

// macAddressText renders a link-layer address as colon-separated octets.
func macAddressText(b []byte) string {
	if len(b) == 0 {
		return "(none)"
	}
	parts := make([]string, len(b))
	for i, v := range b {
		parts[i] = fmt.Sprintf("%02x", v)
	}
	return strings.Join(parts, ":")
}
