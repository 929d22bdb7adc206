package parser

import (
	"fmt"
	"strings"

	"github.com/dustin/go-coap"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"lowpansniff/internal/models"
)

const (
	coapVersion     = 1
	coapHeaderLen   = 4
	coapMaxTokenLen = 8
)

// decodeCoAP walks the Hop-by-Hop header carrying the RPL option, the UDP
// header and the CoAP header. The UDP checksum is not verified.
func (d *decoder) decodeCoAP() error {
	c := &d.c
	d.p.Kind = models.CoAPKind(models.CoAPNone)

	nh, err := c.byte("hop-by-hop next header")
	if err != nil {
		return err
	}
	if layers.IPProtocol(nh) != layers.IPProtocolUDP {
		return fmt.Errorf("%w: hop-by-hop next header %d", ErrUnsupportedHeader, nh)
	}
	extLen, err := c.byte("hop-by-hop length")
	if err != nil {
		return err
	}
	// The length counts 8-octet units beyond the first, which includes the
	// two bytes already read.
	if err := c.skip((int(extLen)+1)*8-2, "hop-by-hop options"); err != nil {
		return err
	}
	d.layer("IPv6 Hop-by-Hop Options",
		models.LayerField{Name: "Next Header", Value: fmt.Sprintf("%s (%d)", layers.IPProtocol(nh), nh)},
		models.LayerField{Name: "Length", Value: fmt.Sprintf("%d bytes", (int(extLen)+1)*8)},
	)

	udpHdr, err := c.take(8, "UDP header")
	if err != nil {
		return err
	}
	d.udpLayer(udpHdr)

	data := c.rest()
	if len(data) < coapHeaderLen {
		return fmt.Errorf("%w: CoAP header needs %d bytes, %d left", ErrTruncated, coapHeaderLen, len(data))
	}
	if v := data[0] >> 6; v != coapVersion {
		return fmt.Errorf("%w: CoAP version %d", ErrUnsupportedHeader, v)
	}
	tkl := int(data[0] & 0x0f)
	if tkl > coapMaxTokenLen {
		return fmt.Errorf("%w: CoAP token length %d", ErrUnsupportedHeader, tkl)
	}
	if len(data) < coapHeaderLen+tkl {
		return fmt.Errorf("%w: CoAP token needs %d bytes, %d left", ErrTruncated, tkl, len(data)-coapHeaderLen)
	}
	remaining := data[coapHeaderLen+tkl:]

	// Options that do not parse still leave a usable header and token.
	msg, err := coap.ParseMessage(data)
	uri := ""
	if err == nil {
		uri = coapURI(msg)
	} else {
		msg, _ = coap.ParseMessage(data[:coapHeaderLen+tkl])
		uri = printable(remaining)
	}

	switch msg.Code {
	case coap.Content:
		d.p.Kind = models.CoAPKind(models.CoAPContent)
	case coap.GET:
		d.p.Kind = models.CoAPKind(models.CoAPGet)
		d.p.CoapURL = coapText(remaining)
	}

	fields := []models.LayerField{
		{Name: "Version", Value: fmt.Sprintf("%d", coapVersion)},
		{Name: "Type", Value: coapTypeName(msg.Type)},
		{Name: "Token Length", Value: fmt.Sprintf("%d", tkl)},
		{Name: "Code", Value: fmt.Sprintf("%d.%02d", byte(msg.Code)>>5, byte(msg.Code)&0x1f)},
		{Name: "Message ID", Value: fmt.Sprintf("%d", msg.MessageID)},
		{Name: "Token", Value: fmt.Sprintf("%x", msg.Token)},
	}
	if uri != "" {
		fields = append(fields, models.LayerField{Name: "URI", Value: uri})
	}
	if len(msg.Payload) > 0 {
		fields = append(fields, models.LayerField{Name: "Payload", Value: printable(msg.Payload)})
	}
	d.layer("CoAP", fields...)
	return nil
}

func (d *decoder) udpLayer(hdr []byte) {
	if !d.trace {
		return
	}
	var udp layers.UDP
	if err := udp.DecodeFromBytes(hdr, gopacket.NilDecodeFeedback); err != nil {
		d.layer("UDP", models.LayerField{Name: "Header", Value: fmt.Sprintf("%x (%v)", hdr, err)})
		return
	}
	d.layer("UDP",
		models.LayerField{Name: "Source Port", Value: fmt.Sprintf("%d", udp.SrcPort)},
		models.LayerField{Name: "Destination Port", Value: fmt.Sprintf("%d", udp.DstPort)},
		models.LayerField{Name: "Length", Value: fmt.Sprintf("%d", udp.Length)},
		models.LayerField{Name: "Checksum", Value: fmt.Sprintf("0x%04x (unverified)", udp.Checksum)},
	)
}

func coapTypeName(t coap.COAPType) string {
	switch t {
	case coap.Confirmable:
		return "Confirmable (0)"
	case coap.NonConfirmable:
		return "Non-Confirmable (1)"
	case coap.Acknowledgement:
		return "Acknowledgement (2)"
	default:
		return "Reset (3)"
	}
}

// coapURI rebuilds "/path/segments?query" from the Uri-Path and Uri-Query
// options of a request. Messages without either yield "".
func coapURI(msg coap.Message) string {
	var query []string
	for _, q := range msg.Options(coap.URIQuery) {
		if s, ok := q.(string); ok {
			query = append(query, s)
		}
	}
	path := msg.Path()
	if len(path) == 0 && len(query) == 0 {
		return ""
	}

	uri := "/" + strings.Join(path, "/")
	if len(query) > 0 {
		uri += "?" + strings.Join(query, "&")
	}
	return uri
}

// coapText reads the bytes following the token as UTF-8 text, the form the
// packet table shows for a GET. Invalid sequences become U+FFFD.
func coapText(b []byte) string {
	return strings.ToValidUTF8(string(b), "\uFFFD")
}

func printable(b []byte) string {
	var sb strings.Builder
	for _, c := range b {
		if c >= 0x20 && c <= 0x7e {
			sb.WriteByte(c)
		}
	}
	return sb.String()
}
