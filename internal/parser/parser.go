package parser

import (
	"fmt"
	"strings"
	"time"

	"lowpansniff/internal/models"
)

// Parse converts a decoded packet into the row shown in the packet table.
// format renders an address for display; nil leaves addresses as hex.
func Parse(p *models.Packet, number int, startTime time.Time, format func(string) string) models.PacketInfo {
	if format == nil {
		format = func(s string) string { return s }
	}
	info := models.PacketInfo{
		Number:   number,
		Length:   p.Length(),
		Protocol: p.Kind.Protocol().String(),
		Info:     p.Info(),
		Checksum: p.ChecksumText(),
		Packet:   p,
		RawHex:   p.Hex(),
	}

	// Timestamp relative to start
	if startTime.IsZero() {
		info.Timestamp = p.CreatedAt.Format("15:04:05.000000")
	} else {
		info.Timestamp = fmt.Sprintf("%.6f", p.CreatedAt.Sub(startTime).Seconds())
	}

	info.SrcAddr = displayAddr(p.Src, p.SrcMAC, format)
	info.DstAddr = displayAddr(p.Dst, p.DstMAC, format)
	if p.CoapURL != "" {
		info.Info += " " + p.CoapURL
	}
	return info
}

// Details re-walks the frame and returns its header tree and a hex dump of
// the bytes between the delimiters. A frame that stops decoding part way
// keeps the layers read so far plus an error entry.
func Details(p *models.Packet) ([]models.LayerDetail, string) {
	d := &decoder{trace: true}
	d.layers = append(d.layers, models.LayerDetail{
		Name: "Frame",
		Fields: []models.LayerField{
			{Name: "Length", Value: fmt.Sprintf("%d bytes", p.Length())},
			{Name: "Captured", Value: p.CreatedAt.Format(time.RFC3339Nano)},
			{Name: "Kind", Value: p.Kind.String()},
		},
	})
	if err := d.run(p.Raw); err != nil {
		d.layers = append(d.layers, models.LayerDetail{
			Name:   "Malformed",
			Fields: []models.LayerField{{Name: "Error", Value: err.Error()}},
		})
	}

	var dump string
	if len(p.Raw) > 2 {
		dump = formatHexDump(p.Raw[1 : len(p.Raw)-1])
	}
	return d.layers, dump
}

func displayAddr(ip, mac string, format func(string) string) string {
	if ip != "" {
		return format(ip)
	}
	return mac
}

func formatHexDump(data []byte) string {
	var sb strings.Builder
	for offset := 0; offset < len(data); offset += 16 {
		fmt.Fprintf(&sb, "%04x  ", offset)

		end := offset + 16
		if end > len(data) {
			end = len(data)
		}
		for i := offset; i < offset+16; i++ {
			if i < end {
				fmt.Fprintf(&sb, "%02x ", data[i])
			} else {
				sb.WriteString("   ")
			}
			if i == offset+7 {
				sb.WriteByte(' ')
			}
		}
		sb.WriteString(" |")

		for i := offset; i < end; i++ {
			b := data[i]
			if b >= 0x20 && b <= 0x7e {
				sb.WriteByte(b)
			} else {
				sb.WriteByte('.')
			}
		}
		sb.WriteString("|\n")
	}
	return sb.String()
}
