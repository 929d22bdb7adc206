package parser

import (
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lowpansniff/internal/checksum"
	"lowpansniff/internal/models"
)

// Link-layer fixtures as they appear on air (little-endian).
var (
	macSrcExtOnAir   = []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	macDstShortOnAir = []byte{0x34, 0x12}
	panOnAir         = []byte{0xcd, 0xab}

	// fe80::a07:605:403:201, derived from macSrcExtOnAir with U/L inverted.
	linkLocalSrc = mustAddr("fe80000000000000 0a07060504030201")
	// fe80::ff:fe00:1234, derived from macDstShortOnAir.
	linkLocalDst = mustAddr("fe80000000000000 000000fffe001234")
	allRPLNodes  = mustAddr("ff020000000000000000000000 00001a")
)

func mustAddr(s string) [16]byte {
	var a [16]byte
	b, err := hex.DecodeString(stripSpaces(s))
	if err != nil || len(b) != 16 {
		panic(fmt.Sprintf("bad address fixture %q", s))
	}
	copy(a[:], b)
	return a
}

func stripSpaces(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != ' ' {
			out = append(out, s[i])
		}
	}
	return string(out)
}

func cat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// delimit wraps a frame body in SLIP delimiters.
func delimit(body ...[]byte) []byte {
	return cat([]byte{0xc0}, cat(body...), []byte{0xc0})
}

// macHeaderBytes builds a data frame header with a short destination and an
// extended source address, sequence number 5.
func macHeaderBytes() []byte {
	return cat([]byte{0x41, 0xc8, 0x05}, panOnAir, macDstShortOnAir, macSrcExtOnAir)
}

// signICMPv6 writes the pseudo-header checksum into msg[2:4].
func signICMPv6(src, dst [16]byte, msg []byte) []byte {
	msg = append([]byte(nil), msg...)
	msg[2], msg[3] = 0, 0
	pseudo := cat(src[:], dst[:],
		[]byte{byte(len(msg) >> 24), byte(len(msg) >> 16), byte(len(msg) >> 8), byte(len(msg))},
		[]byte{0, 0, 0, 0x3a}, msg)
	sum := checksum.Checksum16(pseudo)
	msg[2], msg[3] = byte(sum>>8), byte(sum)
	return msg
}

func rplMessage(code byte) []byte {
	return []byte{155, code, 0, 0, 0x00, 0xf0, 0x00, 0x00}
}

// dioFrame is a multicast DIO: IPHC 7a 3b (TF elided, HLIM 64, SAM 3, M, DAM 3).
func dioFrame() []byte {
	msg := signICMPv6(linkLocalSrc, allRPLNodes, rplMessage(rplCodeDIO))
	return delimit(macHeaderBytes(), []byte{0x7a, 0x3b, 0x3a, 0x1a}, msg)
}

// daoFrame is a unicast DAO: IPHC 7a 33 (SAM 3, DAM 3, both from the MAC).
func daoFrame() []byte {
	msg := signICMPv6(linkLocalSrc, linkLocalDst, rplMessage(rplCodeDAO))
	return delimit(macHeaderBytes(), []byte{0x7a, 0x33, 0x3a}, msg)
}

func coapFrame(coap []byte) []byte {
	hbh := []byte{0x11, 0x00, 0x63, 0x04, 0x00, 0x1e, 0x08, 0x00}
	udp := []byte{0x16, 0x33, 0x16, 0x33, 0x00, 0x1a, 0x00, 0x00}
	return delimit(macHeaderBytes(), []byte{0x7a, 0x33, 0x00}, hbh, udp, coap)
}

func TestDecodeAck(t *testing.T) {
	p, err := Decode([]byte{0xc0, 0x02, 0x00, 0x05, 0xc0})
	require.NoError(t, err)

	assert.Equal(t, models.AckKind(), p.Kind)
	assert.Equal(t, models.ProtocolIEEE802154, p.Kind.Protocol())
	assert.Equal(t, models.SubtypeAck, p.Kind.Subtype())
	assert.Empty(t, p.Src)
	assert.Empty(t, p.Dst)
	assert.Equal(t, -1, p.SeqNo)
	assert.Equal(t, -1, p.HopLimit)
	assert.Equal(t, "ACK", p.Info())
	assert.Equal(t, 5, p.Length())
}

func TestDecodeRejectsCorruptFraming(t *testing.T) {
	_, err := Decode([]byte{0xc0, 0x41, 0xc8, 0xc0, 0xc0, 0x02, 0x00, 0x05, 0xc0})
	assert.ErrorIs(t, err, ErrFraming)
	assert.Equal(t, "framing", ErrorKind(err))
}

func TestDecodeDIO(t *testing.T) {
	frame := dioFrame()
	p, err := Decode(frame)
	require.NoError(t, err)

	assert.Equal(t, models.ICMPv6Kind(models.RPLDodagInfo), p.Kind)
	assert.Equal(t, hex.EncodeToString(linkLocalSrc[:]), p.Src)
	assert.Equal(t, "ff02000000000000000000000000001a", p.Dst)
	assert.True(t, p.Multicast)
	assert.Equal(t, 64, p.HopLimit)
	assert.Equal(t, 5, p.SeqNo)
	assert.Equal(t, "abcd", p.DstPAN)
	assert.Equal(t, "0807060504030201", p.SrcMAC)
	assert.Equal(t, "1234", p.DstMAC)
	assert.True(t, p.ChecksumValid)
	assert.Len(t, p.Checksum, 4)
	assert.Equal(t, "RPL Control (DODAG Info Object)", p.Info())
	assert.Equal(t, frame, p.Raw)
}

func TestDecodeDAOUnicast(t *testing.T) {
	p, err := Decode(daoFrame())
	require.NoError(t, err)

	assert.Equal(t, models.ICMPv6Kind(models.RPLDestAdvert), p.Kind)
	assert.Equal(t, hex.EncodeToString(linkLocalSrc[:]), p.Src)
	assert.Equal(t, hex.EncodeToString(linkLocalDst[:]), p.Dst)
	assert.False(t, p.Multicast)
	assert.True(t, p.ChecksumValid)
}

func TestDecodeUncompressedDIS(t *testing.T) {
	src := mustAddr("fe800000000000000000000000000001")
	dst := mustAddr("ff020000000000000000000000000002")
	msg := signICMPv6(src, dst, rplMessage(rplCodeDIS))
	frame := delimit(macHeaderBytes(),
		[]byte{0x41, 0x60, 0x00, 0x00, 0x00, 0x00, 0x08, 0x3a, 0xff},
		src[:], dst[:], msg)

	p, err := Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, models.ICMPv6Kind(models.RPLDodagSolicit), p.Kind)
	assert.Equal(t, 255, p.HopLimit)
	assert.Equal(t, hex.EncodeToString(src[:]), p.Src)
	assert.Equal(t, hex.EncodeToString(dst[:]), p.Dst)
	assert.True(t, p.Multicast, "ff02 destination is multicast without the M flag")
	assert.True(t, p.ChecksumValid)
}

func TestDecodeInvalidChecksumIsNotAnError(t *testing.T) {
	frame := dioFrame()
	frame[len(frame)-2] ^= 0xff // flip a payload byte

	p, err := Decode(frame)
	require.NoError(t, err)
	assert.False(t, p.ChecksumValid)
	assert.Contains(t, p.ChecksumText(), "(INVALID)")
}

func TestDecodeNonRPLICMPv6(t *testing.T) {
	// destination unreachable, code 4 (port unreachable)
	msg := signICMPv6(linkLocalSrc, linkLocalDst, []byte{1, 4, 0, 0, 0, 0, 0, 0})
	p, err := Decode(delimit(macHeaderBytes(), []byte{0x7a, 0x33, 0x3a}, msg))
	require.NoError(t, err)

	assert.Equal(t, models.ProtocolICMPv6, p.Kind.Protocol())
	assert.Equal(t, models.SubtypeNone, p.Kind.Subtype())
	assert.Equal(t, "ICMPv6", p.Info())
	assert.True(t, p.ChecksumValid)
}

func TestDecodeClassifiesRPLByCode(t *testing.T) {
	tests := []struct {
		name string
		msg  []byte
		want models.RPLMessage
	}{
		{name: "echo request code 0", msg: []byte{128, 0, 0, 0, 0x12, 0x34, 0x00, 0x01}, want: models.RPLDodagSolicit},
		{name: "type 128 code 1", msg: []byte{128, 1, 0, 0, 0x12, 0x34, 0x00, 0x01}, want: models.RPLDodagInfo},
		{name: "type 155 code 2", msg: rplMessage(rplCodeDAO), want: models.RPLDestAdvert},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := signICMPv6(linkLocalSrc, linkLocalDst, tt.msg)
			p, err := Decode(delimit(macHeaderBytes(), []byte{0x7a, 0x33, 0x3a}, msg))
			require.NoError(t, err)
			assert.Equal(t, models.ICMPv6Kind(tt.want), p.Kind)
			assert.True(t, p.ChecksumValid)
		})
	}
}

func TestDecodeInlineFields(t *testing.T) {
	// TF=01 (3 bytes), HLIM inline, CID set without an inline byte,
	// SAM=1 (IID inline), DAM=2 (short inline)
	iid := []byte{0x02, 0x12, 0x74, 0x01, 0x00, 0x01, 0x01, 0x01}
	src := mustAddr("fe800000000000000212740100010101")
	dst := mustAddr("fe80000000000000000000fffe00abcd")
	msg := signICMPv6(src, dst, rplMessage(rplCodeDIO))
	frame := delimit(macHeaderBytes(),
		[]byte{0x68, 0x92}, // 011 01 0 00 | 1 0 01 0 0 10
		[]byte{0x00, 0x00, 0x00},
		[]byte{0x3a, 0x21},
		iid, []byte{0xab, 0xcd}, msg)

	p, err := Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, 0x21, p.HopLimit)
	assert.Equal(t, hex.EncodeToString(src[:]), p.Src)
	assert.Equal(t, hex.EncodeToString(dst[:]), p.Dst)
	assert.True(t, p.ChecksumValid)
}

func TestDecodeTrafficFlowAndContextEncodings(t *testing.T) {
	tests := []struct {
		name string
		iphc []byte
		hop  int
	}{
		{name: "TF=0 nothing inline", iphc: []byte{0x62, 0x33}, hop: 64},      // 011 00 0 10 | 0 0 11 0 0 11
		{name: "TF=2 nothing inline", iphc: []byte{0x72, 0x33}, hop: 64},      // 011 10 0 10 | 0 0 11 0 0 11
		{name: "TF=3 nothing inline", iphc: []byte{0x7a, 0x33}, hop: 64},      // 011 11 0 10 | 0 0 11 0 0 11
		{name: "CID=1 no identifier byte", iphc: []byte{0x7a, 0xb3}, hop: 64}, // 011 11 0 10 | 1 0 11 0 0 11
		{name: "TF=1 three bytes inline", iphc: []byte{0x6b, 0x33}, hop: 255}, // 011 01 0 11 | 0 0 11 0 0 11
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := signICMPv6(linkLocalSrc, linkLocalDst, rplMessage(rplCodeDAO))
			inline := []byte{}
			if tt.iphc[0]>>3&0x3 == 1 {
				inline = []byte{0x00, 0x00, 0x00}
			}
			p, err := Decode(delimit(macHeaderBytes(), tt.iphc, inline, []byte{0x3a}, msg))
			require.NoError(t, err)
			assert.Equal(t, models.ICMPv6Kind(models.RPLDestAdvert), p.Kind)
			assert.Equal(t, tt.hop, p.HopLimit)
			assert.Equal(t, hex.EncodeToString(linkLocalSrc[:]), p.Src)
			assert.Equal(t, hex.EncodeToString(linkLocalDst[:]), p.Dst)
			assert.True(t, p.ChecksumValid)
		})
	}
}

func TestDecodeCoAPGet(t *testing.T) {
	coap := cat(
		[]byte{0x44, 0x01, 0x12, 0x34, 0xaa, 0xbb, 0xcc, 0xdd},
		[]byte{0xb7}, []byte("sensors"),
		[]byte{0x04}, []byte("temp"),
		[]byte{0x43}, []byte("x=1"),
	)
	p, err := Decode(coapFrame(coap))
	require.NoError(t, err)

	assert.Equal(t, models.CoAPKind(models.CoAPGet), p.Kind)
	// the bytes after the token, read as text
	assert.Equal(t, "\uFFFDsensors\x04tempCx=1", p.CoapURL)
	assert.Equal(t, hex.EncodeToString(linkLocalSrc[:]), p.Src)
	assert.Equal(t, hex.EncodeToString(linkLocalDst[:]), p.Dst)
	assert.Empty(t, p.Checksum)
	assert.Equal(t, "Constrained Application Protocol (GET)", p.Info())
}

func TestDecodeCoAPContent(t *testing.T) {
	coap := cat([]byte{0x64, 0x45, 0x12, 0x34, 0xaa, 0xbb, 0xcc, 0xdd, 0xff}, []byte("22.5"))
	p, err := Decode(coapFrame(coap))
	require.NoError(t, err)

	assert.Equal(t, models.CoAPKind(models.CoAPContent), p.Kind)
	assert.Empty(t, p.CoapURL)
}

func TestDecodeCoAPOtherCode(t *testing.T) {
	p, err := Decode(coapFrame([]byte{0x40, 0x02, 0x00, 0x01}))
	require.NoError(t, err)
	assert.Equal(t, models.CoAPKind(models.CoAPNone), p.Kind)
	assert.Equal(t, "Constrained Application Protocol", p.Info())
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name  string
		frame []byte
		want  error
	}{
		{
			name:  "no delimiters",
			frame: []byte{0xc0},
			want:  ErrTruncated,
		},
		{
			name:  "truncated MAC header",
			frame: delimit([]byte{0x41, 0xc8, 0x05, 0xcd}),
			want:  ErrTruncated,
		},
		{
			name:  "missing dispatch",
			frame: delimit(macHeaderBytes()),
			want:  ErrTruncated,
		},
		{
			name:  "not an IPHC dispatch",
			frame: delimit(macHeaderBytes(), []byte{0xe0, 0x00, 0x00}),
			want:  ErrUnsupportedHeader,
		},
		{
			name:  "source context compression",
			frame: delimit(macHeaderBytes(), []byte{0x7a, 0x73, 0x3a}),
			want:  ErrUnsupportedHeader,
		},
		{
			name:  "destination context compression",
			frame: delimit(macHeaderBytes(), []byte{0x7a, 0x37, 0x3a}),
			want:  ErrUnsupportedHeader,
		},
		{
			name:  "compressed next header",
			frame: delimit(macHeaderBytes(), []byte{0x7e, 0x33, 0x3a}),
			want:  ErrUnsupportedHeader,
		},
		{
			name:  "unknown next header",
			frame: delimit(macHeaderBytes(), []byte{0x7a, 0x33, 0x06}, make([]byte, 20)),
			want:  ErrUnsupportedHeader,
		},
		{
			name:  "uncompressed non-ICMPv6",
			frame: delimit(macHeaderBytes(), []byte{0x41, 0x60, 0, 0, 0, 0, 8, 0x11, 0x40}),
			want:  ErrUnsupportedHeader,
		},
		{
			name:  "elided source without link-layer source",
			frame: delimit([]byte{0x41, 0x08, 0x05}, panOnAir, macDstShortOnAir, []byte{0x7a, 0x3b, 0x3a, 0x1a}, rplMessage(1)),
			want:  ErrUnsupportedHeader,
		},
		{
			name:  "short ICMPv6 message",
			frame: delimit(macHeaderBytes(), []byte{0x7a, 0x33, 0x3a, 155, 1}),
			want:  ErrTruncated,
		},
		{
			name:  "hop-by-hop not followed by UDP",
			frame: delimit(macHeaderBytes(), []byte{0x7a, 0x33, 0x00, 0x3a, 0x00}, make([]byte, 6)),
			want:  ErrUnsupportedHeader,
		},
		{
			name:  "truncated UDP header",
			frame: delimit(macHeaderBytes(), []byte{0x7a, 0x33, 0x00, 0x11, 0x00}, make([]byte, 6), []byte{0x16, 0x33}),
			want:  ErrTruncated,
		},
		{
			name:  "CoAP token length over 8",
			frame: coapFrame([]byte{0x49, 0x01, 0x00, 0x01}),
			want:  ErrUnsupportedHeader,
		},
		{
			name:  "CoAP version 2",
			frame: coapFrame([]byte{0x84, 0x01, 0x00, 0x01, 0xaa, 0xbb, 0xcc, 0xdd}),
			want:  ErrUnsupportedHeader,
		},
		{
			name:  "CoAP header cut short",
			frame: coapFrame([]byte{0x44, 0x01}),
			want:  ErrTruncated,
		},
		{
			name:  "CoAP token cut short",
			frame: coapFrame([]byte{0x44, 0x01, 0x00, 0x01, 0xaa}),
			want:  ErrTruncated,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Decode(tt.frame)
			assert.Nil(t, p)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestMulticastAddress(t *testing.T) {
	tests := []struct {
		name   string
		mode   uint16
		inline []byte
		want   string
	}{
		{name: "full inline", mode: 0, inline: allRPLNodes[:], want: "ff02000000000000000000000000001a"},
		{name: "48-bit", mode: 1, inline: []byte{0x05, 0x11, 0x22, 0x33, 0x44, 0x55}, want: "ff050000000000000000001122334455"},
		{name: "32-bit", mode: 2, inline: []byte{0x05, 0x11, 0x22, 0x33}, want: "ff050000000000000000000000112233"},
		{name: "8-bit", mode: 3, inline: []byte{0x01}, want: "ff020000000000000000000000000001"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &cursor{buf: tt.inline}
			a, err := multicastAddress(c, tt.mode)
			require.NoError(t, err)
			assert.Equal(t, tt.want, hex.EncodeToString(a[:]))
			assert.Zero(t, c.remaining())
		})
	}
}

func TestInterfaceID(t *testing.T) {
	iid, err := interfaceID([]byte{0x00, 0x12, 0x74, 0x01, 0x00, 0x01, 0x01, 0x01})
	require.NoError(t, err)
	assert.Equal(t, "0212740100010101", hex.EncodeToString(iid[:]))

	iid, err = interfaceID([]byte{0x00, 0x05})
	require.NoError(t, err)
	assert.Equal(t, "000000fffe000005", hex.EncodeToString(iid[:]))

	_, err = interfaceID(nil)
	assert.Error(t, err)
}

func TestCoapURLIsRemainingText(t *testing.T) {
	tests := []struct {
		name string
		rest []byte
		want string
	}{
		{name: "nothing after token", rest: nil, want: ""},
		{name: "uri-path option", rest: cat([]byte{0xb4}, []byte("test")), want: "\uFFFDtest"},
		{name: "plain text", rest: []byte("/sensors/temp"), want: "/sensors/temp"},
		{name: "utf-8 kept", rest: []byte("/t\u00e9"), want: "/t\u00e9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Decode(coapFrame(cat([]byte{0x44, 0x01, 0x12, 0x34, 0xaa, 0xbb, 0xcc, 0xdd}, tt.rest)))
			require.NoError(t, err)
			assert.Equal(t, models.CoAPKind(models.CoAPGet), p.Kind)
			assert.Equal(t, tt.want, p.CoapURL)
		})
	}
}

func TestCoapURIField(t *testing.T) {
	tests := []struct {
		name string
		opts []byte
		want string
	}{
		{name: "no options", opts: nil, want: ""},
		{name: "single path", opts: cat([]byte{0xb4}, []byte("test")), want: "/test"},
		{name: "path and query", opts: cat([]byte{0xb7}, []byte("sensors"), []byte{0x04}, []byte("temp"), []byte{0x43}, []byte("x=1")), want: "/sensors/temp?x=1"},
		{name: "stops at payload marker", opts: cat([]byte{0xb1}, []byte("a"), []byte{0xff}, []byte("zz")), want: "/a"},
		{name: "extended length", opts: cat([]byte{0xbd, 0x00}, []byte("abcdefghijklm")), want: "/abcdefghijklm"},
		{name: "malformed falls back to text", opts: cat([]byte{0xb9}, []byte("ab")), want: "ab"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Decode(coapFrame(cat([]byte{0x44, 0x01, 0x12, 0x34, 0xaa, 0xbb, 0xcc, 0xdd}, tt.opts)))
			require.NoError(t, err)

			layers, _ := Details(p)
			coapLayer := layers[len(layers)-1]
			require.Equal(t, "CoAP", coapLayer.Name)
			uri := ""
			for _, f := range coapLayer.Fields {
				if f.Name == "URI" {
					uri = f.Value
				}
			}
			assert.Equal(t, tt.want, uri)
		})
	}
}
