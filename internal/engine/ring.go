package engine

import "lowpansniff/internal/models"

// packetRing keeps the most recent packets in arrival order. Numbers are
// consecutive, so a packet is found by its offset from the oldest one.
type packetRing struct {
	buf  []models.PacketInfo
	head int // index of the oldest entry
	size int
}

func newPacketRing(capacity int) *packetRing {
	return &packetRing{buf: make([]models.PacketInfo, capacity)}
}

func (r *packetRing) push(info models.PacketInfo) {
	if len(r.buf) == 0 {
		return
	}
	if r.size < len(r.buf) {
		r.buf[(r.head+r.size)%len(r.buf)] = info
		r.size++
		return
	}
	r.buf[r.head] = info
	r.head = (r.head + 1) % len(r.buf)
}

func (r *packetRing) at(i int) models.PacketInfo {
	return r.buf[(r.head+i)%len(r.buf)]
}

func (r *packetRing) list() []models.PacketInfo {
	out := make([]models.PacketInfo, r.size)
	for i := range out {
		out[i] = r.at(i)
	}
	return out
}

func (r *packetRing) find(number int) (models.PacketInfo, bool) {
	if r.size == 0 {
		return models.PacketInfo{}, false
	}
	i := number - r.at(0).Number
	if i < 0 || i >= r.size {
		return models.PacketInfo{}, false
	}
	return r.at(i), true
}

func (r *packetRing) reset() {
	clear(r.buf)
	r.head, r.size = 0, 0
}
