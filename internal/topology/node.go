package topology

import (
	"lowpansniff/internal/models"
)

// Node is one address seen in the network and the packets it sent or
// received, in arrival order.
type Node struct {
	Address string
	Packets []*models.Packet
}

// Identifier is the short label the graph view draws: the last four
// characters of the address.
func (n *Node) Identifier() string {
	if len(n.Address) <= 4 {
		return n.Address
	}
	return n.Address[len(n.Address)-4:]
}

func (n *Node) info() models.NodeInfo {
	return models.NodeInfo{
		Address:     n.Address,
		Identifier:  n.Identifier(),
		PacketCount: len(n.Packets),
	}
}
