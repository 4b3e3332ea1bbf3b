// Package node holds the Node value type and the Database interface
// the core consumes but never implements: persistence is an external
// collaborator's problem.
package node

import "encoding/hex"

// Board identifies the physical hardware a node runs on. The mapping from
// firmware-reported board id to capability flags is fixed by the device
// family, not by mesh configuration.
type Board int

const (
	BoardUnknown Board = iota
	BoardIris
	BoardPrometeo
	BoardSoter
	BoardThor
	BoardRhea
)

// IsLowPower reports whether nodes of this board run on battery and sleep
// between wake beacons, as opposed to mains-powered nodes that stay awake.
func (b Board) IsLowPower() bool { return b == BoardIris || b == BoardSoter }

// IsPowerMeter reports whether the board exposes the Pwmt power-metering
// model.
func (b Board) IsPowerMeter() bool { return b == BoardThor }

// boardIDs maps the firmware's numeric board id (low byte of the UUID) to
// a Board.
var boardIDs = map[byte]Board{
	0: BoardIris, 1: BoardIris, 2: BoardIris,
	6: BoardPrometeo, 7: BoardPrometeo,
	16: BoardIris, 17: BoardIris,
	20: BoardPrometeo, 21: BoardSoter,
	24: BoardIris, 25: BoardPrometeo, 28: BoardSoter,
	30: BoardPrometeo, 31: BoardThor, 32: BoardThor,
	33: BoardRhea, 34: BoardThor, 35: BoardIris,
}

// BoardFromID resolves the board for a firmware-reported board id byte,
// returning BoardUnknown for an id outside the known set.
func BoardFromID(id byte) Board {
	if b, ok := boardIDs[id]; ok {
		return b
	}
	return BoardUnknown
}

// Node is a provisioned remote mesh device.
type Node struct {
	MAC          [6]byte
	UUID         [16]byte
	UnicastAddr  uint16
	DevKey       [16]byte
	NetKeyIndex  uint16
	Name         string
	Board        Board
	SleepPeriod  uint32
	SleepTS      int64
	LastMsgTS    int64
}

// NewNode builds a Node from its MAC and UUID, deriving its Board from the
// UUID's board-id byte (the firmware places it at a fixed offset).
func NewNode(mac [6]byte, uuid [16]byte, unicast uint16) *Node {
	return &Node{
		MAC:         mac,
		UUID:        uuid,
		UnicastAddr: unicast,
		Board:       BoardFromID(uuid[0]),
	}
}

// MACString renders the MAC as lowercase hex with no separators, for
// logging.
func (n *Node) MACString() string {
	return hex.EncodeToString(n.MAC[:])
}

// IsLowPower reports whether n sleeps between wake beacons.
func (n *Node) IsLowPower() bool { return n.Board.IsLowPower() }

// Database is the external node-persistence collaborator: the core
// never implements this, only consumes it. Implementations must be
// safe for concurrent use.
type Database interface {
	// GetAddress returns the gateway's own mesh unicast address.
	GetAddress() uint16
	// GetNetKey returns the mesh network key.
	GetNetKey() [16]byte
	// GetNodes returns every stored node.
	GetNodes() []*Node
	// GetNodeByAddress returns the node at addr, or nil.
	GetNodeByAddress(addr uint16) *Node
	// GetNodeByMAC returns the node with the given MAC, or nil.
	GetNodeByMAC(mac [6]byte) *Node
	// StoreNode inserts or updates n.
	StoreNode(n *Node)
	// RemoveNode deletes n.
	RemoveNode(n *Node)
}
