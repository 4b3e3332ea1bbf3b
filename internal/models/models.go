// Package models implements the Model Dispatcher: one concrete type per
// vendor model, each building its wire commands
// with wire.EncodeModelOpcode3/2, sending them through the Tx Manager,
// and — where the model issues request/ack operations — building
// taskqueue.SimpleTask values for the Task Queue to run.
package models

import (
	"ttgw-go/internal/node"
)

// Sender is the subset of *txmanager.Manager every model needs: queue a
// frame for a specific node (device-key encryption) or a raw address
// (appkey encryption, used only by Transport's fragment frames).
type Sender interface {
	SendToNode(data []byte, n *node.Node)
	SendToAddr(data []byte, addr uint16, lowPriority bool)
}
