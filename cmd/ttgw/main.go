// Command ttgw runs the Bluetooth-Mesh gateway host process: "serve" runs the full gateway, "passthrough" relays a local
// serial port to a remote TLS endpoint with no gateway logic attached.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
