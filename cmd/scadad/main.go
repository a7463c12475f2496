// Command scadad runs the PROFINET/Modbus SCADA gateway core: it speaks
// PROFINET cyclic data to a set of configured RTUs and exposes their
// sensors and actuators over Modbus TCP/RTU, bridging through an in-memory
// register map (spec §1).
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
