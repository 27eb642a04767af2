package serialmux

import (
	"fmt"
	"sort"

	"go.bug.st/serial"
)

// RealPortFactory opens hardware ports through go.bug.st/serial.
type RealPortFactory struct{}

// Open implements SerialPortFactory.
func (RealPortFactory) Open(path string, mode *SerialPortMode) (SerialPorter, error) {
	if mode == nil {
		mode = DefaultSerialPortMode()
	}
	port, err := serial.Open(path, mode.serialMode())
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return port, nil
}

// AvailablePorts lists the serial ports present on this machine, sorted by
// name.
func AvailablePorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}
	sort.Strings(ports)
	return ports, nil
}
