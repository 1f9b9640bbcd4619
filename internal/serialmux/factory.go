package serialmux

import (
	"fmt"

	"go.bug.st/serial"
)

// RealSerialPortFactory opens hardware ports through go.bug.st/serial.
type RealSerialPortFactory struct{}

// NewRealSerialPortFactory returns a factory for hardware serial ports.
func NewRealSerialPortFactory() *RealSerialPortFactory {
	return &RealSerialPortFactory{}
}

// Open opens the serial device at path.
func (RealSerialPortFactory) Open(path string, opts PortOptions) (SerialPorter, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return port, nil
}

// NewRealSerialMux creates a SerialMux instance backed by a real serial port at the
// given path using the provided serial options.
func NewRealSerialMux(path string, opts PortOptions) (*SerialMux[SerialPorter], error) {
	return OpenSerialMux(NewRealSerialPortFactory(), path, opts)
}

// OpenSerialMux opens a port through factory and wraps it in a SerialMux.
func OpenSerialMux(factory SerialPortFactory, path string, opts PortOptions) (*SerialMux[SerialPorter], error) {
	port, err := factory.Open(path, opts)
	if err != nil {
		return nil, err
	}
	return NewSerialMux(port), nil
}

// ListPorts returns the serial devices visible to the OS.
func ListPorts() ([]string, error) {
	return serial.GetPortsList()
}
