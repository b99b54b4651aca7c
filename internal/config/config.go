// Package config holds the CLI configuration types.
package config

import (
	"errors"
	"fmt"

	"github.com/1ureka/ringxfer/internal/protocol"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Role represents the process's chosen role.
type Role string

const (
	RoleSend    Role = "send"
	RoleReceive Role = "receive"
	RoleMonitor Role = "monitor"
)

// Transport selects how senders reach the receiver.
type Transport string

const (
	TransportTCP    Transport = "tcp"
	TransportWebRTC Transport = "webrtc"
)

// Defaults.
const (
	DefaultCapacity   = 8
	DefaultPackets    = 16
	DefaultMaxClients = 5
)

// Config stores all parameters gathered from CLI flags or interactive prompts.
type Config struct {
	Role      Role
	Transport Transport

	Host string // Send: receiver host (tcp)
	Port int    // Send: receiver port; Receive: listen port (tcp) or signaling port (webrtc)

	Packets     int  // Send: number of packets to send
	Capacity    int  // Receive: ring buffer capacity, power of two
	Checksum    bool // both ends: MD5 integrity check
	Verbose     bool // Receive: log buffer contents after each enqueue
	PayloadSize int  // both ends: payload bytes per packet, agreed out-of-band
	MaxClients  int  // Receive: concurrent receiver limit

	Rate float64 // Receive: processor packets per second, 0 = unlimited

	StatusAddr string // Receive: address of the websocket status feed, empty = off
	WSURL      string // Send (webrtc): signaling URL; Monitor: status feed URL
}

// Default returns a Config with every optional field set to its default.
func Default() Config {
	return Config{
		Transport:   TransportTCP,
		Host:        "127.0.0.1",
		Packets:     DefaultPackets,
		Capacity:    DefaultCapacity,
		PayloadSize: protocol.DefaultPayloadSize,
		MaxClients:  DefaultMaxClients,
	}
}

// Validate checks the fields required by the configured role.
func (c Config) Validate() error {
	switch c.Transport {
	case TransportTCP, TransportWebRTC:
	default:
		return fmt.Errorf("%w: unknown transport %q", ErrInvalidConfig, c.Transport)
	}

	switch c.Role {
	case RoleSend:
		if c.Packets < 0 {
			return fmt.Errorf("%w: packet count must not be negative", ErrInvalidConfig)
		}
		if c.Transport == TransportWebRTC {
			if c.WSURL == "" {
				return fmt.Errorf("%w: missing signaling URL", ErrInvalidConfig)
			}
		} else if err := validPort(c.Port); err != nil {
			return err
		}

	case RoleReceive:
		if err := validPort(c.Port); err != nil {
			return err
		}
		if c.Capacity <= 0 || c.Capacity&(c.Capacity-1) != 0 {
			return fmt.Errorf("%w: buffer capacity %d is not a power of two", ErrInvalidConfig, c.Capacity)
		}
		if c.MaxClients <= 0 {
			return fmt.Errorf("%w: client limit must be positive", ErrInvalidConfig)
		}
		if c.Rate < 0 {
			return fmt.Errorf("%w: processing rate must not be negative", ErrInvalidConfig)
		}

	case RoleMonitor:
		if c.WSURL == "" {
			return fmt.Errorf("%w: missing status URL", ErrInvalidConfig)
		}
		return nil

	default:
		return fmt.Errorf("%w: unknown role %q", ErrInvalidConfig, c.Role)
	}

	if c.PayloadSize <= 0 {
		return fmt.Errorf("%w: payload size must be positive", ErrInvalidConfig)
	}
	return nil
}

func validPort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%w: port must be 1~65535", ErrInvalidConfig)
	}
	return nil
}
