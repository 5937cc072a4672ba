// Package protocol implements the wire format of the rudp transport:
// the datagram header and the fixed-size command records that follow it.
package protocol

import (
	"errors"
	"fmt"
)

// Protocol limits.
const (
	MinimumMTU            = 576
	MaximumMTU            = 4096
	MaximumPacketCommands = 32
	MinimumWindowSize     = 4096
	MaximumWindowSize     = 65536
	MinimumChannelCount   = 1
	MaximumChannelCount   = 255
	MaximumPeerID         = 0xFFF
	MaximumFragmentCount  = 1024 * 1024
)

// Header bits.
const (
	HeaderFlagCompressed = 1 << 14
	HeaderFlagSentTime   = 1 << 15
	HeaderFlagMask       = HeaderFlagCompressed | HeaderFlagSentTime

	HeaderSessionMask  = 3 << 12
	HeaderSessionShift = 12

	// HeaderMinSize is the size of a header without sent time.
	HeaderMinSize = 2
	// HeaderMaxSize is the size of a header carrying sent time.
	HeaderMaxSize = 4
)

// Command byte flags.
const (
	CommandFlagAcknowledge = 1 << 7
	CommandFlagUnsequenced = 1 << 6
	CommandMask            = 0x3F

	commandHeaderLen = 4 // command(1), channelID(1), reliableSeq(2)
)

var (
	// ErrShortBuffer occurs when a buffer cannot hold the record being read or written.
	ErrShortBuffer = errors.New("buffer too short")

	// ErrUnknownCommand occurs when a command tag does not select a known command.
	ErrUnknownCommand = errors.New("unknown command")
)

// CommandType selects the payload shape of a command.
type CommandType uint8

// Command types.
const (
	CommandNone                   = CommandType(0)
	CommandAcknowledge            = CommandType(1)
	CommandConnect                = CommandType(2)
	CommandVerifyConnect          = CommandType(3)
	CommandDisconnect             = CommandType(4)
	CommandPing                   = CommandType(5)
	CommandSendReliable           = CommandType(6)
	CommandSendUnreliable         = CommandType(7)
	CommandSendFragment           = CommandType(8)
	CommandSendUnsequenced        = CommandType(9)
	CommandBandwidthLimit         = CommandType(10)
	CommandThrottleConfigure      = CommandType(11)
	CommandSendUnreliableFragment = CommandType(12)
	CommandCount                  = CommandType(13)
)

func (ct CommandType) String() string {
	var names = []string{
		CommandNone:                   "NONE",
		CommandAcknowledge:            "ACKNOWLEDGE",
		CommandConnect:                "CONNECT",
		CommandVerifyConnect:          "VERIFY_CONNECT",
		CommandDisconnect:             "DISCONNECT",
		CommandPing:                   "PING",
		CommandSendReliable:           "SEND_RELIABLE",
		CommandSendUnreliable:         "SEND_UNRELIABLE",
		CommandSendFragment:           "SEND_FRAGMENT",
		CommandSendUnsequenced:        "SEND_UNSEQUENCED",
		CommandBandwidthLimit:         "BANDWIDTH_LIMIT",
		CommandThrottleConfigure:      "THROTTLE_CONFIGURE",
		CommandSendUnreliableFragment: "SEND_UNRELIABLE_FRAGMENT",
	}
	if int(ct) >= len(names) {
		return fmt.Sprintf("UNKNOWN:%d", ct)
	}
	return names[ct]
}

var commandSizes = [CommandCount]int{
	CommandNone:                   0,
	CommandAcknowledge:            commandHeaderLen + 4,
	CommandConnect:                commandHeaderLen + 44,
	CommandVerifyConnect:          commandHeaderLen + 40,
	CommandDisconnect:             commandHeaderLen + 4,
	CommandPing:                   commandHeaderLen,
	CommandSendReliable:           commandHeaderLen + 2,
	CommandSendUnreliable:         commandHeaderLen + 4,
	CommandSendFragment:           commandHeaderLen + 20,
	CommandSendUnsequenced:        commandHeaderLen + 4,
	CommandBandwidthLimit:         commandHeaderLen + 8,
	CommandThrottleConfigure:      commandHeaderLen + 12,
	CommandSendUnreliableFragment: commandHeaderLen + 20,
}

// CommandSize returns the encoded size of a command of the given type,
// or 0 if the type is not a valid command.
func CommandSize(ct CommandType) int {
	if ct >= CommandCount {
		return 0
	}
	return commandSizes[ct]
}
