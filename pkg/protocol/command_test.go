package protocol

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandSize(t *testing.T) {
	cases := []struct {
		ct   CommandType
		want int
	}{
		{CommandNone, 0},
		{CommandAcknowledge, 8},
		{CommandConnect, 48},
		{CommandVerifyConnect, 44},
		{CommandDisconnect, 8},
		{CommandPing, 4},
		{CommandSendReliable, 6},
		{CommandSendUnreliable, 8},
		{CommandSendFragment, 24},
		{CommandSendUnsequenced, 8},
		{CommandBandwidthLimit, 12},
		{CommandThrottleConfigure, 16},
		{CommandSendUnreliableFragment, 24},
		{CommandCount, 0},
		{CommandType(CommandMask), 0},
	}

	for _, tc := range cases {
		t.Run(tc.ct.String(), func(t *testing.T) {
			assert.Equal(t, tc.want, CommandSize(tc.ct))
		})
	}
}

func TestPutReadCommand(t *testing.T) {
	const u16 = math.MaxUint16
	const u32 = math.MaxUint32
	hdr := func(ct CommandType, flags uint8) CommandHeader {
		return CommandHeader{Command: uint8(ct) | flags, ChannelID: 0xFF, ReliableSeq: u16}
	}

	cases := []struct {
		name string
		cmd  Command
	}{
		{
			name: "acknowledge",
			cmd:  &Acknowledge{CommandHeader: hdr(CommandAcknowledge, 0), ReceivedReliableSeq: u16, ReceivedSentTime: 1},
		},
		{
			name: "connect max",
			cmd: &Connect{
				CommandHeader:     hdr(CommandConnect, CommandFlagAcknowledge),
				OutgoingPeerID:    MaximumPeerID,
				IncomingSessionID: 0xFF, OutgoingSessionID: 0xFF,
				MTU: u32, WindowSize: u32, ChannelCount: u32,
				IncomingBandwidth: u32, OutgoingBandwidth: u32,
				PacketThrottleInterval: u32, PacketThrottleAcceleration: u32, PacketThrottleDeceleration: u32,
				ConnectID: u32, Data: u32,
			},
		},
		{
			name: "connect zero",
			cmd:  &Connect{CommandHeader: CommandHeader{Command: uint8(CommandConnect)}},
		},
		{
			name: "verify connect",
			cmd: &VerifyConnect{
				CommandHeader:  hdr(CommandVerifyConnect, CommandFlagAcknowledge),
				OutgoingPeerID: 12, IncomingSessionID: 1, OutgoingSessionID: 2,
				MTU: 1400, WindowSize: 4096, ChannelCount: 2, IncomingBandwidth: 3, OutgoingBandwidth: 4,
				PacketThrottleInterval: 5000, PacketThrottleAcceleration: 2, PacketThrottleDeceleration: 2,
				ConnectID: 0xDEADBEEF,
			},
		},
		{
			name: "disconnect",
			cmd:  &Disconnect{CommandHeader: hdr(CommandDisconnect, CommandFlagUnsequenced), Data: u32},
		},
		{
			name: "ping",
			cmd:  &Ping{CommandHeader: hdr(CommandPing, CommandFlagAcknowledge)},
		},
		{
			name: "send reliable",
			cmd:  &SendReliable{CommandHeader: hdr(CommandSendReliable, CommandFlagAcknowledge), DataLength: u16},
		},
		{
			name: "send unreliable",
			cmd:  &SendUnreliable{CommandHeader: hdr(CommandSendUnreliable, 0), UnreliableSeq: u16, DataLength: 0},
		},
		{
			name: "send fragment",
			cmd: &SendFragment{
				CommandHeader: hdr(CommandSendFragment, CommandFlagAcknowledge),
				StartSeq:      u16, DataLength: u16,
				FragmentCount: MaximumFragmentCount, FragmentNumber: u32, TotalLength: u32, FragmentOffset: u32,
			},
		},
		{
			name: "send unreliable fragment",
			cmd: &SendUnreliableFragment{SendFragment{
				CommandHeader: hdr(CommandSendUnreliableFragment, 0),
				StartSeq:      1, DataLength: 2, FragmentCount: 3, FragmentNumber: 4, TotalLength: 5, FragmentOffset: 6,
			}},
		},
		{
			name: "send unsequenced",
			cmd:  &SendUnsequenced{CommandHeader: hdr(CommandSendUnsequenced, CommandFlagUnsequenced), UnsequencedGroup: u16, DataLength: 9},
		},
		{
			name: "bandwidth limit",
			cmd:  &BandwidthLimit{CommandHeader: hdr(CommandBandwidthLimit, CommandFlagAcknowledge), IncomingBandwidth: u32, OutgoingBandwidth: 0},
		},
		{
			name: "throttle configure",
			cmd: &ThrottleConfigure{
				CommandHeader:          hdr(CommandThrottleConfigure, CommandFlagAcknowledge),
				PacketThrottleInterval: u32, PacketThrottleAcceleration: 0, PacketThrottleDeceleration: 7,
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := make([]byte, Size(tc.cmd)+3)
			n, err := PutCommand(b, tc.cmd)
			require.NoError(t, err)
			require.Equal(t, Size(tc.cmd), n)

			got, m, err := ReadCommand(b)
			require.NoError(t, err)
			assert.Equal(t, n, m)
			assert.Equal(t, tc.cmd, got)
		})
	}
}

func TestReadCommand_Errors(t *testing.T) {
	cases := []struct {
		name string
		b    []byte
		err  error
	}{
		{name: "shorter than header", b: []byte{byte(CommandPing), 0, 0}, err: ErrShortBuffer},
		{name: "none", b: []byte{byte(CommandNone), 0, 0, 0}, err: ErrUnknownCommand},
		{name: "tag past count", b: []byte{byte(CommandCount), 0, 0, 0}, err: ErrUnknownCommand},
		{name: "max tag with flags", b: []byte{0xFF, 0, 0, 0}, err: ErrUnknownCommand},
		{name: "truncated payload", b: []byte{byte(CommandAcknowledge), 0, 0, 0, 1, 2}, err: ErrShortBuffer},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := ReadCommand(tc.b)
			assert.Equal(t, tc.err, err)
		})
	}
}

func TestCommandHeader_Flags(t *testing.T) {
	h := CommandHeader{Command: uint8(CommandSendUnsequenced) | CommandFlagUnsequenced | CommandFlagAcknowledge}
	assert.Equal(t, CommandSendUnsequenced, h.Type())
	assert.True(t, h.Acknowledged())
	assert.True(t, h.Unsequenced())
}

func TestCommandType_String(t *testing.T) {
	assert.Equal(t, "VERIFY_CONNECT", CommandVerifyConnect.String())
	assert.Equal(t, "UNKNOWN:13", CommandCount.String())
}
