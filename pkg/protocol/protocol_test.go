package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAckByteWraps(t *testing.T) {
	cases := []struct {
		counter int
		want    byte
	}{
		{0, 'A'},
		{1, 'B'},
		{25, 'Z'},
		{26, 'A'},
		{27, 'B'},
		{52, 'A'},
	}
	for _, c := range cases {
		require.Equalf(t, c.want, AckByte(c.counter), "AckByte(%d)", c.counter)
	}
}

func TestIsAckByte(t *testing.T) {
	for b := 'A'; b <= 'Z'; b++ {
		require.Truef(t, IsAckByte(byte(b)), "IsAckByte(%q)", byte(b))
	}
	for _, b := range []byte{NAKByte, HandshakeByte, CRCCommandByte, '0', 0x00, 0xFF} {
		require.Falsef(t, IsAckByte(b), "IsAckByte(0x%02x)", b)
	}
}

func TestChunkCount(t *testing.T) {
	cases := []struct {
		n    int
		want int
	}{
		{0, 0},
		{1, 1},
		{63, 1},
		{64, 1},
		{65, 2},
		{128, 2},
		{129, 3},
		{MaxImageSize, MaxImageSize / ChunkSize},
	}
	for _, c := range cases {
		require.Equalf(t, c.want, ChunkCount(c.n), "ChunkCount(%d)", c.n)
	}
}

func TestNAKReasonStringIsNeverTransmittedButHumanReadable(t *testing.T) {
	reasons := []NAKReason{
		NAKReasonNone, NAKReasonSizeTooLarge, NAKReasonSizeZero,
		NAKReasonCRCMismatch, NAKReasonReceiverError, NAKReasonTimeout,
		NAKReasonProtocolViolation,
	}
	seen := map[string]bool{}
	for _, r := range reasons {
		s := r.String()
		require.NotEmpty(t, s)
		require.Falsef(t, seen[s], "NAKReason(%d).String() = %q duplicates another reason", r, s)
		seen[s] = true
	}
}
