package crc32engine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChecksumLiteralExample(t *testing.T) {
	// spec's literal end-to-end example: B = 0xDE 0xAD 0xBE 0xEF.
	got := Checksum([]byte{0xDE, 0xAD, 0xBE, 0xEF})
	require.Equal(t, uint32(0x7C9CA35A), got)
}

func TestChecksumEmpty(t *testing.T) {
	require.Equal(t, uint32(0), Checksum(nil))
}

func TestUpdateGroupMatchesByteByByte(t *testing.T) {
	data := []byte{0xDE, 0xAD, 0xBE, 0xEF, 0x01, 0x02, 0x03}

	byByte := New()
	byByte.Update(data)

	grouped := New()
	grouped.UpdateGroup([4]byte{data[0], data[1], data[2], data[3]})
	grouped.UpdateByte(data[4])
	grouped.UpdateByte(data[5])
	grouped.UpdateByte(data[6])

	require.Equal(t, byByte.Sum32(), grouped.Sum32(), "group folding diverged from byte folding")
}

func TestSum32DoesNotMutate(t *testing.T) {
	e := New()
	e.Update([]byte{0x01, 0x02})
	first := e.Sum32()
	second := e.Sum32()
	require.Equal(t, first, second, "Sum32 must not mutate engine state")

	e.UpdateByte(0x03)
	require.NotEqual(t, first, e.Sum32(), "Sum32 did not reflect the byte folded after the first call")
}

func TestResetReturnsToInitialState(t *testing.T) {
	e := New()
	e.Update([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	e.Reset()
	require.Equal(t, Checksum(nil), e.Sum32())
}

// TestChecksumZeroPadsTrailingPartialGroup locks in the closure property
// spec §4.4 requires: CRC32_host(B) must equal CRC32_device_stream(B),
// where the device folds in 32-bit groups and zero-pads a trailing
// partial group on the right (pkg/receiver's foldByte/finalizeCRC). A
// plain byte-wise fold with no padding is NOT this value whenever
// len(B)%4 != 0, which is the overwhelming majority of real image
// lengths (spec §8's boundary cases: N=1, 63, 65 all leave a non-empty
// trailing group).
func TestChecksumZeroPadsTrailingPartialGroup(t *testing.T) {
	for _, n := range []int{1, 2, 3, 5, 63, 65, 127} {
		n := n
		t.Run("", func(t *testing.T) {
			data := make([]byte, n)
			for i := range data {
				data[i] = byte(i + 1)
			}

			// Manually fold complete groups, then zero-pad and fold the
			// trailing partial group exactly once -- the same sequence
			// pkg/receiver's foldByte+finalizeCRC perform byte-at-a-time.
			e := New()
			i := 0
			for ; i+4 <= len(data); i += 4 {
				e.UpdateGroup([4]byte{data[i], data[i+1], data[i+2], data[i+3]})
			}
			if rem := len(data) - i; rem > 0 {
				var group [4]byte
				copy(group[:], data[i:])
				e.UpdateGroup(group)
			}
			want := e.Sum32()

			got := Checksum(data)
			require.Equal(t, want, got, "n=%d", n)

			if n%4 != 0 {
				plain := New()
				plain.Update(data)
				require.NotEqual(t, plain.Sum32(), got,
					"n=%d: Checksum must diverge from a plain unpadded byte-wise fold", n)
			}
		})
	}
}
