package storage

import (
	"encoding/binary"
	"fmt"
)

// HeightScale is the number of stored height units per meter. Heightmap
// tiles hold signed quarter-meters.
const HeightScale = 4

// EncodeHeightmap serializes samples as little-endian int16.
func EncodeHeightmap(samples []int16) []byte {
	data := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[2*i:], uint16(s))
	}
	return data
}

// DecodeHeightmap parses a tile written by EncodeHeightmap holding exactly
// n samples.
func DecodeHeightmap(data []byte, n int) ([]int16, error) {
	if len(data) != 2*n {
		return nil, fmt.Errorf("storage: heightmap of %d bytes, want %d", len(data), 2*n)
	}
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[2*i:]))
	}
	return samples, nil
}
