package sqlite

import (
	"encoding/binary"
	"math"
)

// serializeEmbedding converts a float32 slice to little-endian bytes.
func serializeEmbedding(embedding []float32) []byte {
	buf := make([]byte, len(embedding)*4)
	for i, v := range embedding {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// deserializeEmbedding is the inverse of serializeEmbedding. A buffer whose
// length is not a multiple of four decodes to nil so the record surfaces as
// an invalid embedding during validation instead of failing the whole scan.
func deserializeEmbedding(buf []byte) []float32 {
	if len(buf) == 0 || len(buf)%4 != 0 {
		return nil
	}
	embedding := make([]float32, len(buf)/4)
	for i := range embedding {
		embedding[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return embedding
}
