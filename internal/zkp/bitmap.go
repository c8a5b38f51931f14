package zkp

// unpackSignerBitmap is internal/tendermint's packBitmap encoding read back
// (LSB-first bit-per-slot); duplicated here rather than imported so this
// package doesn't need an import-only dependency on internal/tendermint's
// internals for one helper.
func unpackSignerBitmap(data []byte, n int) []bool {
	out := make([]bool, n)
	for i := range out {
		if i/8 < len(data) {
			out[i] = data[i/8]&(1<<uint(i%8)) != 0
		}
	}
	return out
}
