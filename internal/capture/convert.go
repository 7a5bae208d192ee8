package capture

// Convert quantises a float sample to signed 16-bit: scale by 32768,
// truncate toward zero, saturate at the int16 range. No dithering.
func Convert(sample float32) int16 {
	v := sample * 32768
	switch {
	case v <= -32768:
		return -32768
	case v >= 32767:
		return 32767
	case v != v:
		return 0
	}
	return int16(int32(v))
}

// ConvertInto converts len(src) samples into dst, which must be at least as
// long as src.
func ConvertInto(dst []int16, src []float32) {
	dst = dst[:len(src)]
	for i, s := range src {
		dst[i] = Convert(s)
	}
}
