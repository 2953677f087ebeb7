package protocol

import (
	"fmt"
	"iter"
)

// DefaultSampleSizeBits is the 16-bit I/Q sample width the receiver is configured for.
const DefaultSampleSizeBits = 16

// SampleWidth converts a sample size in bits to bytes and validates it.
// Widths are truncated to whole bytes, so 12 bits means 1 byte.
func SampleWidth(sampleSizeBits int) (int, error) {
	width := sampleSizeBits / 8
	if width < 1 || width > 4 {
		return 0, fmt.Errorf("%w: %d bits gives %d bytes per sample, must be 1 to 4",
			ErrInvalidSampleSize, sampleSizeBits, width)
	}
	return width, nil
}

// Samples returns a lazy sequence of the samples packed in body.
// Each sample is read little-endian and widened to int32 by zero-filling the
// high-order bytes, so a 1-byte 0xFF yields 255. A trailing partial sample is
// dropped. The sequence may be ranged over any number of times.
func Samples(sampleSizeBits int, body []byte) (iter.Seq[int32], error) {
	width, err := SampleWidth(sampleSizeBits)
	if err != nil {
		return nil, err
	}

	return func(yield func(int32) bool) {
		for i := 0; i+width <= len(body); i += width {
			var v uint32
			for b := width - 1; b >= 0; b-- {
				v = v<<8 | uint32(body[i+b])
			}
			if !yield(int32(v)) {
				return
			}
		}
	}, nil
}

// SampleCount returns how many whole samples body holds at the given width.
func SampleCount(sampleSizeBits int, body []byte) int {
	width, err := SampleWidth(sampleSizeBits)
	if err != nil {
		return 0
	}
	return len(body) / width
}
