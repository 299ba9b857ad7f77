package media

import (
	"encoding/binary"
	"math"
)

// bitsPerSample is fixed at 16 for all PCM interchange in this package: the
// ffmpeg decode path requests s16le and EncodeWAV emits 16-bit containers.
const bitsPerSample = 16

// pcmToFloat32 converts 16-bit signed little-endian PCM to float32 samples
// normalised to [-1.0, 1.0]. Any trailing odd byte is ignored.
func pcmToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	samples := make([]float32, n)
	for i := range n {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		samples[i] = float32(sample) / 32768.0
	}
	return samples
}

// intToFloatMono converts interleaved integer PCM (as produced by the WAV
// decoder) to mono float32 by averaging all channels per frame and dividing
// by the full-scale value for the bit depth.
func intToFloatMono(data []int, channels, bitDepth int) []float32 {
	if channels <= 0 {
		channels = 1
	}
	scale := float32(int64(1) << (bitDepth - 1))
	frames := len(data) / channels
	mono := make([]float32, frames)
	for i := range frames {
		var sum float32
		for ch := range channels {
			sum += float32(data[i*channels+ch]) / scale
		}
		mono[i] = sum / float32(channels)
	}
	return mono
}

// resampleLinear converts a mono signal from one sample rate to another using
// linear interpolation. Returns the input unchanged when the rates already
// match.
func resampleLinear(in []float32, from, to int) []float32 {
	if from == to || from <= 0 || to <= 0 || len(in) == 0 {
		return in
	}
	n := int(math.Round(float64(len(in)) * float64(to) / float64(from)))
	if n < 1 {
		n = 1
	}
	out := make([]float32, n)
	step := float64(from) / float64(to)
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j >= len(in)-1 {
			out[i] = in[len(in)-1]
			continue
		}
		frac := float32(pos - float64(j))
		out[i] = in[j]*(1-frac) + in[j+1]*frac
	}
	return out
}

// peakNormalize scales the signal in place so its loudest sample reaches
// target. Gain is capped so quiet recordings are not amplified into noise;
// a silent signal is left untouched.
func peakNormalize(samples []float32, target float64) {
	var peak float64
	for _, s := range samples {
		if a := math.Abs(float64(s)); a > peak {
			peak = a
		}
	}
	if peak == 0 {
		return
	}
	gain := target / peak
	if gain > maxNormalizeGain {
		gain = maxNormalizeGain
	}
	for i := range samples {
		samples[i] = float32(float64(samples[i]) * gain)
	}
}

// float32ToPCM converts normalised float32 samples to 16-bit signed
// little-endian PCM, clipping out-of-range values.
func float32ToPCM(samples []float32) []byte {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := s * 32767.0
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		binary.LittleEndian.PutUint16(pcm[i*2:i*2+2], uint16(int16(v)))
	}
	return pcm
}

// EncodeWAV wraps mono float32 samples in a standard 16-bit RIFF/WAV
// container, suitable for upload to HTTP recognition services.
func EncodeWAV(samples []float32, sampleRate int) []byte {
	pcm := float32ToPCM(samples)

	const channels = 1
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8
	dataSize := len(pcm)

	buf := make([]byte, 44+dataSize)

	// RIFF chunk descriptor
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize)) // file size − 8
	copy(buf[8:12], "WAVE")

	// fmt sub-chunk
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)                    // sub-chunk size (PCM)
	binary.LittleEndian.PutUint16(buf[20:22], 1)                     // audio format: PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))      // num channels
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))    // sample rate
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))      // byte rate
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))    // block align
	binary.LittleEndian.PutUint16(buf[34:36], uint16(bitsPerSample)) // bits per sample

	// data sub-chunk
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}
