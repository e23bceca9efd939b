package capture

import (
	"bytes"
	"encoding/binary"
)

// EncodeWAV renders mono float32 PCM in [-1, 1] as a 16-bit little-endian
// WAV clip, the format the transcription endpoint accepts.
func EncodeWAV(samples []float32, sampleRate int) []byte {
	dataSize := len(samples) * 2

	buf := bytes.NewBuffer(make([]byte, 0, 44+dataSize))
	buf.WriteString("RIFF")
	le32(buf, uint32(36+dataSize))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	le32(buf, 16)
	le16(buf, 1) // PCM
	le16(buf, 1) // mono
	le32(buf, uint32(sampleRate))
	le32(buf, uint32(sampleRate*2)) // byte rate
	le16(buf, 2)                    // block align
	le16(buf, 16)                   // bits per sample

	buf.WriteString("data")
	le32(buf, uint32(dataSize))

	for _, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		le16(buf, uint16(int16(s*32767)))
	}
	return buf.Bytes()
}

func le16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func le32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}
