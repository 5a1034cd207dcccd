package audio

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/hibiki-ai/hibiki/pkg/types"
)

// WriteWAV writes pcm as a minimal RIFF/WAVE file (PCM format chunk only).
// Used for turn artifact saving; the running pipeline never reads WAV back.
func WriteWAV(w io.Writer, format types.PCMFormat, pcm []byte) error {
	if format.SampleRate <= 0 || format.Channels <= 0 || format.BytesPerSample <= 0 {
		return fmt.Errorf("audio: invalid pcm format %+v", format)
	}

	dataLen := uint32(len(pcm))
	blockAlign := uint16(format.Channels * format.BytesPerSample)
	byteRate := uint32(format.BytesPerSecond())

	var header [44]byte
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], 36+dataLen)
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(header[22:24], uint16(format.Channels))
	binary.LittleEndian.PutUint32(header[24:28], uint32(format.SampleRate))
	binary.LittleEndian.PutUint32(header[28:32], byteRate)
	binary.LittleEndian.PutUint16(header[32:34], blockAlign)
	binary.LittleEndian.PutUint16(header[34:36], uint16(format.BytesPerSample*8))
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], dataLen)

	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("audio: write wav header: %w", err)
	}
	if _, err := w.Write(pcm); err != nil {
		return fmt.Errorf("audio: write wav data: %w", err)
	}
	return nil
}
