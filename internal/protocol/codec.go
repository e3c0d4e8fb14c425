package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Формат кадра: id uint8 | flags uint8 | length uint32 LE | payload[length]
const (
	HeaderSize     = 6
	MaxPayloadSize = 16 << 20

	// FlagCompressed тело кадра сжато zstd
	FlagCompressed uint8 = 1 << 0
	knownFlags           = FlagCompressed
)

var (
	// ErrIncompleteFrame в буфере ещё нет полного кадра; ничего не потреблено
	ErrIncompleteFrame = errors.New("incomplete frame")
	// ErrFrameTooLarge заявленная длина превышает MaxPayloadSize
	ErrFrameTooLarge = errors.New("frame too large")
	// ErrBadFrameFlags неизвестные биты флагов
	ErrBadFrameFlags = errors.New("unknown frame flags")
)

// Frame разобранный кадр с уже распакованным телом
type Frame struct {
	ID      PacketID
	Flags   uint8
	Payload []byte
}

// Codec кадрирует пакеты. Тела длиннее compressAbove сжимаются zstd (0: не сжимать).
// Безопасен для параллельного использования.
type Codec struct {
	compressAbove int
	encoder       *zstd.Encoder
	decoder       *zstd.Decoder
}

// NewCodec создаёт кодек кадров
func NewCodec(compressAbove int) (*Codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxPayloadSize))
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return &Codec{
		compressAbove: compressAbove,
		encoder:       enc,
		decoder:       dec,
	}, nil
}

// Close освобождает ресурсы zstd
func (c *Codec) Close() {
	c.encoder.Close()
	c.decoder.Close()
}

// AppendFrame кодирует пакет и дописывает кадр к dst
func (c *Codec) AppendFrame(dst []byte, p Packet) ([]byte, error) {
	payload := p.AppendPayload(nil)
	flags := uint8(0)

	if c.compressAbove > 0 && len(payload) > c.compressAbove {
		compressed := c.encoder.EncodeAll(payload, make([]byte, 0, len(payload)/2))
		if len(compressed) < len(payload) {
			payload = compressed
			flags |= FlagCompressed
		}
	}

	if len(payload) > MaxPayloadSize {
		return dst, fmt.Errorf("%s: %w (%d bytes)", p.ID(), ErrFrameTooLarge, len(payload))
	}

	var header [HeaderSize]byte
	header[0] = byte(p.ID())
	header[1] = flags
	binary.LittleEndian.PutUint32(header[2:], uint32(len(payload)))

	dst = append(dst, header[:]...)
	return append(dst, payload...), nil
}

// DecodeFrame разбирает первый кадр в buf. Возвращает число потреблённых байт.
// При ErrIncompleteFrame потреблено 0 байт: нужно дочитать данные и повторить.
func (c *Codec) DecodeFrame(buf []byte) (Frame, int, error) {
	if len(buf) < HeaderSize {
		return Frame{}, 0, ErrIncompleteFrame
	}

	id := PacketID(buf[0])
	flags := buf[1]
	length := binary.LittleEndian.Uint32(buf[2:HeaderSize])

	if flags&^knownFlags != 0 {
		return Frame{}, 0, fmt.Errorf("%w: 0x%02X", ErrBadFrameFlags, flags)
	}
	if length > MaxPayloadSize {
		return Frame{}, 0, fmt.Errorf("%w: %d bytes declared", ErrFrameTooLarge, length)
	}

	total := HeaderSize + int(length)
	if len(buf) < total {
		return Frame{}, 0, ErrIncompleteFrame
	}

	raw := buf[HeaderSize:total]
	var payload []byte
	if flags&FlagCompressed != 0 {
		decoded, err := c.decoder.DecodeAll(raw, nil)
		if err != nil {
			return Frame{}, 0, fmt.Errorf("decompress %s: %w", id, err)
		}
		payload = decoded
	} else {
		payload = append([]byte(nil), raw...)
	}

	return Frame{ID: id, Flags: flags, Payload: payload}, total, nil
}

// Marshal кодирует пакет в отдельный кадр
func (c *Codec) Marshal(p Packet) ([]byte, error) {
	return c.AppendFrame(nil, p)
}
