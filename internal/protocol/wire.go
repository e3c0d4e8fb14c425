package protocol

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// encoder пишет поля в формате protobuf wire без сгенерированного кода
type encoder struct {
	buf []byte
}

func (e *encoder) uint(num protowire.Number, v uint64) {
	if v == 0 {
		return
	}
	e.buf = protowire.AppendTag(e.buf, num, protowire.VarintType)
	e.buf = protowire.AppendVarint(e.buf, v)
}

func (e *encoder) sint(num protowire.Number, v int64) {
	if v == 0 {
		return
	}
	e.buf = protowire.AppendTag(e.buf, num, protowire.VarintType)
	e.buf = protowire.AppendVarint(e.buf, protowire.EncodeZigZag(v))
}

func (e *encoder) bool(num protowire.Number, v bool) {
	if v {
		e.uint(num, 1)
	}
}

func (e *encoder) str(num protowire.Number, s string) {
	e.buf = protowire.AppendTag(e.buf, num, protowire.BytesType)
	e.buf = protowire.AppendString(e.buf, s)
}

func (e *encoder) bytes(num protowire.Number, b []byte) {
	e.buf = protowire.AppendTag(e.buf, num, protowire.BytesType)
	e.buf = protowire.AppendBytes(e.buf, b)
}

// message кодирует вложенное сообщение через fn
func (e *encoder) message(num protowire.Number, fn func(*encoder)) {
	var sub encoder
	fn(&sub)
	e.bytes(num, sub.buf)
}

// field значение одного поля, прочитанного из wire формата
type field struct {
	typ protowire.Type
	u   uint64
	b   []byte
}

func (f field) uint16() uint16 { return uint16(f.u) }
func (f field) uint8() uint8   { return uint8(f.u) }
func (f field) int8() int8     { return int8(protowire.DecodeZigZag(f.u)) }
func (f field) bool() bool     { return f.u != 0 }
func (f field) str() string    { return string(f.b) }

// walk обходит поля сообщения; неизвестные типы значений пропускаются
func walk(b []byte, visit func(num protowire.Number, f field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		f := field{typ: typ}
		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("field %d: %w", num, protowire.ParseError(n))
			}
			f.u = v
			b = b[n:]
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fmt.Errorf("field %d: %w", num, protowire.ParseError(n))
			}
			f.b = v
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
			continue
		}

		if err := visit(num, f); err != nil {
			return err
		}
	}
	return nil
}
