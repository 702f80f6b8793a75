package speech

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// 火山引擎流式识别使用的二进制帧格式：
// 4 字节头 | 可选 4 字节序号 | (错误帧) 4 字节错误码 | 4 字节负载长度 | 负载
const (
	protocolVersion = 0b0001
	headerWords     = 0b0001
)

// MessageType 帧类型
type MessageType uint8

const (
	FullClientRequest  MessageType = 0b0001
	AudioOnlyRequest   MessageType = 0b0010
	FullServerResponse MessageType = 0b1001
	ServerAck          MessageType = 0b1011
	ServerError        MessageType = 0b1111
)

// MessageFlags 序号标志
type MessageFlags uint8

const (
	NoSequence       MessageFlags = 0b0000
	PositiveSequence MessageFlags = 0b0001
	LastNoSequence   MessageFlags = 0b0010
	LastSequence     MessageFlags = 0b0011
)

// SerializationMethod 负载序列化方式
type SerializationMethod uint8

const (
	RawSerialization  SerializationMethod = 0b0000
	JSONSerialization SerializationMethod = 0b0001
)

// CompressionMethod 负载压缩方式
type CompressionMethod uint8

const (
	NoCompression   CompressionMethod = 0b0000
	GzipCompression CompressionMethod = 0b0001
)

// ErrShortFrame is returned when a frame ends before its declared fields.
var ErrShortFrame = errors.New("speech: truncated frame")

// Frame is one binary message exchanged with the recognition endpoint.
type Frame struct {
	Type          MessageType
	Flags         MessageFlags
	Serialization SerializationMethod
	Compression   CompressionMethod
	Sequence      int32
	ErrorCode     uint32
	Payload       []byte
}

func (f Frame) hasSequence() bool {
	return f.Flags == PositiveSequence || f.Flags == LastSequence
}

// Last reports whether the frame closes the stream.
func (f Frame) Last() bool {
	return f.Flags == LastNoSequence || f.Flags == LastSequence || f.Sequence < 0
}

// MarshalBinary 按协议编码帧。
func (f Frame) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(12 + len(f.Payload))

	buf.WriteByte(protocolVersion<<4 | headerWords)
	buf.WriteByte(uint8(f.Type)<<4 | uint8(f.Flags)&0x0F)
	buf.WriteByte(uint8(f.Serialization)<<4 | uint8(f.Compression)&0x0F)
	buf.WriteByte(0)

	var word [4]byte
	if f.hasSequence() {
		binary.BigEndian.PutUint32(word[:], uint32(f.Sequence))
		buf.Write(word[:])
	}
	if f.Type == ServerError {
		binary.BigEndian.PutUint32(word[:], f.ErrorCode)
		buf.Write(word[:])
	}
	binary.BigEndian.PutUint32(word[:], uint32(len(f.Payload)))
	buf.Write(word[:])
	buf.Write(f.Payload)

	return buf.Bytes(), nil
}

// ParseFrame 解码一帧；头部扩展字节会被跳过。
func ParseFrame(data []byte) (Frame, error) {
	if len(data) < 4 {
		return Frame{}, ErrShortFrame
	}
	if version := data[0] >> 4; version != protocolVersion {
		return Frame{}, fmt.Errorf("unsupported protocol version: %d", version)
	}

	headerSize := int(data[0]&0x0F) * 4
	if headerSize < 4 || len(data) < headerSize {
		return Frame{}, ErrShortFrame
	}

	f := Frame{
		Type:          MessageType(data[1] >> 4),
		Flags:         MessageFlags(data[1] & 0x0F),
		Serialization: SerializationMethod(data[2] >> 4),
		Compression:   CompressionMethod(data[2] & 0x0F),
	}
	rest := data[headerSize:]

	next := func() (uint32, error) {
		if len(rest) < 4 {
			return 0, ErrShortFrame
		}
		v := binary.BigEndian.Uint32(rest[:4])
		rest = rest[4:]
		return v, nil
	}

	if f.hasSequence() {
		seq, err := next()
		if err != nil {
			return Frame{}, fmt.Errorf("read sequence: %w", err)
		}
		f.Sequence = int32(seq)
	}
	if f.Type == ServerError {
		code, err := next()
		if err != nil {
			return Frame{}, fmt.Errorf("read error code: %w", err)
		}
		f.ErrorCode = code
	}

	size, err := next()
	if err != nil {
		return Frame{}, fmt.Errorf("read payload size: %w", err)
	}
	if uint32(len(rest)) < size {
		return Frame{}, fmt.Errorf("payload expected %d bytes, got %d: %w", size, len(rest), ErrShortFrame)
	}
	if size > 0 {
		f.Payload = append([]byte(nil), rest[:size]...)
	}
	return f, nil
}

// Body returns the payload with compression removed.
func (f Frame) Body() ([]byte, error) {
	switch f.Compression {
	case NoCompression:
		return f.Payload, nil
	case GzipCompression:
		if len(f.Payload) == 0 {
			return nil, nil
		}
		return gunzip(f.Payload)
	default:
		return nil, fmt.Errorf("unsupported compression method: %d", f.Compression)
	}
}

// newConfigFrame 构造携带 JSON 请求参数的首帧。
func newConfigFrame(body []byte) (Frame, error) {
	payload, err := gzipBytes(body)
	if err != nil {
		return Frame{}, err
	}
	return Frame{
		Type:          FullClientRequest,
		Flags:         NoSequence,
		Serialization: JSONSerialization,
		Compression:   GzipCompression,
		Payload:       payload,
	}, nil
}

// newAudioFrame 构造音频帧，最后一包使用负序号。
func newAudioFrame(chunk []byte, sequence int32, last bool) (Frame, error) {
	payload, err := gzipBytes(chunk)
	if err != nil {
		return Frame{}, err
	}

	flags := PositiveSequence
	if last {
		flags = LastSequence
		sequence = -sequence
	}
	return Frame{
		Type:          AudioOnlyRequest,
		Flags:         flags,
		Serialization: RawSerialization,
		Compression:   GzipCompression,
		Sequence:      sequence,
		Payload:       payload,
	}, nil
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := gzip.NewWriter(&buf)
	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return nil, fmt.Errorf("gzip write failed: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("gzip close failed: %w", err)
	}
	return buf.Bytes(), nil
}

func gunzip(data []byte) ([]byte, error) {
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip reader creation failed: %w", err)
	}
	defer reader.Close()

	out, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("gzip read failed: %w", err)
	}
	return out, nil
}
