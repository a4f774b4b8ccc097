package sensorplot

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
)

// Binary websocket protocol served on /ws2. Every message is an 8 byte
// envelope header followed by the payload:
//
//	byte 0     version
//	byte 1-2   reserved
//	byte 3     message type
//	byte 4-7   payload length (uint32, little endian)
//
// DATA carries one series (one channel) as parallel float64 X/Y arrays.
// METADATA and STREAM_END carry length-prefixed JSON.
const (
	ProtocolVersion byte = 1

	MessageTypeData      byte = 0x01
	MessageTypeMetadata  byte = 0x02
	MessageTypeStreamEnd byte = 0x03

	EnvelopeHeaderSize = 8
)

type EnvelopeHeader struct {
	Version  byte
	Reserved [2]byte
	Type     byte
	Length   uint32
}

// DataMessage holds the new points of one channel. SeriesID is the index of
// the channel in Metadata.Channels; X is the reading time in seconds.
type DataMessage struct {
	SeriesID uint32
	Length   uint32
	X        []float64
	Y        []float64
}

type StreamEndMessage struct {
	Error bool
	Msg   string
}

type WSMessage struct {
	Header  EnvelopeHeader
	Payload interface{} // One of: DataMessage, Metadata, StreamEndMessage
}

func EncodeEnvelopeHeader(env EnvelopeHeader) []byte {
	buf := make([]byte, EnvelopeHeaderSize)
	buf[0] = env.Version
	buf[1] = env.Reserved[0]
	buf[2] = env.Reserved[1]
	buf[3] = env.Type
	binary.LittleEndian.PutUint32(buf[4:8], env.Length)
	return buf
}

func DecodeEnvelopeHeader(buf []byte) (EnvelopeHeader, error) {
	if len(buf) < EnvelopeHeaderSize {
		return EnvelopeHeader{}, fmt.Errorf("buffer too short: expected at least %d bytes, got %d", EnvelopeHeaderSize, len(buf))
	}

	return EnvelopeHeader{
		Version:  buf[0],
		Reserved: [2]byte{buf[1], buf[2]},
		Type:     buf[3],
		Length:   binary.LittleEndian.Uint32(buf[4:8]),
	}, nil
}

func EncodeDataMessage(msg DataMessage) ([]byte, error) {
	if len(msg.X) != len(msg.Y) {
		return nil, fmt.Errorf("X and Y arrays must have same length: X=%d, Y=%d", len(msg.X), len(msg.Y))
	}
	if uint32(len(msg.X)) != msg.Length {
		return nil, fmt.Errorf("Length field (%d) doesn't match array length (%d)", msg.Length, len(msg.X))
	}

	buf := make([]byte, 8+msg.Length*16)
	binary.LittleEndian.PutUint32(buf[0:4], msg.SeriesID)
	binary.LittleEndian.PutUint32(buf[4:8], msg.Length)

	offset := 8
	for _, values := range [][]float64{msg.X, msg.Y} {
		for _, v := range values {
			binary.LittleEndian.PutUint64(buf[offset:offset+8], math.Float64bits(v))
			offset += 8
		}
	}

	return buf, nil
}

func DecodeDataMessage(buf []byte) (DataMessage, error) {
	if len(buf) < 8 {
		return DataMessage{}, fmt.Errorf("buffer too short for DATA message: expected at least 8 bytes, got %d", len(buf))
	}

	msg := DataMessage{
		SeriesID: binary.LittleEndian.Uint32(buf[0:4]),
		Length:   binary.LittleEndian.Uint32(buf[4:8]),
	}

	if expected := 8 + uint64(msg.Length)*16; uint64(len(buf)) != expected {
		return DataMessage{}, fmt.Errorf("buffer size mismatch: expected %d bytes for %d pairs, got %d", expected, msg.Length, len(buf))
	}

	msg.X = make([]float64, msg.Length)
	msg.Y = make([]float64, msg.Length)

	offset := 8
	for _, values := range [][]float64{msg.X, msg.Y} {
		for i := range values {
			values[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[offset : offset+8]))
			offset += 8
		}
	}

	return msg, nil
}

// JSON payloads are prefixed with their uint32 length.
func encodeJSONPayload(v interface{}) ([]byte, error) {
	jsonData, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, 4+len(jsonData))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(jsonData)))
	copy(buf[4:], jsonData)
	return buf, nil
}

func decodeJSONPayload(buf []byte, v interface{}) error {
	if len(buf) < 4 {
		return fmt.Errorf("buffer too short for JSON payload: expected at least 4 bytes, got %d", len(buf))
	}

	jsonLength := binary.LittleEndian.Uint32(buf[0:4])
	if expected := 4 + uint64(jsonLength); uint64(len(buf)) != expected {
		return fmt.Errorf("buffer size mismatch: expected %d bytes, got %d", expected, len(buf))
	}

	return json.Unmarshal(buf[4:], v)
}

func EncodeMetadataMessage(metadata Metadata) ([]byte, error) {
	buf, err := encodeJSONPayload(metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return buf, nil
}

func DecodeMetadataMessage(buf []byte) (Metadata, error) {
	var metadata Metadata
	if err := decodeJSONPayload(buf, &metadata); err != nil {
		return Metadata{}, fmt.Errorf("failed to decode metadata: %w", err)
	}
	return metadata, nil
}

func EncodeStreamEndMessage(msg StreamEndMessage) ([]byte, error) {
	buf, err := encodeJSONPayload(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal stream end message: %w", err)
	}
	return buf, nil
}

func DecodeStreamEndMessage(buf []byte) (StreamEndMessage, error) {
	var msg StreamEndMessage
	if err := decodeJSONPayload(buf, &msg); err != nil {
		return StreamEndMessage{}, fmt.Errorf("failed to decode stream end message: %w", err)
	}
	return msg, nil
}

// EncodeWSMessage encodes header and payload. The header length is always
// recomputed from the encoded payload.
func EncodeWSMessage(msg WSMessage) ([]byte, error) {
	var payload []byte
	var err error

	switch msg.Header.Type {
	case MessageTypeData:
		dataMsg, ok := msg.Payload.(DataMessage)
		if !ok {
			return nil, fmt.Errorf("payload type mismatch: expected DataMessage for type 0x%02x, got %T", msg.Header.Type, msg.Payload)
		}
		payload, err = EncodeDataMessage(dataMsg)
	case MessageTypeMetadata:
		metadata, ok := msg.Payload.(Metadata)
		if !ok {
			return nil, fmt.Errorf("payload type mismatch: expected Metadata for type 0x%02x, got %T", msg.Header.Type, msg.Payload)
		}
		payload, err = EncodeMetadataMessage(metadata)
	case MessageTypeStreamEnd:
		streamEnd, ok := msg.Payload.(StreamEndMessage)
		if !ok {
			return nil, fmt.Errorf("payload type mismatch: expected StreamEndMessage for type 0x%02x, got %T", msg.Header.Type, msg.Payload)
		}
		payload, err = EncodeStreamEndMessage(streamEnd)
	default:
		return nil, fmt.Errorf("unknown message type: 0x%02x", msg.Header.Type)
	}

	if err != nil {
		return nil, err
	}

	msg.Header.Length = uint32(len(payload))
	return append(EncodeEnvelopeHeader(msg.Header), payload...), nil
}

func DecodeWSMessage(buf []byte) (WSMessage, error) {
	env, err := DecodeEnvelopeHeader(buf)
	if err != nil {
		return WSMessage{}, err
	}

	expectedSize := EnvelopeHeaderSize + uint64(env.Length)
	if uint64(len(buf)) < expectedSize {
		return WSMessage{}, fmt.Errorf("buffer too short: expected %d bytes (header + payload), got %d", expectedSize, len(buf))
	}

	payloadBytes := buf[EnvelopeHeaderSize:expectedSize]

	var payload interface{}
	switch env.Type {
	case MessageTypeData:
		payload, err = DecodeDataMessage(payloadBytes)
	case MessageTypeMetadata:
		payload, err = DecodeMetadataMessage(payloadBytes)
	case MessageTypeStreamEnd:
		payload, err = DecodeStreamEndMessage(payloadBytes)
	default:
		return WSMessage{}, fmt.Errorf("unknown message type: 0x%02x", env.Type)
	}

	if err != nil {
		return WSMessage{}, err
	}

	return WSMessage{Header: env, Payload: payload}, nil
}

func newWSMessage(messageType byte, payload interface{}) WSMessage {
	return WSMessage{
		Header:  EnvelopeHeader{Version: ProtocolVersion, Type: messageType},
		Payload: payload,
	}
}

// EncodeUpdate turns a session update into ready-to-send messages: one DATA
// message per channel that has new points (in Metadata.Channels order), or a
// single STREAM_END message for the end marker. Channels unknown to the
// metadata are skipped.
func EncodeUpdate(update Update, metadata Metadata) ([][]byte, error) {
	if update.StreamEnded {
		end := StreamEndMessage{}
		if update.StreamErr != nil {
			end.Error = true
			end.Msg = update.StreamErr.Error()
		}

		buf, err := EncodeWSMessage(newWSMessage(MessageTypeStreamEnd, end))
		if err != nil {
			return nil, err
		}
		return [][]byte{buf}, nil
	}

	var messages [][]byte
	for i, spec := range metadata.Channels {
		msg := DataMessage{SeriesID: uint32(i)}
		for _, reading := range update.Readings {
			value, ok := reading.Values[spec.Name]
			if !ok {
				continue
			}
			msg.X = append(msg.X, float64(reading.Time))
			msg.Y = append(msg.Y, value)
		}

		if len(msg.X) == 0 {
			continue
		}
		msg.Length = uint32(len(msg.X))

		buf, err := EncodeWSMessage(newWSMessage(MessageTypeData, msg))
		if err != nil {
			return nil, err
		}
		messages = append(messages, buf)
	}

	return messages, nil
}
