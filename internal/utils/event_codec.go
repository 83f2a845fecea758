package utils

import (
	"encoding/binary"
	"errors"
	"fmt"

	"google.golang.org/protobuf/proto"
)

const eventHeaderSize = 4

var ErrShortEvent = errors.New("event payload shorter than header")

// EncodeEvent 将 protobuf 消息编码为带事件类型前缀的二进制数据：
// - 前 4 字节为事件类型（uint32，小端序）
// - 后续为 protobuf 序列化数据（Deterministic，便于下游去重比对）
func EncodeEvent(eventType uint32, msg proto.Message) ([]byte, error) {
	const extraBuffer = 32

	buf := make([]byte, eventHeaderSize, eventHeaderSize+proto.Size(msg)+extraBuffer)
	binary.LittleEndian.PutUint32(buf, eventType)

	opts := proto.MarshalOptions{Deterministic: true}
	result, err := opts.MarshalAppend(buf, msg)
	if err != nil {
		return nil, fmt.Errorf("EncodeEvent: marshal %T: %w", msg, err)
	}
	return result, nil
}

// DecodeEvent 是 EncodeEvent 的逆操作，msg 由调用方按 eventType 选择
func DecodeEvent(data []byte, msg proto.Message) (uint32, error) {
	if len(data) < eventHeaderSize {
		return 0, ErrShortEvent
	}
	eventType := binary.LittleEndian.Uint32(data[:eventHeaderSize])
	if err := proto.Unmarshal(data[eventHeaderSize:], msg); err != nil {
		return eventType, fmt.Errorf("DecodeEvent: unmarshal %T: %w", msg, err)
	}
	return eventType, nil
}
