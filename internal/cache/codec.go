package cache

import (
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/vmihailenco/msgpack/v5"
)

// Codec 负责 Entry 与字节之间的转换，供 fs/leveldb/sqlite/redis 后端复用。
type Codec interface {
	Name() string
	Encode(Entry) ([]byte, error)
	Decode([]byte) (Entry, error)
}

const (
	CodecMsgpack = "msgpack"
	CodecCBOR    = "cbor"
)

// NewCodec 按名称构造 Codec，空字符串默认 msgpack。
func NewCodec(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", CodecMsgpack:
		return msgpackCodec{}, nil
	case CodecCBOR:
		return newCBORCodec()
	default:
		return nil, fmt.Errorf("unsupported entry codec: %s", name)
	}
}

type msgpackCodec struct{}

func (msgpackCodec) Name() string { return CodecMsgpack }

func (msgpackCodec) Encode(entry Entry) ([]byte, error) {
	return msgpack.Marshal(entry)
}

func (msgpackCodec) Decode(b []byte) (Entry, error) {
	var entry Entry
	err := msgpack.Unmarshal(b, &entry)
	return entry, err
}

// cborCodec 使用确定性编码，时间字段按 RFC3339Nano 保存以保留纳秒精度。
type cborCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

func newCBORCodec() (Codec, error) {
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	enc, err := opts.EncMode()
	if err != nil {
		return nil, err
	}
	dec, err := (cbor.DecOptions{}).DecMode()
	if err != nil {
		return nil, err
	}
	return cborCodec{enc: enc, dec: dec}, nil
}

func (cborCodec) Name() string { return CodecCBOR }

func (c cborCodec) Encode(entry Entry) ([]byte, error) {
	return c.enc.Marshal(entry)
}

func (c cborCodec) Decode(b []byte) (Entry, error) {
	var entry Entry
	err := c.dec.Unmarshal(b, &entry)
	return entry, err
}
