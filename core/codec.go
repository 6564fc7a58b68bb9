package core

import (
	"bytes"
	"encoding/json"
	"reflect"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/vmihailenco/msgpack/v5"
)

// decimals travel as strings in both codecs
func init() {
	msgpack.Register(decimal.Decimal{},
		func(e *msgpack.Encoder, v reflect.Value) error {
			return e.EncodeString(v.Interface().(decimal.Decimal).String())
		},
		func(d *msgpack.Decoder, v reflect.Value) error {
			s, err := d.DecodeString()
			if err != nil {
				return err
			}
			dec, err := decimal.NewFromString(s)
			if err != nil {
				return err
			}
			v.Set(reflect.ValueOf(dec))
			return nil
		})
}

type codec interface {
	Name() string
	FrameType() int
	Encode(v interface{}) ([]byte, error)
	Decode(data []byte, v interface{}) error
}

func codecFor(name string) codec {
	if name == "msgpack" {
		return msgpackCodec{}
	}
	return jsonCodec{}
}

type jsonCodec struct{}

func (jsonCodec) Name() string   { return "json" }
func (jsonCodec) FrameType() int { return websocket.TextMessage }

func (jsonCodec) Encode(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Decode(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

// msgpackCodec falls back to json tags for types without msgpack tags.
type msgpackCodec struct{}

func (msgpackCodec) Name() string   { return "msgpack" }
func (msgpackCodec) FrameType() int { return websocket.BinaryMessage }

func (msgpackCodec) Encode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (msgpackCodec) Decode(data []byte, v interface{}) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	return dec.Decode(v)
}
