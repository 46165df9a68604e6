package serialize

import (
	"bytes"

	jsoniter "github.com/json-iterator/go"

	errs "github.com/nmxmxh/janus/pkg/errors"
	"github.com/nmxmxh/janus/pkg/json"
)

func init() {
	Set("json", func() Serialization { return jsonSerialization{} })
}

// jsonSerialization (id 6) streams newline-separated JSON values. It trades
// the compactness of hessian2 for a body readable by anything.
type jsonSerialization struct{}

func (jsonSerialization) ID() byte { return JSONID }

func (jsonSerialization) NewOutput() DataOutput {
	o := &jsonOutput{}
	o.enc = json.NewEncoder(&o.buf)
	return o
}

func (jsonSerialization) NewInput(data []byte) DataInput {
	return &jsonInput{dec: json.NewDecoder(bytes.NewReader(data))}
}

type jsonOutput struct {
	buf bytes.Buffer
	enc *jsoniter.Encoder
}

func (o *jsonOutput) WriteObject(v interface{}) error {
	if err := o.enc.Encode(v); err != nil {
		return errs.Serializationf("json encode: %v", err)
	}
	return nil
}

func (o *jsonOutput) Bytes() []byte { return o.buf.Bytes() }

type jsonInput struct {
	dec *jsoniter.Decoder
}

func (i *jsonInput) ReadObject() (interface{}, error) {
	var v interface{}
	if err := i.dec.Decode(&v); err != nil {
		return nil, errs.Serializationf("json decode: %v", err)
	}
	return v, nil
}
