package serialize

import (
	hessian "github.com/apache/dubbo-go-hessian2"

	errs "github.com/nmxmxh/janus/pkg/errors"
)

func init() {
	Set("hessian2", func() Serialization { return hessian2Serialization{} })
}

// hessian2Serialization is the wire default (id 2), compatible with the
// hessian2 body encoding used by the Java protocol.
type hessian2Serialization struct{}

func (hessian2Serialization) ID() byte { return Hessian2ID }

func (hessian2Serialization) NewOutput() DataOutput {
	return &hessianOutput{enc: hessian.NewEncoder()}
}

func (hessian2Serialization) NewInput(data []byte) DataInput {
	return &hessianInput{dec: hessian.NewDecoder(data)}
}

type hessianOutput struct {
	enc *hessian.Encoder
}

func (o *hessianOutput) WriteObject(v interface{}) error {
	if err := o.enc.Encode(v); err != nil {
		return errs.Serializationf("hessian2 encode: %v", err)
	}
	return nil
}

func (o *hessianOutput) Bytes() []byte { return o.enc.Buffer() }

type hessianInput struct {
	dec *hessian.Decoder
}

func (i *hessianInput) ReadObject() (interface{}, error) {
	v, err := i.dec.Decode()
	if err != nil {
		return nil, errs.Serializationf("hessian2 decode: %v", err)
	}
	return v, nil
}
