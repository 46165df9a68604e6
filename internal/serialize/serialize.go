// Package serialize defines the body serialization plane. Each serialization
// is addressed two ways: by name on the URL (the serialization parameter) and
// by its wire id in the frame flags, so a decoder can pick the right one from
// the header alone.
package serialize

import (
	"fmt"
	"sync"

	"github.com/nmxmxh/janus/pkg/common"
	errs "github.com/nmxmxh/janus/pkg/errors"
	"github.com/nmxmxh/janus/pkg/extension"
)

// Wire ids of the serializations the codec understands.
const (
	Hessian2ID byte = 2
	JSONID     byte = 6
)

// DataOutput writes a sequence of values into one body.
type DataOutput interface {
	WriteObject(v interface{}) error
	Bytes() []byte
}

// DataInput reads the value sequence back in write order.
type DataInput interface {
	ReadObject() (interface{}, error)
}

// Serialization produces value streams for one encoding.
type Serialization interface {
	ID() byte
	NewOutput() DataOutput
	NewInput(data []byte) DataInput
}

var (
	point = extension.NewPoint("serialization", common.DefaultSerialization)

	idsMu sync.RWMutex
	byID  = map[byte]string{}
)

// Set registers a serialization under name, indexed by its wire id as well.
func Set(name string, factory func() Serialization) {
	point.Register(name, func() interface{} { return factory() })
	s := factory()
	idsMu.Lock()
	byID[s.ID()] = name
	idsMu.Unlock()
}

// Get returns the serialization registered under name.
func Get(name string) (Serialization, error) {
	inst, err := point.Get(name)
	if err != nil {
		return nil, err
	}
	return inst.(Serialization), nil
}

// GetByURL resolves the serialization chosen by url[serialization].
func GetByURL(url *common.URL) (Serialization, error) {
	inst, err := point.Adaptive(url, common.SerializationKey)
	if err != nil {
		return nil, err
	}
	return inst.(Serialization), nil
}

// GetByID resolves a serialization from the wire id in a frame header.
func GetByID(id byte) (Serialization, error) {
	idsMu.RLock()
	name, ok := byID[id]
	idsMu.RUnlock()
	if !ok {
		return nil, errs.Serializationf("unknown serialization id %d", id)
	}
	return Get(name)
}

// ToStringMap converts a decoded attachment map back to string keys and
// values. Hessian2 decodes maps as map[interface{}]interface{}.
func ToStringMap(v interface{}) map[string]string {
	out := map[string]string{}
	switch m := v.(type) {
	case nil:
	case map[string]string:
		for k, val := range m {
			out[k] = val
		}
	case map[string]interface{}:
		for k, val := range m {
			out[k] = fmt.Sprintf("%v", val)
		}
	case map[interface{}]interface{}:
		for k, val := range m {
			out[fmt.Sprintf("%v", k)] = fmt.Sprintf("%v", val)
		}
	}
	return out
}

// ToString converts a decoded value expected to be a string.
func ToString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}
