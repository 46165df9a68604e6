// Package json pins one jsoniter configuration for the whole module. The
// registry cache and the json serialization both read and write documents
// other runtimes produced, so stdlib-compatible behavior is required.
package json

import jsoniter "github.com/json-iterator/go"

var api = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	Marshal    = api.Marshal
	Unmarshal  = api.Unmarshal
	NewEncoder = api.NewEncoder
	NewDecoder = api.NewDecoder
)
