// Package imports pulls in every built-in extension: protocols, registry
// backends, transports, serializations, filters and cluster policies. Blank
// import it once instead of naming each plugin.
package imports

import (
	_ "github.com/nmxmxh/janus/internal/cluster"
	_ "github.com/nmxmxh/janus/internal/filter"
	_ "github.com/nmxmxh/janus/internal/protocol/dubbo"
	_ "github.com/nmxmxh/janus/internal/protocol/injvm"
	_ "github.com/nmxmxh/janus/internal/registry/protocol"
	_ "github.com/nmxmxh/janus/internal/registry/redis"
	_ "github.com/nmxmxh/janus/internal/registry/static"
	_ "github.com/nmxmxh/janus/internal/registry/zookeeper"
	_ "github.com/nmxmxh/janus/internal/remoting/tcp"
	_ "github.com/nmxmxh/janus/internal/remoting/ws"
	_ "github.com/nmxmxh/janus/internal/serialize"
)
