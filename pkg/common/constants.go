package common

// Parameter keys carried on URLs. Every component reads its knobs through
// these keys so the URL stays the single descriptor for an endpoint.
const (
	GroupKey           = "group"
	VersionKey         = "version"
	InterfaceKey       = "interface"
	CategoryKey        = "category"
	DynamicKey         = "dynamic"
	EnabledKey         = "enabled"
	CheckKey           = "check"
	ClusterKey         = "cluster"
	LoadBalanceKey     = "loadbalance"
	RetriesKey         = "retries"
	ForksKey           = "forks"
	TimeoutKey         = "timeout"
	WeightKey          = "weight"
	WarmupKey          = "warmup"
	StickyKey          = "sticky"
	SideKey            = "side"
	MethodsKey         = "methods"
	TokenKey           = "token"
	SerializationKey   = "serialization"
	HeartbeatKey       = "heartbeat"
	PayloadKey         = "payload"
	ThreadpoolKey      = "threadpool"
	ThreadsKey         = "threads"
	QueuesKey          = "queues"
	CorethreadsKey     = "corethreads"
	CodecKey           = "codec"
	DispatcherKey      = "dispatcher"
	TransporterKey     = "transporter"
	RegistryKey        = "registry"
	ExportKey          = "export"
	ReferKey           = "refer"
	ScopeKey           = "scope"
	GenericKey         = "generic"
	AnyhostKey         = "anyhost"
	ApplicationKey     = "application"
	TimestampKey       = "timestamp"
	RemoteTimestampKey = "remote.timestamp"
	ConnectTimeoutKey  = "connect.timeout"
	BackupKey          = "backup"
	RouterKey          = "router"
	RuleKey            = "rule"
	RuntimeKey         = "runtime"
	ForceKey           = "force"
	PriorityKey        = "priority"
	TagKey             = "tag"
	AccessLogKey       = "accesslog"
	ExecutesKey        = "executes"
	ActivesKey         = "actives"
	TPSLimitRateKey    = "tps"
	TPSLimitIntervalKey = "tps.interval"
	HashArgumentsKey   = "hash.arguments"
	HashNodesKey       = "hash.nodes"
	FailbackRetriesKey = "failbacktimes"
	SessionTimeoutKey  = "session"
	RetryPeriodKey     = "retry.period"
	FileKey            = "file"
	OnewayKey          = "oneway"
	AsyncKey           = "async"
	CircuitBreakerKey  = "circuitbreaker"
	ServiceFilterKey   = "service.filter"
	ReferenceFilterKey = "reference.filter"
)

// Categories partition the registry key space.
const (
	ProvidersCategory     = "providers"
	ConsumersCategory     = "consumers"
	RoutersCategory       = "routers"
	ConfiguratorsCategory = "configurators"
	AnyCategory           = "*"
)

// Sides of an invocation.
const (
	ProviderSide = "provider"
	ConsumerSide = "consumer"
)

// Scopes control where a service is exported.
const (
	ScopeNone   = "none"
	ScopeLocal  = "local"
	ScopeRemote = "remote"
	ScopeBoth   = "both"
)

// Well-known protocols.
const (
	DubboProtocol    = "dubbo"
	InjvmProtocol    = "injvm"
	RegistryProtocol = "registry"
	EmptyProtocol    = "empty"
	OverrideProtocol = "override"
	ConsumerProtocol = "consumer"
)

// Defaults applied when a URL carries no explicit parameter.
const (
	DefaultTimeout        = 1000
	DefaultConnectTimeout = 3000
	DefaultRetries        = 2
	DefaultForks          = 2
	DefaultWeight         = 100
	DefaultWarmup         = 10 * 60 * 1000
	DefaultHeartbeat      = 60 * 1000
	DefaultPayload        = 8 * 1024 * 1024
	DefaultCluster        = "failover"
	DefaultLoadBalance    = "random"
	DefaultSerialization  = "hessian2"
	DefaultThreads        = 200
	DefaultQueues         = 0
	DefaultRetryPeriod    = 5 * 1000
	DefaultFailbackTimes  = 3
	DefaultHashNodes      = 160
	DefaultSessionTimeout = 60 * 1000
)

// GenericInvoke is the method name carrying untyped generic calls.
const GenericInvoke = "$invoke"

// AnyValue matches every value in activate and router rules.
const AnyValue = "*"

// RemoveValuePrefix suppresses a named extension in an activate value list.
const RemoveValuePrefix = "-"

// Environment variables consulted when resolving bind and registry
// addresses during export.
const (
	EnvIPToBind       = "DUBBO_IP_TO_BIND"
	EnvPortToBind     = "DUBBO_PORT_TO_BIND"
	EnvIPToRegistry   = "DUBBO_IP_TO_REGISTRY"
	EnvPortToRegistry = "DUBBO_PORT_TO_REGISTRY"
)
