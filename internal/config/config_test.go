package config

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/nmxmxh/janus/internal/filter"
	_ "github.com/nmxmxh/janus/internal/protocol/injvm"
	"github.com/nmxmxh/janus/pkg/common"
	errs "github.com/nmxmxh/janus/pkg/errors"
)

type calcService struct{}

func (s *calcService) Add(_ context.Context, a, b int64) (int64, error) {
	return a + b, nil
}

func (s *calcService) Fail(_ context.Context) error {
	return errs.Bizf("always fails")
}

type calcStub struct {
	Add  func(ctx context.Context, a, b int64) (int64, error)
	Fail func(ctx context.Context) error
}

func TestMethodParams_FlattensNonZeroValues(t *testing.T) {
	mc := &MethodConfig{Name: "greet", Timeout: 5000, Sticky: true, LoadBalance: "roundrobin"}
	got, err := methodParams(mc)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"greet.timeout":     "5000",
		"greet.sticky":      "true",
		"greet.loadbalance": "roundrobin",
	}, got, "zero values stay off the url")

	_, err = methodParams(&MethodConfig{Timeout: 1000})
	assert.Error(t, err, "a method config without a name is unusable")
}

func TestRegistryConfig_ToURL(t *testing.T) {
	rc := &RegistryConfig{Address: "127.0.0.1:2181", Params: map[string]string{"retry.period": "500"}}
	url, err := rc.ToURL()
	require.NoError(t, err)
	assert.Equal(t, common.RegistryProtocol, url.Protocol)
	assert.Equal(t, "static", url.Param(common.RegistryKey, ""), "backend defaults to static")
	assert.Equal(t, "500", url.Param("retry.period", ""))

	zk := &RegistryConfig{Protocol: "zookeeper", Address: "zk1:2181"}
	url, err = zk.ToURL()
	require.NoError(t, err)
	assert.Equal(t, "zookeeper", url.Param(common.RegistryKey, ""))

	_, err = (&RegistryConfig{}).ToURL()
	assert.Error(t, err)
}

func TestServiceConfig_TokenHandling(t *testing.T) {
	generated := &ServiceConfig{Interface: "com.acme.Calc", Token: "true"}
	params, err := generated.baseParams()
	require.NoError(t, err)
	assert.NotEmpty(t, params[common.TokenKey])
	assert.NotEqual(t, "true", params[common.TokenKey], "true means generate, not the literal")

	fixed := &ServiceConfig{Interface: "com.acme.Calc", Token: "sesame"}
	params, err = fixed.baseParams()
	require.NoError(t, err)
	assert.Equal(t, "sesame", params[common.TokenKey])

	plain := &ServiceConfig{Interface: "com.acme.Calc"}
	params, err = plain.baseParams()
	require.NoError(t, err)
	_, ok := params[common.TokenKey]
	assert.False(t, ok)
}

func TestServiceConfig_ScopeNoneExportsNothing(t *testing.T) {
	sc := &ServiceConfig{Interface: "com.acme.Calc", Scope: common.ScopeNone}
	require.NoError(t, sc.Export(&calcService{}))
	assert.Empty(t, sc.exporters)
}

func TestReferenceConfig_ConsumerParams(t *testing.T) {
	rc := &ReferenceConfig{
		Interface:     "com.acme.Calc",
		Group:         "payments",
		Version:       "2.0.0",
		Application:   &ApplicationConfig{Name: "billing"},
		Cluster:       "failfast",
		LoadBalance:   "roundrobin",
		Retries:       3,
		Sticky:        true,
		Generic:       true,
		CheckDisabled: true,
		Methods:       []*MethodConfig{{Name: "add", Timeout: 2000}},
	}
	params, err := rc.consumerParams()
	require.NoError(t, err)
	assert.Equal(t, "com.acme.Calc", params[common.InterfaceKey])
	assert.Equal(t, common.ConsumerSide, params[common.SideKey])
	assert.Equal(t, "payments", params[common.GroupKey])
	assert.Equal(t, "2.0.0", params[common.VersionKey])
	assert.Equal(t, "billing", params[common.ApplicationKey])
	assert.Equal(t, "failfast", params[common.ClusterKey])
	assert.Equal(t, "3", params[common.RetriesKey])
	assert.Equal(t, "true", params[common.StickyKey])
	assert.Equal(t, "true", params[common.GenericKey])
	assert.Equal(t, "false", params[common.CheckKey])
	assert.Equal(t, "2000", params["add.timeout"])
	assert.Equal(t, "add", params[common.MethodsKey])
}

func TestExportLocalAndReferDirect(t *testing.T) {
	svc := &ServiceConfig{
		Interface:   "com.acme.Calc",
		Scope:       common.ScopeLocal,
		Application: &ApplicationConfig{Name: "calc-app"},
	}
	require.NoError(t, svc.Export(&calcService{}))
	t.Cleanup(svc.Unexport)

	ref := &ReferenceConfig{
		Interface:   "com.acme.Calc",
		URL:         "injvm://127.0.0.1:0",
		Application: &ApplicationConfig{Name: "calc-client"},
	}
	t.Cleanup(ref.Destroy)

	var stub calcStub
	require.NoError(t, ref.Implement(&stub))

	sum, err := stub.Add(context.Background(), 2, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(5), sum)

	err = stub.Fail(context.Background())
	assert.ErrorIs(t, err, errs.ErrBiz)
}

func TestReferenceConfig_RejectsBlankDirectURL(t *testing.T) {
	ref := &ReferenceConfig{Interface: "com.acme.Calc", URL: " , "}
	_, err := ref.Refer()
	assert.Error(t, err, "a direct url naming no endpoints cannot resolve")
}

func TestBindHost_EnvOverridesConfig(t *testing.T) {
	t.Setenv(common.EnvIPToBind, "10.8.0.5")
	assert.Equal(t, "10.8.0.5", bindHost("192.168.1.1", nil))
}

func TestBindHost_ProbesTowardRegistry(t *testing.T) {
	t.Setenv(common.EnvIPToBind, "")
	registries := []*RegistryConfig{{Protocol: "static", Address: "127.0.0.1:2181"}}
	assert.Equal(t, "127.0.0.1", bindHost("", registries),
		"with nothing configured the bind address follows the route to the registry")
}

func TestBindPort_EnvOverridesConfig(t *testing.T) {
	t.Setenv(common.EnvPortToBind, "20900")
	port, err := bindPort("127.0.0.1", 20880)
	require.NoError(t, err)
	assert.Equal(t, 20900, port)
}

func TestReferenceConfig_CheckRejectsMissingProvider(t *testing.T) {
	ref := &ReferenceConfig{
		Interface: "com.acme.Nowhere",
		URL:       "injvm://127.0.0.1:0",
	}
	_, err := ref.Refer()
	assert.ErrorIs(t, err, errs.ErrForbidden, "check defaults on")

	relaxed := &ReferenceConfig{
		Interface:     "com.acme.Nowhere",
		URL:           "injvm://127.0.0.1:0",
		CheckDisabled: true,
	}
	t.Cleanup(relaxed.Destroy)
	invoker, err := relaxed.Refer()
	require.NoError(t, err)
	assert.False(t, invoker.IsAvailable())
}

func TestReferenceConfig_ReferIsCached(t *testing.T) {
	svc := &ServiceConfig{Interface: "com.acme.CalcCached", Scope: common.ScopeLocal}
	require.NoError(t, svc.Export(&calcService{}))
	t.Cleanup(svc.Unexport)

	ref := &ReferenceConfig{Interface: "com.acme.CalcCached", URL: "injvm://127.0.0.1:0"}
	t.Cleanup(ref.Destroy)
	first, err := ref.Refer()
	require.NoError(t, err)
	second, err := ref.Refer()
	require.NoError(t, err)
	assert.Same(t, first, second)
}
