package proxy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmxmxh/janus/internal/protocol"
	"github.com/nmxmxh/janus/pkg/common"
	errs "github.com/nmxmxh/janus/pkg/errors"
)

type greeter struct {
	prefix string
}

func (g *greeter) Greet(name string) (string, error) {
	return g.prefix + name, nil
}

func (g *greeter) Fail(_ context.Context) error {
	return errs.New("nope")
}

func (g *greeter) Add(_ context.Context, a, b int64) (int64, error) {
	return a + b, nil
}

func TestServiceInvoker_Dispatch(t *testing.T) {
	url := common.MustParseURL("dubbo://127.0.0.1:20880/com.acme.Greeter")
	invoker := GetInvoker(&greeter{prefix: "hello "}, url)

	res := invoker.Invoke(context.Background(),
		protocol.NewInvocation("Greet", []string{"Ljava/lang/String;"}, []interface{}{"ada"}))
	require.NoError(t, res.Error())
	assert.Equal(t, "hello ada", res.Value())

	res = invoker.Invoke(context.Background(),
		protocol.NewInvocation("Add", []string{"J", "J"}, []interface{}{int64(2), int64(3)}))
	require.NoError(t, res.Error())
	assert.Equal(t, int64(5), res.Value())
}

func TestServiceInvoker_Errors(t *testing.T) {
	url := common.MustParseURL("dubbo://127.0.0.1:20880/com.acme.Greeter")
	invoker := GetInvoker(&greeter{}, url)

	res := invoker.Invoke(context.Background(), protocol.NewInvocation("Fail", nil, nil))
	assert.Error(t, res.Error())

	res = invoker.Invoke(context.Background(), protocol.NewInvocation("Missing", nil, nil))
	assert.ErrorIs(t, res.Error(), errs.ErrBiz)

	res = invoker.Invoke(context.Background(),
		protocol.NewInvocation("Greet", nil, []interface{}{"a", "b"}))
	assert.ErrorIs(t, res.Error(), errs.ErrBiz, "argument count mismatch is a caller fault")
}

func TestServiceInvoker_ConvertsNumericArgs(t *testing.T) {
	// wire decoding widens integers; dispatch must narrow them back
	url := common.MustParseURL("dubbo://127.0.0.1:20880/com.acme.Greeter")
	invoker := GetInvoker(&greeter{}, url)
	res := invoker.Invoke(context.Background(),
		protocol.NewInvocation("Add", nil, []interface{}{int32(1), int32(2)}))
	require.NoError(t, res.Error())
	assert.Equal(t, int64(3), res.Value())
}

type greeterStub struct {
	Greet func(ctx context.Context, name string) (string, error)
	Fail  func(ctx context.Context) error
}

func TestProxy_Implement(t *testing.T) {
	url := common.MustParseURL("dubbo://127.0.0.1:20880/com.acme.Greeter")
	service := GetInvoker(&greeter{prefix: "hi "}, url)
	p := New(service, nil)

	var stub greeterStub
	require.NoError(t, p.Implement(&stub))
	require.NotNil(t, stub.Greet)

	out, err := stub.Greet(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, "hi bob", out)

	assert.Error(t, stub.Fail(context.Background()))
}

func TestProxy_ImplementRejectsNonStruct(t *testing.T) {
	url := common.MustParseURL("dubbo://127.0.0.1:20880/com.acme.Greeter")
	p := New(GetInvoker(&greeter{}, url), nil)
	assert.Error(t, p.Implement("not a struct"))
}
