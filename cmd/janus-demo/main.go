// Command janus-demo exports a greeter over the dubbo protocol through a
// static registry, refers it back and calls it once. It is the smallest
// end-to-end exercise of the export and refer pipelines.
package main

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/nmxmxh/janus/internal/config"
	_ "github.com/nmxmxh/janus/internal/imports"
	"github.com/nmxmxh/janus/pkg/logger"
)

// GreeterService is the exported provider implementation.
type GreeterService struct{}

// Greet answers with a greeting for name.
func (GreeterService) Greet(_ context.Context, name string) (string, error) {
	return "hello " + name, nil
}

// GreeterClient is the consumer-side stub filled by Implement.
type GreeterClient struct {
	Greet func(ctx context.Context, name string) (string, error)
}

func main() {
	log := logger.New(logger.Config{ServiceName: "janus-demo"})
	logger.SetDefault(log)
	defer func() { _ = log.Sync() }()

	app := &config.ApplicationConfig{Name: "janus-demo", Version: "0.1.0"}
	reg := &config.RegistryConfig{
		Protocol: "static",
		Address:  "127.0.0.1:2181",
		Params:   map[string]string{"file": filepath.Join(os.TempDir(), "janus-demo.cache")},
	}

	svc := &config.ServiceConfig{
		Interface:   "com.acme.Greeter",
		Application: app,
		Registries:  []*config.RegistryConfig{reg},
		Protocols:   []*config.ProtocolConfig{{Name: "dubbo", Host: "127.0.0.1"}},
	}
	if err := svc.Export(GreeterService{}); err != nil {
		log.Fatal("export failed", zap.Error(err))
	}

	ref := &config.ReferenceConfig{
		Interface:   "com.acme.Greeter",
		Application: app,
		Registries:  []*config.RegistryConfig{reg},
		Timeout:     3000,
	}
	var client GreeterClient
	if err := ref.Implement(&client); err != nil {
		log.Fatal("refer failed", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	reply, err := client.Greet(ctx, "janus")
	if err != nil {
		log.Fatal("call failed", zap.Error(err))
	}
	log.Info("reply received", zap.String("reply", reply))

	config.HandleSignals(ref.Destroy, svc.Unexport)
	select {}
}
