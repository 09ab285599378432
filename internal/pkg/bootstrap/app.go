// internal/pkg/bootstrap/app.go
package bootstrap

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"adengine/internal/pkg/config"
	"adengine/internal/pkg/nacos"
	"adengine/internal/pkg/tracing"
)

// AppCtx 是注册路由时可用的公共组件
type AppCtx struct {
	Mux      *http.ServeMux
	Nacos    *nacos.Client // 未启用 Nacos 时为 nil
	Registry *prometheus.Registry
}

// AppInfo 包含启动一个服务所需的信息
type AppInfo struct {
	Config *config.Config
	// Setup 注册路由并启动后台任务，返回的 cleanup 在关停时按注册的逆序执行
	Setup func(ctx context.Context, appCtx AppCtx) (cleanup func(context.Context), err error)
}

// StartService 封装通用的启动与优雅关停逻辑
func StartService(info AppInfo) {
	cfg := info.Config
	serviceName := cfg.Service.Name

	// 1. Tracer
	endpoint := ""
	if cfg.Tracing.Enabled {
		endpoint = cfg.Tracing.JaegerEndpoint
	}
	tp, err := tracing.InitTracerProvider(serviceName, endpoint)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize tracer provider")
	}

	// 2. Nacos（可选）
	var namingClient *nacos.Client
	var ip string
	if cfg.Nacos.Enabled {
		namingClient, err = nacos.NewNacosClient(cfg.Nacos.ServerAddrs, cfg.Nacos.Namespace, cfg.Nacos.Group)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize nacos client")
		}
		ip, err = getOutboundIP()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to get outbound IP address")
		}
	}

	// 3. 路由与后台任务
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	registry := prometheus.NewRegistry()
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	cleanup := func(context.Context) {}
	if info.Setup != nil {
		c, err := info.Setup(ctx, AppCtx{Mux: mux, Nacos: namingClient, Registry: registry})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to set up service")
		}
		if c != nil {
			cleanup = c
		}
	}

	server := &http.Server{Addr: ":" + strconv.Itoa(cfg.Service.Port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info().Msgf("%s listening on :%d", serviceName, cfg.Service.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msgf("could not listen on %s", server.Addr)
		}
	}()

	// 4. 服务注册放在监听之后
	if namingClient != nil {
		if err := namingClient.RegisterServiceInstance(serviceName, ip, cfg.Service.Port); err != nil {
			log.Fatal().Err(err).Msg("failed to register service with nacos")
		}
	}

	// 5. 优雅关停
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msgf("Shutting down service %s...", serviceName)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if namingClient != nil {
		if err := namingClient.DeregisterServiceInstance(serviceName, ip, cfg.Service.Port); err != nil {
			log.Error().Err(err).Msg("Error deregistering from Nacos")
		}
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error shutting down http server")
	}
	stop()
	cleanup(shutdownCtx)
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error shutting down tracer provider")
	}
	log.Info().Msgf("Service %s gracefully shut down.", serviceName)
}

func getOutboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}
