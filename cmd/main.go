package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	grpcapi "ai-speech-translate-core/internal/api/grpc"
	"ai-speech-translate-core/internal/app"
	"ai-speech-translate-core/internal/config"
	"ai-speech-translate-core/internal/events"
	httptransport "ai-speech-translate-core/internal/http"
	"ai-speech-translate-core/internal/observability"
	"ai-speech-translate-core/internal/observability/logging"
	"ai-speech-translate-core/internal/observability/metrics"
	"ai-speech-translate-core/internal/registry"
	"ai-speech-translate-core/internal/service/grammar"
	"ai-speech-translate-core/internal/service/pipeline"
	"ai-speech-translate-core/internal/service/stt"
	"ai-speech-translate-core/internal/service/stt/google"
	"ai-speech-translate-core/internal/service/stt/mock"
	"ai-speech-translate-core/internal/service/translation"
	"ai-speech-translate-core/internal/transport/ws"
)

func main() {
	cfg := config.Load()

	logging.Init(logging.Config{
		Level:  cfg.Observability.LogLevel,
		Format: cfg.Observability.LogFormat,
	})

	application := app.New(cfg)
	if err := application.Start(); err != nil {
		log.Fatal().Err(err).Msg("application failed to start")
	}
	defer application.Shutdown()

	log.Info().
		Str("servicePrincipal", cfg.Service.Principal).
		Str("wsAddr", cfg.WebSocket.Addr).
		Str("grpcPort", cfg.Service.GRPCPort).
		Str("metricsPort", cfg.Observability.MetricsPort).
		Str("logLevel", cfg.Observability.LogLevel).
		Msg("Starting AI Speech Translate Core service")

	log.Info().
		Str("provider", cfg.STT.Provider).
		Str("languageCode", cfg.STT.LanguageCode).
		Int("sampleRateHz", cfg.STT.SampleRateHz).
		Bool("interimResults", cfg.STT.InterimResults).
		Str("audioEncoding", cfg.STT.AudioEncoding).
		Msg("STT configuration")

	log.Info().
		Str("grammarProvider", cfg.Grammar.Provider).
		Str("translationProvider", cfg.Translation.Provider).
		Str("translationTier", cfg.Translation.Tier).
		Msg("Grammar/translation configuration")

	var obsServer *observability.Server
	if cfg.Observability.MetricsEnabled {
		obsServer = observability.NewServer(":" + cfg.Observability.MetricsPort)
		obsServer.Start()
	}

	publisher := events.New(&events.Config{
		Enabled:      cfg.Kafka.Enabled,
		Brokers:      cfg.Kafka.Brokers,
		TopicPartial: cfg.Kafka.TopicPartial,
		TopicFinal:   cfg.Kafka.TopicFinal,
		Principal:    cfg.Kafka.Principal,
	})
	defer publisher.Close()

	var grammarWorker pipeline.GrammarWorker
	if cfg.Grammar.Provider == "openai" && cfg.Grammar.APIKey != "" {
		grammarWorker = grammar.New(cfg.Grammar.APIKey)
	} else {
		grammarWorker = grammar.NewMock()
	}

	var translationWorker pipeline.TranslationWorker
	if cfg.Translation.Provider == "openai" && cfg.Translation.APIKey != "" {
		translationWorker = translation.New(cfg.Translation.APIKey, translation.Tier(cfg.Translation.Tier), cfg.Translation.RateLimit)
	} else {
		translationWorker = translation.NewMock()
	}

	store := registry.New()

	sttFactory := newAdapterFactory(cfg)

	wsServer := ws.NewServer(store, grammarWorker, translationWorker, publisher, sttFactory, cfg.WebSocket)

	router := httptransport.NewRouter(application, wsServer)
	httpSrv := &http.Server{
		Addr:    cfg.WebSocket.Addr,
		Handler: router,
	}
	go func() {
		log.Info().Str("addr", cfg.WebSocket.Addr).Msg("websocket/HTTP server listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP serve failed")
		}
	}()

	// gRPC is kept as a health-check-only surface alongside the
	// websocket data plane; the telephony streaming RPC it used to host
	// has been replaced entirely by the host websocket connection.
	lis, err := net.Listen("tcp", ":"+cfg.Service.GRPCPort)
	if err != nil {
		log.Fatal().Err(err).Str("port", cfg.Service.GRPCPort).Msg("Failed to listen")
	}
	grpcServer := grpc.NewServer(
		grpc.UnaryInterceptor(observability.UnaryServerInterceptor()),
		grpc.StreamInterceptor(observability.StreamServerInterceptor(metrics.DefaultMetrics)),
	)
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	grpcapi.RegisterHealth(healthServer)

	go func() {
		log.Info().Str("port", cfg.Service.GRPCPort).Msg("gRPC health server listening")
		if err := grpcServer.Serve(lis); err != nil {
			log.Fatal().Err(err).Msg("gRPC serve failed")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info().Msg("Received shutdown signal")

	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Error shutting down HTTP server")
	}
	if obsServer != nil {
		if err := obsServer.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("Error shutting down observability server")
		}
	}

	grpcServer.GracefulStop()
	log.Info().Msg("Server stopped")
}

// newAdapterFactory returns a ws.AdapterFactory that builds one STT
// adapter and recovery transcriber per host session, selected by
// cfg.STT.Provider. The mock provider needs no external credentials
// and is the default for local development.
func newAdapterFactory(cfg *config.Configuration) ws.AdapterFactory {
	return func(ctx context.Context) (stt.Adapter, pipeline.RecoveryTranscriber, error) {
		if cfg.STT.Provider == "google" {
			gcfg := google.Config{
				LanguageCode:    cfg.STT.LanguageCode,
				SampleRateHz:    cfg.STT.SampleRateHz,
				InterimResults:  cfg.STT.InterimResults,
				AudioEncoding:   cfg.STT.AudioEncoding,
				SingleUtterance: true,
			}
			adapter, err := google.NewWithConfig(ctx, gcfg)
			if err != nil {
				return nil, nil, err
			}
			// The recovery pass runs on its own short-lived client rather
			// than the adapter's streaming client: it is a separate,
			// single-shot RPC that must not compete with the live stream.
			speechClient, err := speech.NewClient(ctx)
			if err != nil {
				return nil, nil, err
			}
			recoveryTranscriber := google.NewRecoveryTranscriber(speechClient, gcfg)
			return adapter, recoveryTranscriber, nil
		}
		return mock.New(), mock.NewRecoveryTranscriber(""), nil
	}
}
