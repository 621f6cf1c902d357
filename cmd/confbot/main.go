package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	awssession "github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"confbot/internal/command"
	"confbot/internal/config"
	"confbot/internal/controller"
	"confbot/internal/metrics"
	"confbot/internal/pipeline"
	"confbot/internal/segmenter"
	"confbot/internal/session"
	"confbot/internal/store"
	"confbot/internal/transcribe"
	"confbot/internal/uploader"
	"confbot/internal/videoinput"
)

var version = "dev"

func main() {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	logger := slog.Default()

	if err := config.Load(); err != nil {
		slog.Debug("no .env file loaded", "error", err)
	}

	botID := config.GetEnv("BOT_ID", uuid.NewString())
	meetingID := config.GetEnv("MEETING_ID", "local-meeting")
	botName := config.GetEnv("BOT_NAME", "Recording Bot")
	redisAddr := config.GetEnv("REDIS_ADDR", "localhost:6379")
	bucket := config.GetEnv("S3_BUCKET", "confbot-recordings")
	region := config.GetEnv("AWS_REGION", "us-east-1")
	metricsAddr := config.GetEnv("METRICS_ADDR", ":9090")
	transcribeURL := config.GetEnv("TRANSCRIBE_URL", "")
	frameWidth := config.GetEnvInt("FRAME_WIDTH", 640)
	frameHeight := config.GetEnvInt("FRAME_HEIGHT", 360)

	slog.Info("confbot starting",
		"version", version,
		"bot", botID,
		"meeting", meetingID,
		"bucket", bucket,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	m := metrics.New()

	st := store.NewMemoryStore()
	st.SeedBot(store.Bot{
		ID:        botID,
		Name:      botName,
		MeetingID: meetingID,
		State:     store.BotStateJoining,
	})

	awsSess, err := awssession.NewSession(&aws.Config{Region: aws.String(region)})
	if err != nil {
		slog.Error("failed to create AWS session", "error", err)
		os.Exit(1)
	}
	storageKey := fmt.Sprintf("recordings/%s/%s.cbr", botID, uuid.NewString())
	up := uploader.New(s3.New(awsSess), bucket, storageKey, 0, logger, m)

	pipe := pipeline.New(pipeline.Config{
		FrameWidth:      frameWidth,
		FrameHeight:     frameHeight,
		FrameRate:       30,
		AudioSampleRate: segmenter.DefaultSampleRate,
	}, up.Append, logger, m)
	if err := pipe.Start(); err != nil {
		slog.Error("failed to start pipeline", "error", err)
		os.Exit(1)
	}

	var ctrl *controller.Controller
	seg := segmenter.New(segmenter.Config{}, nil, func(u segmenter.Utterance) {
		ctrl.SaveUtterance(u)
	}, logger, m)

	adapter := session.NewLoopback(botID, logger)
	vmgr := videoinput.NewManager(adapter, pipe, frameWidth, frameHeight, logger, m)
	selector := videoinput.NewSelector(vmgr, botID, adapter.Sharers, logger)

	adapter.SetCallbacks(session.Callbacks{
		OnVideoFrame: vmgr.HandleFrame,
		OnAudioChunk: func(speakerID string, pcm []byte, capturedAt time.Time) {
			seg.Add(speakerID, capturedAt, pcm)
		},
		OnMixedAudio: pipe.PushAudio,
		OnRawStatus:  vmgr.HandleRawStatus,
	})

	var proc *transcribe.Processor
	if transcribeURL != "" {
		proc = transcribe.NewProcessor(ctx, st, transcribe.NewHTTPClient(transcribeURL), nil, logger)
	}

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	listener := command.NewListener(rdb, botID, logger)

	ctrl = controller.New(controller.Params{
		BotID:     botID,
		Store:     st,
		Adapter:   adapter,
		Segmenter: seg,
		Pipeline:  pipe,
		Uploader:  up,
		Manager:   vmgr,
		Selector:  selector,
		Proc:      proc,
		Commands:  listener.Commands(),
		Log:       logger,
		Metrics:   m,
	})

	metricsSrv := &http.Server{Addr: metricsAddr, Handler: m.Handler()}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return ctrl.Run(ctx)
	})

	g.Go(func() error {
		if err := listener.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("command listener: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		slog.Info("metrics server listening", "addr", metricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return metricsSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("bot error", "error", err)
		os.Exit(1)
	}
	slog.Info("confbot stopped")
}
