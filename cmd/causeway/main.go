package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"causeway/internal/bridge"
	"causeway/internal/config"
	"causeway/internal/satellite"
	"causeway/internal/uplink"
)

// driveChain exercises the full flat surface against the satellite at addr,
// the way a native caller would: pre-clear the error slot, call, check.
func driveChain(addr string, serialized string, cfg *config.Config) error {
	var errSlot string
	check := func(step string) error {
		if errSlot != "" {
			return fmt.Errorf("%s: %s", step, errSlot)
		}
		slog.Info("Bridge step succeeded", "step", step)
		return nil
	}

	version := bridge.GetIDVersion(0, &errSlot)
	if err := check("get id version"); err != nil {
		return err
	}

	info := bridge.UnpackIDVersion(version, &errSlot)
	if err := check("unpack id version"); err != nil {
		return err
	}
	slog.Info("Identity version", "number", info.Number)

	key := bridge.ParseAPIKey(serialized, &errSlot)
	if err := check("parse api key"); err != nil {
		return err
	}

	client := bridge.NewUplink(bridge.UplinkConfig{
		TLS:             bridge.TrustPolicy{SkipPeerCAWhitelist: true},
		IdentityVersion: version,
	}, &errSlot)
	if err := check("new uplink"); err != nil {
		return err
	}

	encryptionKey := make([]byte, uplink.KeySize)
	if _, err := rand.Read(encryptionKey); err != nil {
		return fmt.Errorf("generate encryption key: %w", err)
	}

	project := bridge.OpenProject(client, addr, key, bridge.ProjectOptions{
		EncryptionKey: encryptionKey,
	}, &errSlot)
	if err := check("open project"); err != nil {
		return err
	}

	created := bridge.CreateBucket(project, cfg.BucketName, &errSlot)
	if errSlot != "" {
		// A persistent data dir keeps the bucket across runs.
		slog.Info("Bucket not created, assuming it already exists", "detail", errSlot)
		errSlot = ""
	} else {
		slog.Info("Bridge step succeeded", "step", "create bucket")
		bridge.ReleaseHandle(bridge.Handle(created), &errSlot)
		if err := check("release created bucket"); err != nil {
			return err
		}
	}

	access := bridge.NewEncryptionAccess(encryptionKey)

	bucket := bridge.OpenBucket(project, cfg.BucketName, access, &errSlot)
	if err := check("open bucket"); err != nil {
		return err
	}

	bucketValue := bridge.BucketValue(bucket, &errSlot)
	if err := check("bucket value"); err != nil {
		return err
	}

	bucketInfo := bridge.UnpackBucket(bucketValue, &errSlot)
	if err := check("unpack bucket"); err != nil {
		return err
	}
	slog.Info("Opened bucket",
		"name", bucketInfo.Name,
		"path_cipher", bucketInfo.PathCipher,
		"segment_size", bucketInfo.SegmentSize,
	)

	buffer := bridge.NewBuffer([]byte("Hello from the causeway bridge!\n"))
	bridge.UploadObject(bucket, "greetings/hello.txt", buffer, &bridge.UploadOptions{
		ContentType: "text/plain",
	}, &errSlot)
	if err := check("upload object"); err != nil {
		return err
	}

	for _, h := range []bridge.Handle{
		bridge.Handle(buffer),
		bucketInfo.Access.Ref,
		bridge.Handle(bucket),
		bridge.Handle(project),
		bridge.Handle(client),
		bridge.Handle(key),
		version.Ref,
	} {
		bridge.ReleaseHandle(h, &errSlot)
		if errSlot != "" {
			return fmt.Errorf("release handle %d: %s", h, errSlot)
		}
	}

	return nil
}

func Run(ctx context.Context) error {

	handler := log.NewWithOptions(os.Stdout, log.Options{
		Level:           log.DebugLevel,
		TimeFormat:      time.RFC3339,
		ReportTimestamp: true,
		TimeFunction:    log.NowUTC,
		ReportCaller:    true,
	})

	slog.SetDefault(slog.New(handler))

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	serialized := cfg.APIKey
	if serialized == "" {
		key, err := uplink.MintAPIKey(cfg.AccessKeyID, cfg.SecretAccessKey)
		if err != nil {
			return fmt.Errorf("mint api key: %w", err)
		}
		serialized = key.Serialize()
	}

	eg, ctx := errgroup.WithContext(ctx)

	addr := cfg.SatelliteAddr
	if addr == "" {
		absDataDir, err := filepath.Abs(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("failed to resolve data directory: %w", err)
		}

		server, err := satellite.NewServer(ctx, satellite.Config{
			DataDir:         absDataDir,
			Region:          cfg.Region,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
			MaxObjectBytes:  cfg.MaxObjectBytes,
		})
		if err != nil {
			return fmt.Errorf("failed to create satellite: %w", err)
		}
		defer server.Close()

		listener, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return fmt.Errorf("failed to listen: %w", err)
		}
		addr = listener.Addr().String()

		httpServer := &http.Server{
			Handler:           server.Handler(),
			ReadHeaderTimeout: 20 * time.Second,
			ReadTimeout:       20 * time.Second,
			WriteTimeout:      20 * time.Second,
		}

		eg.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		})

		eg.Go(func() error {
			slog.Info("Starting embedded satellite", "addr", addr)
			err := httpServer.Serve(listener)
			if !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	chainAddr := addr
	eg.Go(func() error {
		if err := driveChain(chainAddr, serialized, cfg); err != nil {
			return err
		}
		slog.Info("Bridge chain finished, shutting down")
		// Returning canceled tears down the embedded satellite; Run maps
		// it back to a clean exit.
		return context.Canceled
	})

	err = eg.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := Run(ctx); err != nil {
		slog.Error("causeway exited with error", "error", err)
		os.Exit(1)
	}
}
