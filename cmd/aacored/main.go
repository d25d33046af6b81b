// Command aacored is the head-unit daemon: it loads the vehicle's
// configuration, brings up the protocol stack against whatever phone
// it finds on the USB bus, and exposes a REST/WebSocket control
// surface for a dashboard or fleet-management agent.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"

	_ "github.com/lib/pq" // Postgres driver
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"

	"github.com/ocx/aacore/internal/aoap"
	"github.com/ocx/aacore/internal/api"
	"github.com/ocx/aacore/internal/audit"
	"github.com/ocx/aacore/internal/config"
	"github.com/ocx/aacore/internal/control"
	"github.com/ocx/aacore/internal/crypto"
	"github.com/ocx/aacore/internal/eventbus"
	"github.com/ocx/aacore/internal/messages"
	"github.com/ocx/aacore/internal/metrics"
	"github.com/ocx/aacore/internal/session"
	"github.com/ocx/aacore/pb"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the base configuration file")
	profilesPath := flag.String("profiles", "profiles.yaml", "path to the per-vehicle-trim override file")
	profile := flag.String("profile", os.Getenv("AACORE_VEHICLE_PROFILE"), "vehicle trim profile name")
	flag.Parse()

	log.Println("Starting Android Auto head unit daemon...")

	// 1. Load configuration
	cfgMgr, err := config.NewManager(*configPath, *profilesPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	cfg := cfgMgr.Get(*profile)

	identity, err := loadTLSIdentity(cfg.TLS)
	if err != nil {
		log.Fatalf("load TLS identity: %v", err)
	}

	// 2. Instrumentation
	mt := metrics.NewMetrics()

	// 3. Audit trail (Postgres, or a silent no-op if unconfigured)
	var auditor *audit.Log
	if cfg.Audit.DSN != "" {
		auditor, err = audit.Open(cfg.Audit.DSN)
		if err != nil {
			log.Fatalf("open audit log: %v", err)
		}
		defer auditor.Close()
	} else {
		auditor = audit.NoOp()
	}

	// 4. Event bus (Redis for a fleet backend, or in-process only)
	var bus eventbus.Bus
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		bus = eventbus.NewRedisBus(&redisPubSub{client: rdb}, cfg.Redis.ChannelPrefix)
	} else {
		bus = eventbus.NewLocalBus()
	}
	defer bus.Close()

	// 5. Session supervisor
	cfgFn := func() session.Config {
		return session.Config{
			Identity:    aoap.DefaultIdentity(cfg.Identity.URI, cfg.Identity.Serial),
			TLSIdentity: identity,
			ServiceInfo: toServiceInfo(cfg.ServiceInfo),
			Metrics:     mt,
		}
	}

	mgr := api.NewManager(cfgFn, bus, auditor, mt)
	mgr.Start(context.Background())

	// 6. Control surface: REST + WebSocket status feed, plus the gRPC
	// mirror of the same control surface for an embedder that prefers
	// RPC over REST.
	feed := api.NewStatusFeed(bus)
	server := api.NewServer(mgr, feed, mt)

	grpcAddr := ":9090"
	if cfg.Server.GRPCPort != "" {
		grpcAddr = ":" + cfg.Server.GRPCPort
	}
	grpcLis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		log.Fatalf("listen grpc: %v", err)
	}
	grpcServer := grpc.NewServer(grpc.ForceServerCodec(pb.Codec{}))
	pb.RegisterControlServiceServer(grpcServer, api.NewGRPCService(mgr))
	go func() {
		log.Printf("gRPC control surface listening on %s", grpcAddr)
		if err := grpcServer.Serve(grpcLis); err != nil {
			log.Fatalf("grpc server exited: %v", err)
		}
	}()
	defer grpcServer.GracefulStop()

	addr := ":8080"
	if cfg.Server.HTTPPort != "" {
		addr = ":" + cfg.Server.HTTPPort
	}
	log.Fatalf("api server exited: %v", server.ListenAndServe(addr))
}

func loadTLSIdentity(cfg config.TLSConfig) (crypto.Identity, error) {
	if cfg.CertPath != "" && cfg.KeyPath != "" {
		certPEM, err := os.ReadFile(cfg.CertPath)
		if err != nil {
			return crypto.Identity{}, fmt.Errorf("read cert: %w", err)
		}
		keyPEM, err := os.ReadFile(cfg.KeyPath)
		if err != nil {
			return crypto.Identity{}, fmt.Errorf("read key: %w", err)
		}
		return crypto.LoadIdentityFromX509SVID(certPEM, keyPEM)
	}
	if cfg.PKCS12Path != "" {
		data, err := os.ReadFile(cfg.PKCS12Path)
		if err != nil {
			return crypto.Identity{}, fmt.Errorf("read pkcs12 bundle: %w", err)
		}
		return crypto.LoadIdentityFromPKCS12(data, cfg.PKCS12Pass)
	}
	return crypto.Identity{}, fmt.Errorf("no TLS identity configured: set tls.cert_path/tls.key_path or tls.pkcs12_path")
}

func toServiceInfo(c config.ServiceInfoConfig) control.ServiceInfo {
	modes := make([]messages.VideoConfig, len(c.Video))
	for i, v := range c.Video {
		modes[i] = messages.VideoConfig{
			Width:        uint16(v.Width),
			Height:       uint16(v.Height),
			FPS:          uint8(v.FPS),
			DPI:          uint16(v.DPI),
			MarginWidth:  uint16(v.MarginWidth),
			MarginHeight: uint16(v.MarginHeight),
		}
	}

	keycodes := make([]uint32, len(c.Input.Keycodes))
	for i, k := range c.Input.Keycodes {
		keycodes[i] = uint32(k)
	}

	return control.ServiceInfo{
		Make:    c.Make,
		Model:   c.Model,
		SWBuild: c.SWBuild,
		SWVer:   c.SWVersion,
		Audio: messages.AudioDescriptor{
			SampleRate:   uint32(c.Audio.SampleRate),
			BitDepth:     uint8(c.Audio.BitDepth),
			ChannelCount: uint8(c.Audio.ChannelCount),
		},
		VideoModes: modes,
		Input: messages.InputDescriptor{
			TouchWidth:  uint16(c.Input.TouchWidth),
			TouchHeight: uint16(c.Input.TouchHeight),
			Keycodes:    keycodes,
		},
		Bluetooth: c.Bluetooth,
	}
}
