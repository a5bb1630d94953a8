// main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dialkit/dialkit/internal/call"
	"github.com/dialkit/dialkit/internal/callog"
	"github.com/dialkit/dialkit/internal/config"
	"github.com/dialkit/dialkit/internal/hwmon"
	"github.com/dialkit/dialkit/internal/signaling"
	"github.com/dialkit/dialkit/internal/util"
)

var (
	showHelp   = flag.Bool("h", false, "Show help")
	version    = flag.Bool("version", false, "Show version")
	autoAnswer = flag.Bool("answer", false, "Automatically accept incoming calls")
	callPeer   = flag.String("call", "", "Peer to call on startup")
	callRoom   = flag.String("room", "", "Room for the outgoing call (with -call)")
	withVideo  = flag.Bool("video", true, "Include video in the outgoing call")
)

// appVersion is set at build time via -ldflags "-X main.appVersion=x.y.z"
var appVersion = "dev"

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("dialkit v%s\n", appVersion)
		return
	}
	if *showHelp {
		showUsage()
		return
	}

	args := flag.Args()
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "Error: a peer directory is required")
		fmt.Fprintln(os.Stderr, "Usage: dialkit [flags] <peer-directory>")
		os.Exit(1)
	}
	run(args[0])
}

func run(dirArg string) {
	absDir, err := filepath.Abs(dirArg)
	if err != nil {
		log.Fatalf("Invalid peer directory: %v", err)
	}
	if err := os.MkdirAll(absDir, 0755); err != nil {
		log.Fatalf("Create peer directory: %v", err)
	}

	cfgPath := filepath.Join(absDir, "dialkit.json")
	cfg, created, err := config.Ensure(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if created {
		fmt.Printf("Created %s — set identity.self_id and restart.\n", cfgPath)
		return
	}

	printBanner(absDir, cfgPath, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("\nShutting down gracefully...")
		cancel()
	}()

	store, err := callog.Open(util.ResolvePath(absDir, cfg.Paths.DataDir))
	if err != nil {
		log.Fatalf("Open call log: %v", err)
	}
	defer store.Close()

	client, err := signaling.Dial(ctx, cfg.Signaling.URL, cfg.Identity.SelfID)
	if err != nil {
		log.Fatalf("Connect to signaling server: %v", err)
	}
	defer client.Close()

	capture, populate, err := call.NewPlatformCapture()
	if err != nil {
		log.Fatalf("Initialize media capture: %v", err)
	}

	var hardware call.HardwareNotifier
	hw, err := hwmon.New()
	if err != nil {
		log.Printf("MAIN: hardware watch unavailable, camera recovery disabled: %v", err)
		hardware = hwmon.Nop{}
	} else {
		defer hw.Close()
		hardware = hw
	}

	mgr := call.New(client, call.NewPionEngine(populate), capture, call.Options{
		ICEProvider: signaling.NewProvider(cfg.Signaling.ICEConfigURL),
		Hardware:    hardware,
		Recorder:    store,
		Capture: call.CaptureProfile{
			Width:        cfg.Media.Width,
			Height:       cfg.Media.Height,
			FrameRate:    cfg.Media.FrameRate,
			CameraDevice: cfg.Media.PreferredCam,
		},
		DisconnectTimeout: time.Duration(cfg.Call.DisconnectTimeoutSec) * time.Second,
	})
	defer mgr.Close()

	mgr.AddListener(logListener{})
	mgr.OnIncoming(func(ic call.IncomingCall) {
		log.Printf("MAIN: incoming call %s from %s (video=%v)", ic.CallID, ic.RemotePeer, ic.Video)
		if *autoAnswer {
			mgr.AcceptIncomingCall()
		}
	})

	if *callPeer != "" {
		id, err := mgr.StartOutgoingCall(*callRoom, *callPeer, *withVideo)
		if err != nil {
			log.Fatalf("Start call to %s: %v", *callPeer, err)
		}
		log.Printf("MAIN: calling %s (call %s)", *callPeer, id)
	}

	<-ctx.Done()
}

// logListener surfaces call lifecycle on the process log.
type logListener struct{}

func (logListener) OnCallChanged(callID string, state call.State) {
	if callID == "" {
		log.Printf("MAIN: no active call")
		return
	}
	log.Printf("MAIN: call %s → %s", callID, state)
}

func (logListener) OnCaptureError(inError bool) {
	if inError {
		log.Printf("MAIN: camera lost, waiting for the device to return")
	} else {
		log.Printf("MAIN: camera recovered")
	}
}

func showUsage() {
	fmt.Println("dialkit - native WebRTC calling peer")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  dialkit [flags] <peer-directory>")
	fmt.Println()
	fmt.Println("The directory must contain a dialkit.json configuration file;")
	fmt.Println("a default file is created on first run.")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  -answer          Automatically accept incoming calls")
	fmt.Println("  -call <peer>     Call the given peer on startup")
	fmt.Println("  -room <room>     Room for the outgoing call")
	fmt.Println("  -video=false     Audio-only outgoing call")
	fmt.Println("  -h               Show this help message")
	fmt.Println("  -version         Show version information")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  # Wait for calls, answering automatically")
	fmt.Println("  dialkit -answer ./peers/desk")
	fmt.Println()
	fmt.Println("  # Call bob with video")
	fmt.Println("  dialkit -call bob -room lobby ./peers/desk")
}

func printBanner(peerDir, cfgPath string, cfg config.Config) {
	fmt.Println("╔════════════════════════════════════════════════════════╗")
	fmt.Println("║                      dialkit peer                      ║")
	fmt.Println("╚════════════════════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("Peer Directory: %s\n", peerDir)
	fmt.Printf("Config File:    %s\n", cfgPath)
	fmt.Printf("Peer ID:        %s\n", cfg.Identity.SelfID)
	fmt.Printf("Signaling:      %s\n", cfg.Signaling.URL)
	if cfg.Signaling.ICEConfigURL != "" {
		fmt.Printf("ICE Config:     %s\n", cfg.Signaling.ICEConfigURL)
	}
	fmt.Println()
	fmt.Println("Starting peer... (Press Ctrl+C to stop)")
	fmt.Println("────────────────────────────────────────────────────────")
	fmt.Println()
}
