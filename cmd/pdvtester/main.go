// pdvtester measures Packet Delay Variation per RFC 8219/RFC 4814 across a
// NAT44/NAT64 device under test.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lencsegabor/pdvtester/internal/clock"
	"github.com/lencsegabor/pdvtester/internal/coordinator"
	"github.com/lencsegabor/pdvtester/internal/evaluator"
	"github.com/lencsegabor/pdvtester/internal/frame"
	"github.com/lencsegabor/pdvtester/internal/netio"
	"github.com/lencsegabor/pdvtester/internal/receiver"
	"github.com/lencsegabor/pdvtester/internal/sender"
	"github.com/lencsegabor/pdvtester/internal/statetable"
	"github.com/lencsegabor/pdvtester/internal/variator"
	"github.com/lencsegabor/pdvtester/pkg/config"
	"github.com/lencsegabor/pdvtester/pkg/tui"
	"github.com/lencsegabor/pdvtester/pkg/web"
	"github.com/spf13/cobra"
)

const version = "1.0.0"

var (
	cfgFile      string
	iface        string
	frameSize    uint32
	frameRate    uint64
	durationSec  uint32
	stateful     int
	frameTimeout uint64
	numDestNets  int
	webAddr      string
	useTUI       bool
	verbose      bool

	srcMAC string
	dstMAC string
	srcIP  string
	dstIP  string
	ipv6   bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "pdvtester",
		Short: "PDV Tester - RFC 8219 Packet Delay Variation benchmarking",
		Long: `PDV Tester v` + version + `

Measures Packet Delay Variation (PDV = D99.9 - Dmin) across a NAT44/NAT64
device under test, per RFC 8219 and RFC 4814:
  - Stateless mode: independent paced senders/timestamp receivers per
    direction, no NAT state table.
  - Stateful mode: a preliminary phase learns NAT-mapped 4-tuples, then
    the test phase replays them from the responder side.

Examples:
  # Loopback stateless PDV on eth0
  pdvtester -i eth0 --frame-rate 10000 --duration 10

  # Stateful test, initiator on the left, with a terminal dashboard
  pdvtester -i eth0 --stateful 1 --tui

  # Serve a JSON status API instead of running inline
  pdvtester -i eth0 --web :8080`,
		RunE: runMain,
	}

	rootCmd.Flags().StringVarP(&cfgFile, "config", "c", "", "Config file (YAML)")
	rootCmd.Flags().StringVarP(&iface, "interface", "i", "", "Network interface")
	rootCmd.Flags().Uint32VarP(&frameSize, "frame-size", "s", 0, "Frame size in bytes")
	rootCmd.Flags().Uint64Var(&frameRate, "frame-rate", 0, "Frame rate (frames/sec)")
	rootCmd.Flags().Uint32Var(&durationSec, "duration", 0, "Test duration (seconds)")
	rootCmd.Flags().IntVar(&stateful, "stateful", -1, "0 stateless, 1 initiator left, 2 initiator right")
	rootCmd.Flags().Uint64Var(&frameTimeout, "frame-timeout-ms", 0, "Frame timeout in ms (0 = true PDV)")
	rootCmd.Flags().IntVar(&numDestNets, "num-dest-nets", 0, "Number of destination networks")
	rootCmd.Flags().StringVar(&webAddr, "web", "", "Enable JSON status API on address (e.g., :8080)")
	rootCmd.Flags().BoolVar(&useTUI, "tui", false, "Enable terminal dashboard")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Verbose logging")

	rootCmd.Flags().StringVar(&srcMAC, "src-mac", "02:00:00:00:00:01", "Source MAC address")
	rootCmd.Flags().StringVar(&dstMAC, "dst-mac", "02:00:00:00:00:02", "Destination MAC address")
	rootCmd.Flags().StringVar(&srcIP, "src-ip", "10.0.0.1", "Source IP address")
	rootCmd.Flags().StringVar(&dstIP, "dst-ip", "10.0.0.2", "Destination IP address")
	rootCmd.Flags().BoolVar(&ipv6, "ipv6", false, "Use IPv6 foreground frames")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("pdvtester v%s\n", version)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runMain(cmd *cobra.Command, args []string) error {
	var cfg *config.Config
	var err error
	if cfgFile != "" {
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	} else {
		cfg = config.DefaultConfig()
	}

	if iface != "" {
		cfg.Interface = iface
	}
	if frameSize != 0 {
		cfg.FrameSize = frameSize
	}
	if frameRate != 0 {
		cfg.FrameRate = frameRate
	}
	if durationSec != 0 {
		cfg.Duration = time.Duration(durationSec) * time.Second
	}
	if stateful >= 0 {
		cfg.Stateful = stateful
	}
	if frameTimeout != 0 {
		cfg.FrameTimeoutMs = frameTimeout
	}
	if numDestNets != 0 {
		cfg.NumDestNets = numDestNets
	}
	if webAddr != "" {
		cfg.WebUI.Enabled = true
		cfg.WebUI.Address = webAddr
	}
	cfg.Verbose = verbose
	cfg.TUI = useTUI

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if cfg.WebUI.Enabled {
		return runWeb(cfg, logger, sigCh)
	}
	if cfg.TUI {
		return runTUI(cfg, logger, sigCh)
	}
	return runCLI(cfg, logger, sigCh)
}

// testHarness bundles the wiring shared by every front end (CLI, TUI, web):
// the NIC queues, timing source, and the coordinator run it produces.
type testHarness struct {
	clk     *clock.Monotonic
	txLeft  netio.TxQueue
	rxLeft  netio.RxQueue
	txRight netio.TxQueue
	rxRight netio.RxQueue
}

func newHarness(cfg *config.Config, logger *slog.Logger) (*testHarness, error) {
	tx, err := netio.NewAFPacket(cfg.Interface, logger)
	if err != nil {
		return nil, fmt.Errorf("open interface %q: %w", cfg.Interface, err)
	}
	return &testHarness{
		clk:     clock.NewMonotonic(),
		txLeft:  tx,
		rxLeft:  tx,
		txRight: tx,
		rxRight: tx,
	}, nil
}

func (h *testHarness) close() {
	h.txLeft.Close()
}

func buildVariatorMode(m config.VariatorMode) variator.Mode {
	switch m {
	case config.ModeIncreasing:
		return variator.Increasing
	case config.ModeDecreasing:
		return variator.Decreasing
	case config.ModePseudorandom:
		return variator.Pseudorandom
	default:
		return variator.Fixed
	}
}

func buildSpec(cfg *config.Config, srcMACAddr, dstMACAddr net.HardwareAddr, src, dst net.IP) frame.Spec {
	return frame.Spec{
		FrameLen: int(cfg.FrameSize),
		IPv4:     !ipv6,
		SrcMAC:   srcMACAddr,
		DstMAC:   dstMACAddr,
		SrcIP:    src,
		DstIP:    dst,
	}
}

// buildReplaySpec builds the template Spec a stateful-replay sender mutates.
// Addresses are left zero since RewriteStateful overwrites them on every
// transmission anyway; frame.Template tracks its build-time address words
// itself and retracts them from the checksum before folding in the learned
// tuple, so this isn't load-bearing for correctness, just avoids baking in
// a placeholder address that will never be sent.
func buildReplaySpec(cfg *config.Config, srcMACAddr, dstMACAddr net.HardwareAddr) frame.Spec {
	return buildSpec(cfg, srcMACAddr, dstMACAddr, net.IPv4zero, net.IPv4zero)
}

// runDirections builds and runs the forward/reverse Direction pair for
// stateless mode, or the full preliminary+forward+reverse sequence for
// stateful mode, per cfg.Stateful.
func runDirections(ctx context.Context, cfg *config.Config, h *testHarness, logger *slog.Logger, pub *coordinator.StatsPublisher) (map[string]coordinator.Result, error) {
	numFrames := uint64(cfg.Duration.Seconds()) * cfg.FrameRate
	start := h.clk.Cycles()
	finish := start + (uint64(cfg.Duration.Seconds())+uint64(cfg.GlobalTimeout.Seconds()))*h.clk.Hz()

	srcMACAddr, err := net.ParseMAC(srcMAC)
	if err != nil {
		return nil, fmt.Errorf("parse src-mac: %w", err)
	}
	dstMACAddr, err := net.ParseMAC(dstMAC)
	if err != nil {
		return nil, fmt.Errorf("parse dst-mac: %w", err)
	}
	src := net.ParseIP(srcIP)
	dst := net.ParseIP(dstIP)
	if src == nil || dst == nil {
		return nil, fmt.Errorf("invalid src-ip/dst-ip")
	}

	fwdSpec := buildSpec(cfg, srcMACAddr, dstMACAddr, src, dst)
	revSpec := buildSpec(cfg, dstMACAddr, srcMACAddr, dst, src)

	poolDepth := cfg.PoolDepth
	fwdPool, err := frame.NewPool(fwdSpec, cfg.NumDestNets, poolDepth)
	if err != nil {
		return nil, fmt.Errorf("build forward pool: %w", err)
	}
	revPool, err := frame.NewPool(revSpec, cfg.NumDestNets, poolDepth)
	if err != nil {
		return nil, fmt.Errorf("build reverse pool: %w", err)
	}

	srcPort := variator.NewPort(buildVariatorMode(cfg.Variator.SrcPortMode), cfg.Variator.SrcPortMin, cfg.Variator.SrcPortMax, 0xC020)
	dstPort := variator.NewPort(buildVariatorMode(cfg.Variator.DstPortMode), cfg.Variator.DstPortMin, cfg.Variator.DstPortMax, 0x0007)
	destNet := variator.NewDestNet(cfg.NumDestNets)

	penaltyMs := cfg.PenaltyMs
	if penaltyMs == 0 {
		penaltyMs = uint64(1000*cfg.Duration.Seconds()) + uint64(cfg.GlobalTimeout.Milliseconds())
	}
	evalCfg := evaluator.Config{Hz: h.clk.Hz(), FrameTimeoutMs: cfg.FrameTimeoutMs, PenaltyMs: penaltyMs, Logger: logger}

	forward := coordinator.Direction{
		Name: "forward",
		SenderCfg: sender.Config{
			Clock: h.clk, Tx: h.txLeft, Pool: fwdPool,
			SrcPort: srcPort, DstPort: dstPort, DestNet: destNet,
			Mode: sender.StatelessForeground, NumFrames: numFrames, FrameRate: cfg.FrameRate,
			StartTSC: start, Tolerance: cfg.Tolerance, ForegroundM: cfg.Background.ForegroundM, ForegroundN: cfg.Background.ForegroundN,
		},
		ReceiverCfg: receiver.Config{
			Clock: h.clk, Rx: h.rxRight, FinishCycles: finish, NumFrames: numFrames, Logger: logger, Side: "right",
		},
		Progress: pub,
	}
	reverse := coordinator.Direction{
		Name: "reverse",
		SenderCfg: sender.Config{
			Clock: h.clk, Tx: h.txRight, Pool: revPool,
			SrcPort: srcPort, DstPort: dstPort, DestNet: destNet,
			Mode: sender.StatelessForeground, NumFrames: numFrames, FrameRate: cfg.FrameRate,
			StartTSC: start, Tolerance: cfg.Tolerance, ForegroundM: cfg.Background.ForegroundM, ForegroundN: cfg.Background.ForegroundN,
		},
		ReceiverCfg: receiver.Config{
			Clock: h.clk, Rx: h.rxLeft, FinishCycles: finish, NumFrames: numFrames, Logger: logger, Side: "left",
		},
		Progress: pub,
	}

	if cfg.Stateful == 0 {
		return coordinator.RunStateless(ctx, []coordinator.Direction{forward, reverse}, evalCfg, logger)
	}

	table, err := statetable.New(cfg.StateTable.Capacity)
	if err != nil {
		return nil, fmt.Errorf("build state table: %w", err)
	}

	// learningDir keeps sending/learning stateless traffic throughout
	// both the preliminary and test phases; replayDir switches to
	// StatefulReplay for the test phase, reading 4-tuples the learning
	// direction's receiver wrote into table. Which physical direction
	// plays which role mirrors cfg.Stateful: case 1 (initiator left)
	// learns on forward (left->right) and replays on reverse
	// (right->left); case 2 (initiator right) mirrors it.
	learningDir := forward
	replayDir := reverse
	replaySpec := buildReplaySpec(cfg, dstMACAddr, srcMACAddr)
	if cfg.Stateful == 2 {
		learningDir = reverse
		replayDir = forward
		replaySpec = buildReplaySpec(cfg, srcMACAddr, dstMACAddr)
	}

	replayPool, err := frame.NewPool(replaySpec, cfg.NumDestNets, poolDepth)
	if err != nil {
		return nil, fmt.Errorf("build replay pool: %w", err)
	}

	mode := statetable.Single
	switch cfg.StateTable.ResponderPorts {
	case config.ModeIncreasing:
		mode = statetable.Increasing
	case config.ModeDecreasing:
		mode = statetable.Decreasing
	case config.ModePseudorandom:
		mode = statetable.Random
	}

	replayDir.SenderCfg.Mode = sender.StatefulReplay
	replayDir.SenderCfg.Pool = replayPool
	replayDir.SenderCfg.Table = table
	replayDir.SenderCfg.Cursor = statetable.NewCursor(mode, cfg.StateTable.Capacity)

	return coordinator.RunStateful(ctx, learningDir, learningDir, replayDir, table, evalCfg, logger)
}

func printResult(name string, r coordinator.Result) {
	fmt.Printf("%s PDV: %.4f\n", name, r.Eval.PDV)
	fmt.Printf("Info: %s Dmin/Dmax/D99_9th_perc: %.4f/%.4f/%.4f\n", name, r.Eval.Dmin, r.Eval.Dmax, r.Eval.D999)
	fmt.Printf("%s frames sent/received: %d/%d\n", name, len(r.SendTS), len(r.SendTS)-r.Eval.FramesLost)
}

func runCLI(cfg *config.Config, logger *slog.Logger, sigCh chan os.Signal) error {
	fmt.Printf("pdvtester v%s\n", version)
	fmt.Printf("Interface: %s\n", cfg.Interface)
	fmt.Printf("Frame size: %d  Frame rate: %d  Duration: %v\n", cfg.FrameSize, cfg.FrameRate, cfg.Duration)

	h, err := newHarness(cfg, logger)
	if err != nil {
		return err
	}
	defer h.close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-sigCh
		fmt.Println("\nCancelling...")
		cancel()
	}()

	results, err := runDirections(ctx, cfg, h, logger, nil)
	if err != nil {
		var fatal *coordinator.FatalError
		if asFatal(err, &fatal) {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", fatal)
		}
		return err
	}

	for _, name := range []string{"forward", "reverse"} {
		if r, ok := results[name]; ok {
			printResult(name, r)
		}
	}
	return nil
}

func asFatal(err error, target **coordinator.FatalError) bool {
	fe, ok := err.(*coordinator.FatalError)
	if ok {
		*target = fe
	}
	return ok
}

func runTUI(cfg *config.Config, logger *slog.Logger, sigCh chan os.Signal) error {
	app := tui.New()
	h, err := newHarness(cfg, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())

	app.OnStart = func() {
		app.LogInfo("Starting PDV test on %s", cfg.Interface)
		go func() {
			results, err := runDirections(ctx, cfg, h, logger, nil)
			if err != nil {
				app.LogError("test failed: %v", err)
				return
			}
			for _, name := range []string{"forward", "reverse"} {
				r, ok := results[name]
				if !ok {
					continue
				}
				app.LogInfo("%s PDV: %.4f ms (Dmin=%.4f Dmax=%.4f D99.9=%.4f)", name, r.Eval.PDV, r.Eval.Dmin, r.Eval.Dmax, r.Eval.D999)
				app.AddResult(tui.Result{
					Side: name, Dmin: r.Eval.Dmin, Dmax: r.Eval.Dmax, D999: r.Eval.D999, PDV: r.Eval.PDV,
					FramesLost: uint64(r.Eval.FramesLost), Timestamp: time.Now(),
				})
			}
		}()
	}
	app.OnStop = cancel
	app.OnCancel = cancel
	app.OnQuit = func() { h.close() }

	go func() {
		time.Sleep(100 * time.Millisecond)
		app.LogInfo("pdvtester v%s", version)
		app.LogInfo("Interface: %s", cfg.Interface)
		app.Log("Press F1 to start, F10 to quit")
	}()
	go func() {
		<-sigCh
		app.Stop()
	}()

	return app.Run()
}

func runWeb(cfg *config.Config, logger *slog.Logger, sigCh chan os.Signal) error {
	pub := &coordinator.StatsPublisher{}
	srv := web.New(cfg.WebUI.Address, web.WithPublisher(pub))
	var cancel context.CancelFunc

	srv.OnStart = func(webCfg web.Config) error {
		if webCfg.Interface != "" {
			cfg.Interface = webCfg.Interface
		}
		if webCfg.FrameSize != 0 {
			cfg.FrameSize = webCfg.FrameSize
		}
		if webCfg.FrameRate != 0 {
			cfg.FrameRate = webCfg.FrameRate
		}
		if webCfg.DurationSec != 0 {
			cfg.Duration = time.Duration(webCfg.DurationSec) * time.Second
		}

		h, err := newHarness(cfg, logger)
		if err != nil {
			return fmt.Errorf("open interface: %w", err)
		}

		var ctx context.Context
		ctx, cancel = context.WithCancel(context.Background())
		go func() {
			defer h.close()
			results, err := runDirections(ctx, cfg, h, logger, pub)
			if err != nil {
				logger.Error("test failed", "error", err)
				return
			}
			for _, name := range []string{"forward", "reverse"} {
				r, ok := results[name]
				if !ok {
					continue
				}
				srv.AddResult(web.Result{
					Side: name, DminMs: r.Eval.Dmin, DmaxMs: r.Eval.Dmax, D999Ms: r.Eval.D999, PDVMs: r.Eval.PDV,
					FramesLost: uint64(r.Eval.FramesLost), Timestamp: time.Now().Unix(),
				})
			}
		}()
		return nil
	}
	srv.OnStop = func() error {
		if cancel != nil {
			cancel()
		}
		return nil
	}
	srv.OnCancel = func() {
		if cancel != nil {
			cancel()
		}
	}

	go func() {
		<-sigCh
		logger.Info("shutting down")
		srv.Stop()
	}()

	logger.Info("pdvtester web UI starting", "address", cfg.WebUI.Address, "version", version)
	return srv.Start()
}
