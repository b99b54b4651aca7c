// Ringxfer CLI entry point.
//
// One binary plays three roles. A sender pushes fixed-size packets to a
// receiver, one acknowledged exchange at a time. A receiver accepts several
// senders at once and stages their packets in a bounded ring buffer drained
// by a single processor. A monitor renders a receiver's live status feed.
//
// It can be launched interactively (no flags) or non-interactively via CLI
// flags (-role, -host, -port, -n, -c, -v, ...).
package main

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/pterm/pterm"

	"github.com/1ureka/ringxfer/internal/config"
	"github.com/1ureka/ringxfer/internal/monitor"
	"github.com/1ureka/ringxfer/internal/protocol"
	"github.com/1ureka/ringxfer/internal/server"
	"github.com/1ureka/ringxfer/internal/session"
	"github.com/1ureka/ringxfer/internal/signaling"
	"github.com/1ureka/ringxfer/internal/transport"
	"github.com/1ureka/ringxfer/internal/util"
)

var version = "dev"

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg := config.Default()

	// CLI flags.
	role := flag.String("role", "", "Role: send, receive or monitor")
	tr := flag.String("transport", string(cfg.Transport), "Transport: tcp or webrtc")
	flag.StringVar(&cfg.Host, "host", cfg.Host, "Receiver host (send, tcp only)")
	flag.IntVar(&cfg.Port, "port", 0, "Receiver port (send) or listen port (receive), 1~65535")
	n := flag.Int("n", 0, fmt.Sprintf("Packets to send (send, default %d) or buffer capacity (receive, default %d)",
		config.DefaultPackets, config.DefaultCapacity))
	flag.BoolVar(&cfg.Checksum, "c", false, "Enable MD5 integrity check (must match on both ends)")
	flag.BoolVar(&cfg.Verbose, "v", false, "Log buffer contents after each enqueue (receive)")
	flag.IntVar(&cfg.PayloadSize, "size", cfg.PayloadSize, "Payload bytes per packet (must match on both ends)")
	flag.IntVar(&cfg.MaxClients, "clients", cfg.MaxClients, "Maximum concurrent senders (receive)")
	flag.Float64Var(&cfg.Rate, "rate", 0, "Processor packets per second, 0 = unlimited (receive)")
	flag.StringVar(&cfg.StatusAddr, "status", "", "Serve the status feed on this address, e.g. :9090 (receive)")
	wsURLFlag := flag.String("wsUrl", "", "Signaling URL (send, webrtc) or status feed URL (monitor)")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debugMode {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("Ringxfer — v%s", version))
	pterm.Println()

	cfg.Role = config.Role(*role)
	cfg.Transport = config.Transport(*tr)

	switch cfg.Role {
	case "":
		// No -role flag → interactive mode.
		cfg = askConfig(cfg)

	case config.RoleSend:
		cfg.Packets = orDefault(*n, config.DefaultPackets)
		if cfg.Transport == config.TransportWebRTC && *wsURLFlag != "" {
			cfg.WSURL = mustNormalize(*wsURLFlag, signaling.Path)
		}

	case config.RoleReceive:
		cfg.Capacity = orDefault(*n, config.DefaultCapacity)

	case config.RoleMonitor:
		if *wsURLFlag != "" {
			cfg.WSURL = mustNormalize(*wsURLFlag, monitor.Path)
		}
	}

	if err := cfg.Validate(); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	var err error
	switch cfg.Role {
	case config.RoleSend:
		err = runSend(ctx, cfg)
	case config.RoleReceive:
		err = runReceive(ctx, cfg)
	case config.RoleMonitor:
		err = runMonitor(ctx, cfg)
	}
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
}

// ---------------------------------------------------------------------------
// Run modes
// ---------------------------------------------------------------------------

// runSend connects to the receiver and pushes cfg.Packets packets.
func runSend(ctx context.Context, cfg config.Config) error {
	var (
		conn transport.Conn
		err  error
	)
	if cfg.Transport == config.TransportWebRTC {
		util.LogInfo("connecting to receiver via %s", cfg.WSURL)
		conn, err = signaling.Dial(ctx, cfg.WSURL)
	} else {
		addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
		util.LogInfo("connecting to receiver at %s", addr)
		conn, err = transport.DialTCP(ctx, addr)
	}
	if err != nil {
		return err
	}
	defer conn.Close()

	util.LogSuccess("[%08x] connected to %s, sending %d packets of %s", conn.ID(), conn.Peer(),
		cfg.Packets, util.FormatBytes(float64(cfg.PayloadSize)))

	rep, err := session.NewSender(conn, session.SenderOptions{
		Packets:     cfg.Packets,
		PayloadSize: cfg.PayloadSize,
		Checksum:    cfg.Checksum,
	}).Run(ctx)
	rep.Log(conn.ID())
	return err
}

// runReceive starts the server and blocks until Ctrl+C.
func runReceive(ctx context.Context, cfg config.Config) error {
	srv, err := server.New(cfg)
	if err != nil {
		return err
	}

	ln, err := server.Listen(cfg)
	if err != nil {
		return err
	}

	printBanner(cfg, ln)
	util.StartStatsReporter(ctx)

	if err := srv.Serve(ctx, ln); err != nil {
		return err
	}
	util.LogInfo("server stopped")
	return nil
}

// runMonitor renders the status feed in place until Ctrl+C.
func runMonitor(ctx context.Context, cfg config.Config) error {
	area, err := pterm.DefaultArea.Start()
	if err != nil {
		return err
	}
	defer area.Stop()

	util.LogInfo("watching %s", cfg.WSURL)
	return monitor.Watch(ctx, cfg.WSURL, func(st monitor.Status) {
		out, err := monitor.Render(st)
		if err != nil {
			util.LogWarning("failed to render status: %v", err)
			return
		}
		area.Update(out)
	})
}

// printBanner shows where senders should connect and how large the buffer is.
func printBanner(cfg config.Config, ln transport.Listener) {
	total := float64(cfg.Capacity) * float64(protocol.FrameSize(cfg.PayloadSize))

	lines := []string{
		fmt.Sprintf("Transport : %s", cfg.Transport),
		fmt.Sprintf("Listening : %s", ln.Addr()),
		fmt.Sprintf("Capacity  : %d packets", cfg.Capacity),
		fmt.Sprintf("Buffer    : %s", util.FormatBytes(total)),
		fmt.Sprintf("Clients   : up to %d", cfg.MaxClients),
		fmt.Sprintf("Checksum  : %t", cfg.Checksum),
	}
	if cfg.Transport == config.TransportWebRTC {
		lines = append(lines, fmt.Sprintf("Signaling : ws://<host>:%d%s", cfg.Port, signaling.Path))
	}

	pterm.DefaultBox.WithTitle("Receiver").Println(strings.Join(lines, "\n"))
	pterm.Println()
}

// ---------------------------------------------------------------------------
// Interactive mode
// ---------------------------------------------------------------------------

// askConfig fills cfg through interactive prompts when no -role flag is provided.
func askConfig(cfg config.Config) config.Config {
	role, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{
			"Send    — Push packets to a receiver",
			"Receive — Accept packets from senders",
			"Monitor — Watch a receiver's status feed",
		}).
		WithDefaultText("Select your role").
		Show()

	pterm.Println()

	switch {
	case strings.HasPrefix(role, "Send"):
		cfg.Role = config.RoleSend
		cfg.Host = askText("Receiver host", cfg.Host)
		cfg.Port = askPort("Receiver port (1 ~ 65535)")
		cfg.Packets = askInt("Packets to send", config.DefaultPackets)
		cfg.Checksum = askConfirm("Enable MD5 integrity check?")

	case strings.HasPrefix(role, "Receive"):
		cfg.Role = config.RoleReceive
		cfg.Port = askPort("Listen port (1 ~ 65535)")
		cfg.Capacity = askInt("Buffer capacity (power of two)", config.DefaultCapacity)
		cfg.Checksum = askConfirm("Enable MD5 integrity check?")

	default:
		cfg.Role = config.RoleMonitor
		cfg.WSURL = askURL(monitor.Path)
	}
	return cfg
}

// ---------------------------------------------------------------------------
// Helper Functions
// ---------------------------------------------------------------------------

func orDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func mustNormalize(raw, path string) string {
	u, err := normalizeWSURL(raw, path)
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
	return u
}

// normalizeWSURL validates a raw WebSocket URL or bare host:port and points it
// at path.
func normalizeWSURL(raw, path string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "ws://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid WebSocket URL: %s", raw)
	}
	scheme := "ws"
	switch u.Scheme {
	case "wss", "https":
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s%s", scheme, u.Host, path), nil
}

// askPort prompts the user for a port number until a valid one is entered.
func askPort(prompt string) int {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText(prompt).
			Show()

		port, err := strconv.Atoi(strings.TrimSpace(raw))
		if err == nil && port >= 1 && port <= 65535 {
			pterm.Println()
			return port
		}

		util.LogWarning("invalid port number: must be 1 ~ 65535")
		pterm.Println()
	}
}

// askInt prompts for a positive integer, returning def on empty input.
func askInt(prompt string, def int) int {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText(fmt.Sprintf("%s [%d]", prompt, def)).
			Show()

		raw = strings.TrimSpace(raw)
		if raw == "" {
			pterm.Println()
			return def
		}
		v, err := strconv.Atoi(raw)
		if err == nil && v > 0 {
			pterm.Println()
			return v
		}

		util.LogWarning("invalid number: must be a positive integer")
		pterm.Println()
	}
}

func askText(prompt, def string) string {
	raw, _ := pterm.DefaultInteractiveTextInput.
		WithDefaultText(fmt.Sprintf("%s [%s]", prompt, def)).
		Show()
	pterm.Println()

	if raw = strings.TrimSpace(raw); raw == "" {
		return def
	}
	return raw
}

func askConfirm(prompt string) bool {
	ok, _ := pterm.DefaultInteractiveConfirm.
		WithDefaultText(prompt).
		Show()
	pterm.Println()
	return ok
}

// askURL prompts the user for a valid WebSocket URL until one is entered.
func askURL(path string) string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText(fmt.Sprintf("Status feed URL (e.g. ws://127.0.0.1:9090%s)", path)).
			Show()

		wsURL, err := normalizeWSURL(raw, path)
		if err == nil {
			pterm.Println()
			return wsURL
		}

		pterm.Println()
		util.LogWarning("invalid input: please enter a valid host or URL")
	}
}
