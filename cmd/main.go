package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/Riboost-Studio/perfect-menu-print-relay/internal/escpos"
	"github.com/Riboost-Studio/perfect-menu-print-relay/internal/model"
	"github.com/Riboost-Studio/perfect-menu-print-relay/internal/receipt"
	"github.com/Riboost-Studio/perfect-menu-print-relay/internal/services"
	"github.com/Riboost-Studio/perfect-menu-print-relay/internal/utils"
)

const (
	appName    = "Perfect Menu Print Relay"
	appVersion = "1.1.0"
	configFile = "config/config.yaml"
)

// --- Main ---

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	ctx = context.WithValue(ctx, model.ContextAppVersion, appVersion)

	var err error
	switch os.Args[1] {
	case "serve":
		err = cmdServe(ctx, os.Args[2:])
	case "print":
		err = cmdPrint(ctx, os.Args[2:])
	case "check":
		err = cmdCheck(ctx, os.Args[2:])
	case "discover":
		err = cmdDiscover(ctx, os.Args[2:])
	case "register":
		err = cmdRegister(ctx, os.Args[2:])
	case "version", "--version":
		fmt.Printf("%s %s\n", appName, appVersion)
		return
	case "help", "-h", "--help":
		usage()
		return
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "%s failed: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("print-relay serve | print | check | discover | register | version")
	fmt.Println()
	fmt.Println("  serve      HTTP pull/push endpoints (and the websocket agent when enabled)")
	fmt.Println("  print      print the test order, or --order FILE, directly to the printer")
	fmt.Println("  check      ICMP and TCP reachability of every configured printer address")
	fmt.Println("  discover   scan the local /24 for hosts listening on the printer port")
	fmt.Println("  register   register the printer with the order server and store its agent key")
}

// commonFlags are shared by every subcommand that reads the config.
type commonFlags struct {
	configPath string
	printerIPs []string
	port       int
	timeout    int
	text       bool
}

func newFlagSet(name string) (*pflag.FlagSet, *commonFlags) {
	cf := &commonFlags{}
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.StringVarP(&cf.configPath, "config", "c", configFile, "path to the YAML config file")
	fs.StringSliceVar(&cf.printerIPs, "printer-ip", nil, "printer address(es) in priority order, overrides config")
	fs.IntVar(&cf.port, "port", 0, "printer TCP port, overrides config")
	fs.IntVar(&cf.timeout, "timeout", 0, "connect/write timeout in seconds, overrides config")
	fs.BoolVar(&cf.text, "text", false, "send plain text without ESC/POS control codes")
	return fs, cf
}

func (cf *commonFlags) load() (model.Config, error) {
	config, err := utils.LoadConfig(cf.configPath)
	if err != nil {
		return config, err
	}
	if len(cf.printerIPs) > 0 {
		config.Printer.IP = cf.printerIPs[0]
		config.Printer.FallbackIPs = cf.printerIPs[1:]
	}
	if cf.port != 0 {
		config.Printer.Port = cf.port
	}
	if cf.timeout != 0 {
		config.Printer.TimeoutSeconds = cf.timeout
	}
	if cf.text {
		config.Printer.Mode = string(escpos.ModeText)
	}
	return config, utils.ValidateConfig(config)
}

func newRenderer(config model.Config) *receipt.Renderer {
	// Both values were validated by load.
	mode, _ := escpos.ParseMode(config.Printer.Mode)
	enc, _ := escpos.ParseEncoding(config.Printer.Encoding)
	return receipt.NewRenderer(receipt.LayoutFromConfig(config.Business), receipt.Options{Mode: mode, Encoding: enc})
}

func cmdServe(ctx context.Context, args []string) error {
	fs, cf := newFlagSet("serve")
	listen := fs.String("listen", "", "HTTP listen address, overrides config")
	noAgent := fs.Bool("no-agent", false, "do not start the websocket agent even if enabled")
	if err := fs.Parse(args); err != nil {
		return err
	}
	config, err := cf.load()
	if err != nil {
		return err
	}
	if *listen != "" {
		config.Server.Listen = *listen
	}

	logger := utils.NewLogger(os.Stdout, config.Log.Level, config.Log.Format)
	slog.SetDefault(logger)
	logger.Info("configuration loaded", "app", appName, "version", appVersion,
		"printer", config.Printer.Label(), "addresses", len(config.Printer.Endpoints()), "mode", config.Printer.Mode)

	renderer := newRenderer(config)
	transport := services.NewTransport(config.Printer, logger)
	dispatcher := services.NewDispatcher(renderer, transport, services.DispatcherOptions{
		Workers:   config.Server.Workers,
		QueueSize: config.Server.QueueSize,
	}, logger)
	defer dispatcher.Close()

	server := services.NewServer(renderer, dispatcher, services.ServerOptions{
		MaxBodyBytes: config.Server.MaxBodyBytes,
		Strict:       config.Server.Strict,
	}, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(gctx, config.Server.Listen) })
	if config.Agent.Enabled && !*noAgent {
		agent := &services.Agent{
			URL:       config.Agent.WSURL,
			APIKey:    config.Agent.APIKey,
			Printer:   config.Printer,
			Renderer:  renderer,
			Deliverer: transport,
			Logger:    logger,
		}
		g.Go(func() error { return agent.Run(gctx) })
	}

	err = g.Wait()
	logger.Info("shutting down, waiting for running print jobs")
	return err
}

func cmdPrint(ctx context.Context, args []string) error {
	fs, cf := newFlagSet("print")
	orderFile := fs.String("order", "", "JSON order file to print instead of the test order")
	if err := fs.Parse(args); err != nil {
		return err
	}
	config, err := cf.load()
	if err != nil {
		return err
	}
	logger := utils.NewLogger(os.Stderr, config.Log.Level, config.Log.Format)

	order := model.TestOrder()
	if *orderFile != "" {
		data, err := os.ReadFile(*orderFile)
		if err != nil {
			return err
		}
		if order, err = model.ParseOrderFile(data); err != nil {
			return fmt.Errorf("%s: %w", *orderFile, err)
		}
	}

	fmt.Printf("Printing order #%s on %s...\n", order.ID, config.Printer.Label())
	data := newRenderer(config).Render(order)
	del := services.NewTransport(config.Printer, logger).Print(ctx, data)
	if !del.OK() {
		fmt.Println("✗ Print failed. Check the printer connection.")
		return del.Err()
	}
	ep, _ := del.Endpoint()
	fmt.Printf("✓ Order #%s sent to %s (%s). Check the printer!\n", order.ID, ep.Address(), humanize.Bytes(uint64(del.Bytes)))
	return nil
}

func cmdCheck(ctx context.Context, args []string) error {
	fs, cf := newFlagSet("check")
	if err := fs.Parse(args); err != nil {
		return err
	}
	config, err := cf.load()
	if err != nil {
		return err
	}

	fmt.Println("Testing printer connectivity...")
	fmt.Println(strings.Repeat("=", 50))
	results := services.NewChecker().Check(ctx, config.Printer, os.Stdout)
	fmt.Println(strings.Repeat("=", 50))
	for _, r := range results {
		if r.PortOpen {
			fmt.Printf("Printer reachable at %s\n", r.Endpoint.Address())
			return nil
		}
	}
	fmt.Println("No printer address accepted a connection.")
	return nil
}

func cmdDiscover(ctx context.Context, args []string) error {
	fs, cf := newFlagSet("discover")
	subnet := fs.String("subnet", "", "first three octets to scan, e.g. 192.168.1 (default: local subnet)")
	save := fs.Bool("save", false, "add found addresses to the config file")
	workers := fs.Int("workers", 50, "parallel probes")
	if err := fs.Parse(args); err != nil {
		return err
	}
	config, err := cf.load()
	if err != nil {
		return err
	}

	if *subnet == "" {
		*subnet, err = services.LocalSubnet()
		if err != nil {
			return err
		}
	}
	fmt.Printf("Scanning subnet: %s.0/24 on port %d\n", *subnet, config.Printer.Port)
	start := time.Now()
	found := services.DiscoverPrinters(ctx, *subnet, config.Printer.Port, *workers, nil)
	fmt.Printf("Scan finished in %s, %d printer(s) found\n", time.Since(start).Round(time.Millisecond), len(found))
	for _, ip := range found {
		fmt.Printf("  Found printer at %s\n", ip)
	}

	if *save && len(found) > 0 {
		added := utils.MergePrinterAddresses(&config.Printer, found)
		if err := utils.SaveConfig(cf.configPath, config); err != nil {
			return err
		}
		fmt.Printf("Configuration saved: %d new address(es).\n", added)
	}
	return nil
}

func cmdRegister(ctx context.Context, args []string) error {
	fs, cf := newFlagSet("register")
	name := fs.String("name", "", "printer name shown by the order server")
	if err := fs.Parse(args); err != nil {
		return err
	}
	config, err := cf.load()
	if err != nil {
		return err
	}
	if config.Agent.APIKey == "" {
		return fmt.Errorf("agent.api_key (or PRINT_API_KEY) is required")
	}
	if *name != "" {
		config.Printer.Name = *name
	}

	fmt.Printf("Registering printer '%s' with server...\n", config.Printer.Label())
	if err := services.RegisterPrinterOnServer(ctx, nil, config.Agent.APIURL, config.Agent.APIKey, &config.Printer); err != nil {
		return fmt.Errorf("failed to register %s: %w", config.Printer.Label(), err)
	}
	fmt.Printf("Success! Agent Key: %s\n", config.Printer.AgentKey)
	return utils.SaveConfig(cf.configPath, config)
}
