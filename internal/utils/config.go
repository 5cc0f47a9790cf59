package utils

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Riboost-Studio/perfect-menu-print-relay/internal/escpos"
	"github.com/Riboost-Studio/perfect-menu-print-relay/internal/model"
)

// DefaultConfig mirrors the single-shop setup the relay was first deployed
// for.
func DefaultConfig() model.Config {
	return model.Config{
		Printer: model.Printer{
			Name:           "Kitchen",
			IP:             "192.168.1.129",
			FallbackIPs:    []string{"192.168.4.1", "192.168.1.1"},
			Port:           model.DefaultPrinterPort,
			TimeoutSeconds: 10,
			Description:    "Thermal Printer",
			IsEnabled:      true,
			Mode:           string(escpos.ModeESCPOS),
			Encoding:       string(escpos.EncodingUTF8),
		},
		Server: model.ServerConfig{
			Listen:       ":8080",
			Workers:      4,
			QueueSize:    64,
			MaxBodyBytes: 1 << 20,
		},
		Business: model.BusinessConfig{
			Name:     "SOY SAVOR",
			Address:  []string{"16 cours Carnot", "13160 Chateaurenard"},
			Phone:    "04 90 24 00 00",
			Footer:   []string{"Merci pour votre commande !", "Bon appetit !"},
			Currency: "EUR",
			Width:    32,
		},
		Agent: model.AgentConfig{
			APIURL: "https://api.perfect-menu.it",
			WSURL:  "wss://ws.perfect-menu.it/agent",
		},
		Log: model.LogConfig{Level: "info", Format: "text"},
	}
}

// LoadConfig reads the YAML file at path over the defaults, then applies
// environment overrides. A missing file is not an error.
func LoadConfig(path string) (model.Config, error) {
	config := DefaultConfig()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return config, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return config, fmt.Errorf("parse config %s: %w", path, err)
		}
		var set struct {
			Printer struct {
				IP          *string   `yaml:"ip"`
				FallbackIPs *[]string `yaml:"fallback_ips"`
			} `yaml:"printer"`
		}
		if err := yaml.Unmarshal(data, &set); err == nil && set.Printer.IP != nil && set.Printer.FallbackIPs == nil {
			// A file that names its own printer does not inherit the default fallbacks.
			config.Printer.FallbackIPs = nil
		}
	}

	if err := ApplyEnv(&config, os.LookupEnv); err != nil {
		return config, err
	}
	return config, ValidateConfig(config)
}

// ApplyEnv overrides config from PRINTER_IP, PRINTER_PORT, TIMEOUT_SECONDS,
// LISTEN_ADDR, LOG_LEVEL, LOG_FORMAT and PRINT_API_KEY. PRINTER_IP may hold
// a comma separated list; the first entry becomes the primary address.
func ApplyEnv(config *model.Config, lookup func(string) (string, bool)) error {
	if v, ok := lookup("PRINTER_IP"); ok && strings.TrimSpace(v) != "" {
		var ips []string
		for _, ip := range strings.Split(v, ",") {
			if ip = strings.TrimSpace(ip); ip != "" {
				ips = append(ips, ip)
			}
		}
		if len(ips) > 0 {
			config.Printer.IP = ips[0]
			config.Printer.FallbackIPs = ips[1:]
		}
	}
	if v, ok := lookup("PRINTER_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PRINTER_PORT: %w", err)
		}
		config.Printer.Port = port
	}
	if v, ok := lookup("TIMEOUT_SECONDS"); ok && v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("TIMEOUT_SECONDS: %w", err)
		}
		config.Printer.TimeoutSeconds = secs
	}
	if v, ok := lookup("LISTEN_ADDR"); ok && v != "" {
		config.Server.Listen = v
	}
	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		config.Log.Level = v
	}
	if v, ok := lookup("LOG_FORMAT"); ok && v != "" {
		config.Log.Format = v
	}
	if v, ok := lookup("PRINT_API_KEY"); ok && v != "" {
		config.Agent.APIKey = v
	}
	return nil
}

func ValidateConfig(config model.Config) error {
	var errs []error
	if len(config.Printer.Endpoints()) == 0 {
		errs = append(errs, errors.New("printer.ip is required"))
	}
	if config.Printer.Port < 1 || config.Printer.Port > 65535 {
		errs = append(errs, fmt.Errorf("printer.port %d out of range", config.Printer.Port))
	}
	if config.Printer.TimeoutSeconds <= 0 {
		errs = append(errs, fmt.Errorf("printer.timeout_seconds must be positive"))
	}
	if _, err := escpos.ParseMode(config.Printer.Mode); err != nil {
		errs = append(errs, err)
	}
	if _, err := escpos.ParseEncoding(config.Printer.Encoding); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseLevel(config.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// SaveConfig writes config to path as YAML, creating the directory.
func SaveConfig(path string, config model.Config) error {
	configDir := filepath.Dir(path)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(config)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// MergePrinterAddresses appends the addresses not already configured to the
// fallback list, keeping existing order. It returns how many were added.
func MergePrinterAddresses(p *model.Printer, ips []string) int {
	existing := make(map[string]bool)
	for _, ep := range p.Endpoints() {
		existing[ep.Host] = true
	}
	added := 0
	for _, ip := range ips {
		if ip == "" || existing[ip] {
			continue
		}
		existing[ip] = true
		if p.IP == "" {
			p.IP = ip
		} else {
			p.FallbackIPs = append(p.FallbackIPs, ip)
		}
		added++
	}
	return added
}
