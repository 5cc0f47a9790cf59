package model

import (
	"net"
	"strconv"
	"time"
)

// --- Configuration Structures ---

const DefaultPrinterPort = 9100

type Config struct {
	Printer  Printer        `yaml:"printer" json:"printer"`
	Server   ServerConfig   `yaml:"server" json:"server"`
	Business BusinessConfig `yaml:"business" json:"business"`
	Agent    AgentConfig    `yaml:"agent" json:"agent"`
	Log      LogConfig      `yaml:"log" json:"log"`
}

// Printer is the delivery target. IP is tried first, then FallbackIPs in
// order, all on the same Port.
type Printer struct {
	Name           string   `yaml:"name" json:"name"`
	IP             string   `yaml:"ip" json:"ip"`
	FallbackIPs    []string `yaml:"fallback_ips,omitempty" json:"-"`
	Port           int      `yaml:"port" json:"port"`
	TimeoutSeconds int      `yaml:"timeout_seconds" json:"-"`
	Description    string   `yaml:"description,omitempty" json:"description"`
	IsEnabled      bool     `yaml:"enabled" json:"isEnabled"`
	Mode           string   `yaml:"mode" json:"-"`     // escpos | text
	Encoding       string   `yaml:"encoding" json:"-"` // utf-8 | cp858
	TenantID       int      `yaml:"tenant_id,omitempty" json:"tenantId"`
	RestaurantID   int      `yaml:"restaurant_id,omitempty" json:"restaurantId,omitempty"`
	AgentKey       string   `yaml:"agent_key,omitempty" json:"agent_key,omitempty"` // Assigned by server
}

type ServerConfig struct {
	Listen       string `yaml:"listen"`
	Workers      int    `yaml:"workers"`
	QueueSize    int    `yaml:"queue_size"`
	MaxBodyBytes int64  `yaml:"max_body_bytes"`
	Strict       bool   `yaml:"strict"`
}

type BusinessConfig struct {
	Name     string   `yaml:"name"`
	Address  []string `yaml:"address"`
	Phone    string   `yaml:"phone"`
	Footer   []string `yaml:"footer"`
	Currency string   `yaml:"currency"`
	Width    int      `yaml:"width"`
}

type AgentConfig struct {
	Enabled bool   `yaml:"enabled"`
	APIURL  string `yaml:"api_url"`
	WSURL   string `yaml:"ws_url"`
	APIKey  string `yaml:"api_key"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Endpoint is a single printer address.
type Endpoint struct {
	Host string
	Port int
}

func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

func (e Endpoint) String() string { return e.Address() }

// Endpoints returns the candidate addresses in priority order, skipping
// blanks and duplicates.
func (p Printer) Endpoints() []Endpoint {
	port := p.Port
	if port == 0 {
		port = DefaultPrinterPort
	}
	seen := make(map[string]bool)
	var eps []Endpoint
	for _, ip := range append([]string{p.IP}, p.FallbackIPs...) {
		if ip == "" || seen[ip] {
			continue
		}
		seen[ip] = true
		eps = append(eps, Endpoint{Host: ip, Port: port})
	}
	return eps
}

func (p Printer) Timeout() time.Duration {
	if p.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// Label is used as the log prefix for this printer.
func (p Printer) Label() string {
	if p.Name != "" {
		return p.Name
	}
	return p.IP
}
