package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Riboost-Studio/perfect-menu-print-relay/internal/model"
	"github.com/Riboost-Studio/perfect-menu-print-relay/internal/utils"
)

// --- Discovery Logic ---

// ProbeFunc reports whether ip accepts TCP connections on port.
type ProbeFunc func(ip string, port int) bool

// DiscoverPrinters scans subnet.1 to subnet.254 for hosts with port open
// and returns them in ascending address order.
func DiscoverPrinters(ctx context.Context, subnet string, port, workers int, probe ProbeFunc) []string {
	if probe == nil {
		probe = utils.Probe
	}
	if workers <= 0 {
		workers = 50
	}

	ipChan := make(chan int, 256)
	found := make([]bool, 255)
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for host := range ipChan {
				if ctx.Err() != nil {
					continue
				}
				if probe(fmt.Sprintf("%s.%d", subnet, host), port) {
					found[host] = true
				}
			}
		}()
	}

	for i := 1; i <= 254; i++ {
		ipChan <- i
	}
	close(ipChan)
	wg.Wait()

	var ips []string
	for host, ok := range found {
		if ok {
			ips = append(ips, fmt.Sprintf("%s.%d", subnet, host))
		}
	}
	return ips
}

// LocalSubnet returns the /24 prefix of the first non-loopback IPv4 address.
func LocalSubnet() (string, error) {
	localIP, err := utils.DetectLocalIP()
	if err != nil {
		return "", err
	}
	parts := strings.Split(localIP, ".")
	return strings.Join(parts[:3], "."), nil
}

// --- API Registration ---

// RegisterPrinterOnServer announces p to the order server and stores the
// agent key it assigns.
func RegisterPrinterOnServer(ctx context.Context, client *http.Client, apiURL, apiKey string, p *model.Printer) error {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	endpoint := strings.TrimRight(apiURL, "/") + "/api/printers"
	jsonData, err := json.Marshal(p)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", apiKey)
	if v, ok := ctx.Value(model.ContextAppVersion).(string); ok {
		req.Header.Set("User-Agent", "perfect-menu-print-relay/"+v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return fmt.Errorf("API Error %d: %s", resp.StatusCode, string(body))
	}

	var response struct {
		Data struct {
			AgentKey string `json:"agent_key"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return fmt.Errorf("decode registration response: %w", err)
	}
	if response.Data.AgentKey == "" {
		return fmt.Errorf("no agent_key found in response")
	}
	p.AgentKey = response.Data.AgentKey
	return nil
}
