package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pion/webrtc/v4"
)

// Provider fetches STUN/TURN server configuration from an HTTP endpoint,
// typically one that mints short-lived TURN credentials per request.
type Provider struct {
	url    string
	client *http.Client
}

// NewProvider creates a provider for the given config endpoint. An empty
// URL yields a provider that always returns no servers.
func NewProvider(url string) *Provider {
	return &Provider{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

type iceServerEntry struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

type iceConfigResponse struct {
	ICEServers []iceServerEntry `json:"ice_servers"`
}

// ICEServers fetches the current transport configuration.
func (p *Provider) ICEServers(ctx context.Context) ([]webrtc.ICEServer, error) {
	if p == nil || p.url == "" {
		return nil, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ice config endpoint returned %s", resp.Status)
	}

	var cfg iceConfigResponse
	if err := json.NewDecoder(resp.Body).Decode(&cfg); err != nil {
		return nil, err
	}

	servers := make([]webrtc.ICEServer, 0, len(cfg.ICEServers))
	for _, e := range cfg.ICEServers {
		servers = append(servers, webrtc.ICEServer{
			URLs:       e.URLs,
			Username:   e.Username,
			Credential: e.Credential,
		})
	}
	return servers, nil
}
