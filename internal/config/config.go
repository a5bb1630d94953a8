package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/dialkit/dialkit/internal/util"
)

type Config struct {
	Identity  Identity  `json:"identity"`
	Signaling Signaling `json:"signaling"`
	Media     Media     `json:"media"`
	Call      Call      `json:"call"`
	Paths     Paths     `json:"paths"`
}

type Identity struct {
	// SelfID is this peer's identifier on the signaling server.
	SelfID string `json:"self_id"`
}

type Signaling struct {
	// URL of the signaling websocket, e.g. "wss://sig.example.org/ws".
	URL string `json:"url"`

	// ICEConfigURL is an optional HTTP endpoint serving STUN/TURN
	// configuration (short-lived TURN credentials). Empty means STUN only.
	ICEConfigURL string `json:"ice_config_url"`
}

type Media struct {
	Width     int `json:"width"`
	Height    int `json:"height"`
	FrameRate int `json:"frame_rate"`

	// PreferredCam selects a specific camera. Empty picks a front-facing
	// camera when one exists, the first camera otherwise.
	PreferredCam string `json:"preferred_cam"`
}

type Call struct {
	// DisconnectTimeoutSec is how long a transiently disconnected call may
	// try to recover before it is ended.
	DisconnectTimeoutSec int `json:"disconnect_timeout_seconds"`
}

type Paths struct {
	// DataDir holds the call log database.
	DataDir string `json:"data_dir"`
}

func Default() Config {
	return Config{
		Identity: Identity{
			SelfID: "",
		},
		Signaling: Signaling{
			URL: "ws://127.0.0.1:8790/ws",
		},
		Media: Media{
			Width:     1280,
			Height:    720,
			FrameRate: 30,
		},
		Call: Call{
			DisconnectTimeoutSec: 15,
		},
		Paths: Paths{
			DataDir: "data",
		},
	}
}

func (c *Config) Validate() error {
	// Identity
	if _, err := util.ValidatePeerName(c.Identity.SelfID); err != nil {
		return fmt.Errorf("identity.self_id: %w", err)
	}

	// Signaling
	if err := validateWSURL(c.Signaling.URL); err != nil {
		return fmt.Errorf("signaling.url: %w", err)
	}
	if u := strings.TrimSpace(c.Signaling.ICEConfigURL); u != "" {
		if err := validateHTTPURL(u); err != nil {
			return fmt.Errorf("signaling.ice_config_url: %w", err)
		}
	}

	// Media
	if c.Media.Width < 16 || c.Media.Width > 7680 {
		return errors.New("media.width must be 16..7680")
	}
	if c.Media.Height < 16 || c.Media.Height > 4320 {
		return errors.New("media.height must be 16..4320")
	}
	if c.Media.FrameRate < 1 || c.Media.FrameRate > 120 {
		return errors.New("media.frame_rate must be 1..120")
	}

	// Call
	if c.Call.DisconnectTimeoutSec < 1 || c.Call.DisconnectTimeoutSec > 300 {
		return errors.New("call.disconnect_timeout_seconds must be 1..300")
	}

	// Paths
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return errors.New("paths.data_dir is required")
	}

	return nil
}

func validateWSURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid url: %v", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return errors.New("scheme must be ws or wss")
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("scheme must be http or https")
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	// Strip UTF-8 BOM if present (common when editing JSON on Windows).
	b = stripBOM(b)

	// Start from defaults so missing JSON fields remain initialized.
	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// stripBOM removes a UTF-8 byte order mark if present.
func stripBOM(b []byte) []byte {
	if len(b) >= 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		return b[3:]
	}
	return b
}

func Save(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	return util.WriteJSONFile(path, cfg)
}

// Ensure loads config if it exists; otherwise creates a default config file.
// Returns (cfg, createdNew, err). The written default still needs a self_id
// before it validates, so a fresh file is returned without validation.
func Ensure(path string) (Config, bool, error) {
	if _, err := os.Stat(path); err == nil {
		cfg, err := Load(path)
		return cfg, false, err
	} else if !os.IsNotExist(err) {
		return Config{}, false, err
	}

	cfg := Default()
	if err := util.WriteJSONFile(path, cfg); err != nil {
		return Config{}, false, fmt.Errorf("create default config: %w", err)
	}
	return cfg, true, nil
}
