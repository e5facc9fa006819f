package config

import (
	"flag"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/pion/webrtc/v3"
)

type Config struct {
	Env    string       `yaml:"env" env:"ENV" env-default:"local"`
	HTTP   HTTPConfig   `yaml:"http"`
	Relay  RelayConfig  `yaml:"relay"`
	WebRTC WebRTCConfig `yaml:"webrtc"`
	Client ClientConfig `yaml:"client"`
}

type HTTPConfig struct {
	Address        string   `yaml:"address" env:"HTTP_ADDRESS" env-default:""`
	AllowedOrigins []string `yaml:"allowed_origins" env:"HTTP_ALLOWED_ORIGINS" env-default:""`
}

// RelayConfig bounds what a single signaling connection may cost the relay.
type RelayConfig struct {
	MaxMessageBytes   int64   `yaml:"max_message_bytes" env:"RELAY_MAX_MESSAGE_BYTES" env-default:"65536"`
	MessagesPerSecond float64 `yaml:"messages_per_second" env:"RELAY_MESSAGES_PER_SECOND" env-default:"50"`
	Burst             int     `yaml:"burst" env:"RELAY_BURST" env-default:"100"`
	// ICE candidates are metered separately: a newcomer answering a full
	// room trickles many of them at once.
	CandidatesPerSecond float64       `yaml:"candidates_per_second" env:"RELAY_CANDIDATES_PER_SECOND" env-default:"200"`
	CandidateBurst      int           `yaml:"candidate_burst" env:"RELAY_CANDIDATE_BURST" env-default:"500"`
	SendQueueSize       int           `yaml:"send_queue_size" env:"RELAY_SEND_QUEUE_SIZE" env-default:"64"`
	MaxIDLength         int           `yaml:"max_id_length" env:"RELAY_MAX_ID_LENGTH" env-default:"128"`
	WriteWait           time.Duration `yaml:"write_wait" env:"RELAY_WRITE_WAIT" env-default:"10s"`
	PongWait            time.Duration `yaml:"pong_wait" env:"RELAY_PONG_WAIT" env-default:"60s"`
}

type WebRTCConfig struct {
	STUNServers    []string `yaml:"stun_servers" env:"WEBRTC_STUN_SERVERS" env-default:""`
	TURNServers    []string `yaml:"turn_servers" env:"WEBRTC_TURN_SERVERS" env-default:""`
	TURNUsername   string   `yaml:"turn_username" env:"WEBRTC_TURN_USERNAME" env-default:""`
	TURNCredential string   `yaml:"turn_credential" env:"WEBRTC_TURN_CREDENTIAL" env-default:""`
}

type ClientConfig struct {
	RelayURL           string        `yaml:"relay_url" env:"CLIENT_RELAY_URL" env-default:""`
	NegotiationTimeout time.Duration `yaml:"negotiation_timeout" env:"CLIENT_NEGOTIATION_TIMEOUT" env-default:"30s"`
	ChunkDelay         time.Duration `yaml:"chunk_delay" env:"CLIENT_CHUNK_DELAY" env-default:"100ms"`
	MaxFileBytes       int64         `yaml:"max_file_bytes" env:"CLIENT_MAX_FILE_BYTES" env-default:"10485760"`
	Codec              string        `yaml:"codec" env:"CLIENT_CODEC" env-default:"json"`
	SharedKey          string        `yaml:"shared_key" env:"CLIENT_SHARED_KEY" env-default:""`
	Cipher             string        `yaml:"cipher" env:"CLIENT_CIPHER" env-default:"aes-256-gcm"`
}

func MustLoad() *Config {
	configPath := fetchConfigPath()
	if configPath == "" {
		panic("config path is empty")
	}

	return MustLoadPath(configPath)
}

func MustLoadPath(configPath string) *Config {
	cfg, err := LoadPath(configPath)
	if err != nil {
		panic(err.Error())
	}

	return cfg
}

// LoadPath reads the YAML file at configPath, overlays environment variables
// and fills the defaults that cleanenv cannot express.
func LoadPath(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, &PathError{Path: configPath}
	}

	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		return nil, &ReadError{Path: configPath, Err: err}
	}

	cfg.setDefaults()

	return &cfg, nil
}

type PathError struct {
	Path string
}

func (e *PathError) Error() string {
	return "config file does not exist: " + e.Path
}

type ReadError struct {
	Path string
	Err  error
}

func (e *ReadError) Error() string {
	return "cannot read config " + e.Path + ": " + e.Err.Error()
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

func fetchConfigPath() string {
	var res string

	flag.StringVar(&res, "config", "", "path to config file")
	flag.Parse()

	if res == "" {
		res = os.Getenv("CONFIG_PATH")
	}

	if res == "" {
		res = "config/local.yaml"
	}

	return res
}

func (c *Config) setDefaults() {
	if c.HTTP.Address == "" {
		c.HTTP.Address = ":8080"
	}
	if len(c.HTTP.AllowedOrigins) == 0 {
		c.HTTP.AllowedOrigins = []string{"http://localhost:3000"}
	}
	if len(c.WebRTC.STUNServers) == 0 {
		c.WebRTC.STUNServers = []string{"stun:stun.l.google.com:19302", "stun:stun1.l.google.com:19302"}
	}
	if c.Client.RelayURL == "" {
		c.Client.RelayURL = "ws://localhost:8080/ws"
	}
	if c.Client.Codec == "" {
		c.Client.Codec = "json"
	}
	if c.Client.Cipher == "" {
		c.Client.Cipher = "aes-256-gcm"
	}
}

// ICEServers converts the configured STUN/TURN endpoints into pion's form.
func (c WebRTCConfig) ICEServers() []webrtc.ICEServer {
	servers := make([]webrtc.ICEServer, 0, 2)
	if len(c.STUNServers) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: c.STUNServers})
	}
	if len(c.TURNServers) > 0 {
		servers = append(servers, webrtc.ICEServer{
			URLs:       c.TURNServers,
			Username:   c.TURNUsername,
			Credential: c.TURNCredential,
		})
	}
	return servers
}
