package apiclient

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	// HTTP client configuration timeouts
	TCPDialTimeout        = 5 * time.Second
	TCPKeepAliveInterval  = 30 * time.Second
	TLSHandshakeTimeout   = 5 * time.Second
	IdleConnTimeout       = 90 * time.Second
	ExpectContinueTimeout = 1 * time.Second

	// DefaultRequestTimeout applies when TransportConfig.Timeout is zero
	DefaultRequestTimeout = 10 * time.Second
)

// TLSConfig holds optional TLS settings for the harness transport
type TLSConfig struct {
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify" env:"TRAVELER_TLS_INSECURE" env-default:"false"`
	CAFile             string `yaml:"ca_file" env:"TRAVELER_TLS_CA_FILE"`
	CertFile           string `yaml:"cert_file" env:"TRAVELER_TLS_CERT_FILE"`
	KeyFile            string `yaml:"key_file" env:"TRAVELER_TLS_KEY_FILE"`
}

// IsZero reports whether no TLS option is set
func (t TLSConfig) IsZero() bool {
	return !t.InsecureSkipVerify && t.CAFile == "" && t.CertFile == "" && t.KeyFile == ""
}

// OAuth2Config enables the client-credentials grant when TokenURL is set
type OAuth2Config struct {
	TokenURL     string `yaml:"token_url" env:"TRAVELER_OAUTH2_TOKEN_URL"`
	ClientID     string `yaml:"client_id" env:"TRAVELER_OAUTH2_CLIENT_ID"`
	ClientSecret string `yaml:"client_secret" env:"TRAVELER_OAUTH2_CLIENT_SECRET"`
	Scope        string `yaml:"scope" env:"TRAVELER_OAUTH2_SCOPE"`
}

// Enabled reports whether a token endpoint is configured
func (o OAuth2Config) Enabled() bool {
	return o.TokenURL != ""
}

// TransportConfig sizes and secures the shared HTTP client
type TransportConfig struct {
	Timeout time.Duration
	// MaxConns is the expected peak concurrency, usually the scenario's max VUs
	MaxConns int
	TLS      TLSConfig
	OAuth2   OAuth2Config
}

// RequestTimeout returns the configured timeout or the default
func (c TransportConfig) RequestTimeout() time.Duration {
	if c.Timeout <= 0 {
		return DefaultRequestTimeout
	}
	return c.Timeout
}

// NewHTTPClient builds the client shared by all virtual users,
// with connection pooling sized to the peak concurrency.
func NewHTTPClient(cfg TransportConfig) (*http.Client, error) {
	conns := cfg.MaxConns
	if conns <= 0 {
		conns = 100
	}

	transport := &http.Transport{
		MaxIdleConns:        conns,
		MaxIdleConnsPerHost: conns,
		MaxConnsPerHost:     conns * 2,
		IdleConnTimeout:     IdleConnTimeout,
		ForceAttemptHTTP2:   true,

		DialContext: (&net.Dialer{
			Timeout:   TCPDialTimeout,
			KeepAlive: TCPKeepAliveInterval,
		}).DialContext,

		TLSHandshakeTimeout:   TLSHandshakeTimeout,
		ResponseHeaderTimeout: cfg.RequestTimeout(),
		ExpectContinueTimeout: ExpectContinueTimeout,
	}

	if !cfg.TLS.IsZero() {
		tlsCfg, err := buildTLSConfig(cfg.TLS)
		if err != nil {
			return nil, err
		}
		transport.TLSClientConfig = tlsCfg
	}

	client := &http.Client{
		Timeout:   cfg.RequestTimeout(),
		Transport: transport,
	}

	if cfg.OAuth2.Enabled() {
		client = withClientCredentials(client, cfg.OAuth2)
	}

	return client, nil
}

func buildTLSConfig(cfg TLSConfig) (*tls.Config, error) {
	tlsCfg := &tls.Config{
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}

	// client certificate for mTLS
	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}

	if cfg.CAFile != "" {
		caCert, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
		tlsCfg.RootCAs = pool
	}

	return tlsCfg, nil
}

// withClientCredentials wraps base so every request carries a bearer token.
// Tokens are fetched with base itself and cached until expiry.
func withClientCredentials(base *http.Client, cfg OAuth2Config) *http.Client {
	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
	}
	if cfg.Scope != "" {
		cc.Scopes = strings.Fields(cfg.Scope)
	}

	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	client := cc.Client(ctx)
	client.Timeout = base.Timeout
	return client
}
