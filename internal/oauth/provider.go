package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"holodomination/internal/config"

	"golang.org/x/oauth2"
)

// Identity is the principal returned by an external provider.
type Identity struct {
	Provider            string
	ProviderKey         string
	ProviderDisplayName string
	Name                string
	Email               string
}

// Provider 第三方登录提供方
type Provider interface {
	Name() string
	AuthCodeURL(state, verifier string) string
	Exchange(ctx context.Context, code, verifier string) (*Identity, error)
}

type decodeFunc func(body []byte) (*Identity, error)

// oauth2Provider 通用的 authorization code + PKCE 实现
type oauth2Provider struct {
	name        string
	config      *oauth2.Config
	userInfoURL string
	decode      decodeFunc
}

func (p *oauth2Provider) Name() string {
	return p.name
}

func (p *oauth2Provider) AuthCodeURL(state, verifier string) string {
	return p.config.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
}

func (p *oauth2Provider) Exchange(ctx context.Context, code, verifier string) (*Identity, error) {
	token, err := p.config.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("%s token exchange: %w", p.name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.config.Client(ctx, token).Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s userinfo: %w", p.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s userinfo: status %d", p.name, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	ident, err := p.decode(body)
	if err != nil {
		return nil, fmt.Errorf("%s userinfo: %w", p.name, err)
	}
	if ident.ProviderKey == "" {
		return nil, fmt.Errorf("%s userinfo: missing user id", p.name)
	}
	ident.Provider = p.name
	ident.ProviderDisplayName = p.name
	return ident, nil
}

// Option overrides provider endpoints, mainly for tests.
type Option func(*oauth2Provider)

func WithEndpoint(endpoint oauth2.Endpoint, userInfoURL string) Option {
	return func(p *oauth2Provider) {
		p.config.Endpoint = endpoint
		p.userInfoURL = userInfoURL
	}
}

// Registry 已配置的提供方，按名称（忽略大小写）查找
type Registry struct {
	providers map[string]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider)}
	for _, p := range providers {
		r.providers[strings.ToLower(p.Name())] = p
	}
	return r
}

// FromConfig registers every provider with credentials set.
// Callback URL is {siteURL}/api/authentication/callback.
func FromConfig(cfg config.OAuthConfig, siteURL string) *Registry {
	redirect := strings.TrimRight(siteURL, "/") + "/api/authentication/callback"

	var providers []Provider
	if cfg.Discord.Enabled() {
		providers = append(providers, NewDiscord(cfg.Discord.ClientID, cfg.Discord.ClientSecret, redirect))
	}
	if cfg.Twitter.Enabled() {
		providers = append(providers, NewTwitter(cfg.Twitter.ClientID, cfg.Twitter.ClientSecret, redirect))
	}
	if cfg.Google.Enabled() {
		providers = append(providers, NewGoogle(cfg.Google.ClientID, cfg.Google.ClientSecret, redirect))
	}
	return NewRegistry(providers...)
}

func (r *Registry) Get(name string) (Provider, bool) {
	p, ok := r.providers[strings.ToLower(strings.TrimSpace(name))]
	return p, ok
}

// Names 返回提供方显示名，按字母排序
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for _, p := range r.providers {
		names = append(names, p.Name())
	}
	sort.Strings(names)
	return names
}

func decodeJSON(body []byte, v interface{}) error {
	return json.Unmarshal(body, v)
}
