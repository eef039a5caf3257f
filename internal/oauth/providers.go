package oauth

import (
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

var discordEndpoint = oauth2.Endpoint{
	AuthURL:   "https://discord.com/oauth2/authorize",
	TokenURL:  "https://discord.com/api/oauth2/token",
	AuthStyle: oauth2.AuthStyleInParams,
}

var twitterEndpoint = oauth2.Endpoint{
	AuthURL:   "https://twitter.com/i/oauth2/authorize",
	TokenURL:  "https://api.twitter.com/2/oauth2/token",
	AuthStyle: oauth2.AuthStyleInHeader,
}

type discordUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Verified bool   `json:"verified"`
}

// NewDiscord Discord 登录，需要 identify + email 权限
func NewDiscord(clientID, clientSecret, redirectURL string, opts ...Option) Provider {
	p := &oauth2Provider{
		name: "Discord",
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"identify", "email"},
			Endpoint:     discordEndpoint,
		},
		userInfoURL: "https://discord.com/api/users/@me",
		decode: func(body []byte) (*Identity, error) {
			var u discordUser
			if err := decodeJSON(body, &u); err != nil {
				return nil, err
			}
			ident := &Identity{ProviderKey: u.ID, Name: u.Username}
			// 未验证的邮箱不能用于账号合并
			if u.Verified {
				ident.Email = u.Email
			}
			return ident, nil
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type twitterUser struct {
	Data struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		Username string `json:"username"`
	} `json:"data"`
}

// NewTwitter Twitter OAuth 2.0，不返回邮箱
func NewTwitter(clientID, clientSecret, redirectURL string, opts ...Option) Provider {
	p := &oauth2Provider{
		name: "Twitter",
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"users.read", "tweet.read"},
			Endpoint:     twitterEndpoint,
		},
		userInfoURL: "https://api.twitter.com/2/users/me",
		decode: func(body []byte) (*Identity, error) {
			var u twitterUser
			if err := decodeJSON(body, &u); err != nil {
				return nil, err
			}
			return &Identity{ProviderKey: u.Data.ID, Name: u.Data.Username}, nil
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// GoogleUserInfo Google 用户信息结构
type GoogleUserInfo struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	VerifiedEmail bool   `json:"verified_email"`
	Name          string `json:"name"`
	GivenName     string `json:"given_name"`
}

func NewGoogle(clientID, clientSecret, redirectURL string, opts ...Option) Provider {
	p := &oauth2Provider{
		name: "Google",
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes: []string{
				"https://www.googleapis.com/auth/userinfo.email",
				"https://www.googleapis.com/auth/userinfo.profile",
			},
			Endpoint: google.Endpoint,
		},
		userInfoURL: "https://www.googleapis.com/oauth2/v2/userinfo",
		decode: func(body []byte) (*Identity, error) {
			var u GoogleUserInfo
			if err := decodeJSON(body, &u); err != nil {
				return nil, err
			}
			name := u.GivenName
			if name == "" {
				name = u.Name
			}
			ident := &Identity{ProviderKey: u.ID, Name: name}
			if u.VerifiedEmail {
				ident.Email = u.Email
			}
			return ident, nil
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}
