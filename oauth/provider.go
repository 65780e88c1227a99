package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/facebook"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/google"
)

// Provider names accepted by the registry.
const (
	ProviderGoogle   = "google"
	ProviderFacebook = "facebook"
	ProviderGitHub   = "github"
	ProviderDiscord  = "discord"
)

// ErrUnknownProvider reports a provider name with no registration.
var ErrUnknownProvider = errors.New("oauth: unknown provider")

// ErrProfileFetch reports a failure retrieving or decoding the profile
// document after a successful code exchange.
var ErrProfileFetch = errors.New("oauth: profile fetch failed")

// Profile is the normalized identity a provider reports after a successful
// exchange. ID is the provider-scoped subject identifier and is always set;
// Email may be empty when the provider withholds it.
type Profile struct {
	Provider string
	ID       string
	Email    string
	Name     string
	Avatar   string
}

// Credentials holds the client registration for a single provider.
type Credentials struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// Scopes overrides the provider defaults when non-empty.
	Scopes []string

	// Endpoint overrides for self-hosted deployments (e.g. GitHub
	// Enterprise). Empty fields keep the provider defaults.
	AuthURL    string
	TokenURL   string
	ProfileURL string
}

// Provider wraps an oauth2 endpoint plus the profile endpoint that turns an
// access token into a normalized Profile.
type Provider struct {
	name       string
	config     *oauth2.Config
	profileURL string
	decode     func(body []byte) (*Profile, error)
}

// Name returns the registry name of the provider.
func (p *Provider) Name() string { return p.name }

// AuthCodeURL returns the provider authorization URL carrying state.
func (p *Provider) AuthCodeURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// discordEndpoint mirrors the published Discord OAuth2 endpoints; x/oauth2
// ships no endpoints subpackage for Discord.
var discordEndpoint = oauth2.Endpoint{
	AuthURL:  "https://discord.com/oauth2/authorize",
	TokenURL: "https://discord.com/api/oauth2/token",
}

// Registry holds the providers an engine may federate with.
//
// Registry instances are intended to be configured during initialization and
// then treated as immutable.
type Registry struct {
	providers map[string]*Provider
	client    *http.Client
}

// NewRegistry returns an empty registry. A nil client gets a 30 second
// timeout default; TLS verification is never disabled.
func NewRegistry(client *http.Client) *Registry {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Registry{providers: map[string]*Provider{}, client: client}
}

// Register adds a provider by name. Unknown names are rejected so that a
// typo in configuration surfaces at startup rather than at callback time.
func (r *Registry) Register(name string, creds Credentials) error {
	p, err := build(name, creds)
	if err != nil {
		return err
	}
	r.providers[name] = p
	return nil
}

// Provider resolves a registered provider by name.
func (r *Registry) Provider(name string) (*Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return p, nil
}

// Names returns the registered provider names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}

func build(name string, creds Credentials) (*Provider, error) {
	base := &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		RedirectURL:  creds.RedirectURL,
		Scopes:       creds.Scopes,
	}
	p := &Provider{name: name, config: base}

	switch name {
	case ProviderGoogle:
		base.Endpoint = google.Endpoint
		if len(base.Scopes) == 0 {
			base.Scopes = []string{"openid", "email", "profile"}
		}
		p.profileURL = "https://www.googleapis.com/oauth2/v2/userinfo"
		p.decode = decodeGoogle
	case ProviderFacebook:
		base.Endpoint = facebook.Endpoint
		if len(base.Scopes) == 0 {
			base.Scopes = []string{"email", "public_profile"}
		}
		p.profileURL = "https://graph.facebook.com/me?fields=id,name,email,picture.type(large)"
		p.decode = decodeFacebook
	case ProviderGitHub:
		base.Endpoint = github.Endpoint
		if len(base.Scopes) == 0 {
			base.Scopes = []string{"read:user", "user:email"}
		}
		p.profileURL = "https://api.github.com/user"
		p.decode = decodeGitHub
	case ProviderDiscord:
		base.Endpoint = discordEndpoint
		if len(base.Scopes) == 0 {
			base.Scopes = []string{"identify", "email"}
		}
		p.profileURL = "https://discord.com/api/users/@me"
		p.decode = decodeDiscord
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}

	if creds.AuthURL != "" {
		base.Endpoint.AuthURL = creds.AuthURL
	}
	if creds.TokenURL != "" {
		base.Endpoint.TokenURL = creds.TokenURL
	}
	if creds.ProfileURL != "" {
		if err := p.setProfileURL(creds.ProfileURL); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Exchange trades the authorization code for a token and fetches the
// normalized profile.
func (r *Registry) Exchange(ctx context.Context, name, code string) (*Profile, error) {
	p, err := r.Provider(name)
	if err != nil {
		return nil, err
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, r.client)
	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("oauth: code exchange with %s: %w", name, err)
	}
	return r.fetchProfile(ctx, p, token)
}

func (r *Registry) fetchProfile(ctx context.Context, p *Provider, token *oauth2.Token) (*Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.profileURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	if p.name == ProviderGitHub {
		req.Header.Set("Accept", "application/vnd.github+json")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProfileFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned %d", ErrProfileFetch, p.name, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProfileFetch, err)
	}

	profile, err := p.decode(body)
	if err != nil {
		return nil, err
	}
	if profile.ID == "" {
		return nil, fmt.Errorf("%w: %s profile has no subject id", ErrProfileFetch, p.name)
	}
	profile.Provider = p.name
	return profile, nil
}

// setProfileURL redirects profile fetches, for tests.
func (p *Provider) setProfileURL(raw string) error {
	if _, err := url.Parse(raw); err != nil {
		return err
	}
	p.profileURL = raw
	return nil
}

func decodeGoogle(body []byte) (*Profile, error) {
	var doc struct {
		ID      string `json:"id"`
		Email   string `json:"email"`
		Name    string `json:"name"`
		Picture string `json:"picture"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProfileFetch, err)
	}
	return &Profile{ID: doc.ID, Email: doc.Email, Name: doc.Name, Avatar: doc.Picture}, nil
}

func decodeFacebook(body []byte) (*Profile, error) {
	var doc struct {
		ID      string `json:"id"`
		Email   string `json:"email"`
		Name    string `json:"name"`
		Picture struct {
			Data struct {
				URL string `json:"url"`
			} `json:"data"`
		} `json:"picture"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProfileFetch, err)
	}
	return &Profile{ID: doc.ID, Email: doc.Email, Name: doc.Name, Avatar: doc.Picture.Data.URL}, nil
}

func decodeGitHub(body []byte) (*Profile, error) {
	var doc struct {
		ID        int64  `json:"id"`
		Login     string `json:"login"`
		Name      string `json:"name"`
		Email     string `json:"email"`
		AvatarURL string `json:"avatar_url"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProfileFetch, err)
	}
	name := doc.Name
	if name == "" {
		name = doc.Login
	}
	var id string
	if doc.ID != 0 {
		id = strconv.FormatInt(doc.ID, 10)
	}
	return &Profile{ID: id, Email: doc.Email, Name: name, Avatar: doc.AvatarURL}, nil
}

func decodeDiscord(body []byte) (*Profile, error) {
	var doc struct {
		ID       string `json:"id"`
		Username string `json:"username"`
		Global   string `json:"global_name"`
		Email    string `json:"email"`
		Avatar   string `json:"avatar"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProfileFetch, err)
	}
	name := doc.Global
	if name == "" {
		name = doc.Username
	}
	var avatar string
	if doc.Avatar != "" && doc.ID != "" {
		avatar = "https://cdn.discordapp.com/avatars/" + doc.ID + "/" + doc.Avatar + ".png"
	}
	return &Profile{ID: doc.ID, Email: doc.Email, Name: name, Avatar: avatar}, nil
}
