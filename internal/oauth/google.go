package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/geocoder89/shopfront/internal/config"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const googleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

var ErrInvalidAssertion = errors.New("identity assertion rejected by provider")

// Profile is the identity assertion handed to the bridge.
type Profile struct {
	Subject       string
	Name          string
	Email         string
	EmailVerified bool
}

type GoogleProvider struct {
	config      *oauth2.Config
	userInfoURL string
}

func NewGoogleProvider(cfg config.OAuthConfig) *GoogleProvider {
	return &GoogleProvider{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes: []string{
				"https://www.googleapis.com/auth/userinfo.email",
				"https://www.googleapis.com/auth/userinfo.profile",
			},
			Endpoint: google.Endpoint,
		},
		userInfoURL: googleUserInfoURL,
	}
}

func (p *GoogleProvider) Name() string {
	return "google"
}

func (p *GoogleProvider) ConsentURL(state string) string {
	return p.config.AuthCodeURL(state)
}

// ExchangeCode completes the consent redirect and resolves the caller's profile.
func (p *GoogleProvider) ExchangeCode(ctx context.Context, code string) (Profile, error) {
	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return Profile{}, fmt.Errorf("%w: exchange code: %v", ErrInvalidAssertion, err)
	}

	return p.fetchProfile(ctx, p.config.Client(ctx, token))
}

// ProfileFromAccessToken resolves a Google access token obtained by the client.
func (p *GoogleProvider) ProfileFromAccessToken(ctx context.Context, accessToken string) (Profile, error) {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})
	return p.fetchProfile(ctx, oauth2.NewClient(ctx, src))
}

func (p *GoogleProvider) fetchProfile(ctx context.Context, client *http.Client) (Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return Profile{}, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return Profile{}, fmt.Errorf("failed to get user info: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return Profile{}, ErrInvalidAssertion
	case resp.StatusCode != http.StatusOK:
		return Profile{}, fmt.Errorf("google api returned status %d", resp.StatusCode)
	}

	var gUser struct {
		ID            string `json:"id"`
		Email         string `json:"email"`
		VerifiedEmail bool   `json:"verified_email"`
		Name          string `json:"name"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&gUser); err != nil {
		return Profile{}, fmt.Errorf("failed to decode user info: %w", err)
	}

	if gUser.ID == "" || gUser.Email == "" {
		return Profile{}, fmt.Errorf("%w: profile without subject or email", ErrInvalidAssertion)
	}

	name := gUser.Name
	if name == "" {
		name = gUser.Email
	}

	return Profile{
		Subject:       gUser.ID,
		Name:          name,
		Email:         gUser.Email,
		EmailVerified: gUser.VerifiedEmail,
	}, nil
}

// GenerateState returns an unguessable value for the consent round trip.
func GenerateState() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
