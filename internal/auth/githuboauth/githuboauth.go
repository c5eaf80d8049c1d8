// Package githuboauth implements the browser login flow: exchanging a
// GitHub OAuth authorization code for an access token, then fetching the
// authenticated user's profile to create or update the local User row.
// Login only needs identity, not repository access, so it is a single-shot
// exchange rather than a stored, renewable credential.
package githuboauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/forc-lang/forc-registry/internal/apierr"
	"github.com/forc-lang/forc-registry/internal/config"
)

const userAPIURL = "https://api.github.com/user"

// Profile is the subset of GitHub's /user response the registry persists.
type Profile struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
	Email     string `json:"email"`
}

// Exchanger turns authorization codes into GitHub profiles.
type Exchanger struct {
	oauthConfig *oauth2.Config
	httpClient  *http.Client
}

// New builds an Exchanger from the configured GitHub OAuth application.
func New(cfg config.GitHubConfig) *Exchanger {
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{"read:user", "user:email"}
	}

	return &Exchanger{
		oauthConfig: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  "https://github.com/login/oauth/authorize",
				TokenURL: "https://github.com/login/oauth/access_token",
			},
		},
		httpClient: http.DefaultClient,
	}
}

// AuthCodeURL builds the GitHub authorization redirect target, tying the
// callback to the given CSRF state value.
func (e *Exchanger) AuthCodeURL(state string) string {
	return e.oauthConfig.AuthCodeURL(state)
}

// Exchange trades an authorization code for a user profile in one call:
// code -> access token -> GitHub user lookup.
func (e *Exchanger) Exchange(ctx context.Context, code string) (*Profile, error) {
	return e.exchangeAt(ctx, code, userAPIURL)
}

func (e *Exchanger) exchangeAt(ctx context.Context, code, userURL string) (*Profile, error) {
	token, err := e.oauthConfig.Exchange(ctx, code)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindGithub, 401, "github code exchange failed", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, userURL, nil)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindGithub, 500, "build github user request", err)
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindGithub, 401, "github user request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, apierr.New(apierr.KindGithub, 401, fmt.Sprintf("github user request returned %d: %s", resp.StatusCode, body))
	}

	var profile Profile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, apierr.Wrap(apierr.KindGithub, 500, "decode github user response", err)
	}

	return &profile, nil
}
