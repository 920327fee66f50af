// Package linkedin publishes posts through the LinkedIn Posts API.
//
// Credentials are explicit values with expiry carried as data: callers hold
// a Credential, check Valid, and re-acquire through ExchangeCode when it
// lapses. There is no implicit long-lived session.
package linkedin

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

const (
	defaultAuthBaseURL = "https://www.linkedin.com"
	defaultAPIBaseURL  = "https://api.linkedin.com"
	apiVersion         = "202601"
)

// Credential is a re-acquirable LinkedIn access grant.
type Credential struct {
	AccessToken string    `json:"access_token"`
	PersonURN   string    `json:"person_urn"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Valid reports whether the credential is present and unexpired.
func (c Credential) Valid(now time.Time) bool {
	if c.AccessToken == "" || c.PersonURN == "" {
		return false
	}
	return c.ExpiresAt.IsZero() || now.Before(c.ExpiresAt)
}

// Client performs LinkedIn OAuth exchange and post publishing.
type Client interface {
	AuthURL(state string) string
	ExchangeCode(ctx context.Context, code string) (*Credential, error)
	CreatePost(ctx context.Context, cred Credential, commentary string) (string, error)
}

// Option configures the client.
type Option func(*httpClient)

// WithAuthBaseURL overrides the OAuth base URL.
func WithAuthBaseURL(u string) Option {
	return func(c *httpClient) {
		c.authBaseURL = u
	}
}

// WithAPIBaseURL overrides the API base URL.
func WithAPIBaseURL(u string) Option {
	return func(c *httpClient) {
		c.apiBaseURL = u
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	clientID     string
	clientSecret string
	redirectURI  string
	authBaseURL  string
	apiBaseURL   string
	http         *http.Client
}

// NewClient creates a LinkedIn API client.
func NewClient(clientID, clientSecret, redirectURI string, opts ...Option) Client {
	c := &httpClient{
		clientID:     clientID,
		clientSecret: clientSecret,
		redirectURI:  redirectURI,
		authBaseURL:  defaultAuthBaseURL,
		apiBaseURL:   defaultAPIBaseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// AuthURL returns the OAuth authorization URL for the configured app.
func (c *httpClient) AuthURL(state string) string {
	q := url.Values{
		"response_type": {"code"},
		"client_id":     {c.clientID},
		"redirect_uri":  {c.redirectURI},
		"state":         {state},
		"scope":         {"w_member_social openid profile email"},
	}
	return c.authBaseURL + "/oauth/v2/authorization?" + q.Encode()
}

// ExchangeCode trades an authorization code for a Credential, resolving the
// member URN from the userinfo endpoint.
func (c *httpClient) ExchangeCode(ctx context.Context, code string) (*Credential, error) {
	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
		"redirect_uri":  {c.redirectURI},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.authBaseURL+"/oauth/v2/accessToken", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, eris.Wrap(err, "linkedin: create token request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := c.do(req, &tok); err != nil {
		return nil, eris.Wrap(err, "linkedin: exchange code")
	}

	cred := &Credential{
		AccessToken: tok.AccessToken,
		ExpiresAt:   time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second),
	}

	urn, err := c.personURN(ctx, cred.AccessToken)
	if err != nil {
		return nil, err
	}
	cred.PersonURN = urn

	return cred, nil
}

func (c *httpClient) personURN(ctx context.Context, token string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBaseURL+"/v2/userinfo", nil)
	if err != nil {
		return "", eris.Wrap(err, "linkedin: create userinfo request")
	}
	req.Header.Set("Authorization", "Bearer "+token)

	var info struct {
		Sub string `json:"sub"`
	}
	if err := c.do(req, &info); err != nil {
		return "", eris.Wrap(err, "linkedin: userinfo")
	}
	if info.Sub == "" {
		return "", eris.New("linkedin: userinfo returned no subject")
	}
	return "urn:li:person:" + info.Sub, nil
}

// CreatePost publishes a public post and returns the provider's post id.
func (c *httpClient) CreatePost(ctx context.Context, cred Credential, commentary string) (string, error) {
	if !cred.Valid(time.Now()) {
		return "", eris.New("linkedin: credential missing or expired")
	}

	payload := map[string]any{
		"author":     cred.PersonURN,
		"commentary": commentary,
		"visibility": "PUBLIC",
		"distribution": map[string]any{
			"feedDistribution":               "MAIN_FEED",
			"targetEntities":                 []any{},
			"thirdPartyDistributionChannels": []any{},
		},
		"lifecycleState":            "PUBLISHED",
		"isReshareDisabledByAuthor": false,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", eris.Wrap(err, "linkedin: marshal post")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBaseURL+"/rest/posts", bytes.NewReader(body))
	if err != nil {
		return "", eris.Wrap(err, "linkedin: create post request")
	}
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	req.Header.Set("LinkedIn-Version", apiVersion)
	req.Header.Set("X-Restli-Protocol-Version", "2.0.0")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", eris.Wrap(err, "linkedin: send post")
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusCreated {
		return "", eris.Errorf("linkedin: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	// The Posts API returns the new post id in a header; some deployments
	// also include it in the body.
	if id := resp.Header.Get("x-restli-id"); id != "" {
		return id, nil
	}
	var created struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(respBody, &created)
	return created.ID, nil
}

func (c *httpClient) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "linkedin: send request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "linkedin: read response")
	}
	if resp.StatusCode != http.StatusOK {
		return eris.Errorf("linkedin: unexpected status %d: %s", resp.StatusCode, string(body))
	}
	return eris.Wrap(json.Unmarshal(body, out), "linkedin: unmarshal response")
}
