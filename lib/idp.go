package lib

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const idpRequestTimeout = 30 * time.Second

// IdPClient exchanges an OAuth refresh token for a fresh identity token at
// the IdP's token endpoint. It serves as the fetch callback of the token
// cache when refresh-token mode is configured.
type IdPClient struct {
	URL          string
	ClientID     string
	ClientSecret string

	// UseAccessToken selects the access_token from the token response;
	// otherwise the id_token is used as the web identity token.
	UseAccessToken bool

	HTTPClient *http.Client

	// The refresh token may be rotated by the IdP on every exchange, and
	// refreshes can race (blocking fallback vs background worker), so it is
	// guarded here.
	mu           sync.Mutex
	refreshToken string
}

type idpTokenResponse struct {
	AccessToken  string `json:"access_token"`
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

type idpErrorResponse struct {
	Error       string `json:"error"`
	Description string `json:"error_description"`
}

func NewIdPClient(idpURL, clientID, clientSecret, refreshToken string, useAccessToken bool) *IdPClient {
	return &IdPClient{
		URL:            idpURL,
		ClientID:       clientID,
		ClientSecret:   clientSecret,
		UseAccessToken: useAccessToken,
		HTTPClient:     &http.Client{Timeout: idpRequestTimeout},
		refreshToken:   refreshToken,
	}
}

// RefreshIdentityToken performs a refresh_token grant and returns the new
// identity token with its expiry.
func (c *IdPClient) RefreshIdentityToken() (*Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	log.Debugf("refreshing identity token from %s", c.URL)

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", c.refreshToken)
	form.Set("client_id", c.ClientID)
	if c.ClientSecret != "" {
		form.Set("client_secret", c.ClientSecret)
	}

	res, err := c.HTTPClient.Post(c.URL, "application/x-www-form-urlencoded",
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, errors.Wrap(err, "unable to reach identity provider")
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		var errRes idpErrorResponse
		if err := json.NewDecoder(res.Body).Decode(&errRes); err == nil && errRes.Error != "" {
			return nil, errors.Errorf("identity provider returned %d: %s: %s",
				res.StatusCode, errRes.Error, errRes.Description)
		}
		return nil, errors.Errorf("identity provider returned %d", res.StatusCode)
	}

	var tokenRes idpTokenResponse
	if err := json.NewDecoder(res.Body).Decode(&tokenRes); err != nil {
		return nil, errors.Wrap(err, "unable to parse token response")
	}

	value := tokenRes.IDToken
	if c.UseAccessToken {
		value = tokenRes.AccessToken
	}
	if value == "" {
		return nil, errors.New("token response contained no usable token")
	}

	if tokenRes.RefreshToken != "" {
		c.refreshToken = tokenRes.RefreshToken
	}

	token := &Token{Value: value}
	if tokenRes.ExpiresIn > 0 {
		exp := time.Now().Add(time.Duration(tokenRes.ExpiresIn) * time.Second)
		token.Expiration = &exp
		log.Debugf("identity token refreshed, expires in %ds", tokenRes.ExpiresIn)
	} else {
		log.Debug("identity token refreshed, no expiry reported")
	}
	return token, nil
}
