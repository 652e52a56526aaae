// Package oracle is the contract boundary to the external trust oracle:
// given an opaque ticket, it answers whether the bearer is a moderator.
// Any failure of that external call is treated as "not a moderator" —
// privilege fails closed, never open.
package oracle

import (
	"encoding/json"
	"log"
	"net/http"
	"net/url"
	"time"
)

// Client answers moderator-identity questions. Implementations must never
// surface a failure as an error to their own caller; IsModerator returns
// false whenever the underlying check could not be completed.
type Client interface {
	IsModerator(ticket string) bool
}

// authResponse is the subset of the partner auth service's response body
// this client reads.
type authResponse struct {
	Response struct {
		Error  string `json:"error"`
		Params struct {
			SteamID string `json:"steamid"`
		} `json:"params"`
	} `json:"response"`
}

// HTTPClient is the concrete trust oracle client, ported from the
// originating application's partner-auth ticket check: it calls a
// configured auth endpoint parameterised by an application id and web API
// key, and checks the returned account id against a moderator allowlist.
type HTTPClient struct {
	baseURL    string
	appID      string
	webAPIKey  string
	moderators map[string]struct{}
	log        *log.Logger
	httpClient *http.Client
}

// DefaultBaseURL is the partner auth endpoint used when none is supplied.
const DefaultBaseURL = "https://partner.steam-api.com/ISteamUserAuth/AuthenticateUserTicket/v1/"

// NewHTTPClient returns an HTTPClient that authenticates tickets against
// baseURL (pass "" for DefaultBaseURL) using appID and webAPIKey, checking
// the returned account id against moderators. logger receives one line per
// failed lookup; it must not be nil.
func NewHTTPClient(baseURL, appID, webAPIKey string, moderators map[string]struct{}, logger *log.Logger) *HTTPClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &HTTPClient{
		baseURL:    baseURL,
		appID:      appID,
		webAPIKey:  webAPIKey,
		moderators: moderators,
		log:        logger,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// IsModerator reports whether ticket authenticates to an account id on the
// moderator allowlist. Any HTTP or JSON failure is logged and treated as
// "not a moderator".
func (c *HTTPClient) IsModerator(ticket string) bool {
	q := url.Values{}
	q.Set("key", c.webAPIKey)
	q.Set("appid", c.appID)
	q.Set("ticket", ticket)

	resp, err := c.httpClient.Get(c.baseURL + "?" + q.Encode())
	if err != nil {
		c.log.Println("oracle: trust oracle request failed:", err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.log.Println("oracle: trust oracle returned status", resp.StatusCode)
		return false
	}

	var out authResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		c.log.Println("oracle: could not decode trust oracle response:", err)
		return false
	}
	if out.Response.Error != "" {
		return false
	}

	_, ok := c.moderators[out.Response.Params.SteamID]
	return ok
}
