// Package outlook implements the calendar provider for Microsoft Outlook /
// Office 365 against the Graph v1.0 REST API.
package outlook

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/stitchcal/stitch/internal/core"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"
)

const defaultGraphURL = "https://graph.microsoft.com/v1.0"

var graphScopes = []string{
	"https://graph.microsoft.com/Calendars.Read",
	"https://graph.microsoft.com/User.Read",
	"offline_access",
}

// Adapter talks to Microsoft Graph. It deliberately uses the plain REST
// surface: incremental sync replays a stored delta URL verbatim, and the
// engine needs the raw HTTP status to tell an expired token apart from other
// failures.
type Adapter struct {
	config *oauth2.Config

	// Overridden in tests.
	baseURL string
}

func New(clientID, clientSecret, tenantID, redirectURL string) *Adapter {
	if tenantID == "" {
		tenantID = "common"
	}
	return &Adapter{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     microsoft.AzureADEndpoint(tenantID),
			RedirectURL:  redirectURL,
			Scopes:       graphScopes,
		},
		baseURL: defaultGraphURL,
	}
}

func (o *Adapter) Kind() core.ProviderKind { return core.ProviderOutlook }

func (o *Adapter) AuthURL(state string) (string, error) {
	return o.config.AuthCodeURL(state, oauth2.AccessTypeOffline), nil
}

func (o *Adapter) ExchangeCode(ctx context.Context, code string) (core.Credentials, core.Identity, error) {
	tok, err := o.config.Exchange(ctx, code)
	if err != nil {
		return core.Credentials{}, core.Identity{}, &core.ProviderError{
			Code: core.FailCredentialExchange,
			Err:  fmt.Errorf("graph code exchange: %w", err),
		}
	}

	creds := core.Credentials{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}

	ident, err := o.fetchIdentity(ctx, creds)
	if err != nil {
		return core.Credentials{}, core.Identity{}, err
	}
	return creds, ident, nil
}

// RefreshTokens refreshes manually rather than through an oauth2.TokenSource
// so the scope set is re-asserted on every refresh: some Graph deployments
// silently narrow scope when the refresh request omits it.
func (o *Adapter) RefreshTokens(ctx context.Context, creds core.Credentials) (core.Credentials, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {creds.RefreshToken},
		"client_id":     {o.config.ClientID},
		"client_secret": {o.config.ClientSecret},
		"scope":         {strings.Join(graphScopes, " ")},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.config.Endpoint.TokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return core.Credentials{}, fmt.Errorf("build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return core.Credentials{}, &core.ProviderError{Code: core.FailUnreachable, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return core.Credentials{}, &core.ProviderError{
			Code: core.FailCredentialInvalid,
			Err:  fmt.Errorf("graph token refresh: status %d", resp.StatusCode),
		}
	}

	var body struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return core.Credentials{}, fmt.Errorf("decode refresh response: %w", err)
	}

	next := core.Credentials{
		AccessToken:  body.AccessToken,
		RefreshToken: body.RefreshToken,
		Expiry:       time.Now().Add(time.Duration(body.ExpiresIn) * time.Second),
	}
	if next.RefreshToken == "" {
		next.RefreshToken = creds.RefreshToken
	}
	return next, nil
}

func (o *Adapter) ListCalendars(ctx context.Context, creds core.Credentials) ([]core.Calendar, error) {
	var result struct {
		Value []struct {
			ID                string `json:"id"`
			Name              string `json:"name"`
			HexColor          string `json:"hexColor"`
			CanEdit           bool   `json:"canEdit"`
			IsDefaultCalendar bool   `json:"isDefaultCalendar"`
		} `json:"value"`
		NextLink string `json:"@odata.nextLink"`
	}

	var cals []core.Calendar
	next := o.baseURL + "/me/calendars"
	for next != "" {
		if err := o.getJSON(ctx, creds, next, false, &result); err != nil {
			return nil, err
		}
		for _, cal := range result.Value {
			cals = append(cals, core.Calendar{
				ExternalID: cal.ID,
				Name:       cal.Name,
				Color:      cal.HexColor,
				IsReadOnly: !cal.CanEdit,
				IsEnabled:  true,
			})
		}
		next = result.NextLink
		result.Value = nil
		result.NextLink = ""
	}
	return cals, nil
}

func (o *Adapter) fetchIdentity(ctx context.Context, creds core.Credentials) (core.Identity, error) {
	var me struct {
		ID                string `json:"id"`
		Mail              string `json:"mail"`
		UserPrincipalName string `json:"userPrincipalName"`
	}
	if err := o.getJSON(ctx, creds, o.baseURL+"/me", false, &me); err != nil {
		return core.Identity{}, err
	}

	email := me.Mail
	if email == "" {
		email = me.UserPrincipalName
	}
	return core.Identity{ProviderAccountID: me.ID, Email: email}, nil
}

// getJSON issues one authenticated GET and decodes the response.
// usingToken marks requests that replay a stored continuation URL, where a
// 410 or 400 means the delta state expired rather than a caller bug.
func (o *Adapter) getJSON(ctx context.Context, creds core.Credentials, rawURL string, usingToken bool, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("build graph request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)
	req.Header.Set("Prefer", `outlook.timezone="UTC", odata.maxpagesize=100`)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return &core.ProviderError{Code: core.FailUnreachable, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return json.NewDecoder(resp.Body).Decode(out)
	case usingToken && (resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusBadRequest):
		return fmt.Errorf("graph delta request: status %d: %w", resp.StatusCode, core.ErrSyncTokenInvalid)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &core.ProviderError{
			Code: core.FailCredentialInvalid,
			Err:  fmt.Errorf("graph request %s: status %d", req.URL.Path, resp.StatusCode),
		}
	case resp.StatusCode >= 500:
		return &core.ProviderError{
			Code: core.FailUnreachable,
			Err:  fmt.Errorf("graph request %s: status %d", req.URL.Path, resp.StatusCode),
		}
	default:
		return fmt.Errorf("graph request %s: unexpected status %d", req.URL.Path, resp.StatusCode)
	}
}
