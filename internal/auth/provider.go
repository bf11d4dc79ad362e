package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
)

// accountNameHeader selects the flat signedToken response shape when set.
const accountNameHeader = "X-Account-Name"

// Credentials identify the harness user at the identity provider.
type Credentials struct {
	User     string
	Password string
	Number   string // employee/account number, informational
	// AccountName, when non-empty, is sent as the X-Account-Name header and
	// switches the provider to the flat signedToken response shape.
	AccountName string
}

// TokenPair is the result of a successful login or refresh exchange.
// RefreshToken may be empty on refresh responses.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// Provider performs the actual login/refresh HTTP exchanges. The cache layers
// on top; tests substitute a fake. Refresh takes the credentials too: the
// account name selects the response shape for both exchanges.
type Provider interface {
	Login(ctx context.Context, creds Credentials) (TokenPair, error)
	Refresh(ctx context.Context, creds Credentials, refreshToken string) (TokenPair, error)
}

// HTTPProvider talks to the identity provider over HTTP. Login sends Basic
// credentials, refresh sends the refresh token as a Bearer header; both POST
// and share the same response shapes. It performs no internal retries —
// failures surface as *AuthError and the caller owns the retry decision.
type HTTPProvider struct {
	host        string
	loginPath   string
	refreshPath string
	httpClient  *http.Client
	logger      *slog.Logger
}

// NewHTTPProvider creates a provider for the given host and endpoint paths.
// The injected client bounds the call timeout; nil falls back to
// http.DefaultClient.
func NewHTTPProvider(host, loginPath, refreshPath string, httpClient *http.Client, logger *slog.Logger) *HTTPProvider {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &HTTPProvider{
		host:        strings.TrimRight(host, "/"),
		loginPath:   loginPath,
		refreshPath: refreshPath,
		httpClient:  httpClient,
		logger:      logger,
	}
}

// Login performs the initial credential exchange with a Basic auth header.
func (p *HTTPProvider) Login(ctx context.Context, creds Credentials) (TokenPair, error) {
	basic := base64.StdEncoding.EncodeToString([]byte(creds.User + ":" + creds.Password))

	return p.exchange(ctx, "login", p.loginPath, "Basic "+basic, creds.AccountName, ErrLoginFailed,
		map[string]string{"user": creds.User})
}

// Refresh exchanges the refresh token for a new access token. The account
// name header and response shape follow the credentials, same as Login.
func (p *HTTPProvider) Refresh(ctx context.Context, creds Credentials, refreshToken string) (TokenPair, error) {
	return p.exchange(ctx, "refresh", p.refreshPath, "Bearer "+refreshToken, creds.AccountName, ErrRefreshFailed,
		map[string]string{"user": creds.User})
}

// exchange runs a single POST against the identity provider and parses the
// token pair out of the response.
func (p *HTTPProvider) exchange(
	ctx context.Context,
	op, path, authorization, accountName string,
	kind error,
	details map[string]string,
) (TokenPair, error) {
	url := p.host + path

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return TokenPair{}, &AuthError{Op: op, Message: err.Error(), Details: details, Err: kind}
	}

	req.Header.Set("Authorization", authorization)

	if accountName != "" {
		req.Header.Set(accountNameHeader, accountName)
	}

	p.logger.Debug("identity provider call", slog.String("op", op), slog.String("url", url))

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return TokenPair{}, &AuthError{
			Op:      op,
			Message: fmt.Sprintf("calling identity provider: %v", err),
			Details: details,
			Err:     kind,
		}
	}

	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		p.logger.Warn("identity provider returned non-success status",
			slog.String("op", op),
			slog.Int("status", resp.StatusCode),
		)

		return TokenPair{}, &AuthError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Message:    "identity provider returned non-success status",
			Details:    withDetail(details, "status", strconv.Itoa(resp.StatusCode)),
			Err:        kind,
		}
	}

	pair, err := parseTokenResponse(resp.Body, accountName != "")
	if err != nil {
		return TokenPair{}, &AuthError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Message:    err.Error(),
			Details:    details,
			Err:        ErrMalformedResponse,
		}
	}

	return pair, nil
}

// tokenResponse covers both response shapes the provider serves: the nested
// data.token object, and the flat signedToken fields used when an account
// name header is present.
type tokenResponse struct {
	Data struct {
		Token struct {
			AccessToken  string `json:"access_token"`
			RefreshToken string `json:"refresh_token"`
		} `json:"token"`
		SignedToken  string `json:"signedToken"`
		RefreshToken string `json:"refreshToken"`
	} `json:"data"`
}

func parseTokenResponse(body io.Reader, flat bool) (TokenPair, error) {
	var tr tokenResponse
	if err := json.NewDecoder(body).Decode(&tr); err != nil {
		return TokenPair{}, fmt.Errorf("decoding response: %w", err)
	}

	var pair TokenPair
	if flat {
		pair = TokenPair{AccessToken: tr.Data.SignedToken, RefreshToken: tr.Data.RefreshToken}
	} else {
		pair = TokenPair{AccessToken: tr.Data.Token.AccessToken, RefreshToken: tr.Data.Token.RefreshToken}
	}

	if pair.AccessToken == "" {
		return TokenPair{}, fmt.Errorf("response missing access token field")
	}

	return pair, nil
}

func withDetail(details map[string]string, key, value string) map[string]string {
	out := make(map[string]string, len(details)+1)
	for k, v := range details {
		out[k] = v
	}

	out[key] = value

	return out
}
