package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/sloanahrens/branchdeploy/internal/core/domain"
	"github.com/sloanahrens/branchdeploy/internal/core/environ"
)

// Wire constants for the STS token exchange. These are the interoperability
// contract with Google's Workload Identity Federation and must not drift.
const (
	grantTypeTokenExchange = "urn:ietf:params:oauth:grant-type:token-exchange"
	tokenTypeAccessToken   = "urn:ietf:params:oauth:token-type:access_token"
	tokenTypeJWT           = "urn:ietf:params:oauth:token-type:jwt"
	cloudPlatformScope     = "https://www.googleapis.com/auth/cloud-platform"

	defaultSTSEndpoint = "https://sts.googleapis.com/v1/token"
	defaultIAMBaseURL  = "https://iamcredentials.googleapis.com"
)

// =============================================================================
// GCP Broker
// =============================================================================

// GCPBroker performs the two-hop Workload Identity Federation exchange:
// the CI OIDC token becomes a federated STS token, which then impersonates
// the deployer service account for a short-lived access token.
type GCPBroker struct {
	httpClient *http.Client
	logger     *slog.Logger

	// Endpoints are fixed in production and overridden in tests.
	STSEndpoint string
	IAMBaseURL  string
}

// NewGCPBroker creates a broker against the public Google endpoints.
func NewGCPBroker(httpClient *http.Client, logger *slog.Logger) *GCPBroker {
	return &GCPBroker{
		httpClient:  httpClient,
		logger:      logger.With("component", "identity", "cloud", "gcp"),
		STSEndpoint: defaultSTSEndpoint,
		IAMBaseURL:  defaultIAMBaseURL,
	}
}

type stsRequest struct {
	Audience           string `json:"audience"`
	GrantType          string `json:"grantType"`
	RequestedTokenType string `json:"requestedTokenType"`
	Scope              string `json:"scope"`
	SubjectTokenType   string `json:"subjectTokenType"`
	SubjectToken       string `json:"subjectToken"`
}

type stsResponse struct {
	AccessToken string `json:"access_token"`
}

type iamRequest struct {
	Scope []string `json:"scope"`
}

type iamResponse struct {
	AccessToken string `json:"accessToken"`
	ExpireTime  string `json:"expireTime"`
}

// Exchange runs both hops and returns the impersonated access token as a
// credential for the Pulumi google provider and the docker registry login.
func (b *GCPBroker) Exchange(ctx context.Context, env *environ.Environment) (domain.Credential, error) {
	audience := env.GCP.WIFAudience()
	b.logger.Info("exchanging CI token for federated credentials",
		"audience", audience,
		"token_source", env.OIDCSource,
	)

	federated, err := b.exchangeSTS(ctx, audience, env.OIDCToken)
	if err != nil {
		return domain.Credential{}, err
	}

	saToken, err := b.impersonate(ctx, federated, env.GCP.DeployerEmail)
	if err != nil {
		return domain.Credential{}, err
	}

	b.logger.Info("impersonated deployer service account", "email", env.GCP.DeployerEmail)

	return domain.NewCredential(domain.CloudGCP, map[string]string{
		domain.EnvGoogleOAuthToken:  saToken,
		domain.EnvCloudSDKAuthToken: saToken,
	}), nil
}

// exchangeSTS trades the CI OIDC token for a federated access token.
func (b *GCPBroker) exchangeSTS(ctx context.Context, audience, subjectToken string) (string, error) {
	body := stsRequest{
		Audience:           audience,
		GrantType:          grantTypeTokenExchange,
		RequestedTokenType: tokenTypeAccessToken,
		Scope:              cloudPlatformScope,
		SubjectTokenType:   tokenTypeJWT,
		SubjectToken:       subjectToken,
	}

	var parsed stsResponse
	if err := b.postJSON(ctx, "sts", b.STSEndpoint, "", body, &parsed); err != nil {
		return "", err
	}
	if parsed.AccessToken == "" {
		return "", &ExchangeError{Step: "sts", StatusCode: http.StatusOK, Body: "response carried no access_token"}
	}
	return parsed.AccessToken, nil
}

// impersonate trades the federated token for a deployer service account
// access token via the IAM Credentials generateAccessToken API.
func (b *GCPBroker) impersonate(ctx context.Context, federatedToken, email string) (string, error) {
	url := fmt.Sprintf("%s/v1/projects/-/serviceAccounts/%s:generateAccessToken", b.IAMBaseURL, email)
	body := iamRequest{Scope: []string{cloudPlatformScope}}

	var parsed iamResponse
	if err := b.postJSON(ctx, "iam", url, federatedToken, body, &parsed); err != nil {
		return "", err
	}
	if parsed.AccessToken == "" {
		return "", &ExchangeError{Step: "iam", StatusCode: http.StatusOK, Body: "response carried no accessToken"}
	}
	return parsed.AccessToken, nil
}

// postJSON issues one JSON POST and decodes the 2xx response into out.
// Non-2xx responses surface as ExchangeError with the response body, which
// Google fills with the actionable denial reason.
func (b *GCPBroker) postJSON(ctx context.Context, step, url, bearer string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return &ExchangeError{Step: step, Err: fmt.Errorf("marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return &ExchangeError{Step: step, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return &ExchangeError{Step: step, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &ExchangeError{Step: step, Err: fmt.Errorf("read response: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &ExchangeError{Step: step, StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return &ExchangeError{Step: step, StatusCode: resp.StatusCode, Body: "undecodable response body", Err: err}
	}
	return nil
}
