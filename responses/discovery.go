package responses

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jrsteele09/go-oidc-provider/oauth2"
	"github.com/jrsteele09/go-oidc-provider/resources"
	"github.com/jrsteele09/go-oidc-provider/token"
)

// Endpoint paths relative to the issuer.
const (
	PathAuthorize           = "/connect/authorize"
	PathToken               = "/connect/token"
	PathUserInfo            = "/connect/userinfo"
	PathEndSession          = "/connect/endsession"
	PathEndSessionCallback  = "/connect/endsession/callback"
	PathRevocation          = "/connect/revocation"
	PathIntrospection       = "/connect/introspect"
	PathDeviceAuthorization = "/connect/deviceauthorization"
	PathJWKS                = "/jwks"
	PathDiscovery           = "/.well-known/openid-configuration"
	PathDiscoveryJWKS       = "/.well-known/openid-configuration/jwks"
	PathDeviceVerification  = "/device"
)

// DiscoveryInput is everything the discovery document is derived from apart from the
// resource configuration and signing keys.
type DiscoveryInput struct {
	Issuer      string
	GrantTypes  []string
	AuthMethods []string
}

type DiscoveryResponseGenerator struct {
	resources resources.Repo
	keys      token.KeyProvider
}

func NewDiscoveryResponseGenerator(repo resources.Repo, keys token.KeyProvider) (*DiscoveryResponseGenerator, error) {
	if repo == nil {
		return nil, fmt.Errorf("[NewDiscoveryResponseGenerator] resource repo is required")
	}
	if keys == nil {
		return nil, fmt.Errorf("[NewDiscoveryResponseGenerator] key provider is required")
	}
	return &DiscoveryResponseGenerator{resources: repo, keys: keys}, nil
}

// Create builds the OpenID provider metadata. Only enabled resources are advertised.
func (g *DiscoveryResponseGenerator) Create(ctx context.Context, in DiscoveryInput) (map[string]any, error) {
	all, err := g.resources.GetAllResources(ctx)
	if err != nil {
		return nil, fmt.Errorf("[DiscoveryResponseGenerator.Create] %w", err)
	}
	keys, err := g.keys.ValidationKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("[DiscoveryResponseGenerator.Create] %w", err)
	}

	scopes := []string{}
	claims := map[string]bool{"sub": true}
	for _, r := range all.IdentityResources {
		if !r.Enabled {
			continue
		}
		scopes = append(scopes, r.Name)
		for _, c := range r.UserClaims {
			claims[c] = true
		}
	}
	for _, s := range all.APIScopes {
		if s.Enabled {
			scopes = append(scopes, s.Name)
		}
	}
	scopes = append(scopes, oauth2.ScopeOfflineAccess)

	algs := []string{}
	seenAlg := map[string]bool{}
	for _, kp := range keys {
		if !seenAlg[kp.Algorithm] {
			seenAlg[kp.Algorithm] = true
			algs = append(algs, kp.Algorithm)
		}
	}

	base := strings.TrimSuffix(in.Issuer, "/")
	return map[string]any{
		"issuer":                                in.Issuer,
		"authorization_endpoint":                base + PathAuthorize,
		"token_endpoint":                        base + PathToken,
		"userinfo_endpoint":                     base + PathUserInfo,
		"end_session_endpoint":                  base + PathEndSession,
		"revocation_endpoint":                   base + PathRevocation,
		"introspection_endpoint":                base + PathIntrospection,
		"device_authorization_endpoint":         base + PathDeviceAuthorization,
		"jwks_uri":                              base + PathDiscoveryJWKS,
		"frontchannel_logout_supported":         true,
		"frontchannel_logout_session_supported": true,
		"backchannel_logout_supported":          true,
		"backchannel_logout_session_supported":  true,
		"scopes_supported":                      scopes,
		"claims_supported":                      sortedKeys(claims),
		"grant_types_supported":                 in.GrantTypes,
		"response_types_supported": []string{
			oauth2.ResponseTypesCode,
			oauth2.ResponseTypesIDToken,
			oauth2.ResponseTypesIDTokenToken,
			oauth2.ResponseTypesCodeIDToken,
			oauth2.ResponseTypesCodeToken,
			oauth2.ResponseTypesCodeIDTokenToken,
		},
		"response_modes_supported": []string{
			string(oauth2.FormPostResponseMode),
			string(oauth2.QueryResponseMode),
			string(oauth2.FragmentResponseMode),
		},
		"token_endpoint_auth_methods_supported":      in.AuthMethods,
		"id_token_signing_alg_values_supported":      algs,
		"subject_types_supported":                    []string{"public"},
		"code_challenge_methods_supported":           []string{string(oauth2.CodeMethodTypePlain), string(oauth2.CodeMethodTypeS256)},
		"request_parameter_supported":                false,
		"tls_client_certificate_bound_access_tokens": true,
	}, nil
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
