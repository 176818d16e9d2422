package responses

import (
	"context"
	"strings"

	"github.com/jrsteele09/go-oidc-provider/internal/utils"
	"github.com/jrsteele09/go-oidc-provider/oauth2"
	"github.com/jrsteele09/go-oidc-provider/oauthmodel"
)

// registeredClaims are mapped to named members of the introspection response.
var registeredClaims = map[string]bool{
	"active": true, "scope": true, "client_id": true, "sub": true, "aud": true, "iss": true,
	"token_type": true, "exp": true, "iat": true, "nbf": true, "jti": true, "sid": true,
}

type IntrospectionResponseGenerator struct{}

func NewIntrospectionResponseGenerator() *IntrospectionResponseGenerator {
	return &IntrospectionResponseGenerator{}
}

// Process maps the claims of an active token to the RFC 7662 response. The scope member
// only lists the scopes that belong to the calling API.
func (g *IntrospectionResponseGenerator) Process(_ context.Context, req *oauthmodel.ValidatedIntrospectionRequest) (*oauth2.IntrospectionResponse, error) {
	if !req.Active {
		return &oauth2.IntrospectionResponse{Active: false}, nil
	}
	c := req.Claims
	resp := &oauth2.IntrospectionResponse{
		Active:    true,
		Scope:     strings.Join(req.Scopes, " "),
		ClientID:  stringClaim(c, "client_id"),
		Subject:   stringClaim(c, "sub"),
		Audience:  utils.ClaimStrings(c["aud"]),
		Issuer:    stringClaim(c, "iss"),
		TokenType: oauth2.TokenTypeHintAccessToken,
		Exp:       int64Claim(c, "exp"),
		Iat:       int64Claim(c, "iat"),
		Nbf:       int64Claim(c, "nbf"),
		JTI:       stringClaim(c, "jti"),
		SessionID: stringClaim(c, "sid"),
	}
	for k, v := range c {
		if registeredClaims[k] {
			continue
		}
		if resp.Extra == nil {
			resp.Extra = map[string]any{}
		}
		resp.Extra[k] = v
	}
	return resp, nil
}

func stringClaim(c map[string]any, name string) string {
	s, _ := c[name].(string)
	return s
}

func int64Claim(c map[string]any, name string) int64 {
	switch v := c[name].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	}
	return 0
}
