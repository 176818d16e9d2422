package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/jrsteele09/go-oidc-provider/clients"
	"github.com/jrsteele09/go-oidc-provider/oauth2"
	"github.com/jrsteele09/go-oidc-provider/resources"
)

// scopeFailure turns scope errors into one protocol error. Errors caused only by resource
// indicators are invalid_target.
func scopeFailure(errs []resources.ScopeError) *oauth2.Error {
	code := oauth2.ErrorInvalidTarget
	names := make([]string, 0, len(errs))
	for _, e := range errs {
		if !e.Target {
			code = oauth2.ErrorInvalidScope
		}
		names = append(names, e.Scope)
	}
	return oauth2.NewError(code, "invalid scope or resource: "+strings.Join(names, " "))
}

// resolveScopes runs the scope validator and maps its outcome to a protocol error.
func resolveScopes(ctx context.Context, v *resources.ScopeValidator, client *clients.Client, scopes, indicators []string) (*resources.ValidatedResources, error) {
	res, errs, err := v.ParseAndValidate(ctx, resources.ScopeRequest{Client: client, Scopes: scopes, ResourceIndicators: indicators})
	if err != nil {
		return nil, fmt.Errorf("[auth.resolveScopes] %w", err)
	}
	if len(errs) > 0 {
		return nil, scopeFailure(errs)
	}
	return res, nil
}

func checkResourceIndicators(indicators []string, maxLen int) *oauth2.Error {
	for _, r := range indicators {
		if r == "" || len(r) > maxLen {
			return invalidRequest("invalid resource indicator")
		}
	}
	return nil
}
