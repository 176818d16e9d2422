package responses

import (
	"context"
	"fmt"

	"github.com/jrsteele09/go-oidc-provider/oauthmodel"
	"github.com/jrsteele09/go-oidc-provider/resources"
)

// UserInfoResponseGenerator returns the claims of the identity scopes granted to a token.
type UserInfoResponseGenerator struct {
	resources resources.Repo
	profile   oauthmodel.ProfileService
}

func NewUserInfoResponseGenerator(repo resources.Repo, profile oauthmodel.ProfileService) (*UserInfoResponseGenerator, error) {
	if repo == nil {
		return nil, fmt.Errorf("[NewUserInfoResponseGenerator] resource repo is required")
	}
	if profile == nil {
		return nil, fmt.Errorf("[NewUserInfoResponseGenerator] profile service is required")
	}
	return &UserInfoResponseGenerator{resources: repo, profile: profile}, nil
}

// Process always includes "sub". Claims the profile service reports for another subject
// are never returned.
func (g *UserInfoResponseGenerator) Process(ctx context.Context, req *oauthmodel.ValidatedUserInfoRequest) (map[string]any, error) {
	identity, err := g.resources.FindIdentityResourcesByScopeName(ctx, req.Scopes)
	if err != nil {
		return nil, fmt.Errorf("[UserInfoResponseGenerator.Process] %w", err)
	}
	var claimTypes []string
	seen := map[string]bool{}
	for _, r := range identity {
		if !r.Enabled {
			continue
		}
		for _, c := range r.UserClaims {
			if !seen[c] {
				seen[c] = true
				claimTypes = append(claimTypes, c)
			}
		}
	}

	out := map[string]any{"sub": req.SubjectID}
	if len(claimTypes) == 0 {
		return out, nil
	}
	claims, err := g.profile.GetClaims(ctx, req.SubjectID, claimTypes)
	if err != nil {
		return nil, fmt.Errorf("[UserInfoResponseGenerator.Process] %w", err)
	}
	for _, c := range claims {
		if c.Type == "sub" {
			continue
		}
		out[c.Type] = c.Value
	}
	return out, nil
}
