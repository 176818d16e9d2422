package secrets_test

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/url"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-oidc-provider/clients"
	fakeclientrepo "github.com/jrsteele09/go-oidc-provider/clients/fakerepo"
	"github.com/jrsteele09/go-oidc-provider/grants"
	"github.com/jrsteele09/go-oidc-provider/grants/memstore"
	"github.com/jrsteele09/go-oidc-provider/internal/errors"
	"github.com/jrsteele09/go-oidc-provider/oauth2"
	"github.com/jrsteele09/go-oidc-provider/resources"
	resourcerepo "github.com/jrsteele09/go-oidc-provider/resources/repofake"
	"github.com/jrsteele09/go-oidc-provider/secrets"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	testSecretClientID = "secret-client"
	testBcryptClientID = "bcrypt-client"
	testJWTClientID    = "jwt-client"
	testMTLSClientID   = "mtls-client"
	testPublicClientID = "public-client"
	testSecret         = "s3cr3t"
	testTokenEndpoint  = "https://idp.example.com/connect/token"
)

type testFixture struct {
	auth   *secrets.ClientAuthenticator
	signer *ecdsa.PrivateKey
	cert   *x509.Certificate
	now    time.Time
}

func selfSignedCert(t *testing.T, cn string) *x509.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: cn, Organization: []string{"Example"}},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	nowFn := func() time.Time { return now }

	signer, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	jwk, err := json.Marshal(jose.JSONWebKey{Key: &signer.PublicKey, KeyID: "k1", Algorithm: "ES256", Use: "sig"})
	require.NoError(t, err)

	bcryptHash, err := bcrypt.GenerateFromPassword([]byte(testSecret), bcrypt.MinCost)
	require.NoError(t, err)
	cert := selfSignedCert(t, "mtls-client")
	expired := now.Add(-time.Minute)

	repo := fakeclientrepo.NewFakeClientRepo(
		&clients.Client{ID: testSecretClientID, Enabled: true, RequireClientSecret: true, Secrets: []clients.Secret{
			{Type: clients.SecretTypeSharedSecret, Value: secrets.HashSecret("old"), Expiration: &expired},
			{Type: clients.SecretTypeSharedSecret, Value: secrets.HashSecret(testSecret)},
		}},
		&clients.Client{ID: testBcryptClientID, Enabled: true, RequireClientSecret: true, Secrets: []clients.Secret{
			{Type: clients.SecretTypeSharedSecret, Value: string(bcryptHash)},
		}},
		&clients.Client{ID: testJWTClientID, Enabled: true, RequireClientSecret: true, Secrets: []clients.Secret{
			{Type: clients.SecretTypeJSONWebKey, Value: string(jwk)},
		}},
		&clients.Client{ID: testMTLSClientID, Enabled: true, RequireClientSecret: true, Secrets: []clients.Secret{
			{Type: clients.SecretTypeX509Thumbprint, Value: secrets.CertificateThumbprint(cert)},
		}},
		&clients.Client{ID: testPublicClientID, Enabled: true},
		&clients.Client{ID: "disabled", Enabled: false, RequireClientSecret: true, Secrets: []clients.Secret{
			{Type: clients.SecretTypeSharedSecret, Value: secrets.HashSecret(testSecret)},
		}},
	)

	manager, err := grants.NewManager(memstore.New(memstore.WithNowTime(nowFn)), grants.WithNowTime(nowFn))
	require.NoError(t, err)
	assertion, err := secrets.NewPrivateKeyJWTValidator([]string{testTokenEndpoint},
		secrets.WithAssertionNowTime(nowFn),
		secrets.WithReplayCache(manager.AssertionReplayCache()),
	)
	require.NoError(t, err)

	auth, err := secrets.NewClientAuthenticator(repo, secrets.DefaultRegistry(assertion), secrets.WithNowTime(nowFn))
	require.NoError(t, err)
	return &testFixture{auth: auth, signer: signer, cert: cert, now: now}
}

func (f *testFixture) assertion(t *testing.T, mutate func(jwt.MapClaims)) string {
	t.Helper()
	claims := jwt.MapClaims{
		"iss": testJWTClientID,
		"sub": testJWTClientID,
		"aud": testTokenEndpoint,
		"exp": f.now.Add(time.Minute).Unix(),
		"iat": f.now.Unix(),
		"jti": base64.RawURLEncoding.EncodeToString([]byte(t.Name() + time.Now().String())),
	}
	if mutate != nil {
		mutate(claims)
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	tok.Header["kid"] = "k1"
	signed, err := tok.SignedString(f.signer)
	require.NoError(t, err)
	return signed
}

func basic(id, secret string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(url.QueryEscape(id)+":"+url.QueryEscape(secret)))
}

func TestParsers(t *testing.T) {
	p := secrets.DefaultParsers()

	t.Run("basic", func(t *testing.T) {
		creds, err := p.Parse(secrets.Request{Authorization: basic("a b", "x:y"), Form: url.Values{}})
		require.NoError(t, err)
		require.Equal(t, "a b", creds.ClientID)
		require.Equal(t, "x:y", creds.Secret)
		require.Equal(t, oauth2.AuthMethodClientSecretBasic, creds.Method)
	})

	t.Run("post", func(t *testing.T) {
		creds, err := p.Parse(secrets.Request{Form: url.Values{"client_id": {"c"}, "client_secret": {"s"}}})
		require.NoError(t, err)
		require.Equal(t, secrets.CredentialSharedSecret, creds.Type)
		require.Equal(t, oauth2.AuthMethodClientSecretPost, creds.Method)
	})

	t.Run("public", func(t *testing.T) {
		creds, err := p.Parse(secrets.Request{Form: url.Values{"client_id": {"c"}}})
		require.NoError(t, err)
		require.Equal(t, secrets.CredentialNone, creds.Type)
	})

	t.Run("none", func(t *testing.T) {
		creds, err := p.Parse(secrets.Request{Form: url.Values{}})
		require.NoError(t, err)
		require.Nil(t, creds)
	})

	t.Run("multiple methods", func(t *testing.T) {
		_, err := p.Parse(secrets.Request{Authorization: basic("c", "s"), Form: url.Values{"client_id": {"c"}, "client_secret": {"s"}}})
		require.ErrorIs(t, err, oauth2.NewError(oauth2.ErrorInvalidRequest, ""))
	})

	t.Run("basic and mismatching form client id", func(t *testing.T) {
		_, err := p.Parse(secrets.Request{Authorization: basic("c", "s"), Form: url.Values{"client_id": {"other"}}})
		require.ErrorIs(t, err, oauth2.NewError(oauth2.ErrorInvalidRequest, ""))
	})

	t.Run("assertion type", func(t *testing.T) {
		_, err := p.Parse(secrets.Request{Form: url.Values{"client_assertion_type": {"bogus"}, "client_assertion": {"a.b.c"}}})
		require.ErrorIs(t, err, oauth2.NewError(oauth2.ErrorInvalidClient, ""))
	})

	t.Run("mtls", func(t *testing.T) {
		cert := selfSignedCert(t, "x")
		creds, err := p.Parse(secrets.Request{Form: url.Values{"client_id": {"c"}}, PeerCertificates: []*x509.Certificate{cert}})
		require.NoError(t, err)
		require.Equal(t, secrets.CredentialX509, creds.Type)
		require.Same(t, cert, creds.Certificate)
	})
}

func TestClientAuthenticator_SharedSecret(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	res, err := f.auth.Authenticate(ctx, &secrets.Credentials{ClientID: testSecretClientID, Type: secrets.CredentialSharedSecret, Secret: testSecret})
	require.NoError(t, err)
	require.Equal(t, testSecretClientID, res.Client.ID)
	require.Empty(t, res.Confirmation)

	res, err = f.auth.Authenticate(ctx, &secrets.Credentials{ClientID: testBcryptClientID, Type: secrets.CredentialSharedSecret, Secret: testSecret})
	require.NoError(t, err)
	require.Equal(t, testBcryptClientID, res.Client.ID)

	failures := []*secrets.Credentials{
		nil,
		{ClientID: testSecretClientID, Type: secrets.CredentialSharedSecret, Secret: "wrong"},
		{ClientID: testSecretClientID, Type: secrets.CredentialSharedSecret, Secret: "old"},
		{ClientID: "unknown", Type: secrets.CredentialSharedSecret, Secret: testSecret},
		{ClientID: "disabled", Type: secrets.CredentialSharedSecret, Secret: testSecret},
		{ClientID: testSecretClientID, Type: secrets.CredentialNone},
	}
	for _, creds := range failures {
		_, err := f.auth.Authenticate(ctx, creds)
		require.ErrorIs(t, err, oauth2.NewError(oauth2.ErrorInvalidClient, ""))
		// Every failure looks the same to the caller.
		require.Equal(t, "invalid_client: client authentication failed", err.Error())
	}
}

func TestClientAuthenticator_PublicClient(t *testing.T) {
	f := setupTestFixture(t)
	res, err := f.auth.Authenticate(context.Background(), &secrets.Credentials{ClientID: testPublicClientID, Type: secrets.CredentialNone})
	require.NoError(t, err)
	require.Equal(t, testPublicClientID, res.Client.ID)
}

func TestClientAuthenticator_MutualTLS(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	res, err := f.auth.Authenticate(ctx, &secrets.Credentials{ClientID: testMTLSClientID, Type: secrets.CredentialX509, Certificate: f.cert})
	require.NoError(t, err)
	var cnf map[string]string
	require.NoError(t, json.Unmarshal([]byte(res.Confirmation), &cnf))
	require.Equal(t, secrets.CertificateThumbprint(f.cert), cnf["x5t#S256"])

	other := selfSignedCert(t, "mtls-client")
	_, err = f.auth.Authenticate(ctx, &secrets.Credentials{ClientID: testMTLSClientID, Type: secrets.CredentialX509, Certificate: other})
	require.ErrorIs(t, err, oauth2.NewError(oauth2.ErrorInvalidClient, ""))
}

func TestX509NameValidator(t *testing.T) {
	cert := selfSignedCert(t, "named")
	v := secrets.X509NameValidator{}
	res, err := v.Validate(context.Background(),
		[]clients.Secret{{Type: clients.SecretTypeX509Name, Value: cert.Subject.String()}},
		&secrets.Credentials{Type: secrets.CredentialX509, Certificate: cert})
	require.NoError(t, err)
	require.NotEmpty(t, res.Confirmation)

	_, err = v.Validate(context.Background(),
		[]clients.Secret{{Type: clients.SecretTypeX509Name, Value: "CN=someone else"}},
		&secrets.Credentials{Type: secrets.CredentialX509, Certificate: cert})
	require.ErrorIs(t, err, errors.ErrInvalidCredentials)
}

func TestClientAuthenticator_PrivateKeyJWT(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	authenticate := func(assertion string) error {
		creds, err := secrets.DefaultParsers().Parse(secrets.Request{Form: url.Values{
			"client_assertion_type": {oauth2.ClientAssertionTypeJWTBearer},
			"client_assertion":      {assertion},
		}})
		require.NoError(t, err)
		require.Equal(t, testJWTClientID, creds.ClientID)
		_, err = f.auth.Authenticate(ctx, creds)
		return err
	}

	t.Run("valid", func(t *testing.T) {
		require.NoError(t, authenticate(f.assertion(t, nil)))
	})

	t.Run("replayed", func(t *testing.T) {
		a := f.assertion(t, nil)
		require.NoError(t, authenticate(a))
		require.ErrorIs(t, authenticate(a), oauth2.NewError(oauth2.ErrorInvalidClient, ""))
	})

	t.Run("wrong audience", func(t *testing.T) {
		a := f.assertion(t, func(c jwt.MapClaims) { c["aud"] = "https://elsewhere" })
		require.ErrorIs(t, authenticate(a), oauth2.NewError(oauth2.ErrorInvalidClient, ""))
	})

	t.Run("expired", func(t *testing.T) {
		a := f.assertion(t, func(c jwt.MapClaims) { c["exp"] = f.now.Add(-time.Minute).Unix() })
		require.ErrorIs(t, authenticate(a), oauth2.NewError(oauth2.ErrorInvalidClient, ""))
	})

	t.Run("issuer is not the client", func(t *testing.T) {
		a := f.assertion(t, func(c jwt.MapClaims) { c["iss"] = "someone" })
		require.ErrorIs(t, authenticate(a), oauth2.NewError(oauth2.ErrorInvalidClient, ""))
	})

	t.Run("signed by another key", func(t *testing.T) {
		other, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		require.NoError(t, err)
		tok := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.MapClaims{
			"iss": testJWTClientID, "sub": testJWTClientID, "aud": testTokenEndpoint,
			"exp": f.now.Add(time.Minute).Unix(), "jti": "x",
		})
		signed, err := tok.SignedString(other)
		require.NoError(t, err)
		require.ErrorIs(t, authenticate(signed), oauth2.NewError(oauth2.ErrorInvalidClient, ""))
	})
}

func TestAPIAuthenticator(t *testing.T) {
	repo := resourcerepo.NewFakeResourceRepo().
		AddAPIResource(resources.APIResource{Name: "api1", Enabled: true, Scopes: []string{"read"}, Secrets: []clients.Secret{
			{Type: clients.SecretTypeSharedSecret, Value: secrets.HashSecret("api-secret")},
		}}).
		AddAPIResource(resources.APIResource{Name: "api2", Enabled: false, Secrets: []clients.Secret{
			{Type: clients.SecretTypeSharedSecret, Value: secrets.HashSecret("api-secret")},
		}})
	auth, err := secrets.NewAPIAuthenticator(repo, secrets.DefaultRegistry(nil))
	require.NoError(t, err)
	ctx := context.Background()

	api, err := auth.Authenticate(ctx, &secrets.Credentials{ClientID: "api1", Type: secrets.CredentialSharedSecret, Secret: "api-secret"})
	require.NoError(t, err)
	require.Equal(t, "api1", api.Name)

	_, err = auth.Authenticate(ctx, &secrets.Credentials{ClientID: "api1", Type: secrets.CredentialSharedSecret, Secret: "nope"})
	require.ErrorIs(t, err, oauth2.NewError(oauth2.ErrorInvalidClient, ""))
	_, err = auth.Authenticate(ctx, &secrets.Credentials{ClientID: "api2", Type: secrets.CredentialSharedSecret, Secret: "api-secret"})
	require.ErrorIs(t, err, oauth2.NewError(oauth2.ErrorInvalidClient, ""))
	_, err = auth.Authenticate(ctx, &secrets.Credentials{ClientID: "api1", Type: secrets.CredentialNone})
	require.ErrorIs(t, err, oauth2.NewError(oauth2.ErrorInvalidClient, ""))
}

func TestRegistry(t *testing.T) {
	r := secrets.NewRegistry()
	require.NoError(t, r.Register("a", secrets.HashedSharedSecretValidator{}))
	require.Error(t, r.Register("a", secrets.X509NameValidator{}))
	require.Error(t, r.Register("b", nil))
	_, ok := r.Resolve("a")
	require.True(t, ok)
	_, ok = r.Resolve("missing")
	require.False(t, ok)
	require.Len(t, r.All(), 1)
}
