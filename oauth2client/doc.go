// Package oauth2client exchanges OAuth2 client credentials or refresh tokens
// with an identity provider's token endpoint.
//
// The client is stateless: it builds one form-encoded request per call to
// Exchange and returns the resulting Grant. Caching, rotation bookkeeping and
// refresh scheduling belong to the tokenmanager package.
//
// # Grants
//
//   - client_credentials: used when no refresh credential is available
//   - refresh_token: used when a refresh credential is stored; the provider
//     may return a rotated credential in Grant.RefreshToken
//
// Both grants send client_id, client_secret and scope in the request body.
//
// # Quick Start
//
//	client, err := oauth2client.NewClient(oauth2client.Config{
//	    TenantID:     "contoso.onmicrosoft.com",
//	    ClientID:     "client-id",
//	    ClientSecret: "client-secret",
//	    Scope:        "https://graph.microsoft.com/.default",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	grant, err := client.Exchange(ctx, "")
//
// # Errors
//
//   - *ProviderRequestError: network failure, timeout or non-2xx response
//   - *ProviderResponseError: malformed or incomplete response body
package oauth2client
