// Package httpclient offers HTTP client construction helpers with bearer-token
// injection and TLS/mTLS options.
//
// The fluent Builder creates an http.Client with TLS 1.2+ defaults, an optional
// custom CA and client certificate, timeouts, a base transport override and
// redirect handling. When a TokenSource is attached, every request carries
// "Authorization: Bearer <token>". OAuth2Transport can wrap any RoundTripper.
//
// # Quick Start
//
//	client, err := httpclient.NewBuilder().
//	    WithTokenSource(manager).
//	    WithTLS("/path/to/ca.crt", "", "").
//	    WithTimeout(60 * time.Second).
//	    Build()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	resp, err := client.Get("https://api.example.com/data")
//
// # Manual Transport Wrapping
//
//	transport := httpclient.NewOAuth2Transport(manager, nil)
//	client := &http.Client{Transport: transport}
//
// All components are safe for concurrent use if the TokenSource is.
package httpclient
