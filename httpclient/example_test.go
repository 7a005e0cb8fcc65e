package httpclient_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/AmmannChristian/go-tokenrelay/httpclient"
	"github.com/AmmannChristian/go-tokenrelay/oauth2client"
	"github.com/AmmannChristian/go-tokenrelay/tokenmanager"
	"github.com/AmmannChristian/go-tokenrelay/tokenstore"
)

// Example wires a token manager into an authenticated HTTP client.
func Example() {
	provider, err := oauth2client.NewClient(oauth2client.Config{
		TenantID:     "contoso",
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		Scope:        "api://backend/.default",
	})
	if err != nil {
		log.Fatal(err)
	}

	manager := tokenmanager.New(provider, tokenstore.New(tokenstore.Record{}))
	defer manager.Shutdown(context.Background())

	client := httpclient.NewHTTPClient(manager)

	fmt.Printf("HTTP client created with timeout: %v\n", client.Timeout)
	// Output: HTTP client created with timeout: 30s
}

// ExampleNewBuilder builds the client the relay uses to reach its identity provider.
func ExampleNewBuilder() {
	client, err := httpclient.NewBuilder().
		WithTimeout(10 * time.Second).
		WithUserAgent("tokenrelay").
		WithoutRedirects().
		Build()
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("Client timeout: %v\n", client.Timeout)
	// Output: Client timeout: 10s
}
