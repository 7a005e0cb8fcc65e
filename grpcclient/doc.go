// Package grpcclient dials downstream gRPC services with the relayed access token.
//
// The builder wires the interceptors of a token source, normally a
// *tokenmanager.Manager, so every unary and streaming call carries
// "authorization: Bearer <token>" metadata:
//
//	conn, err := grpcclient.NewBuilder().
//	    WithAddress("orders.internal:9090").
//	    WithTokens(manager).
//	    WithTLS("/etc/relay/ca.crt", "", "", "").
//	    Build()
//	if err != nil {
//	    return err
//	}
//	defer conn.Close()
//
// Connections default to TLS 1.2+ with system roots. WithInsecure exists for
// loopback use and must not be combined with WithTLS.
package grpcclient
