// Copyright (c) 2025 Shell Reserve developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// tlsFlags are the four CLI knobs behind --tls-*. TLS here is
// all-or-nothing: CACert, Cert, and Key must all be set together, or
// none of them.
type tlsFlags struct {
	CACert       string `long:"tls-ca-cert" description:"path to the coordinator's CA certificate"`
	Cert         string `long:"tls-cert" description:"path to this client's certificate"`
	Key          string `long:"tls-key" description:"path to this client's private key"`
	ServerName   string `long:"tls-server-name" description:"override the server name used for TLS verification"`
}

func (f tlsFlags) configured() bool {
	return f.CACert != "" || f.Cert != "" || f.Key != ""
}

// buildTLSConfig loads a mutual-TLS client config from f, or returns nil
// if TLS wasn't requested at all.
func buildTLSConfig(f tlsFlags) (*tls.Config, error) {
	if !f.configured() {
		return nil, nil
	}
	if f.CACert == "" || f.Cert == "" || f.Key == "" {
		return nil, fmt.Errorf("tls: --tls-ca-cert, --tls-cert, and --tls-key must all be set together")
	}

	caBytes, err := os.ReadFile(f.CACert)
	if err != nil {
		return nil, fmt.Errorf("tls: failed to read CA cert: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caBytes) {
		return nil, fmt.Errorf("tls: failed to parse CA cert %s", f.CACert)
	}

	cert, err := tls.LoadX509KeyPair(f.Cert, f.Key)
	if err != nil {
		return nil, fmt.Errorf("tls: failed to load client keypair: %w", err)
	}

	cfg := &tls.Config{
		RootCAs:      pool,
		Certificates: []tls.Certificate{cert},
	}
	if f.ServerName != "" {
		cfg.ServerName = f.ServerName
	}
	return cfg, nil
}
