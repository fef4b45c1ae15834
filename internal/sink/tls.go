package sink

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// TLSConfig applies the collector certificate rule: with a certificate path
// that file is the only trusted root, without one verification is skipped.
func TLSConfig(certificate string) (*tls.Config, error) {
	if certificate == "" {
		return &tls.Config{InsecureSkipVerify: true}, nil
	}
	pem, err := os.ReadFile(certificate)
	if err != nil {
		return nil, fmt.Errorf("reading certificate: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no PEM certificate in %s", certificate)
	}
	return &tls.Config{RootCAs: pool}, nil
}
