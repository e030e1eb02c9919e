package ldap

import (
	"crypto/x509"
	"errors"
	"fmt"
	"os"
)

// buildCertPool returns the system roots extended with the CA certificates
// read from caCertFile and caCertContent. Either may be empty.
func buildCertPool(caCertFile, caCertContent string) (*x509.CertPool, error) {
	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}

	if caCertFile != "" {
		pem, err := os.ReadFile(caCertFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate file %s: %w", caCertFile, err)
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("failed to parse CA certificate file %s: invalid PEM format", caCertFile)
		}
	}

	if caCertContent != "" {
		if !pool.AppendCertsFromPEM([]byte(caCertContent)) {
			return nil, errors.New("failed to parse CA certificate: invalid PEM format")
		}
	}

	return pool, nil
}
