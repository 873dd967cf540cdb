package netutils

import (
	"crypto/tls"
	"net/http"
	"time"
)

// NewClient returns the http.Client shared by the command-line tools.
// insecure skips certificate verification for self-signed certificates in a
// private network.
func NewClient(timeout time.Duration, insecure bool) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: insecure},
		},
	}
}
