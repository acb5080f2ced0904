package auth

import (
	"fmt"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
)

// Credential references are opaque strings of the form scheme:value:
//
//	env:TWITTER_BEARER_TOKEN        read from the environment
//	keyring:warden/proxycurl        read from the OS keyring
//
// Provider tools resolve the reference at call time, so secrets are
// never held in provider configuration or in the selector.

// ResolveCredential dereferences a credential_ref to its secret value.
func ResolveCredential(ref string) (string, error) {
	scheme, rest, found := strings.Cut(ref, ":")
	if !found {
		return "", fmt.Errorf("malformed credential ref %q (expected scheme:value)", ref)
	}

	switch scheme {
	case "env":
		value := os.Getenv(rest)
		if value == "" {
			return "", fmt.Errorf("credential env var %s is not set", rest)
		}
		return value, nil
	case "keyring":
		service, user, found := strings.Cut(rest, "/")
		if !found {
			return "", fmt.Errorf("malformed keyring ref %q (expected keyring:service/user)", ref)
		}
		secret, err := keyring.Get(service, user)
		if err != nil {
			return "", fmt.Errorf("keyring lookup for %s failed: %w", rest, err)
		}
		return secret, nil
	default:
		return "", fmt.Errorf("unknown credential scheme %q", scheme)
	}
}
