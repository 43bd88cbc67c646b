package githubclt

import (
	"fmt"
	"net/http"

	"github.com/bradleyfalzon/ghinstallation/v2"

	"github.com/simplesurance/automerger/internal/amerr"
)

// AppClientFactory creates clients that authenticate as an installation of
// a GitHub App.
type AppClientFactory struct {
	appsTransport *ghinstallation.AppsTransport
}

// NewAppClientFactory returns a factory for the GitHub App with the given id.
// privateKey is the PEM encoded private key of the app.
func NewAppClientFactory(appID int64, privateKey []byte) (*AppClientFactory, error) {
	atr, err := ghinstallation.NewAppsTransport(http.DefaultTransport, appID, privateKey)
	if err != nil {
		return nil, &amerr.ConfigurationError{
			Key:    "github_app_private_key",
			Reason: fmt.Sprintf("creating github app transport failed: %s", err),
		}
	}

	return &AppClientFactory{appsTransport: atr}, nil
}

// ForInstallation returns a client that authenticates with an access token of
// the installation.
// Tokens are requested on the first API call of the returned client and are
// not shared between clients.
func (f *AppClientFactory) ForInstallation(installationID int64) (*Client, error) {
	if installationID == 0 {
		return nil, amerr.ErrMissingInstallation
	}

	itr := ghinstallation.NewFromAppsTransport(f.appsTransport, installationID)

	return newClient(&http.Client{
		Transport: itr,
		Timeout:   DefaultHTTPClientTimeout,
	}), nil
}
