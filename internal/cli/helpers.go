package cli

import (
	"github.com/picklr-io/microstrate/internal/artifact"
	"github.com/picklr-io/microstrate/internal/deployapi"
	"github.com/picklr-io/microstrate/internal/engine"
	"github.com/picklr-io/microstrate/internal/mapping"
	"github.com/picklr-io/microstrate/internal/template"
)

// newClient creates an API client from the resolved settings.
func newClient() *deployapi.Client {
	return deployapi.NewClient(settings.BaseURL,
		deployapi.WithToken(settings.AccessToken),
		deployapi.WithPollPolicy(settings.Poll),
		deployapi.WithDebug(settings.Debug),
	)
}

// newRegistry creates a mapping registry reading artifacts relative to the template.
func newRegistry(doc *template.Document) *mapping.Registry {
	provider := doc.Template.Provider
	store := artifact.NewStore(doc.Dir(),
		artifact.WithRegion(provider.Region),
		artifact.WithProfile(provider.AWSProfile()),
	)
	return mapping.NewRegistry(store)
}

// newEngine wires the registry and the API client for a template.
func newEngine(doc *template.Document, client *deployapi.Client) *engine.Engine {
	return engine.NewEngine(newRegistry(doc), client)
}
