// Package crm provides JWT-authenticated Salesforce access for mirroring
// high-value contacts as Leads.
package crm

import (
	"context"
	"os"

	"github.com/k-capehart/go-salesforce/v3"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

const maxBatchSize = 200

// Lead is the subset of Salesforce Lead fields the mirror writes.
type Lead struct {
	FirstName  string
	LastName   string
	Email      string
	Company    string
	State      string
	PostalCode string
	HomeValue  float64
	LeadSource string
}

// Result is the outcome of inserting one lead.
type Result struct {
	ID      string   `json:"id"`
	Success bool     `json:"success"`
	Errors  []string `json:"errors,omitempty"`
}

// Client defines the CRM operations used by the pipeline.
type Client interface {
	InsertLeads(ctx context.Context, leads []Lead) ([]Result, error)
}

// ClientOption configures the CRM client.
type ClientOption func(*sfClient)

// WithRateLimit sets a per-second rate limit for API calls.
func WithRateLimit(rps float64) ClientOption {
	return func(c *sfClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

// sfClient wraps go-salesforce/v3.
//
// NOTE: the underlying library does not accept context.Context, so ctx only
// governs the rate limiter wait.
type sfClient struct {
	sf      *salesforce.Salesforce
	limiter *rate.Limiter
}

// NewClient wraps an authenticated go-salesforce instance.
func NewClient(sf *salesforce.Salesforce, opts ...ClientOption) Client {
	c := &sfClient{sf: sf}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewFromJWT authenticates with the JWT bearer flow using a local private
// key and returns a ready client.
func NewFromJWT(loginURL, clientID, username, keyPath string, opts ...ClientOption) (Client, error) {
	key, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, eris.Wrapf(err, "crm: read key %s", keyPath)
	}

	sf, err := salesforce.Init(salesforce.Creds{
		Domain:         loginURL,
		Username:       username,
		ConsumerKey:    clientID,
		ConsumerRSAPem: string(key),
	})
	if err != nil {
		return nil, eris.Wrap(err, "crm: salesforce jwt auth")
	}
	return NewClient(sf, opts...), nil
}

func (c *sfClient) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// InsertLeads creates Lead records in collections of up to 200. Per-record
// failures come back in the results, not as an error.
func (c *sfClient) InsertLeads(ctx context.Context, leads []Lead) ([]Result, error) {
	if len(leads) == 0 {
		return nil, nil
	}
	if err := c.wait(ctx); err != nil {
		return nil, eris.Wrap(err, "crm: rate limit")
	}

	records := make([]map[string]any, len(leads))
	for i, l := range leads {
		company := l.Company
		if company == "" {
			// Lead.Company is required; residential contacts get a
			// household placeholder.
			company = l.FirstName + " " + l.LastName + " Household"
		}
		records[i] = map[string]any{
			"FirstName":  l.FirstName,
			"LastName":   l.LastName,
			"Email":      l.Email,
			"Company":    company,
			"State":      l.State,
			"PostalCode": l.PostalCode,
			"LeadSource": l.LeadSource,
		}
		if l.HomeValue > 0 {
			records[i]["Home_Value__c"] = l.HomeValue
		}
	}

	sfResults, err := c.sf.InsertCollection("Lead", records, maxBatchSize)
	if err != nil {
		return nil, eris.Wrap(err, "crm: insert leads")
	}

	results := make([]Result, len(sfResults.Results))
	for i, r := range sfResults.Results {
		var errs []string
		for _, e := range r.Errors {
			errs = append(errs, e.Message)
		}
		results[i] = Result{ID: r.Id, Success: r.Success, Errors: errs}
	}
	return results, nil
}
