package registry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// HTTPGateway looks up records in a remote registry over its REST API.
type HTTPGateway struct {
	client *resty.Client
	source string
}

// NewHTTPGateway creates a gateway for the registry at baseURL. Local
// identifiers are resolved within source.
func NewHTTPGateway(baseURL, source string, timeout time.Duration) *HTTPGateway {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Accept", "application/json")

	return &HTTPGateway{client: client, source: source}
}

type patientResponse struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	BirthDate string `json:"birth_date"`
	Sex       string `json:"sex"`
	Name      string `json:"name"`
}

func (r *patientResponse) toPatient() (*Patient, error) {
	bd, err := parseDate(r.BirthDate)
	if err != nil {
		return nil, fmt.Errorf("registry: patient %s: birth_date: %w", r.ID, err)
	}
	return &Patient{ID: r.ID, Status: r.Status, BirthDate: bd, Sex: r.Sex, Name: r.Name}, nil
}

func (g *HTTPGateway) LookupPatient(ctx context.Context, identifier string) (*Patient, error) {
	var body patientResponse
	resp, err := g.client.R().
		SetContext(ctx).
		SetPathParam("id", identifier).
		SetQueryParam("source", g.source).
		SetResult(&body).
		Get("/patients/{id}")
	if err := checkResponse(resp, err, "patient", identifier); err != nil {
		return nil, err
	}
	return body.toPatient()
}

func (g *HTTPGateway) LookupPatientByGlobalID(ctx context.Context, globalID string) (*Patient, error) {
	var body patientResponse
	resp, err := g.client.R().
		SetContext(ctx).
		SetPathParam("id", globalID).
		SetResult(&body).
		Get("/patients/global/{id}")
	if err := checkResponse(resp, err, "patient", globalID); err != nil {
		return nil, err
	}
	return body.toPatient()
}

func (g *HTTPGateway) LookupProvider(ctx context.Context, identifier string) (*Provider, error) {
	var body Provider
	resp, err := g.client.R().
		SetContext(ctx).
		SetPathParam("id", identifier).
		SetQueryParam("source", g.source).
		SetResult(&body).
		Get("/providers/{id}")
	if err := checkResponse(resp, err, "provider", identifier); err != nil {
		return nil, err
	}
	return &body, nil
}

func (g *HTTPGateway) LookupProviderByGlobalID(ctx context.Context, globalID string) (*Provider, error) {
	var body Provider
	resp, err := g.client.R().
		SetContext(ctx).
		SetPathParam("id", globalID).
		SetResult(&body).
		Get("/providers/global/{id}")
	if err := checkResponse(resp, err, "provider", globalID); err != nil {
		return nil, err
	}
	return &body, nil
}

func checkResponse(resp *resty.Response, err error, kind, id string) error {
	if err != nil {
		return fmt.Errorf("registry: lookup %s %s: %w", kind, id, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.IsError() {
		return fmt.Errorf("registry: lookup %s %s: unexpected status %d", kind, id, resp.StatusCode())
	}
	return nil
}
