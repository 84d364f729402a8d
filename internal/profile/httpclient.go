package profile

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPLoader implements Loader against the external profile service,
// grounded on original_source's ProfileRepository.findByCustomerId: a POST
// carrying a single "customerId" search criterion, response data unwrapped
// from a generic envelope.
//
// No REST client library appears anywhere in the retrieved pack (the
// teacher and its neighbors are all inbound-HTTP servers); net/http is used
// directly here rather than importing an ecosystem client for the pack's
// one outbound call.
type HTTPLoader struct {
	baseURL string
	client  *http.Client
}

// NewHTTPLoader builds an HTTPLoader against baseURL with the given
// request timeout.
func NewHTTPLoader(baseURL string, timeout time.Duration) *HTTPLoader {
	return &HTTPLoader{baseURL: baseURL, client: &http.Client{Timeout: timeout}}
}

type searchCriterion struct {
	Key       string      `json:"key"`
	Operation string      `json:"operation"`
	Value     interface{} `json:"value"`
	Condition string      `json:"condition"`
}

type profileEnvelope struct {
	StatusCode int             `json:"statusCode"`
	Status     string          `json:"status"`
	Message    string          `json:"message"`
	Data       json.RawMessage `json:"data"`
}

// LoadProfile POSTs a customerId search criterion to
// "<baseURL>/customer/details" and unmarshals the envelope's data field,
// mirroring the original's single-criterion, no-operator search shape.
func (h *HTTPLoader) LoadProfile(ctx context.Context, customerID string) (*Profile, error) {
	body, err := json.Marshal([]searchCriterion{{Key: "customerId", Operation: ":", Value: customerID, Condition: ""}})
	if err != nil {
		return nil, err
	}

	url := h.baseURL + "/customer/details"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("profile: unexpected status %d from %s", resp.StatusCode, url)
	}

	var env profileEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, err
	}

	var p Profile
	if err := json.Unmarshal(env.Data, &p); err != nil {
		return nil, fmt.Errorf("profile: decode data: %w", err)
	}
	return &p, nil
}
