package advisory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"meshops-sim/internal/telemetry"
)

// Request is the body posted to a remote advisory service.
type Request struct {
	Units []telemetry.Unit `json:"units"`
	Names Names            `json:"names"`
}

// Remote forwards analysis to an HTTP service that answers with Advice JSON.
type Remote struct {
	URL    string
	Client *http.Client
}

// NewRemote returns a Remote with a bounded request timeout.
func NewRemote(url string) *Remote {
	return &Remote{URL: url, Client: &http.Client{Timeout: 10 * time.Second}}
}

// Analyze implements Advisor.
func (r *Remote) Analyze(ctx context.Context, units []telemetry.Unit, names Names) (Advice, error) {
	body, err := json.Marshal(Request{Units: units, Names: names})
	if err != nil {
		return Advice{}, fmt.Errorf("encode advisory request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.URL, bytes.NewReader(body))
	if err != nil {
		return Advice{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.Client.Do(req)
	if err != nil {
		return Advice{}, fmt.Errorf("advisory request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Advice{}, fmt.Errorf("advisory service: %s: %s", resp.Status, bytes.TrimSpace(msg))
	}
	var adv Advice
	if err := json.NewDecoder(resp.Body).Decode(&adv); err != nil {
		return Advice{}, fmt.Errorf("decode advice: %w", err)
	}
	return adv, nil
}

// Fallback tries Primary and answers from Secondary when it fails.
type Fallback struct {
	Primary   Advisor
	Secondary Advisor
}

// Analyze implements Advisor.
func (f Fallback) Analyze(ctx context.Context, units []telemetry.Unit, names Names) (Advice, error) {
	adv, err := f.Primary.Analyze(ctx, units, names)
	if err == nil {
		return adv, nil
	}
	adv, ferr := f.Secondary.Analyze(ctx, units, names)
	if ferr != nil {
		return Advice{}, fmt.Errorf("%w (fallback: %v)", err, ferr)
	}
	return adv, nil
}
