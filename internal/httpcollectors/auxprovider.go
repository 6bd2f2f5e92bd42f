package httpcollectors

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/nofendian17/hl-whale-signal/internal/apperr"
	"github.com/nofendian17/hl-whale-signal/internal/events"
	"github.com/nofendian17/hl-whale-signal/internal/ratelimit"
)

// GenericAuxProvider implements the AuxProvider contract of spec §6: one
// JSON GET endpoint on a configurable interval, one Fetch call, one
// StandardEvent out. Used for on-chain metrics and sentiment indices
// (e.g. a fear/greed index) — sources the original market-scraper
// implementation polled independently of the exchange itself.
type GenericAuxProvider struct {
	http      *resty.Client
	rl        *ratelimit.Manager
	url       string
	eventType events.Type
	source    string
	extract   func(body []byte) (map[string]interface{}, error)
}

// NewGenericAuxProvider builds a provider for one endpoint. extract turns
// the raw JSON body into the Extra map the OnchainMetric payload carries;
// pass nil to store the whole decoded body verbatim.
func NewGenericAuxProvider(url string, eventType events.Type, source string, extract func([]byte) (map[string]interface{}, error)) *GenericAuxProvider {
	return &GenericAuxProvider{
		http:      resty.New().SetTimeout(10 * time.Second),
		rl:        ratelimit.New(),
		url:       url,
		eventType: eventType,
		source:    source,
		extract:   extract,
	}
}

// Fetch performs one GET and wraps the result as a StandardEvent.
func (p *GenericAuxProvider) Fetch(ctx context.Context) (*events.StandardEvent, error) {
	resp, err := p.http.R().SetContext(ctx).Get(p.url)
	if err != nil {
		p.rl.ReportError()
		return nil, apperr.Wrap(apperr.TransientNetwork, "GenericAuxProvider.Fetch", err)
	}
	if resp.StatusCode() >= 400 {
		p.rl.ReportError()
		return nil, apperr.Wrap(apperr.ProtocolInvalid, "GenericAuxProvider.Fetch", fmt.Errorf("status %d", resp.StatusCode()))
	}
	p.rl.ReportSuccess()

	extract := p.extract
	if extract == nil {
		extract = defaultExtract
	}
	extra, err := extract(resp.Body())
	if err != nil {
		return nil, apperr.Wrap(apperr.ProtocolInvalid, "GenericAuxProvider.Fetch", err)
	}

	payload := &events.OnchainMetric{
		Name:  p.source,
		Extra: extra,
		Time:  time.Now().UTC(),
	}
	return events.New(p.eventType, p.source, payload), nil
}

func defaultExtract(body []byte) (map[string]interface{}, error) {
	var out map[string]interface{}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, err
	}
	return out, nil
}
