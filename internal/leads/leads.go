// Package leads abstracts where the pipeline reads its contact book from:
// the local store or Salesforce.
package leads

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/store"
	sf "github.com/sells-group/outreach-cli/pkg/salesforce"
)

// Source yields the leads the ICP matcher considers.
type Source interface {
	ListLeads(ctx context.Context) ([]model.Lead, error)
}

// Recorder is implemented by sources that can write outreach activity back
// to the system of record. The pipeline treats write-back as best effort.
type Recorder interface {
	RecordOutreach(ctx context.Context, email string, channel model.Channel, at time.Time) error
}

// StoreSource reads leads from the contact table.
type StoreSource struct {
	store store.Store
}

// NewStoreSource creates a store-backed lead source.
func NewStoreSource(st store.Store) *StoreSource {
	return &StoreSource{store: st}
}

func (s *StoreSource) ListLeads(ctx context.Context) ([]model.Lead, error) {
	return s.store.ListLeads(ctx)
}

// SalesforceSource reads contacts from Salesforce and caches them into the
// local store so a CRM outage degrades to stale leads instead of none. It
// also remembers contact ids so dispatched outreach can be written back.
type SalesforceSource struct {
	client sf.Client
	cache  store.Store

	mu  sync.Mutex
	ids map[string]string // email -> Contact Id, filled by ListLeads
}

// NewSalesforceSource creates a Salesforce-backed lead source. cache may be
// nil to disable local caching.
func NewSalesforceSource(client sf.Client, cache store.Store) *SalesforceSource {
	return &SalesforceSource{client: client, cache: cache, ids: make(map[string]string)}
}

type sfContact struct {
	ID      string  `json:"Id"`
	Name    string  `json:"Name"`
	Title   string  `json:"Title"`
	Email   string  `json:"Email"`
	Phone   string  `json:"Phone"`
	Score   float64 `json:"Lead_Score__c"`
	Account struct {
		Name string `json:"Name"`
	} `json:"Account"`
}

const contactSOQL = `SELECT Id, Name, Title, Email, Phone, Lead_Score__c, Account.Name
	FROM Contact WHERE Email != null ORDER BY Lead_Score__c DESC NULLS LAST LIMIT 200`

func (s *SalesforceSource) ListLeads(ctx context.Context) ([]model.Lead, error) {
	var contacts []sfContact
	if err := s.client.Query(ctx, contactSOQL, &contacts); err != nil {
		if s.cache != nil {
			cached, cacheErr := s.cache.ListLeads(ctx)
			if cacheErr == nil && len(cached) > 0 {
				zap.L().Warn("salesforce query failed, serving cached leads",
					zap.Int("count", len(cached)),
					zap.Error(err))
				return cached, nil
			}
		}
		return nil, eris.Wrap(err, "leads: salesforce query")
	}

	leadsOut := make([]model.Lead, 0, len(contacts))
	s.mu.Lock()
	for _, c := range contacts {
		if c.ID != "" {
			s.ids[c.Email] = c.ID
		}
		leadsOut = append(leadsOut, model.Lead{
			Name:    c.Name,
			Role:    c.Title,
			Company: c.Account.Name,
			Email:   c.Email,
			Phone:   c.Phone,
			Score:   int(c.Score),
		})
	}
	s.mu.Unlock()

	if s.cache != nil && len(leadsOut) > 0 {
		if err := s.cache.UpsertLeads(ctx, leadsOut); err != nil {
			zap.L().Warn("failed to cache leads", zap.Error(err))
		}
	}
	return leadsOut, nil
}

// RecordOutreach stamps the contact with the channel and time of the touch.
// The contact id must have been seen by a prior ListLeads on this source.
func (s *SalesforceSource) RecordOutreach(ctx context.Context, email string, channel model.Channel, at time.Time) error {
	s.mu.Lock()
	id, ok := s.ids[email]
	s.mu.Unlock()
	if !ok {
		return eris.Errorf("leads: no salesforce contact id for %s", email)
	}

	err := s.client.UpdateOne(ctx, "Contact", id, map[string]any{
		"Last_Outreach_Channel__c": string(channel),
		"Last_Outreach_At__c":      at.UTC().Format(time.RFC3339),
	})
	return eris.Wrapf(err, "leads: record outreach for %s", email)
}

// Static is a fixed in-memory lead source, used for demos and tests.
type Static []model.Lead

func (s Static) ListLeads(context.Context) ([]model.Lead, error) {
	return s, nil
}
