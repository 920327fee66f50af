package main

import (
	"context"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/leads"
	"github.com/sells-group/outreach-cli/internal/pipeline"
	"github.com/sells-group/outreach-cli/internal/registry"
	"github.com/sells-group/outreach-cli/internal/scheduler"
	"github.com/sells-group/outreach-cli/internal/store"
	anthropicpkg "github.com/sells-group/outreach-cli/pkg/anthropic"
	"github.com/sells-group/outreach-cli/pkg/bland"
	"github.com/sells-group/outreach-cli/pkg/linkedin"
	"github.com/sells-group/outreach-cli/pkg/mailer"
	sf "github.com/sells-group/outreach-cli/pkg/salesforce"
)

// pipelineEnv holds the initialized store, clients, pipeline and scheduler
// shared by the run/resume/batch/scheduler/serve commands.
type pipelineEnv struct {
	Store     store.Store
	Pipeline  *pipeline.Pipeline
	Scheduler *scheduler.Scheduler
	LinkedIn  linkedin.Client
}

// Close releases resources held by the environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initEnv sets up the store, API clients, template registry, pipeline and
// scheduler. Callers should defer env.Close().
func initEnv(ctx context.Context) (*pipelineEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	anthropicClient := anthropicpkg.NewClient(cfg.Anthropic.Key)

	mailTransport := mailer.NewSMTP(
		cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.Username, cfg.SMTP.Password,
		mailer.WithTimeout(time.Duration(cfg.SMTP.TimeoutSecs)*time.Second),
		mailer.WithMessageDomain(messageDomain()),
	)

	blandClient := bland.NewClient(cfg.Bland.Key, bland.WithBaseURL(cfg.Bland.BaseURL))

	linkedinClient := linkedin.NewClient(cfg.LinkedIn.ClientID, cfg.LinkedIn.ClientSecret, cfg.LinkedIn.RedirectURI)
	cred := linkedinCredential()

	leadSource, err := initLeadSource(st)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	templates, err := initTemplates()
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	p := pipeline.New(cfg, st, anthropicClient, leadSource, mailTransport, blandClient, linkedinClient, cred, templates)
	sched := scheduler.New(cfg, st, anthropicClient, mailTransport, templates)

	return &pipelineEnv{
		Store:     st,
		Pipeline:  p,
		Scheduler: sched,
		LinkedIn:  linkedinClient,
	}, nil
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		st, err := store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
		if err != nil {
			return nil, eris.Wrap(err, "init postgres store")
		}
		zap.L().Info("store: postgres connected")
		return st, nil
	case "", "sqlite":
		st, err := store.NewSQLite(cfg.Store.DatabaseURL)
		if err != nil {
			return nil, eris.Wrap(err, "init sqlite store")
		}
		zap.L().Info("store: sqlite opened", zap.String("path", cfg.Store.DatabaseURL))
		return st, nil
	default:
		return nil, eris.Errorf("unknown store driver: %s", cfg.Store.Driver)
	}
}

func initLeadSource(st store.Store) (leads.Source, error) {
	switch cfg.Leads.Source {
	case "salesforce":
		pem, err := os.ReadFile(cfg.Salesforce.KeyPath)
		if err != nil {
			return nil, eris.Wrapf(err, "read salesforce key %s", cfg.Salesforce.KeyPath)
		}
		client, err := sf.NewFromJWT(
			cfg.Salesforce.LoginURL,
			cfg.Salesforce.Username,
			cfg.Salesforce.ClientID,
			string(pem),
			sf.WithRateLimit(cfg.Salesforce.RateLimit),
		)
		if err != nil {
			return nil, eris.Wrap(err, "init salesforce client")
		}
		zap.L().Info("leads: salesforce source enabled")
		return leads.NewSalesforceSource(client, st), nil
	case "", "store":
		return leads.NewStoreSource(st), nil
	default:
		return nil, eris.Errorf("unknown lead source: %s", cfg.Leads.Source)
	}
}

// initTemplates resolves the follow-up cadence: a templates file wins,
// otherwise the configured day offsets shape the default templates.
func initTemplates() (*registry.Registry, error) {
	if cfg.Scheduler.TemplatesPath != "" {
		templates, err := registry.Load(cfg.Scheduler.TemplatesPath)
		if err != nil {
			return nil, eris.Wrap(err, "load follow-up templates")
		}
		zap.L().Info("scheduler: templates loaded", zap.String("path", cfg.Scheduler.TemplatesPath))
		return templates, nil
	}
	templates, err := registry.FromOffsets(cfg.Scheduler.FollowUpOffsetDays)
	if err != nil {
		return nil, eris.Wrap(err, "build follow-up cadence")
	}
	return templates, nil
}

// linkedinCredential builds the credential from configuration. An unparsable
// expiry leaves the credential expired rather than silently unexpiring it.
func linkedinCredential() linkedin.Credential {
	cred := linkedin.Credential{
		AccessToken: cfg.LinkedIn.AccessToken,
		PersonURN:   cfg.LinkedIn.PersonURN,
	}
	if cfg.LinkedIn.TokenExpiresAt != "" {
		t, err := time.Parse(time.RFC3339, cfg.LinkedIn.TokenExpiresAt)
		if err != nil {
			zap.L().Warn("linkedin: invalid token_expires_at, treating credential as expired",
				zap.String("value", cfg.LinkedIn.TokenExpiresAt))
			t = time.Unix(1, 0)
		}
		cred.ExpiresAt = t
	}
	return cred
}

func messageDomain() string {
	if cfg.SMTP.MessageDomain != "" {
		return cfg.SMTP.MessageDomain
	}
	return cfg.SMTP.Host
}
