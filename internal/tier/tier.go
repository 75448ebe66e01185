// Package tier resolves the deployment environment and tier into the concrete
// settings a refresh run needs: which CDR host to call, whether to use TLS,
// and which logical database to update.
package tier

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/JakeFAU/glossifier-terms/internal/config"
)

// Known CDR tiers.
const (
	Dev   = "DEV"
	QA    = "QA"
	Stage = "STAGE"
	Prod  = "PROD"
)

// Settings is the resolved, immutable view of where a refresh reads from and writes to.
type Settings struct {
	Environment string
	Tier        string
	UseTLS      bool
	RemoteHost  string
	DBTarget    string
	CGIPath     string
	Program     string
}

// Resolve derives Settings from configuration.
func Resolve(cfg config.Config) (Settings, error) {
	env := strings.TrimSpace(cfg.Env.Name)
	if env == "" {
		return Settings{}, fmt.Errorf("environment is not set")
	}
	t := strings.ToUpper(strings.TrimSpace(cfg.Env.Tier))
	switch t {
	case Dev, QA, Stage, Prod:
	default:
		return Settings{}, fmt.Errorf("unknown tier %q", cfg.Env.Tier)
	}

	host := lookupHost(cfg.CDR, t)
	if host == "" {
		return Settings{}, fmt.Errorf("no CDR host configured for tier %s", t)
	}

	program := strings.TrimSpace(cfg.CDR.Program)
	if program == "" {
		return Settings{}, fmt.Errorf("program is not set")
	}

	return Settings{
		Environment: env,
		Tier:        t,
		UseTLS:      cfg.Env.Hosted != "" && strings.EqualFold(env, cfg.Env.Hosted),
		RemoteHost:  host,
		DBTarget:    cfg.DB.Target,
		CGIPath:     strings.Trim(cfg.CDR.CGIPath, "/"),
		Program:     program,
	}, nil
}

// viper lower-cases map keys, so tiers are matched case-insensitively.
func lookupHost(cfg config.CDRConfig, t string) string {
	for key, host := range cfg.Hosts {
		if strings.EqualFold(key, t) && strings.TrimSpace(host) != "" {
			return strings.TrimSpace(host)
		}
	}
	return strings.TrimSpace(cfg.Host)
}

// Scheme returns the URL scheme implied by the TLS decision.
func (s Settings) Scheme() string {
	if s.UseTLS {
		return "https"
	}
	return "http"
}

// TermsURL builds <scheme>://<host>/<cgi-path>?<program>&tier=<tier>.
func (s Settings) TermsURL() string {
	u := url.URL{
		Scheme:   s.Scheme(),
		Host:     s.RemoteHost,
		Path:     "/" + s.CGIPath,
		RawQuery: url.QueryEscape(s.Program) + "&tier=" + url.QueryEscape(s.Tier),
	}
	return u.String()
}
