// Package responsetransformer rewrites headers of origin responses by path,
// before they are stored or sent to the client.
package responsetransformer

import (
	"net/http"
	"strings"
)

type Rules []Rule

// Rule matches requests by method, exact path, path prefix and query.
// Empty fields match everything, except that an empty method only matches GET.
type Rule struct {
	Prefix string `yaml:"prefix"`
	Path   string `yaml:"path"`
	Method string `yaml:"method"`
	// Cache-Control header to set if the response has none.
	Default string `yaml:"default"`
	// Cache-Control header to set in any case.
	Override string            `yaml:"override"`
	Query    map[string]string `yaml:"query"`
	Headers  map[string]string `yaml:"headers"`
}

// Apply applies the first rule matching the request to the response.
// Only successful responses are changed.
// It returns the matched rule, if any.
func (r Rules) Apply(req *http.Request, res *http.Response) *Rule {
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil
	}
	rule := r.find(req)
	if rule == nil {
		return nil
	}
	if rule.Override != "" {
		res.Header.Set("Cache-Control", rule.Override)
	} else if rule.Default != "" && res.Header.Get("Cache-Control") == "" {
		res.Header.Set("Cache-Control", rule.Default)
	}
	for name, value := range rule.Headers {
		res.Header.Set(name, value)
	}
	return rule
}

func (r Rules) find(req *http.Request) *Rule {
rulesLoop:
	for i, rule := range r {
		if rule.Method == "" && req.Method != http.MethodGet {
			continue
		}
		if rule.Method != "" && !strings.EqualFold(rule.Method, req.Method) {
			continue
		}
		if rule.Path != "" && rule.Path != req.URL.Path {
			continue
		}
		if rule.Prefix != "" && !strings.HasPrefix(req.URL.Path, rule.Prefix) {
			continue
		}
		if len(rule.Query) > 0 {
			qry := req.URL.Query()
			for name, value := range rule.Query {
				if value == "" && !qry.Has(name) {
					continue rulesLoop
				} else if value != "" && qry.Get(name) != value {
					continue rulesLoop
				}
			}
		}
		return &r[i]
	}
	return nil
}
