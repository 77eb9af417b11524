// Package fakelead flags listings that look generated rather than real
// businesses, using a declarative table of regular expressions.
package fakelead

import (
	_ "embed"
	"os"
	"regexp"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/lead-scanner/internal/model"
)

// Field names a record attribute a rule is evaluated against.
type Field string

const (
	FieldName    Field = "name"
	FieldAddress Field = "address"
	FieldWebsite Field = "website"
)

//go:embed patterns.yaml
var defaultPatterns []byte

// RuleConfig is one entry of the YAML pattern table.
type RuleConfig struct {
	Name    string  `yaml:"name"`
	Pattern string  `yaml:"pattern"`
	Fields  []Field `yaml:"fields"`
}

type rule struct {
	name   string
	re     *regexp.Regexp
	fields []Field
}

// Classifier evaluates the rule table against a record.
type Classifier struct {
	rules []rule
}

// Parse builds a Classifier from YAML rule table bytes.
func Parse(data []byte) (*Classifier, error) {
	var table struct {
		Rules []RuleConfig `yaml:"rules"`
	}
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, eris.Wrap(err, "fakelead: parse rules")
	}
	if len(table.Rules) == 0 {
		return nil, eris.New("fakelead: no rules defined")
	}

	c := &Classifier{rules: make([]rule, 0, len(table.Rules))}
	for _, rc := range table.Rules {
		re, err := regexp.Compile(rc.Pattern)
		if err != nil {
			return nil, eris.Wrapf(err, "fakelead: compile rule %s", rc.Name)
		}
		fields := rc.Fields
		if len(fields) == 0 {
			fields = []Field{FieldName, FieldAddress, FieldWebsite}
		}
		for _, f := range fields {
			switch f {
			case FieldName, FieldAddress, FieldWebsite:
			default:
				return nil, eris.Errorf("fakelead: rule %s: unknown field %q", rc.Name, f)
			}
		}
		c.rules = append(c.rules, rule{name: rc.Name, re: re, fields: fields})
	}
	return c, nil
}

// Load reads a rule table from path. An empty path yields the embedded table.
func Load(path string) (*Classifier, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "fakelead: read rules %s", path)
	}
	return Parse(data)
}

var defaultClassifier = mustParse(defaultPatterns)

func mustParse(data []byte) *Classifier {
	c, err := Parse(data)
	if err != nil {
		panic(err)
	}
	return c
}

// Default returns the classifier built from the embedded rule table.
func Default() *Classifier {
	return defaultClassifier
}

// Match returns the name of the first rule matching any of its fields.
func (c *Classifier) Match(name, address, website string) (string, bool) {
	values := map[Field]string{
		FieldName:    name,
		FieldAddress: address,
		FieldWebsite: website,
	}
	for _, r := range c.rules {
		for _, f := range r.fields {
			if v := values[f]; v != "" && r.re.MatchString(v) {
				return r.name, true
			}
		}
	}
	return "", false
}

// IsFake reports whether any rule matches name, address or website.
func (c *Classifier) IsFake(name, address, website string) bool {
	_, ok := c.Match(name, address, website)
	return ok
}

// IsFakeCandidate classifies a freshly scraped candidate.
func (c *Classifier) IsFakeCandidate(cand model.Candidate) bool {
	return c.IsFake(cand.Name, cand.Address, cand.Website)
}

// IsFakeLead re-classifies an already persisted lead.
func (c *Classifier) IsFakeLead(l model.Lead) bool {
	return c.IsFake(l.Name, l.Address, l.Website)
}
