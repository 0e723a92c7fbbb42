// Package classifier decides which updates to decline.
//
// Rules are evaluated in a fixed order and the first match declines the
// update. Updates that are already declined are never considered.
package classifier

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/breeze-rmm/wsus/internal/wsus"
)

// RuleID identifies the outcome of a classification.
type RuleID string

const (
	RuleNone            RuleID = ""
	RuleAlreadyDeclined RuleID = "already-declined"
	RuleDeclineAll      RuleID = "decline-all"

	RulePrerelease      RuleID = "prerelease"
	RuleSuperseded      RuleID = "superseded"
	RuleARM64           RuleID = "arm64"
	RuleX86             RuleID = "x86"
	RuleObsoleteVersion RuleID = "obsolete-version"
	RuleLanguagePack    RuleID = "language-pack"
	RuleDriver          RuleID = "driver"
)

// Decision is the classifier's verdict for one update.
type Decision struct {
	Decline bool
	Rule    RuleID
	Reason  string
}

// Rule is one entry of the decline chain.
type Rule struct {
	ID    RuleID
	Label string
	match func(c *Classifier, u wsus.UpdateRecord) (string, bool)
}

var rules = []Rule{
	{RulePrerelease, "preview, beta or insider build", func(c *Classifier, u wsus.UpdateRecord) (string, bool) {
		if u.IsBeta {
			return "marked beta", true
		}
		return c.titleContains(u, c.prerelease)
	}},
	{RuleSuperseded, "superseded by a newer update", func(_ *Classifier, u wsus.UpdateRecord) (string, bool) {
		return "superseded", u.IsSuperseded
	}},
	{RuleARM64, "ARM64 architecture", func(c *Classifier, u wsus.UpdateRecord) (string, bool) {
		return c.titleContains(u, c.arm64)
	}},
	{RuleX86, "x86 architecture", func(c *Classifier, u wsus.UpdateRecord) (string, bool) {
		return c.titleContains(u, c.x86)
	}},
	{RuleObsoleteVersion, "obsolete platform version", func(c *Classifier, u wsus.UpdateRecord) (string, bool) {
		return c.titleContains(u, c.obsolete)
	}},
	{RuleLanguagePack, "language pack or feature", func(c *Classifier, u wsus.UpdateRecord) (string, bool) {
		return c.titleContains(u, c.languagePack)
	}},
	{RuleDriver, "driver classification", func(c *Classifier, u wsus.UpdateRecord) (string, bool) {
		class := fold(u.Classification)
		for _, t := range c.drivers {
			if class == t.folded {
				return fmt.Sprintf("classification %q", u.Classification), true
			}
		}
		return "", false
	}},
}

// Rules returns the decline chain in evaluation order.
func Rules() []Rule {
	out := make([]Rule, len(rules))
	copy(out, rules)
	return out
}

type term struct {
	raw    string
	folded string
}

// Classifier applies the decline chain using one policy's vocabulary.
// It holds no mutable state.
type Classifier struct {
	policy       Policy
	prerelease   []term
	arm64        []term
	x86          []term
	obsolete     []term
	languagePack []term
	drivers      []term
}

// New prepares a classifier for p.
func New(p Policy) *Classifier {
	return &Classifier{
		policy:       p,
		prerelease:   compile(p.PrereleaseTerms),
		arm64:        compile(p.ARM64Terms),
		x86:          compile(p.X86Terms),
		obsolete:     compile(p.ObsoleteVersions),
		languagePack: compile(p.LanguagePackTerms),
		drivers:      compile(p.DriverClassifications),
	}
}

// Policy returns the vocabulary the classifier was built with.
func (c *Classifier) Policy() Policy {
	return c.policy
}

// Classify returns the decision for u. With declineAll every update that is
// not already declined is declined.
func (c *Classifier) Classify(u wsus.UpdateRecord, declineAll bool) Decision {
	if u.IsDeclined {
		return Decision{Rule: RuleAlreadyDeclined, Reason: "already declined"}
	}
	if declineAll {
		return Decision{Decline: true, Rule: RuleDeclineAll, Reason: "decline all"}
	}
	for _, r := range rules {
		if reason, ok := r.match(c, u); ok {
			return Decision{Decline: true, Rule: r.ID, Reason: reason}
		}
	}
	return Decision{Rule: RuleNone}
}

// Classify is a convenience for New(p).Classify(u, declineAll).
func Classify(u wsus.UpdateRecord, p Policy, declineAll bool) Decision {
	return New(p).Classify(u, declineAll)
}

func (c *Classifier) titleContains(u wsus.UpdateRecord, terms []term) (string, bool) {
	if len(terms) == 0 {
		return "", false
	}
	title := fold(u.Title)
	for _, t := range terms {
		if strings.Contains(title, t.folded) {
			return fmt.Sprintf("title contains %q", t.raw), true
		}
	}
	return "", false
}

func compile(raw []string) []term {
	out := make([]term, 0, len(raw))
	for _, s := range raw {
		if strings.TrimSpace(s) == "" {
			continue
		}
		out = append(out, term{raw: s, folded: fold(s)})
	}
	return out
}

// fold normalizes s for case-insensitive comparison. A Caser is stateful,
// so each call gets its own.
func fold(s string) string {
	return cases.Fold().String(norm.NFC.String(s))
}

// Terms returns the vocabulary rule id matches against, or nil for rules
// that test a flag.
func (c *Classifier) Terms(id RuleID) []string {
	switch id {
	case RulePrerelease:
		return c.policy.PrereleaseTerms
	case RuleARM64:
		return c.policy.ARM64Terms
	case RuleX86:
		return c.policy.X86Terms
	case RuleObsoleteVersion:
		return c.policy.ObsoleteVersions
	case RuleLanguagePack:
		return c.policy.LanguagePackTerms
	case RuleDriver:
		return c.policy.DriverClassifications
	}
	return nil
}
