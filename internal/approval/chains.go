package approval

import (
	"fmt"
	"io"
	"slices"

	"gopkg.in/yaml.v3"

	apperrors "procurement.io/orchestrator/internal/pkg/errors"
)

// LevelTemplate configures one level of a chain.
type LevelTemplate struct {
	Name       string   `yaml:"name" mapstructure:"name"`
	ApproverID string   `yaml:"approver_id" mapstructure:"approver_id"`
	Overrides  []string `yaml:"overrides" mapstructure:"overrides"`
	// Optional levels without an approver are skipped at submission.
	Optional bool `yaml:"optional" mapstructure:"optional"`
}

// ChainTemplate is the ordered list of levels for one entity type.
type ChainTemplate struct {
	EntityType string          `yaml:"entity_type" mapstructure:"entity_type"`
	Levels     []LevelTemplate `yaml:"levels" mapstructure:"levels"`
}

// Validate checks that every required level has an approver.
func (c ChainTemplate) Validate() error {
	if c.EntityType == "" {
		return fmt.Errorf("approval chain: entity_type is required")
	}
	if len(c.Levels) == 0 {
		return fmt.Errorf("approval chain %s: at least one level is required", c.EntityType)
	}
	required := 0
	for i, l := range c.Levels {
		if !l.Optional {
			required++
			if l.ApproverID == "" {
				return fmt.Errorf("approval chain %s: level %d (%s) has no approver", c.EntityType, i+1, l.Name)
			}
		}
	}
	if required == 0 && len(c.materialize()) == 0 {
		return fmt.Errorf("approval chain %s: no level has an approver", c.EntityType)
	}
	return nil
}

func (c ChainTemplate) materialize() []*LevelDecision {
	var out []*LevelDecision
	for _, l := range c.Levels {
		if l.ApproverID == "" {
			continue
		}
		out = append(out, &LevelDecision{
			Order:              len(out) + 1,
			Name:               l.Name,
			ExpectedApproverID: l.ApproverID,
			Overrides:          slices.Clone(l.Overrides),
			Status:             DecisionPending,
		})
	}
	return out
}

// Chains maps entity types to chain templates. Built at startup and read
// only afterwards.
type Chains struct {
	byEntity map[string]ChainTemplate
}

// NewChains validates and indexes templates. Duplicate entity types are an
// error.
func NewChains(templates ...ChainTemplate) (*Chains, error) {
	c := &Chains{byEntity: make(map[string]ChainTemplate, len(templates))}
	for _, t := range templates {
		if err := t.Validate(); err != nil {
			return nil, err
		}
		if _, dup := c.byEntity[t.EntityType]; dup {
			return nil, fmt.Errorf("approval chain %s defined twice", t.EntityType)
		}
		c.byEntity[t.EntityType] = t
	}
	return c, nil
}

// For returns the template for entityType.
func (c *Chains) For(entityType string) (ChainTemplate, error) {
	t, ok := c.byEntity[entityType]
	if !ok {
		return ChainTemplate{}, apperrors.NotFound("approval_chain", entityType)
	}
	return t, nil
}

// EntityTypes returns the configured entity types, sorted.
func (c *Chains) EntityTypes() []string {
	out := make([]string, 0, len(c.byEntity))
	for k := range c.byEntity {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

type chainsFile struct {
	Chains []ChainTemplate `yaml:"chains"`
}

// LoadChains parses a YAML document of the form
//
//	chains:
//	  - entity_type: quotation
//	    levels:
//	      - name: team lead
//	        approver_id: userA
//	        overrides: [userX]
func LoadChains(r io.Reader) ([]ChainTemplate, error) {
	var f chainsFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("parse approval chains: %w", err)
	}
	return f.Chains, nil
}
