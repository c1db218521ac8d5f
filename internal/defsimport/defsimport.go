// Package defsimport loads trigger definitions from a YAML file and applies
// them through the definitions service.
//
// The file mirrors the JSON shapes of the HTTP API:
//
//	version: 1
//	triggers:
//	  - trigger: {id: disk, name: disk full}
//	    dampenings: [{triggerMode: FIRING, type: STRICT, evalTrueSetting: 2}]
//	    conditions: [{triggerMode: FIRING, type: THRESHOLD, dataId: disk, operator: GT, threshold: 90}]
//	groups:
//	  - trigger: {id: cpu, name: cpu high}
//	    conditions: [...]
//	    members:
//	      - {memberName: web-1, dataIdMap: {cpu: web-1.cpu}}
package defsimport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/linnemanlabs/go-core/log"
	"gopkg.in/yaml.v3"

	"github.com/linnemanlabs/beacon/internal/definitions"
)

// Version is the only supported file version.
const Version = 1

// File is a parsed definitions file.
type File struct {
	Triggers []*definitions.FullTrigger
	Groups   []Group
}

// Group is a group trigger with its template definitions and members.
type Group struct {
	Definition *definitions.FullTrigger
	Members    []definitions.MemberSpec
}

type fileYAML struct {
	Version  int         `yaml:"version"`
	Triggers []any       `yaml:"triggers"`
	Groups   []groupYAML `yaml:"groups"`
}

type groupYAML struct {
	Trigger    any `yaml:"trigger"`
	Dampenings any `yaml:"dampenings"`
	Conditions any `yaml:"conditions"`
	Members    any `yaml:"members"`
}

// Load reads and parses the file at path.
func Load(path string) (*File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

// Parse decodes a definitions file. YAML nodes are converted to JSON so the
// definitions types decode and normalize exactly as they do over HTTP.
func Parse(b []byte) (*File, error) {
	var raw fileYAML
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("decode definitions: %w", err)
	}
	if raw.Version != Version {
		return nil, fmt.Errorf("definitions: unsupported version %d", raw.Version)
	}

	f := &File{}
	for i, t := range raw.Triggers {
		var ft definitions.FullTrigger
		if err := convert(t, &ft); err != nil {
			return nil, fmt.Errorf("triggers[%d]: %w", i, err)
		}
		if ft.Trigger == nil {
			return nil, fmt.Errorf("triggers[%d]: trigger is required", i)
		}
		f.Triggers = append(f.Triggers, &ft)
	}

	for i, g := range raw.Groups {
		var ft definitions.FullTrigger
		body := map[string]any{
			"trigger":    g.Trigger,
			"dampenings": g.Dampenings,
			"conditions": g.Conditions,
		}
		if err := convert(body, &ft); err != nil {
			return nil, fmt.Errorf("groups[%d]: %w", i, err)
		}
		if ft.Trigger == nil {
			return nil, fmt.Errorf("groups[%d]: trigger is required", i)
		}
		ft.Trigger.Group = true

		var members []definitions.MemberSpec
		if g.Members != nil {
			if err := convert(g.Members, &members); err != nil {
				return nil, fmt.Errorf("groups[%d].members: %w", i, err)
			}
		}
		for j := range members {
			members[j].GroupID = ft.Trigger.ID
		}
		f.Groups = append(f.Groups, Group{Definition: &ft, Members: members})
	}
	return f, nil
}

func convert(in, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

// Service is the subset of the definitions service the importer uses.
type Service interface {
	CreateFullTrigger(ctx context.Context, tenantID string, ft *definitions.FullTrigger) (*definitions.FullTrigger, error)
	AddMemberTrigger(ctx context.Context, tenantID string, spec definitions.MemberSpec) (*definitions.Trigger, error)
}

// Result counts what Apply did.
type Result struct {
	Created int
	Skipped int
}

// Importer applies definitions files for one tenant.
type Importer struct {
	svc    Service
	logger log.Logger
}

// New creates an Importer.
func New(svc Service, logger log.Logger) *Importer {
	if logger == nil {
		logger = log.Nop()
	}
	return &Importer{svc: svc, logger: logger}
}

// Apply creates every trigger, group and member in f. Definitions that
// already exist are skipped; any other failure stops the import.
func (im *Importer) Apply(ctx context.Context, tenantID string, f *File) (Result, error) {
	var res Result

	for _, ft := range f.Triggers {
		if err := im.skipConflict(ctx, &res, "trigger", ft.Trigger.ID, func() error {
			_, err := im.svc.CreateFullTrigger(ctx, tenantID, ft)
			return err
		}); err != nil {
			return res, err
		}
	}

	for _, g := range f.Groups {
		groupID := g.Definition.Trigger.ID
		if err := im.skipConflict(ctx, &res, "group", groupID, func() error {
			created, err := im.svc.CreateFullTrigger(ctx, tenantID, g.Definition)
			if err == nil {
				groupID = created.Trigger.ID
			}
			return err
		}); err != nil {
			return res, err
		}

		for _, m := range g.Members {
			m.GroupID = groupID
			if err := im.skipConflict(ctx, &res, "member", m.MemberName, func() error {
				_, err := im.svc.AddMemberTrigger(ctx, tenantID, m)
				return err
			}); err != nil {
				return res, err
			}
		}
	}

	im.logger.Info(ctx, "definitions imported", "tenant", tenantID, "created", res.Created, "skipped", res.Skipped)
	return res, nil
}

func (im *Importer) skipConflict(ctx context.Context, res *Result, what, id string, create func() error) error {
	err := create()
	switch {
	case err == nil:
		res.Created++
		return nil
	case errors.Is(err, definitions.ErrConflict):
		res.Skipped++
		im.logger.Info(ctx, "definition already exists, skipping", "kind", what, "id", id)
		return nil
	default:
		return fmt.Errorf("import %s %q: %w", what, id, err)
	}
}

// ImportFile loads path and applies it for tenantID.
func ImportFile(ctx context.Context, svc Service, logger log.Logger, path, tenantID string) (Result, error) {
	f, err := Load(path)
	if err != nil {
		return Result{}, err
	}
	return New(svc, logger).Apply(ctx, tenantID, f)
}
