package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/s35241607/ticket-system/internal/domain"
	"github.com/s35241607/ticket-system/internal/repository/postgres"
	"github.com/s35241607/ticket-system/internal/usecase"
)

// seedSchema constrains the shape of a seed file. Semantic checks (criteria
// operators, step ordering) are left to the engine.
const seedSchema = `{
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "users": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "display_name"],
        "properties": {
          "id": {"type": "string", "format": "uuid"},
          "display_name": {"type": "string", "minLength": 1},
          "email": {"type": "string"},
          "department_id": {"type": "string", "format": "uuid"},
          "manager_id": {"type": "string", "format": "uuid"},
          "roles": {"type": "array", "items": {"type": "string"}},
          "active": {"type": "boolean"}
        }
      }
    },
    "documents": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "title", "creator_id"],
        "properties": {
          "id": {"type": "string", "format": "uuid"},
          "title": {"type": "string", "minLength": 1},
          "category_id": {"type": "string", "format": "uuid"},
          "tags": {"type": "array", "items": {"type": "string", "format": "uuid"}},
          "creator_id": {"type": "string", "format": "uuid"}
        }
      }
    },
    "workflows": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "description", "steps"],
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "description": {"type": "string", "minLength": 1},
          "category": {"type": "object"},
          "tags": {"type": "object"},
          "creator": {"type": "object"},
          "steps": {
            "type": "array",
            "minItems": 1,
            "items": {
              "type": "object",
              "required": ["name", "description", "order", "approver_type", "approver_criteria"],
              "properties": {
                "name": {"type": "string", "minLength": 1},
                "description": {"type": "string", "minLength": 1},
                "order": {"type": "integer", "minimum": 1},
                "approver_type": {"enum": ["individual", "role", "department", "creator_manager"]},
                "approver_criteria": {"type": "object"},
                "parallel": {"type": "boolean"},
                "timeout_hours": {"type": "integer", "minimum": 1},
                "auto_approve_on_timeout": {"type": "boolean"}
              }
            }
          }
        }
      }
    }
  }
}`

// seedFile is the decoded form of a seed YAML file.
type seedFile struct {
	Users     []seedUser     `yaml:"users"`
	Documents []seedDocument `yaml:"documents"`
	Workflows []seedWorkflow `yaml:"workflows"`
}

type seedUser struct {
	ID           uuid.UUID  `yaml:"id"`
	DisplayName  string     `yaml:"display_name"`
	Email        string     `yaml:"email"`
	DepartmentID *uuid.UUID `yaml:"department_id"`
	ManagerID    *uuid.UUID `yaml:"manager_id"`
	Roles        []string   `yaml:"roles"`
	Active       *bool      `yaml:"active"`
}

type seedDocument struct {
	ID         uuid.UUID   `yaml:"id"`
	Title      string      `yaml:"title"`
	CategoryID uuid.UUID   `yaml:"category_id"`
	Tags       []uuid.UUID `yaml:"tags"`
	CreatorID  uuid.UUID   `yaml:"creator_id"`
}

type seedWorkflow struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Category    map[string]any `yaml:"category"`
	Tags        map[string]any `yaml:"tags"`
	Creator     map[string]any `yaml:"creator"`
	Steps       []seedStep     `yaml:"steps"`
}

type seedStep struct {
	Name                 string         `yaml:"name"`
	Description          string         `yaml:"description"`
	Order                int            `yaml:"order"`
	ApproverType         string         `yaml:"approver_type"`
	ApproverCriteria     map[string]any `yaml:"approver_criteria"`
	Parallel             bool           `yaml:"parallel"`
	TimeoutHours         *int           `yaml:"timeout_hours"`
	AutoApproveOnTimeout bool           `yaml:"auto_approve_on_timeout"`
}

// parseSeedFile validates raw against the seed schema and decodes it.
func parseSeedFile(raw []byte) (*seedFile, error) {
	var generic map[string]any
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if generic == nil {
		generic = map[string]any{}
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(seedSchema),
		gojsonschema.NewGoLoader(generic),
	)
	if err != nil {
		return nil, fmt.Errorf("validate seed file: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		return nil, fmt.Errorf("invalid seed file: %s", strings.Join(msgs, "; "))
	}

	var file seedFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("decode seed file: %w", err)
	}
	return &file, nil
}

func (u seedUser) directoryUser() postgres.DirectoryUser {
	active := true
	if u.Active != nil {
		active = *u.Active
	}
	return postgres.DirectoryUser{
		ID:           u.ID,
		DisplayName:  u.DisplayName,
		Email:        u.Email,
		DepartmentID: u.DepartmentID,
		ManagerID:    u.ManagerID,
		Roles:        u.Roles,
		Active:       active,
	}
}

func (d seedDocument) view() domain.DocumentView {
	return domain.DocumentView{
		ID:         d.ID,
		CategoryID: d.CategoryID,
		Tags:       d.Tags,
		CreatorID:  d.CreatorID,
	}
}

func (w seedWorkflow) command(actor uuid.UUID) (usecase.CreateWorkflowCommand, error) {
	cmd := usecase.CreateWorkflowCommand{
		Name:        w.Name,
		Description: w.Description,
		CreatedBy:   actor,
	}
	var err error
	if cmd.Category, err = toCriteria(w.Category); err != nil {
		return cmd, fmt.Errorf("workflow %q category: %w", w.Name, err)
	}
	if cmd.Tags, err = toCriteria(w.Tags); err != nil {
		return cmd, fmt.Errorf("workflow %q tags: %w", w.Name, err)
	}
	if cmd.Creator, err = toCriteria(w.Creator); err != nil {
		return cmd, fmt.Errorf("workflow %q creator: %w", w.Name, err)
	}
	for _, s := range w.Steps {
		criteria, err := toCriteria(s.ApproverCriteria)
		if err != nil {
			return cmd, fmt.Errorf("workflow %q step %q: %w", w.Name, s.Name, err)
		}
		cmd.Steps = append(cmd.Steps, usecase.StepSpec{
			Name:                 s.Name,
			Description:          s.Description,
			Order:                s.Order,
			ApproverType:         domain.ApproverType(s.ApproverType),
			ApproverCriteria:     criteria,
			IsParallel:           s.Parallel,
			TimeoutHours:         s.TimeoutHours,
			AutoApproveOnTimeout: s.AutoApproveOnTimeout,
		})
	}
	return cmd, nil
}

// toCriteria normalizes YAML values to the JSON shapes stored criteria have.
func toCriteria(m map[string]any) (domain.Criteria, error) {
	if len(m) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var c domain.Criteria
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, err
	}
	return c, nil
}
