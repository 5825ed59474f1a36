// Package preset stores named ensure_state parameter sets and activates them.
package preset

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/dokzlo13/lightctl/internal/control"
	"github.com/dokzlo13/lightctl/internal/ensure"
)

var (
	ErrPresetNotFound = errors.New("preset not found")
	ErrPresetExists   = errors.New("preset with this name already exists")
	ErrNoEntities     = errors.New("no entities provided")
)

// Status is the in-process activation state of a preset.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusActivating Status = "activating"
	StatusSuccess    Status = "success"
	StatusFailed     Status = "failed"
)

// Preset is a named, stored set of ensure_state parameters.
type Preset struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	control.Params
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

var (
	slugStrip    = regexp.MustCompile(`[^\w\s-]`)
	slugCollapse = regexp.MustCompile(`[\s-]+`)
)

// Slug returns a lowercase identifier derived from the name.
func Slug(name string) string {
	s := strings.ToLower(name)
	s = slugStrip.ReplaceAllString(s, "")
	return slugCollapse.ReplaceAllString(s, "_")
}

// Slug returns the preset's name slug.
func (p Preset) Slug() string {
	return Slug(p.Name)
}

// Validate checks the name and the stored parameters.
func (p Preset) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: name is required", control.ErrInvalidParams)
	}
	if p.State == "" {
		return fmt.Errorf("%w: state is required", control.ErrInvalidParams)
	}
	return p.Params.Validate()
}

// ActivationStatus is what the manager reports about a preset's last run.
type ActivationStatus struct {
	Status        Status                  `json:"status"`
	LastResult    *ensure.OperationResult `json:"last_result,omitempty"`
	LastActivated *time.Time              `json:"last_activated,omitempty"`
}

// Summary is the diagnostics view of a preset.
type Summary struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	EntityCount      int    `json:"entity_count"`
	State            string `json:"state"`
	HasTargets       bool   `json:"has_targets"`
	SkipVerification bool   `json:"skip_verification"`
	Status           Status `json:"status"`
}
