package models

import (
	"errors"
	"fmt"
)

// ErrInvalid is returned when an entity or enumeration value fails validation.
var ErrInvalid = errors.New("invalid value")

func invalidf(format string, a ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, a...))
}

// Layer is one of the seven fixed thematic categories of the ecosystem.
type Layer string

const (
	LayerIdentity      Layer = "identity"
	LayerCommunication Layer = "communication"
	LayerInformation   Layer = "information"
	LayerIntelligence  Layer = "intelligence"
	LayerEconomy       Layer = "economy"
	LayerGovernance    Layer = "governance"
	LayerDocumentation Layer = "documentation"
)

// Layers lists every layer in canonical display order.
var Layers = []Layer{
	LayerIdentity,
	LayerCommunication,
	LayerInformation,
	LayerIntelligence,
	LayerEconomy,
	LayerGovernance,
	LayerDocumentation,
}

// LayerInfo is display metadata for a layer.
type LayerInfo struct {
	ID          Layer  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

var layerInfo = map[Layer]LayerInfo{
	LayerIdentity:      {LayerIdentity, "Identidad", "Identidad soberana, DIDs, membresías"},
	LayerCommunication: {LayerCommunication, "Comunicación", "Bots, Telegram-X, mensajería federada"},
	LayerInformation:   {LayerInformation, "Información", "Ingesta, RSSHub, buscadores"},
	LayerIntelligence:  {LayerIntelligence, "Inteligencia", "Isabella AI, BookPI, TAMVAI API, miniAIs"},
	LayerEconomy:       {LayerEconomy, "Economía", "Monetización, UTAMV, lotería, MSR blockchain"},
	LayerGovernance:    {LayerGovernance, "Gobernanza", "Protocolos, playbooks, reglas"},
	LayerDocumentation: {LayerDocumentation, "Documentación", "Whitepapers, manifiestos, BookPI"},
}

// Info returns the display metadata for the layer.
func (l Layer) Info() LayerInfo {
	if info, ok := layerInfo[l]; ok {
		return info
	}
	return LayerInfo{ID: l, Name: string(l)}
}

func (l Layer) Valid() bool {
	_, ok := layerInfo[l]
	return ok
}

// ParseLayer converts a raw string into a Layer, rejecting unknown values.
func ParseLayer(s string) (Layer, error) {
	l := Layer(s)
	if !l.Valid() {
		return "", invalidf("unknown layer %q", s)
	}
	return l, nil
}

// RepoStatus is the lifecycle status of a repository.
type RepoStatus string

const (
	RepoStatusActive      RepoStatus = "active"
	RepoStatusDevelopment RepoStatus = "development"
	RepoStatusPlanning    RepoStatus = "planning"
	RepoStatusPaused      RepoStatus = "paused"
)

var RepoStatuses = []RepoStatus{RepoStatusActive, RepoStatusDevelopment, RepoStatusPlanning, RepoStatusPaused}

func (s RepoStatus) Valid() bool {
	switch s {
	case RepoStatusActive, RepoStatusDevelopment, RepoStatusPlanning, RepoStatusPaused:
		return true
	}
	return false
}

func ParseRepoStatus(s string) (RepoStatus, error) {
	v := RepoStatus(s)
	if !v.Valid() {
		return "", invalidf("unknown repository status %q", s)
	}
	return v, nil
}

// TaskStatus represents the state of a task.
type TaskStatus string

const (
	TaskStatusTodo       TaskStatus = "todo"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusReview     TaskStatus = "review"
	TaskStatusDone       TaskStatus = "done"
)

// TaskStatuses lists task statuses in canonical display order.
var TaskStatuses = []TaskStatus{TaskStatusTodo, TaskStatusInProgress, TaskStatusReview, TaskStatusDone}

func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusTodo, TaskStatusInProgress, TaskStatusReview, TaskStatusDone:
		return true
	}
	return false
}

func ParseTaskStatus(s string) (TaskStatus, error) {
	v := TaskStatus(s)
	if !v.Valid() {
		return "", invalidf("unknown task status %q", s)
	}
	return v, nil
}

// TaskPriority represents the urgency of a task.
type TaskPriority string

const (
	TaskPriorityCritical TaskPriority = "critical"
	TaskPriorityHigh     TaskPriority = "high"
	TaskPriorityMedium   TaskPriority = "medium"
	TaskPriorityLow      TaskPriority = "low"
)

var TaskPriorities = []TaskPriority{TaskPriorityCritical, TaskPriorityHigh, TaskPriorityMedium, TaskPriorityLow}

// Rank orders priorities: critical sorts first. Unknown priorities sort last.
func (p TaskPriority) Rank() int {
	switch p {
	case TaskPriorityCritical:
		return 0
	case TaskPriorityHigh:
		return 1
	case TaskPriorityMedium:
		return 2
	case TaskPriorityLow:
		return 3
	default:
		return 4
	}
}

func (p TaskPriority) Valid() bool {
	return p.Rank() < 4
}

func ParseTaskPriority(s string) (TaskPriority, error) {
	v := TaskPriority(s)
	if !v.Valid() {
		return "", invalidf("unknown task priority %q", s)
	}
	return v, nil
}

// Environment is a deployment target.
type Environment string

const (
	EnvironmentStaging    Environment = "staging"
	EnvironmentProduction Environment = "production"
)

// Environments lists the deployment environments in table row order.
var Environments = []Environment{EnvironmentStaging, EnvironmentProduction}

func (e Environment) Valid() bool {
	return e == EnvironmentStaging || e == EnvironmentProduction
}

func ParseEnvironment(s string) (Environment, error) {
	v := Environment(s)
	if !v.Valid() {
		return "", invalidf("unknown environment %q", s)
	}
	return v, nil
}

// DeploymentStatus is the outcome of a deployment.
type DeploymentStatus string

const (
	DeploymentStatusSuccess DeploymentStatus = "success"
	DeploymentStatusPending DeploymentStatus = "pending"
	DeploymentStatusFailed  DeploymentStatus = "failed"
)

var DeploymentStatuses = []DeploymentStatus{DeploymentStatusSuccess, DeploymentStatusPending, DeploymentStatusFailed}

func (s DeploymentStatus) Valid() bool {
	switch s {
	case DeploymentStatusSuccess, DeploymentStatusPending, DeploymentStatusFailed:
		return true
	}
	return false
}

func ParseDeploymentStatus(s string) (DeploymentStatus, error) {
	v := DeploymentStatus(s)
	if !v.Valid() {
		return "", invalidf("unknown deployment status %q", s)
	}
	return v, nil
}
