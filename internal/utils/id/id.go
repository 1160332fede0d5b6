// Package id generates the identifiers used across the engine. All ids are
// prefixed UUIDs so log lines stay greppable by kind.
package id

import (
	"fmt"

	"github.com/google/uuid"
)

func NewPlanID() string {
	return fmt.Sprintf("plan_%s", uuid.NewString())
}

func NewRunID() string {
	return fmt.Sprintf("run_%s", uuid.NewString())
}

func NewStepID() string {
	return fmt.Sprintf("step_%s", uuid.NewString())
}

func NewCallID() string {
	return fmt.Sprintf("call_%s", uuid.NewString())
}

func NewAdaptationID() string {
	return fmt.Sprintf("adapt_%s", uuid.NewString())
}

func NewContingencyID() string {
	return fmt.Sprintf("cont_%s", uuid.NewString())
}
