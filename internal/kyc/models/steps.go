package models

import "strings"

// StepID names one unit of verification progress.
type StepID string

const (
	StepPersonalInfo StepID = "personal_info"
	StepBiometric    StepID = "biometric"

	documentStepPrefix = "document:"
)

// DocumentStep returns the step id for a document slot.
func DocumentStep(documentID string) StepID {
	return StepID(documentStepPrefix + documentID)
}

// DocumentIDFromStep reports the document id encoded in a document step.
func DocumentIDFromStep(step StepID) (string, bool) {
	return strings.CutPrefix(string(step), documentStepPrefix)
}

func containsStep(steps []StepID, step StepID) bool {
	for _, s := range steps {
		if s == step {
			return true
		}
	}
	return false
}

func removeStep(steps []StepID, step StepID) []StepID {
	out := steps[:0]
	for _, s := range steps {
		if s != step {
			out = append(out, s)
		}
	}
	return out
}
