// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package washer

import (
	"fmt"

	"github.com/Thermoquad/mielestat/pkg/mc14489"
)

// ObservationType classifies a register pattern the tables do not cover
type ObservationType int

const (
	OBSERVATION_UNKNOWN_PROGRESS ObservationType = iota
	OBSERVATION_UNKNOWN_CENTRIFUGE
)

// Observation describes a register pattern worth looking at when checking
// the bit layout against a capture. Observations are not errors.
type Observation struct {
	Type    ObservationType
	Message string
	Details map[string]interface{}
}

// Inspect lists the patterns in left and right that produce no label.
// Nothing is reported while the door is open or a fault is shown, since
// the phase is not decoded then.
func Inspect(left, right mc14489.Registers) []Observation {
	observations := []Observation{}

	if DecodeState(left) != Normal {
		return observations
	}

	if _, ok := ProgressLabel(left, right); !ok {
		code := Progress(right)
		observations = append(observations, Observation{
			Type:    OBSERVATION_UNKNOWN_PROGRESS,
			Message: fmt.Sprintf("Unclassified progress code 0x%02X", code),
			Details: map[string]interface{}{
				"progress": code,
				"display":  right.Display,
			},
		})
	}

	// Zero means no spin lamp is lit, which is normal
	if code := Centrifuge(right); code != 0 {
		if _, ok := CentrifugeLabel(right); !ok {
			observations = append(observations, Observation{
				Type:    OBSERVATION_UNKNOWN_CENTRIFUGE,
				Message: fmt.Sprintf("Unclassified centrifuge setting 0x%02X", code),
				Details: map[string]interface{}{
					"centrifuge": code,
					"display":    right.Display,
				},
			})
		}
	}

	return observations
}
