package api

import "encoding/json"

type SetSettingRequest struct {
	// Value may be an explicit JSON null, which writes an "explicitly
	// blanked" override; RawValue keeps null and absent distinguishable.
	RawValue json.RawMessage `json:"value"`
	ActorID  string          `json:"actor_id,omitempty"`
}

type SetSettingResponse struct {
	Success    bool   `json:"success"`
	Identifier string `json:"identifier"`
	SettingKey string `json:"settingKey"`
	Value      any    `json:"value"`
}

type AssignBedRequest struct {
	PatientID string `json:"patient_id"`
	ActorID   string `json:"actor_id,omitempty"`
}

type ReleaseBedRequest struct {
	ActorID string `json:"actor_id,omitempty"`
}

type RunMitosisRequest struct {
	ActorID string `json:"actor_id,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
