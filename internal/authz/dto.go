package authz

import "time"

type grantRequest struct {
	Permission string `json:"permission" validate:"required"`
	Reason     string `json:"reason,omitempty" validate:"max=500"`
}

type overrideChangeRequest struct {
	Permission string `json:"permission" validate:"required"`
	Granted    bool   `json:"granted"`
	Reason     string `json:"reason,omitempty" validate:"max=500"`
}

type setOverridesRequest struct {
	Overrides []overrideChangeRequest `json:"overrides" validate:"dive"`
}

type overrideResponse struct {
	Permission Permission `json:"permission"`
	Granted    bool       `json:"granted"`
	GrantedBy  int64      `json:"granted_by"`
	Reason     string     `json:"reason,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

func toOverrideResponses(overrides []Override) []overrideResponse {
	out := make([]overrideResponse, len(overrides))
	for i, ov := range overrides {
		out[i] = overrideResponse{
			Permission: ov.Permission,
			Granted:    ov.Granted,
			GrantedBy:  ov.GrantedBy,
			Reason:     ov.Reason,
			CreatedAt:  ov.CreatedAt,
			UpdatedAt:  ov.UpdatedAt,
		}
	}
	return out
}
