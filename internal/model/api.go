package model

import "time"

// Request and response bodies of the delivery service HTTP API.
type (
	RegisterClientRequest struct {
		User     string `json:"user"`
		Domain   string `json:"domain,omitempty"`
		ClientID string `json:"client_id,omitempty"`
	}

	RegisterClientResponse struct {
		Handle MemberHandle `json:"handle"`
	}

	UploadKeyPackagesRequest struct {
		KeyPackages []string `json:"key_packages"`
	}

	KeyPackageCount struct {
		Count int `json:"count"`
	}

	ClaimedKeyPackages struct {
		KeyPackages []KeyPackage `json:"key_packages"`
	}

	MessageSendingStatus struct {
		Events []Event   `json:"events"`
		Time   time.Time `json:"time"`
	}
)
