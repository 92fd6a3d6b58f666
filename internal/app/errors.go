package app

import (
	"fmt"
	"net/http"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func forbidden() *DomainError {
	return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
}

func validationFailed(err error) *DomainError {
	return domainError(http.StatusBadRequest, "VALIDATION_FAILED", err.Error(), err)
}

// entitlementDetails is the payload clients use to render an upgrade
// prompt.
type entitlementDetails struct {
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	TierLabel string `json:"tierLabel,omitempty"`
	CTAURL    string `json:"ctaUrl,omitempty"`
}

func entitlementRequired(tierLabel, ctaURL string) *DomainError {
	message := "Your plan does not include this export format."
	if tierLabel != "" {
		message = fmt.Sprintf("Upgrade to the %s tier to export documents.", tierLabel)
	}
	return domainError(http.StatusForbidden, "ENTITLEMENT_REQUIRED", message, entitlementDetails{
		Kind:      "entitlement",
		Message:   message,
		TierLabel: tierLabel,
		CTAURL:    ctaURL,
	})
}
