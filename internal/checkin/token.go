package checkin

import (
	"strings"

	"myqueue/checkin-service/internal/models"
)

// ParseToken decodes a scanned venue code into a service type. Accepted
// forms are the bare type name or `TYPE=<name>`, case-insensitive.
func ParseToken(raw string) (models.ServiceType, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", ErrInvalidCheckInToken
	}
	upper := strings.ToUpper(value)
	if strings.HasPrefix(upper, "TYPE=") {
		value = strings.TrimSpace(value[len("TYPE="):])
	}
	serviceType, ok := models.ParseServiceType(value)
	if !ok {
		return "", ErrInvalidCheckInToken
	}
	return serviceType, nil
}
