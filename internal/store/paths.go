package store

import (
	"fmt"

	"myqueue/checkin-service/internal/models"
)

// Path schema, namespaced by calendar date (YYYY-MM-DD, local) and service
// type. Written to match the store layout the staff-facing system reads.

func CounterPath(date string, serviceType models.ServiceType) string {
	return fmt.Sprintf("queueCounters/%s/%s/lastIssued", date, serviceType)
}

func QueuePath(date string, serviceType models.ServiceType) string {
	return fmt.Sprintf("queues/%s/%s", date, serviceType)
}

func TicketPath(date string, serviceType models.ServiceType, key int) string {
	return fmt.Sprintf("queues/%s/%s/%d", date, serviceType, key)
}

func CurrentServingPath(date string, serviceType models.ServiceType) string {
	return fmt.Sprintf("currentQueue/%s/%s", date, serviceType)
}

func AppointmentPath(appointmentID string) string {
	return fmt.Sprintf("appointments/%s", appointmentID)
}

const AppointmentsPath = "appointments"
