package models

import "strings"

type ServiceType string

const (
	ServiceGeneral     ServiceType = "general"
	ServiceDental      ServiceType = "dental"
	ServiceMaternal    ServiceType = "maternal"
	ServiceChild       ServiceType = "child"
	ServiceVaccination ServiceType = "vaccination"
	ServiceChronic     ServiceType = "chronic"
)

var prefixMap = map[ServiceType]string{
	ServiceGeneral:     "G",
	ServiceDental:      "D",
	ServiceMaternal:    "M",
	ServiceChild:       "C",
	ServiceVaccination: "V",
	ServiceChronic:     "K",
}

// aliasMap normalizes venue token spellings to canonical identifiers.
var aliasMap = map[string]ServiceType{
	"general":     ServiceGeneral,
	"dental":      ServiceDental,
	"maternal":    ServiceMaternal,
	"child":       ServiceChild,
	"vaccine":     ServiceVaccination,
	"vaccination": ServiceVaccination,
	"chronic":     ServiceChronic,
}

func (t ServiceType) Prefix() string {
	if prefix, ok := prefixMap[t]; ok {
		return prefix
	}
	return "Q"
}

func (t ServiceType) Valid() bool {
	_, ok := prefixMap[t]
	return ok
}

func ParseServiceType(name string) (ServiceType, bool) {
	serviceType, ok := aliasMap[strings.ToLower(strings.TrimSpace(name))]
	return serviceType, ok
}
