package registry

import "time"

// Policy mirrors the registry's record of an insurance policy. Fields are
// read-only here; the registry stays the system of record.
type Policy struct {
	ID                 string    `json:"id"`
	PolicyNumber       string    `json:"policyNumber"`
	CompanyCode        string    `json:"companyCode"`
	RegistrationNumber string    `json:"registrationNumber"`
	InsuredID          string    `json:"insuredId"`
	StartDate          time.Time `json:"startDate"`
	EndDate            time.Time `json:"endDate"`
}

// InsuredParty mirrors the registry's record of the insured person or company.
type InsuredParty struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address,omitempty"`
}

// PolicyData bundles what certificate creation needs from the registry.
type PolicyData struct {
	Policy  Policy
	Insured InsuredParty
}
