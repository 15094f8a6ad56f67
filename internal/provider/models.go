package provider

// Wire types for the attestation provider. Field names follow the provider's
// own vocabulary and must not be renamed.

// OperationCode selects the status mutation the provider applies.
type OperationCode string

const (
	OperationCancel  OperationCode = "109"
	OperationSuspend OperationCode = "120"
)

// AttestationRequest asks the provider to generate a certificate.
type AttestationRequest struct {
	RequesterCode      string `json:"code_demandeur"`
	Reference          string `json:"reference_demande"`
	PolicyNumber       string `json:"numero_police"`
	RegistrationNumber string `json:"immatriculation"`
	CompanyCode        string `json:"code_compagnie"`
	AgentCode          string `json:"code_intermediaire,omitempty"`
	InsuredName        string `json:"nom_assure"`
	InsuredEmail       string `json:"email_assure,omitempty"`
	InsuredPhone       string `json:"telephone_assure,omitempty"`
	PolicyStart        string `json:"date_effet"`
	PolicyEnd          string `json:"date_echeance"`
}

// AttestationResponse reports the provider's own success flag alongside its
// identifiers. A response can arrive without transport error and still carry
// a provider-reported failure.
type AttestationResponse struct {
	Success           bool   `json:"succes"`
	RequestNumber     string `json:"numero_demande"`
	CertificateNumber string `json:"numero_attestation"`
	Message           string `json:"message,omitempty"`
}

// StatusRequest queries the authoritative status of a request.
type StatusRequest struct {
	RequesterCode string `json:"code_demandeur"`
	Reference     string `json:"reference_demande"`
}

// StatusResponse carries the provider's integer status code; translation to
// local vocabulary happens in the certificate package.
type StatusResponse struct {
	StatusCode        int    `json:"statut"`
	CertificateNumber string `json:"numero_attestation,omitempty"`
	Message           string `json:"message,omitempty"`
}

// UpdateStatusRequest cancels or suspends issued certificates.
type UpdateStatusRequest struct {
	RequesterCode      string        `json:"code_demandeur"`
	CertificateNumbers []string      `json:"numero_attestation"`
	Operation          OperationCode `json:"code_operation"`
}

// UpdateStatusResponse acknowledges a status mutation.
type UpdateStatusResponse struct {
	Success bool   `json:"succes"`
	Message string `json:"message,omitempty"`
}

// DownloadLink is one fetchable artifact variant.
type DownloadLink struct {
	URL  string `json:"url"`
	Type string `json:"type"` // "PDF" | "IMAGE" | "QRCODE"
}

// downloadResponse wraps the provider's link list.
type downloadResponse struct {
	Links []DownloadLink `json:"liens"`
}
