package compliance

// Framework represents a compliance or regulatory framework
type Framework struct {
	ID          string // Unique identifier (e.g., "iso27001", "pcidss")
	Name        string // Display name (e.g., "ISO/IEC 27001:2022")
	Description string
	Region      string
}

// SupportedFrameworks returns the frameworks findings can be mapped to.
func SupportedFrameworks() []Framework {
	return []Framework{
		{
			ID:          "iso27001",
			Name:        "ISO/IEC 27001:2022",
			Description: "Information Security Management System standard",
			Region:      "Global",
		},
		{
			ID:          "pcidss",
			Name:        "PCI DSS v4.0",
			Description: "Payment Card Industry Data Security Standard",
			Region:      "Global",
		},
		{
			ID:          "nist80053",
			Name:        "NIST SP 800-53 Rev. 5",
			Description: "Security and privacy controls for information systems",
			Region:      "United States",
		},
	}
}

// GetFramework returns a framework by ID
func GetFramework(id string) *Framework {
	for _, fw := range SupportedFrameworks() {
		if fw.ID == id {
			return &fw
		}
	}
	return nil
}
